package vm

import (
	"github.com/retrobasic/basic64k/internal/lang"
	"github.com/retrobasic/basic64k/internal/value"
)

// Codegen compiles parsed lines into a single growing Linkable. The AST
// has direct parent/child pointers, so the walk is plain recursive
// functions emitting straight into the shared Linkable; no
// per-expression fragment merge is needed, and Program splices the
// direct-mode line by truncating and regrowing the same Linkable
// instead of appending a second one. WHILE/WEND pair up lexically in
// source order via whileStack, independent of the FOR stack.
type Codegen struct {
	link       *Linkable
	whileStack []whileFrame
	errs       []*lang.Error
}

type whileFrame struct {
	topSym  int // loop-condition re-check point
	doneSym int // marked by the matching WEND
	line    uint16
	col     int
}

func NewCodegen(link *Linkable) *Codegen {
	return &Codegen{link: link}
}

// Errors returns every error raised since construction, including an
// unclosed WHILE left on the stack at end of compilation.
func (cg *Codegen) Errors() []*lang.Error {
	return cg.errs
}

// FinishProgram reports WHILE WITHOUT WEND for any loops still open after a
// full program compile; call once after the last CompileLine.
func (cg *Codegen) FinishProgram() {
	for _, w := range cg.whileStack {
		cg.errs = append(cg.errs, lang.NewError(lang.WhileWithoutWend).InLine(w.line).AtColumn(w.col))
	}
	cg.whileStack = nil
}

func (cg *Codegen) errorAt(code lang.ErrorCode, line uint16, col int) {
	cg.errs = append(cg.errs, lang.NewError(code).InLine(line).AtColumn(col))
}

// CompileLine appends one parsed line's statements to the shared
// Linkable. Parse errors recorded on the line are copied through
// unchanged; line.Number == nil means a direct-mode (immediate)
// statement, which Program is responsible for truncating back to before
// compiling.
func (cg *Codegen) CompileLine(line *lang.ParsedLine) {
	cg.errs = append(cg.errs, line.Errors...)
	var lineNo uint16
	if line.Number != nil {
		lineNo = *line.Number
		cg.link.MarkSymbol(int(lineNo))
	}
	for i := range line.Statements {
		cg.genStmt(&line.Statements[i], lineNo)
	}
}

var binOpCode = map[lang.BinOp]Code{
	lang.OpAdd: OpAdd, lang.OpSub: OpSub, lang.OpMul: OpMul, lang.OpDiv: OpDiv,
	lang.OpDivInt: OpDivInt, lang.OpMod: OpMod, lang.OpPow: OpPow,
	lang.OpEq: OpEq, lang.OpNe: OpNe, lang.OpLt: OpLt, lang.OpLe: OpLe,
	lang.OpGt: OpGt, lang.OpGe: OpGe,
	lang.OpAnd: OpAnd, lang.OpOr: OpOr, lang.OpXor: OpXor, lang.OpImp: OpImp, lang.OpEqv: OpEqv,
}

// storageKey builds the variable's storage-map key: sigiled variables
// (A$, A%, A!, A#) get a distinct slot per sigil, since in classic BASIC
// those are four independent variables sharing only a spelling; a bare
// name (no sigil) is a single slot whose type floats with the DEF table,
// per vars.Store.SetDefaultType.
func storageKey(ident lang.Ident) string {
	if !ident.HasSigil {
		return ident.Name
	}
	switch ident.Kind {
	case value.String:
		return ident.Name + "$"
	case value.Single:
		return ident.Name + "!"
	case value.Double:
		return ident.Name + "#"
	case value.Integer:
		return ident.Name + "%"
	}
	return ident.Name
}

// checkReserved implements the built-in/variable collision rule: in
// non-strict contexts a reference whose call shape (parenthesized or
// not) doesn't match the built-in's own arity convention is allowed
// through as an ordinary array or scalar of the same spelling. Strict
// contexts (DIM, assignment) reject any coincidence outright.
func checkReserved(name string, hasParen bool, strict bool) *lang.Error {
	spec, ok := Builtins[name]
	if !ok {
		return nil
	}
	if !strict {
		zeroArity := spec.Min == 0 && spec.Max == 0
		if zeroArity && hasParen {
			return nil
		}
		if !zeroArity && !hasParen {
			return nil
		}
	}
	return lang.NewError(lang.SyntaxError).WithExtra("RESERVED FOR BUILT-IN")
}

// --- expressions ---

func (cg *Codegen) genExpr(e *lang.Expression, line uint16) {
	switch e.Kind {
	case lang.ExprIntegerLit, lang.ExprSingleLit, lang.ExprDoubleLit, lang.ExprStringLit:
		cg.link.Push(Instruction{Code: OpLit, Val: e.Lit, Line: line, Col: e.Col.Start})
	case lang.ExprVariable:
		cg.genVariableRead(e.Var, line)
	case lang.ExprUnary:
		cg.genExpr(e.Sub, line)
		op := OpNeg
		if e.UnOp == lang.OpNot {
			op = OpNot
		}
		cg.link.Push(Instruction{Code: op, Line: line, Col: e.Col.Start})
	case lang.ExprBinary:
		cg.genExpr(e.Left, line)
		cg.genExpr(e.Right, line)
		cg.link.Push(Instruction{Code: binOpCode[e.BinOp], Line: line, Col: e.Col.Start})
	case lang.ExprCall:
		cg.genCall(e, line)
	}
}

func (cg *Codegen) genVariableRead(v *lang.Variable, line uint16) {
	// A bare reference to a zero-arg-capable built-in (DATE$, RND, POS)
	// is a call, not a variable fetch.
	if v.Indices == nil {
		if spec, ok := Builtins[v.Ident.Name]; ok && spec.Min == 0 {
			cg.link.Push(Instruction{Code: OpBuiltin, Name: v.Ident.Name, Line: line, Col: v.Col.Start})
			return
		}
	}
	if err := checkReserved(v.Ident.Name, v.Indices != nil, false); err != nil {
		err.InLine(line).AtColumn(v.Col.Start)
		cg.errs = append(cg.errs, err)
		return
	}
	if v.Indices == nil {
		cg.link.Push(Instruction{
			Code: OpPush, Name: storageKey(v.Ident),
			Kind: v.Ident.Kind, HasSigil: v.Ident.HasSigil,
			Line: line, Col: v.Col.Start,
		})
		return
	}
	for i := range v.Indices {
		cg.genExpr(&v.Indices[i], line)
	}
	cg.link.Push(Instruction{
		Code: OpPushArr, Name: storageKey(v.Ident),
		Kind: v.Ident.Kind, HasSigil: v.Ident.HasSigil, Count: len(v.Indices),
		Line: line, Col: v.Col.Start,
	})
}

// genVariableWrite rejects any built-in name outright: assignment to a
// reserved name is a SyntaxError regardless of call shape.
func (cg *Codegen) genVariableWrite(v *lang.Variable, line uint16) {
	if err := checkReserved(v.Ident.Name, v.Indices != nil, true); err != nil {
		err.InLine(line).AtColumn(v.Col.Start)
		cg.errs = append(cg.errs, err)
		return
	}
	if v.Indices == nil {
		cg.link.Push(Instruction{
			Code: OpPop, Name: storageKey(v.Ident),
			Kind: v.Ident.Kind, HasSigil: v.Ident.HasSigil,
			Line: line, Col: v.Col.Start,
		})
		return
	}
	for i := range v.Indices {
		cg.genExpr(&v.Indices[i], line)
	}
	cg.link.Push(Instruction{
		Code: OpPopArr, Name: storageKey(v.Ident),
		Kind: v.Ident.Kind, HasSigil: v.Ident.HasSigil, Count: len(v.Indices),
		Line: line, Col: v.Col.Start,
	})
}

// genCall disambiguates a parenthesized identifier between a built-in
// call, a user DEF FN call, and an array reference — codegen, not the
// parser, resolves this, since only the built-in table can tell them
// apart.
func (cg *Codegen) genCall(e *lang.Expression, line uint16) {
	for i := range e.Args {
		cg.genExpr(&e.Args[i], line)
	}
	if spec, ok := Builtins[e.Callee]; ok {
		n := len(e.Args)
		if n < spec.Min || n > spec.Max {
			cg.errorAt(lang.IllegalFunctionCall, line, e.Col.Start)
			return
		}
		cg.link.Push(Instruction{Code: OpBuiltin, Name: e.Callee, Count: n, Line: line, Col: e.Col.Start})
		return
	}
	if len(e.Callee) >= 2 && e.Callee[:2] == "FN" {
		cg.link.Push(Instruction{Code: OpCallFn, Name: e.Callee, Count: len(e.Args), Line: line, Col: e.Col.Start})
		return
	}
	cg.link.Push(Instruction{
		Code: OpPushArr, Name: storageKey(lang.Ident{Name: e.Callee, Kind: e.CalleeKind, HasSigil: e.CalleeHasSigil}),
		Kind: e.CalleeKind, HasSigil: e.CalleeHasSigil, Count: len(e.Args),
		Line: line, Col: e.Col.Start,
	})
}

// --- statements ---

func (cg *Codegen) genStmt(s *lang.Statement, line uint16) {
	col := s.Col.Start
	switch s.Kind {
	case lang.StmtLet:
		cg.genExpr(s.Value, line)
		cg.genVariableWrite(s.Target, line)
	case lang.StmtPrint:
		cg.genPrint(s, line)
	case lang.StmtIf:
		cg.genIf(s, line)
	case lang.StmtFor:
		cg.genFor(s, line)
	case lang.StmtNext:
		cg.genNext(s, line)
	case lang.StmtGosub:
		cg.genGosub(s, line)
	case lang.StmtReturn:
		cg.link.Push(Instruction{Code: OpReturn, Line: line, Col: col})
	case lang.StmtGoto:
		cg.link.PushGoto(s.Target1, line, col)
	case lang.StmtOnGoto:
		cg.genOn(s, line, false)
	case lang.StmtOnGosub:
		cg.genOn(s, line, true)
	case lang.StmtInput:
		cg.genInput(s, line)
	case lang.StmtRead:
		// One OpReadStmt per target: it pushes the next DATA value, then
		// the ordinary variable-write sequence pops it into place.
		for i := range s.ReadVars {
			cg.link.Push(Instruction{Code: OpReadStmt, Line: line, Col: s.ReadVars[i].Col.Start})
			cg.genVariableWrite(&s.ReadVars[i], line)
		}
	case lang.StmtData:
		for _, item := range s.DataItems {
			cg.link.Push(Instruction{Code: OpDataMark, Val: item, Line: line, Col: col})
		}
	case lang.StmtDim:
		cg.genDimOrErase(s, line, OpDimStmt, true)
	case lang.StmtErase:
		cg.genDimOrErase(s, line, OpEraseStmt, false)
	case lang.StmtDefFn:
		cg.genDefFn(s, line)
	case lang.StmtDefType:
		cg.link.Push(Instruction{
			Code: defTypeCode(s.TypeKind), Name: string([]byte{s.FromLetter, s.ToLetter}),
			Line: line, Col: col,
		})
	case lang.StmtClear:
		cg.link.Push(Instruction{Code: OpClear, Line: line, Col: col})
	case lang.StmtCls:
		cg.link.Push(Instruction{Code: OpCls, Line: line, Col: col})
	case lang.StmtCont:
		cg.link.Push(Instruction{Code: OpCont, Line: line, Col: col})
	case lang.StmtEnd:
		cg.link.Push(Instruction{Code: OpEnd, Line: line, Col: col})
	case lang.StmtStop:
		cg.link.Push(Instruction{Code: OpStop, Line: line, Col: col})
	case lang.StmtNew:
		cg.link.Push(Instruction{Code: OpNewStmt, Line: line, Col: col})
	case lang.StmtRun:
		cg.genRun(s, line)
	case lang.StmtList:
		from, to := lineRangeOperands(s)
		cg.link.Push(Instruction{Code: OpListStmt, Addr: from, Count: to, Line: line, Col: col})
	case lang.StmtDelete:
		from, to := lineRangeOperands(s)
		cg.link.Push(Instruction{Code: OpDeleteStmt, Addr: from, Count: to, Line: line, Col: col})
	case lang.StmtLoad:
		cg.link.Push(Instruction{Code: OpLoadStmt, Val: value.NewString(s.Filename), Line: line, Col: col})
	case lang.StmtSave:
		cg.link.Push(Instruction{Code: OpSaveStmt, Val: value.NewString(s.Filename), Line: line, Col: col})
	case lang.StmtRenum:
		cg.link.Push(Instruction{
			Code: OpRenum,
			Val:  value.NewInteger(int16(s.NewStart)),
			Addr: int(s.OldStart), Count: int(s.RenumStep),
			Line: line, Col: col,
		})
	case lang.StmtRestore:
		cg.link.Push(Instruction{Code: OpRestore, Addr: int(s.Target1), Count: boolToInt(s.HasLine), Line: line, Col: col})
	case lang.StmtSwap:
		cg.genSwap(s, line)
	case lang.StmtMidAssign:
		cg.genMidAssign(s, line)
	case lang.StmtTron:
		cg.link.Push(Instruction{Code: OpTron, Line: line, Col: col})
	case lang.StmtTroff:
		cg.link.Push(Instruction{Code: OpTroff, Line: line, Col: col})
	case lang.StmtWhile:
		cg.genWhile(s, line)
	case lang.StmtWend:
		cg.genWend(s, line)
	case lang.StmtRem:
		// no code generated
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// lineRangeOperands encodes LIST/DELETE's optional range as an inclusive
// [from,to] pair: no argument means the whole listing, a single line
// number means just that line.
func lineRangeOperands(s *lang.Statement) (int, int) {
	if !s.HasLine {
		return 0, 65529
	}
	if s.HasTarget2 {
		return int(s.Target1), int(s.Target2)
	}
	return int(s.Target1), int(s.Target1)
}

func defTypeCode(k value.Kind) Code {
	switch k {
	case value.Integer:
		return OpDefint
	case value.Single:
		return OpDefsng
	case value.Double:
		return OpDefdbl
	case value.String:
		return OpDefstr
	}
	return OpDefsng
}

func (cg *Codegen) genPrint(s *lang.Statement, line uint16) {
	for _, item := range s.Items {
		e := item.Expr
		cg.genExpr(&e, line)
		switch item.Sep {
		case lang.SepComma:
			cg.link.Push(Instruction{Code: OpTab, Line: line, Col: e.Col.Start})
		default:
			cg.link.Push(Instruction{Code: OpPrint, Line: line, Col: e.Col.Start})
		}
	}
	if len(s.Items) == 0 || s.Items[len(s.Items)-1].Sep == lang.SepNone {
		cg.link.Push(Instruction{Code: OpNewline, Line: line, Col: s.Col.Start})
	}
}

// genIf emits
// cond; IfNot(else); then...; [Jump(finish); else:; else...]; finish:
func (cg *Codegen) genIf(s *lang.Statement, line uint16) {
	cg.genExpr(s.Cond, line)
	elseSym := cg.link.NextSymbol()
	cg.link.PushIfNot(elseSym, line, s.Cond.Col.Start)
	for i := range s.Then {
		cg.genStmt(&s.Then[i], line)
	}
	if len(s.Else) > 0 {
		finishSym := cg.link.NextSymbol()
		cg.link.PushJump(finishSym, line, s.Col.Start)
		cg.link.MarkSymbol(elseSym)
		for i := range s.Else {
			cg.genStmt(&s.Else[i], line)
		}
		cg.link.MarkSymbol(finishSym)
	} else {
		cg.link.MarkSymbol(elseSym)
	}
}

// genFor lays the stack frame out bottom-to-top as [to, step, Next]:
// NEXT pops the marker, then reads the step and to values beneath it.
// The marker's symbol resolves to the address right after the marker
// push — the loop body's first instruction.
func (cg *Codegen) genFor(s *lang.Statement, line uint16) {
	cg.genExpr(s.From, line)
	cg.link.Push(Instruction{Code: OpPop, Name: storageKey(s.Loop), Kind: s.Loop.Kind, HasSigil: s.Loop.HasSigil, Line: line, Col: s.Col.Start})
	cg.genExpr(s.To, line)
	if s.Step != nil {
		cg.genExpr(s.Step, line)
	} else {
		cg.link.Push(Instruction{Code: OpLit, Val: value.NewInteger(1), Line: line, Col: s.Col.Start})
	}
	sym := cg.link.NextSymbol()
	cg.link.PushNextMarker(sym, storageKey(s.Loop), line, s.Col.Start)
	cg.link.MarkSymbol(sym)
}

func (cg *Codegen) genNext(s *lang.Statement, line uint16) {
	if len(s.Vars) == 0 {
		cg.link.Push(Instruction{Code: OpNext, Line: line, Col: s.Col.Start})
		return
	}
	for _, v := range s.Vars {
		cg.link.Push(Instruction{Code: OpNext, Name: storageKey(v), Line: line, Col: s.Col.Start})
	}
}

// genGosub pushes a Return(addr) marker resolved to the instruction
// right after the jump, then jumps to the subroutine's line.
func (cg *Codegen) genGosub(s *lang.Statement, line uint16) {
	sym := cg.link.NextSymbol()
	cg.link.PushReturnMarker(sym, line, s.Col.Start)
	cg.link.PushGoto(s.Target1, line, s.Col.Start)
	cg.link.MarkSymbol(sym)
}

// genOn compiles ON x GOTO/GOSUB l1,l2,... as a count literal, the
// selector, the On opcode, then one Jump per target: On skips into the
// jump table (or past it entirely when the selector is 0 or too large).
// For GOSUB a single Return marker precedes the whole construct and its
// symbol lands just past the table.
func (cg *Codegen) genOn(s *lang.Statement, line uint16, gosub bool) {
	retSym := 0
	if gosub {
		retSym = cg.link.NextSymbol()
		cg.link.PushReturnMarker(retSym, line, s.Col.Start)
	}
	cg.link.Push(Instruction{Code: OpLit, Val: value.NewInteger(int16(len(s.Targets))), Line: line, Col: s.Col.Start})
	cg.genExpr(s.Selector, line)
	cg.link.Push(Instruction{Code: OpOn, Line: line, Col: s.Col.Start})
	for _, target := range s.Targets {
		cg.link.PushGoto(target, line, s.Col.Start)
	}
	if gosub {
		cg.link.MarkSymbol(retSym)
	}
}

// genInput emits an OpInputBegin carrying the prompt literal and CAPS
// flag directly as operands (not stack values, since nothing should sit
// beneath the per-variable index expressions pushed next), then one
// self-describing OpInput per target variable (array targets push their
// index expressions first, Count-tagged same as OpPopArr), closed by an
// OpInputEnd the runtime uses to detect unconsumed trailing fields.
func (cg *Codegen) genInput(s *lang.Statement, line uint16) {
	capsCount := 0
	if s.CapsFlag {
		capsCount = 1
	}
	cg.link.Push(Instruction{Code: OpInputBegin, Val: value.NewString(s.Prompt), Count: capsCount, Line: line, Col: s.Col.Start})
	for i := range s.InputVars {
		v := &s.InputVars[i]
		for j := range v.Indices {
			cg.genExpr(&v.Indices[j], line)
		}
		cg.link.Push(Instruction{
			Code: OpInput, Name: storageKey(v.Ident),
			Kind: v.Ident.Kind, HasSigil: v.Ident.HasSigil, Count: len(v.Indices),
			Line: line, Col: v.Col.Start,
		})
	}
	cg.link.Push(Instruction{Code: OpInputEnd, Line: line, Col: s.Col.Start})
}

func (cg *Codegen) genDimOrErase(s *lang.Statement, line uint16, op Code, strict bool) {
	for i := range s.DimVars {
		v := &s.DimVars[i]
		if err := checkReserved(v.Ident.Name, true, strict); err != nil {
			err.InLine(line).AtColumn(v.Col.Start)
			cg.errs = append(cg.errs, err)
			continue
		}
		for j := range v.Indices {
			cg.genExpr(&v.Indices[j], line)
		}
		cg.link.Push(Instruction{
			Code: op, Name: storageKey(v.Ident),
			Kind: v.Ident.Kind, HasSigil: v.Ident.HasSigil, Count: len(v.Indices),
			Line: line, Col: v.Col.Start,
		})
	}
}

// genDefFn emits the Def pseudo-op first so executing the DEF line
// registers the function, then a guard jump over the body: the body only
// runs when OpCallFn jumps into it. Parameters pop in reverse, since the
// last argument sits on top of the stack at call time.
func (cg *Codegen) genDefFn(s *lang.Statement, line uint16) {
	cg.link.Push(Instruction{Code: OpDef, Name: s.FnName, Count: len(s.FnParams), Line: line, Col: s.Col.Start})
	skipSym := cg.link.NextSymbol()
	cg.link.PushJump(skipSym, line, s.Col.Start)
	for i := len(s.FnParams) - 1; i >= 0; i-- {
		p := s.FnParams[i]
		cg.link.Push(Instruction{Code: OpPop, Name: storageKey(p), Kind: p.Kind, HasSigil: p.HasSigil, Line: line, Col: s.Col.Start})
	}
	cg.genExpr(s.FnBody, line)
	cg.link.Push(Instruction{Code: OpReturn, Line: line, Col: s.Col.Start})
	cg.link.MarkSymbol(skipSym)
}

func (cg *Codegen) genRun(s *lang.Statement, line uint16) {
	if s.HasFilename {
		cg.link.Push(Instruction{Code: OpLoadRun, Val: value.NewString(s.Filename), Line: line, Col: s.Col.Start})
		return
	}
	if s.HasLine {
		cg.link.Push(Instruction{Code: OpRunLine, Addr: int(s.Line), Count: 1, Line: line, Col: s.Col.Start})
		return
	}
	cg.link.Push(Instruction{Code: OpRunLine, Count: 0, Line: line, Col: s.Col.Start})
}

// genSwap needs no dedicated opcode: pushing A then B leaves B on top, so
// popping into A then into B crosses the two values. The stores still run
// through the ordinary coercion path, so SWAP A$,B% fails with
// TypeMismatch the same way an assignment would.
func (cg *Codegen) genSwap(s *lang.Statement, line uint16) {
	cg.genVariableRead(s.SwapA, line)
	cg.genVariableRead(s.SwapB, line)
	cg.genVariableWrite(s.SwapA, line)
	cg.genVariableWrite(s.SwapB, line)
}

func (cg *Codegen) genMidAssign(s *lang.Statement, line uint16) {
	cg.genVariableRead(s.MidVar, line)
	cg.genExpr(s.MidStart, line)
	if s.MidLen != nil {
		cg.genExpr(s.MidLen, line)
	} else {
		cg.link.Push(Instruction{Code: OpLit, Val: value.NewInteger(-1), Line: line, Col: s.Col.Start})
	}
	cg.genExpr(s.MidValue, line)
	cg.link.Push(Instruction{Code: OpLetMid, Line: line, Col: s.Col.Start})
	cg.genVariableWrite(s.MidVar, line)
}

// genWhile/genWend match lexically, in source order: WHILE marks the
// re-check point and reserves a not-yet-placed exit symbol; the next
// WEND encountered closes the innermost open WHILE, regardless of
// intervening GOTOs or enclosing IF/THEN arms.
func (cg *Codegen) genWhile(s *lang.Statement, line uint16) {
	topSym := cg.link.NextSymbol()
	cg.link.MarkSymbol(topSym)
	cg.genExpr(s.WhileCond, line)
	doneSym := cg.link.NextSymbol()
	cg.link.PushIfNot(doneSym, line, s.Col.Start)
	cg.whileStack = append(cg.whileStack, whileFrame{topSym: topSym, doneSym: doneSym, line: line, col: s.Col.Start})
}

func (cg *Codegen) genWend(s *lang.Statement, line uint16) {
	if len(cg.whileStack) == 0 {
		cg.errorAt(lang.WendWithoutWhile, line, s.Col.Start)
		return
	}
	top := cg.whileStack[len(cg.whileStack)-1]
	cg.whileStack = cg.whileStack[:len(cg.whileStack)-1]
	cg.link.PushJump(top.topSym, line, s.Col.Start)
	cg.link.MarkSymbol(top.doneSym)
}
