package lang

import "github.com/retrobasic/basic64k/internal/value"

// Column is a half-open span over the rendered form of a source line.
type Column struct {
	Start, End int
}

// Ident is a bare variable/function name with its type implied by sigil,
// already upper-cased by the lexer.
type Ident struct {
	Name     string
	Kind     value.Kind // meaningful only when HasSigil is true
	HasSigil bool       // false means the DEF-type table resolves Kind at runtime
}

// Variable is either a plain scalar reference or an array reference with
// index expressions.
type Variable struct {
	Col     Column
	Ident   Ident
	Indices []Expression // nil for a scalar
}

// BinOp and UnOp enumerate the operator set.
type BinOp int

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpDivInt
	OpMod
	OpPow
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
	OpXor
	OpImp
	OpEqv
)

type UnOp int

const (
	OpNeg UnOp = iota
	OpNot
)

// Expression is a sum type over every expression node. Exactly one field
// group is populated per Kind.
type ExprKind int

const (
	ExprIntegerLit ExprKind = iota
	ExprSingleLit
	ExprDoubleLit
	ExprStringLit
	ExprVariable
	ExprUnary
	ExprBinary
	ExprCall // built-in or user-defined function call
)

type Expression struct {
	Col  Column
	Kind ExprKind

	// ExprIntegerLit/SingleLit/DoubleLit/StringLit
	Lit value.Val

	// ExprVariable
	Var *Variable

	// ExprUnary
	UnOp UnOp
	Sub  *Expression

	// ExprBinary
	BinOp BinOp
	Left  *Expression
	Right *Expression

	// ExprCall
	Callee         string // upper-cased name, sigil stripped
	CalleeKind     value.Kind
	CalleeHasSigil bool
	Args           []Expression
}

// StmtKind enumerates every supported statement.
type StmtKind int

const (
	StmtLet StmtKind = iota
	StmtPrint
	StmtIf
	StmtFor
	StmtNext
	StmtGosub
	StmtReturn
	StmtGoto
	StmtOnGoto
	StmtOnGosub
	StmtInput
	StmtRead
	StmtData
	StmtDim
	StmtErase
	StmtDefFn
	StmtDefType // DEFINT/DEFSNG/DEFDBL/DEFSTR
	StmtClear
	StmtCls
	StmtCont
	StmtEnd
	StmtStop
	StmtNew
	StmtRun
	StmtList
	StmtDelete
	StmtLoad
	StmtSave
	StmtRenum
	StmtRestore
	StmtSwap
	StmtMidAssign
	StmtTron
	StmtTroff
	StmtWhile
	StmtWend
	StmtRem
)

// PrintItem is one element of a PRINT list: an expression followed by a
// separator that controls cursor behavior.
type PrintSep int

const (
	SepNone PrintSep = iota // list end, newline implied
	SepSemi                 // ';' glue, no movement
	SepComma                // ',' zone tab
)

type PrintItem struct {
	Expr Expression
	Sep  PrintSep
}

// Statement is a sum type over every statement kind. As with Expression,
// only the fields relevant to Kind are populated.
type Statement struct {
	Col  Column
	Kind StmtKind

	// StmtLet
	Target *Variable
	Value  *Expression

	// StmtPrint
	Items []PrintItem

	// StmtIf
	Cond  *Expression
	Then  []Statement
	Else  []Statement

	// StmtFor
	Loop Ident
	From *Expression
	To   *Expression
	Step *Expression // nil means literal 1

	// StmtNext
	Vars []Ident // empty means bare NEXT

	// StmtGosub/StmtGoto/StmtOnGoto/StmtOnGosub/StmtRestore/StmtDelete/StmtList
	Target1 uint16
	Target2 uint16
	HasTarget2 bool
	Selector   *Expression
	Targets    []uint16 // ON...GOTO/GOSUB line list

	// StmtInput
	Prompt    string
	HasPrompt bool
	CapsFlag  bool
	InputVars []Variable

	// StmtRead
	ReadVars []Variable

	// StmtData
	DataItems []value.Val

	// StmtDim/StmtErase
	DimVars []Variable

	// StmtDefFn
	FnName   string
	FnParams []Ident
	FnBody   *Expression

	// StmtDefType
	TypeKind   value.Kind
	FromLetter byte
	ToLetter   byte

	// StmtRun/StmtLoad/StmtSave
	Filename    string
	HasFilename bool
	HasLine     bool
	Line        uint16

	// StmtRenum
	NewStart, OldStart, RenumStep uint16
	HasRenumArgs                 bool

	// StmtSwap
	SwapA, SwapB *Variable

	// StmtMidAssign
	MidVar   *Variable
	MidStart *Expression
	MidLen   *Expression // nil means "to end"
	MidValue *Expression

	// StmtWhile
	WhileCond *Expression

	// StmtRem
	Text string
}

// ParsedLine is one parsed listing entry: the (optional) line number and the
// statements produced by splitting on ':'.
type ParsedLine struct {
	Number     *uint16
	Statements []Statement
	Errors     []*Error
}

// Visitor implements the AST traversal protocol codegen uses: a single
// generic walk, with each visitor carrying its own per-kind stacks.
type Visitor interface {
	VisitStatement(s *Statement)
	VisitExpression(e *Expression)
	VisitVariable(v *Variable)
}

// Accept walks a statement depth-first, calling back into v for every
// expression and variable reached, then v.VisitStatement(s) itself —
// a bottom-up (post-order) traversal, so child results exist before the
// parent combines them.
func (s *Statement) Accept(v Visitor) {
	switch s.Kind {
	case StmtLet:
		s.Value.Accept(v)
		s.Target.Accept(v)
	case StmtPrint:
		for i := range s.Items {
			s.Items[i].Expr.Accept(v)
		}
	case StmtIf:
		s.Cond.Accept(v)
		for i := range s.Then {
			s.Then[i].Accept(v)
		}
		for i := range s.Else {
			s.Else[i].Accept(v)
		}
	case StmtFor:
		s.From.Accept(v)
		s.To.Accept(v)
		if s.Step != nil {
			s.Step.Accept(v)
		}
	case StmtOnGoto, StmtOnGosub:
		s.Selector.Accept(v)
	case StmtInput:
		for i := range s.InputVars {
			s.InputVars[i].Accept(v)
		}
	case StmtRead:
		for i := range s.ReadVars {
			s.ReadVars[i].Accept(v)
		}
	case StmtDim, StmtErase:
		for i := range s.DimVars {
			s.DimVars[i].Accept(v)
		}
	case StmtDefFn:
		s.FnBody.Accept(v)
	case StmtSwap:
		s.SwapA.Accept(v)
		s.SwapB.Accept(v)
	case StmtMidAssign:
		s.MidVar.Accept(v)
		s.MidStart.Accept(v)
		if s.MidLen != nil {
			s.MidLen.Accept(v)
		}
		s.MidValue.Accept(v)
	case StmtWhile:
		s.WhileCond.Accept(v)
	}
	v.VisitStatement(s)
}

func (e *Expression) Accept(v Visitor) {
	switch e.Kind {
	case ExprUnary:
		e.Sub.Accept(v)
	case ExprBinary:
		e.Left.Accept(v)
		e.Right.Accept(v)
	case ExprVariable:
		e.Var.Accept(v)
	case ExprCall:
		for i := range e.Args {
			e.Args[i].Accept(v)
		}
	}
	v.VisitExpression(e)
}

func (va *Variable) Accept(v Visitor) {
	for i := range va.Indices {
		va.Indices[i].Accept(v)
	}
	v.VisitVariable(va)
}
