package vm

import (
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/retrobasic/basic64k/internal/lang"
	"github.com/retrobasic/basic64k/internal/listing"
	"github.com/retrobasic/basic64k/internal/value"
	"github.com/retrobasic/basic64k/internal/vars"
)

// State is the interpreter's coarse lifecycle position.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateInputWait
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateInputWait:
		return "INPUT"
	case StateStopped:
		return "STOPPED"
	}
	return "UNKNOWN"
}

const (
	stackLimit  = 65536
	opcodeLimit = 65536
	zoneWidth   = 14
)

type fnEntry struct {
	addr  int
	arity int
}

type inputState struct {
	beginPC int
	prompt  string
	caps    bool
	fields  []string
	pos     int
	have    bool
}

// Runtime is the cooperative stack-machine interpreter: it owns the
// listing, the compiled program, the variable store, and the single
// value stack that doubles as the FOR/GOSUB control stack. The
// host drives it by alternating Enter (one source or input line) and
// Execute (a bounded burst of opcode cycles yielding an Event).
type Runtime struct {
	source *listing.Listing
	dirty  bool
	prog   *Program
	store  *vars.Store

	stack []value.Val
	pc    int
	state State
	queue []Event

	printCol  int
	trace     bool
	traceLine int

	dataPtr   int
	contPC    int
	canCont   bool
	functions map[string]fnEntry

	input       inputState
	interrupted atomic.Bool

	rngState uint32
	rngLast  float32

	clock   func() time.Time
	inkeyFn func() string
}

func NewRuntime() *Runtime {
	return &Runtime{
		source:    listing.New(),
		prog:      NewProgram(),
		store:     vars.New(),
		state:     StateIdle,
		traceLine: -1,
		functions: make(map[string]fnEntry),
		clock:     time.Now,
		inkeyFn:   func() string { return "" },
	}
}

// SetInkey installs the host's keyboard poll used by INKEY$.
func (r *Runtime) SetInkey(fn func() string) { r.inkeyFn = fn }

// SetClock overrides the wall clock used by DATE$/TIME$ (tests).
func (r *Runtime) SetClock(fn func() time.Time) { r.clock = fn }

// Interrupt sets the break flag; the next cycle turns it into a
// ?BREAK IN <line> error and parks the interpreter.
func (r *Runtime) Interrupt() { r.interrupted.Store(true) }

// State reports the current lifecycle state.
func (r *Runtime) State() State { return r.state }

// Vars exposes the variable store (debugger watch table).
func (r *Runtime) Vars() *vars.Store { return r.store }

// Listing exposes the source store (debugger listing pane).
func (r *Runtime) Listing() *listing.Listing { return r.source }

// CurrentLine reports the source line owning the current PC, if the PC
// is inside the indirect program.
func (r *Runtime) CurrentLine() (uint16, bool) { return r.prog.LineNumberFor(r.pc) }

// SourceLines renders the whole listing, one canonical line per entry
// (SAVE's payload).
func (r *Runtime) SourceLines() []string {
	entries := r.source.Lines()
	out := make([]string, len(entries))
	for i := range entries {
		out[i] = entries[i].Render()
	}
	return out
}

// ControlFrames describes the FOR/GOSUB markers currently on the value
// stack, innermost last (debugger call-stack pane).
func (r *Runtime) ControlFrames() []string {
	var frames []string
	for _, v := range r.stack {
		switch v.Kind {
		case value.Return:
			line := "direct"
			if n, ok := r.prog.LineNumberFor(v.Addr); ok {
				line = strconv.Itoa(int(n))
			}
			frames = append(frames, "GOSUB return to "+line)
		case value.Next:
			frames = append(frames, "FOR "+v.Str)
		}
	}
	return frames
}

// ClearProgram wipes listing, variables, and compiled state (NEW, and
// the host's pre-LOAD reset).
func (r *Runtime) ClearProgram() {
	r.source.Clear()
	r.store = vars.New()
	r.prog = NewProgram()
	r.stack = nil
	r.functions = make(map[string]fnEntry)
	r.dirty = false
	r.canCont = false
	r.dataPtr = 0
	r.state = StateIdle
}

// LoadLine feeds one line of a LOADed file into the listing.
func (r *Runtime) LoadLine(src string) error {
	if err := r.source.LoadLine(src); err != nil {
		return err
	}
	r.dirty = true
	r.canCont = false
	return nil
}

// Enter accepts one line from the host. In input-wait state it is the
// pending INPUT's response; a numbered line edits the listing; anything
// else is a direct-mode statement, compiled and queued for execution.
func (r *Runtime) Enter(src string) {
	// A break flag raised while parked must not cancel the line being
	// entered now.
	r.interrupted.Store(false)
	if r.state == StateInputWait {
		r.input.fields = parseInputFields(src)
		r.input.pos = 0
		r.input.have = true
		r.state = StateRunning
		return
	}
	if len([]rune(strings.TrimRight(src, "\r\n"))) > listing.MaxLineLen {
		r.queue = append(r.queue, Errors{Errs: []*lang.Error{lang.NewError(lang.OutOfMemory).WithExtra("LINE BUFFER OVERFLOW")}})
		r.state = StateStopped
		return
	}
	lexed := lang.Lex(src)
	if lexed.Number != nil {
		if err := r.source.Insert(*lexed.Number, lexed.Tokens); err != nil {
			r.queue = append(r.queue, Errors{Errs: []*lang.Error{asLangError(err)}})
		}
		r.dirty = true
		r.canCont = false
		r.state = StateStopped
		return
	}
	if len(lexed.Tokens) == 0 {
		r.state = StateStopped
		return
	}
	r.compileDirect(lexed)
}

func (r *Runtime) compileDirect(lexed lang.Line) {
	direct := lang.ParseLine(nil, lexed.Tokens)
	if r.dirty {
		entries := r.source.Lines()
		parsed := make([]*lang.ParsedLine, len(entries))
		for i := range entries {
			n := entries[i].Number
			pl := lang.ParseLine(&n, entries[i].Tokens)
			parsed[i] = &pl
		}
		r.prog.Compile(parsed, &direct)
		r.dirty = false
		r.canCont = false
		r.dataPtr = 0
		r.functions = make(map[string]fnEntry)
	} else {
		r.prog.CompileDirect(&direct)
	}
	r.prog.Link()
	if len(r.prog.Instructions()) > opcodeLimit {
		r.queue = append(r.queue, Errors{Errs: []*lang.Error{lang.NewError(lang.OutOfMemory)}})
		r.state = StateStopped
		return
	}
	if len(r.prog.DirectErrs) > 0 {
		r.queue = append(r.queue, Errors{Errs: r.prog.DirectErrs})
		r.prog.DirectErrs = nil
		r.state = StateStopped
		return
	}
	r.pc = r.prog.DirectAddr()
	r.state = StateRunning
}

// RunProgram compiles the listing and starts execution at its first
// line, as the host does after an auto-run LOAD.
func (r *Runtime) RunProgram() {
	r.compileForRun()
	if r.state == StateRunning {
		r.beginRun(0)
	}
}

func (r *Runtime) compileForRun() {
	entries := r.source.Lines()
	parsed := make([]*lang.ParsedLine, len(entries))
	for i := range entries {
		n := entries[i].Number
		pl := lang.ParseLine(&n, entries[i].Tokens)
		parsed[i] = &pl
	}
	r.prog.Compile(parsed, nil)
	r.prog.Link()
	r.dirty = false
	if len(r.prog.IndirectErrs) > 0 {
		r.queue = append(r.queue, Errors{Errs: r.prog.IndirectErrs})
		r.state = StateStopped
		return
	}
	r.state = StateRunning
}

// beginRun resets the per-run machine state and jumps to addr.
func (r *Runtime) beginRun(addr int) {
	r.store.Clear()
	r.stack = nil
	r.dataPtr = 0
	r.canCont = false
	r.printCol = 0
	r.traceLine = -1
	r.pc = addr
	r.state = StateRunning
}

// Execute runs up to budget opcode cycles and returns the first pending
// Event: queued output, an input suspension, budget exhaustion
// (Running), or termination (Stopped).
func (r *Runtime) Execute(budget int) Event {
	if ev := r.pop(); ev != nil {
		return ev
	}
	for cycles := 0; cycles < budget; cycles++ {
		if r.interrupted.CompareAndSwap(true, false) {
			r.breakNow()
			return r.drainOr(Stopped{})
		}
		if r.state == StateInputWait {
			// Re-issue the prompt: the host called Execute again
			// without supplying input.
			return Input{Prompt: r.input.prompt, Caps: r.input.caps}
		}
		if r.state != StateRunning {
			return r.drainOr(Stopped{})
		}
		r.step()
		if ev := r.pop(); ev != nil {
			return ev
		}
	}
	if r.state == StateRunning || r.state == StateInputWait {
		return Running{}
	}
	return Stopped{}
}

func (r *Runtime) pop() Event {
	if len(r.queue) == 0 {
		return nil
	}
	ev := r.queue[0]
	r.queue = r.queue[1:]
	return ev
}

func (r *Runtime) drainOr(fallback Event) Event {
	if ev := r.pop(); ev != nil {
		return ev
	}
	return fallback
}

// breakNow converts a pending interrupt into ?BREAK IN <line> and parks
// the interpreter, preserving the PC for CONT.
func (r *Runtime) breakNow() {
	e := lang.NewError(lang.Break)
	if n, ok := r.prog.LineNumberFor(r.pc); ok {
		e.InLine(n)
	}
	r.queue = append(r.queue, Errors{Errs: []*lang.Error{e}})
	r.contPC = r.pc
	r.canCont = true
	r.input.have = false
	r.state = StateStopped
}

// fail reports a runtime error raised by the instruction at addr and
// halts. Runtime errors carry the line but not a column — column
// reporting belongs to the compile/link stage, where the unlinked table
// preserved it.
func (r *Runtime) fail(err error, addr int) {
	e := asLangError(err)
	if e.Line == nil {
		if n, ok := r.prog.LineNumberFor(addr); ok {
			e.InLine(n)
		}
	}
	r.queue = append(r.queue, Errors{Errs: []*lang.Error{e}})
	r.canCont = false
	r.state = StateStopped
}

func asLangError(err error) *lang.Error {
	if e, ok := err.(*lang.Error); ok {
		return e
	}
	return lang.NewError(lang.InternalError).WithExtra(strings.ToUpper(err.Error()))
}

// emit queues terminal output and tracks the PRINT cursor column.
func (r *Runtime) emit(text string) {
	if text == "" {
		return
	}
	r.queue = append(r.queue, Print{Text: text})
	if i := strings.LastIndexByte(text, '\n'); i >= 0 {
		r.printCol = len([]rune(text[i+1:]))
	} else {
		r.printCol += len([]rune(text))
	}
}

func (r *Runtime) push(v value.Val) error {
	if len(r.stack) >= stackLimit {
		return lang.NewError(lang.OutOfMemory)
	}
	r.stack = append(r.stack, v)
	return nil
}

func (r *Runtime) popVal() (value.Val, error) {
	if len(r.stack) == 0 {
		return value.Val{}, lang.NewError(lang.InternalError).WithExtra("STACK UNDERFLOW")
	}
	v := r.stack[len(r.stack)-1]
	r.stack = r.stack[:len(r.stack)-1]
	return v, nil
}

// popIndices removes count array subscripts, left-to-right order.
func (r *Runtime) popIndices(count int) ([]int, error) {
	idx := make([]int, count)
	for i := count - 1; i >= 0; i-- {
		v, err := r.popVal()
		if err != nil {
			return nil, err
		}
		if !v.Numeric() {
			return nil, lang.NewError(lang.TypeMismatch)
		}
		f := math.Round(v.AsF64())
		if f < math.MinInt16 || f > math.MaxInt16 {
			return nil, lang.NewError(lang.SubscriptOutOfRange)
		}
		idx[i] = int(f)
	}
	return idx, nil
}

// step executes exactly one opcode.
func (r *Runtime) step() {
	ops := r.prog.Instructions()
	if r.pc < 0 || r.pc >= len(ops) {
		r.haltEnd()
		return
	}
	addr := r.pc
	instr := &ops[addr]
	r.pc++

	if r.trace {
		if n, ok := r.prog.LineNumberFor(addr); ok && int(n) != r.traceLine {
			r.traceLine = int(n)
			r.emit("[" + strconv.Itoa(int(n)) + "]")
		}
	}

	if err := r.exec(instr, addr); err != nil {
		r.fail(err, addr)
	}
}

func (r *Runtime) haltEnd() {
	r.contPC = r.pc
	r.canCont = true
	r.state = StateStopped
}

func (r *Runtime) exec(instr *Instruction, addr int) error {
	switch instr.Code {
	case OpLit:
		return r.push(instr.Val)
	case OpPush:
		k := r.store.ResolveKind(instr.Name, instr.Kind, instr.HasSigil)
		return r.push(r.store.Fetch(instr.Name, k))
	case OpPop:
		v, err := r.popVal()
		if err != nil {
			return err
		}
		k := r.store.ResolveKind(instr.Name, instr.Kind, instr.HasSigil)
		return r.store.Store(instr.Name, k, v)
	case OpPushArr:
		idx, err := r.popIndices(instr.Count)
		if err != nil {
			return err
		}
		k := r.store.ResolveKind(instr.Name, instr.Kind, instr.HasSigil)
		v, err := r.store.FetchArray(instr.Name, k, idx)
		if err != nil {
			return err
		}
		return r.push(v)
	case OpPopArr:
		idx, err := r.popIndices(instr.Count)
		if err != nil {
			return err
		}
		v, err := r.popVal()
		if err != nil {
			return err
		}
		k := r.store.ResolveKind(instr.Name, instr.Kind, instr.HasSigil)
		return r.store.StoreArray(instr.Name, k, idx, v)
	case OpDimStmt:
		idx, err := r.popIndices(instr.Count)
		if err != nil {
			return err
		}
		for _, b := range idx {
			if b < 0 {
				return lang.NewError(lang.SubscriptOutOfRange)
			}
		}
		return r.store.Dimension(instr.Name, idx)
	case OpEraseStmt:
		r.store.Erase(instr.Name)
		return nil

	case OpAdd, OpSub, OpMul, OpDiv, OpDivInt, OpMod, OpPow,
		OpEq, OpNe, OpLt, OpLe, OpGt, OpGe,
		OpAnd, OpOr, OpXor, OpImp, OpEqv:
		return r.binary(instr.Code)
	case OpNeg:
		v, err := r.popVal()
		if err != nil {
			return err
		}
		nv, err := negate(v)
		if err != nil {
			return err
		}
		return r.push(nv)
	case OpNot:
		v, err := r.popVal()
		if err != nil {
			return err
		}
		nv, err := not(v)
		if err != nil {
			return err
		}
		return r.push(nv)

	case OpJump:
		r.pc = instr.Addr
		return nil
	case OpIfNot:
		v, err := r.popVal()
		if err != nil {
			return err
		}
		if !v.Numeric() {
			return lang.NewError(lang.TypeMismatch)
		}
		if v.AsF64() == 0 {
			r.pc = instr.Addr
		}
		return nil

	case OpOn:
		x, err := r.popVal()
		if err != nil {
			return err
		}
		n, err := r.popVal()
		if err != nil {
			return err
		}
		xi, err := toI16(x)
		if err != nil {
			return err
		}
		ni, err := toI16(n)
		if err != nil {
			return err
		}
		if xi < 0 {
			return lang.NewError(lang.IllegalFunctionCall)
		}
		if xi == 0 || xi > ni {
			r.pc += int(ni) // past the whole jump table
		} else {
			r.pc += int(xi) - 1 // into the selected jump
		}
		return nil

	case OpNext:
		return r.execNext(instr)
	case OpReturn:
		return r.execReturn()
	case OpDef:
		r.functions[instr.Name] = fnEntry{addr: r.pc + 1, arity: instr.Count}
		return nil
	case OpCallFn:
		return r.execCallFn(instr)
	case OpBuiltin:
		return r.execBuiltin(instr)

	case OpPrint:
		v, err := r.popVal()
		if err != nil {
			return err
		}
		r.emit(v.String())
		return nil
	case OpTab:
		v, err := r.popVal()
		if err != nil {
			return err
		}
		r.emit(v.String())
		r.emit(strings.Repeat(" ", zoneWidth-r.printCol%zoneWidth))
		return nil
	case OpNewline:
		r.emit("\n")
		return nil

	case OpInputBegin:
		return r.execInputBegin(instr, addr)
	case OpInput:
		return r.execInput(instr)
	case OpInputEnd:
		if r.input.pos != len(r.input.fields) {
			return r.redoInput()
		}
		r.input.have = false
		return nil

	case OpReadStmt:
		return r.execRead()
	case OpDataMark:
		return nil
	case OpRestore:
		if instr.Count == 1 {
			target, ok := r.prog.AddrForLine(uint16(instr.Addr))
			if !ok {
				return lang.NewError(lang.UndefinedLine)
			}
			r.dataPtr = target
		} else {
			r.dataPtr = 0
		}
		return nil

	case OpLetMid:
		return r.execLetMid()

	case OpEnd:
		r.haltEnd()
		return nil
	case OpStop:
		e := lang.NewError(lang.Break)
		if n, ok := r.prog.LineNumberFor(addr); ok {
			e.InLine(n)
		}
		r.queue = append(r.queue, Errors{Errs: []*lang.Error{e}})
		r.contPC = r.pc
		r.canCont = true
		r.state = StateStopped
		return nil
	case OpCont:
		if !r.canCont {
			return lang.NewError(lang.CantContinue)
		}
		r.pc = r.contPC
		return nil
	case OpCls:
		r.queue = append(r.queue, Cls{})
		r.printCol = 0
		return nil
	case OpClear:
		r.store.Clear()
		r.stack = nil
		return nil
	case OpTron:
		r.trace = true
		r.traceLine = -1
		return nil
	case OpTroff:
		r.trace = false
		return nil

	case OpNewStmt:
		r.ClearProgram()
		r.state = StateStopped
		return nil
	case OpRunLine:
		if len(r.prog.IndirectErrs) > 0 {
			r.queue = append(r.queue, Errors{Errs: r.prog.IndirectErrs})
			r.state = StateStopped
			return nil
		}
		start := 0
		if instr.Count == 1 {
			target, ok := r.prog.AddrForLine(uint16(instr.Addr))
			if !ok {
				return lang.NewError(lang.UndefinedLine)
			}
			start = target
		}
		r.beginRun(start)
		return nil
	case OpLoadRun:
		r.queue = append(r.queue, Load{Filename: instr.Val.Str, AutoRun: true})
		r.state = StateStopped
		return nil
	case OpLoadStmt:
		r.queue = append(r.queue, Load{Filename: instr.Val.Str})
		r.state = StateStopped
		return nil
	case OpSaveStmt:
		r.queue = append(r.queue, Save{Filename: instr.Val.Str})
		return nil

	case OpListStmt:
		r.execList(instr)
		return nil
	case OpDeleteStmt:
		if !r.source.RemoveRange(uint16(instr.Addr), uint16(instr.Count)) {
			return lang.NewError(lang.IllegalFunctionCall)
		}
		r.dirty = true
		r.canCont = false
		return nil
	case OpRenum:
		newStart := uint16(instr.Val.I16)
		if newStart == 0 {
			newStart = 10
		}
		if err := r.source.Renum(newStart, uint16(instr.Addr), uint16(instr.Count)); err != nil {
			return err
		}
		r.dirty = true
		r.canCont = false
		return nil

	case OpDefint:
		r.store.SetDefaultType(instr.Name[0], instr.Name[1], value.Integer)
		return nil
	case OpDefsng:
		r.store.SetDefaultType(instr.Name[0], instr.Name[1], value.Single)
		return nil
	case OpDefdbl:
		r.store.SetDefaultType(instr.Name[0], instr.Name[1], value.Double)
		return nil
	case OpDefstr:
		r.store.SetDefaultType(instr.Name[0], instr.Name[1], value.String)
		return nil
	}
	return lang.NewError(lang.InternalError).WithExtra("UNKNOWN OPCODE")
}

func (r *Runtime) binary(code Code) error {
	b, err := r.popVal()
	if err != nil {
		return err
	}
	a, err := r.popVal()
	if err != nil {
		return err
	}
	var v value.Val
	switch code {
	case OpAdd:
		v, err = add(a, b)
	case OpSub:
		v, err = sub(a, b)
	case OpMul:
		v, err = mul(a, b)
	case OpDiv:
		v, err = div(a, b)
	case OpDivInt:
		v, err = divInt(a, b)
	case OpMod:
		v, err = mod(a, b)
	case OpPow:
		v, err = power(a, b)
	case OpEq:
		v, err = equal(a, b)
	case OpNe:
		v, err = notEqual(a, b)
	case OpLt:
		v, err = less(a, b)
	case OpLe:
		v, err = lessEqual(a, b)
	case OpGt:
		v, err = greater(a, b)
	case OpGe:
		v, err = greaterEqual(a, b)
	case OpAnd:
		v, err = and(a, b)
	case OpOr:
		v, err = or(a, b)
	case OpXor:
		v, err = xor(a, b)
	case OpImp:
		v, err = imp(a, b)
	case OpEqv:
		v, err = eqv(a, b)
	}
	if err != nil {
		return err
	}
	return r.push(v)
}

// execNext implements NEXT's frame search: the topmost Next marker is
// the innermost FOR. A named NEXT discards stale inner frames (left by
// GOTO out of a loop) until the variable matches.
func (r *Runtime) execNext(instr *Instruction) error {
	for {
		i := len(r.stack) - 1
		for i >= 0 && r.stack[i].Kind != value.Next {
			i--
		}
		if i < 2 {
			return lang.NewError(lang.NextWithoutFor)
		}
		marker := r.stack[i]
		if instr.Name != "" && marker.Str != instr.Name {
			// Stale inner frame: drop marker, step, and to.
			r.stack = append(r.stack[:i-2], r.stack[i+1:]...)
			continue
		}
		step := r.stack[i-1]
		to := r.stack[i-2]
		k := r.store.KindForKey(marker.Str)
		counter, err := add(r.store.Fetch(marker.Str, k), step)
		if err != nil {
			return err
		}
		if err := r.store.Store(marker.Str, k, counter); err != nil {
			return err
		}
		stepF := step.AsF64()
		done := false
		if stepF >= 0 {
			done = counter.AsF64() > to.AsF64()
		} else {
			done = counter.AsF64() < to.AsF64()
		}
		if done {
			r.stack = append(r.stack[:i-2], r.stack[i+1:]...)
			return nil
		}
		r.pc = marker.Addr
		return nil
	}
}

// execReturn finds the topmost Return marker, preserving at most one
// value above it (a DEF FN result), unwinds, and jumps.
func (r *Runtime) execReturn() error {
	i := len(r.stack) - 1
	for i >= 0 && r.stack[i].Kind != value.Return {
		i--
	}
	if i < 0 {
		return lang.NewError(lang.ReturnWithoutGosub)
	}
	target := r.stack[i].Addr
	// A plain value above the marker is a DEF FN result and survives the
	// unwind; control markers (FOR frames opened inside the subroutine)
	// are discarded with everything else.
	var preserved *value.Val
	if i < len(r.stack)-1 {
		top := r.stack[len(r.stack)-1]
		if top.Kind != value.Return && top.Kind != value.Next {
			preserved = &top
		}
	}
	r.stack = r.stack[:i]
	if preserved != nil {
		if err := r.push(*preserved); err != nil {
			return err
		}
	}
	r.pc = target
	return nil
}

func (r *Runtime) execCallFn(instr *Instruction) error {
	fn, ok := r.functions[instr.Name]
	if !ok {
		return lang.NewError(lang.UndefinedUserFunction)
	}
	if fn.arity != instr.Count {
		return lang.NewError(lang.IllegalFunctionCall)
	}
	n := instr.Count
	if len(r.stack) < n {
		return lang.NewError(lang.InternalError).WithExtra("STACK UNDERFLOW")
	}
	args := make([]value.Val, n)
	copy(args, r.stack[len(r.stack)-n:])
	r.stack = r.stack[:len(r.stack)-n]
	if err := r.push(value.NewReturn(r.pc)); err != nil {
		return err
	}
	for _, a := range args {
		if err := r.push(a); err != nil {
			return err
		}
	}
	r.pc = fn.addr
	return nil
}

func (r *Runtime) execBuiltin(instr *Instruction) error {
	n := instr.Count
	if len(r.stack) < n {
		return lang.NewError(lang.InternalError).WithExtra("STACK UNDERFLOW")
	}
	args := make([]value.Val, n)
	copy(args, r.stack[len(r.stack)-n:])
	r.stack = r.stack[:len(r.stack)-n]
	env := &builtinEnv{
		printCol:   r.printCol,
		rnd:        r.rnd,
		dateString: func() string { return r.clock().Format("01-02-2006") },
		timeString: func() string { return r.clock().Format("15:04:05") },
		inkey:      r.inkeyFn,
	}
	v, err := CallBuiltin(instr.Name, args, env)
	if err != nil {
		return err
	}
	return r.push(v)
}

// rnd steps the linear congruential generator: a positive argument
// draws the next number, zero repeats the last, and a negative argument
// reseeds first.
func (r *Runtime) rnd(arg value.Val) float32 {
	x := arg.AsF64()
	switch {
	case x < 0:
		r.rngState = uint32(int64(math.Abs(x)))
		return r.rngNext()
	case x == 0:
		return r.rngLast
	default:
		return r.rngNext()
	}
}

func (r *Runtime) rngNext() float32 {
	r.rngState = r.rngState*214013 + 2531011
	r.rngLast = float32((r.rngState>>16)&0x7FFF) / 32768
	return r.rngLast
}

func (r *Runtime) execInputBegin(instr *Instruction, addr int) error {
	if r.input.have && r.input.beginPC == addr {
		return nil // response arrived, carry on to the variable stores
	}
	r.input.beginPC = addr
	r.input.prompt = instr.Val.Str
	r.input.caps = instr.Count == 1
	r.input.have = false
	r.queue = append(r.queue, Input{Prompt: r.input.prompt, Caps: r.input.caps})
	r.pc = addr // retry this opcode once input arrives
	r.state = StateInputWait
	return nil
}

func (r *Runtime) execInput(instr *Instruction) error {
	idx, err := r.popIndices(instr.Count)
	if err != nil {
		return err
	}
	if r.input.pos >= len(r.input.fields) {
		return r.redoInput()
	}
	field := r.input.fields[r.input.pos]
	r.input.pos++
	k := r.store.ResolveKind(instr.Name, instr.Kind, instr.HasSigil)
	v, ok := convertInputField(field, k, r.input.caps)
	if !ok {
		return r.redoInput()
	}
	if instr.Count > 0 {
		return r.store.StoreArray(instr.Name, k, idx, v)
	}
	return r.store.Store(instr.Name, k, v)
}

// redoInput rejects the whole response and re-prompts from the INPUT
// statement's start.
func (r *Runtime) redoInput() error {
	r.emit("?REDO FROM START\n")
	r.input.have = false
	r.pc = r.input.beginPC
	return nil
}

func (r *Runtime) execRead() error {
	ops := r.prog.Instructions()
	for i := r.dataPtr; i < len(ops); i++ {
		if ops[i].Code == OpDataMark {
			r.dataPtr = i + 1
			return r.push(ops[i].Val)
		}
	}
	return lang.NewError(lang.OutOfData)
}

func (r *Runtime) execLetMid() error {
	repl, err := r.popVal()
	if err != nil {
		return err
	}
	lenV, err := r.popVal()
	if err != nil {
		return err
	}
	startV, err := r.popVal()
	if err != nil {
		return err
	}
	orig, err := r.popVal()
	if err != nil {
		return err
	}
	if orig.Kind != value.String || repl.Kind != value.String {
		return lang.NewError(lang.TypeMismatch)
	}
	start, err := toIndex(startV)
	if err != nil {
		return err
	}
	if start < 1 || start > len(orig.Str) {
		return lang.NewError(lang.IllegalFunctionCall)
	}
	n := len(repl.Str)
	if lenV.Kind != value.Integer || lenV.I16 != -1 {
		m, err := toIndex(lenV)
		if err != nil {
			return err
		}
		if m < n {
			n = m
		}
	}
	if avail := len(orig.Str) - (start - 1); n > avail {
		n = avail
	}
	out := orig.Str[:start-1] + repl.Str[:n] + orig.Str[start-1+n:]
	return r.push(value.NewString(out))
}

func (r *Runtime) execList(instr *Instruction) {
	for _, e := range r.source.Range(uint16(instr.Addr), uint16(instr.Count)) {
		var cols []int
		for _, err := range r.prog.IndirectErrs {
			if err.Line != nil && *err.Line == e.Number && err.Column >= 0 {
				// Offset by the rendered number prefix and its space.
				cols = append(cols, err.Column+len(strconv.Itoa(int(e.Number)))+1)
			}
		}
		r.queue = append(r.queue, List{Text: e.Render(), ErrCols: cols})
	}
}

// parseInputFields splits an INPUT response on commas, honoring quoted
// strings.
func parseInputFields(src string) []string {
	src = strings.TrimRight(src, "\r\n")
	var fields []string
	var sb strings.Builder
	inQuote := false
	for _, c := range src {
		switch {
		case c == '"':
			inQuote = !inQuote
			sb.WriteRune(c)
		case c == ',' && !inQuote:
			fields = append(fields, sb.String())
			sb.Reset()
		default:
			sb.WriteRune(c)
		}
	}
	fields = append(fields, sb.String())
	return fields
}

// convertInputField coerces one response field to the target variable's
// type. Numeric targets require a parsable number; string targets take
// the raw text, unquoting if quoted.
func convertInputField(field string, k value.Kind, caps bool) (value.Val, bool) {
	field = strings.TrimSpace(field)
	if k == value.String {
		if len(field) >= 2 && field[0] == '"' && field[len(field)-1] == '"' {
			field = field[1 : len(field)-1]
		}
		if caps {
			field = strings.ToUpper(field)
		}
		return value.NewString(field), true
	}
	if field == "" {
		return value.Val{}, false
	}
	clean := strings.NewReplacer("D", "E", "d", "E").Replace(field)
	f, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return value.Val{}, false
	}
	switch k {
	case value.Integer:
		if f > math.MaxInt16 || f < math.MinInt16 {
			return value.Val{}, false
		}
		return value.NewInteger(int16(math.Round(f))), true
	case value.Double:
		return value.NewDouble(f), true
	default:
		return value.NewSingle(float32(f)), true
	}
}
