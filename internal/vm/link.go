package vm

import (
	"github.com/retrobasic/basic64k/internal/lang"
	"github.com/retrobasic/basic64k/internal/value"
)

// UnresolvedRef is an (column) pending target recorded against an
// opcode address until link() can rewrite it.
type UnresolvedRef struct {
	Column int
	Line   uint16 // source line the reference was raised from, for UndefinedLine
	Symbol int    // negative: fragment-local; nonneg: a line number
}

// Linkable is a self-contained bytecode fragment with its own local
// (negative) symbol table and a set of addresses still awaiting
// resolution.
type Linkable struct {
	Code       []Instruction
	Symbols    map[int]int // symbol -> address
	Unlinked   map[int]UnresolvedRef
	nextSymbol int
}

func NewLinkable() *Linkable {
	return &Linkable{Symbols: map[int]int{}, Unlinked: map[int]UnresolvedRef{}}
}

// NextSymbol allocates a new fragment-local symbol (always negative).
func (l *Linkable) NextSymbol() int {
	l.nextSymbol--
	return l.nextSymbol
}

// Push appends one instruction and returns its address.
func (l *Linkable) Push(instr Instruction) int {
	addr := len(l.Code)
	l.Code = append(l.Code, instr)
	return addr
}

// MarkSymbol records that `sym` resolves to the next instruction to be
// emitted (the current end of the fragment).
func (l *Linkable) MarkSymbol(sym int) {
	l.Symbols[sym] = len(l.Code)
}

// PushJump emits an unconditional jump to a still-unresolved symbol.
func (l *Linkable) PushJump(sym int, line uint16, col int) {
	addr := l.Push(Instruction{Code: OpJump, Addr: -1, Line: line, Col: col})
	l.Unlinked[addr] = UnresolvedRef{Column: col, Line: line, Symbol: sym}
}

// PushIfNot emits a conditional jump to a still-unresolved symbol.
func (l *Linkable) PushIfNot(sym int, line uint16, col int) {
	addr := l.Push(Instruction{Code: OpIfNot, Addr: -1, Line: line, Col: col})
	l.Unlinked[addr] = UnresolvedRef{Column: col, Line: line, Symbol: sym}
}

// PushGoto emits an unconditional jump to a line number symbol, used by
// GOTO/THEN-line/ON...GOTO targets so missing lines raise UndefinedLine
// at link time.
func (l *Linkable) PushGoto(lineTarget uint16, line uint16, col int) {
	l.PushJump(int(lineTarget), line, col)
}

// PushReturnMarker pushes a Return(addr) literal whose address is
// resolved at link time (GOSUB's return address).
func (l *Linkable) PushReturnMarker(sym int, line uint16, col int) int {
	addr := l.Push(Instruction{Code: OpLit, Val: retPlaceholder(), Line: line, Col: col})
	l.Unlinked[addr] = UnresolvedRef{Column: col, Line: line, Symbol: sym}
	return addr
}

// PushNextMarker pushes a Next(addr) literal for FOR's loop-start target,
// tagged with the loop variable's storage key so a later NEXT can match
// frames.
func (l *Linkable) PushNextMarker(sym int, loopVar string, line uint16, col int) int {
	addr := l.Push(Instruction{Code: OpLit, Val: nextPlaceholder(loopVar), Line: line, Col: col})
	l.Unlinked[addr] = UnresolvedRef{Column: col, Line: line, Symbol: sym}
	return addr
}

// Append merges `other` onto the end of l: other's local symbols are
// shifted by l's current local-symbol counter, its addresses are shifted
// by l's current length, and line-number symbols (>= 0) pass through
// unshifted in value (only the addresses they map to move).
func (l *Linkable) Append(other *Linkable) {
	offset := len(l.Code)
	shift := l.nextSymbol

	remap := func(sym int) int {
		if sym < 0 {
			return sym + shift
		}
		return sym
	}
	for sym, addr := range other.Symbols {
		l.Symbols[remap(sym)] = addr + offset
	}
	for addr, ref := range other.Unlinked {
		l.Unlinked[addr+offset] = UnresolvedRef{Column: ref.Column, Line: ref.Line, Symbol: remap(ref.Symbol)}
	}
	l.nextSymbol += other.nextSymbol
	l.Code = append(l.Code, other.Code...)
}

// Link resolves every pending reference in place. Any symbol that cannot
// be found produces an error: a missing line-number symbol is
// UndefinedLine (a legitimate user error); a missing negative symbol is
// an InternalError, since fragment-local symbols are always produced and
// consumed within the same compilation.
func (l *Linkable) Link() []*lang.Error {
	var errs []*lang.Error
	for addr, ref := range l.Unlinked {
		target, ok := l.Symbols[ref.Symbol]
		if !ok {
			if ref.Symbol >= 0 {
				errs = append(errs, lang.NewError(lang.UndefinedLine).InLine(ref.Line).AtColumn(ref.Column))
			} else {
				errs = append(errs, lang.NewError(lang.InternalError).WithExtra("LINK FAILURE"))
			}
			continue
		}
		switch l.Code[addr].Code {
		case OpJump, OpIfNot:
			l.Code[addr].Addr = target
		case OpLit:
			v := l.Code[addr].Val
			v.Addr = target
			l.Code[addr].Val = v
		}
	}
	// The table is consumed either way: a failed entry has already
	// produced its user-visible error, and re-reporting it on every
	// subsequent direct-mode recompile would duplicate it.
	l.Unlinked = map[int]UnresolvedRef{}
	return errs
}

func retPlaceholder() value.Val                { return value.NewReturn(-1) }
func nextPlaceholder(loopVar string) value.Val { return value.NewNext(-1, loopVar) }
