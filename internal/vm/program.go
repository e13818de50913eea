package vm

import (
	"github.com/retrobasic/basic64k/internal/lang"
)

// Program owns the single compiled instruction stream for a listing:
// every indirect (numbered) line's code, followed by the most recently
// compiled direct-mode (unnumbered) statement. Recompiling the direct
// line truncates back to directAddr and regrows just that tail.
type Program struct {
	link         *Linkable
	directAddr   int
	IndirectErrs []*lang.Error
	DirectErrs   []*lang.Error
}

func NewProgram() *Program {
	return &Program{link: NewLinkable()}
}

// Compile rebuilds the entire program from every indirect line (in line
// number order) plus, if present, one direct-mode line. A dirty
// indirect program is fully recompiled before a direct statement ever
// runs, since GOTO/GOSUB targets must reflect the latest listing.
func (p *Program) Compile(indirect []*lang.ParsedLine, direct *lang.ParsedLine) {
	p.link = NewLinkable()
	cg := NewCodegen(p.link)
	for _, line := range indirect {
		cg.CompileLine(line)
	}
	cg.FinishProgram()
	// Falling off the last indirect line must halt, never run on into
	// the direct-mode tail (which would re-execute the very statement
	// that started the program).
	p.link.Push(Instruction{Code: OpEnd})
	p.IndirectErrs = cg.Errors()
	p.directAddr = len(p.link.Code)

	if direct != nil {
		p.CompileDirect(direct)
	}
}

// CompileDirect recompiles just the direct-mode line on top of the
// already-linked indirect program, without touching indirect state.
func (p *Program) CompileDirect(direct *lang.ParsedLine) {
	p.link.Code = p.link.Code[:p.directAddr]
	for addr := range p.link.Unlinked {
		if addr >= p.directAddr {
			delete(p.link.Unlinked, addr)
		}
	}
	cg := NewCodegen(p.link)
	cg.CompileLine(direct)
	cg.link.Push(Instruction{Code: OpEnd})
	cg.FinishProgram()
	p.DirectErrs = cg.Errors()
	for _, e := range p.DirectErrs {
		e.Line = nil // direct-mode errors carry no line number
	}
	// A direct-mode jump to a missing line is reported here, so Link never
	// files it among the indirect errors.
	for addr, ref := range p.link.Unlinked {
		if _, ok := p.link.Symbols[ref.Symbol]; !ok && ref.Symbol >= 0 && addr >= p.directAddr {
			p.DirectErrs = append(p.DirectErrs, lang.NewError(lang.UndefinedLine))
			delete(p.link.Unlinked, addr)
		}
	}
}

// Link resolves every jump/marker in the combined program and files each
// link failure by its Line: errors without a line go to DirectErrs, the
// rest to IndirectErrs. Direct-mode references to missing lines never
// reach it, since CompileDirect reports and removes them.
func (p *Program) Link() []*lang.Error {
	errs := p.link.Link()
	for _, e := range errs {
		if e.Line == nil {
			p.DirectErrs = append(p.DirectErrs, e)
		} else {
			p.IndirectErrs = append(p.IndirectErrs, e)
		}
	}
	return errs
}

func (p *Program) Instructions() []Instruction {
	return p.link.Code
}

func (p *Program) DirectAddr() int {
	return p.directAddr
}

// AddrForLine resolves a line number to the address of its first
// instruction, for RUN <line> and RESTORE <line>.
func (p *Program) AddrForLine(line uint16) (int, bool) {
	addr, ok := p.link.Symbols[int(line)]
	return addr, ok
}

// LineNumberFor finds which source line owns the instruction at addr,
// by scanning the nonnegative (line-number) symbols for the highest one
// at or below addr. Direct-mode addresses have no line.
func (p *Program) LineNumberFor(addr int) (uint16, bool) {
	if addr >= p.directAddr {
		return 0, false
	}
	best := -1
	bestAddr := -1
	for sym, symAddr := range p.link.Symbols {
		if sym < 0 || symAddr > addr {
			continue
		}
		if symAddr > bestAddr {
			bestAddr = symAddr
			best = sym
		}
	}
	if best < 0 {
		return 0, false
	}
	return uint16(best), true
}
