package vm

import (
	"testing"

	"github.com/retrobasic/basic64k/internal/lang"
	"github.com/retrobasic/basic64k/internal/value"
)

func TestLinkable_LocalSymbolResolution(t *testing.T) {
	l := NewLinkable()
	sym := l.NextSymbol()
	l.PushJump(sym, 0, 0)
	l.Push(Instruction{Code: OpEnd})
	l.MarkSymbol(sym)
	l.Push(Instruction{Code: OpStop})

	if errs := l.Link(); len(errs) != 0 {
		t.Fatalf("unexpected link errors: %v", errs[0])
	}
	if l.Code[0].Addr != 2 {
		t.Errorf("expected jump target 2, got %d", l.Code[0].Addr)
	}
	if len(l.Unlinked) != 0 {
		t.Errorf("expected empty unlinked table after link")
	}
}

func TestLinkable_AppendShiftsSymbolsAndAddresses(t *testing.T) {
	a := NewLinkable()
	aSym := a.NextSymbol() // -1
	a.Push(Instruction{Code: OpEnd})
	a.MarkSymbol(aSym)

	b := NewLinkable()
	bSym := b.NextSymbol() // -1 in b's space
	b.PushJump(bSym, 0, 0)
	b.MarkSymbol(bSym)
	b.Symbols[100] = 0 // line-number symbol stays global

	a.Append(b)

	// b's local -1 must shift past a's counter to -2; the line symbol
	// keeps its value but its address moves by a's length.
	if _, ok := a.Symbols[-2]; !ok {
		t.Errorf("expected shifted local symbol -2, have %v", a.Symbols)
	}
	if addr, ok := a.Symbols[100]; !ok || addr != 1 {
		t.Errorf("expected line symbol 100 at address 1, got %d %v", addr, ok)
	}
	if errs := a.Link(); len(errs) != 0 {
		t.Fatalf("link failed after append: %v", errs[0])
	}
	if a.Code[1].Addr != 2 {
		t.Errorf("expected appended jump resolved to 2, got %d", a.Code[1].Addr)
	}
}

func TestLinkable_MissingLineIsUndefinedLine(t *testing.T) {
	l := NewLinkable()
	l.PushGoto(500, 30, 8)
	errs := l.Link()
	if len(errs) != 1 {
		t.Fatalf("expected one error, got %d", len(errs))
	}
	e := errs[0]
	if e.Code != lang.UndefinedLine {
		t.Errorf("expected UndefinedLine, got %v", e.Code)
	}
	if e.Error() != "?UNDEFINED LINE IN 30:9" {
		t.Errorf("unexpected rendering %q", e.Error())
	}
}

func TestLinkable_MissingLocalIsInternalError(t *testing.T) {
	l := NewLinkable()
	l.PushJump(l.NextSymbol(), 0, 0) // never marked
	errs := l.Link()
	if len(errs) != 1 || errs[0].Code != lang.InternalError {
		t.Fatalf("expected InternalError, got %v", errs)
	}
}

func TestLinkable_MarkerLiteralsResolve(t *testing.T) {
	l := NewLinkable()
	retSym := l.NextSymbol()
	l.PushReturnMarker(retSym, 0, 0)
	nextSym := l.NextSymbol()
	l.PushNextMarker(nextSym, "I", 0, 0)
	l.MarkSymbol(retSym)
	l.MarkSymbol(nextSym)

	if errs := l.Link(); len(errs) != 0 {
		t.Fatalf("link failed: %v", errs[0])
	}
	if l.Code[0].Val.Kind != value.Return || l.Code[0].Val.Addr != 2 {
		t.Errorf("Return marker not resolved: %+v", l.Code[0].Val)
	}
	if l.Code[1].Val.Kind != value.Next || l.Code[1].Val.Addr != 2 || l.Code[1].Val.Str != "I" {
		t.Errorf("Next marker not resolved: %+v", l.Code[1].Val)
	}
}

func TestProgram_LineNumberMapping(t *testing.T) {
	p := NewProgram()
	mk := func(src string) *lang.ParsedLine {
		line := lang.Lex(src)
		pl := lang.ParseLine(line.Number, line.Tokens)
		return &pl
	}
	p.Compile([]*lang.ParsedLine{mk("10 A=1"), mk("20 A=2")}, nil)
	if errs := p.Link(); len(errs) != 0 {
		t.Fatalf("link failed: %v", errs[0])
	}

	addr10, ok := p.AddrForLine(10)
	if !ok {
		t.Fatal("line 10 unmapped")
	}
	if n, ok := p.LineNumberFor(addr10); !ok || n != 10 {
		t.Errorf("expected address %d to map back to line 10, got %d %v", addr10, n, ok)
	}
	// Direct-mode addresses map to no line.
	if _, ok := p.LineNumberFor(p.DirectAddr()); ok {
		t.Error("expected direct-mode address to have no line")
	}
}
