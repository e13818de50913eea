package listing_test

import (
	"testing"

	"github.com/retrobasic/basic64k/internal/lang"
	"github.com/retrobasic/basic64k/internal/listing"
)

func insert(t *testing.T, l *listing.Listing, src string) {
	t.Helper()
	line := lang.Lex(src)
	if line.Number == nil {
		t.Fatalf("%q: expected a numbered line", src)
	}
	if err := l.Insert(*line.Number, line.Tokens); err != nil {
		t.Fatal(err)
	}
}

func numbers(l *listing.Listing) []uint16 {
	var out []uint16
	for _, e := range l.Lines() {
		out = append(out, e.Number)
	}
	return out
}

func TestListing_AscendingOrder(t *testing.T) {
	l := listing.New()
	insert(t, l, "30 PRINT 3")
	insert(t, l, "10 PRINT 1")
	insert(t, l, "20 PRINT 2")

	got := numbers(l)
	want := []uint16{10, 20, 30}
	if len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestListing_ReplaceAndDelete(t *testing.T) {
	l := listing.New()
	insert(t, l, "10 PRINT 1")
	insert(t, l, "10 PRINT 99")
	if l.Len() != 1 {
		t.Fatalf("expected replacement, got %d lines", l.Len())
	}
	toks, _ := l.Get(10)
	if lang.RenderLine(nil, toks) != "PRINT 99" {
		t.Errorf("expected replaced body, got %q", lang.RenderLine(nil, toks))
	}

	// An empty body deletes.
	if err := l.Insert(10, nil); err != nil {
		t.Fatal(err)
	}
	if l.Len() != 0 {
		t.Error("expected deletion via empty body")
	}
	// Deleting again is a no-op: net effect is idempotent.
	if l.Remove(10) {
		t.Error("expected second delete to report absence")
	}
}

func TestListing_RemoveRange(t *testing.T) {
	l := listing.New()
	for _, src := range []string{"10 A=1", "20 A=2", "30 A=3", "40 A=4"} {
		insert(t, l, src)
	}
	if !l.RemoveRange(15, 30) {
		t.Fatal("expected removals")
	}
	got := numbers(l)
	if len(got) != 2 || got[0] != 10 || got[1] != 40 {
		t.Errorf("expected [10 40], got %v", got)
	}
	if l.RemoveRange(100, 200) {
		t.Error("expected no removals outside range")
	}
}

func TestListing_LoadLine(t *testing.T) {
	l := listing.New()
	if err := l.LoadLine("10 PRINT 1"); err != nil {
		t.Fatal(err)
	}
	if err := l.LoadLine(""); err != nil {
		t.Errorf("blank lines must be tolerated: %v", err)
	}
	err := l.LoadLine("PRINT 1")
	if err == nil {
		t.Fatal("expected DirectStatementInFile")
	}
	if e, ok := err.(*lang.Error); !ok || e.Code != lang.DirectStatementInFile {
		t.Errorf("expected DirectStatementInFile, got %v", err)
	}
	// A numbered line with an empty body deletes on load.
	if err := l.LoadLine("10"); err != nil {
		t.Fatal(err)
	}
	if l.Len() != 0 {
		t.Error("expected load of bare number to delete the line")
	}
}

func TestRenum_Basic(t *testing.T) {
	l := listing.New()
	insert(t, l, "5 GOTO 7")
	insert(t, l, "7 GOSUB 9")
	insert(t, l, "9 RETURN")

	if err := l.Renum(10, 0, 10); err != nil {
		t.Fatal(err)
	}
	got := numbers(l)
	if len(got) != 3 || got[0] != 10 || got[1] != 20 || got[2] != 30 {
		t.Fatalf("expected [10 20 30], got %v", got)
	}

	toks, _ := l.Get(10)
	if s := lang.RenderLine(nil, toks); s != "GO TO 20" {
		t.Errorf("expected GOTO target rewritten to 20, got %q", s)
	}
	toks, _ = l.Get(20)
	if s := lang.RenderLine(nil, toks); s != "GO SUB 30" {
		t.Errorf("expected GOSUB target rewritten to 30, got %q", s)
	}
}

func TestRenum_OnGotoListAndThen(t *testing.T) {
	l := listing.New()
	insert(t, l, "1 ON X GOTO 2,3")
	insert(t, l, "2 IF X THEN 3")
	insert(t, l, "3 END")

	if err := l.Renum(100, 0, 5); err != nil {
		t.Fatal(err)
	}
	toks, _ := l.Get(100)
	if s := lang.RenderLine(nil, toks); s != "ON X GO TO 105,110" {
		t.Errorf("ON list not rewritten: %q", s)
	}
	toks, _ = l.Get(105)
	if s := lang.RenderLine(nil, toks); s != "IF X THEN 110" {
		t.Errorf("THEN shorthand not rewritten: %q", s)
	}
}

func TestRenum_PartialFromOldStart(t *testing.T) {
	l := listing.New()
	insert(t, l, "10 A=1")
	insert(t, l, "20 GOTO 30")
	insert(t, l, "30 END")

	// Renumber only lines >= 20.
	if err := l.Renum(200, 20, 10); err != nil {
		t.Fatal(err)
	}
	got := numbers(l)
	if len(got) != 3 || got[0] != 10 || got[1] != 200 || got[2] != 210 {
		t.Fatalf("expected [10 200 210], got %v", got)
	}
	toks, _ := l.Get(200)
	if s := lang.RenderLine(nil, toks); s != "GO TO 210" {
		t.Errorf("reference not rewritten: %q", s)
	}
}

func TestRenum_FailureLeavesListingUnchanged(t *testing.T) {
	l := listing.New()
	insert(t, l, "10 A=1")
	insert(t, l, "20 A=2")
	insert(t, l, "30 A=3")

	// New numbering for the tail would collide with the untouched line 10.
	if err := l.Renum(5, 20, 10); err == nil {
		t.Fatal("expected collision error")
	}
	got := numbers(l)
	if len(got) != 3 || got[0] != 10 || got[1] != 20 || got[2] != 30 {
		t.Errorf("listing must be unchanged on failure, got %v", got)
	}

	// Overflowing the line number space fails too.
	if err := l.Renum(65000, 0, 1000); err == nil {
		t.Error("expected overflow error")
	}
}

func TestRenum_UnmappedReferenceUntouched(t *testing.T) {
	l := listing.New()
	insert(t, l, "10 GOTO 500") // 500 does not exist
	insert(t, l, "20 END")

	if err := l.Renum(100, 0, 10); err != nil {
		t.Fatal(err)
	}
	toks, _ := l.Get(100)
	if s := lang.RenderLine(nil, toks); s != "GO TO 500" {
		t.Errorf("dangling reference must stay as-is, got %q", s)
	}
}
