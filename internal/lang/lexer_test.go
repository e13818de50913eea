package lang_test

import (
	"testing"

	"github.com/retrobasic/basic64k/internal/lang"
)

func renderAll(tokens []lang.Token) string {
	out := ""
	for _, t := range tokens {
		out += t.Render()
	}
	return out
}

func types(tokens []lang.Token) []lang.TokenType {
	var out []lang.TokenType
	for _, t := range tokens {
		if t.Type != lang.TokWhitespace {
			out = append(out, t.Type)
		}
	}
	return out
}

func TestLex_SubstringKeywords(t *testing.T) {
	tests := []struct {
		input    string
		expected []lang.TokenType
	}{
		// PRINTJ means PRINT J: keyword found by substring, remainder
		// becomes an identifier.
		{"PRINTJ", []lang.TokenType{lang.TokPrint, lang.TokIdentPlain}},
		// BANDS lexes to B AND S.
		{"BANDS", []lang.TokenType{lang.TokIdentPlain, lang.TokAnd, lang.TokIdentPlain}},
		// FORI=1TO5 splits into FOR I = 1 TO 5.
		{"FORI=1TO5", []lang.TokenType{
			lang.TokFor, lang.TokIdentPlain, lang.TokEqual,
			lang.TokIntegerLit, lang.TokTo, lang.TokIntegerLit,
		}},
	}

	for _, tt := range tests {
		line := lang.Lex(tt.input)
		got := types(line.Tokens)
		if len(got) != len(tt.expected) {
			t.Errorf("%q: expected %d tokens, got %d (%v)", tt.input, len(tt.expected), len(got), got)
			continue
		}
		for i := range got {
			if got[i] != tt.expected[i] {
				t.Errorf("%q token %d: expected %v, got %v", tt.input, i, tt.expected[i], got[i])
			}
		}
	}
}

func TestLex_BandsSplit(t *testing.T) {
	line := lang.Lex("BANDS")
	toks := types(line.Tokens)
	if len(toks) != 3 {
		t.Fatalf("expected 3 tokens, got %v", toks)
	}
	var names []string
	for _, tok := range line.Tokens {
		if tok.Type == lang.TokIdentPlain {
			names = append(names, tok.Literal)
		}
	}
	if len(names) != 2 || names[0] != "B" || names[1] != "S" {
		t.Errorf("expected idents B and S, got %v", names)
	}
}

func TestLex_NumericClassification(t *testing.T) {
	tests := []struct {
		input    string
		expected lang.TokenType
	}{
		{"1", lang.TokIntegerLit},
		{"32767", lang.TokIntegerLit},
		{"32768", lang.TokSingleLit}, // does not fit i16
		{"1.5", lang.TokSingleLit},
		{"1E3", lang.TokSingleLit},
		{"1D3", lang.TokDoubleLit},     // D exponent forces Double
		{"12345678", lang.TokDoubleLit}, // >7 significant digits
		{"1!", lang.TokSingleLit},
		{"1#", lang.TokDoubleLit},
		{"1%", lang.TokIntegerLit},
		{".5", lang.TokSingleLit},
	}

	for _, tt := range tests {
		line := lang.Lex("X=" + tt.input)
		toks := types(line.Tokens)
		got := toks[len(toks)-1]
		if got != tt.expected {
			t.Errorf("%q: expected %v, got %v", tt.input, tt.expected, got)
		}
	}
}

func TestLex_DoubleExponentNormalized(t *testing.T) {
	line := lang.Lex("X=1d3")
	last := line.Tokens[len(line.Tokens)-1]
	if last.Type != lang.TokDoubleLit {
		t.Fatalf("expected double literal, got %v", last.Type)
	}
	if last.Literal != "1E3" {
		t.Errorf("expected exponent normalized to E, got %q", last.Literal)
	}
}

func TestLex_GoWordsCollapse(t *testing.T) {
	for input, expected := range map[string]lang.TokenType{
		"GO TO 100":  lang.TokGoto,
		"GO SUB 100": lang.TokGosub,
		"GOTO 100":   lang.TokGoto,
		"GOSUB 100":  lang.TokGosub,
	} {
		line := lang.Lex(input)
		toks := types(line.Tokens)
		if toks[0] != expected {
			t.Errorf("%q: expected first token %v, got %v", input, expected, toks[0])
		}
	}
}

func TestLex_OperatorSynonyms(t *testing.T) {
	tests := []struct {
		input    string
		expected lang.TokenType
	}{
		{"A<>B", lang.TokNotEqual},
		{"A><B", lang.TokNotEqual},
		{"A<=B", lang.TokLessEqual},
		{"A=<B", lang.TokLessEqual},
		{"A>=B", lang.TokGreaterEqual},
		{"A=>B", lang.TokGreaterEqual},
	}
	for _, tt := range tests {
		line := lang.Lex(tt.input)
		toks := types(line.Tokens)
		if len(toks) != 3 || toks[1] != tt.expected {
			t.Errorf("%q: expected middle token %v, got %v", tt.input, tt.expected, toks)
		}
	}
}

func TestLex_LineNumberExtraction(t *testing.T) {
	line := lang.Lex("10 PRINT")
	if line.Number == nil || *line.Number != 10 {
		t.Fatalf("expected line number 10, got %v", line.Number)
	}

	direct := lang.Lex("PRINT")
	if direct.Number != nil {
		t.Errorf("expected direct mode, got line %d", *direct.Number)
	}

	// 65530 is out of range and must not be treated as a line number.
	tooBig := lang.Lex("65530 PRINT")
	if tooBig.Number != nil {
		t.Errorf("expected 65530 to stay a literal, got line number")
	}
}

func TestLex_UnterminatedString(t *testing.T) {
	line := lang.Lex(`PRINT "HELLO`)
	last := line.Tokens[len(line.Tokens)-1]
	if last.Type != lang.TokStringLit || last.Literal != "HELLO" {
		t.Errorf("expected string HELLO, got %v %q", last.Type, last.Literal)
	}
}

func TestLex_QuestionMarkAndApostrophe(t *testing.T) {
	line := lang.Lex("?1")
	if types(line.Tokens)[0] != lang.TokPrint2 {
		t.Errorf("expected ? to lex as PRINT shorthand")
	}

	rem := lang.Lex("'ANYTHING GOES 123")
	toks := types(rem.Tokens)
	if toks[0] != lang.TokRem2 {
		t.Fatalf("expected ' to lex as REM shorthand, got %v", toks[0])
	}
	if len(toks) != 2 || toks[1] != lang.TokUnknown {
		t.Errorf("expected remark body as one Unknown token, got %v", toks)
	}
}

// TestLex_RoundTrip checks the rendering invariant: re-rendering the
// token stream with the number re-prefixed reproduces the canonicalized
// source.
func TestLex_RoundTrip(t *testing.T) {
	tests := []struct {
		input     string
		canonical string
	}{
		{`10 PRINT "HI"`, `10 PRINT "HI"`},
		{"10 printj", "10 PRINT J"},
		{"10 goto100", "10 GO TO 100"},
		{"20 FORI=1TO5:NEXT", "20 FOR I=1 TO 5:NEXT"},
		{`PRINT "HI"`, `PRINT "HI"`},
	}
	for _, tt := range tests {
		line := lang.Lex(tt.input)
		got := lang.RenderLine(line.Number, line.Tokens)
		if got != tt.canonical {
			t.Errorf("%q: expected %q, got %q", tt.input, tt.canonical, got)
		}
	}
}

// TestLex_ColumnSpans checks the column containment invariant: every
// token span lies within the rendered line.
func TestLex_ColumnSpans(t *testing.T) {
	line := lang.Lex(`10 IF A>1 THEN PRINT "BIG"`)
	rendered := renderAll(line.Tokens)
	width := len([]rune(rendered))
	prev := 0
	for i, tok := range line.Tokens {
		if tok.Start < prev || tok.End < tok.Start || tok.End > width {
			t.Errorf("token %d (%v): bad span [%d,%d) in width %d", i, tok.Type, tok.Start, tok.End, width)
		}
		prev = tok.End
	}
}
