// Package listing implements the line-number-keyed program source: an
// ordered store of lexed lines supporting insertion, deletion, range
// listing, file load, and renumbering. Storage is a map plus a lazily
// sorted key slice rather than an ordered tree; listings are small and
// iteration order only matters at LIST/compile time.
package listing

import (
	"sort"
	"strconv"

	"github.com/retrobasic/basic64k/internal/lang"
)

// MaxLineLen bounds one source line, in Unicode scalars.
const MaxLineLen = 1024

// MaxLineNumber is the highest storable line number.
const MaxLineNumber = 65529

// maxLines caps the listing size; exceeding it raises OutOfMemory.
const maxLines = 65530

// Entry is one stored source line: its number and its canonical token
// stream as produced by the lexer.
type Entry struct {
	Number uint16
	Tokens []lang.Token
}

// Render reproduces the canonical listing form, number prefix included.
func (e *Entry) Render() string {
	n := e.Number
	return lang.RenderLine(&n, e.Tokens)
}

// Listing is the ordered program source.
type Listing struct {
	lines map[uint16][]lang.Token
	order []uint16 // sorted; nil when stale
}

func New() *Listing {
	return &Listing{lines: make(map[uint16][]lang.Token)}
}

// Clear removes every line (NEW).
func (l *Listing) Clear() {
	l.lines = make(map[uint16][]lang.Token)
	l.order = nil
}

func (l *Listing) Len() int      { return len(l.lines) }
func (l *Listing) IsEmpty() bool { return len(l.lines) == 0 }

// Insert stores (or replaces) a line. An empty token stream deletes the
// line instead, matching the REPL grammar where entering a bare number
// removes it.
func (l *Listing) Insert(number uint16, tokens []lang.Token) error {
	if len(tokens) == 0 {
		l.Remove(number)
		return nil
	}
	if _, exists := l.lines[number]; !exists && len(l.lines) >= maxLines {
		return lang.NewError(lang.OutOfMemory)
	}
	l.lines[number] = tokens
	l.order = nil
	return nil
}

// Remove deletes one line, reporting whether it existed.
func (l *Listing) Remove(number uint16) bool {
	if _, ok := l.lines[number]; !ok {
		return false
	}
	delete(l.lines, number)
	l.order = nil
	return true
}

// RemoveRange deletes every line in [from,to], reporting whether any
// existed (DELETE's behavior).
func (l *Listing) RemoveRange(from, to uint16) bool {
	removed := false
	for _, n := range l.numbers() {
		if n >= from && n <= to {
			delete(l.lines, n)
			removed = true
		}
	}
	if removed {
		l.order = nil
	}
	return removed
}

// Get returns one line's tokens.
func (l *Listing) Get(number uint16) ([]lang.Token, bool) {
	t, ok := l.lines[number]
	return t, ok
}

func (l *Listing) numbers() []uint16 {
	if l.order == nil {
		l.order = make([]uint16, 0, len(l.lines))
		for n := range l.lines {
			l.order = append(l.order, n)
		}
		sort.Slice(l.order, func(i, j int) bool { return l.order[i] < l.order[j] })
	}
	return l.order
}

// Lines returns every entry in ascending line-number order.
func (l *Listing) Lines() []Entry {
	out := make([]Entry, 0, len(l.lines))
	for _, n := range l.numbers() {
		out = append(out, Entry{Number: n, Tokens: l.lines[n]})
	}
	return out
}

// Range returns the entries in [from,to], ascending.
func (l *Listing) Range(from, to uint16) []Entry {
	var out []Entry
	for _, n := range l.numbers() {
		if n >= from && n <= to {
			out = append(out, Entry{Number: n, Tokens: l.lines[n]})
		}
	}
	return out
}

// LoadLine consumes one line of a LOADed file: a numbered line is stored,
// a numbered line with an empty body deletes, and an unnumbered line is
// rejected as DirectStatementInFile.
func (l *Listing) LoadLine(src string) error {
	if len([]rune(src)) > MaxLineLen {
		return lang.NewError(lang.OutOfMemory).WithExtra("LINE BUFFER OVERFLOW")
	}
	lexed := lang.Lex(src)
	if lexed.Number == nil {
		if len(lexed.Tokens) == 0 {
			return nil // blank line, tolerated
		}
		return lang.NewError(lang.DirectStatementInFile)
	}
	return l.Insert(*lexed.Number, lexed.Tokens)
}

// Renum reassigns line numbers starting at newStart for every line
// >= oldStart, stepping by step, and rewrites every line-number
// reference (GOTO, GOSUB, THEN/ELSE shorthand, ON...GOTO/GOSUB lists,
// RESTORE, RUN, LIST, DELETE) through the old-to-new map. A numbering
// that would collide with the untouched prefix, run out of room, or
// reorder lines leaves the listing unchanged and returns an error.
func (l *Listing) Renum(newStart, oldStart uint16, step uint16) error {
	if step == 0 {
		step = 10
	}
	nums := l.numbers()
	split := sort.Search(len(nums), func(i int) bool { return nums[i] >= oldStart })
	tail := nums[split:]
	if len(tail) == 0 {
		return nil
	}
	if split > 0 && newStart <= nums[split-1] {
		return lang.NewError(lang.IllegalFunctionCall)
	}
	last := int(newStart) + (len(tail)-1)*int(step)
	if last > MaxLineNumber {
		return lang.NewError(lang.IllegalFunctionCall)
	}

	mapping := make(map[uint16]uint16, len(nums))
	for _, n := range nums[:split] {
		mapping[n] = n
	}
	next := newStart
	for _, n := range tail {
		mapping[n] = next
		next += step
	}

	renamed := make(map[uint16][]lang.Token, len(l.lines))
	for old, tokens := range l.lines {
		renamed[mapping[old]] = renumTokens(tokens, mapping)
	}
	l.lines = renamed
	l.order = nil
	return nil
}

// renumTokens rewrites line-number operands inside one token stream. The
// scan enters "line list" mode after a target-taking keyword and stays
// there across commas and range dashes, so ON X GOTO 10,20,30 and
// LIST 10-50 both update; an unmapped number (a reference to a line that
// never existed) passes through untouched and still reports UNDEFINED
// LINE when run.
func renumTokens(tokens []lang.Token, mapping map[uint16]uint16) []lang.Token {
	out := make([]lang.Token, len(tokens))
	copy(out, tokens)
	expectLines := false
	for i := range out {
		switch out[i].Type {
		case lang.TokGoto, lang.TokGosub, lang.TokThen, lang.TokElse,
			lang.TokRestore, lang.TokDelete, lang.TokList, lang.TokRun:
			expectLines = true
		case lang.TokIntegerLit, lang.TokSingleLit, lang.TokDoubleLit:
			if !expectLines || !lang.IsLineNumberToken(out[i]) {
				continue
			}
			n, err := strconv.ParseUint(out[i].Literal, 10, 16)
			if err != nil || n > MaxLineNumber {
				continue
			}
			if renamed, ok := mapping[uint16(n)]; ok {
				out[i].Literal = strconv.Itoa(int(renamed))
			}
		case lang.TokWhitespace, lang.TokComma, lang.TokMinus:
			// stay in line-list mode across separators
		default:
			expectLines = false
		}
	}
	reassignColumns(out)
	return out
}

// reassignColumns recomputes token spans after literal rewrites changed
// rendered widths.
func reassignColumns(tokens []lang.Token) {
	col := 0
	for i := range tokens {
		tokens[i].Start = col
		col += len([]rune(tokens[i].Render()))
		tokens[i].End = col
	}
}
