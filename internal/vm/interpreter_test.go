package vm_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retrobasic/basic64k/internal/vm"
)

// session drives a Runtime the way the terminal host does, collecting
// Print/Errors/List output and pausing on Input.
type session struct {
	t  *testing.T
	rt *vm.Runtime
	out strings.Builder
}

func newSession(t *testing.T) *session {
	return &session{t: t, rt: vm.NewRuntime()}
}

// enter feeds one line and pumps events until the interpreter parks.
func (s *session) enter(line string) {
	s.t.Helper()
	s.rt.Enter(line)
	s.pump()
}

func (s *session) pump() {
	s.t.Helper()
	for i := 0; i < 10000; i++ {
		switch ev := s.rt.Execute(1000).(type) {
		case vm.Running:
			continue
		case vm.Stopped:
			return
		case vm.Print:
			s.out.WriteString(ev.Text)
		case vm.Errors:
			for _, e := range ev.Errs {
				s.out.WriteString(e.Error() + "\n")
			}
		case vm.List:
			s.out.WriteString(ev.Text + "\n")
		case vm.Input:
			return
		case vm.Cls, vm.Load, vm.Save:
			continue
		}
	}
	s.t.Fatal("session did not park within the cycle allowance")
}

func (s *session) output() string { return s.out.String() }

func run(t *testing.T, lines ...string) string {
	s := newSession(t)
	for _, l := range lines {
		s.enter(l)
	}
	return s.output()
}

func TestExpressionPrecedence(t *testing.T) {
	require.Equal(t, " 7 \n", run(t, "?1+2*3"))
}

func TestIntegerOverflow(t *testing.T) {
	require.Equal(t, "?OVERFLOW\n", run(t, "a%=300*300"))
}

func TestForGotoStaleFrame(t *testing.T) {
	out := run(t,
		"10 FOR Y=1 TO 2",
		"20 FOR X=8 TO 9",
		"30 ?Y;X",
		"40 GOTO 60",
		"50 NEXT",
		"60 NEXT Y",
		"RUN",
	)
	require.Equal(t, " 1  8 \n 2  8 \n", out)
}

func TestGosubReturn(t *testing.T) {
	out := run(t,
		"10 GOSUB 100",
		`20 PRINT "WORLD"`,
		"90 END",
		`100 PRINT "HELLO ";`,
		"110 RETURN",
		"RUN",
	)
	require.Equal(t, "HELLO WORLD\n", out)
}

func TestIfElseShortCircuit(t *testing.T) {
	require.Equal(t, "TWO 2 \n", run(t, `IF 0 THEN ?"ONE" ELSE ?"TWO";:?2`))
}

func TestArrayAutoDimAndPrintZones(t *testing.T) {
	out := run(t,
		"10 DIM A$(100), X(10,10)",
		`20 A$(42)="THE ANSWER"`,
		"30 X(4,2)=2.7182818",
		`40 PRINT A$(42)+"!", X(4,2)`,
		"RUN",
	)
	require.Equal(t, "THE ANSWER!    2.7182817 \n", out)
}

func TestBreakDuringInput(t *testing.T) {
	s := newSession(t)
	s.enter("10 INPUT A")
	s.enter("RUN") // parks on the Input event
	s.rt.Interrupt()
	s.pump()
	require.Equal(t, "?BREAK IN 10\n", s.output())
}

func TestInputStoresValues(t *testing.T) {
	s := newSession(t)
	s.enter("10 INPUT A,B$")
	s.enter("20 PRINT A;B$")
	s.enter("RUN")
	s.enter("5,HELLO")
	require.Equal(t, " 5 HELLO\n", s.output())
}

func TestInputRedoFromStart(t *testing.T) {
	s := newSession(t)
	s.enter("10 INPUT A")
	s.enter("20 PRINT A")
	s.enter("RUN")
	s.enter("NOT A NUMBER") // re-prompts
	s.enter("42")
	out := s.output()
	assert.Contains(t, out, "?REDO FROM START\n")
	assert.True(t, strings.HasSuffix(out, " 42 \n"), "got %q", out)
}

func TestInputCountMismatchRedoes(t *testing.T) {
	s := newSession(t)
	s.enter("10 INPUT A,B")
	s.enter("20 PRINT A+B")
	s.enter("RUN")
	s.enter("1,2,3") // too many fields
	s.enter("1,2")
	out := s.output()
	assert.Contains(t, out, "?REDO FROM START\n")
	assert.True(t, strings.HasSuffix(out, " 3 \n"), "got %q", out)
}

func TestStopAndCont(t *testing.T) {
	s := newSession(t)
	s.enter("10 PRINT 1")
	s.enter("20 STOP")
	s.enter("30 PRINT 2")
	s.enter("RUN")
	require.Equal(t, " 1 \n?BREAK IN 20\n", s.output())
	s.enter("CONT")
	require.Equal(t, " 1 \n?BREAK IN 20\n 2 \n", s.output())
}

func TestContAfterEditRefused(t *testing.T) {
	s := newSession(t)
	s.enter("10 STOP")
	s.enter("RUN")
	s.enter("20 PRINT 1") // editing invalidates CONT
	s.enter("CONT")
	assert.Contains(t, s.output(), "?CAN'T CONTINUE\n")
}

func TestWhileWend(t *testing.T) {
	out := run(t,
		"10 I=0",
		"20 WHILE I<3",
		"30 I=I+1",
		"40 WEND",
		"50 PRINT I",
		"RUN",
	)
	require.Equal(t, " 3 \n", out)
}

func TestDefFn(t *testing.T) {
	out := run(t,
		"10 DEF FNSQ(X)=X*X",
		"20 PRINT FNSQ(3)",
		"RUN",
	)
	require.Equal(t, " 9 \n", out)
}

func TestUndefinedUserFunction(t *testing.T) {
	out := run(t, "?FNZ(1)")
	require.Equal(t, "?UNDEFINED USER FUNCTION\n", out)
}

func TestOnGoto(t *testing.T) {
	out := run(t,
		"10 N=2",
		"20 ON N GOTO 100,200",
		`30 PRINT "FELL"`,
		"40 END",
		`100 PRINT "A"`,
		"110 END",
		`200 PRINT "B"`,
		"RUN",
	)
	require.Equal(t, "B\n", out)

	// Selector 0 falls through to the next statement.
	out = run(t,
		"10 ON N GOTO 100,200",
		`20 PRINT "FELL"`,
		"30 END",
		`100 PRINT "A"`,
		"200 END",
		"RUN",
	)
	require.Equal(t, "FELL\n", out)

	// A negative selector is an error.
	out = run(t,
		"10 ON -1 GOTO 100",
		"100 END",
		"RUN",
	)
	require.Equal(t, "?ILLEGAL FUNCTION CALL IN 10\n", out)
}

func TestOnGosubReturns(t *testing.T) {
	out := run(t,
		"10 ON 1 GOSUB 100",
		`20 PRINT "BACK"`,
		"30 END",
		`100 PRINT "SUB"`,
		"110 RETURN",
		"RUN",
	)
	require.Equal(t, "SUB\nBACK\n", out)
}

func TestReadDataRestore(t *testing.T) {
	out := run(t,
		"10 DATA 1,2,3",
		"20 READ A,B",
		"30 RESTORE",
		"40 READ C",
		"50 PRINT A;B;C",
		"RUN",
	)
	require.Equal(t, " 1  2  1 \n", out)
}

func TestOutOfData(t *testing.T) {
	out := run(t,
		"10 DATA 1",
		"20 READ A,B",
		"RUN",
	)
	require.Equal(t, "?OUT OF DATA IN 20\n", out)
}

func TestMidAssignment(t *testing.T) {
	out := run(t,
		`10 A$="ABCDEF"`,
		`20 MID$(A$,3,2)="XY"`,
		"30 PRINT A$",
		"RUN",
	)
	require.Equal(t, "ABXYEF\n", out)
}

func TestSwap(t *testing.T) {
	out := run(t,
		"10 A=1:B=2",
		"20 SWAP A,B",
		"30 PRINT A;B",
		"RUN",
	)
	require.Equal(t, " 2  1 \n", out)
}

func TestTronTrace(t *testing.T) {
	out := run(t,
		"10 PRINT 1",
		"20 PRINT 2",
		"TRON",
		"RUN",
	)
	require.Equal(t, "[10] 1 \n[20] 2 \n", out)
}

func TestNextWithoutFor(t *testing.T) {
	require.Equal(t, "?NEXT WITHOUT FOR\n", run(t, "NEXT"))
}

func TestReturnWithoutGosub(t *testing.T) {
	require.Equal(t, "?RETURN WITHOUT GOSUB\n", run(t, "RETURN"))
}

func TestUndefinedLineReportedAtRun(t *testing.T) {
	out := run(t,
		"10 GOTO 500",
		"RUN",
	)
	assert.Contains(t, out, "?UNDEFINED LINE IN 10")
}

func TestDivisionByZero(t *testing.T) {
	require.Equal(t, "?DIVISION BY ZERO\n", run(t, "?1/0"))
}

func TestListAscendingWithRanges(t *testing.T) {
	s := newSession(t)
	s.enter("30 C=3")
	s.enter("10 A=1")
	s.enter("20 B=2")
	s.enter("LIST")
	require.Equal(t, "10 A=1\n20 B=2\n30 C=3\n", s.output())

	s.out.Reset()
	s.enter("LIST 20")
	require.Equal(t, "20 B=2\n", s.output())
}

func TestDeleteAndRerun(t *testing.T) {
	s := newSession(t)
	s.enter("10 PRINT 1")
	s.enter("20 PRINT 2")
	s.enter("DELETE 10")
	s.enter("RUN")
	require.Equal(t, " 2 \n", s.output())
}

func TestNewWipesEverything(t *testing.T) {
	s := newSession(t)
	s.enter("10 PRINT 1")
	s.enter("A=5")
	s.enter("NEW")
	s.enter("LIST")
	s.enter("PRINT A")
	require.Equal(t, " 0 \n", s.output())
}

func TestClearWipesVariablesNotProgram(t *testing.T) {
	s := newSession(t)
	s.enter("10 PRINT A")
	s.enter("A=5")
	s.enter("CLEAR")
	s.enter("PRINT A")
	require.Equal(t, " 0 \n", s.output())
}

func TestVariablesSurviveEndForCont(t *testing.T) {
	s := newSession(t)
	s.enter("10 A=7:END")
	s.enter("RUN")
	s.enter("PRINT A")
	require.Equal(t, " 7 \n", s.output())
}

func TestRunWipesVariables(t *testing.T) {
	s := newSession(t)
	s.enter("10 PRINT A")
	s.enter("A=5")
	s.enter("RUN")
	require.Equal(t, " 0 \n", s.output())
}

func TestStringBuiltins(t *testing.T) {
	require.Equal(t, "BC\n", run(t, `?MID$("ABCD",2,2)`))
	require.Equal(t, " 3 \n", run(t, `?LEN("ABC")`))
	require.Equal(t, " 65 \n", run(t, `?ASC("A")`))
	require.Equal(t, "A\n", run(t, "?CHR$(65)"))
	require.Equal(t, " 2 \n", run(t, `?INSTR("ABAB","BA")`))
	require.Equal(t, "FF\n", run(t, "?HEX$(255)"))
}

func TestNumericBuiltins(t *testing.T) {
	require.Equal(t, " 5 \n", run(t, "?ABS(-5)"))
	require.Equal(t, "-1 \n", run(t, "?SGN(-3)"))
	require.Equal(t, " 3 \n", run(t, "?INT(3.9)"))
	require.Equal(t, "-4 \n", run(t, "?INT(-3.1)")) // floor, not trunc
	require.Equal(t, "-3 \n", run(t, "?FIX(-3.9)")) // trunc
	require.Equal(t, " 4 \n", run(t, "?SQR(16)"))
}

func TestRndDeterministicSequence(t *testing.T) {
	a := run(t, "?RND(1);RND(1)")
	b := run(t, "?RND(1);RND(1)")
	require.Equal(t, a, b, "fresh runtimes must agree")

	// RND(0) repeats the previous draw.
	s := newSession(t)
	s.enter("A=RND(1):B=RND(0):PRINT A-B")
	require.Equal(t, " 0 \n", s.output())
}

func TestReservedNameAssignmentRejected(t *testing.T) {
	out := run(t, "ABS=1")
	assert.Contains(t, out, "?SYNTAX ERROR")
}

func TestDefTypeChangesPlainVariables(t *testing.T) {
	out := run(t,
		"10 DEFINT I-N",
		"20 I=2.7",
		"30 PRINT I",
		"RUN",
	)
	require.Equal(t, " 3 \n", out)
}

func TestEraseAllowsRedim(t *testing.T) {
	out := run(t,
		"10 DIM A(5)",
		"20 ERASE A",
		"30 DIM A(2,2)",
		`40 PRINT "OK"`,
		"RUN",
	)
	require.Equal(t, "OK\n", out)

	out = run(t,
		"10 DIM A(5)",
		"20 DIM A(5)",
		"RUN",
	)
	assert.Contains(t, out, "?REDIMENSIONED ARRAY IN 20")
}

func TestSubscriptOutOfRange(t *testing.T) {
	out := run(t,
		"10 A(11)=1", // implicit bound is 10
		"RUN",
	)
	require.Equal(t, "?SUBSCRIPT OUT OF RANGE IN 10\n", out)
}

func TestNestedForLoops(t *testing.T) {
	out := run(t,
		"10 FOR I=1 TO 2:FOR J=1 TO 2",
		"20 PRINT I*10+J;",
		"30 NEXT J:NEXT I",
		"40 PRINT",
		"RUN",
	)
	require.Equal(t, " 11  12  21  22 \n", out)
}

func TestForStepDownwards(t *testing.T) {
	out := run(t,
		"10 FOR I=3 TO 1 STEP -1:PRINT I;:NEXT",
		"20 PRINT",
		"RUN",
	)
	require.Equal(t, " 3  2  1 \n", out)
}

func TestGotoDirectIntoProgram(t *testing.T) {
	s := newSession(t)
	s.enter(`10 PRINT "AT TEN"`)
	s.enter("GOTO 10")
	require.Equal(t, "AT TEN\n", s.output())
}

func TestRunFromLine(t *testing.T) {
	out := run(t,
		"10 PRINT 1",
		"20 PRINT 2",
		"RUN 20",
	)
	require.Equal(t, " 2 \n", out)
}

func TestTabBuiltin(t *testing.T) {
	require.Equal(t, "     X\n", run(t, `?TAB(5);"X"`))
}

func TestPrintSemicolonGluesNumbers(t *testing.T) {
	require.Equal(t, " 1  2 -3 \n", run(t, "?1;2;-3"))
}
