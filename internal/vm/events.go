package vm

import "github.com/retrobasic/basic64k/internal/lang"

// Event is what Execute hands back to the host on every suspension
// point: output to show, input to gather, a filesystem request, or a
// state transition. Events are produced in strict opcode order.
type Event interface {
	isEvent()
}

// Running means the cycle budget was exhausted with no observable side
// effect pending; call Execute again to continue.
type Running struct{}

// Stopped means the program has ended (END, direct-mode completion,
// error, or BREAK) and the interpreter is parked awaiting new input.
type Stopped struct{}

// Print carries one chunk of terminal output. A PRINT statement with
// several expressions produces several consecutive Print events.
type Print struct {
	Text string
}

// Input suspends execution awaiting one line of user input; the next
// Enter call supplies it.
type Input struct {
	Prompt string
	Caps   bool
}

// List carries one rendered listing line plus the columns of any compile
// errors recorded against it, for host-side underlining.
type List struct {
	Text    string
	ErrCols []int
}

// Load asks the host to read the named file (or URL) and feed each line
// to LoadLine; AutoRun requests a RunProgram call afterwards (RUN "file").
type Load struct {
	Filename string
	AutoRun  bool
}

// Save asks the host to write SourceLines to the named file.
type Save struct {
	Filename string
}

// Errors carries one or more compile or runtime errors, already
// formatted per the ?MESSAGE wire format by lang.Error.
type Errors struct {
	Errs []*lang.Error
}

// Cls asks the host to clear the terminal.
type Cls struct{}

func (Running) isEvent() {}
func (Stopped) isEvent() {}
func (Print) isEvent()   {}
func (Input) isEvent()   {}
func (List) isEvent()    {}
func (Load) isEvent()    {}
func (Save) isEvent()    {}
func (Errors) isEvent()  {}
func (Cls) isEvent()     {}
