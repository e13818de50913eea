// Package debugger layers breakpoints, variable watchpoints, stepping,
// and a tview TUI over the interpreter. Breakpoints are keyed by BASIC
// line number and watchpoints by variable name, since the bytecode
// addresses shift on every recompile.
package debugger

import (
	"fmt"
	"strings"

	"github.com/retrobasic/basic64k/internal/vm"
)

// StepMode represents different stepping modes
type StepMode int

const (
	StepNone StepMode = iota // Run freely
	StepLine                 // Pause when execution reaches a new source line
)

// Debugger wraps a Runtime with execution control
type Debugger struct {
	Runtime *vm.Runtime

	Breakpoints *BreakpointManager
	Watchpoints *WatchpointManager
	History     *CommandHistory

	StepMode StepMode
	lastLine int // last line a pause was reported on; -1 when unknown

	// Output accumulated while stepping, for the TUI output pane
	Output strings.Builder
}

// NewDebugger creates a new debugger instance
func NewDebugger(rt *vm.Runtime) *Debugger {
	return &Debugger{
		Runtime:     rt,
		Breakpoints: NewBreakpointManager(),
		Watchpoints: NewWatchpointManager(),
		History:     NewCommandHistory(1000),
		lastLine:    -1,
	}
}

// PauseReason describes why Step returned control
type PauseReason int

const (
	PauseNone PauseReason = iota
	PauseBreakpoint
	PauseStep
	PauseWatchpoint
	PauseStopped
	PauseInput
)

// Step runs a small burst of cycles and reports whether (and why) the
// debugger should pause. Print, Errors and List events are folded into
// the output buffer; Input and Stopped events pause at once.
func (d *Debugger) Step(budget int) (PauseReason, vm.Event) {
	ev := d.Runtime.Execute(budget)
	switch e := ev.(type) {
	case vm.Print:
		d.Output.WriteString(e.Text)
	case vm.Errors:
		for _, err := range e.Errs {
			d.Output.WriteString(err.Error() + "\n")
		}
	case vm.List:
		d.Output.WriteString(e.Text + "\n")
	case vm.Input:
		return PauseInput, ev
	case vm.Stopped:
		return PauseStopped, ev
	}

	if hits := d.Watchpoints.CheckWatchpoints(d.Runtime.Vars()); len(hits) > 0 {
		for _, wp := range hits {
			fmt.Fprintf(&d.Output, "watch %s = %s\n", wp.Name, wp.LastValue)
		}
		return PauseWatchpoint, ev
	}

	if line, ok := d.Runtime.CurrentLine(); ok {
		if int(line) != d.lastLine {
			d.lastLine = int(line)
			if d.Breakpoints.CheckBreakpoint(line) {
				return PauseBreakpoint, ev
			}
			if d.StepMode == StepLine {
				return PauseStep, ev
			}
		}
	}
	return PauseNone, ev
}

// DrainOutput returns and clears the accumulated output
func (d *Debugger) DrainOutput() string {
	s := d.Output.String()
	d.Output.Reset()
	return s
}
