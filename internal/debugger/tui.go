package debugger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// TUI is the interactive debugger view: the listing with the current
// line and breakpoints marked, the variable table, the FOR/GOSUB frame
// stack, program output, and a command prompt.
type TUI struct {
	Debugger *Debugger
	App      *tview.Application

	MainLayout *tview.Flex
	LeftPanel  *tview.Flex
	RightPanel *tview.Flex

	ListingView   *tview.TextView
	VariableView  *tview.TextView
	FramesView    *tview.TextView
	OutputView    *tview.TextView
	CommandInput  *tview.InputField
	StatusBar     *tview.TextView

	running bool
}

// NewTUI creates the debugger interface
func NewTUI(d *Debugger) *TUI {
	t := &TUI{
		Debugger: d,
		App:      tview.NewApplication(),
	}

	t.initializeViews()
	t.buildLayout()
	t.setupKeyBindings()

	return t
}

func (t *TUI) initializeViews() {
	t.ListingView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	t.ListingView.SetBorder(true).SetTitle(" Listing ")

	t.VariableView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	t.VariableView.SetBorder(true).SetTitle(" Variables ")

	t.FramesView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	t.FramesView.SetBorder(true).SetTitle(" Control Stack ")

	t.OutputView = tview.NewTextView().
		SetDynamicColors(false).
		SetScrollable(true).
		SetWrap(true)
	t.OutputView.SetBorder(true).SetTitle(" Output ")

	t.StatusBar = tview.NewTextView().SetDynamicColors(true)

	t.CommandInput = tview.NewInputField().SetLabel("debug> ")
	t.CommandInput.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		cmd := strings.TrimSpace(t.CommandInput.GetText())
		t.CommandInput.SetText("")
		t.Debugger.History.Add(cmd)
		t.handleCommand(cmd)
	})
}

func (t *TUI) buildLayout() {
	t.LeftPanel = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(t.ListingView, 0, 3, false).
		AddItem(t.OutputView, 0, 2, false)

	t.RightPanel = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(t.VariableView, 0, 2, false).
		AddItem(t.FramesView, 0, 1, false)

	body := tview.NewFlex().
		AddItem(t.LeftPanel, 0, 2, false).
		AddItem(t.RightPanel, 0, 1, false)

	t.MainLayout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(body, 0, 1, false).
		AddItem(t.StatusBar, 1, 0, false).
		AddItem(t.CommandInput, 1, 0, true)
}

func (t *TUI) setupKeyBindings() {
	t.App.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF5:
			t.handleCommand("run")
			return nil
		case tcell.KeyF10:
			t.handleCommand("step")
			return nil
		case tcell.KeyCtrlC:
			t.Debugger.Runtime.Interrupt()
			return nil
		case tcell.KeyUp:
			if t.App.GetFocus() == t.CommandInput {
				t.CommandInput.SetText(t.Debugger.History.Previous())
				return nil
			}
		case tcell.KeyDown:
			if t.App.GetFocus() == t.CommandInput {
				t.CommandInput.SetText(t.Debugger.History.Next())
				return nil
			}
		}
		return event
	})
}

// Run starts the interface event loop
func (t *TUI) Run() error {
	t.refresh("ready")
	return t.App.SetRoot(t.MainLayout, true).SetFocus(t.CommandInput).Run()
}

func (t *TUI) handleCommand(cmd string) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return
	}
	switch parts[0] {
	case "q", "quit":
		t.App.Stop()
	case "run", "r":
		t.Debugger.StepMode = StepNone
		t.Debugger.Runtime.RunProgram()
		t.resume()
	case "cont", "c":
		t.Debugger.StepMode = StepNone
		t.Debugger.Runtime.Enter("CONT")
		t.resume()
	case "step", "s":
		t.Debugger.StepMode = StepLine
		t.resume()
	case "break", "b":
		if len(parts) < 2 {
			t.refresh("usage: break <line>")
			return
		}
		n, err := strconv.ParseUint(parts[1], 10, 16)
		if err != nil {
			t.refresh("bad line number")
			return
		}
		bp := t.Debugger.Breakpoints.AddBreakpoint(uint16(n), false)
		t.refresh(fmt.Sprintf("breakpoint %d at line %d", bp.ID, bp.Line))
	case "delete", "d":
		if len(parts) < 2 {
			t.refresh("usage: delete <id>")
			return
		}
		id, _ := strconv.Atoi(parts[1])
		if err := t.Debugger.Breakpoints.DeleteBreakpoint(id); err != nil {
			t.refresh(err.Error())
			return
		}
		t.refresh(fmt.Sprintf("deleted breakpoint %d", id))
	case "watch", "w":
		if len(parts) < 2 {
			t.refresh("usage: watch <variable>")
			return
		}
		wp := t.Debugger.Watchpoints.AddWatchpoint(strings.ToUpper(parts[1]))
		t.refresh(fmt.Sprintf("watchpoint %d on %s", wp.ID, wp.Name))
	default:
		// Anything else is a BASIC line, handed straight to the REPL.
		t.Debugger.Runtime.Enter(strings.ToUpper(cmd))
		t.resume()
	}
}

// resume drives the runtime until it pauses, updating the panes.
func (t *TUI) resume() {
	t.running = true
	for t.running {
		reason, _ := t.Debugger.Step(1000)
		switch reason {
		case PauseNone:
			continue
		case PauseBreakpoint:
			t.refresh("breakpoint hit")
		case PauseStep:
			t.refresh("stepped")
		case PauseWatchpoint:
			t.refresh("watchpoint hit")
		case PauseInput:
			t.refresh("awaiting INPUT; type the response and press enter")
		case PauseStopped:
			t.refresh("stopped")
		}
		t.running = false
	}
}

// refresh redraws every pane from current interpreter state.
func (t *TUI) refresh(status string) {
	rt := t.Debugger.Runtime

	curLine := -1
	if n, ok := rt.CurrentLine(); ok {
		curLine = int(n)
	}

	var listing strings.Builder
	for _, e := range rt.Listing().Lines() {
		marker := "  "
		if t.breakpointAt(e.Number) {
			marker = "[red]●[-] "
		}
		if int(e.Number) == curLine {
			fmt.Fprintf(&listing, "%s[yellow]%s[-]\n", marker, e.Render())
		} else {
			fmt.Fprintf(&listing, "%s%s\n", marker, e.Render())
		}
	}
	t.ListingView.SetText(listing.String())

	var varsText strings.Builder
	store := rt.Vars()
	for _, name := range store.Names() {
		if v, ok := store.Peek(name); ok {
			fmt.Fprintf(&varsText, "%-12s %s\n", name, v.String())
		}
	}
	t.VariableView.SetText(varsText.String())

	var frames strings.Builder
	for _, f := range rt.ControlFrames() {
		frames.WriteString(f + "\n")
	}
	t.FramesView.SetText(frames.String())

	if out := t.Debugger.DrainOutput(); out != "" {
		fmt.Fprint(t.OutputView, out)
	}

	t.StatusBar.SetText(fmt.Sprintf("[green]%s[-] | state: %s | F5 run  F10 step  Ctrl-C break", status, rt.State()))
}

func (t *TUI) breakpointAt(line uint16) bool {
	for _, bp := range t.Debugger.Breakpoints.ListBreakpoints() {
		if bp.Line == line && bp.Enabled {
			return true
		}
	}
	return false
}
