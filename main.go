package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/retrobasic/basic64k/config"
	"github.com/retrobasic/basic64k/internal/debugger"
	"github.com/retrobasic/basic64k/internal/vm"
)

// Version information - can be overridden at build time with:
// go build -ldflags "-X main.Version=v1.2.3"
var (
	Version = "dev"     // Version number (set by git tag at build time)
	Commit  = "unknown" // Git commit hash
	Date    = "unknown" // Build date
)

func main() {
	// Command-line flags
	var (
		showVersion = flag.Bool("version", false, "Show version information")
		showHelp    = flag.Bool("help", false, "Show help information")
		tuiMode     = flag.Bool("tui", false, "Start the TUI debugger instead of the plain REPL")
		configPath  = flag.String("config", "", "Config file path (default: platform config dir)")
		cycleBudget = flag.Int("cycle-budget", 0, "Opcode cycles per execute burst (overrides config)")
		loadFile    = flag.String("load", "", "Load a BASIC program before entering the REPL")
		runProgram  = flag.Bool("run", false, "RUN the loaded program immediately (with -load)")
	)

	flag.Parse()

	// Show version
	if *showVersion {
		fmt.Printf("64K BASIC %s\n", Version)
		if Commit != "unknown" {
			fmt.Printf("Commit: %s\n", Commit)
		}
		if Date != "unknown" {
			fmt.Printf("Built: %s\n", Date)
		}
		os.Exit(0)
	}

	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	budget := cfg.Execution.CycleBudget
	if *cycleBudget > 0 {
		budget = *cycleBudget
	}

	rt := vm.NewRuntime()

	if *loadFile != "" {
		if err := loadInto(rt, *loadFile); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	// Ctrl-C sets the interpreter's break flag rather than killing the
	// process; Ctrl-D (EOF) exits.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for range sigChan {
			rt.Interrupt()
		}
	}()

	if *tuiMode {
		d := debugger.NewDebugger(rt)
		if err := debugger.NewTUI(d).Run(); err != nil {
			fmt.Fprintf(os.Stderr, "tui: %v\n", err)
			os.Exit(1)
		}
		return
	}

	repl(rt, budget, *runProgram && *loadFile != "")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

// repl is the plain terminal front end: banner, read a line, hand it to
// the interpreter, render events until it parks again.
func repl(rt *vm.Runtime, budget int, autoRun bool) {
	out := bufio.NewWriter(os.Stdout)
	in := bufio.NewScanner(os.Stdin)
	in.Buffer(make([]byte, 4096), 4096)

	fmt.Fprintln(out, "64K BASIC")
	fmt.Fprintln(out, "READY.")
	out.Flush()

	if autoRun {
		rt.RunProgram()
		drive(rt, budget, out, in)
		fmt.Fprintln(out, "READY.")
		out.Flush()
	}

	for {
		out.Flush()
		if !in.Scan() {
			return // EOF / Ctrl-D
		}
		rt.Enter(in.Text())
		drive(rt, budget, out, in)
		fmt.Fprintln(out, "READY.")
	}
}

// drive pumps Execute until the interpreter parks, rendering each event.
func drive(rt *vm.Runtime, budget int, out *bufio.Writer, in *bufio.Scanner) {
	for {
		switch ev := rt.Execute(budget).(type) {
		case vm.Running:
			continue
		case vm.Stopped:
			return
		case vm.Print:
			fmt.Fprint(out, ev.Text)
		case vm.Cls:
			fmt.Fprint(out, "\x1b[2J\x1b[H")
		case vm.Errors:
			for _, e := range ev.Errs {
				fmt.Fprintln(out, e.Error())
			}
		case vm.List:
			fmt.Fprintln(out, ev.Text)
			if len(ev.ErrCols) > 0 {
				fmt.Fprintln(out, underline(ev.Text, ev.ErrCols))
			}
		case vm.Input:
			fmt.Fprint(out, ev.Prompt)
			fmt.Fprint(out, "? ")
			out.Flush()
			if !in.Scan() {
				rt.Interrupt()
				continue
			}
			line := in.Text()
			if ev.Caps {
				line = strings.ToUpper(line)
			}
			rt.Enter(line)
		case vm.Load:
			if err := loadInto(rt, ev.Filename); err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			if ev.AutoRun {
				rt.RunProgram()
			}
		case vm.Save:
			if err := saveFrom(rt, ev.Filename); err != nil {
				fmt.Fprintln(out, err)
			}
		}
	}
}

// underline renders a caret line marking error columns, the host side of
// the interpreter's error-column contract.
func underline(text string, cols []int) string {
	width := len([]rune(text))
	marks := make([]byte, width)
	for i := range marks {
		marks[i] = ' '
	}
	for _, c := range cols {
		if c >= 0 && c < width {
			marks[c] = '^'
		}
	}
	return strings.TrimRight(string(marks), " ")
}

// loadInto reads a program from a file or an http(s) URL into the
// interpreter, replacing the current listing.
func loadInto(rt *vm.Runtime, filename string) error {
	var reader io.ReadCloser
	if strings.HasPrefix(filename, "http://") || strings.HasPrefix(filename, "https://") {
		resp, err := http.Get(filename) // #nosec G107 -- user-supplied LOAD target
		if err != nil {
			return fmt.Errorf("?DEVICE I/O ERROR; %s", strings.ToUpper(err.Error()))
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("?FILE NOT FOUND; %s", filename)
		}
		reader = resp.Body
	} else {
		f, err := os.Open(filename) // #nosec G304 -- user-supplied LOAD target
		if err != nil {
			return fmt.Errorf("?FILE NOT FOUND; %s", filename)
		}
		reader = f
	}
	defer reader.Close()

	rt.ClearProgram()
	scan := bufio.NewScanner(reader)
	scan.Buffer(make([]byte, 4096), 4096)
	for scan.Scan() {
		if err := rt.LoadLine(scan.Text()); err != nil {
			return err
		}
	}
	return scan.Err()
}

// saveFrom writes the listing to a file, one canonical line per row.
func saveFrom(rt *vm.Runtime, filename string) error {
	f, err := os.Create(filename) // #nosec G304 -- user-supplied SAVE target
	if err != nil {
		return fmt.Errorf("?BAD FILE NAME; %s", filename)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, line := range rt.SourceLines() {
		fmt.Fprintln(w, line)
	}
	return w.Flush()
}

func printHelp() {
	fmt.Println("64K BASIC - a line-numbered BASIC interpreter")
	fmt.Println()
	fmt.Println("Usage: basic64k [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Inside the REPL, type numbered lines to store a program,")
	fmt.Println("unnumbered statements to run immediately. RUN starts the")
	fmt.Println("program, LIST shows it, Ctrl-C interrupts, Ctrl-D exits.")
}
