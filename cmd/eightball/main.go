// Command eightball is the REPL dispatcher and file-I/O driver for the
// EightBall language: it runs a source file, compiles one to bytecode, or
// drives an interactive line-numbered editor/interpreter session, grounded
// on the teacher's cmd/smog/main.go subcommand dispatch (run/compile/
// disassemble/repl/version/help) generalized to this language's own
// numbered-line editing surface.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bobbiw/eightball/internal/diag"
	"github.com/bobbiw/eightball/internal/panicerr"
	"github.com/bobbiw/eightball/pkg/bytecode"
	"github.com/bobbiw/eightball/pkg/compiler"
	"github.com/bobbiw/eightball/pkg/engine"
	"github.com/bobbiw/eightball/pkg/interpret"
	"github.com/bobbiw/eightball/pkg/program"
	"github.com/bobbiw/eightball/pkg/vm"
)

const version = "1.0.0"

func main() {
	log := diag.New(os.Stderr)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if len(os.Args) < 2 {
		runREPL(ctx, log)
		os.Exit(log.ExitCode())
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		fmt.Printf("eightball version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	case "repl":
		runREPL(ctx, log)
	case "run":
		if len(os.Args) < 3 {
			log.Errorf("no file specified")
			printUsage()
			break
		}
		runFile(log, os.Args[2])
	case "comp":
		if len(os.Args) < 3 {
			log.Errorf("no file specified")
			fmt.Println("usage: eightball comp <input.8b> [output.ebc]")
			break
		}
		out := ""
		if len(os.Args) >= 4 {
			out = os.Args[3]
		}
		compileFile(log, os.Args[2], out)
	case "disasm":
		if len(os.Args) < 3 {
			log.Errorf("no file specified")
			fmt.Println("usage: eightball disasm <file.ebc>")
			break
		}
		disassembleFile(log, os.Args[2])
	default:
		runFile(log, os.Args[1])
	}
	os.Exit(log.ExitCode())
}

func printUsage() {
	fmt.Println("eightball - an interpreter and compiler for the EightBall language")
	fmt.Println("\nUsage:")
	fmt.Println("  eightball                    Start interactive REPL")
	fmt.Println("  eightball [file]             Run a .8b source or .ebc bytecode file")
	fmt.Println("  eightball run [file]         Run a .8b source or .ebc bytecode file")
	fmt.Println("  eightball comp <in> [out]    Compile .8b to .ebc bytecode")
	fmt.Println("  eightball disasm <file>      Disassemble an .ebc bytecode file")
	fmt.Println("  eightball repl               Start interactive REPL")
	fmt.Println("  eightball version            Show version")
	fmt.Println("  eightball help               Show this help")
}

// loadSource reads filename into a program.Program, one source line per
// line of the file, numbered from 1.
func loadSource(filename string) (*program.Program, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	prog := program.New()
	for i, line := range strings.Split(string(data), "\n") {
		if err := prog.Set(i+1, line); err != nil {
			return nil, err
		}
	}
	return prog, nil
}

func isBytecodeFile(filename string) bool {
	return filepath.Ext(filename) == ".ebc"
}

func runFile(log *diag.Logger, filename string) {
	if isBytecodeFile(filename) {
		runBytecodeFile(log, filename)
		return
	}
	prog, err := loadSource(filename)
	if err != nil {
		log.Errorf("reading %s: %v", filename, err)
		return
	}
	backend := interpret.New(interpret.WithOutput(os.Stdout), interpret.WithInput(os.Stdin))
	if err := runProtected(func() error { return engine.NewEngine(backend).Run(prog) }); err != nil {
		log.Errorf("%v", err)
	}
}

func runBytecodeFile(log *diag.Logger, filename string) {
	f, err := os.Open(filename)
	if err != nil {
		log.Errorf("reading %s: %v", filename, err)
		return
	}
	defer f.Close()

	code, err := bytecode.Decode(f)
	if err != nil {
		log.Errorf("loading bytecode: %v", err)
		return
	}
	m := vm.New(vm.WithOutput(os.Stdout), vm.WithInput(os.Stdin))
	if err := m.Load(code); err != nil {
		log.Errorf("loading bytecode: %v", err)
		return
	}
	if err := runProtected(m.Run); err != nil {
		log.Errorf("%v", err)
	}
}

func compileFile(log *diag.Logger, inputFile, outputFile string) {
	if outputFile == "" {
		ext := filepath.Ext(inputFile)
		outputFile = strings.TrimSuffix(inputFile, ext) + ".ebc"
	}
	prog, err := loadSource(inputFile)
	if err != nil {
		log.Errorf("reading %s: %v", inputFile, err)
		return
	}
	c := compiler.New()
	if err := runProtected(func() error { return engine.NewEngine(c).Run(prog) }); err != nil {
		log.Errorf("compiling: %v", err)
		return
	}
	outFile, err := os.Create(outputFile)
	if err != nil {
		log.Errorf("creating %s: %v", outputFile, err)
		return
	}
	defer outFile.Close()
	if err := bytecode.Encode(c.Code(), outFile); err != nil {
		log.Errorf("writing bytecode: %v", err)
		return
	}
	fmt.Printf("compiled %s -> %s\n", inputFile, outputFile)
}

func disassembleFile(log *diag.Logger, filename string) {
	f, err := os.Open(filename)
	if err != nil {
		log.Errorf("reading %s: %v", filename, err)
		return
	}
	defer f.Close()
	code, err := bytecode.Decode(f)
	if err != nil {
		log.Errorf("loading bytecode: %v", err)
		return
	}
	text, err := bytecode.Disassemble(code)
	if err != nil {
		log.Errorf("disassembling: %v", err)
	}
	fmt.Print(text)
}

// runProtected runs f, converting an EXIT(99)-class "should never happen"
// panic into a returned error the same way the original implementation's
// longjmp escape hatch unwound to its top-level driver.
func runProtected(f func() error) error {
	return panicerr.Recover("eightball", f)
}

// runREPL drives the line-numbered editor/interpreter session: a line
// starting with a digit edits that source line, ':' commands dispatch to
// pkg/program, and anything else runs immediately against a persistent
// interpreting backend, the same "immediate mode" the original REPL offers
// alongside its line editor.
func runREPL(ctx context.Context, log *diag.Logger) {
	fmt.Printf("eightball %s\n", version)
	fmt.Println("type ':help' for editor commands, ':q' to quit")

	prog := program.New()
	backend := interpret.New(interpret.WithOutput(os.Stdout), interpret.WithInput(os.Stdin))
	eng := engine.NewEngine(backend)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		if ctx.Err() != nil {
			return
		}
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if err := dispatchREPLLine(eng, prog, line); err != nil {
			if err == errQuit {
				return
			}
			log.Printf("ERROR", "%v", err)
		}
	}
}

var errQuit = fmt.Errorf("quit")

func dispatchREPLLine(eng *engine.Engine, prog *program.Program, line string) error {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == ":q" || trimmed == ":quit":
		return errQuit
	case trimmed == ":help":
		printREPLHelp()
		return nil
	case trimmed == "":
		return nil
	case trimmed == ":l":
		for _, e := range prog.List(1, prog.Max()) {
			fmt.Printf("%d %s\n", e.Number, e.Text)
		}
		return nil
	case strings.HasPrefix(trimmed, ":d"):
		return replDelete(prog, strings.TrimSpace(trimmed[2:]))
	case strings.HasPrefix(trimmed, ":a"):
		return replAppendAfter(prog, strings.TrimSpace(trimmed[2:]))
	case strings.HasPrefix(trimmed, ":i"):
		return replInsertBefore(prog, strings.TrimSpace(trimmed[2:]))
	case trimmed == ":c":
		prog.Clear()
		return nil
	case trimmed == "run":
		return eng.Run(prog)
	case startsWithDigit(trimmed):
		return replEditLine(prog, trimmed)
	default:
		return runImmediate(eng, trimmed)
	}
}

func startsWithDigit(s string) bool {
	return len(s) > 0 && s[0] >= '0' && s[0] <= '9'
}

func replEditLine(prog *program.Program, line string) error {
	fields := strings.SplitN(line, " ", 2)
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return fmt.Errorf("invalid line number %q", fields[0])
	}
	text := ""
	if len(fields) == 2 {
		text = fields[1]
	}
	if text == "" {
		prog.Delete(n, n)
		return nil
	}
	return prog.Set(n, text)
}

func replDelete(prog *program.Program, arg string) error {
	fields := strings.Fields(arg)
	if len(fields) == 0 {
		return fmt.Errorf("usage: :d <line> [<to>]")
	}
	from, err := strconv.Atoi(fields[0])
	if err != nil {
		return err
	}
	to := from
	if len(fields) > 1 {
		if to, err = strconv.Atoi(fields[1]); err != nil {
			return err
		}
	}
	prog.Delete(from, to)
	return nil
}

func replAppendAfter(prog *program.Program, arg string) error {
	fields := strings.SplitN(arg, " ", 2)
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return err
	}
	text := ""
	if len(fields) == 2 {
		text = fields[1]
	}
	return prog.AppendAfter(n, text)
}

func replInsertBefore(prog *program.Program, arg string) error {
	fields := strings.SplitN(arg, " ", 2)
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return err
	}
	text := ""
	if len(fields) == 2 {
		text = fields[1]
	}
	return prog.InsertBefore(n, text)
}

// runImmediate executes a single statement right away, against a
// throwaway one-line program run through the session's own engine so
// declared variables persist across immediate-mode statements, mirroring
// the original's direct-mode execution of any line not recognized as an
// edit command.
func runImmediate(eng *engine.Engine, stmt string) error {
	prog := program.New()
	if err := prog.Set(1, stmt); err != nil {
		return err
	}
	return eng.Run(prog)
}

func printREPLHelp() {
	fmt.Println("editor commands:")
	fmt.Println("  N TEXT     set line N to TEXT (TEXT empty deletes it)")
	fmt.Println("  :l         list the program")
	fmt.Println("  :a N TEXT  append TEXT after line N")
	fmt.Println("  :i N TEXT  insert TEXT before line N")
	fmt.Println("  :d N [M]   delete lines N..M")
	fmt.Println("  :c         clear the program")
	fmt.Println("  run        run the current program")
	fmt.Println("  :q         quit")
	fmt.Println("anything else is run immediately as a statement")
}
