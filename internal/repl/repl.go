// Package repl runs the interactive loop: read one input, compile it
// against a persistent session, execute it on a persistent VM, print.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"nexuslang/internal/compiler"
	"nexuslang/internal/lexer"
	"nexuslang/internal/parser"
	"nexuslang/internal/vm"
)

// Repl ties one compiler session to one VM so globals, functions, and
// personality state survive from line to line.
type Repl struct {
	session *compiler.Session
	machine *vm.VM
	in      io.Reader
	out     io.Writer
	prompt  bool
}

// New builds a REPL over the given streams. The prompt only appears
// when input is an interactive terminal, so piped scripts and buffers
// produce clean output.
func New(in io.Reader, out io.Writer, opts ...vm.Option) *Repl {
	prompt := false
	if f, ok := in.(*os.File); ok {
		prompt = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Repl{
		session: compiler.NewSession(),
		machine: vm.New(append([]vm.Option{vm.WithOutput(out)}, opts...)...),
		in:      in,
		out:     out,
		prompt:  prompt,
	}
}

// Run loops until EOF or an "exit" line. Compile and runtime errors
// print and the loop continues; only I/O errors end it early.
func (r *Repl) Run(ctx context.Context) error {
	if r.prompt {
		fmt.Fprintln(r.out, "NexusLang repl | type 'exit' to quit")
	}
	scanner := bufio.NewScanner(r.in)

	for {
		if r.prompt {
			fmt.Fprint(r.out, ">>> ")
		}
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		if line == "exit" {
			break
		}
		if line == "" {
			continue
		}
		r.eval(ctx, line)
	}
	return scanner.Err()
}

// Eval compiles and runs one input against the persistent state. Tests
// drive the REPL through this without streams.
func (r *Repl) Eval(ctx context.Context, line string) error {
	return r.evalErr(ctx, line)
}

func (r *Repl) eval(ctx context.Context, line string) {
	if err := r.evalErr(ctx, line); err != nil {
		fmt.Fprintln(r.out, err.Error())
	}
}

func (r *Repl) evalErr(ctx context.Context, line string) error {
	tokens := lexer.NewScanner(line).ScanTokens()
	stmts, parseErrs := parser.NewParserWithSource(tokens, line, "<repl>").Parse()
	if len(parseErrs) > 0 {
		return parseErrs[0]
	}

	unit, err := compiler.NewSessionCompiler(r.session).Compile(stmts)
	if err != nil {
		return err
	}

	if err := r.machine.Run(ctx, unit); err != nil {
		return err
	}

	// Echo the value of a bare expression, the way every REPL does.
	if isExpressionInput(stmts) {
		if v := r.machine.LastPopped(); v != nil {
			fmt.Fprintln(r.out, vm.Format(v))
		}
	}
	return nil
}

// Machine exposes the underlying VM, e.g. for persisting personality
// state on exit.
func (r *Repl) Machine() *vm.VM { return r.machine }

func isExpressionInput(stmts []parser.Stmt) bool {
	if len(stmts) != 1 {
		return false
	}
	_, ok := stmts[0].(*parser.ExpressionStmt)
	return ok
}
