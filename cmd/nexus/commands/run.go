package commands

import (
	"context"
	"os"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"nexuslang/internal/bytecode"
	"nexuslang/internal/compiler"
	"nexuslang/internal/lexer"
	"nexuslang/internal/parser"
	"nexuslang/internal/vm"
)

// Run lexes, parses, compiles, and executes one source file.
func Run(ctx context.Context, args []string, logger *zap.Logger) error {
	if len(args) != 1 {
		return usageError("usage: nexus run <source.nx>")
	}
	path := args[0]

	source, err := os.ReadFile(path)
	if err != nil {
		return pkgerrors.Wrapf(err, "read %s", path)
	}

	unit, cerr := compileSource(string(source), path)
	if cerr != nil {
		return cerr
	}

	rt, err := buildRuntime(ctx, logger)
	if err != nil {
		return err
	}
	defer rt.finish(ctx)

	machine := vm.New(append(rt.opts, vm.WithOutput(os.Stdout))...)
	return machine.Run(ctx, unit)
}

// Repl starts the interactive loop with the configured collaborators.
func Repl(ctx context.Context, args []string, logger *zap.Logger) error {
	rt, err := buildRuntime(ctx, logger)
	if err != nil {
		return err
	}
	defer rt.finish(ctx)
	return rt.newRepl().Run(ctx)
}

// compileSource runs the front half of the pipeline on one file's text.
// Parse errors across units are reported together; the first one is
// returned so the caller exits with the compile code.
func compileSource(source, file string) (*bytecode.CompiledUnit, error) {
	tokens := lexer.NewScannerWithFile(source, file).ScanTokens()
	stmts, parseErrs := parser.NewParserWithSource(tokens, source, file).Parse()
	if len(parseErrs) > 0 {
		for _, pe := range parseErrs[1:] {
			os.Stderr.WriteString(pe.Error() + "\n")
		}
		return nil, parseErrs[0]
	}
	unit, err := compiler.NewCompilerWithFile(file).Compile(stmts)
	if err != nil {
		return nil, err
	}
	return unit, nil
}
