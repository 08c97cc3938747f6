package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"nexuslang/cmd/nexus/commands"
	"nexuslang/internal/compiler"
	"nexuslang/internal/errors"
)

// Exit codes per the CLI contract.
const (
	exitOK      = 0
	exitCompile = 1
	exitRuntime = 2
	exitIO      = 3
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		showUsage()
		os.Exit(exitIO)
	}

	switch args[0] {
	case "help", "--help", "-h":
		showUsage()
		return
	case "version", "--version", "-v":
		fmt.Printf("nexus %s\n", compiler.Version)
		return
	}

	logger := buildLogger()
	defer logger.Sync()

	ctx := context.Background()

	var err error
	switch args[0] {
	case "run":
		err = commands.Run(ctx, args[1:], logger)
	case "compile":
		err = commands.Compile(args[1:], logger)
	case "exec":
		err = commands.Exec(ctx, args[1:], logger)
	case "repl":
		err = commands.Repl(ctx, args[1:], logger)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		showUsage()
		os.Exit(exitIO)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the documented process exit code: compile
// problems (lexing through compilation) are 1, runtime faults are 2,
// and everything else (I/O, artifact format, usage) is 3.
func exitCode(err error) int {
	ne, ok := err.(*errors.NexusError)
	if !ok {
		return exitIO
	}
	switch ne.Type {
	case errors.LexError, errors.ParseError, errors.CompileError:
		return exitCompile
	case errors.RuntimeFault:
		return exitRuntime
	default:
		return exitIO
	}
}

func buildLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	if os.Getenv(commands.EnvDebug) == "1" {
		cfg = zap.NewDevelopmentConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func showUsage() {
	fmt.Print(`NexusLang - a scripting language for adaptive agents

Usage:
  nexus run <source.nx>                  compile and execute a script
  nexus compile <source.nx>... -o <out>  emit binary artifacts without executing
  nexus exec <artifact.nxb>              execute a compiled artifact
  nexus repl                             interactive session
  nexus version                          print the version
  nexus help                             show this help

Environment:
  NEXUS_DEBUG=1           verbose logging
  NEXUS_KNOWLEDGE_URL     knowledge service base URL
  NEXUS_VOICE_URL         voice gateway websocket URL
  NEXUS_PERSONALITY_DB    SQLite file for persistent personality state
`)
}
