package repl

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func runLines(t *testing.T, lines ...string) string {
	t.Helper()
	var out bytes.Buffer
	r := New(strings.NewReader(strings.Join(lines, "\n")+"\n"), &out)
	if err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	return out.String()
}

func TestGlobalsPersistAcrossLines(t *testing.T) {
	out := runLines(t,
		`let x = 40`,
		`print(x + 2)`,
	)
	if strings.TrimSpace(out) != "42" {
		t.Errorf("got %q", out)
	}
}

func TestFunctionsPersistAcrossLines(t *testing.T) {
	out := runLines(t,
		`fn double(n) => n * 2`,
		`print(double(21))`,
	)
	if strings.TrimSpace(out) != "42" {
		t.Errorf("got %q", out)
	}
}

func TestExpressionEcho(t *testing.T) {
	out := runLines(t, `1 + 2`)
	if strings.TrimSpace(out) != "3" {
		t.Errorf("bare expression echoed %q", out)
	}
}

func TestStatementsAreNotEchoed(t *testing.T) {
	out := runLines(t, `let x = 5`)
	if strings.TrimSpace(out) != "" {
		t.Errorf("declaration echoed %q", out)
	}
}

func TestNonTerminalInputGetsNoPrompt(t *testing.T) {
	// Buffers and pipes are not terminals; the banner and ">>> " prompts
	// must stay out of their output.
	out := runLines(t, `print("clean")`)
	if strings.Contains(out, ">>>") {
		t.Errorf("prompt leaked into piped output: %q", out)
	}
	if strings.TrimSpace(out) != "clean" {
		t.Errorf("got %q", out)
	}
}

func TestErrorsDoNotEndTheLoop(t *testing.T) {
	out := runLines(t,
		`bad syntax (`,
		`print("still here")`,
	)
	if !strings.Contains(out, "still here") {
		t.Errorf("loop died after an error: %q", out)
	}
	if !strings.Contains(out, "<repl>") {
		t.Errorf("parse error lost its position: %q", out)
	}
}

func TestRuntimeFaultsDoNotEndTheLoop(t *testing.T) {
	out := runLines(t,
		`print(1 / 0)`,
		`print("recovered")`,
	)
	if !strings.Contains(out, "recovered") {
		t.Errorf("loop died after a fault: %q", out)
	}
}

func TestRedefinitionKeepsWorking(t *testing.T) {
	out := runLines(t,
		`let x = 1`,
		`let x = 2`,
		`print(x)`,
	)
	if strings.TrimSpace(out) != "2" {
		t.Errorf("got %q", out)
	}
}

func TestExitStopsTheLoop(t *testing.T) {
	out := runLines(t,
		`print("before")`,
		`exit`,
		`print("after")`,
	)
	if strings.Contains(out, "after") {
		t.Errorf("exit did not stop the loop: %q", out)
	}
}
