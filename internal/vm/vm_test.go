package vm

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"nexuslang/internal/bytecode"
	"nexuslang/internal/compiler"
	"nexuslang/internal/container"
	"nexuslang/internal/errors"
	"nexuslang/internal/knowledge"
	"nexuslang/internal/lexer"
	"nexuslang/internal/parser"
	"nexuslang/internal/personality"
	"nexuslang/internal/voice"
)

func compile(t *testing.T, source string) *bytecode.CompiledUnit {
	t.Helper()
	tokens := lexer.NewScanner(source).ScanTokens()
	stmts, errs := parser.NewParser(tokens).Parse()
	if len(errs) > 0 {
		t.Fatalf("parse failed: %v", errs[0])
	}
	unit, err := compiler.NewCompiler().Compile(stmts)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	return unit
}

func runSource(t *testing.T, source string, opts ...Option) (*VM, string, error) {
	t.Helper()
	var out bytes.Buffer
	m := New(append([]Option{WithOutput(&out)}, opts...)...)
	err := m.Run(context.Background(), compile(t, source))
	return m, out.String(), err
}

// fakeVoice records synthesize calls and answers transcriptions.
type fakeVoice struct {
	said       []string
	emotions   []string
	listenText string
	err        error
}

func (f *fakeVoice) Synthesize(_ context.Context, text, emotion string) (voice.AudioHandle, error) {
	if f.err != nil {
		return "", f.err
	}
	f.said = append(f.said, text)
	f.emotions = append(f.emotions, emotion)
	return "audio-1", nil
}

func (f *fakeVoice) Transcribe(_ context.Context, _ voice.AudioHandle, _ time.Duration) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.listenText, nil
}

func TestPrintAddition(t *testing.T) {
	m, out, err := runSource(t, `print(1 + 2)`)
	if err != nil {
		t.Fatal(err)
	}
	if out != "3\n" {
		t.Errorf("output %q, want %q", out, "3\n")
	}
	if m.State() != StateHalted {
		t.Errorf("state %v, want halted", m.State())
	}
}

func TestEmptyProgramHalts(t *testing.T) {
	m, out, err := runSource(t, ``)
	if err != nil {
		t.Fatal(err)
	}
	if out != "" {
		t.Errorf("empty program printed %q", out)
	}
	if m.State() != StateHalted {
		t.Errorf("state %v, want halted", m.State())
	}
}

func TestArithmetic(t *testing.T) {
	cases := []struct {
		source string
		want   string
	}{
		{`print(10 - 3)`, "7"},
		{`print(4 * 5)`, "20"},
		{`print(7 / 2)`, "3"},
		{`print(7.0 / 2)`, "3.5"},
		{`print(7 % 3)`, "1"},
		{`print(-5)`, "-5"},
		{`print(1.5 + 1)`, "2.5"},
		{`print("foo" + "bar")`, "foobar"},
		{`print(2 < 3)`, "true"},
		{`print(2 >= 3)`, "false"},
		{`print(1 == 1.0)`, "true"},
		{`print("a" != "b")`, "true"},
		{`print(true && false)`, "false"},
		{`print(false || true)`, "true"},
		{`print(!false)`, "true"},
	}
	for _, tc := range cases {
		t.Run(tc.source, func(t *testing.T) {
			_, out, err := runSource(t, tc.source)
			if err != nil {
				t.Fatal(err)
			}
			if strings.TrimSpace(out) != tc.want {
				t.Errorf("got %q, want %q", strings.TrimSpace(out), tc.want)
			}
		})
	}
}

func TestIntegerWraparound(t *testing.T) {
	_, out, err := runSource(t, `print(9223372036854775807 + 1)`)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "-9223372036854775808" {
		t.Errorf("overflow did not wrap: %q", out)
	}
}

func TestDivisionByZeroFaults(t *testing.T) {
	m, _, err := runSource(t, `print(1 / 0)`)
	if err == nil {
		t.Fatal("expected a fault")
	}
	if !errors.IsKind(err, errors.DivisionByZero) {
		t.Errorf("kind: %v", err)
	}
	if m.State() != StateFaulted {
		t.Errorf("state %v, want faulted", m.State())
	}
	if m.Fault() == nil || m.Fault().Kind != errors.DivisionByZero {
		t.Errorf("fault not recorded: %+v", m.Fault())
	}
}

func TestFloatDivisionByZeroIsInfinity(t *testing.T) {
	_, out, err := runSource(t, `print(1.0 / 0.0)`)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "+Inf" {
		t.Errorf("float division by zero printed %q", out)
	}
}

func TestTypeMismatchFaults(t *testing.T) {
	m, _, err := runSource(t, `print("a" - 1)`)
	if !errors.IsKind(err, errors.TypeMismatch) {
		t.Errorf("kind: %v", err)
	}
	if m.State() != StateFaulted {
		t.Errorf("state %v, want faulted", m.State())
	}
}

func TestStackUnderflowFaults(t *testing.T) {
	unit := bytecode.NewUnit("broken")
	unit.WriteOp(bytecode.OpAdd)
	unit.WriteOp(bytecode.OpReturn)

	m := New(WithOutput(&bytes.Buffer{}))
	err := m.Run(context.Background(), unit)
	if !errors.IsKind(err, errors.StackUnderflow) {
		t.Errorf("kind: %v", err)
	}
}

func TestIllegalOpcodeFaults(t *testing.T) {
	unit := bytecode.NewUnit("broken")
	unit.WriteU8(0xEF)

	m := New(WithOutput(&bytes.Buffer{}))
	err := m.Run(context.Background(), unit)
	if !errors.IsKind(err, errors.IllegalOpcode) {
		t.Errorf("kind: %v", err)
	}
	if m.Fault().PC != 0 {
		t.Errorf("fault pc %d, want 0", m.Fault().PC)
	}
}

func TestInvalidJumpFaults(t *testing.T) {
	unit := bytecode.NewUnit("broken")
	unit.WriteOp(bytecode.OpJump)
	unit.WriteShort(0x7fff)

	m := New(WithOutput(&bytes.Buffer{}))
	err := m.Run(context.Background(), unit)
	if !errors.IsKind(err, errors.InvalidJump) {
		t.Errorf("kind: %v", err)
	}
}

func TestTruncatedOperandFaults(t *testing.T) {
	// Code that ends mid-instruction must fault, not panic, even when
	// the artifact itself deserializes cleanly.
	cases := []struct {
		name  string
		build func(u *bytecode.CompiledUnit)
	}{
		{"constant missing operand", func(u *bytecode.CompiledUnit) {
			u.WriteOp(bytecode.OpConstant)
		}},
		{"constant half operand", func(u *bytecode.CompiledUnit) {
			u.WriteOp(bytecode.OpConstant)
			u.WriteU8(0x00)
		}},
		{"jump missing target", func(u *bytecode.CompiledUnit) {
			u.WriteOp(bytecode.OpJump)
		}},
		{"call missing argc", func(u *bytecode.CompiledUnit) {
			u.WriteOp(bytecode.OpCall)
		}},
		{"decide table cut short", func(u *bytecode.CompiledUnit) {
			u.WriteOp(bytecode.OpConstant)
			u.WriteShort(uint16(u.AddConstant(bytecode.FloatConstant(1.0))))
			u.WriteOp(bytecode.OpDecide)
			u.WriteU8(2)
			u.WriteShort(0) // second table entry missing
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			unit := bytecode.NewUnit("broken")
			tc.build(unit)

			data, serr := container.Serialize(unit)
			if serr != nil {
				t.Fatal(serr)
			}
			loaded, derr := container.Deserialize(data)
			if derr != nil {
				t.Fatal(derr)
			}

			m := New(WithOutput(&bytes.Buffer{}))
			err := m.Run(context.Background(), loaded)
			if err == nil {
				t.Fatal("expected a fault")
			}
			if !errors.IsKind(err, errors.IllegalOpcode) && !errors.IsKind(err, errors.InvalidJump) {
				t.Errorf("kind: %v", err)
			}
			if m.State() != StateFaulted {
				t.Errorf("state %v, want faulted", m.State())
			}
		})
	}
}

func TestControlFlow(t *testing.T) {
	source := `
let n = 0
let total = 0
while n < 5 {
    n = n + 1
    total = total + n
}
if total == 15 {
    print("sum ok")
} else {
    print("sum broken")
}
`
	_, out, err := runSource(t, source)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "sum ok" {
		t.Errorf("got %q", out)
	}
}

func TestFunctionCalls(t *testing.T) {
	source := `
fn fib(n) {
    if n < 2 {
        return n
    }
    return fib(n - 1) + fib(n - 2)
}
print(fib(10))
`
	_, out, err := runSource(t, source)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "55" {
		t.Errorf("fib(10) printed %q", out)
	}
}

func TestImplicitNilReturn(t *testing.T) {
	_, out, err := runSource(t, `
fn noop() {
    let x = 1
}
print(noop())
`)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "nil" {
		t.Errorf("got %q", out)
	}
}

func TestUnboundedRecursionFaults(t *testing.T) {
	_, _, err := runSource(t, `
fn loop(n) => loop(n + 1)
print(loop(0))
`)
	if !errors.IsKind(err, errors.StackOverflow) {
		t.Errorf("kind: %v", err)
	}
}

func TestCallNonFunctionFaults(t *testing.T) {
	_, _, err := runSource(t, `
let x = 3
print(x())
`)
	if !errors.IsKind(err, errors.TypeMismatch) {
		t.Errorf("kind: %v", err)
	}
}

func TestTensorLiteral(t *testing.T) {
	_, out, err := runSource(t, `print(tensor[1, 2.5, 3])`)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "tensor[1, 2.5, 3]" {
		t.Errorf("got %q", out)
	}
}

func TestGlobalsSurviveAcrossRuns(t *testing.T) {
	session := compiler.NewSession()
	var out bytes.Buffer
	m := New(WithOutput(&out))

	compileLine := func(src string) *bytecode.CompiledUnit {
		tokens := lexer.NewScanner(src).ScanTokens()
		stmts, errs := parser.NewParser(tokens).Parse()
		if len(errs) > 0 {
			t.Fatalf("parse: %v", errs[0])
		}
		unit, err := compiler.NewSessionCompiler(session).Compile(stmts)
		if err != nil {
			t.Fatalf("compile: %v", err)
		}
		return unit
	}

	if err := m.Run(context.Background(), compileLine(`let x = 40`)); err != nil {
		t.Fatal(err)
	}
	if err := m.Run(context.Background(), compileLine(`print(x + 2)`)); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != "42" {
		t.Errorf("got %q", out.String())
	}
}

// --- personality and decision opcodes ---

func TestPersonalityBlockSetsTraits(t *testing.T) {
	m, _, err := runSource(t, `personality { curiosity: 0.8, caution: 0.1 }`)
	if err != nil {
		t.Fatal(err)
	}
	v, _ := m.Personality().Get(personality.Curiosity)
	if v != 0.8 {
		t.Errorf("curiosity = %f", v)
	}
	v, _ = m.Personality().Get(personality.Caution)
	if v != 0.1 {
		t.Errorf("caution = %f", v)
	}
}

func TestTraitExpression(t *testing.T) {
	_, out, err := runSource(t, `
personality { humor: 0.75 }
print(trait("humor"))
`)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "0.75" {
		t.Errorf("got %q", out)
	}
}

func TestUnknownTraitFaults(t *testing.T) {
	_, _, err := runSource(t, `personality { bravado: 0.9 }`)
	if !errors.IsKind(err, errors.UnknownTrait) {
		t.Errorf("kind: %v", err)
	}
}

func TestDecideSelectsAlignedBranch(t *testing.T) {
	source := `
personality { curiosity: 0.8, caution: 0.1 }
decide {
    branch { curiosity: 1.0 } => { print("explore") }
    branch { caution: 1.0 } => { print("retreat") }
}
`
	_, out, err := runSource(t, source)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "explore" {
		t.Errorf("decide picked %q", out)
	}
}

func TestDecideTieGoesToFirstBranch(t *testing.T) {
	source := `
personality { curiosity: 0.5, caution: 0.5 }
decide {
    branch { curiosity: 1.0 } => { print("first") }
    branch { caution: 1.0 } => { print("second") }
}
`
	_, out, err := runSource(t, source)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "first" {
		t.Errorf("tie broke to %q", out)
	}
}

func TestDecideRunsExactlyOneBranch(t *testing.T) {
	source := `
personality { caution: 0.9, curiosity: 0.1 }
decide {
    branch { curiosity: 1.0 } => { print("a") }
    branch { caution: 1.0 } => { print("b") }
    branch { humor: 0.1 } => { print("c") }
}
print("after")
`
	_, out, err := runSource(t, source)
	if err != nil {
		t.Fatal(err)
	}
	if out != "b\nafter\n" {
		t.Errorf("got %q", out)
	}
}

func TestAdaptNudgesTraits(t *testing.T) {
	m, _, err := runSource(t, `
personality { curiosity: 0.5 }
adapt(1.0)
`)
	if err != nil {
		t.Fatal(err)
	}
	v, _ := m.Personality().Get(personality.Curiosity)
	if v <= 0.5 {
		t.Errorf("positive signal should raise curiosity, got %f", v)
	}
}

// --- collaborator opcodes ---

func TestKnowledgeQuery(t *testing.T) {
	client := knowledge.Static{
		"dns tunneling": {Summary: "covert channel over DNS", RelatedTopics: []string{"exfiltration"}},
	}
	_, out, err := runSource(t, `print(knowledge("dns tunneling"))`, WithKnowledge(client))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "covert channel over DNS") {
		t.Errorf("got %q", out)
	}
}

func TestKnowledgeWithoutClientFaults(t *testing.T) {
	_, _, err := runSource(t, `print(knowledge("anything"))`)
	if !errors.IsKind(err, errors.CollaboratorFailed) {
		t.Errorf("kind: %v", err)
	}
}

// stateProbe observes the machine state from inside a query.
type stateProbe struct {
	m    *VM
	seen State
}

func (p *stateProbe) Query(_ context.Context, _ string) (*knowledge.Result, error) {
	p.seen = p.m.State()
	return &knowledge.Result{Summary: "ok"}, nil
}

func TestCollaboratorCallsSuspendTheMachine(t *testing.T) {
	probe := &stateProbe{}
	var out bytes.Buffer
	m := New(WithOutput(&out), WithKnowledge(probe))
	probe.m = m

	if err := m.Run(context.Background(), compile(t, `print(knowledge("x"))`)); err != nil {
		t.Fatal(err)
	}
	if probe.seen != StateSuspended {
		t.Errorf("state during query was %v, want suspended", probe.seen)
	}
	if m.State() != StateHalted {
		t.Errorf("final state %v, want halted", m.State())
	}
}

func TestKnowledgeTimeoutMapsToFault(t *testing.T) {
	slow := knowledgeFunc(func(ctx context.Context, _ string) (*knowledge.Result, error) {
		return nil, knowledge.ErrTimeout
	})
	m, _, err := runSource(t, `print(knowledge("x"))`, WithKnowledge(slow))
	if !errors.IsKind(err, errors.CollaboratorTimeout) {
		t.Errorf("kind: %v", err)
	}
	if m.State() != StateFaulted {
		t.Errorf("state %v, want faulted", m.State())
	}
}

type knowledgeFunc func(ctx context.Context, text string) (*knowledge.Result, error)

func (f knowledgeFunc) Query(ctx context.Context, text string) (*knowledge.Result, error) {
	return f(ctx, text)
}

func TestSay(t *testing.T) {
	fake := &fakeVoice{}
	_, _, err := runSource(t, `say("hello", emotion: "cheerful")`, WithVoice(fake))
	if err != nil {
		t.Fatal(err)
	}
	if len(fake.said) != 1 || fake.said[0] != "hello" || fake.emotions[0] != "cheerful" {
		t.Errorf("say recorded %v / %v", fake.said, fake.emotions)
	}
}

func TestSayDefaultEmotion(t *testing.T) {
	fake := &fakeVoice{}
	_, _, err := runSource(t, `say("hi")`, WithVoice(fake))
	if err != nil {
		t.Fatal(err)
	}
	if fake.emotions[0] != "neutral" {
		t.Errorf("default emotion %q", fake.emotions[0])
	}
}

func TestSayDynamicText(t *testing.T) {
	fake := &fakeVoice{}
	_, _, err := runSource(t, `
let name = "ada"
say("hello " + name)
`, WithVoice(fake))
	if err != nil {
		t.Fatal(err)
	}
	if fake.said[0] != "hello ada" {
		t.Errorf("said %q", fake.said[0])
	}
}

func TestListen(t *testing.T) {
	fake := &fakeVoice{listenText: "turn left"}
	_, out, err := runSource(t, `print(listen(timeout: 5))`, WithVoice(fake))
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "turn left" {
		t.Errorf("got %q", out)
	}
}

func TestListenTimeoutFaults(t *testing.T) {
	fake := &fakeVoice{err: voice.ErrTimeout}
	_, _, err := runSource(t, `print(listen(timeout: 1))`, WithVoice(fake))
	if !errors.IsKind(err, errors.CollaboratorTimeout) {
		t.Errorf("kind: %v", err)
	}
}

func TestVoiceWithoutClientFaults(t *testing.T) {
	_, _, err := runSource(t, `say("hi")`)
	if !errors.IsKind(err, errors.CollaboratorFailed) {
		t.Errorf("kind: %v", err)
	}
}

func TestLastPopped(t *testing.T) {
	session := compiler.NewSession()
	tokens := lexer.NewScanner(`1 + 2`).ScanTokens()
	stmts, errs := parser.NewParser(tokens).Parse()
	if len(errs) > 0 {
		t.Fatal(errs[0])
	}
	unit, err := compiler.NewSessionCompiler(session).Compile(stmts)
	if err != nil {
		t.Fatal(err)
	}

	m := New(WithOutput(&bytes.Buffer{}))
	if err := m.Run(context.Background(), unit); err != nil {
		t.Fatal(err)
	}
	if got, ok := m.LastPopped().(int64); !ok || got != 3 {
		t.Errorf("last popped %v", m.LastPopped())
	}
}

func TestRunRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := New(WithOutput(&bytes.Buffer{}))
	err := m.Run(ctx, compile(t, `
let n = 0
while true {
    n = n + 1
}
`))
	if err == nil {
		t.Fatal("cancelled run should fail")
	}
	if m.State() != StateFaulted {
		t.Errorf("state %v, want faulted", m.State())
	}
}

func TestExecutingDeserializedUnitMatchesDirectRun(t *testing.T) {
	unit := compile(t, `
fn double(x) => x * 2
print(double(21))
`)
	// The round trip goes through the container package in its own
	// tests; here a structural copy stands in for reload.
	clone := *unit
	var out bytes.Buffer
	m := New(WithOutput(&out))
	if err := m.Run(context.Background(), &clone); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != "42" {
		t.Errorf("got %q", out.String())
	}
}
