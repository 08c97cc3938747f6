// Package vm executes compiled units on a stack machine. Dispatch runs
// through a fixed 256-entry handler table; opcodes the compiler never
// emits stay unassigned and fault as illegal. Collaborator opcodes call
// injected capability objects and know nothing about their transports.
package vm

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"nexuslang/internal/bytecode"
	"nexuslang/internal/errors"
	"nexuslang/internal/knowledge"
	"nexuslang/internal/personality"
	"nexuslang/internal/voice"
)

// State is the machine's lifecycle phase, observable from outside.
type State int

const (
	StateReady State = iota
	StateRunning
	StateSuspended // blocked on a collaborator call
	StateHalted
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateHalted:
		return "halted"
	case StateFaulted:
		return "faulted"
	}
	return "unknown"
}

const (
	maxFrames = 256

	// defaultListenTimeout applies when listen() gives no timeout.
	defaultListenTimeout = 30 * time.Second

	// ctxCheckInterval is how many instructions run between context
	// cancellation checks.
	ctxCheckInterval = 4096
)

type frame struct {
	unit     *bytecode.CompiledUnit
	pc       int
	slotBase int
}

type opHandler func(m *VM) error

// handlers is the fixed dispatch table. Nil entries fault IllegalOpcode.
var handlers [256]opHandler

// VM is a single-threaded stack machine. One goroutine owns it; reuse
// across runs is allowed (the REPL does), concurrent use is not.
type VM struct {
	stack   []Value
	frames  []frame
	globals []Value

	state      State
	fault      *errors.NexusError
	lastPopped Value

	ctx         context.Context
	out         io.Writer
	engine      *personality.Engine
	know        knowledge.Client
	voice       voice.Client
	logger      *zap.Logger
	steps       int
}

// Option configures a VM at construction time.
type Option func(*VM)

// WithOutput redirects print statements. Defaults to stdout.
func WithOutput(w io.Writer) Option { return func(m *VM) { m.out = w } }

// WithPersonality injects a personality engine, replacing the default
// neutral one.
func WithPersonality(e *personality.Engine) Option { return func(m *VM) { m.engine = e } }

// WithKnowledge injects the knowledge collaborator.
func WithKnowledge(c knowledge.Client) Option { return func(m *VM) { m.know = c } }

// WithVoice injects the voice collaborator.
func WithVoice(c voice.Client) Option { return func(m *VM) { m.voice = c } }

// WithLogger attaches a logger for debug tracing.
func WithLogger(l *zap.Logger) Option { return func(m *VM) { m.logger = l } }

func New(opts ...Option) *VM {
	m := &VM{
		stack:  make([]Value, 0, 256),
		out:    os.Stdout,
		engine: personality.NewEngine(),
		logger: zap.NewNop(),
		state:  StateReady,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State reports the machine's current phase. Collaborator mocks can
// call this mid-query to observe suspension.
func (m *VM) State() State { return m.state }

// Fault returns the terminal fault after a failed run, or nil.
func (m *VM) Fault() *errors.NexusError { return m.fault }

// Personality exposes the engine for persistence and inspection.
func (m *VM) Personality() *personality.Engine { return m.engine }

// LastPopped returns the value most recently discarded by an expression
// statement. The REPL echoes it.
func (m *VM) LastPopped() Value { return m.lastPopped }

// Run executes a unit to completion. Globals survive across calls, so a
// REPL can feed successive units to one VM. The context bounds the whole
// run and every collaborator call.
func (m *VM) Run(ctx context.Context, unit *bytecode.CompiledUnit) error {
	if ctx == nil {
		ctx = context.Background()
	}
	m.ctx = ctx
	m.stack = m.stack[:0]
	m.frames = m.frames[:0]
	m.frames = append(m.frames, frame{unit: unit})
	m.fault = nil
	m.lastPopped = nil
	m.state = StateRunning
	m.ensureGlobals(unit.GlobalCount())

	for m.state == StateRunning {
		f := m.currentFrame()
		if f.pc >= len(f.unit.Code) {
			// Code without a trailing return still halts cleanly.
			m.state = StateHalted
			break
		}

		m.steps++
		if m.steps%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				m.faultf(errors.CollaboratorTimeout, "run cancelled: %v", err)
				break
			}
		}

		op := f.unit.Code[f.pc]
		f.pc++

		h := handlers[op]
		if h == nil {
			m.faultf(errors.IllegalOpcode, "illegal opcode 0x%02x", op)
			break
		}
		if err := h(m); err != nil {
			ne, ok := err.(*errors.NexusError)
			if !ok {
				ne = errors.NewRuntimeFault(errors.CollaboratorFailed, err.Error(), op, f.pc-1)
			}
			m.fault = ne
			m.state = StateFaulted
		}
	}

	if m.state == StateFaulted {
		m.logger.Debug("run faulted",
			zap.String("kind", string(m.fault.Kind)),
			zap.Int("pc", m.fault.PC))
		return m.fault
	}
	return nil
}

func init() {
	handlers[bytecode.OpConstant] = (*VM).opConstant
	handlers[bytecode.OpNil] = func(m *VM) error { m.push(nil); return nil }
	handlers[bytecode.OpTrue] = func(m *VM) error { m.push(true); return nil }
	handlers[bytecode.OpFalse] = func(m *VM) error { m.push(false); return nil }
	handlers[bytecode.OpPop] = (*VM).opPop
	handlers[bytecode.OpDup] = (*VM).opDup

	handlers[bytecode.OpAdd] = (*VM).opAdd
	handlers[bytecode.OpSub] = (*VM).opSub
	handlers[bytecode.OpMul] = (*VM).opMul
	handlers[bytecode.OpDiv] = (*VM).opDiv
	handlers[bytecode.OpMod] = (*VM).opMod
	handlers[bytecode.OpNegate] = (*VM).opNegate

	handlers[bytecode.OpEqual] = (*VM).opEqual
	handlers[bytecode.OpNotEqual] = (*VM).opNotEqual
	handlers[bytecode.OpGreater] = (*VM).opGreater
	handlers[bytecode.OpLess] = (*VM).opLess
	handlers[bytecode.OpGreaterEqual] = (*VM).opGreaterEqual
	handlers[bytecode.OpLessEqual] = (*VM).opLessEqual
	handlers[bytecode.OpAnd] = (*VM).opAnd
	handlers[bytecode.OpOr] = (*VM).opOr
	handlers[bytecode.OpNot] = (*VM).opNot

	handlers[bytecode.OpDefineGlobal] = (*VM).opDefineGlobal
	handlers[bytecode.OpGetGlobal] = (*VM).opGetGlobal
	handlers[bytecode.OpSetGlobal] = (*VM).opSetGlobal
	handlers[bytecode.OpGetLocal] = (*VM).opGetLocal
	handlers[bytecode.OpSetLocal] = (*VM).opSetLocal

	handlers[bytecode.OpJump] = (*VM).opJump
	handlers[bytecode.OpJumpIfFalse] = (*VM).opJumpIfFalse
	handlers[bytecode.OpCall] = (*VM).opCall
	handlers[bytecode.OpReturn] = (*VM).opReturn
	handlers[bytecode.OpPrint] = (*VM).opPrint
	handlers[bytecode.OpTensor] = (*VM).opTensor

	handlers[bytecode.OpGetTrait] = (*VM).opGetTrait
	handlers[bytecode.OpSetTraits] = (*VM).opSetTraits
	handlers[bytecode.OpAdapt] = (*VM).opAdapt
	handlers[bytecode.OpScore] = (*VM).opScore
	handlers[bytecode.OpDecide] = (*VM).opDecide
	handlers[bytecode.OpKnowledgeQuery] = (*VM).opKnowledgeQuery
	handlers[bytecode.OpVoiceSay] = (*VM).opVoiceSay
	handlers[bytecode.OpVoiceListen] = (*VM).opVoiceListen
}

// --- machine plumbing ---

func (m *VM) currentFrame() *frame {
	return &m.frames[len(m.frames)-1]
}

func (m *VM) push(v Value) {
	m.stack = append(m.stack, v)
}

func (m *VM) pop() (Value, error) {
	f := m.currentFrame()
	if len(m.stack) <= f.slotBase {
		return nil, m.faultErr(errors.StackUnderflow, "operand stack underflow")
	}
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v, nil
}

func (m *VM) peek() (Value, error) {
	f := m.currentFrame()
	if len(m.stack) <= f.slotBase {
		return nil, m.faultErr(errors.StackUnderflow, "operand stack underflow")
	}
	return m.stack[len(m.stack)-1], nil
}

func (m *VM) readByte() (byte, error) {
	f := m.currentFrame()
	if f.pc >= len(f.unit.Code) {
		return 0, m.faultErr(errors.IllegalOpcode, "truncated instruction: operand past end of code")
	}
	b := f.unit.Code[f.pc]
	f.pc++
	return b, nil
}

func (m *VM) readShort() (uint16, error) {
	f := m.currentFrame()
	if f.pc+2 > len(f.unit.Code) {
		return 0, m.faultErr(errors.IllegalOpcode, "truncated instruction: operand past end of code")
	}
	v := uint16(f.unit.Code[f.pc])<<8 | uint16(f.unit.Code[f.pc+1])
	f.pc += 2
	return v, nil
}

func (m *VM) constant(idx uint16) (bytecode.Constant, error) {
	f := m.currentFrame()
	if int(idx) >= len(f.unit.Constants) {
		return bytecode.Constant{}, m.faultErr(errors.InvalidConstant,
			"constant index %d out of range", idx)
	}
	return f.unit.Constants[idx], nil
}

// readConstant fetches the u16 constant-pool operand of the current
// instruction and resolves it.
func (m *VM) readConstant() (bytecode.Constant, error) {
	idx, err := m.readShort()
	if err != nil {
		return bytecode.Constant{}, err
	}
	return m.constant(idx)
}

func (m *VM) ensureGlobals(n int) {
	for len(m.globals) < n {
		m.globals = append(m.globals, nil)
	}
}

// faultErr builds a fault at the current position. The handler returns
// it; the run loop records it and stops the machine.
func (m *VM) faultErr(kind errors.Kind, format string, args ...interface{}) *errors.NexusError {
	f := m.currentFrame()
	op := byte(0)
	if f.pc > 0 && f.pc <= len(f.unit.Code) {
		op = f.unit.Code[f.pc-1]
	}
	return errors.NewRuntimeFault(kind, fmt.Sprintf(format, args...), op, f.pc-1)
}

// faultf faults directly from the run loop, outside any handler.
func (m *VM) faultf(kind errors.Kind, format string, args ...interface{}) {
	m.fault = m.faultErr(kind, format, args...)
	m.state = StateFaulted
}

// --- core opcodes ---

func (m *VM) opConstant() error {
	c, err := m.readConstant()
	if err != nil {
		return err
	}
	switch c.Kind {
	case bytecode.ConstInt:
		m.push(c.Int)
	case bytecode.ConstFloat:
		m.push(c.Float)
	case bytecode.ConstString:
		m.push(c.Str)
	case bytecode.ConstUnit:
		m.push(&Function{Unit: c.Unit})
	}
	return nil
}

func (m *VM) opPop() error {
	v, err := m.pop()
	if err != nil {
		return err
	}
	m.lastPopped = v
	return nil
}

func (m *VM) opDup() error {
	v, err := m.peek()
	if err != nil {
		return err
	}
	m.push(v)
	return nil
}

func (m *VM) binaryOperands() (Value, Value, error) {
	b, err := m.pop()
	if err != nil {
		return nil, nil, err
	}
	a, err := m.pop()
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

func (m *VM) opAdd() error {
	a, b, err := m.binaryOperands()
	if err != nil {
		return err
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			m.push(as + bs)
			return nil
		}
	}
	if ai, ok := a.(int64); ok {
		if bi, ok := b.(int64); ok {
			m.push(ai + bi) // wraps on overflow
			return nil
		}
	}
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			m.push(af + bf)
			return nil
		}
	}
	return m.faultErr(errors.TypeMismatch, "cannot add %s and %s", TypeName(a), TypeName(b))
}

func (m *VM) opSub() error {
	return m.arith("subtract",
		func(a, b int64) int64 { return a - b },
		func(a, b float64) float64 { return a - b })
}

func (m *VM) opMul() error {
	return m.arith("multiply",
		func(a, b int64) int64 { return a * b },
		func(a, b float64) float64 { return a * b })
}

func (m *VM) arith(verb string, ints func(a, b int64) int64, floats func(a, b float64) float64) error {
	a, b, err := m.binaryOperands()
	if err != nil {
		return err
	}
	if ai, ok := a.(int64); ok {
		if bi, ok := b.(int64); ok {
			m.push(ints(ai, bi))
			return nil
		}
	}
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			m.push(floats(af, bf))
			return nil
		}
	}
	return m.faultErr(errors.TypeMismatch, "cannot %s %s and %s", verb, TypeName(a), TypeName(b))
}

func (m *VM) opDiv() error {
	a, b, err := m.binaryOperands()
	if err != nil {
		return err
	}
	if ai, ok := a.(int64); ok {
		if bi, ok := b.(int64); ok {
			if bi == 0 {
				return m.faultErr(errors.DivisionByZero, "integer division by zero")
			}
			m.push(ai / bi)
			return nil
		}
	}
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			// Float division follows IEEE-754: x/0 is an infinity.
			m.push(af / bf)
			return nil
		}
	}
	return m.faultErr(errors.TypeMismatch, "cannot divide %s by %s", TypeName(a), TypeName(b))
}

func (m *VM) opMod() error {
	a, b, err := m.binaryOperands()
	if err != nil {
		return err
	}
	ai, aok := a.(int64)
	bi, bok := b.(int64)
	if !aok || !bok {
		return m.faultErr(errors.TypeMismatch, "modulo needs integers, got %s and %s", TypeName(a), TypeName(b))
	}
	if bi == 0 {
		return m.faultErr(errors.DivisionByZero, "integer modulo by zero")
	}
	m.push(ai % bi)
	return nil
}

func (m *VM) opNegate() error {
	v, err := m.pop()
	if err != nil {
		return err
	}
	switch x := v.(type) {
	case int64:
		m.push(-x)
	case float64:
		m.push(-x)
	default:
		return m.faultErr(errors.TypeMismatch, "cannot negate %s", TypeName(v))
	}
	return nil
}

func (m *VM) opEqual() error {
	a, b, err := m.binaryOperands()
	if err != nil {
		return err
	}
	m.push(valuesEqual(a, b))
	return nil
}

func (m *VM) opNotEqual() error {
	a, b, err := m.binaryOperands()
	if err != nil {
		return err
	}
	m.push(!valuesEqual(a, b))
	return nil
}

func (m *VM) compare(opName string, ints func(a, b int64) bool, floats func(a, b float64) bool, strs func(a, b string) bool) error {
	a, b, err := m.binaryOperands()
	if err != nil {
		return err
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			m.push(strs(as, bs))
			return nil
		}
	}
	if ai, ok := a.(int64); ok {
		if bi, ok := b.(int64); ok {
			m.push(ints(ai, bi))
			return nil
		}
	}
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			m.push(floats(af, bf))
			return nil
		}
	}
	return m.faultErr(errors.TypeMismatch, "cannot compare %s %s %s", TypeName(a), opName, TypeName(b))
}

func (m *VM) opGreater() error {
	return m.compare(">",
		func(a, b int64) bool { return a > b },
		func(a, b float64) bool { return a > b },
		func(a, b string) bool { return a > b })
}

func (m *VM) opLess() error {
	return m.compare("<",
		func(a, b int64) bool { return a < b },
		func(a, b float64) bool { return a < b },
		func(a, b string) bool { return a < b })
}

func (m *VM) opGreaterEqual() error {
	return m.compare(">=",
		func(a, b int64) bool { return a >= b },
		func(a, b float64) bool { return a >= b },
		func(a, b string) bool { return a >= b })
}

func (m *VM) opLessEqual() error {
	return m.compare("<=",
		func(a, b int64) bool { return a <= b },
		func(a, b float64) bool { return a <= b },
		func(a, b string) bool { return a <= b })
}

func (m *VM) opAnd() error {
	a, b, err := m.binaryOperands()
	if err != nil {
		return err
	}
	m.push(isTruthy(a) && isTruthy(b))
	return nil
}

func (m *VM) opOr() error {
	a, b, err := m.binaryOperands()
	if err != nil {
		return err
	}
	m.push(isTruthy(a) || isTruthy(b))
	return nil
}

func (m *VM) opNot() error {
	v, err := m.pop()
	if err != nil {
		return err
	}
	m.push(!isTruthy(v))
	return nil
}

func (m *VM) opDefineGlobal() error {
	slot, err := m.readShort()
	if err != nil {
		return err
	}
	v, err := m.pop()
	if err != nil {
		return err
	}
	m.ensureGlobals(int(slot) + 1)
	m.globals[slot] = v
	return nil
}

func (m *VM) opGetGlobal() error {
	slot, err := m.readShort()
	if err != nil {
		return err
	}
	m.ensureGlobals(int(slot) + 1)
	m.push(m.globals[slot])
	return nil
}

func (m *VM) opSetGlobal() error {
	slot, err := m.readShort()
	if err != nil {
		return err
	}
	v, err := m.pop()
	if err != nil {
		return err
	}
	m.ensureGlobals(int(slot) + 1)
	m.globals[slot] = v
	return nil
}

func (m *VM) opGetLocal() error {
	b, err := m.readByte()
	if err != nil {
		return err
	}
	slot := int(b)
	f := m.currentFrame()
	idx := f.slotBase + slot
	if idx >= len(m.stack) {
		return m.faultErr(errors.StackUnderflow, "local slot %d outside frame", slot)
	}
	m.push(m.stack[idx])
	return nil
}

func (m *VM) opSetLocal() error {
	b, err := m.readByte()
	if err != nil {
		return err
	}
	slot := int(b)
	v, err := m.peek()
	if err != nil {
		return err
	}
	f := m.currentFrame()
	idx := f.slotBase + slot
	if idx >= len(m.stack) {
		return m.faultErr(errors.StackUnderflow, "local slot %d outside frame", slot)
	}
	m.stack[idx] = v
	return nil
}

func (m *VM) opJump() error {
	raw, err := m.readShort()
	if err != nil {
		return err
	}
	target := int(raw)
	f := m.currentFrame()
	if target >= len(f.unit.Code) {
		return m.faultErr(errors.InvalidJump, "jump target %d outside code of %d bytes", target, len(f.unit.Code))
	}
	f.pc = target
	return nil
}

func (m *VM) opJumpIfFalse() error {
	raw, err := m.readShort()
	if err != nil {
		return err
	}
	target := int(raw)
	cond, err := m.pop()
	if err != nil {
		return err
	}
	f := m.currentFrame()
	if target >= len(f.unit.Code) {
		return m.faultErr(errors.InvalidJump, "jump target %d outside code of %d bytes", target, len(f.unit.Code))
	}
	if !isTruthy(cond) {
		f.pc = target
	}
	return nil
}

func (m *VM) opCall() error {
	b, err := m.readByte()
	if err != nil {
		return err
	}
	argc := int(b)
	callee, err := m.pop()
	if err != nil {
		return err
	}
	fn, ok := callee.(*Function)
	if !ok {
		return m.faultErr(errors.TypeMismatch, "cannot call %s", TypeName(callee))
	}
	if fn.Unit.Arity != argc {
		return m.faultErr(errors.ArityMismatch,
			"function %s expects %d argument(s), got %d", fn.Unit.Name, fn.Unit.Arity, argc)
	}
	if len(m.frames) >= maxFrames {
		return m.faultErr(errors.StackOverflow, "call depth exceeds %d frames", maxFrames)
	}
	// Arguments already sit on the stack; they become the first locals.
	m.frames = append(m.frames, frame{
		unit:     fn.Unit,
		slotBase: len(m.stack) - argc,
	})
	return nil
}

func (m *VM) opReturn() error {
	if len(m.frames) == 1 {
		m.state = StateHalted
		return nil
	}
	ret, err := m.pop()
	if err != nil {
		return err
	}
	f := m.currentFrame()
	m.stack = m.stack[:f.slotBase]
	m.frames = m.frames[:len(m.frames)-1]
	m.push(ret)
	return nil
}

func (m *VM) opPrint() error {
	v, err := m.pop()
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(m.out, Format(v)); err != nil {
		return m.faultErr(errors.CollaboratorFailed, "print failed: %v", err)
	}
	return nil
}

func (m *VM) opTensor() error {
	raw, err := m.readShort()
	if err != nil {
		return err
	}
	n := int(raw)
	elems := make([]Value, n)
	for i := n - 1; i >= 0; i-- {
		v, err := m.pop()
		if err != nil {
			return err
		}
		elems[i] = v
	}
	m.push(&Tensor{Elements: elems})
	return nil
}

// --- personality opcodes ---

func (m *VM) opGetTrait() error {
	c, err := m.readConstant()
	if err != nil {
		return err
	}
	v, gerr := m.engine.Get(personality.Trait(c.Str))
	if gerr != nil {
		return m.faultErr(errors.UnknownTrait, "unknown trait %q", c.Str)
	}
	m.push(v)
	return nil
}

func (m *VM) opSetTraits() error {
	b, err := m.readByte()
	if err != nil {
		return err
	}
	n := int(b)
	type pair struct {
		name  string
		value float64
	}
	pairs := make([]pair, n)
	for i := n - 1; i >= 0; i-- {
		raw, err := m.pop()
		if err != nil {
			return err
		}
		value, ok := asFloat(raw)
		if !ok {
			return m.faultErr(errors.TypeMismatch, "trait value must be numeric, got %s", TypeName(raw))
		}
		nameV, err := m.pop()
		if err != nil {
			return err
		}
		name, ok := nameV.(string)
		if !ok {
			return m.faultErr(errors.TypeMismatch, "trait name must be a string, got %s", TypeName(nameV))
		}
		pairs[i] = pair{name, value}
	}
	// Apply in source order so the history reads the way the block does.
	for _, p := range pairs {
		if _, err := m.engine.Set(personality.Trait(p.name), p.value); err != nil {
			return m.faultErr(errors.UnknownTrait, "unknown trait %q", p.name)
		}
	}
	return nil
}

func (m *VM) opAdapt() error {
	raw, err := m.pop()
	if err != nil {
		return err
	}
	signal, ok := asFloat(raw)
	if !ok {
		return m.faultErr(errors.TypeMismatch, "adapt signal must be numeric, got %s", TypeName(raw))
	}
	m.engine.Adapt(signal)
	return nil
}

func (m *VM) opScore() error {
	b, err := m.readByte()
	if err != nil {
		return err
	}
	n := int(b)
	weights := make(map[personality.Trait]float64, n)
	for i := 0; i < n; i++ {
		raw, err := m.pop()
		if err != nil {
			return err
		}
		w, ok := asFloat(raw)
		if !ok {
			return m.faultErr(errors.TypeMismatch, "branch weight must be numeric, got %s", TypeName(raw))
		}
		nameV, err := m.pop()
		if err != nil {
			return err
		}
		name, ok := nameV.(string)
		if !ok {
			return m.faultErr(errors.TypeMismatch, "trait name must be a string, got %s", TypeName(nameV))
		}
		if !personality.Valid(name) {
			return m.faultErr(errors.UnknownTrait, "unknown trait %q in decision weights", name)
		}
		weights[personality.Trait(name)] = w
	}
	score, err := m.engine.Score(weights)
	if err != nil {
		return m.faultErr(errors.UnknownTrait, "%v", err)
	}
	m.push(score)
	return nil
}

func (m *VM) opDecide() error {
	b, err := m.readByte()
	if err != nil {
		return err
	}
	n := int(b)
	f := m.currentFrame()
	if f.pc+2*n > len(f.unit.Code) {
		return m.faultErr(errors.InvalidJump, "decide table truncated")
	}
	table := make([]int, n)
	for i := 0; i < n; i++ {
		table[i] = int(uint16(f.unit.Code[f.pc])<<8 | uint16(f.unit.Code[f.pc+1]))
		f.pc += 2
	}

	scores := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		raw, err := m.pop()
		if err != nil {
			return err
		}
		s, ok := asFloat(raw)
		if !ok {
			return m.faultErr(errors.TypeMismatch, "branch score must be numeric, got %s", TypeName(raw))
		}
		scores[i] = s
	}

	// Highest score wins; ties go to the earliest branch.
	best := 0
	for i := 1; i < n; i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}
	target := table[best]
	if target >= len(f.unit.Code) {
		return m.faultErr(errors.InvalidJump, "decide branch target %d outside code", target)
	}
	f.pc = target
	return nil
}

// --- collaborator opcodes ---

// suspend runs a collaborator call with the machine observable as
// suspended, then resumes.
func (m *VM) suspend(call func(ctx context.Context) error) error {
	m.state = StateSuspended
	err := call(m.ctx)
	if m.state == StateSuspended {
		m.state = StateRunning
	}
	return err
}

func (m *VM) opKnowledgeQuery() error {
	c, err := m.readConstant()
	if err != nil {
		return err
	}
	if m.know == nil {
		return m.faultErr(errors.CollaboratorFailed, "no knowledge client configured")
	}
	var result *knowledge.Result
	callErr := m.suspend(func(ctx context.Context) error {
		var qerr error
		result, qerr = m.know.Query(ctx, c.Str)
		return qerr
	})
	if callErr != nil {
		if callErr == knowledge.ErrTimeout || m.ctx.Err() == context.DeadlineExceeded {
			return m.faultErr(errors.CollaboratorTimeout, "knowledge query %q timed out", c.Str)
		}
		return m.faultErr(errors.CollaboratorFailed, "knowledge query failed: %v", callErr)
	}
	m.push(result)
	return nil
}

func (m *VM) opVoiceSay() error {
	c, err := m.readConstant()
	if err != nil {
		return err
	}
	text, perr := m.pop()
	if perr != nil {
		return perr
	}
	if m.voice == nil {
		return m.faultErr(errors.CollaboratorFailed, "no voice client configured")
	}
	callErr := m.suspend(func(ctx context.Context) error {
		_, serr := m.voice.Synthesize(ctx, Format(text), c.Str)
		return serr
	})
	if callErr != nil {
		if callErr == voice.ErrTimeout || m.ctx.Err() == context.DeadlineExceeded {
			return m.faultErr(errors.CollaboratorTimeout, "say timed out")
		}
		return m.faultErr(errors.CollaboratorFailed, "say failed: %v", callErr)
	}
	return nil
}

func (m *VM) opVoiceListen() error {
	c, err := m.readConstant()
	if err != nil {
		return err
	}
	if m.voice == nil {
		return m.faultErr(errors.CollaboratorFailed, "no voice client configured")
	}
	timeout := defaultListenTimeout
	if c.Float > 0 {
		timeout = time.Duration(c.Float * float64(time.Second))
	}
	var text string
	callErr := m.suspend(func(ctx context.Context) error {
		var terr error
		text, terr = m.voice.Transcribe(ctx, "", timeout)
		return terr
	})
	if callErr != nil {
		if callErr == voice.ErrTimeout || m.ctx.Err() == context.DeadlineExceeded {
			return m.faultErr(errors.CollaboratorTimeout, "listen timed out after %s", timeout)
		}
		return m.faultErr(errors.CollaboratorFailed, "listen failed: %v", callErr)
	}
	m.push(text)
	return nil
}
