// Package personality holds the agent's mutable trait state: a fixed
// vector of twelve scalar traits in [0,1], a bounded history of changes,
// and the scoring function that drives decision branching.
package personality

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"nexuslang/internal/errors"
)

// Trait names the fixed set of personality dimensions. The set is
// closed; scripts referring to anything else get an UnknownTrait fault.
type Trait string

const (
	Curiosity     Trait = "curiosity"
	Analytical    Trait = "analytical"
	Creative      Trait = "creative"
	Empathy       Trait = "empathy"
	Humor         Trait = "humor"
	Assertiveness Trait = "assertiveness"
	Patience      Trait = "patience"
	Optimism      Trait = "optimism"
	Caution       Trait = "caution"
	Sociability   Trait = "sociability"
	Discipline    Trait = "discipline"
	Spontaneity   Trait = "spontaneity"
)

// Traits lists every trait in declaration order. Iteration over this
// slice, never over a map, keeps Adapt and Snapshot deterministic.
var Traits = []Trait{
	Curiosity, Analytical, Creative, Empathy, Humor, Assertiveness,
	Patience, Optimism, Caution, Sociability, Discipline, Spontaneity,
}

// historyCap bounds the in-memory change log. Older events fall off the
// front; long-running agents no longer grow without limit.
const historyCap = 256

// learningRate scales the per-trait step applied by Adapt.
const learningRate = 0.05

// Event records one trait change.
type Event struct {
	ID        string
	Timestamp time.Time
	Trait     Trait
	Old       float64
	New       float64
}

// TraitVector is an immutable copy of the full trait state.
type TraitVector map[Trait]float64

// Engine is the in-process personality state machine. It is not safe
// for concurrent use; the VM is single-threaded and owns it.
type Engine struct {
	values map[Trait]float64

	// history is a ring buffer: start indexes the oldest live event.
	history []Event
	start   int
	count   int

	now func() time.Time
}

// NewEngine starts every trait at a neutral 0.5.
func NewEngine() *Engine {
	values := make(map[Trait]float64, len(Traits))
	for _, t := range Traits {
		values[t] = 0.5
	}
	return &Engine{
		values:  values,
		history: make([]Event, historyCap),
		now:     time.Now,
	}
}

var traitSet = func() map[Trait]struct{} {
	s := make(map[Trait]struct{}, len(Traits))
	for _, t := range Traits {
		s[t] = struct{}{}
	}
	return s
}()

// Valid reports whether name is one of the fixed traits.
func Valid(name string) bool {
	_, ok := traitSet[Trait(name)]
	return ok
}

// Get returns a trait's current value.
func (e *Engine) Get(trait Trait) (float64, error) {
	v, ok := e.values[trait]
	if !ok {
		return 0, errors.NewRuntimeFault(errors.UnknownTrait,
			fmt.Sprintf("unknown trait %q", trait), 0, 0)
	}
	return v, nil
}

// Set assigns a trait directly, clamping to [0,1], and logs the change.
func (e *Engine) Set(trait Trait, value float64) (float64, error) {
	old, ok := e.values[trait]
	if !ok {
		return 0, errors.NewRuntimeFault(errors.UnknownTrait,
			fmt.Sprintf("unknown trait %q", trait), 0, 0)
	}
	next := clamp(value)
	e.values[trait] = next
	e.record(trait, old, next)
	return next, nil
}

// Update nudges a trait by delta, clamps the result to [0,1], logs the
// change, and returns the new value.
func (e *Engine) Update(trait Trait, delta float64) (float64, error) {
	old, ok := e.values[trait]
	if !ok {
		return 0, errors.NewRuntimeFault(errors.UnknownTrait,
			fmt.Sprintf("unknown trait %q", trait), 0, 0)
	}
	next := clamp(old + delta)
	e.values[trait] = next
	e.record(trait, old, next)
	return next, nil
}

// Adapt nudges every trait by learningRate * clamp(signal, -1, 1), in
// declaration order. Given the same signal sequence the resulting state
// is identical run to run.
func (e *Engine) Adapt(signal float64) {
	if signal > 1 {
		signal = 1
	} else if signal < -1 {
		signal = -1
	}
	step := learningRate * signal
	for _, t := range Traits {
		old := e.values[t]
		next := clamp(old + step)
		e.values[t] = next
		e.record(t, old, next)
	}
}

// Score computes the dot product of the given weights with the current
// trait vector. Decision branches compare these scores.
func (e *Engine) Score(weights map[Trait]float64) (float64, error) {
	var sum float64
	for _, t := range Traits {
		w, ok := weights[t]
		if !ok {
			continue
		}
		sum += w * e.values[t]
	}
	for t := range weights {
		if _, ok := e.values[t]; !ok {
			return 0, errors.NewRuntimeFault(errors.UnknownTrait,
				fmt.Sprintf("unknown trait %q in decision weights", t), 0, 0)
		}
	}
	return sum, nil
}

// Snapshot returns an immutable copy of the trait vector.
func (e *Engine) Snapshot() TraitVector {
	out := make(TraitVector, len(e.values))
	for t, v := range e.values {
		out[t] = v
	}
	return out
}

// Restore overwrites the trait vector from a snapshot, clamping each
// value. Unknown keys are ignored. The history is not rewound.
func (e *Engine) Restore(v TraitVector) {
	for _, t := range Traits {
		if val, ok := v[t]; ok {
			e.values[t] = clamp(val)
		}
	}
}

// History drains the buffered change events, oldest first. A second
// call returns only events recorded after the first.
func (e *Engine) History() []Event {
	out := make([]Event, 0, e.count)
	for i := 0; i < e.count; i++ {
		out = append(out, e.history[(e.start+i)%historyCap])
	}
	e.start = 0
	e.count = 0
	return out
}

// HistoryLen reports the number of buffered events without draining.
func (e *Engine) HistoryLen() int { return e.count }

// requeueHistory puts drained events back at the front of the buffer in
// order, ahead of anything recorded since the drain. Overflow drops the
// oldest events, matching the buffer's usual behavior.
func (e *Engine) requeueHistory(events []Event) {
	if len(events) == 0 {
		return
	}
	live := make([]Event, 0, e.count)
	for i := 0; i < e.count; i++ {
		live = append(live, e.history[(e.start+i)%historyCap])
	}
	combined := append(append([]Event{}, events...), live...)
	if len(combined) > historyCap {
		combined = combined[len(combined)-historyCap:]
	}
	e.start = 0
	e.count = len(combined)
	copy(e.history, combined)
}

func (e *Engine) record(trait Trait, old, new float64) {
	ev := Event{
		ID:        uuid.NewString(),
		Timestamp: e.now(),
		Trait:     trait,
		Old:       old,
		New:       new,
	}
	if e.count < historyCap {
		e.history[(e.start+e.count)%historyCap] = ev
		e.count++
		return
	}
	// Full: overwrite the oldest slot and advance the start.
	e.history[e.start] = ev
	e.start = (e.start + 1) % historyCap
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
