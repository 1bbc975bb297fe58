package flow

import (
	"context"

	"github.com/rickicode/bulkpanel/job"
)

// Verdict is a successful stage's instruction to the sequencer.
type Verdict int

const (
	// Continue proceeds to the next stage.
	Continue Verdict = iota
	// SkipRest aborts the remaining stages and settles the item as
	// skipped. Used by pre-check stages ("resource already exists").
	SkipRest
)

// Stage is one named step of an item's workflow. Run returns a Verdict
// on success or an error, which aborts the remaining stages for this
// attempt.
type Stage struct {
	Name string
	Run  func(ctx context.Context, ex *Exec) (Verdict, error)
}

// Exec is the per-attempt execution state threaded through a stage
// sequence. It is owned by a single attempt: stages run strictly
// sequentially, so no locking is needed.
type Exec struct {
	// Item is the work item this attempt is processing.
	Item job.Item
	// Attempt is the 1-indexed attempt number under the retry wrapper.
	Attempt int

	values   map[string]any
	payload  map[string]string
	cleanups []func()
}

// NewExec creates the execution state for one attempt.
func NewExec(item job.Item, attempt int) *Exec {
	return &Exec{
		Item:    item,
		Attempt: attempt,
		values:  make(map[string]any),
		payload: make(map[string]string),
	}
}

// Set stores inter-stage state (an account record, an open session)
// for later stages of the same attempt.
func (e *Exec) Set(key string, v any) {
	e.values[key] = v
}

// Value retrieves inter-stage state stored by an earlier stage.
func (e *Exec) Value(key string) (any, bool) {
	v, ok := e.values[key]
	return v, ok
}

// Contribute adds a key to the item's composite result payload
// (generated credentials, identifiers).
func (e *Exec) Contribute(key, value string) {
	e.payload[key] = value
}

// Payload returns a copy of the contributions collected so far.
func (e *Exec) Payload() map[string]string {
	if len(e.payload) == 0 {
		return nil
	}
	out := make(map[string]string, len(e.payload))
	for k, v := range e.payload {
		out[k] = v
	}
	return out
}

// Defer registers a cleanup to run when the attempt ends, on every
// exit path: success, stage failure, skip, and the cooperative-stop
// exit. Cleanups run in LIFO order. Transient per-attempt resources
// (a remote shell session) are released here.
func (e *Exec) Defer(fn func()) {
	e.cleanups = append(e.cleanups, fn)
}

// release runs registered cleanups in LIFO order.
func (e *Exec) release() {
	for i := len(e.cleanups) - 1; i >= 0; i-- {
		e.cleanups[i]()
	}
	e.cleanups = nil
}

// ItemWorkflow produces the stage sequence for one item. Stages is
// called once per attempt so each attempt runs on fresh stage state.
type ItemWorkflow interface {
	Stages(item job.Item) []Stage
}

// StagesFunc adapts a plain function to the ItemWorkflow interface.
type StagesFunc func(item job.Item) []Stage

// Stages implements ItemWorkflow.
func (f StagesFunc) Stages(item job.Item) []Stage { return f(item) }
