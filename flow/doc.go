// Package flow implements the workflow stage sequencer: it runs a
// named, ordered list of stages for one item, short-circuiting at the
// first failure and attributing the failure to a stage.
//
// Stages thread state forward through the Exec: an earlier stage stores
// an account identifier or an open shell session, a later stage reads
// it. On full-sequence success the sequencer returns a composite
// payload merging each stage's contribution.
//
// A stage may also rule the rest of the sequence unnecessary (a
// pre-check finds the resource already exists) by returning SkipRest;
// the item settles as skipped rather than successful or failed.
//
// Before each stage the sequencer re-checks the job's cooperative
// cancellation flag and aborts with a distinguished force-stopped
// result rather than running the stage. Effects of earlier stages are
// never rolled back on a later failure; retries or manual cleanup
// handle leftovers.
package flow
