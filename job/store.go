package job

import (
	"context"
	"time"

	"github.com/rickicode/bulkpanel/id"
)

// Store is the single source of truth for job state. Every engine
// component mutates jobs exclusively through these operations, never by
// touching a Job record directly. Status transitions form a DAG with a
// single entry (running) and three sinks (completed, failed,
// cancelled); no operation moves a job out of a sink.
type Store interface {
	// CreateJob persists a new job record. The store rejects records
	// with an empty item list with ErrInvalidJob.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves the full job record by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// Snapshot returns the read-only status projection for polling
	// clients, without the raw log sequence.
	Snapshot(ctx context.Context, jobID id.JobID) (*Snapshot, error)

	// AppendLog appends an entry to the job's log sequence, enforcing
	// the retention cap. Appending to an unknown job is a warn-level
	// no-op: a stale reference must not crash a running workflow.
	AppendLog(ctx context.Context, jobID id.JobID, e Entry)

	// AppendResult appends one item outcome to the job's results.
	AppendResult(ctx context.Context, jobID id.JobID, o Outcome) error

	// UpdateProgress merges the supplied progress into the current
	// record. Counters never decrease; the store keeps the maximum of
	// the stored and supplied values. CurrentItem is always replaced
	// (last writer wins; it is informational only). Total is fixed at
	// creation and never merged.
	UpdateProgress(ctx context.Context, jobID id.JobID, p Progress) error

	// CompleteJob transitions the job to the given terminal status
	// (completed or cancelled) and stamps CompletedAt. Idempotent
	// no-op when the job is already terminal.
	CompleteJob(ctx context.Context, jobID id.JobID, status Status) error

	// FailJob transitions the job to failed, recording the error as a
	// {message, code} pair. Idempotent no-op when already terminal.
	FailJob(ctx context.Context, jobID id.JobID, jobErr error) error

	// RequestStop raises the job's cooperative-cancellation flag.
	// Idempotent; raising the flag on a terminal job is a no-op.
	// Unknown jobs report ErrJobNotFound.
	RequestStop(ctx context.Context, jobID id.JobID) error

	// StopRequested reports whether the cooperative-cancellation flag
	// is raised. Unknown jobs report true so orphaned workflows drain.
	StopRequested(ctx context.Context, jobID id.JobID) bool

	// GetLogs returns one page of the log feed. It never mutates or
	// drains the sequence.
	GetLogs(ctx context.Context, jobID id.JobID, limit, offset int) (*LogPage, error)

	// DeleteJob removes the record entirely; subsequent reads return
	// ErrJobNotFound.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// SweepTerminal deletes terminal jobs whose CompletedAt is older
	// than the retention window and returns how many were removed.
	SweepTerminal(ctx context.Context, retention time.Duration) (int, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
