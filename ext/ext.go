// Package ext defines the extension system for bulkpanel. Extensions
// are notified of lifecycle events (job started, item settled, stage
// failed, etc.) and can react to them — metrics, audit logs, webhooks.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/rickicode/bulkpanel/id"
	"github.com/rickicode/bulkpanel/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// JobStarted is called when a job begins executing its items.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job reaches a terminal state other
// than failed (completed, or cancelled by a stop request).
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a setup error fails the whole job.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// ItemSettled is called once per submitted item when its outcome is
// recorded, whether success, failure, or skip.
type ItemSettled interface {
	OnItemSettled(ctx context.Context, jobID id.JobID, o job.Outcome) error
}

// StageCompleted is called after a workflow stage completes.
type StageCompleted interface {
	OnStageCompleted(ctx context.Context, jobID id.JobID, item job.Item, stage string, elapsed time.Duration) error
}

// StageFailed is called when a workflow stage fails.
type StageFailed interface {
	OnStageFailed(ctx context.Context, jobID id.JobID, item job.Item, stage string, err error) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
