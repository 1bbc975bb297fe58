package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/rickicode/bulkpanel/id"
	"github.com/rickicode/bulkpanel/job"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type jobStartedEntry struct {
	name string
	hook JobStarted
}

type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

type itemSettledEntry struct {
	name string
	hook ItemSettled
}

type stageCompletedEntry struct {
	name string
	hook StageCompleted
}

type stageFailedEntry struct {
	name string
	hook StageFailed
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
// A failing hook is logged and never propagates into the engine.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	jobStarted     []jobStartedEntry
	jobCompleted   []jobCompletedEntry
	jobFailed      []jobFailedEntry
	itemSettled    []itemSettledEntry
	stageCompleted []stageCompletedEntry
	stageFailed    []stageFailedEntry
	shutdown       []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, jobStartedEntry{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, h})
	}
	if h, ok := e.(ItemSettled); ok {
		r.itemSettled = append(r.itemSettled, itemSettledEntry{name, h})
	}
	if h, ok := e.(StageCompleted); ok {
		r.stageCompleted = append(r.stageCompleted, stageCompletedEntry{name, h})
	}
	if h, ok := e.(StageFailed); ok {
		r.stageFailed = append(r.stageFailed, stageFailedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension {
	return r.extensions
}

func (r *Registry) hookErr(name, hook string, err error) {
	if err != nil {
		r.logger.Warn("extension hook error",
			slog.String("extension", name),
			slog.String("hook", hook),
			slog.String("error", err.Error()),
		)
	}
}

// EmitJobStarted notifies JobStarted hooks.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		r.hookErr(e.name, "OnJobStarted", e.hook.OnJobStarted(ctx, j))
	}
}

// EmitJobCompleted notifies JobCompleted hooks.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		r.hookErr(e.name, "OnJobCompleted", e.hook.OnJobCompleted(ctx, j, elapsed))
	}
}

// EmitJobFailed notifies JobFailed hooks.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, err error) {
	for _, e := range r.jobFailed {
		r.hookErr(e.name, "OnJobFailed", e.hook.OnJobFailed(ctx, j, err))
	}
}

// EmitItemSettled notifies ItemSettled hooks.
func (r *Registry) EmitItemSettled(ctx context.Context, jobID id.JobID, o job.Outcome) {
	for _, e := range r.itemSettled {
		r.hookErr(e.name, "OnItemSettled", e.hook.OnItemSettled(ctx, jobID, o))
	}
}

// EmitStageCompleted notifies StageCompleted hooks.
func (r *Registry) EmitStageCompleted(ctx context.Context, jobID id.JobID, item job.Item, stage string, elapsed time.Duration) {
	for _, e := range r.stageCompleted {
		r.hookErr(e.name, "OnStageCompleted", e.hook.OnStageCompleted(ctx, jobID, item, stage, elapsed))
	}
}

// EmitStageFailed notifies StageFailed hooks.
func (r *Registry) EmitStageFailed(ctx context.Context, jobID id.JobID, item job.Item, stage string, err error) {
	for _, e := range r.stageFailed {
		r.hookErr(e.name, "OnStageFailed", e.hook.OnStageFailed(ctx, jobID, item, stage, err))
	}
}

// EmitShutdown notifies Shutdown hooks.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		r.hookErr(e.name, "OnShutdown", e.hook.OnShutdown(ctx))
	}
}
