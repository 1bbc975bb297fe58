package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rickicode/bulkpanel"
	"github.com/rickicode/bulkpanel/backoff"
	"github.com/rickicode/bulkpanel/ext"
	"github.com/rickicode/bulkpanel/flow"
	"github.com/rickicode/bulkpanel/id"
	"github.com/rickicode/bulkpanel/job"
	"github.com/rickicode/bulkpanel/middleware"
	"github.com/rickicode/bulkpanel/worker"
)

// Option configures the Engine.
type Option func(*Engine)

// WithConfig replaces the default configuration.
func WithConfig(cfg bulkpanel.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithBackoff replaces the inter-attempt delay strategy.
func WithBackoff(bo backoff.Strategy) Option {
	return func(e *Engine) { e.bo = bo }
}

// WithExtensions registers lifecycle extensions.
func WithExtensions(exts ...ext.Extension) Option {
	return func(e *Engine) { e.pendingExts = append(e.pendingExts, exts...) }
}

// WithMiddleware replaces the default per-attempt middleware chain.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(e *Engine) { e.mws = mws }
}

// Engine runs bulk provisioning jobs. One Engine serves many concurrent
// jobs; each job's items run under their own bounded worker pool.
type Engine struct {
	cfg        bulkpanel.Config
	store      job.Store
	registry   *flow.Registry
	extensions *ext.Registry
	bo         backoff.Strategy
	mws        []middleware.Middleware
	logger     *slog.Logger

	pendingExts []ext.Extension

	// baseCtx parents every background job run; Close cancels it so
	// retry delays and collaborator calls unwind during shutdown.
	baseCtx context.Context
	cancel  context.CancelFunc
	jobs    sync.WaitGroup

	janitor *cron.Cron

	mu      sync.Mutex
	started bool
	closed  bool
}

// New creates an Engine over the given store and workflow registry.
func New(store job.Store, registry *flow.Registry, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, bulkpanel.ErrNoStore
	}
	if registry == nil {
		return nil, fmt.Errorf("engine: nil workflow registry")
	}

	e := &Engine{
		cfg:      bulkpanel.DefaultConfig(),
		store:    store,
		registry: registry,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}

	if e.bo == nil {
		e.bo = backoff.NewConstant(e.cfg.RetryDelay)
	}
	if e.mws == nil {
		e.mws = []middleware.Middleware{
			middleware.Recover(e.logger),
			middleware.Logging(e.logger),
			middleware.Metrics(),
			middleware.Tracing(),
		}
	}

	e.extensions = ext.NewRegistry(e.logger)
	for _, x := range e.pendingExts {
		e.extensions.Register(x)
	}
	e.pendingExts = nil

	e.baseCtx, e.cancel = context.WithCancel(context.Background())
	return e, nil
}

// Extensions returns the extension registry, so callers can register
// extensions after construction but before Start.
func (e *Engine) Extensions() *ext.Registry { return e.extensions }

// Start launches the retention janitor. Submit works before Start; only
// the janitor needs it.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started || e.closed {
		return nil
	}
	e.started = true

	e.janitor = cron.New()
	spec := fmt.Sprintf("@every %s", e.cfg.SweepInterval)
	if _, err := e.janitor.AddFunc(spec, e.sweep); err != nil {
		return fmt.Errorf("engine: schedule janitor: %w", err)
	}
	e.janitor.Start()

	e.logger.Info("engine started",
		slog.Int("concurrency", e.cfg.Concurrency),
		slog.Int("max_attempts", e.cfg.MaxAttempts),
		slog.Duration("job_retention", e.cfg.JobRetention),
	)
	return nil
}

func (e *Engine) sweep() {
	ctx, cancel := context.WithTimeout(e.baseCtx, 30*time.Second)
	defer cancel()

	removed, err := e.store.SweepTerminal(ctx, e.cfg.JobRetention)
	if err != nil {
		e.logger.Error("retention sweep failed", slog.Any("error", err))
		return
	}
	if removed > 0 {
		e.logger.Info("retention sweep", slog.Int("removed", removed))
	}
}

// Submit creates a job for the given kind and starts executing it in
// the background. It returns as soon as the record exists; callers
// follow along via GetStatus/GetLogs.
func (e *Engine) Submit(ctx context.Context, kind job.Kind, items []job.Item, creds job.Credentials) (id.JobID, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return id.JobID{}, bulkpanel.ErrStoreClosed
	}
	e.mu.Unlock()

	def, ok := e.registry.Get(kind)
	if !ok {
		return id.JobID{}, fmt.Errorf("engine: kind %q: %w", kind, bulkpanel.ErrUnknownKind)
	}
	if len(items) == 0 {
		return id.JobID{}, fmt.Errorf("engine: empty item list: %w", bulkpanel.ErrInvalidJob)
	}

	j := &job.Job{
		ID:     id.NewJobID(),
		Kind:   kind,
		Status: job.StatusRunning,
		Items:  items,
	}
	if err := e.store.CreateJob(ctx, j); err != nil {
		return id.JobID{}, err
	}

	e.jobs.Add(1)
	go func() {
		defer e.jobs.Done()
		e.run(j, def, creds)
	}()

	e.logger.Info("job submitted",
		slog.String("job_id", j.ID.String()),
		slog.String("kind", string(kind)),
		slog.Int("items", len(items)),
	)
	return j.ID, nil
}

// run executes one job to its terminal state. It is detached from the
// submitter's context; only engine shutdown cancels it.
func (e *Engine) run(j *job.Job, def flow.Definition, creds job.Credentials) {
	ctx := e.baseCtx

	wf, err := def.Build(ctx, creds)
	if err != nil {
		// Setup error: the whole job fails before any item runs.
		if fErr := e.store.FailJob(ctx, j.ID, err); fErr != nil {
			e.logger.Error("record setup failure", slog.String("job_id", j.ID.String()), slog.Any("error", fErr))
		}
		j.Status = job.StatusFailed
		e.extensions.EmitJobFailed(ctx, j, err)
		e.logger.Warn("job setup failed",
			slog.String("job_id", j.ID.String()),
			slog.Any("error", err),
		)
		return
	}

	e.extensions.EmitJobStarted(ctx, j)
	start := time.Now()

	seq := flow.NewSequencer(e.store, &extStageEmitter{r: e.extensions}, e.logger)
	exec := worker.NewExecutor(e.store, seq, e.bo, e.cfg.MaxAttempts, e.logger, e.mws...)
	pool := worker.NewPool(e.store, e.extensions, e.logger, worker.WithConcurrency(e.cfg.Concurrency))

	pool.Run(ctx, j, func(ctx context.Context, item job.Item) job.Outcome {
		return exec.Execute(ctx, j, wf, item)
	})

	// The queue drained and nothing is in flight: pick the terminal
	// status. A stop observed mid-run lands on the kind's stop policy;
	// an undisturbed run completes.
	status := job.StatusCompleted
	if e.store.StopRequested(ctx, j.ID) {
		status = def.StopStatus
	}
	if err := e.store.CompleteJob(ctx, j.ID, status); err != nil {
		e.logger.Error("record completion", slog.String("job_id", j.ID.String()), slog.Any("error", err))
		return
	}

	j.Status = status
	e.extensions.EmitJobCompleted(ctx, j, time.Since(start))
	e.logger.Info("job finished",
		slog.String("job_id", j.ID.String()),
		slog.String("status", string(status)),
		slog.Duration("elapsed", time.Since(start)),
	)
}

// Kinds lists the workflow kinds this engine can run.
func (e *Engine) Kinds() []job.Kind {
	return e.registry.Kinds()
}

// GetStatus returns the polling snapshot for a job.
func (e *Engine) GetStatus(ctx context.Context, jobID id.JobID) (*job.Snapshot, error) {
	return e.store.Snapshot(ctx, jobID)
}

// GetLogs returns one page of a job's log feed.
func (e *Engine) GetLogs(ctx context.Context, jobID id.JobID, limit, offset int) (*job.LogPage, error) {
	return e.store.GetLogs(ctx, jobID, limit, offset)
}

// RequestStop raises the job's cooperative-cancellation flag. In-flight
// stages finish; unstarted items settle as skipped.
func (e *Engine) RequestStop(ctx context.Context, jobID id.JobID) error {
	return e.store.RequestStop(ctx, jobID)
}

// Delete stops the job if it is still running and removes its record
// immediately, without waiting for the retention window.
func (e *Engine) Delete(ctx context.Context, jobID id.JobID) error {
	if err := e.store.RequestStop(ctx, jobID); err != nil {
		return err
	}
	return e.store.DeleteJob(ctx, jobID)
}

// Close shuts the engine down: the janitor stops, running jobs get the
// shutdown timeout to settle, then the base context is cancelled and
// extensions are notified.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	janitor := e.janitor
	e.mu.Unlock()

	if janitor != nil {
		<-janitor.Stop().Done()
	}

	done := make(chan struct{})
	go func() {
		e.jobs.Wait()
		close(done)
	}()

	timeout := e.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case <-done:
	case <-time.After(timeout):
		e.logger.Warn("shutdown timeout, cancelling running jobs")
	case <-ctx.Done():
	}

	e.cancel()
	e.extensions.EmitShutdown(context.WithoutCancel(ctx))
	return e.store.Close()
}

// extStageEmitter adapts the extension registry to flow.StageEmitter.
type extStageEmitter struct {
	r *ext.Registry
}

func (a *extStageEmitter) EmitStageCompleted(ctx context.Context, jobID id.JobID, item job.Item, stage string, elapsed time.Duration) {
	a.r.EmitStageCompleted(ctx, jobID, item, stage, elapsed)
}

func (a *extStageEmitter) EmitStageFailed(ctx context.Context, jobID id.JobID, item job.Item, stage string, err error) {
	a.r.EmitStageFailed(ctx, jobID, item, stage, err)
}
