package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickicode/bulkpanel/ext"
	"github.com/rickicode/bulkpanel/job"
)

// WorkFunc settles one item: it runs the item's workflow (including
// retries) and returns its single Outcome.
type WorkFunc func(ctx context.Context, item job.Item) job.Outcome

// Pool is the bounded work queue: it executes each item's workflow
// exactly once with at most N workflows in flight, refilling as slots
// free up. Before starting any item it consults the job's stop flag;
// once the flag is raised, remaining items drain as skipped while
// in-flight work finishes normally.
type Pool struct {
	store       job.Store
	extensions  *ext.Registry
	concurrency int
	logger      *slog.Logger
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the in-flight workflow ceiling.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// NewPool creates a worker pool.
func NewPool(store job.Store, extensions *ext.Registry, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		store:       store,
		extensions:  extensions,
		concurrency: 5,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run seeds the queue with all of the job's items and blocks until
// every item has settled. It returns only when the queue is empty AND
// zero workflows are in flight — the conjunction that prevents a
// premature done signal while the last N items are still executing.
// The returned progress is the final counters.
func (p *Pool) Run(ctx context.Context, j *job.Job, work WorkFunc) job.Progress {
	queue := make(chan job.Item, len(j.Items))
	for _, item := range j.Items {
		queue <- item
	}
	close(queue)

	prog := job.Progress{Total: len(j.Items)}
	var mu sync.Mutex

	workers := p.concurrency
	if workers > len(j.Items) {
		workers = len(j.Items)
	}

	p.logger.Info("work queue started",
		slog.String("job_id", j.ID.String()),
		slog.Int("items", len(j.Items)),
		slog.Int("concurrency", workers),
	)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for item := range queue {
				// Admission checkpoint: a raised stop flag drains the
				// remaining items without starting their workflows.
				if p.store.StopRequested(ctx, j.ID) {
					p.settle(ctx, j, &mu, &prog, job.Outcome{
						ItemKey: item.Key,
						Skipped: true,
						Error:   "skipped due to stop request",
					})
					continue
				}

				mu.Lock()
				prog.CurrentItem = item.Key
				snapshot := prog
				mu.Unlock()
				if err := p.store.UpdateProgress(ctx, j.ID, snapshot); err != nil {
					p.logger.Warn("progress update failed",
						slog.String("job_id", j.ID.String()),
						slog.String("error", err.Error()),
					)
				}

				// Per-item execution is independent: an item's failure
				// settles only that item.
				out := work(ctx, item)
				out.ItemKey = item.Key
				p.settle(ctx, j, &mu, &prog, out)
			}
		}()
	}

	wg.Wait()

	mu.Lock()
	prog.CurrentItem = ""
	final := prog
	mu.Unlock()
	if err := p.store.UpdateProgress(ctx, j.ID, final); err != nil {
		p.logger.Warn("final progress update failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	return final
}

// settle records one item's outcome: counters, the results collection,
// and the item-settled hook. Counter arithmetic happens under the pool
// mutex so the absolute values pushed to the store are monotonic.
func (p *Pool) settle(ctx context.Context, j *job.Job, mu *sync.Mutex, prog *job.Progress, out job.Outcome) {
	mu.Lock()
	prog.Processed++
	switch {
	case out.Skipped:
		prog.Skipped++
	case out.Success:
		prog.Successful++
	default:
		prog.Failed++
	}
	snapshot := *prog
	mu.Unlock()

	if err := p.store.AppendResult(ctx, j.ID, out); err != nil {
		p.logger.Error("failed to append item result",
			slog.String("job_id", j.ID.String()),
			slog.String("item", out.ItemKey),
			slog.String("error", err.Error()),
		)
	}
	if err := p.store.UpdateProgress(ctx, j.ID, snapshot); err != nil {
		p.logger.Warn("progress update failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	p.store.AppendLog(ctx, j.ID, job.Entry{
		Time:    time.Now().UTC(),
		Level:   settleLevel(out),
		Message: settleMessage(out),
		Data:    settleData(out),
	})

	if p.extensions != nil {
		p.extensions.EmitItemSettled(ctx, j.ID, out)
	}
}

func settleLevel(o job.Outcome) job.Level {
	switch {
	case o.Skipped:
		return job.LevelInfo
	case o.Success:
		return job.LevelInfo
	default:
		return job.LevelError
	}
}

func settleMessage(o job.Outcome) string {
	switch {
	case o.Skipped:
		return "item skipped"
	case o.Success:
		return "item completed"
	default:
		return "item failed"
	}
}

func settleData(o job.Outcome) map[string]any {
	data := map[string]any{"item": o.ItemKey}
	if o.Error != "" {
		data["error"] = o.Error
	}
	if o.StageFailed != "" {
		data["stage"] = o.StageFailed
	}
	return data
}
