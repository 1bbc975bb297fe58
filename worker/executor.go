// Package worker provides the item execution engine — an Executor that
// gives one item's stage sequence a fixed number of attempts through
// the middleware chain, and a Pool that runs item workflows with a
// bounded concurrency ceiling.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rickicode/bulkpanel"
	"github.com/rickicode/bulkpanel/backoff"
	"github.com/rickicode/bulkpanel/flow"
	"github.com/rickicode/bulkpanel/id"
	"github.com/rickicode/bulkpanel/job"
	"github.com/rickicode/bulkpanel/middleware"
)

// Executor is the retry wrapper: it runs one item's stage sequence up
// to maxAttempts times with an inter-attempt delay, and records only
// the final attempt's error as the item's failure reason. Intermediate
// attempt failures are log-only.
type Executor struct {
	store       job.Store
	seq         *flow.Sequencer
	bo          backoff.Strategy
	maxAttempts int
	mw          middleware.Middleware
	logger      *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	store job.Store,
	seq *flow.Sequencer,
	bo backoff.Strategy,
	maxAttempts int,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Executor{
		store:       store,
		seq:         seq,
		bo:          bo,
		maxAttempts: maxAttempts,
		mw:          middleware.Chain(mws...),
		logger:      logger,
	}
}

// Execute runs the item's workflow until it settles: success or skip on
// any attempt short-circuits the remaining attempts; a stop observed at
// a stage boundary settles the item as skipped without further retries;
// exhausting all attempts settles it as failed with the final attempt's
// error. Exactly one Outcome is returned per call.
func (e *Executor) Execute(ctx context.Context, j *job.Job, wf flow.ItemWorkflow, item job.Item) job.Outcome {
	// One execution ID spans every attempt of this item, so its log
	// entries correlate across retries.
	execID := id.NewItemID()

	var lastErr error
	var lastStage string

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		var res *flow.Result

		a := &middleware.Attempt{
			JobID:  j.ID,
			Kind:   j.Kind,
			Item:   item,
			Number: attempt,
			Max:    e.maxAttempts,
		}

		// Stages is called per attempt so each attempt acquires fresh
		// transient resources and releases them via Exec.Defer.
		terminal := func(ctx context.Context) error {
			res = e.seq.Run(ctx, j.ID, item, attempt, wf.Stages(item))
			return res.Err
		}

		err := e.mw(ctx, a, terminal)

		if err == nil {
			if res != nil && res.Skipped {
				return job.Outcome{ItemKey: item.Key, Skipped: true, Payload: res.Payload}
			}
			var payload map[string]string
			if res != nil {
				payload = res.Payload
			}
			return job.Outcome{ItemKey: item.Key, Success: true, Payload: payload}
		}

		if errors.Is(err, bulkpanel.ErrStopped) {
			return job.Outcome{
				ItemKey: item.Key,
				Skipped: true,
				Error:   "force-stopped by user",
			}
		}

		lastErr = err
		lastStage = ""
		if res != nil {
			lastStage = res.StageFailed
		}

		e.store.AppendLog(ctx, j.ID, job.Entry{
			Time:    time.Now().UTC(),
			Level:   job.LevelWarn,
			Message: "attempt failed",
			Data: map[string]any{
				"item":    item.Key,
				"exec_id": execID.String(),
				"attempt": attempt,
				"max":     e.maxAttempts,
				"error":   err.Error(),
			},
		})

		if attempt == e.maxAttempts {
			break
		}

		delay := e.bo.Delay(attempt)
		e.logger.Debug("retrying item",
			slog.String("job_id", j.ID.String()),
			slog.String("item", item.Key),
			slog.String("exec_id", execID.String()),
			slog.Int("next_attempt", attempt+1),
			slog.Duration("delay", delay),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			// Shutdown during the inter-attempt pause: settle with the
			// last attempt's error rather than starting a new attempt.
			return job.Outcome{
				ItemKey:     item.Key,
				Error:       lastErr.Error(),
				StageFailed: lastStage,
			}
		}
	}

	return job.Outcome{
		ItemKey:     item.Key,
		Error:       lastErr.Error(),
		StageFailed: lastStage,
	}
}
