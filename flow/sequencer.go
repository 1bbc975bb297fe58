package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/rickicode/bulkpanel"
	"github.com/rickicode/bulkpanel/id"
	"github.com/rickicode/bulkpanel/job"
)

// StageEmitter receives stage lifecycle events. It is satisfied by
// ext.Registry via an adapter in the engine package, which breaks the
// import cycle between flow and ext.
type StageEmitter interface {
	EmitStageCompleted(ctx context.Context, jobID id.JobID, item job.Item, stage string, elapsed time.Duration)
	EmitStageFailed(ctx context.Context, jobID id.JobID, item job.Item, stage string, err error)
}

// Result is how one attempt of an item's stage sequence settled.
type Result struct {
	// Skipped is set when a stage returned SkipRest.
	Skipped bool
	// Stopped is set when the cooperative-cancellation flag aborted the
	// sequence before a stage ran. Err is bulkpanel.ErrStopped.
	Stopped bool
	// StageFailed names the stage whose error aborted the sequence.
	StageFailed string
	// Err is the stage error, nil on success or skip.
	Err error
	// Payload merges each completed stage's contribution.
	Payload map[string]string
}

// Sequencer executes stage sequences against the process store: it
// appends per-stage log entries and honors the job's stop flag at the
// boundary before each stage.
type Sequencer struct {
	store   job.Store
	emitter StageEmitter
	logger  *slog.Logger
}

// NewSequencer creates a sequencer. The emitter may be nil.
func NewSequencer(store job.Store, emitter StageEmitter, logger *slog.Logger) *Sequencer {
	return &Sequencer{store: store, emitter: emitter, logger: logger}
}

// Run executes the stages for one attempt of one item. It never rolls
// back effects of completed stages when a later stage fails.
func (s *Sequencer) Run(ctx context.Context, jobID id.JobID, item job.Item, attempt int, stages []Stage) *Result {
	ex := NewExec(item, attempt)
	defer ex.release()

	for _, stage := range stages {
		// Cooperative-cancellation checkpoint. In-flight stages are
		// never interrupted; the flag is only observed here.
		if s.store.StopRequested(ctx, jobID) {
			s.store.AppendLog(ctx, jobID, job.Entry{
				Time:    time.Now().UTC(),
				Level:   job.LevelWarn,
				Message: "stop requested, aborting remaining stages",
				Data:    map[string]any{"item": item.Key, "stage": stage.Name},
			})
			return &Result{Stopped: true, Err: bulkpanel.ErrStopped, Payload: ex.Payload()}
		}

		s.logger.Debug("stage started",
			slog.String("job_id", jobID.String()),
			slog.String("item", item.Key),
			slog.String("stage", stage.Name),
			slog.Int("attempt", attempt),
		)

		start := time.Now()
		verdict, err := stage.Run(ctx, ex)
		elapsed := time.Since(start)

		if err != nil {
			s.store.AppendLog(ctx, jobID, job.Entry{
				Time:    time.Now().UTC(),
				Level:   job.LevelError,
				Message: "stage failed",
				Data: map[string]any{
					"item":    item.Key,
					"stage":   stage.Name,
					"attempt": attempt,
					"error":   err.Error(),
				},
			})
			if s.emitter != nil {
				s.emitter.EmitStageFailed(ctx, jobID, item, stage.Name, err)
			}
			return &Result{StageFailed: stage.Name, Err: err, Payload: ex.Payload()}
		}

		s.store.AppendLog(ctx, jobID, job.Entry{
			Time:    time.Now().UTC(),
			Level:   job.LevelInfo,
			Message: "stage completed",
			Data: map[string]any{
				"item":       item.Key,
				"stage":      stage.Name,
				"elapsed_ms": elapsed.Milliseconds(),
			},
		})
		if s.emitter != nil {
			s.emitter.EmitStageCompleted(ctx, jobID, item, stage.Name, elapsed)
		}

		if verdict == SkipRest {
			s.store.AppendLog(ctx, jobID, job.Entry{
				Time:    time.Now().UTC(),
				Level:   job.LevelInfo,
				Message: "remaining stages skipped",
				Data:    map[string]any{"item": item.Key, "stage": stage.Name},
			})
			return &Result{Skipped: true, Payload: ex.Payload()}
		}
	}

	return &Result{Payload: ex.Payload()}
}
