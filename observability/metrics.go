package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rickicode/bulkpanel/ext"
	"github.com/rickicode/bulkpanel/id"
	"github.com/rickicode/bulkpanel/job"
)

// meterName is the instrumentation scope name for bulkpanel metrics.
const meterName = "github.com/rickicode/bulkpanel"

// Compile-time hook checks.
var (
	_ ext.Extension      = (*MetricsExtension)(nil)
	_ ext.JobStarted     = (*MetricsExtension)(nil)
	_ ext.JobCompleted   = (*MetricsExtension)(nil)
	_ ext.JobFailed      = (*MetricsExtension)(nil)
	_ ext.ItemSettled    = (*MetricsExtension)(nil)
	_ ext.StageCompleted = (*MetricsExtension)(nil)
	_ ext.StageFailed    = (*MetricsExtension)(nil)
)

// MetricsExtension records lifecycle metrics via OTel.
//
// Instruments:
//   - bulkpanel.jobs.started (Int64Counter), attribute: kind
//   - bulkpanel.jobs.finished (Int64Counter), attributes: kind, status
//   - bulkpanel.job.duration (Float64Histogram, s), attribute: kind
//   - bulkpanel.items.settled (Int64Counter), attribute: result
//   - bulkpanel.stage.duration (Float64Histogram, s), attribute: stage
//   - bulkpanel.stage.failures (Int64Counter), attribute: stage
type MetricsExtension struct {
	jobsStarted   metric.Int64Counter
	jobsFinished  metric.Int64Counter
	jobDuration   metric.Float64Histogram
	itemsSettled  metric.Int64Counter
	stageDuration metric.Float64Histogram
	stageFailures metric.Int64Counter
}

// NewMetrics creates the extension on the global MeterProvider.
func NewMetrics() *MetricsExtension {
	return NewMetricsWithMeter(otel.Meter(meterName))
}

// NewMetricsWithMeter allows injecting a meter for testing. OTel
// returns noop instruments on error, so creation failures degrade to
// pass-through recording.
func NewMetricsWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}
	m.jobsStarted, _ = meter.Int64Counter("bulkpanel.jobs.started",
		metric.WithDescription("Jobs that began executing items"),
		metric.WithUnit("{job}"))
	m.jobsFinished, _ = meter.Int64Counter("bulkpanel.jobs.finished",
		metric.WithDescription("Jobs that reached a terminal status"),
		metric.WithUnit("{job}"))
	m.jobDuration, _ = meter.Float64Histogram("bulkpanel.job.duration",
		metric.WithDescription("Wall time from first item to terminal status"),
		metric.WithUnit("s"))
	m.itemsSettled, _ = meter.Int64Counter("bulkpanel.items.settled",
		metric.WithDescription("Item outcomes recorded"),
		metric.WithUnit("{item}"))
	m.stageDuration, _ = meter.Float64Histogram("bulkpanel.stage.duration",
		metric.WithDescription("Workflow stage execution time"),
		metric.WithUnit("s"))
	m.stageFailures, _ = meter.Int64Counter("bulkpanel.stage.failures",
		metric.WithDescription("Workflow stage failures"),
		metric.WithUnit("{failure}"))
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "otel-metrics" }

// OnJobStarted implements ext.JobStarted.
func (m *MetricsExtension) OnJobStarted(ctx context.Context, j *job.Job) error {
	m.jobsStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(j.Kind)),
	))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	attrs := metric.WithAttributes(
		attribute.String("kind", string(j.Kind)),
		attribute.String("status", string(j.Status)),
	)
	m.jobsFinished.Add(ctx, 1, attrs)
	m.jobDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("kind", string(j.Kind)),
	))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, err error) error {
	m.jobsFinished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(j.Kind)),
		attribute.String("status", string(job.StatusFailed)),
	))
	return nil
}

// OnItemSettled implements ext.ItemSettled.
func (m *MetricsExtension) OnItemSettled(ctx context.Context, jobID id.JobID, o job.Outcome) error {
	result := "success"
	switch {
	case o.Skipped:
		result = "skipped"
	case !o.Success:
		result = "failed"
	}
	m.itemsSettled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
	))
	return nil
}

// OnStageCompleted implements ext.StageCompleted.
func (m *MetricsExtension) OnStageCompleted(ctx context.Context, jobID id.JobID, item job.Item, stage string, elapsed time.Duration) error {
	m.stageDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("stage", stage),
	))
	return nil
}

// OnStageFailed implements ext.StageFailed.
func (m *MetricsExtension) OnStageFailed(ctx context.Context, jobID id.JobID, item job.Item, stage string, err error) error {
	m.stageFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
	))
	return nil
}
