package engine_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickicode/bulkpanel"
	"github.com/rickicode/bulkpanel/engine"
	"github.com/rickicode/bulkpanel/flow"
	"github.com/rickicode/bulkpanel/id"
	"github.com/rickicode/bulkpanel/job"
	"github.com/rickicode/bulkpanel/store/memory"
)

// stageFn runs for every item of a test workflow.
type stageFn func(ctx context.Context, ex *flow.Exec) (flow.Verdict, error)

func testDefinition(kind job.Kind, stop job.Status, fn stageFn) flow.Definition {
	return flow.Definition{
		Kind:       kind,
		StopStatus: stop,
		Build: func(ctx context.Context, creds job.Credentials) (flow.ItemWorkflow, error) {
			return flow.StagesFunc(func(item job.Item) []flow.Stage {
				return []flow.Stage{{Name: "work", Run: fn}}
			}), nil
		},
	}
}

func newEngine(t *testing.T, cfg bulkpanel.Config, defs ...flow.Definition) (*engine.Engine, *memory.Store) {
	t.Helper()

	reg := flow.NewRegistry()
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	s := memory.New()
	e, err := engine.New(s, reg, engine.WithConfig(cfg), engine.WithLogger(slog.Default()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Close(ctx)
	})
	return e, s
}

func fastConfig(concurrency, maxAttempts int) bulkpanel.Config {
	cfg := bulkpanel.DefaultConfig()
	cfg.Concurrency = concurrency
	cfg.MaxAttempts = maxAttempts
	cfg.RetryDelay = 5 * time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func items(n int) []job.Item {
	out := make([]job.Item, n)
	for i := range out {
		out[i] = job.Item{Key: fmt.Sprintf("site%d.example.com", i)}
	}
	return out
}

// waitTerminal polls until the job reaches a terminal status.
func waitTerminal(t *testing.T, e *engine.Engine, jobID id.JobID) *job.Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := e.GetStatus(context.Background(), jobID)
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if snap.Status.Terminal() {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal status")
	return nil
}

func TestSubmit_UnknownKind(t *testing.T) {
	e, _ := newEngine(t, fastConfig(3, 1))

	_, err := e.Submit(context.Background(), job.Kind("nope"), items(1), job.Credentials{})
	if !errors.Is(err, bulkpanel.ErrUnknownKind) {
		t.Fatalf("err = %v, want ErrUnknownKind", err)
	}
}

func TestSubmit_EmptyItems(t *testing.T) {
	def := testDefinition("ok", job.StatusCompleted, func(ctx context.Context, ex *flow.Exec) (flow.Verdict, error) {
		return flow.Continue, nil
	})
	e, _ := newEngine(t, fastConfig(3, 1), def)

	_, err := e.Submit(context.Background(), "ok", nil, job.Credentials{})
	if !errors.Is(err, bulkpanel.ErrInvalidJob) {
		t.Fatalf("err = %v, want ErrInvalidJob", err)
	}
}

func TestRun_AllItemsSucceed(t *testing.T) {
	var executed atomic.Int32
	def := testDefinition("ok", job.StatusCompleted, func(ctx context.Context, ex *flow.Exec) (flow.Verdict, error) {
		executed.Add(1)
		ex.Contribute("done", ex.Item.Key)
		return flow.Continue, nil
	})
	e, _ := newEngine(t, fastConfig(3, 3), def)

	jobID, err := e.Submit(context.Background(), "ok", items(10), job.Credentials{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	snap := waitTerminal(t, e, jobID)
	if snap.Status != job.StatusCompleted {
		t.Fatalf("status = %q", snap.Status)
	}
	if executed.Load() != 10 {
		t.Errorf("executed = %d, want 10 (one per item, no retries on success)", executed.Load())
	}
	if snap.Progress.Processed != 10 || snap.Progress.Successful != 10 || snap.Progress.Failed != 0 {
		t.Errorf("progress = %+v", snap.Progress)
	}
	if snap.Percent != 100 {
		t.Errorf("percent = %d", snap.Percent)
	}
	if len(snap.Results) != 10 {
		t.Errorf("results = %d, want exactly one per item", len(snap.Results))
	}
	for _, o := range snap.Results {
		if !o.Success || o.Payload["done"] != o.ItemKey {
			t.Errorf("outcome = %+v", o)
		}
	}
}

func TestRun_RetriesExhaustedSettleAsFailed(t *testing.T) {
	// Items 0 and 1 always fail; the rest succeed.
	failing := map[string]bool{"site0.example.com": true, "site1.example.com": true}
	var attempts atomic.Int32

	def := testDefinition("mixed", job.StatusCompleted, func(ctx context.Context, ex *flow.Exec) (flow.Verdict, error) {
		if failing[ex.Item.Key] {
			attempts.Add(1)
			return flow.Continue, fmt.Errorf("collaborator refused %s (attempt %d)", ex.Item.Key, ex.Attempt)
		}
		return flow.Continue, nil
	})
	e, _ := newEngine(t, fastConfig(2, 3), def)

	jobID, err := e.Submit(context.Background(), "mixed", items(5), job.Credentials{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	snap := waitTerminal(t, e, jobID)
	// Item failures never fail the job; it completes with mixed results.
	if snap.Status != job.StatusCompleted {
		t.Fatalf("status = %q", snap.Status)
	}
	if snap.Progress.Successful != 3 || snap.Progress.Failed != 2 {
		t.Errorf("progress = %+v", snap.Progress)
	}
	if got := attempts.Load(); got != 6 {
		t.Errorf("failing attempts = %d, want 2 items x 3 attempts", got)
	}
	if len(snap.Results) != 5 {
		t.Fatalf("results = %d, want one per item", len(snap.Results))
	}
	for _, o := range snap.Results {
		if !failing[o.ItemKey] {
			continue
		}
		if o.Success || o.Skipped || o.StageFailed != "work" {
			t.Errorf("failed outcome = %+v", o)
		}
		// Only the final attempt's error is recorded.
		if want := "(attempt 3)"; !strings.Contains(o.Error, want) {
			t.Errorf("outcome error = %q, want final attempt's reason", o.Error)
		}
	}

	// Each failed attempt leaves exactly one retry log line.
	page, err := e.GetLogs(context.Background(), jobID, 1000, 0)
	if err != nil {
		t.Fatalf("GetLogs: %v", err)
	}
	perItem := map[string]int{}
	for _, entry := range page.Entries {
		if entry.Message != "attempt failed" {
			continue
		}
		item, _ := entry.Data["item"].(string)
		perItem[item]++
	}
	for key := range failing {
		if perItem[key] != 3 {
			t.Errorf("attempt-failed lines for %s = %d, want 3", key, perItem[key])
		}
	}
}

func TestRun_BoundedConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	def := testDefinition("slow", job.StatusCompleted, func(ctx context.Context, ex *flow.Exec) (flow.Verdict, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return flow.Continue, nil
	})
	e, _ := newEngine(t, fastConfig(3, 1), def)

	jobID, err := e.Submit(context.Background(), "slow", items(10), job.Credentials{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitTerminal(t, e, jobID)
	if got := peak.Load(); got > 3 {
		t.Errorf("peak in-flight = %d, want <= 3", got)
	}
}

func TestRun_StopSkipsRemainingItems(t *testing.T) {
	started := make(chan string, 1)
	release := make(chan struct{})

	def := testDefinition("stoppable", job.StatusCancelled, func(ctx context.Context, ex *flow.Exec) (flow.Verdict, error) {
		started <- ex.Item.Key
		<-release
		ex.Contribute("finished", "yes")
		return flow.Continue, nil
	})
	e, _ := newEngine(t, fastConfig(1, 3), def)

	jobID, err := e.Submit(context.Background(), "stoppable", items(3), job.Credentials{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Wait for the first item to be mid-stage, then stop the job. The
	// in-flight item must finish normally; the rest settle as skipped.
	first := <-started
	if err := e.RequestStop(context.Background(), jobID); err != nil {
		t.Fatalf("RequestStop: %v", err)
	}
	// Stop is idempotent.
	if err := e.RequestStop(context.Background(), jobID); err != nil {
		t.Fatalf("second RequestStop: %v", err)
	}
	close(release)

	snap := waitTerminal(t, e, jobID)
	if snap.Status != job.StatusCancelled {
		t.Fatalf("status = %q, want the kind's stop status", snap.Status)
	}
	if len(snap.Results) != 3 {
		t.Fatalf("results = %d, want one per item", len(snap.Results))
	}
	for _, o := range snap.Results {
		if o.ItemKey == first {
			if !o.Success || o.Payload["finished"] != "yes" {
				t.Errorf("in-flight item was interrupted: %+v", o)
			}
			continue
		}
		if !o.Skipped {
			t.Errorf("unstarted item not skipped: %+v", o)
		}
	}
	if snap.Progress.Successful != 1 || snap.Progress.Skipped != 2 {
		t.Errorf("progress = %+v", snap.Progress)
	}
}

func TestRun_SetupErrorFailsJob(t *testing.T) {
	def := flow.Definition{
		Kind:       "brokensetup",
		StopStatus: job.StatusCancelled,
		Build: func(ctx context.Context, creds job.Credentials) (flow.ItemWorkflow, error) {
			return nil, errors.New("panel unreachable")
		},
	}
	e, _ := newEngine(t, fastConfig(3, 3), def)

	jobID, err := e.Submit(context.Background(), "brokensetup", items(4), job.Credentials{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	snap := waitTerminal(t, e, jobID)
	if snap.Status != job.StatusFailed {
		t.Fatalf("status = %q", snap.Status)
	}
	if snap.Error == "" || snap.ErrorCode == "" {
		t.Errorf("error pair = {%q, %q}", snap.Error, snap.ErrorCode)
	}
	if snap.Progress.Processed != 0 {
		t.Errorf("items ran despite setup failure: %+v", snap.Progress)
	}
}

func TestDelete_RemovesJobImmediately(t *testing.T) {
	def := testDefinition("quick", job.StatusCompleted, func(ctx context.Context, ex *flow.Exec) (flow.Verdict, error) {
		return flow.Continue, nil
	})
	e, _ := newEngine(t, fastConfig(3, 1), def)

	jobID, err := e.Submit(context.Background(), "quick", items(2), job.Credentials{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTerminal(t, e, jobID)

	if err := e.Delete(context.Background(), jobID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := e.GetStatus(context.Background(), jobID); !errors.Is(err, bulkpanel.ErrJobNotFound) {
		t.Errorf("GetStatus after delete = %v, want ErrJobNotFound", err)
	}
}

func TestGetLogs_GrowingView(t *testing.T) {
	def := testDefinition("logging", job.StatusCompleted, func(ctx context.Context, ex *flow.Exec) (flow.Verdict, error) {
		return flow.Continue, nil
	})
	e, _ := newEngine(t, fastConfig(2, 1), def)

	jobID, err := e.Submit(context.Background(), "logging", items(4), job.Credentials{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTerminal(t, e, jobID)

	first, err := e.GetLogs(context.Background(), jobID, 3, 0)
	if err != nil {
		t.Fatalf("GetLogs: %v", err)
	}
	if len(first.Entries) != 3 || !first.HasMore {
		t.Fatalf("page = len %d hasMore %v", len(first.Entries), first.HasMore)
	}

	rest, err := e.GetLogs(context.Background(), jobID, 1000, 3)
	if err != nil {
		t.Fatalf("GetLogs: %v", err)
	}
	if len(rest.Entries)+3 != first.Total {
		t.Errorf("pages do not cover the feed: %d + 3 != %d", len(rest.Entries), first.Total)
	}
	if first.Entries[0].Message != "process started" {
		t.Errorf("first entry = %q", first.Entries[0].Message)
	}
}
