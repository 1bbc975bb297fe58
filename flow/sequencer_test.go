package flow_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/rickicode/bulkpanel"
	"github.com/rickicode/bulkpanel/flow"
	"github.com/rickicode/bulkpanel/id"
	"github.com/rickicode/bulkpanel/job"
	"github.com/rickicode/bulkpanel/store/memory"
)

func setup(t *testing.T) (*memory.Store, id.JobID, job.Item, *flow.Sequencer) {
	t.Helper()
	s := memory.New()
	item := job.Item{Key: "x.example.com"}
	j := &job.Job{ID: id.NewJobID(), Kind: job.KindCreate, Items: []job.Item{item}}
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return s, j.ID, item, flow.NewSequencer(s, nil, slog.Default())
}

func stage(name string, fn func(ctx context.Context, ex *flow.Exec) (flow.Verdict, error)) flow.Stage {
	return flow.Stage{Name: name, Run: fn}
}

func TestRun_ThreadsStateBetweenStages(t *testing.T) {
	_, jobID, item, seq := setup(t)

	stages := []flow.Stage{
		stage("first", func(ctx context.Context, ex *flow.Exec) (flow.Verdict, error) {
			ex.Set("account", "acct-1")
			ex.Contribute("username", "user1")
			return flow.Continue, nil
		}),
		stage("second", func(ctx context.Context, ex *flow.Exec) (flow.Verdict, error) {
			v, ok := ex.Value("account")
			if !ok || v.(string) != "acct-1" {
				t.Errorf("state not threaded: %v %v", v, ok)
			}
			ex.Contribute("record", "rec-9")
			return flow.Continue, nil
		}),
	}

	res := seq.Run(context.Background(), jobID, item, 1, stages)
	if res.Err != nil || res.Skipped || res.Stopped {
		t.Fatalf("result = %+v", res)
	}
	if res.Payload["username"] != "user1" || res.Payload["record"] != "rec-9" {
		t.Errorf("payload = %v, want contributions merged", res.Payload)
	}
}

func TestRun_FailureShortCircuits(t *testing.T) {
	s, jobID, item, seq := setup(t)
	boom := errors.New("collaborator down")
	ran := []string{}

	stages := []flow.Stage{
		stage("ok", func(ctx context.Context, ex *flow.Exec) (flow.Verdict, error) {
			ran = append(ran, "ok")
			ex.Contribute("early", "kept")
			return flow.Continue, nil
		}),
		stage("fails", func(ctx context.Context, ex *flow.Exec) (flow.Verdict, error) {
			ran = append(ran, "fails")
			return flow.Continue, boom
		}),
		stage("never", func(ctx context.Context, ex *flow.Exec) (flow.Verdict, error) {
			ran = append(ran, "never")
			return flow.Continue, nil
		}),
	}

	res := seq.Run(context.Background(), jobID, item, 1, stages)
	if !errors.Is(res.Err, boom) || res.StageFailed != "fails" {
		t.Fatalf("result = %+v", res)
	}
	if len(ran) != 2 {
		t.Errorf("ran = %v, want short-circuit after failure", ran)
	}
	// Effects of completed stages are not rolled back.
	if res.Payload["early"] != "kept" {
		t.Errorf("payload = %v", res.Payload)
	}

	page, _ := s.GetLogs(context.Background(), jobID, 100, 0)
	var failLine bool
	for _, e := range page.Entries {
		if e.Message == "stage failed" && e.Data["stage"] == "fails" {
			failLine = true
		}
	}
	if !failLine {
		t.Error("no stage-failed log entry")
	}
}

func TestRun_SkipRest(t *testing.T) {
	_, jobID, item, seq := setup(t)

	stages := []flow.Stage{
		stage("precheck", func(ctx context.Context, ex *flow.Exec) (flow.Verdict, error) {
			ex.Contribute("note", "already exists")
			return flow.SkipRest, nil
		}),
		stage("never", func(ctx context.Context, ex *flow.Exec) (flow.Verdict, error) {
			t.Error("stage ran after SkipRest")
			return flow.Continue, nil
		}),
	}

	res := seq.Run(context.Background(), jobID, item, 1, stages)
	if !res.Skipped || res.Err != nil {
		t.Fatalf("result = %+v", res)
	}
	if res.Payload["note"] != "already exists" {
		t.Errorf("payload = %v", res.Payload)
	}
}

func TestRun_StopCheckedAtStageBoundary(t *testing.T) {
	s, jobID, item, seq := setup(t)

	stages := []flow.Stage{
		stage("first", func(ctx context.Context, ex *flow.Exec) (flow.Verdict, error) {
			// Stop lands mid-sequence: the in-flight stage finishes,
			// the next boundary aborts.
			if err := s.RequestStop(ctx, jobID); err != nil {
				t.Fatalf("RequestStop: %v", err)
			}
			return flow.Continue, nil
		}),
		stage("never", func(ctx context.Context, ex *flow.Exec) (flow.Verdict, error) {
			t.Error("stage ran after stop request")
			return flow.Continue, nil
		}),
	}

	res := seq.Run(context.Background(), jobID, item, 1, stages)
	if !res.Stopped || !errors.Is(res.Err, bulkpanel.ErrStopped) {
		t.Fatalf("result = %+v", res)
	}
}

func TestRun_CleanupsRunOnEveryExitPath(t *testing.T) {
	tests := []struct {
		name   string
		stages func(released *[]string) []flow.Stage
	}{
		{"success", func(released *[]string) []flow.Stage {
			return []flow.Stage{
				stage("acquire", func(ctx context.Context, ex *flow.Exec) (flow.Verdict, error) {
					ex.Defer(func() { *released = append(*released, "a") })
					ex.Defer(func() { *released = append(*released, "b") })
					return flow.Continue, nil
				}),
			}
		}},
		{"failure", func(released *[]string) []flow.Stage {
			return []flow.Stage{
				stage("acquire", func(ctx context.Context, ex *flow.Exec) (flow.Verdict, error) {
					ex.Defer(func() { *released = append(*released, "a") })
					ex.Defer(func() { *released = append(*released, "b") })
					return flow.Continue, errors.New("boom")
				}),
			}
		}},
		{"skip", func(released *[]string) []flow.Stage {
			return []flow.Stage{
				stage("acquire", func(ctx context.Context, ex *flow.Exec) (flow.Verdict, error) {
					ex.Defer(func() { *released = append(*released, "a") })
					ex.Defer(func() { *released = append(*released, "b") })
					return flow.SkipRest, nil
				}),
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, jobID, item, seq := setup(t)
			var released []string
			seq.Run(context.Background(), jobID, item, 1, tt.stages(&released))
			// LIFO release order.
			if len(released) != 2 || released[0] != "b" || released[1] != "a" {
				t.Errorf("released = %v, want [b a]", released)
			}
		})
	}
}

func TestRun_CleanupsRunOnStopExit(t *testing.T) {
	s, jobID, item, seq := setup(t)
	var released bool

	stages := []flow.Stage{
		stage("acquire", func(ctx context.Context, ex *flow.Exec) (flow.Verdict, error) {
			ex.Defer(func() { released = true })
			if err := s.RequestStop(ctx, jobID); err != nil {
				t.Fatalf("RequestStop: %v", err)
			}
			return flow.Continue, nil
		}),
		stage("never", func(ctx context.Context, ex *flow.Exec) (flow.Verdict, error) {
			return flow.Continue, nil
		}),
	}

	res := seq.Run(context.Background(), jobID, item, 1, stages)
	if !res.Stopped {
		t.Fatalf("result = %+v", res)
	}
	if !released {
		t.Error("cleanup skipped on stop exit")
	}
}

func TestRegistry(t *testing.T) {
	reg := flow.NewRegistry()
	def := flow.Definition{
		Kind:       job.KindCreate,
		StopStatus: job.StatusCancelled,
		Build: func(ctx context.Context, creds job.Credentials) (flow.ItemWorkflow, error) {
			return flow.StagesFunc(func(item job.Item) []flow.Stage { return nil }), nil
		},
	}
	if err := reg.Register(def); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(def); err == nil {
		t.Error("duplicate kind registered")
	}

	bad := def
	bad.Kind = "bad"
	bad.StopStatus = job.StatusRunning
	if err := reg.Register(bad); err == nil {
		t.Error("non-terminal stop status accepted")
	}

	if _, ok := reg.Get(job.KindCreate); !ok {
		t.Error("registered kind not found")
	}
	if _, ok := reg.Get("unknown"); ok {
		t.Error("unknown kind found")
	}
}
