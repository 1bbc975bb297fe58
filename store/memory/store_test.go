package memory_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rickicode/bulkpanel"
	"github.com/rickicode/bulkpanel/id"
	"github.com/rickicode/bulkpanel/job"
	"github.com/rickicode/bulkpanel/store/memory"
)

func newJob(n int) *job.Job {
	items := make([]job.Item, n)
	for i := range items {
		items[i] = job.Item{Key: fmt.Sprintf("site%d.example.com", i)}
	}
	return &job.Job{
		ID:     id.NewJobID(),
		Kind:   job.KindCreate,
		Status: job.StatusRunning,
		Items:  items,
	}
}

func TestCreateJob_RejectsEmptyItems(t *testing.T) {
	s := memory.New()
	j := &job.Job{ID: id.NewJobID(), Kind: job.KindCreate}

	err := s.CreateJob(context.Background(), j)
	if !errors.Is(err, bulkpanel.ErrInvalidJob) {
		t.Fatalf("CreateJob = %v, want ErrInvalidJob", err)
	}
}

func TestCreateJob_InitializesRecord(t *testing.T) {
	s := memory.New()
	j := newJob(3)

	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != job.StatusRunning {
		t.Errorf("Status = %q, want running", got.Status)
	}
	if got.Progress.Total != 3 {
		t.Errorf("Progress.Total = %d, want 3", got.Progress.Total)
	}
	if got.StartedAt.IsZero() {
		t.Error("StartedAt not stamped")
	}

	// The synthetic "process started" entry is appended at creation.
	page, err := s.GetLogs(context.Background(), j.ID, 10, 0)
	if err != nil {
		t.Fatalf("GetLogs: %v", err)
	}
	if page.Total != 1 || page.Entries[0].Message != "process started" {
		t.Errorf("expected single 'process started' entry, got %+v", page)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	s := memory.New()

	if _, err := s.GetJob(context.Background(), id.NewJobID()); !errors.Is(err, bulkpanel.ErrJobNotFound) {
		t.Errorf("GetJob = %v, want ErrJobNotFound", err)
	}
	if _, err := s.Snapshot(context.Background(), id.NewJobID()); !errors.Is(err, bulkpanel.ErrJobNotFound) {
		t.Errorf("Snapshot = %v, want ErrJobNotFound", err)
	}
}

func TestAppendLog_UnknownJobIsNoOp(t *testing.T) {
	s := memory.New()

	// Must not panic or error: a stale reference cannot crash a workflow.
	s.AppendLog(context.Background(), id.NewJobID(), job.Entry{Message: "orphan"})
}

func TestUpdateProgress_Monotonic(t *testing.T) {
	s := memory.New()
	j := newJob(5)
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	up := func(p job.Progress) {
		t.Helper()
		if err := s.UpdateProgress(context.Background(), j.ID, p); err != nil {
			t.Fatalf("UpdateProgress: %v", err)
		}
	}

	up(job.Progress{Processed: 3, Successful: 2, Failed: 1, CurrentItem: "a"})
	// A lower value must not decrease the stored counters.
	up(job.Progress{Processed: 1, Successful: 1, CurrentItem: "b"})

	got, _ := s.GetJob(context.Background(), j.ID)
	if got.Progress.Processed != 3 || got.Progress.Successful != 2 || got.Progress.Failed != 1 {
		t.Errorf("counters decreased: %+v", got.Progress)
	}
	if got.Progress.CurrentItem != "b" {
		t.Errorf("CurrentItem = %q, want last writer", got.Progress.CurrentItem)
	}
}

func TestTerminalTransition_Idempotent(t *testing.T) {
	s := memory.New()
	j := newJob(1)
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if err := s.CompleteJob(context.Background(), j.ID, job.StatusCompleted); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	first, _ := s.GetJob(context.Background(), j.ID)

	// Second complete and a late fail are both no-ops.
	if err := s.CompleteJob(context.Background(), j.ID, job.StatusCompleted); err != nil {
		t.Fatalf("second CompleteJob: %v", err)
	}
	if err := s.FailJob(context.Background(), j.ID, errors.New("late")); err != nil {
		t.Fatalf("late FailJob: %v", err)
	}

	after, _ := s.GetJob(context.Background(), j.ID)
	if after.Status != job.StatusCompleted {
		t.Errorf("Status = %q, want completed (sink)", after.Status)
	}
	if !after.CompletedAt.Equal(*first.CompletedAt) {
		t.Errorf("CompletedAt changed after second transition")
	}
	if after.Error != "" {
		t.Errorf("Error recorded after terminal: %q", after.Error)
	}
}

func TestFailJob_RecordsMessageAndCode(t *testing.T) {
	s := memory.New()
	j := newJob(2)
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if err := s.FailJob(context.Background(), j.ID, fmt.Errorf("connect panel: %w", bulkpanel.ErrInvalidJob)); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	snap, err := s.Snapshot(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Status != job.StatusFailed {
		t.Errorf("Status = %q, want failed", snap.Status)
	}
	if snap.Error == "" || snap.ErrorCode != "invalid_job" {
		t.Errorf("error pair = {%q, %q}, want message plus code", snap.Error, snap.ErrorCode)
	}
}

func TestGetLogs_PaginationAndMonotonicity(t *testing.T) {
	s := memory.New()
	j := newJob(1)
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	for i := range 9 {
		s.AppendLog(context.Background(), j.ID, job.Entry{
			Level:   job.LevelInfo,
			Message: fmt.Sprintf("entry %d", i),
		})
	}
	// 1 creation entry + 9 appended = 10.

	page1, err := s.GetLogs(context.Background(), j.ID, 4, 0)
	if err != nil {
		t.Fatalf("GetLogs: %v", err)
	}
	if page1.Total != 10 || len(page1.Entries) != 4 || !page1.HasMore {
		t.Fatalf("page1 = total %d len %d hasMore %v", page1.Total, len(page1.Entries), page1.HasMore)
	}

	// Appending more entries must not change what a fixed offset returns.
	s.AppendLog(context.Background(), j.ID, job.Entry{Message: "later"})
	again, _ := s.GetLogs(context.Background(), j.ID, 4, 0)
	for i := range page1.Entries {
		if again.Entries[i].Message != page1.Entries[i].Message {
			t.Errorf("entry %d changed between polls: %q != %q", i, again.Entries[i].Message, page1.Entries[i].Message)
		}
	}
	if again.Total < page1.Total {
		t.Errorf("total decreased: %d < %d", again.Total, page1.Total)
	}

	last, _ := s.GetLogs(context.Background(), j.ID, 4, 8)
	if len(last.Entries) != 3 || last.HasMore {
		t.Errorf("tail page = len %d hasMore %v", len(last.Entries), last.HasMore)
	}

	past, _ := s.GetLogs(context.Background(), j.ID, 4, 99)
	if len(past.Entries) != 0 || past.HasMore {
		t.Errorf("past-end page should be empty, got %d entries", len(past.Entries))
	}
}

func TestAppendLog_RetentionCap(t *testing.T) {
	s := memory.New(memory.WithLogRetention(5))
	j := newJob(1)
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	for i := range 20 {
		s.AppendLog(context.Background(), j.ID, job.Entry{Message: fmt.Sprintf("entry %d", i)})
	}

	page, _ := s.GetLogs(context.Background(), j.ID, 100, 0)
	if page.Total != 5 {
		t.Fatalf("Total = %d, want retention cap 5", page.Total)
	}
	// Oldest entries are dropped first.
	if page.Entries[0].Message != "entry 15" {
		t.Errorf("oldest retained = %q, want 'entry 15'", page.Entries[0].Message)
	}
}

func TestStopFlag(t *testing.T) {
	s := memory.New()
	j := newJob(2)
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if s.StopRequested(context.Background(), j.ID) {
		t.Error("stop flag raised before request")
	}
	if err := s.RequestStop(context.Background(), j.ID); err != nil {
		t.Fatalf("RequestStop: %v", err)
	}
	// Idempotent.
	if err := s.RequestStop(context.Background(), j.ID); err != nil {
		t.Fatalf("second RequestStop: %v", err)
	}
	if !s.StopRequested(context.Background(), j.ID) {
		t.Error("stop flag not observed")
	}

	// Unknown jobs report stopped so orphaned workflows drain.
	if !s.StopRequested(context.Background(), id.NewJobID()) {
		t.Error("unknown job should report stopped")
	}
	if err := s.RequestStop(context.Background(), id.NewJobID()); !errors.Is(err, bulkpanel.ErrJobNotFound) {
		t.Errorf("RequestStop unknown job = %v, want ErrJobNotFound", err)
	}
}

func TestUpdateProgress_ConcurrentWritersStayMonotonic(t *testing.T) {
	s := memory.New()
	j := newJob(64)
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	// Each writer pushes its own absolute snapshot; interleavings must
	// never roll the stored counters backwards.
	var wg sync.WaitGroup
	for i := 1; i <= 64; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := s.UpdateProgress(context.Background(), j.ID, job.Progress{
				Processed:  n,
				Successful: n,
			})
			if err != nil {
				t.Errorf("UpdateProgress(%d): %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Progress.Processed != 64 || got.Progress.Successful != 64 {
		t.Errorf("progress = %d/%d, want 64/64", got.Progress.Processed, got.Progress.Successful)
	}
}

func TestDeleteJob(t *testing.T) {
	s := memory.New()
	j := newJob(1)
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if err := s.DeleteJob(context.Background(), j.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, err := s.GetJob(context.Background(), j.ID); !errors.Is(err, bulkpanel.ErrJobNotFound) {
		t.Errorf("GetJob after delete = %v, want ErrJobNotFound", err)
	}
	if err := s.DeleteJob(context.Background(), j.ID); !errors.Is(err, bulkpanel.ErrJobNotFound) {
		t.Errorf("second DeleteJob = %v, want ErrJobNotFound", err)
	}
}

func TestSweepTerminal(t *testing.T) {
	s := memory.New()

	old := newJob(1)
	if err := s.CreateJob(context.Background(), old); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.CompleteJob(context.Background(), old.ID, job.StatusCompleted); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	running := newJob(1)
	if err := s.CreateJob(context.Background(), running); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	// Zero retention: anything terminal is past the window.
	time.Sleep(5 * time.Millisecond)
	removed, err := s.SweepTerminal(context.Background(), 0)
	if err != nil {
		t.Fatalf("SweepTerminal: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := s.GetJob(context.Background(), running.ID); err != nil {
		t.Errorf("running job swept: %v", err)
	}
}

func TestResultsAccumulate(t *testing.T) {
	s := memory.New()
	j := newJob(2)
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if err := s.AppendResult(context.Background(), j.ID, job.Outcome{ItemKey: "a", Success: true}); err != nil {
		t.Fatalf("AppendResult: %v", err)
	}
	if err := s.AppendResult(context.Background(), j.ID, job.Outcome{ItemKey: "b", Skipped: true}); err != nil {
		t.Fatalf("AppendResult: %v", err)
	}

	snap, _ := s.Snapshot(context.Background(), j.ID)
	if len(snap.Results) != 2 {
		t.Fatalf("Results length = %d, want 2", len(snap.Results))
	}
}
