// Package memory provides the in-memory process store. It is the
// primary backend: job history is volatile by design, since polling
// clients only care about jobs from the current process lifetime.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickicode/bulkpanel"
	"github.com/rickicode/bulkpanel/id"
	"github.com/rickicode/bulkpanel/job"
)

// Ensure Store implements job.Store at compile time.
var _ job.Store = (*Store)(nil)

// record is the store-private backing for one job. The Job value is
// owned exclusively by the store; reads hand out copies.
type record struct {
	job  job.Job
	logs []job.Entry
	stop bool
}

// Store is a fully in-memory implementation of job.Store.
// Safe for concurrent access.
type Store struct {
	mu           sync.RWMutex
	jobs         map[string]*record
	logRetention int
	logger       *slog.Logger
	closed       bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogRetention caps the number of log entries kept per job.
func WithLogRetention(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.logRetention = n
		}
	}
}

// WithLogger sets the logger used for degraded-condition warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New returns a new empty Store with the default 1000-entry log cap.
func New(opts ...Option) *Store {
	s := &Store{
		jobs:         make(map[string]*record),
		logRetention: 1000,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping always succeeds for the memory store.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return bulkpanel.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Records are dropped.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.jobs = make(map[string]*record)
	return nil
}

// CreateJob persists a new job record and stamps the synthetic
// "process started" log entry.
func (s *Store) CreateJob(_ context.Context, j *job.Job) error {
	if len(j.Items) == 0 {
		return bulkpanel.ErrInvalidJob
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return bulkpanel.ErrStoreClosed
	}

	key := j.ID.String()
	if _, exists := s.jobs[key]; exists {
		return bulkpanel.ErrInvalidJob
	}

	cp := copyJob(j)
	if cp.Status == "" {
		cp.Status = job.StatusRunning
	}
	if cp.StartedAt.IsZero() {
		cp.StartedAt = time.Now().UTC()
	}
	cp.Progress.Total = len(cp.Items)

	rec := &record{job: cp}
	rec.logs = append(rec.logs, job.Entry{
		Time:    time.Now().UTC(),
		Level:   job.LevelInfo,
		Message: "process started",
		Data:    map[string]any{"kind": string(cp.Kind), "total": len(cp.Items)},
	})
	s.jobs[key] = rec

	return nil
}

// GetJob retrieves a copy of the full job record.
func (s *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.jobs[jobID.String()]
	if !ok {
		return nil, bulkpanel.ErrJobNotFound
	}
	cp := copyJob(&rec.job)
	return &cp, nil
}

// Snapshot returns the read-only polling projection.
func (s *Store) Snapshot(_ context.Context, jobID id.JobID) (*job.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.jobs[jobID.String()]
	if !ok {
		return nil, bulkpanel.ErrJobNotFound
	}

	j := &rec.job
	snap := &job.Snapshot{
		ID:          j.ID,
		Kind:        j.Kind,
		Status:      j.Status,
		Progress:    j.Progress,
		Percent:     j.Progress.Percent(),
		Results:     append([]job.Outcome(nil), j.Results...),
		Error:       j.Error,
		ErrorCode:   j.ErrorCode,
		StartedAt:   j.StartedAt,
		CompletedAt: copyTimePtr(j.CompletedAt),
	}
	return snap, nil
}

// AppendLog appends an entry, enforcing the retention cap. Appending to
// an unknown job is a no-op: a stale reference must not crash a
// workflow, and the condition is logically impossible under correct use.
func (s *Store) AppendLog(_ context.Context, jobID id.JobID, e job.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID.String()]
	if !ok {
		s.logger.Warn("append log for unknown job", slog.String("job_id", jobID.String()))
		return
	}

	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	rec.logs = append(rec.logs, e)
	if over := len(rec.logs) - s.logRetention; over > 0 {
		rec.logs = append([]job.Entry(nil), rec.logs[over:]...)
	}
}

// AppendResult appends one item outcome to the job's results.
func (s *Store) AppendResult(_ context.Context, jobID id.JobID, o job.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID.String()]
	if !ok {
		return bulkpanel.ErrJobNotFound
	}
	rec.job.Results = append(rec.job.Results, o)
	return nil
}

// UpdateProgress merges the supplied progress. Counters are merged with
// max so they never decrease; CurrentItem is always replaced.
func (s *Store) UpdateProgress(_ context.Context, jobID id.JobID, p job.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID.String()]
	if !ok {
		return bulkpanel.ErrJobNotFound
	}

	cur := &rec.job.Progress
	cur.Processed = maxInt(cur.Processed, p.Processed)
	cur.Successful = maxInt(cur.Successful, p.Successful)
	cur.Failed = maxInt(cur.Failed, p.Failed)
	cur.Skipped = maxInt(cur.Skipped, p.Skipped)
	cur.CurrentItem = p.CurrentItem
	return nil
}

// CompleteJob transitions the job to completed or cancelled.
// Idempotent no-op when already terminal.
func (s *Store) CompleteJob(_ context.Context, jobID id.JobID, status job.Status) error {
	if !status.Terminal() || status == job.StatusFailed {
		return bulkpanel.ErrInvalidJob
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID.String()]
	if !ok {
		return bulkpanel.ErrJobNotFound
	}
	if rec.job.Status.Terminal() {
		return nil
	}

	now := time.Now().UTC()
	rec.job.Status = status
	rec.job.CompletedAt = &now
	rec.job.Progress.CurrentItem = ""
	rec.logs = appendCapped(rec.logs, s.logRetention, job.Entry{
		Time:    now,
		Level:   job.LevelInfo,
		Message: "process finished",
		Data: map[string]any{
			"status":   string(status),
			"duration": now.Sub(rec.job.StartedAt).String(),
		},
	})
	return nil
}

// FailJob transitions the job to failed, recording the error as a
// {message, code} pair. Idempotent no-op when already terminal.
func (s *Store) FailJob(_ context.Context, jobID id.JobID, jobErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID.String()]
	if !ok {
		return bulkpanel.ErrJobNotFound
	}
	if rec.job.Status.Terminal() {
		return nil
	}

	now := time.Now().UTC()
	rec.job.Status = job.StatusFailed
	rec.job.CompletedAt = &now
	rec.job.Progress.CurrentItem = ""
	if jobErr != nil {
		rec.job.Error = jobErr.Error()
		rec.job.ErrorCode = bulkpanel.Code(jobErr)
	}
	rec.logs = appendCapped(rec.logs, s.logRetention, job.Entry{
		Time:    now,
		Level:   job.LevelError,
		Message: "process failed",
		Data:    map[string]any{"error": rec.job.Error},
	})
	return nil
}

// RequestStop raises the cooperative-cancellation flag. Idempotent;
// no-op on terminal jobs.
func (s *Store) RequestStop(_ context.Context, jobID id.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID.String()]
	if !ok {
		return bulkpanel.ErrJobNotFound
	}
	if rec.job.Status.Terminal() || rec.stop {
		return nil
	}
	rec.stop = true
	rec.logs = appendCapped(rec.logs, s.logRetention, job.Entry{
		Time:    time.Now().UTC(),
		Level:   job.LevelWarn,
		Message: "stop requested",
	})
	return nil
}

// StopRequested reports the cooperative-cancellation flag. Unknown jobs
// report true so orphaned workflows drain instead of churning.
func (s *Store) StopRequested(_ context.Context, jobID id.JobID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.jobs[jobID.String()]
	if !ok {
		return true
	}
	return rec.stop
}

// GetLogs returns one page of the log feed. Offsets index into the
// retained window; repeated polls with the same offset return the same
// entries.
func (s *Store) GetLogs(_ context.Context, jobID id.JobID, limit, offset int) (*job.LogPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.jobs[jobID.String()]
	if !ok {
		return nil, bulkpanel.ErrJobNotFound
	}

	total := len(rec.logs)
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 100
	}
	if offset >= total {
		return &job.LogPage{Entries: []job.Entry{}, Total: total}, nil
	}

	end := offset + limit
	if end > total {
		end = total
	}
	page := append([]job.Entry(nil), rec.logs[offset:end]...)
	return &job.LogPage{Entries: page, Total: total, HasMore: end < total}, nil
}

// DeleteJob removes the record entirely.
func (s *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := jobID.String()
	if _, ok := s.jobs[key]; !ok {
		return bulkpanel.ErrJobNotFound
	}
	delete(s.jobs, key)
	return nil
}

// SweepTerminal deletes terminal jobs older than the retention window.
func (s *Store) SweepTerminal(_ context.Context, retention time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-retention)
	removed := 0
	for key, rec := range s.jobs {
		if !rec.job.Status.Terminal() || rec.job.CompletedAt == nil {
			continue
		}
		if rec.job.CompletedAt.Before(cutoff) {
			delete(s.jobs, key)
			removed++
		}
	}
	return removed, nil
}

func copyJob(j *job.Job) job.Job {
	cp := *j
	cp.Items = append([]job.Item(nil), j.Items...)
	cp.Results = append([]job.Outcome(nil), j.Results...)
	cp.CompletedAt = copyTimePtr(j.CompletedAt)
	return cp
}

func copyTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func appendCapped(logs []job.Entry, limit int, e job.Entry) []job.Entry {
	logs = append(logs, e)
	if over := len(logs) - limit; over > 0 {
		logs = append([]job.Entry(nil), logs[over:]...)
	}
	return logs
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
