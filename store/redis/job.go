package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rickicode/bulkpanel"
	"github.com/rickicode/bulkpanel/id"
	"github.com/rickicode/bulkpanel/job"
)

// CreateJob stores the job as a Hash and registers it in the ID set.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	if j == nil || len(j.Items) == 0 {
		return fmt.Errorf("bulkpanel/redis: job has no items: %w", bulkpanel.ErrInvalidJob)
	}

	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("bulkpanel/redis: create check exists: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("bulkpanel/redis: job %s already exists: %w", jID, bulkpanel.ErrInvalidJob)
	}

	if j.Status == "" {
		j.Status = job.StatusRunning
	}
	if j.StartedAt.IsZero() {
		j.StartedAt = time.Now().UTC()
	}
	j.Progress.Total = len(j.Items)

	started := job.Entry{
		Time:    j.StartedAt,
		Level:   job.LevelInfo,
		Message: "process started",
		Data: map[string]any{
			"kind":  string(j.Kind),
			"total": len(j.Items),
		},
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.SAdd(ctx, jobIDsKey, jID)
	pipe.RPush(ctx, logsKey(jID), marshalJSON(started))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("bulkpanel/redis: create job: %w", err)
	}
	return nil
}

// GetJob retrieves the full job record, including accumulated results.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	jID := jobID.String()

	vals, err := s.client.HGetAll(ctx, jobKey(jID)).Result()
	if err != nil {
		return nil, fmt.Errorf("bulkpanel/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, bulkpanel.ErrJobNotFound
	}

	j, err := mapToJob(vals)
	if err != nil {
		return nil, err
	}

	raw, err := s.client.LRange(ctx, resultsKey(jID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("bulkpanel/redis: get results: %w", err)
	}
	if len(raw) > 0 {
		j.Results = make([]job.Outcome, 0, len(raw))
		for _, r := range raw {
			var o job.Outcome
			if uErr := json.Unmarshal([]byte(r), &o); uErr != nil {
				continue
			}
			j.Results = append(j.Results, o)
		}
	}
	return j, nil
}

// Snapshot returns the status projection for polling clients.
func (s *Store) Snapshot(ctx context.Context, jobID id.JobID) (*job.Snapshot, error) {
	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &job.Snapshot{
		ID:          j.ID,
		Kind:        j.Kind,
		Status:      j.Status,
		Progress:    j.Progress,
		Percent:     j.Progress.Percent(),
		Results:     j.Results,
		Error:       j.Error,
		ErrorCode:   j.ErrorCode,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}, nil
}

// AppendLog pushes an entry onto the log list and trims to retention.
// Appending to an unknown job is a warn-level no-op.
func (s *Store) AppendLog(ctx context.Context, jobID id.JobID, e job.Entry) {
	jID := jobID.String()

	exists, err := s.client.Exists(ctx, jobKey(jID)).Result()
	if err != nil {
		s.logger.Warn("append log", slog.Any("error", err))
		return
	}
	if exists == 0 {
		s.logger.Warn("append log for unknown job", slog.String("job_id", jID))
		return
	}

	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	if e.Level == "" {
		e.Level = job.LevelInfo
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, logsKey(jID), marshalJSON(e))
	pipe.LTrim(ctx, logsKey(jID), int64(-s.logRetention), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("append log", slog.String("job_id", jID), slog.Any("error", err))
	}
}

// AppendResult pushes one item outcome onto the results list.
func (s *Store) AppendResult(ctx context.Context, jobID id.JobID, o job.Outcome) error {
	jID := jobID.String()

	exists, err := s.client.Exists(ctx, jobKey(jID)).Result()
	if err != nil {
		return fmt.Errorf("bulkpanel/redis: append result: %w", err)
	}
	if exists == 0 {
		return bulkpanel.ErrJobNotFound
	}

	if err := s.client.RPush(ctx, resultsKey(jID), marshalJSON(o)).Err(); err != nil {
		return fmt.Errorf("bulkpanel/redis: append result: %w", err)
	}
	return nil
}

// progressMergeScript merges absolute counter values into the job
// hash, keeping the maximum of stored and supplied per field. Settling
// workers write concurrently, so the compare must happen inside Redis:
// a client-side read-modify-write lets a stale writer roll counters
// backwards.
var progressMergeScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
local fields = {"processed", "successful", "failed", "skipped"}
for i = 1, #fields do
	local supplied = tonumber(ARGV[i])
	local stored = tonumber(redis.call("HGET", KEYS[1], fields[i])) or 0
	if supplied > stored then
		redis.call("HSET", KEYS[1], fields[i], supplied)
	end
end
redis.call("HSET", KEYS[1], "current_item", ARGV[5])
return 1
`)

// UpdateProgress merges counters into the stored record, keeping the
// maximum of stored and supplied values. CurrentItem is replaced.
func (s *Store) UpdateProgress(ctx context.Context, jobID id.JobID, p job.Progress) error {
	res, err := progressMergeScript.Run(ctx, s.client,
		[]string{jobKey(jobID.String())},
		p.Processed, p.Successful, p.Failed, p.Skipped, p.CurrentItem,
	).Int()
	if err != nil {
		return fmt.Errorf("bulkpanel/redis: update progress: %w", err)
	}
	if res == 0 {
		return bulkpanel.ErrJobNotFound
	}
	return nil
}

// CompleteJob transitions the job to completed or cancelled. Idempotent
// no-op when already terminal.
func (s *Store) CompleteJob(ctx context.Context, jobID id.JobID, status job.Status) error {
	if !status.Terminal() || status == job.StatusFailed {
		return fmt.Errorf("bulkpanel/redis: %q is not a completion status: %w", status, bulkpanel.ErrInvalidJob)
	}
	return s.finish(ctx, jobID, func(now time.Time) map[string]any {
		return map[string]any{
			"status":       string(status),
			"completed_at": now.Format(time.RFC3339Nano),
			"current_item": "",
		}
	}, "process finished")
}

// FailJob transitions the job to failed, recording the error pair.
// Idempotent no-op when already terminal.
func (s *Store) FailJob(ctx context.Context, jobID id.JobID, jobErr error) error {
	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}
	return s.finish(ctx, jobID, func(now time.Time) map[string]any {
		return map[string]any{
			"status":       string(job.StatusFailed),
			"completed_at": now.Format(time.RFC3339Nano),
			"current_item": "",
			"error":        msg,
			"error_code":   bulkpanel.Code(jobErr),
		}
	}, "process failed")
}

// finish performs a terminal transition with the shared
// check-then-stamp sequence and optional TTL.
func (s *Store) finish(ctx context.Context, jobID id.JobID, fields func(time.Time) map[string]any, logMsg string) error {
	jID := jobID.String()
	key := jobKey(jID)

	status, err := s.client.HGet(ctx, key, "status").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return bulkpanel.ErrJobNotFound
		}
		return fmt.Errorf("bulkpanel/redis: finish read status: %w", err)
	}
	if job.Status(status).Terminal() {
		return nil
	}

	now := time.Now().UTC()
	f := fields(now)

	entry := job.Entry{Time: now, Level: job.LevelInfo, Message: logMsg, Data: map[string]any{
		"status": f["status"],
	}}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, f)
	pipe.RPush(ctx, logsKey(jID), marshalJSON(entry))
	pipe.LTrim(ctx, logsKey(jID), int64(-s.logRetention), -1)
	if s.terminalTTL > 0 {
		pipe.Expire(ctx, key, s.terminalTTL)
		pipe.Expire(ctx, logsKey(jID), s.terminalTTL)
		pipe.Expire(ctx, resultsKey(jID), s.terminalTTL)
		pipe.Expire(ctx, stopKey(jID), s.terminalTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("bulkpanel/redis: finish job: %w", err)
	}
	return nil
}

// RequestStop raises the cooperative-cancellation flag. No-op on
// terminal jobs; unknown jobs report ErrJobNotFound.
func (s *Store) RequestStop(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()

	status, err := s.client.HGet(ctx, jobKey(jID), "status").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return bulkpanel.ErrJobNotFound
		}
		return fmt.Errorf("bulkpanel/redis: request stop: %w", err)
	}
	if job.Status(status).Terminal() {
		return nil
	}

	set, err := s.client.SetNX(ctx, stopKey(jID), "1", 0).Result()
	if err != nil {
		return fmt.Errorf("bulkpanel/redis: request stop: %w", err)
	}
	if set {
		s.AppendLog(ctx, jobID, job.Entry{
			Level:   job.LevelWarn,
			Message: "stop requested",
		})
	}
	return nil
}

// StopRequested reports the flag. Unknown jobs report true so orphaned
// workflows drain.
func (s *Store) StopRequested(ctx context.Context, jobID id.JobID) bool {
	jID := jobID.String()

	exists, err := s.client.Exists(ctx, jobKey(jID)).Result()
	if err != nil || exists == 0 {
		return true
	}
	flagged, err := s.client.Exists(ctx, stopKey(jID)).Result()
	if err != nil {
		return true
	}
	return flagged > 0
}

// GetLogs returns one page of the log feed.
func (s *Store) GetLogs(ctx context.Context, jobID id.JobID, limit, offset int) (*job.LogPage, error) {
	jID := jobID.String()

	exists, err := s.client.Exists(ctx, jobKey(jID)).Result()
	if err != nil {
		return nil, fmt.Errorf("bulkpanel/redis: get logs: %w", err)
	}
	if exists == 0 {
		return nil, bulkpanel.ErrJobNotFound
	}

	total, err := s.client.LLen(ctx, logsKey(jID)).Result()
	if err != nil {
		return nil, fmt.Errorf("bulkpanel/redis: get logs llen: %w", err)
	}

	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	if int64(offset) >= total {
		return &job.LogPage{Total: int(total)}, nil
	}

	raw, err := s.client.LRange(ctx, logsKey(jID), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("bulkpanel/redis: get logs lrange: %w", err)
	}

	entries := make([]job.Entry, 0, len(raw))
	for _, r := range raw {
		var e job.Entry
		if uErr := json.Unmarshal([]byte(r), &e); uErr != nil {
			continue
		}
		entries = append(entries, e)
	}
	return &job.LogPage{
		Entries: entries,
		Total:   int(total),
		HasMore: int64(offset+len(entries)) < total,
	}, nil
}

// DeleteJob removes the record and every associated key.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()

	exists, err := s.client.Exists(ctx, jobKey(jID)).Result()
	if err != nil {
		return fmt.Errorf("bulkpanel/redis: delete job: %w", err)
	}
	if exists == 0 {
		return bulkpanel.ErrJobNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, jobKey(jID), logsKey(jID), resultsKey(jID), stopKey(jID))
	pipe.SRem(ctx, jobIDsKey, jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("bulkpanel/redis: delete job: %w", err)
	}
	return nil
}

// SweepTerminal deletes terminal jobs older than the retention window.
// It also prunes ID-set members whose hash already expired via TTL.
func (s *Store) SweepTerminal(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-retention)

	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("bulkpanel/redis: sweep smembers: %w", err)
	}

	removed := 0
	for _, jID := range ids {
		vals, gErr := s.client.HMGet(ctx, jobKey(jID), "status", "completed_at").Result()
		if gErr != nil {
			continue
		}
		if len(vals) != 2 || vals[0] == nil {
			// Hash expired; drop the dangling set member.
			s.client.SRem(ctx, jobIDsKey, jID)
			continue
		}
		status, _ := vals[0].(string)
		if !job.Status(status).Terminal() {
			continue
		}
		completedAt, _ := vals[1].(string)
		t, pErr := time.Parse(time.RFC3339Nano, completedAt)
		if pErr != nil || t.After(cutoff) {
			continue
		}

		pipe := s.client.TxPipeline()
		pipe.Del(ctx, jobKey(jID), logsKey(jID), resultsKey(jID), stopKey(jID))
		pipe.SRem(ctx, jobIDsKey, jID)
		if _, dErr := pipe.Exec(ctx); dErr != nil {
			continue
		}
		removed++
	}
	return removed, nil
}

// ── helpers ──

func jobToMap(j *job.Job) map[string]any {
	m := map[string]any{
		"id":           j.ID.String(),
		"kind":         string(j.Kind),
		"status":       string(j.Status),
		"items":        marshalJSON(j.Items),
		"error":        j.Error,
		"error_code":   j.ErrorCode,
		"started_at":   j.StartedAt.Format(time.RFC3339Nano),
		"processed":    strconv.Itoa(j.Progress.Processed),
		"successful":   strconv.Itoa(j.Progress.Successful),
		"failed":       strconv.Itoa(j.Progress.Failed),
		"skipped":      strconv.Itoa(j.Progress.Skipped),
		"total":        strconv.Itoa(j.Progress.Total),
		"current_item": j.Progress.CurrentItem,
	}
	if j.CompletedAt != nil {
		m["completed_at"] = j.CompletedAt.Format(time.RFC3339Nano)
	}
	return m
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("bulkpanel/redis: parse job id: %w", err)
	}

	processed, _ := strconv.Atoi(m["processed"])   //nolint:errcheck // best-effort parse from trusted Redis data
	successful, _ := strconv.Atoi(m["successful"]) //nolint:errcheck // best-effort parse from trusted Redis data
	failed, _ := strconv.Atoi(m["failed"])         //nolint:errcheck // best-effort parse from trusted Redis data
	skipped, _ := strconv.Atoi(m["skipped"])       //nolint:errcheck // best-effort parse from trusted Redis data
	total, _ := strconv.Atoi(m["total"])           //nolint:errcheck // best-effort parse from trusted Redis data

	startedAt, _ := time.Parse(time.RFC3339Nano, m["started_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	var items []job.Item
	if v := m["items"]; v != "" && v != "null" {
		_ = json.Unmarshal([]byte(v), &items) //nolint:errcheck // best-effort parse from trusted Redis data
	}

	j := &job.Job{
		ID:        jID,
		Kind:      job.Kind(m["kind"]),
		Status:    job.Status(m["status"]),
		Items:     items,
		Error:     m["error"],
		ErrorCode: m["error_code"],
		StartedAt: startedAt,
		Progress: job.Progress{
			Processed:   processed,
			Successful:  successful,
			Failed:      failed,
			Skipped:     skipped,
			Total:       total,
			CurrentItem: m["current_item"],
		},
	}
	if v := m["completed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.CompletedAt = &t
	}
	return j, nil
}

// marshalJSON is a helper to marshal to JSON string.
func marshalJSON(v any) string {
	b, _ := json.Marshal(v) //nolint:errcheck // marshal should not fail for these types
	return string(b)
}
