package job

import "time"

// Level is the severity of a log entry.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Entry is one appended log line. Entries are immutable once appended;
// their order is the causal order of the stage that produced them.
// Entries from concurrently running items interleave in real-time
// append order, so consumers key off the item field in Data.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   Level          `json:"level"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// LogPage is one page of the offset-paginated log feed. Repeated polls
// with the same offset return the same entries; Total is non-decreasing
// until the retention cap drops the oldest entries.
type LogPage struct {
	Entries []Entry `json:"logs"`
	Total   int     `json:"total"`
	HasMore bool    `json:"has_more"`
}
