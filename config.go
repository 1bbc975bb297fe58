package bulkpanel

import "time"

// Config holds tunables for the orchestration engine.
type Config struct {
	// Concurrency is the maximum number of item workflows in flight at
	// once for a single job.
	Concurrency int

	// MaxAttempts is how many times an item's workflow is tried before
	// its failure is recorded as the item outcome.
	MaxAttempts int

	// RetryDelay is the pause between attempts of the same item.
	RetryDelay time.Duration

	// LogRetention caps the number of log entries kept per job. Oldest
	// entries are dropped once the cap is exceeded.
	LogRetention int

	// JobRetention is how long a terminal job record is kept before the
	// janitor deletes it.
	JobRetention time.Duration

	// SweepInterval is how often the janitor looks for expired records.
	SweepInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight
	// workflows during graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     5,
		MaxAttempts:     3,
		RetryDelay:      2 * time.Second,
		LogRetention:    1000,
		JobRetention:    5 * time.Minute,
		SweepInterval:   time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}
