package redis

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rickicode/bulkpanel/job"
)

// Compile-time interface check.
var _ job.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithLogRetention caps the per-job log feed at n entries; older
// entries are trimmed as new ones arrive.
func WithLogRetention(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.logRetention = n
		}
	}
}

// WithTerminalTTL sets an expiry on all of a job's keys when it
// reaches a terminal status, so finished jobs age out even if the
// sweeper never runs. Zero disables the TTL.
func WithTerminalTTL(d time.Duration) Option {
	return func(s *Store) { s.terminalTTL = d }
}

// Store implements job.Store backed by Redis.
type Store struct {
	client       redis.Cmdable
	logger       *slog.Logger
	logRetention int
	terminalTTL  time.Duration
}

// New creates a new Redis-backed store. The caller owns the Redis
// client lifecycle.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:       client,
		logger:       slog.Default(),
		logRetention: 1000,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.Cmdable { return s.client }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op. The caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }
