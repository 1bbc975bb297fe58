// Package redis implements job.Store using Redis for deployments where
// the orchestrator runs behind more than one process or must survive a
// restart mid-run. Job records are stored as Redis Hashes, log and
// result sequences as Lists, and the stop flag as a plain key.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
