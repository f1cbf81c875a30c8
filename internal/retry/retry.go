// Package retry implements the bounded backoff loop spec'd for
// DropDatabase and the Cleanup Supervisor: up to 3 attempts, 500ms
// between them, grounded on the teacher's own retry-free-but-retried-
// by-hand drop loops in pool.go turned into one reusable helper.
package retry

import (
	"context"
	"time"
)

// Config bounds a retry loop.
type Config struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultConfig matches spec.md: up to 3 attempts, 500ms backoff.
func DefaultConfig() Config {
	return Config{Attempts: 3, Backoff: 500 * time.Millisecond}
}

// Do calls fn until it succeeds, ctx is done, or Attempts is exhausted,
// sleeping Backoff between attempts. It returns the last error from fn,
// or ctx.Err() if ctx is done while waiting between attempts.
func Do(ctx context.Context, cfg Config, fn func(attempt int) error) error {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	var err error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if attempt == cfg.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.Backoff):
		}
	}
	return err
}
