package testkit

import (
	"context"

	"github.com/yuku/testkit/internal/retry"
)

// supervisedCleanup implements the Cleanup Supervisor algorithm from
// spec.md §4.9 for a single owned database: terminate connections
// (best-effort), then retry-drop. Failures are logged, never
// propagated as panics, so callers can run this from a Close/finalizer
// path without risking a cleanup failure masking the caller's own error.
func supervisedCleanup(ctx context.Context, backend Backend, name DatabaseName, logger Logger) error {
	if err := backend.TerminateConnections(ctx, name); err != nil {
		logger.Printf("testkit: terminate connections on %s: %v", name, err)
	}
	err := retry.Do(ctx, retry.DefaultConfig(), func(int) error {
		return backend.DropDatabase(ctx, name)
	})
	if err != nil {
		logger.Printf("testkit: drop database %s: %v", name, err)
		return err
	}
	return nil
}
