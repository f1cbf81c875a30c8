package testkit

import (
	"context"
	"strings"
)

// Migrate runs statements in order against conn inside a single
// transaction, rolling back and returning the first error encountered.
// It is the "run a sequence of SQL blobs" ceiling spec.md §1 allows:
// no dependency tracking, no versioning table, just ordered execution —
// grounded on the teacher's SetupTemplate/ResetFunc closures and on
// bashhack/testdb's migration-file statement splitting, scoped down to
// an in-memory statement slice since shelling out to a migration tool
// is explicitly out of scope.
func Migrate(ctx context.Context, conn Connection, statements []string) error {
	tx, err := beginTransaction(ctx, conn, nil)
	if err != nil {
		return err
	}
	for _, stmt := range statements {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.Execute(ctx, stmt); err != nil {
			_ = tx.Rollback(ctx)
			return WrapError(QueryError, "migrate", err)
		}
	}
	return tx.Commit(ctx)
}

// SplitStatements splits a SQL script on semicolon-terminated
// statement boundaries, a simplified variant of
// bashhack/testdb/migrations.go's splitter that does not attempt to
// respect string literals or dollar-quoted bodies — callers with
// statements containing literal semicolons must pass statements
// pre-split to Migrate instead.
func SplitStatements(script string) []string {
	parts := strings.Split(script, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
