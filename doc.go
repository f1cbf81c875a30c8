// Package testkit provisions ephemeral, isolated SQL databases for
// integration tests. It normalizes create/drop/pool/terminate semantics
// across heterogeneous backends (PostgreSQL, MySQL, SQLite), amortizes
// schema setup across many test databases with a template-and-clone
// mechanism, and guarantees server-side cleanup on every exit path,
// including panics and concurrent test workers.
//
// Basic usage with a fresh database per test:
//
//	ctx := testkit.WithDatabase(pg).
//	    Setup(func(ctx context.Context, conn testkit.Connection) error {
//	        _, err := conn.Execute(ctx, "CREATE TABLE t(id serial primary key, v text)")
//	        return err
//	    }).
//	    MustExecute(ctx)
//	defer ctx.Close(context.Background())
//
// Usage with a schema template shared across many replicas:
//
//	tmpl, err := testkit.NewTemplate(ctx, pg, cfg, 8)
//	err = tmpl.Initialize(ctx, setupFn)
//	inst, err := tmpl.CreateTestDatabase(ctx)
//	defer inst.Close(ctx)
//
// See backend packages postgres, mysql, sqlite, and gormbackend for
// concrete Backend implementations.
package testkit
