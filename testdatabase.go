package testkit

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/yuku/testkit/resourcepool"
)

// TestDatabaseInstance owns a single server-side database and the pool
// bound to it. It is created fresh by NewTestDatabaseInstance or by
// TestDatabaseTemplate.CreateTestDatabase, and must be closed exactly
// once — Go has no implicit drop, so an explicit Close call is the
// substitute for spec.md's Drop contract (see DESIGN.md).
type TestDatabaseInstance struct {
	backend Backend
	pool    Pool
	dbName  DatabaseName
	logger  Logger

	reusePool *resourcepool.Pool[Connection]

	closeOnce sync.Once
	closed    atomic.Bool

	// onClose, if set, runs after this instance's own cleanup
	// completes; TestDatabaseTemplate uses it to release the clone
	// permit a replica was holding.
	onClose func(ctx context.Context)
}

// NewTestDatabaseInstance creates a fresh, empty database: generate a
// name, build the pool (lazily-connecting, so it can be configured
// before the database exists), then create the database, per
// spec.md §4.6's deliberate ordering.
func NewTestDatabaseInstance(ctx context.Context, backend Backend, cfg DatabaseConfig, poolCfg PoolConfig) (*TestDatabaseInstance, error) {
	name := NewDatabaseName(cfg.prefix())

	pool, err := backend.CreatePool(ctx, name, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := backend.CreateDatabase(ctx, name); err != nil {
		_ = pool.Close(ctx)
		return nil, err
	}

	inst := newInstance(backend, pool, name, cfg.logger())
	return inst, nil
}

func newInstance(backend Backend, pool Pool, name DatabaseName, logger Logger) *TestDatabaseInstance {
	inst := &TestDatabaseInstance{
		backend: backend,
		pool:    pool,
		dbName:  name,
		logger:  logger,
	}
	inst.reusePool = resourcepool.New(
		func(ctx context.Context) (Connection, error) {
			return inst.pool.Acquire(ctx)
		},
		func(ctx context.Context, c Connection) (Connection, error) {
			if err := c.Reset(ctx); err != nil {
				return nil, err
			}
			return c, nil
		},
	)

	// Last-resort net for a forgotten Close(): logs rather than
	// panicking, never the primary cleanup mechanism.
	runtime.AddCleanup(inst, func(logger Logger) {
		logger.Printf("testkit: TestDatabaseInstance finalized without Close()")
	}, logger)

	return inst
}

// Name returns the database name this instance owns.
func (t *TestDatabaseInstance) Name() DatabaseName { return t.dbName }

// Backend returns the backend this instance was built with.
func (t *TestDatabaseInstance) Backend() Backend { return t.backend }

// ConnectionString returns the URL of the pool backing this instance.
func (t *TestDatabaseInstance) ConnectionString() string { return t.pool.ConnectionString() }

// Connect opens a one-off, non-pooled connection, useful for
// cleanup-verification scenarios that must observe server state
// independent of this instance's own pool.
func (t *TestDatabaseInstance) Connect(ctx context.Context) (Connection, error) {
	return t.backend.ConnectWithString(ctx, t.pool.ConnectionString())
}

// AcquireConnection delegates to the reuse pool, which pops a warm
// connection or acquires a fresh one from the underlying Pool.
func (t *TestDatabaseInstance) AcquireConnection(ctx context.Context) (*resourcepool.Reusable[Connection], error) {
	return t.reusePool.Acquire(ctx)
}

// ReleaseConnection returns r to the reuse pool.
func (t *TestDatabaseInstance) ReleaseConnection(r *resourcepool.Reusable[Connection]) {
	r.Release()
}

// WithConnection acquires a connection, runs op, and releases the
// connection on every exit path including a panic unwinding through op.
func (t *TestDatabaseInstance) WithConnection(ctx context.Context, op func(context.Context, Connection) error) error {
	r, err := t.AcquireConnection(ctx)
	if err != nil {
		return err
	}
	defer r.Release()
	return op(ctx, r.Value())
}

// Setup acquires a connection, runs fn, and releases it; intended for
// schema bootstrap.
func (t *TestDatabaseInstance) Setup(ctx context.Context, fn func(context.Context, Connection) error) error {
	return t.WithConnection(ctx, fn)
}

// Test runs fn against an acquired connection, for test bodies that
// need a zero-value result out of the connection scope.
func (t *TestDatabaseInstance) Test(ctx context.Context, fn func(context.Context, Connection) error) error {
	return t.WithConnection(ctx, fn)
}

// TestValue runs fn against an acquired connection and returns its
// result value, the value-returning analog of Test for callers who
// need data out of the scoped connection.
func TestValue[T any](ctx context.Context, t *TestDatabaseInstance, fn func(context.Context, Connection) (T, error)) (T, error) {
	var zero T
	r, err := t.AcquireConnection(ctx)
	if err != nil {
		return zero, err
	}
	defer r.Release()
	return fn(ctx, r.Value())
}

// BeginTransaction acquires a connection and starts a transaction on
// it. The connection is returned to the reuse pool automatically once
// the Transaction reaches a terminal state via Commit or Rollback.
func (t *TestDatabaseInstance) BeginTransaction(ctx context.Context) (*Transaction, error) {
	r, err := t.AcquireConnection(ctx)
	if err != nil {
		return nil, err
	}
	return beginTransaction(ctx, r.Value(), r.Release)
}

// Close runs the Cleanup Supervisor exactly once: terminate sessions,
// retry-drop the database, and tolerate partial failure without
// panicking, per spec.md §4.9.
func (t *TestDatabaseInstance) Close(ctx context.Context) error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		err = supervisedCleanup(ctx, t.backend, t.dbName, t.logger)
		if closeErr := t.pool.Close(ctx); closeErr != nil {
			t.logger.Printf("testkit: pool close for %s: %v", t.dbName, closeErr)
		}
		if t.onClose != nil {
			t.onClose(ctx)
		}
	})
	return err
}

// Closed reports whether Close has run.
func (t *TestDatabaseInstance) Closed() bool { return t.closed.Load() }
