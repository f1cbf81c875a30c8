package testkit

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// TestDatabaseTemplate owns a template database whose schema is set up
// once via Initialize and cloned per test via CreateTestDatabase. A
// semaphore bounds the number of clone operations in flight, per
// spec.md §4.5.
type TestDatabaseTemplate struct {
	backend Backend
	cfg     DatabaseConfig
	poolCfg PoolConfig
	dbName  DatabaseName
	logger  Logger

	mu       sync.Mutex
	replicas map[DatabaseName]struct{}

	permits *semaphore.Weighted

	closeOnce sync.Once
	closed    atomic.Bool
}

// NewTemplate generates a template database name, creates it empty on
// backend, and returns a TestDatabaseTemplate bounded to maxReplicas
// concurrent outstanding clones.
func NewTemplate(ctx context.Context, backend Backend, cfg DatabaseConfig, maxReplicas int) (*TestDatabaseTemplate, error) {
	if maxReplicas <= 0 {
		maxReplicas = 1
	}

	name := NewDatabaseName(cfg.prefix())
	if err := backend.CreateDatabase(ctx, name); err != nil {
		return nil, err
	}

	tmpl := &TestDatabaseTemplate{
		backend:  backend,
		cfg:      cfg,
		poolCfg:  DefaultPoolConfig(),
		dbName:   name,
		logger:   cfg.logger(),
		replicas: make(map[DatabaseName]struct{}),
		permits:  semaphore.NewWeighted(int64(maxReplicas)),
	}

	runtime.AddCleanup(tmpl, func(logger Logger) {
		logger.Printf("testkit: TestDatabaseTemplate finalized without Close()")
	}, tmpl.logger)

	return tmpl, nil
}

// Name returns the template database's name.
func (t *TestDatabaseTemplate) Name() DatabaseName { return t.dbName }

// Backend returns the backend this template was built with.
func (t *TestDatabaseTemplate) Backend() Backend { return t.backend }

// Initialize opens a pool against the template, acquires a connection,
// runs setupFn, then releases the connection and closes the pool.
// After Initialize returns nil, no application session remains on the
// template database, a hard requirement of Postgres's
// CREATE DATABASE ... TEMPLATE.
func (t *TestDatabaseTemplate) Initialize(ctx context.Context, setupFn func(context.Context, Connection) error) error {
	pool, err := t.backend.CreatePool(ctx, t.dbName, t.poolCfg)
	if err != nil {
		return err
	}
	defer pool.Close(ctx)

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer pool.Release(ctx, conn)

	if setupFn == nil {
		return nil
	}
	return setupFn(ctx, conn)
}

// CreateTestDatabase acquires a clone permit (blocking if the template
// is already at maxReplicas outstanding clones), clones the template
// into a freshly named replica, and returns an owning
// TestDatabaseInstance. The permit is released when the returned
// instance is closed.
func (t *TestDatabaseTemplate) CreateTestDatabase(ctx context.Context) (*TestDatabaseInstance, error) {
	if err := t.permits.Acquire(ctx, 1); err != nil {
		return nil, WrapError(PoolError, "acquire clone permit", err)
	}
	permitHeld := true
	release := func() {
		if permitHeld {
			permitHeld = false
			t.permits.Release(1)
		}
	}
	defer func() {
		if permitHeld {
			release()
		}
	}()

	replicaName := NewDatabaseName(t.cfg.prefix())
	if err := t.backend.CloneFromTemplate(ctx, replicaName, t.dbName); err != nil {
		return nil, err
	}

	pool, err := t.backend.CreatePool(ctx, replicaName, t.poolCfg)
	if err != nil {
		_ = t.backend.DropDatabase(ctx, replicaName)
		return nil, err
	}

	t.mu.Lock()
	t.replicas[replicaName] = struct{}{}
	t.mu.Unlock()

	inst := newInstance(t.backend, pool, replicaName, t.logger)
	inst.onClose = func(context.Context) {
		t.mu.Lock()
		delete(t.replicas, replicaName)
		t.mu.Unlock()
		t.permits.Release(1)
	}
	permitHeld = false // ownership of the permit moves to inst.onClose
	return inst, nil
}

// ReplicaCount reports the number of replicas currently tracked as
// alive, used by tests asserting replica tracking.
func (t *TestDatabaseTemplate) ReplicaCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.replicas)
}

// Close steps through every live replica, cleaning each up in
// parallel via errgroup (one goroutine per replica, with no limit on
// how many run at once), then drops the template itself, per
// spec.md §4.9 step 5.
func (t *TestDatabaseTemplate) Close(ctx context.Context) error {
	var outerErr error
	t.closeOnce.Do(func() {
		t.closed.Store(true)

		t.mu.Lock()
		names := make([]DatabaseName, 0, len(t.replicas))
		for n := range t.replicas {
			names = append(names, n)
		}
		t.mu.Unlock()

		g, gctx := errgroup.WithContext(ctx)
		for _, n := range names {
			n := n
			g.Go(func() error {
				if err := supervisedCleanup(gctx, t.backend, n, t.logger); err != nil {
					t.logger.Printf("testkit: cleanup replica %s: %v", n, err)
				}
				return nil
			})
		}
		_ = g.Wait()

		outerErr = supervisedCleanup(ctx, t.backend, t.dbName, t.logger)
	})
	return outerErr
}

// Closed reports whether Close has run.
func (t *TestDatabaseTemplate) Closed() bool { return t.closed.Load() }
