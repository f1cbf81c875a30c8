package testkit

import (
	"context"
	"fmt"
	"sync"
)

// fakeBackend is an in-memory Backend used to exercise the core
// lifecycle (template, handle, fluent, cleanup) without a real server,
// mirroring the teacher's separation between fast unit tests and
// testing.Short()-gated integration tests against a live Postgres.
type fakeBackend struct {
	mu             sync.Mutex
	databases      map[string]bool
	terminateCalls map[string]int
	dropCalls      map[string]int
	cloneSources   map[string]string

	createDatabaseErr error
	cloneErr          error
	acquireErr        error
	dropErr           error
	terminateErr      error

	// maxConcurrentSeen tracks the high-water mark of in-flight
	// CloneFromTemplate calls, used to assert the template's semaphore
	// actually bounds concurrency (spec.md S4).
	inFlightClones    int
	maxConcurrentSeen int
	cloneDelay        func()
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		databases:      make(map[string]bool),
		terminateCalls: make(map[string]int),
		dropCalls:      make(map[string]int),
		cloneSources:   make(map[string]string),
	}
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Connect(ctx context.Context) (Pool, error) {
	return &fakePool{backend: b}, nil
}

func (b *fakeBackend) CreatePool(ctx context.Context, name DatabaseName, cfg PoolConfig) (Pool, error) {
	return &fakePool{backend: b, dbName: name.String()}, nil
}

func (b *fakeBackend) CreateDatabase(ctx context.Context, name DatabaseName) error {
	if b.createDatabaseErr != nil {
		return b.createDatabaseErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.databases[name.String()] {
		return &BackendError{Kind: DatabaseCreationError, Message: "database already exists: " + name.String()}
	}
	b.databases[name.String()] = true
	return nil
}

func (b *fakeBackend) DropDatabase(ctx context.Context, name DatabaseName) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropCalls[name.String()]++
	if b.dropErr != nil {
		return b.dropErr
	}
	delete(b.databases, name.String())
	return nil
}

func (b *fakeBackend) TerminateConnections(ctx context.Context, name DatabaseName) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.terminateCalls[name.String()]++
	return b.terminateErr
}

func (b *fakeBackend) CloneFromTemplate(ctx context.Context, newName, template DatabaseName) error {
	b.mu.Lock()
	if !b.databases[template.String()] {
		b.mu.Unlock()
		return NewGenericError("template does not exist: " + template.String())
	}
	b.inFlightClones++
	if b.inFlightClones > b.maxConcurrentSeen {
		b.maxConcurrentSeen = b.inFlightClones
	}
	delay := b.cloneDelay
	b.mu.Unlock()

	if delay != nil {
		delay()
	}

	b.mu.Lock()
	b.inFlightClones--
	b.mu.Unlock()

	if b.cloneErr != nil {
		return b.cloneErr
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.databases[newName.String()] = true
	b.cloneSources[newName.String()] = template.String()
	return nil
}

func (b *fakeBackend) ConnectionString(name DatabaseName) string {
	return fmt.Sprintf("fake://%s", name.String())
}

func (b *fakeBackend) ConnectWithString(ctx context.Context, url string) (Connection, error) {
	return &fakeConnection{}, nil
}

func (b *fakeBackend) hasDatabase(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.databases[name]
}

func (b *fakeBackend) dropCount(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropCalls[name]
}

func (b *fakeBackend) terminateCount(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.terminateCalls[name]
}

type fakePool struct {
	backend    *fakeBackend
	dbName     string
	closed     bool
	acquireErr error
}

func (p *fakePool) Acquire(ctx context.Context) (Connection, error) {
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	if p.backend.acquireErr != nil {
		return nil, p.backend.acquireErr
	}
	return &fakeConnection{dbName: p.dbName}, nil
}

func (p *fakePool) Release(ctx context.Context, conn Connection) error {
	return conn.Close(ctx)
}

func (p *fakePool) ConnectionString() string { return "fake://" + p.dbName }

func (p *fakePool) Close(ctx context.Context) error {
	p.closed = true
	return nil
}

type fakeConnection struct {
	dbName     string
	closed     bool
	executeErr error
	queryErr   error
	beginErr   error
	execLog    []string
}

func (c *fakeConnection) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	c.execLog = append(c.execLog, query)
	if c.executeErr != nil {
		return 0, c.executeErr
	}
	return 1, nil
}

func (c *fakeConnection) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	if c.queryErr != nil {
		return nil, c.queryErr
	}
	return &fakeRows{}, nil
}

func (c *fakeConnection) Begin(ctx context.Context) (DriverTx, error) {
	if c.beginErr != nil {
		return nil, c.beginErr
	}
	return &fakeTx{}, nil
}

func (c *fakeConnection) IsValid(ctx context.Context) bool { return !c.closed }

func (c *fakeConnection) Reset(ctx context.Context) error { return nil }

func (c *fakeConnection) Close(ctx context.Context) error {
	c.closed = true
	return nil
}

type fakeRows struct{ pos int }

func (r *fakeRows) Next() bool             { return false }
func (r *fakeRows) Scan(dest ...any) error { return nil }
func (r *fakeRows) Err() error             { return nil }
func (r *fakeRows) Close() error           { return nil }

type fakeTx struct {
	committed bool
	rolled    bool
	commitErr error
	rollErr   error
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return t.commitErr
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.rolled = true
	return t.rollErr
}
