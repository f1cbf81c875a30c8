// Package gormbackend wraps a testkit.Backend so pools hand out
// GORM-mediated connections instead of raw driver ones, grounded on
// the teacher pack's DBInitializer pattern (bashhack-testdb/testdb.go)
// for letting a test's database entity match what application code
// actually uses: if your handlers take *gorm.DB, your tests should
// too. Admin lifecycle (create/drop/terminate/clone/list) is delegated
// unchanged to the wrapped Backend; only CreatePool and
// ConnectWithString go through gorm.Open.
package gormbackend

import (
	"context"
	"database/sql"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/yuku/testkit"
)

// Backend delegates admin operations to an underlying testkit.Backend
// (normally testkit/postgres) and mediates pooled connections through
// GORM.
type Backend struct {
	delegate testkit.Backend
}

// New wraps delegate, whose ConnectionString output must be a DSN
// gorm.io/driver/postgres accepts.
func New(delegate testkit.Backend) Backend {
	return Backend{delegate: delegate}
}

func (b Backend) Name() string { return "gorm+" + b.delegate.Name() }

func (b Backend) Connect(ctx context.Context) (testkit.Pool, error) {
	return b.delegate.Connect(ctx)
}

func (b Backend) CreateDatabase(ctx context.Context, name testkit.DatabaseName) error {
	return b.delegate.CreateDatabase(ctx, name)
}

func (b Backend) DropDatabase(ctx context.Context, name testkit.DatabaseName) error {
	return b.delegate.DropDatabase(ctx, name)
}

func (b Backend) TerminateConnections(ctx context.Context, name testkit.DatabaseName) error {
	return b.delegate.TerminateConnections(ctx, name)
}

func (b Backend) CloneFromTemplate(ctx context.Context, newName, template testkit.DatabaseName) error {
	return b.delegate.CloneFromTemplate(ctx, newName, template)
}

func (b Backend) ConnectionString(name testkit.DatabaseName) string {
	return b.delegate.ConnectionString(name)
}

// ListDatabases implements testkit.Lister when the delegate does.
func (b Backend) ListDatabases(ctx context.Context, prefix string) ([]testkit.DatabaseName, error) {
	l, ok := b.delegate.(testkit.Lister)
	if !ok {
		return nil, testkit.NewGenericError("backend " + b.delegate.Name() + " does not support listing")
	}
	return l.ListDatabases(ctx, prefix)
}

// CreatePool opens a *gorm.DB against the named database and applies
// cfg's pool bounds to its underlying *sql.DB.
func (b Backend) CreatePool(ctx context.Context, name testkit.DatabaseName, cfg testkit.PoolConfig) (testkit.Pool, error) {
	cfg = cfg.WithDefaults()
	dsn := b.delegate.ConnectionString(name)

	// No ping on open: the pool may be built before the database exists.
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{DisableAutomaticPing: true})
	if err != nil {
		return nil, testkit.WrapError(testkit.PoolError, "gorm.Open for "+name.String(), err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, testkit.WrapError(testkit.PoolError, "underlying sql.DB for "+name.String(), err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxSize)
	if cfg.MinIdle > 0 {
		sqlDB.SetMaxIdleConns(cfg.MinIdle)
	}
	sqlDB.SetConnMaxLifetime(cfg.MaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.IdleTimeout)

	return &pool{gdb: gdb, sqlDB: sqlDB, connStr: dsn, timeout: cfg.ConnectionTimeout}, nil
}

// ConnectWithString opens a standalone *gorm.DB, for callers that need
// GORM-mediated access outside the pooled lifecycle (e.g. a one-off
// admin task run through the ORM).
func (b Backend) ConnectWithString(ctx context.Context, dsn string) (testkit.Connection, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, testkit.WrapError(testkit.ConnectionError, "gorm.Open for "+dsn, err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, testkit.WrapError(testkit.ConnectionError, "underlying sql.DB", err)
	}
	return &connection{gdb: gdb, closeSQL: sqlDB}, nil
}

// pool hands out GORM sessions scoped to a context. GORM already
// pools connections at the *sql.DB level, so Acquire never blocks on
// an external slot; Release is a no-op and Close tears down the
// shared *sql.DB.
type pool struct {
	gdb     *gorm.DB
	sqlDB   *sql.DB
	connStr string
	timeout time.Duration
}

func (p *pool) Acquire(ctx context.Context) (testkit.Connection, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := p.sqlDB.PingContext(ctx); err != nil {
		return nil, testkit.WrapError(testkit.PoolError, "acquire: ping", err)
	}
	return &connection{gdb: p.gdb.WithContext(ctx)}, nil
}

func (p *pool) Release(ctx context.Context, conn testkit.Connection) error {
	return conn.Close(ctx)
}

func (p *pool) ConnectionString() string { return p.connStr }

func (p *pool) Close(ctx context.Context) error {
	return p.sqlDB.Close()
}

// connection adapts *gorm.DB to testkit.Connection. closeSQL is set
// only for one-off connections from ConnectWithString, whose backing
// *sql.DB must be closed alongside the connection.
type connection struct {
	gdb      *gorm.DB
	closeSQL *sql.DB
}

// Gorm returns the underlying *gorm.DB, mirroring the teacher's
// Entity() escape hatch for callers whose application code is itself
// written against *gorm.DB.
func (c *connection) Gorm() *gorm.DB { return c.gdb }

func (c *connection) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	res := c.gdb.WithContext(ctx).Exec(query, args...)
	if res.Error != nil {
		return 0, testkit.WrapError(testkit.QueryError, "execute", res.Error)
	}
	return res.RowsAffected, nil
}

func (c *connection) Query(ctx context.Context, query string, args ...any) (testkit.Rows, error) {
	rows, err := c.gdb.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, testkit.WrapError(testkit.QueryError, "query", err)
	}
	return rows, nil
}

func (c *connection) Begin(ctx context.Context) (testkit.DriverTx, error) {
	tx := c.gdb.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, testkit.WrapError(testkit.TransactionError, "begin", tx.Error)
	}
	return &txAdapter{tx: tx}, nil
}

func (c *connection) IsValid(ctx context.Context) bool {
	sqlDB, err := c.gdb.DB()
	if err != nil {
		return false
	}
	return sqlDB.PingContext(ctx) == nil
}

func (c *connection) Reset(ctx context.Context) error {
	return nil
}

func (c *connection) Close(ctx context.Context) error {
	if c.closeSQL != nil {
		if err := c.closeSQL.Close(); err != nil {
			return testkit.WrapError(testkit.ConnectionError, "close connection", err)
		}
	}
	return nil
}

type txAdapter struct{ tx *gorm.DB }

func (t *txAdapter) Commit(ctx context.Context) error {
	if err := t.tx.Commit().Error; err != nil {
		return testkit.WrapError(testkit.TransactionError, "commit", err)
	}
	return nil
}

func (t *txAdapter) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback().Error; err != nil {
		return testkit.WrapError(testkit.TransactionError, "rollback", err)
	}
	return nil
}
