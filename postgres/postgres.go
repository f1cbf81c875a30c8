// Package postgres implements testkit.Backend over github.com/jackc/pgx/v5
// and pgxpool, grounded directly on the teacher's pool.go (connection
// string rebuilding, advisory-lock-free create/drop/terminate flow) and
// its internal/templatedb.go (native CREATE DATABASE ... TEMPLATE clone).
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yuku/testkit"
	"github.com/yuku/testkit/internal/dburl"
	"github.com/yuku/testkit/internal/retry"
	"github.com/yuku/testkit/internal/sqlident"
)

// duplicateDatabaseCode is Postgres error code 42P04, raised by
// CREATE DATABASE on a name collision.
const duplicateDatabaseCode = "42P04"

// Backend adapts Postgres to testkit.Backend.
type Backend struct {
	cfg testkit.DatabaseConfig
}

// New builds a Postgres Backend from cfg. Backend values are cheap to
// copy: they carry only cfg.
func New(cfg testkit.DatabaseConfig) Backend {
	return Backend{cfg: cfg}
}

func (b Backend) Name() string { return "postgres" }

func (b Backend) adminConn(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, b.cfg.AdminURL)
	if err != nil {
		return nil, testkit.WrapError(testkit.ConnectionError, "connect to admin endpoint", err)
	}
	return conn, nil
}

func (b Backend) Connect(ctx context.Context) (testkit.Pool, error) {
	pool, err := pgxpool.New(ctx, b.cfg.AdminURL)
	if err != nil {
		return nil, testkit.WrapError(testkit.ConnectionError, "open admin pool", err)
	}
	return &pgPool{pool: pool, connStr: b.cfg.AdminURL, timeout: testkit.DefaultPoolConfig().ConnectionTimeout}, nil
}

func (b Backend) CreatePool(ctx context.Context, name testkit.DatabaseName, cfg testkit.PoolConfig) (testkit.Pool, error) {
	cfg = cfg.WithDefaults()
	connStr, err := dburl.WithDatabase(b.cfg.UserURL, name.String())
	if err != nil {
		return nil, testkit.WrapError(testkit.ConfigError, "build connection string", err)
	}

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, testkit.WrapError(testkit.ConfigError, "parse pool config", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxSize)
	if cfg.MinIdle > 0 {
		poolCfg.MinConns = int32(cfg.MinIdle)
	}
	poolCfg.MaxConnLifetime = cfg.MaxLifetime
	poolCfg.MaxConnIdleTime = cfg.IdleTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, testkit.WrapError(testkit.PoolError, "create pool for "+name.String(), err)
	}
	return &pgPool{pool: pool, connStr: connStr, timeout: cfg.ConnectionTimeout}, nil
}

func (b Backend) CreateDatabase(ctx context.Context, name testkit.DatabaseName) error {
	conn, err := b.adminConn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	stmt := fmt.Sprintf(`CREATE DATABASE %s ENCODING 'UTF8' TEMPLATE template0`, sqlident.QuotePostgres(name.String()))
	_, err = conn.Exec(ctx, stmt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == duplicateDatabaseCode {
			return &testkit.BackendError{Kind: testkit.DatabaseCreationError, Message: "database already exists: " + name.String(), Err: err}
		}
		return testkit.WrapError(testkit.DatabaseCreationError, "create database "+name.String(), err)
	}
	return nil
}

func (b Backend) TerminateConnections(ctx context.Context, name testkit.DatabaseName) error {
	conn, err := b.adminConn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx, `
		SELECT pg_terminate_backend(pid)
		FROM pg_stat_activity
		WHERE datname = $1 AND pid <> pg_backend_pid()
	`, name.String())
	if err != nil {
		return testkit.WrapError(testkit.ConnectionError, "terminate connections on "+name.String(), err)
	}
	return nil
}

// DropDatabase is idempotent and retries transient lock errors up to 3
// times with a 500ms backoff, per spec. It prefers WITH (FORCE) on
// servers that support it (Postgres 13+) and falls back to an explicit
// terminate-then-drop otherwise.
func (b Backend) DropDatabase(ctx context.Context, name testkit.DatabaseName) error {
	_ = b.TerminateConnections(ctx, name)

	quoted := sqlident.QuotePostgres(name.String())
	return retry.Do(ctx, retry.DefaultConfig(), func(attempt int) error {
		conn, err := b.adminConn(ctx)
		if err != nil {
			return err
		}
		defer conn.Close(ctx)

		_, err = conn.Exec(ctx, fmt.Sprintf(`DROP DATABASE IF EXISTS %s WITH (FORCE)`, quoted))
		if err != nil {
			// Servers older than Postgres 13 reject the FORCE clause
			// with a syntax error; fall back to a plain drop after an
			// explicit terminate.
			_ = b.TerminateConnections(ctx, name)
			_, err = conn.Exec(ctx, fmt.Sprintf(`DROP DATABASE IF EXISTS %s`, quoted))
		}
		if err != nil {
			return testkit.WrapError(testkit.DatabaseDropError, fmt.Sprintf("drop database %s (attempt %d)", name, attempt), err)
		}
		return nil
	})
}

// CloneFromTemplate uses Postgres's native CREATE DATABASE ... TEMPLATE,
// which requires no open sessions on template — the Template Engine is
// responsible for having called Initialize (which releases its setup
// connection) before the first clone.
func (b Backend) CloneFromTemplate(ctx context.Context, newName, template testkit.DatabaseName) error {
	conn, err := b.adminConn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	stmt := fmt.Sprintf(`CREATE DATABASE %s TEMPLATE %s`,
		sqlident.QuotePostgres(newName.String()), sqlident.QuotePostgres(template.String()))
	if _, err := conn.Exec(ctx, stmt); err != nil {
		return testkit.WrapError(testkit.DatabaseCreationError, fmt.Sprintf("clone %s from template %s", newName, template), err)
	}
	return nil
}

// ListDatabases enumerates pg_database for names starting with
// prefix + "_", implementing testkit.Lister.
func (b Backend) ListDatabases(ctx context.Context, prefix string) ([]testkit.DatabaseName, error) {
	conn, err := b.adminConn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx, `SELECT datname FROM pg_database WHERE datname LIKE $1`, prefix+`_%`)
	if err != nil {
		return nil, testkit.WrapError(testkit.QueryError, "list databases", err)
	}
	defer rows.Close()

	var names []testkit.DatabaseName
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, testkit.WrapError(testkit.QueryError, "scan database name", err)
		}
		name, err := testkit.ParseDatabaseName(raw)
		if err != nil || !name.HasPrefix(prefix) {
			continue
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (b Backend) ConnectionString(name testkit.DatabaseName) string {
	s, err := dburl.WithDatabase(b.cfg.UserURL, name.String())
	if err != nil {
		return b.cfg.UserURL
	}
	return s
}

func (b Backend) ConnectWithString(ctx context.Context, url string) (testkit.Connection, error) {
	raw, err := pgx.Connect(ctx, url)
	if err != nil {
		return nil, testkit.WrapError(testkit.ConnectionError, "connect to "+url, err)
	}
	return &connection{raw: raw, closeRaw: true}, nil
}

// pgPool wraps a pgxpool.Pool as a testkit.Pool.
type pgPool struct {
	pool    *pgxpool.Pool
	connStr string
	timeout time.Duration
}

func (p *pgPool) Acquire(ctx context.Context) (testkit.Connection, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	res, err := p.pool.Acquire(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &testkit.BackendError{Kind: testkit.PoolError, Message: "acquire timed out", Err: err}
		}
		return nil, testkit.WrapError(testkit.PoolError, "acquire connection", err)
	}
	return &connection{raw: res.Conn(), release: res.Release}, nil
}

func (p *pgPool) Release(ctx context.Context, conn testkit.Connection) error {
	return conn.Close(ctx)
}

func (p *pgPool) ConnectionString() string { return p.connStr }

func (p *pgPool) Close(ctx context.Context) error {
	p.pool.Close()
	return nil
}

// connection adapts *pgx.Conn to testkit.Connection. release is set for
// pooled acquisitions (returns to pgxpool); closeRaw is set for one-off
// connections opened via ConnectWithString.
type connection struct {
	raw      *pgx.Conn
	release  func()
	closeRaw bool
}

func (c *connection) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := c.raw.Exec(ctx, query, args...)
	if err != nil {
		return 0, testkit.WrapError(testkit.QueryError, "execute", err)
	}
	return tag.RowsAffected(), nil
}

func (c *connection) Query(ctx context.Context, query string, args ...any) (testkit.Rows, error) {
	rows, err := c.raw.Query(ctx, query, args...)
	if err != nil {
		return nil, testkit.WrapError(testkit.QueryError, "query", err)
	}
	return &rowsAdapter{rows: rows}, nil
}

func (c *connection) Begin(ctx context.Context) (testkit.DriverTx, error) {
	tx, err := c.raw.Begin(ctx)
	if err != nil {
		return nil, testkit.WrapError(testkit.TransactionError, "begin", err)
	}
	return &txAdapter{tx: tx}, nil
}

func (c *connection) IsValid(ctx context.Context) bool {
	return c.raw.Ping(ctx) == nil
}

func (c *connection) Reset(ctx context.Context) error {
	if c.raw.PgConn().IsBusy() {
		return &testkit.BackendError{Kind: testkit.ConnectionError, Message: "reset: connection busy"}
	}
	return nil
}

func (c *connection) Close(ctx context.Context) error {
	if c.release != nil {
		c.release()
		return nil
	}
	if c.closeRaw {
		return c.raw.Close(ctx)
	}
	return nil
}

type rowsAdapter struct{ rows pgx.Rows }

func (r *rowsAdapter) Next() bool             { return r.rows.Next() }
func (r *rowsAdapter) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r *rowsAdapter) Err() error             { return r.rows.Err() }
func (r *rowsAdapter) Close() error           { r.rows.Close(); return nil }

type txAdapter struct{ tx pgx.Tx }

func (t *txAdapter) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return testkit.WrapError(testkit.TransactionError, "commit", err)
	}
	return nil
}

func (t *txAdapter) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil {
		return testkit.WrapError(testkit.TransactionError, "rollback", err)
	}
	return nil
}
