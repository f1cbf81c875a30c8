// Package sqlite implements testkit.Backend over github.com/mattn/go-sqlite3
// and database/sql, grounded on the file-backed, connection-less test
// database pattern other_examples/cc1b3e60 and 053878b8 use for fast
// unit tests. SQLite has no server session concept: "database" means
// one file under a configured base directory, and
// TerminateConnections is a no-op.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/yuku/testkit"
)

// Backend adapts file-backed SQLite databases to testkit.Backend.
// cfg.AdminURL and cfg.UserURL both name the base directory databases
// live under; SQLite makes no admin/user distinction.
type Backend struct {
	cfg testkit.DatabaseConfig
}

func New(cfg testkit.DatabaseConfig) Backend {
	return Backend{cfg: cfg}
}

func (b Backend) Name() string { return "sqlite" }

// baseDir resolves cfg.UserURL into a filesystem directory, accepting
// either a plain path or a file:// URL.
func (b Backend) baseDir() (string, error) {
	raw := b.cfg.UserURL
	if raw == "" {
		return "", &testkit.BackendError{Kind: testkit.ConfigError, Message: "UserURL is required"}
	}
	if strings.HasPrefix(raw, "file://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", testkit.WrapError(testkit.ConfigError, "parse sqlite base URL", err)
		}
		return u.Path, nil
	}
	return raw, nil
}

func (b Backend) path(name testkit.DatabaseName) (string, error) {
	dir, err := b.baseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name.String()+".db"), nil
}

func (b Backend) Connect(ctx context.Context) (testkit.Pool, error) {
	dir, err := b.baseDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, testkit.WrapError(testkit.ConnectionError, "create base directory", err)
	}
	return &pool{db: nil, connStr: dir}, nil
}

func (b Backend) CreatePool(ctx context.Context, name testkit.DatabaseName, cfg testkit.PoolConfig) (testkit.Pool, error) {
	cfg = cfg.WithDefaults()
	p, err := b.path(name)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000", p))
	if err != nil {
		return nil, testkit.WrapError(testkit.PoolError, "open pool for "+name.String(), err)
	}
	// SQLite serializes writers at the file level; a single shared
	// connection avoids SQLITE_BUSY churn under testkit's pooled model.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(cfg.MaxLifetime)
	db.SetConnMaxIdleTime(cfg.IdleTimeout)
	return &pool{db: db, connStr: p, timeout: cfg.ConnectionTimeout}, nil
}

func (b Backend) CreateDatabase(ctx context.Context, name testkit.DatabaseName) error {
	p, err := b.path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return testkit.WrapError(testkit.DatabaseCreationError, "create base directory", err)
	}
	if _, err := os.Stat(p); err == nil {
		return &testkit.BackendError{Kind: testkit.DatabaseCreationError, Message: "database already exists: " + name.String()}
	}
	f, err := os.Create(p)
	if err != nil {
		return testkit.WrapError(testkit.DatabaseCreationError, "create database file "+p, err)
	}
	return f.Close()
}

// TerminateConnections is a no-op: SQLite has no server-side session
// registry to terminate against.
func (b Backend) TerminateConnections(ctx context.Context, name testkit.DatabaseName) error {
	return nil
}

func (b Backend) DropDatabase(ctx context.Context, name testkit.DatabaseName) error {
	p, err := b.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return testkit.WrapError(testkit.DatabaseDropError, "remove database file "+p, err)
	}
	for _, suffix := range []string{"-wal", "-shm", "-journal"} {
		_ = os.Remove(p + suffix)
	}
	return nil
}

// CloneFromTemplate copies the template file byte-for-byte, the
// SQLite equivalent of a native template clone since the entire
// database is one file.
func (b Backend) CloneFromTemplate(ctx context.Context, newName, template testkit.DatabaseName) error {
	src, err := b.path(template)
	if err != nil {
		return err
	}
	dst, err := b.path(newName)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dst); err == nil {
		return &testkit.BackendError{Kind: testkit.DatabaseCreationError, Message: "database already exists: " + newName.String()}
	}

	in, err := os.Open(src)
	if err != nil {
		return testkit.WrapError(testkit.DatabaseCreationError, "open template "+src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return testkit.WrapError(testkit.DatabaseCreationError, "create clone "+dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return testkit.WrapError(testkit.DatabaseCreationError, fmt.Sprintf("clone %s from template %s", newName, template), err)
	}
	return nil
}

// ListDatabases globs the base directory for "prefix_*.db" files,
// implementing testkit.Lister.
func (b Backend) ListDatabases(ctx context.Context, prefix string) ([]testkit.DatabaseName, error) {
	dir, err := b.baseDir()
	if err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"_*.db"))
	if err != nil {
		return nil, testkit.WrapError(testkit.QueryError, "glob base directory", err)
	}
	var names []testkit.DatabaseName
	for _, m := range matches {
		base := strings.TrimSuffix(filepath.Base(m), ".db")
		name, err := testkit.ParseDatabaseName(base)
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func (b Backend) ConnectionString(name testkit.DatabaseName) string {
	p, err := b.path(name)
	if err != nil {
		return ""
	}
	return "file:" + p
}

func (b Backend) ConnectWithString(ctx context.Context, rawURL string) (testkit.Connection, error) {
	db, err := sql.Open("sqlite3", rawURL)
	if err != nil {
		return nil, testkit.WrapError(testkit.ConnectionError, "open "+rawURL, err)
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, testkit.WrapError(testkit.ConnectionError, "acquire connection", err)
	}
	return &connection{conn: conn, closeDB: db}, nil
}

type pool struct {
	db      *sql.DB
	connStr string
	timeout time.Duration
}

func (p *pool) Acquire(ctx context.Context) (testkit.Connection, error) {
	if p.db == nil {
		return nil, &testkit.BackendError{Kind: testkit.PoolError, Message: "pool has no database handle (admin pool cannot acquire)"}
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, testkit.WrapError(testkit.PoolError, "acquire connection", err)
	}
	return &connection{conn: conn}, nil
}

func (p *pool) Release(ctx context.Context, conn testkit.Connection) error {
	return conn.Close(ctx)
}

func (p *pool) ConnectionString() string { return p.connStr }

func (p *pool) Close(ctx context.Context) error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

type connection struct {
	conn    *sql.Conn
	closeDB *sql.DB
}

func (c *connection) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := c.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, testkit.WrapError(testkit.QueryError, "execute", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (c *connection) Query(ctx context.Context, query string, args ...any) (testkit.Rows, error) {
	rows, err := c.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, testkit.WrapError(testkit.QueryError, "query", err)
	}
	return rows, nil
}

func (c *connection) Begin(ctx context.Context) (testkit.DriverTx, error) {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, testkit.WrapError(testkit.TransactionError, "begin", err)
	}
	return &txAdapter{tx: tx}, nil
}

func (c *connection) IsValid(ctx context.Context) bool {
	return c.conn.PingContext(ctx) == nil
}

func (c *connection) Reset(ctx context.Context) error {
	return nil
}

func (c *connection) Close(ctx context.Context) error {
	err := c.conn.Close()
	if c.closeDB != nil {
		_ = c.closeDB.Close()
	}
	if err != nil {
		return testkit.WrapError(testkit.ConnectionError, "close connection", err)
	}
	return nil
}

type txAdapter struct{ tx *sql.Tx }

func (t *txAdapter) Commit(ctx context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return testkit.WrapError(testkit.TransactionError, "commit", err)
	}
	return nil
}

func (t *txAdapter) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(); err != nil {
		return testkit.WrapError(testkit.TransactionError, "rollback", err)
	}
	return nil
}
