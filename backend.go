package testkit

import "context"

// Connection is a driver-neutral session handle. Concrete adapters wrap
// a *pgx.Conn, a *sql.Conn, or a *gorm.DB session behind this surface so
// the core never imports a driver package directly.
type Connection interface {
	// Execute runs a statement (DDL, DML, or multi-statement script) and
	// reports the number of rows affected where the driver exposes one.
	Execute(ctx context.Context, query string, args ...any) (int64, error)

	// Query runs a statement expected to return rows. Callers are
	// responsible for closing the returned Rows.
	Query(ctx context.Context, query string, args ...any) (Rows, error)

	// Begin starts a transaction on this connection. Only one
	// transaction may be live on a Connection at a time.
	Begin(ctx context.Context) (DriverTx, error)

	// IsValid reports whether the underlying session is still usable.
	IsValid(ctx context.Context) bool

	// Reset restores the connection to a clean state before it is
	// handed back out by a pool (e.g. discarding a stuck transaction).
	Reset(ctx context.Context) error

	// Close releases the connection back to its origin pool, or closes
	// it outright for a one-off connection opened via ConnectWithString.
	Close(ctx context.Context) error
}

// Rows is the minimal result-set surface the core and its tests need.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// DriverTx is the driver-specific transaction handle a Connection.Begin
// returns. The core never retains one outside a Transaction.
type DriverTx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Pool acquires and releases Connections bound to exactly one database.
type Pool interface {
	// Acquire blocks up to the pool's configured connection timeout.
	Acquire(ctx context.Context) (Connection, error)

	// Release returns a connection early. Adapters whose Connection
	// already returns itself on Close may implement this as a no-op,
	// but after Release returns nil the connection is eligible for
	// reuse by another Acquire.
	Release(ctx context.Context, conn Connection) error

	// ConnectionString returns the URL the pool was built from.
	ConnectionString() string

	// Close shuts the pool down, releasing every server-side resource
	// it holds. Idempotent.
	Close(ctx context.Context) error
}

// Backend adapts one SQL engine to the eight-operation capability surface
// the core consumes. Implementations are cheap to copy: they carry a
// DatabaseConfig and dialect helpers, never open-ended server state.
type Backend interface {
	// Connect opens an admin pool, not bound to any created database.
	Connect(ctx context.Context) (Pool, error)

	// CreatePool builds a pool whose every acquired connection targets
	// name. Adapters whose driver does not pin the session database
	// automatically (MySQL) must enforce it per acquisition.
	CreatePool(ctx context.Context, name DatabaseName, cfg PoolConfig) (Pool, error)

	// CreateDatabase creates an empty database. Failures are returned as
	// a DatabaseCreationError-kind BackendError; the bundled adapters
	// report a name collision with the message "database already
	// exists: <name>", and there is no separate sentinel error for it.
	CreateDatabase(ctx context.Context, name DatabaseName) error

	// DropDatabase drops name. Idempotent: dropping a database that does
	// not exist is success. Implementations terminate sessions first and
	// retry transient lock errors internally (see Cleanup Supervisor).
	DropDatabase(ctx context.Context, name DatabaseName) error

	// TerminateConnections forcibly closes every non-self session on
	// name. A no-op for engines with no server-side session concept.
	TerminateConnections(ctx context.Context, name DatabaseName) error

	// CloneFromTemplate creates newName initialized with the full schema
	// and data of template.
	CloneFromTemplate(ctx context.Context, newName, template DatabaseName) error

	// ConnectionString returns a URL for name, derived from the
	// backend's user endpoint.
	ConnectionString(name DatabaseName) string

	// ConnectWithString opens a direct, non-pooled connection, used by
	// TestDatabaseInstance.Connect for post-hoc inspection.
	ConnectWithString(ctx context.Context, url string) (Connection, error)

	// Name identifies the backend for diagnostics ("postgres", "mysql",
	// "sqlite", ...).
	Name() string
}

// Lister is an optional Backend capability for enumerating every
// database whose name starts with prefix + "_". It backs
// cmd/testkit-cleanup's orphan sweep; not every conceivable adapter
// can implement it cheaply, so it is a separate, type-asserted
// interface rather than part of Backend's required surface.
type Lister interface {
	ListDatabases(ctx context.Context, prefix string) ([]DatabaseName, error)
}
