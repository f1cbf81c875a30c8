package testkit

import "context"

// builderConfig holds the configuration shared by both fluent entry
// points; Option mutates it.
type builderConfig struct {
	cfg     DatabaseConfig
	poolCfg PoolConfig
}

// Option configures a fluent builder.
type Option func(*builderConfig)

// WithConfig overrides the DatabaseConfig a builder uses; the zero
// value otherwise relies on the Backend already carrying its own
// connection endpoints, so WithConfig is needed only when the prefix
// or Logger must differ from the Backend's defaults.
func WithConfig(cfg DatabaseConfig) Option {
	return func(b *builderConfig) { b.cfg = cfg }
}

// WithPoolConfig overrides DefaultPoolConfig() for the database(s)
// this builder creates.
func WithPoolConfig(cfg PoolConfig) Option {
	return func(b *builderConfig) { b.poolCfg = cfg }
}

// TestContext is the terminal value of the database builder chain: a
// freshly provisioned, optionally seeded TestDatabaseInstance.
type TestContext struct {
	*TestDatabaseInstance
}

// DatabaseBuilder implements the
// with_database(backend).setup(f).with_transaction(g).execute() chain
// from spec.md §4.8.
type DatabaseBuilder struct {
	builderConfig
	backend Backend
	setupFn func(context.Context, Connection) error
	txFn    func(context.Context, Connection) error
}

// WithDatabase provisions a fresh instance (no template) and returns a
// builder. opts may override DatabaseConfig or PoolConfig.
func WithDatabase(backend Backend, opts ...Option) *DatabaseBuilder {
	b := &DatabaseBuilder{backend: backend, builderConfig: builderConfig{poolCfg: DefaultPoolConfig()}}
	for _, opt := range opts {
		opt(&b.builderConfig)
	}
	return b
}

// Setup registers a closure run once, before WithTransaction, against
// a freshly acquired connection. Closures may capture arbitrary owned
// state — Go closures need no boxed variant, unlike the source
// language's borrow-checked equivalent.
func (b *DatabaseBuilder) Setup(fn func(context.Context, Connection) error) *DatabaseBuilder {
	b.setupFn = fn
	return b
}

// WithTransaction registers a closure executed after Setup, wrapped in
// an implicit BEGIN...COMMIT. If fn returns an error the engine issues
// ROLLBACK and propagates the error.
func (b *DatabaseBuilder) WithTransaction(fn func(context.Context, Connection) error) *DatabaseBuilder {
	b.txFn = fn
	return b
}

// Execute is terminal: it creates the database, runs Setup then
// WithTransaction in order, and returns a TestContext. If either stage
// fails, the already-created database is cleaned up before the error
// is returned.
func (b *DatabaseBuilder) Execute(ctx context.Context) (*TestContext, error) {
	inst, err := NewTestDatabaseInstance(ctx, b.backend, b.cfg, b.poolCfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = inst.Close(ctx)
			panic(r)
		}
	}()

	if b.setupFn != nil {
		if err := inst.Setup(ctx, b.setupFn); err != nil {
			_ = inst.Close(ctx)
			return nil, err
		}
	}

	if b.txFn != nil {
		if err := inst.WithConnection(ctx, func(ctx context.Context, conn Connection) error {
			tx, err := beginTransaction(ctx, conn, nil)
			if err != nil {
				return err
			}
			if err := b.txFn(ctx, conn); err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
			return tx.Commit(ctx)
		}); err != nil {
			_ = inst.Close(ctx)
			return nil, err
		}
	}

	return &TestContext{TestDatabaseInstance: inst}, nil
}

// MustExecute calls Execute and panics on error, for test setup code
// where a provisioning failure should abort the test immediately.
func (b *DatabaseBuilder) MustExecute(ctx context.Context) *TestContext {
	tc, err := b.Execute(ctx)
	if err != nil {
		panic(err)
	}
	return tc
}

// TemplateBuilder implements the
// with_database_template(backend, cfg, n).setup(f).execute() chain.
type TemplateBuilder struct {
	builderConfig
	backend     Backend
	maxReplicas int
	setupFn     func(context.Context, Connection) error
}

// WithDatabaseTemplate yields a template builder bounded to
// maxReplicas concurrent outstanding clones.
func WithDatabaseTemplate(backend Backend, maxReplicas int, opts ...Option) *TemplateBuilder {
	b := &TemplateBuilder{backend: backend, maxReplicas: maxReplicas, builderConfig: builderConfig{poolCfg: DefaultPoolConfig()}}
	for _, opt := range opts {
		opt(&b.builderConfig)
	}
	return b
}

// Setup registers the one-shot schema setup run against the template
// database before any clone is produced.
func (b *TemplateBuilder) Setup(fn func(context.Context, Connection) error) *TemplateBuilder {
	b.setupFn = fn
	return b
}

// Execute creates the template database and runs Setup against it if
// registered, returning the ready-to-clone TestDatabaseTemplate.
func (b *TemplateBuilder) Execute(ctx context.Context) (*TestDatabaseTemplate, error) {
	tmpl, err := NewTemplate(ctx, b.backend, b.cfg, b.maxReplicas)
	if err != nil {
		return nil, err
	}
	tmpl.poolCfg = b.poolCfg
	defer func() {
		if r := recover(); r != nil {
			_ = tmpl.Close(ctx)
			panic(r)
		}
	}()
	if b.setupFn != nil {
		if err := tmpl.Initialize(ctx, b.setupFn); err != nil {
			_ = tmpl.Close(ctx)
			return nil, err
		}
	}
	return tmpl, nil
}

// MustExecute calls Execute and panics on error.
func (b *TemplateBuilder) MustExecute(ctx context.Context) *TestDatabaseTemplate {
	tmpl, err := b.Execute(ctx)
	if err != nil {
		panic(err)
	}
	return tmpl
}
