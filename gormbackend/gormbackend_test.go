package gormbackend_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuku/testkit"
	"github.com/yuku/testkit/gormbackend"
)

// stubBackend is a minimal testkit.Backend used to verify gormbackend
// delegates every admin operation unchanged.
type stubBackend struct {
	name              string
	createCalls       []string
	dropCalls         []string
	terminateCalls    []string
	cloneCalls        [][2]string
	connectionStrings map[string]string
}

func (s *stubBackend) Name() string { return s.name }
func (s *stubBackend) Connect(ctx context.Context) (testkit.Pool, error) { return nil, nil }
func (s *stubBackend) CreatePool(ctx context.Context, name testkit.DatabaseName, cfg testkit.PoolConfig) (testkit.Pool, error) {
	return nil, nil
}
func (s *stubBackend) CreateDatabase(ctx context.Context, name testkit.DatabaseName) error {
	s.createCalls = append(s.createCalls, name.String())
	return nil
}
func (s *stubBackend) DropDatabase(ctx context.Context, name testkit.DatabaseName) error {
	s.dropCalls = append(s.dropCalls, name.String())
	return nil
}
func (s *stubBackend) TerminateConnections(ctx context.Context, name testkit.DatabaseName) error {
	s.terminateCalls = append(s.terminateCalls, name.String())
	return nil
}
func (s *stubBackend) CloneFromTemplate(ctx context.Context, newName, template testkit.DatabaseName) error {
	s.cloneCalls = append(s.cloneCalls, [2]string{newName.String(), template.String()})
	return nil
}
func (s *stubBackend) ConnectionString(name testkit.DatabaseName) string {
	return s.connectionStrings[name.String()]
}
func (s *stubBackend) ConnectWithString(ctx context.Context, url string) (testkit.Connection, error) {
	return nil, nil
}

func TestName_PrefixesDelegateName(t *testing.T) {
	b := gormbackend.New(&stubBackend{name: "postgres"})
	assert.Equal(t, "gorm+postgres", b.Name())
}

func TestCreateDatabase_DelegatesUnchanged(t *testing.T) {
	stub := &stubBackend{name: "postgres"}
	b := gormbackend.New(stub)
	name := testkit.NewDatabaseName("testkit")

	require.NoError(t, b.CreateDatabase(context.Background(), name))
	assert.Equal(t, []string{name.String()}, stub.createCalls)
}

func TestDropDatabase_DelegatesUnchanged(t *testing.T) {
	stub := &stubBackend{name: "postgres"}
	b := gormbackend.New(stub)
	name := testkit.NewDatabaseName("testkit")

	require.NoError(t, b.DropDatabase(context.Background(), name))
	assert.Equal(t, []string{name.String()}, stub.dropCalls)
}

func TestTerminateConnections_DelegatesUnchanged(t *testing.T) {
	stub := &stubBackend{name: "postgres"}
	b := gormbackend.New(stub)
	name := testkit.NewDatabaseName("testkit")

	require.NoError(t, b.TerminateConnections(context.Background(), name))
	assert.Equal(t, []string{name.String()}, stub.terminateCalls)
}

func TestCloneFromTemplate_DelegatesUnchanged(t *testing.T) {
	stub := &stubBackend{name: "postgres"}
	b := gormbackend.New(stub)
	newName := testkit.NewDatabaseName("testkit")
	tmpl := testkit.NewDatabaseName("testkit")

	require.NoError(t, b.CloneFromTemplate(context.Background(), newName, tmpl))
	require.Len(t, stub.cloneCalls, 1)
	assert.Equal(t, newName.String(), stub.cloneCalls[0][0])
	assert.Equal(t, tmpl.String(), stub.cloneCalls[0][1])
}

func TestConnectionString_DelegatesUnchanged(t *testing.T) {
	name := testkit.NewDatabaseName("testkit")
	stub := &stubBackend{name: "postgres", connectionStrings: map[string]string{name.String(): "postgres://delegate-dsn"}}
	b := gormbackend.New(stub)

	assert.Equal(t, "postgres://delegate-dsn", b.ConnectionString(name))
}

// TestIntegration_CreatePool exercises gorm.Open against a live
// Postgres server. Skipped unless TESTKIT_POSTGRES_URL is set.
func TestIntegration_CreatePool(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	url := os.Getenv("TESTKIT_POSTGRES_URL")
	if url == "" {
		t.Skip("TESTKIT_POSTGRES_URL not set")
	}

	stub := &stubBackend{name: "postgres", connectionStrings: map[string]string{}}
	name := testkit.NewDatabaseName("testkit")
	stub.connectionStrings[name.String()] = url

	b := gormbackend.New(stub)
	pool, err := b.CreatePool(context.Background(), name, testkit.DefaultPoolConfig())
	require.NoError(t, err)
	defer pool.Close(context.Background())

	conn, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer conn.Close(context.Background())
}
