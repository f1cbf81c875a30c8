package testkit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisedCleanup_TerminatesThenDrops(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	name := NewDatabaseName("testkit")
	require.NoError(t, backend.CreateDatabase(ctx, name))

	err := supervisedCleanup(ctx, backend, name, DefaultLogger)
	require.NoError(t, err)

	assert.Equal(t, 1, backend.terminateCount(name.String()))
	assert.Equal(t, 1, backend.dropCount(name.String()))
	assert.False(t, backend.hasDatabase(name.String()))
}

func TestSupervisedCleanup_LogsTerminateFailureButStillDrops(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	name := NewDatabaseName("testkit")
	require.NoError(t, backend.CreateDatabase(ctx, name))
	backend.terminateErr = NewGenericError("terminate failed")

	logger := &capturingLogger{}
	err := supervisedCleanup(ctx, backend, name, logger)
	require.NoError(t, err)
	assert.False(t, backend.hasDatabase(name.String()))
	require.Len(t, logger.lines, 1)
	assert.Contains(t, logger.lines[0], "terminate connections")
}

func TestSupervisedCleanup_ReturnsDropError(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	name := NewDatabaseName("testkit")
	require.NoError(t, backend.CreateDatabase(ctx, name))
	backend.dropErr = NewGenericError("drop failed")

	logger := &capturingLogger{}
	err := supervisedCleanup(ctx, backend, name, logger)
	require.Error(t, err)
	assert.NotEmpty(t, logger.lines)
}
