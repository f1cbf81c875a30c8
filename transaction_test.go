package testkit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginTransaction_Commit(t *testing.T) {
	ctx := context.Background()
	conn := &fakeConnection{}
	released := false

	tx, err := beginTransaction(ctx, conn, func() { released = true })
	require.NoError(t, err)

	_, err = tx.Execute(ctx, "UPDATE t SET x = 1")
	require.NoError(t, err)

	require.NoError(t, tx.Commit(ctx))
	assert.True(t, released)
}

func TestBeginTransaction_Rollback(t *testing.T) {
	ctx := context.Background()
	conn := &fakeConnection{}
	released := false

	tx, err := beginTransaction(ctx, conn, func() { released = true })
	require.NoError(t, err)

	require.NoError(t, tx.Rollback(ctx))
	assert.True(t, released)
}

func TestTransaction_CommitThenRollback_IsNoop(t *testing.T) {
	ctx := context.Background()
	conn := &fakeConnection{}
	calls := 0

	tx, err := beginTransaction(ctx, conn, func() { calls++ })
	require.NoError(t, err)

	require.NoError(t, tx.Commit(ctx))
	assert.ErrorIs(t, tx.Rollback(ctx), ErrTransactionFinished)
	assert.Equal(t, 1, calls) // release runs exactly once
}

func TestTransaction_DoubleCommit_IsNoop(t *testing.T) {
	ctx := context.Background()
	conn := &fakeConnection{}

	tx, err := beginTransaction(ctx, conn, nil)
	require.NoError(t, err)

	require.NoError(t, tx.Commit(ctx))
	assert.ErrorIs(t, tx.Commit(ctx), ErrTransactionFinished)
}

func TestTransaction_QueryAfterFinish_ReturnsErrTransactionFinished(t *testing.T) {
	ctx := context.Background()
	conn := &fakeConnection{}

	tx, err := beginTransaction(ctx, conn, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	_, err = tx.Query(ctx, "SELECT 1")
	assert.ErrorIs(t, err, ErrTransactionFinished)
	_, err = tx.Execute(ctx, "UPDATE t SET x = 1")
	assert.ErrorIs(t, err, ErrTransactionFinished)
}

func TestBeginTransaction_BeginErrorReleasesConnection(t *testing.T) {
	ctx := context.Background()
	conn := &fakeConnection{beginErr: ErrTransactionFinished}
	released := false

	_, err := beginTransaction(ctx, conn, func() { released = true })
	require.Error(t, err)
	assert.True(t, released)
}
