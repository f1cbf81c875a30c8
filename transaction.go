package testkit

import "context"

// Transaction is a single-owner lease on a Connection representing an
// open SQL transaction. It holds both the acquired Connection and the
// driver's transaction handle in one struct so the connection cannot
// escape the transaction's lifetime: Go has no borrow checker, so this
// invariant is enforced by construction rather than by a type system,
// per spec.md's "transaction lifetime paradox" design note.
//
// At most one live Transaction exists per Connection at a time.
// Commit and Rollback are terminal: the first call moves tx out of its
// slot by nilling it, so a second call is a documented no-op
// returning ErrTransactionFinished rather than corrupting driver state.
type Transaction struct {
	conn Connection
	tx   DriverTx

	// release, if set, returns conn to the owning reuse pool once the
	// transaction reaches a terminal state (commit or rollback).
	release func()
}

// beginTransaction acquires conn's driver transaction handle and
// returns an owning Transaction. release, if non-nil, runs exactly
// once after the transaction is finalized.
func beginTransaction(ctx context.Context, conn Connection, release func()) (*Transaction, error) {
	tx, err := conn.Begin(ctx)
	if err != nil {
		if release != nil {
			release()
		}
		return nil, err
	}
	return &Transaction{conn: conn, tx: tx, release: release}, nil
}

func (t *Transaction) finish() {
	if t.release != nil {
		t.release()
		t.release = nil
	}
}

// Execute runs query against the transaction's connection.
func (t *Transaction) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	if t.tx == nil {
		return 0, ErrTransactionFinished
	}
	return t.conn.Execute(ctx, query, args...)
}

// Query runs a SELECT-shaped query against the transaction's connection.
func (t *Transaction) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	if t.tx == nil {
		return nil, ErrTransactionFinished
	}
	return t.conn.Query(ctx, query, args...)
}

// Commit commits the transaction. A second call is a no-op returning
// ErrTransactionFinished.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.tx == nil {
		return ErrTransactionFinished
	}
	tx := t.tx
	t.tx = nil
	defer t.finish()
	return tx.Commit(ctx)
}

// Rollback rolls the transaction back. A second call, including one
// after an explicit Commit, is a no-op returning ErrTransactionFinished
// — so a deferred Rollback following a successful Commit is always
// safe to write unconditionally.
func (t *Transaction) Rollback(ctx context.Context) error {
	if t.tx == nil {
		return ErrTransactionFinished
	}
	tx := t.tx
	t.tx = nil
	defer t.finish()
	return tx.Rollback(ctx)
}
