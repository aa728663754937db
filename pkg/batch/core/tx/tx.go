// Package tx defines the transaction port the chunk engine drives. One
// chunk runs inside one transaction; writers stage their output through the
// Tx so that business data and checkpoint commit or roll back together.
package tx

import (
	"context"
	"database/sql"
)

// Tx is a handle to an open transaction. Writers stage their output through
// it; the engine owns commit and rollback.
type Tx interface {
	// Create stages an insert of the given value (an entity pointer or a
	// slice of entity pointers) within the transaction.
	Create(ctx context.Context, value interface{}) error
	// Exec runs a raw statement within the transaction.
	Exec(ctx context.Context, stmt string, args ...interface{}) error
}

// TransactionManager demarcates transactions for the chunk engine.
type TransactionManager interface {
	// Begin opens a new transaction. opts may be nil for driver defaults.
	Begin(ctx context.Context, opts *sql.TxOptions) (Tx, error)
	// Commit commits the given transaction.
	Commit(t Tx) error
	// Rollback rolls back the given transaction.
	Rollback(t Tx) error
}

// NoopTx is a Tx that accepts every operation and does nothing. It backs
// writers that manage their own durability, such as file writers.
type NoopTx struct{}

func (NoopTx) Create(ctx context.Context, value interface{}) error            { return nil }
func (NoopTx) Exec(ctx context.Context, stmt string, args ...interface{}) error { return nil }

// NoopTransactionManager hands out NoopTx transactions. It is the default
// when a step has no transactional resource.
type NoopTransactionManager struct{}

// NewNoopTransactionManager creates a NoopTransactionManager.
func NewNoopTransactionManager() *NoopTransactionManager {
	return &NoopTransactionManager{}
}

func (NoopTransactionManager) Begin(ctx context.Context, opts *sql.TxOptions) (Tx, error) {
	return NoopTx{}, nil
}

func (NoopTransactionManager) Commit(t Tx) error   { return nil }
func (NoopTransactionManager) Rollback(t Tx) error { return nil }

var (
	_ Tx                 = NoopTx{}
	_ TransactionManager = NoopTransactionManager{}
)
