package gorm

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm"

	"github.com/marloq/riptide/pkg/batch/core/tx"
)

// Tx adapts a GORM transaction to the engine's tx.Tx port.
type Tx struct {
	db *gorm.DB
}

var _ tx.Tx = (*Tx)(nil)

// DB returns the transaction's *gorm.DB for repository code that needs
// GORM-specific operations inside the transaction.
func (t *Tx) DB() *gorm.DB {
	return t.db
}

// Create implements tx.Tx. value is an entity pointer or a slice of entity
// pointers; GORM batches slice inserts.
func (t *Tx) Create(ctx context.Context, value interface{}) error {
	return t.db.WithContext(ctx).Create(value).Error
}

// Exec implements tx.Tx.
func (t *Tx) Exec(ctx context.Context, stmt string, args ...interface{}) error {
	return t.db.WithContext(ctx).Exec(stmt, args...).Error
}

// TransactionManager implements tx.TransactionManager on a GORM connection.
type TransactionManager struct {
	db *gorm.DB
}

var _ tx.TransactionManager = (*TransactionManager)(nil)

// NewTransactionManager creates a TransactionManager for the given connection.
func NewTransactionManager(db *gorm.DB) *TransactionManager {
	return &TransactionManager{db: db}
}

// Begin implements tx.TransactionManager.
func (m *TransactionManager) Begin(ctx context.Context, opts *sql.TxOptions) (tx.Tx, error) {
	var gtx *gorm.DB
	if opts != nil {
		gtx = m.db.WithContext(ctx).Begin(opts)
	} else {
		gtx = m.db.WithContext(ctx).Begin()
	}
	if gtx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", gtx.Error)
	}
	return &Tx{db: gtx}, nil
}

// Commit implements tx.TransactionManager.
func (m *TransactionManager) Commit(t tx.Tx) error {
	gtx, ok := t.(*Tx)
	if !ok {
		return fmt.Errorf("unexpected transaction type %T", t)
	}
	return gtx.db.Commit().Error
}

// Rollback implements tx.TransactionManager.
func (m *TransactionManager) Rollback(t tx.Tx) error {
	gtx, ok := t.(*Tx)
	if !ok {
		return fmt.Errorf("unexpected transaction type %T", t)
	}
	return gtx.db.Rollback().Error
}
