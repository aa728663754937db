// Package test provides in-memory doubles and model factories shared by the
// package tests. Nothing here is safe for production use.
package test

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/marloq/riptide/pkg/batch/core/tx"
)

// MemoryTx stages Create and Exec calls until the manager commits it.
type MemoryTx struct {
	staged   []interface{}
	execs    []string
	finished bool
}

var _ tx.Tx = (*MemoryTx)(nil)

func (t *MemoryTx) Create(ctx context.Context, value interface{}) error {
	if t.finished {
		return errors.New("transaction already finished")
	}
	t.staged = append(t.staged, value)
	return nil
}

// CreateCalls returns the number of Create calls staged on this transaction.
func (t *MemoryTx) CreateCalls() int {
	return len(t.staged)
}

func (t *MemoryTx) Exec(ctx context.Context, query string, args ...interface{}) error {
	if t.finished {
		return errors.New("transaction already finished")
	}
	t.execs = append(t.execs, query)
	return nil
}

// MemoryTxManager hands out MemoryTx instances and keeps everything a
// committed transaction staged. Rolled-back staging is discarded, which lets
// tests assert that a failed chunk left nothing behind. The error fields
// inject failures at each demarcation point.
type MemoryTxManager struct {
	mu sync.Mutex

	Committed   []interface{}
	BeginCount  int
	CommitCount int
	Rollbacks   int

	BeginErr    error
	CommitErr   error
	RollbackErr error
}

var _ tx.TransactionManager = (*MemoryTxManager)(nil)

func NewMemoryTxManager() *MemoryTxManager {
	return &MemoryTxManager{}
}

func (m *MemoryTxManager) Begin(ctx context.Context, opts *sql.TxOptions) (tx.Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BeginCount++
	if m.BeginErr != nil {
		return nil, m.BeginErr
	}
	return &MemoryTx{}, nil
}

func (m *MemoryTxManager) Commit(t tx.Tx) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := t.(*MemoryTx)
	if !ok {
		return errors.New("unexpected transaction type")
	}
	if m.CommitErr != nil {
		mt.finished = true
		return m.CommitErr
	}
	m.Committed = append(m.Committed, mt.staged...)
	mt.finished = true
	m.CommitCount++
	return nil
}

func (m *MemoryTxManager) Rollback(t tx.Tx) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := t.(*MemoryTx)
	if !ok {
		return errors.New("unexpected transaction type")
	}
	mt.staged = nil
	mt.finished = true
	m.Rollbacks++
	return m.RollbackErr
}
