// Package reader provides reusable item readers. Every reader in this
// package tracks its position through the execution context, so a restarted
// step resumes past the items a previous execution committed.
package reader

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/marloq/riptide/pkg/batch/core/model"
	"github.com/marloq/riptide/pkg/batch/core/port"
	"github.com/marloq/riptide/pkg/batch/support/exception"
	"github.com/marloq/riptide/pkg/batch/support/logger"
)

const moduleName = "reader"

// SQLCursorReader streams rows from a database query. On restart it appends
// an OFFSET clause to the base query to skip rows already committed, so the
// base query must carry a stable ORDER BY.
type SQLCursorReader[T any] struct {
	db        *sql.DB
	name      string
	baseQuery string
	baseArgs  []any
	mapper    func(*sql.Rows) (T, error)
	rows      *sql.Rows
	readCount int
}

var _ port.ItemReader[any] = (*SQLCursorReader[any])(nil)
var _ port.Checkpointer = (*SQLCursorReader[any])(nil)

func NewSQLCursorReader[T any](db *sql.DB, name, query string, args []any, mapper func(*sql.Rows) (T, error)) *SQLCursorReader[T] {
	return &SQLCursorReader[T]{
		db:        db,
		name:      name,
		baseQuery: query,
		baseArgs:  args,
		mapper:    mapper,
	}
}

func (r *SQLCursorReader[T]) readCountKey() string { return r.name + ".readCount" }

// Open executes the query, resuming from the read count checkpointed by a
// previous execution when one is present.
func (r *SQLCursorReader[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	if count, ok := ec.GetInt(r.readCountKey()); ok {
		r.readCount = count
	} else {
		r.readCount = 0
	}

	query := r.baseQuery
	args := r.baseArgs
	if r.readCount > 0 {
		query = fmt.Sprintf("%s OFFSET %d", r.baseQuery, r.readCount)
		logger.Infof("SQLCursorReader '%s': resuming past %d committed rows", r.name, r.readCount)
	} else {
		logger.Debugf("SQLCursorReader '%s': starting fresh read", r.name)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to execute query for reader '%s'", r.name), err, exception.ClassTransient)
	}
	r.rows = rows
	return nil
}

func (r *SQLCursorReader[T]) Read(ctx context.Context) (T, error) {
	var zero T
	if r.rows == nil {
		return zero, exception.NewBatchError(moduleName, fmt.Sprintf("reader '%s' is not open", r.name), nil, "")
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return zero, exception.NewBatchError(moduleName, fmt.Sprintf("row iteration failed for reader '%s'", r.name), err, exception.ClassTransient)
		}
		return zero, port.ErrNoMoreItems
	}
	item, err := r.mapper(r.rows)
	if err != nil {
		return zero, exception.NewBatchError(moduleName, fmt.Sprintf("failed to map row for reader '%s'", r.name), err, exception.ClassMalformed)
	}
	r.readCount++
	return item, nil
}

func (r *SQLCursorReader[T]) Close(ctx context.Context) error {
	if r.rows == nil {
		return nil
	}
	err := r.rows.Close()
	r.rows = nil
	if err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to close rows for reader '%s'", r.name), err, "")
	}
	return nil
}

// Checkpoint reports the number of rows handed to the engine so far. It is
// captured after a chunk completes, so it counts only committed rows.
func (r *SQLCursorReader[T]) Checkpoint(ctx context.Context) (model.ExecutionContext, error) {
	ec := model.NewExecutionContext()
	ec.Put(r.readCountKey(), r.readCount)
	return ec, nil
}
