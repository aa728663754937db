// Package writer provides reusable item writers. Database writers operate
// inside the chunk transaction handed to Write, so a rolled-back chunk leaves
// no rows behind. File writers buffer and flush on Close instead.
package writer

import (
	"context"
	"fmt"

	"github.com/marloq/riptide/pkg/batch/core/model"
	"github.com/marloq/riptide/pkg/batch/core/port"
	"github.com/marloq/riptide/pkg/batch/core/tx"
	"github.com/marloq/riptide/pkg/batch/support/exception"
	"github.com/marloq/riptide/pkg/batch/support/logger"
)

const moduleName = "writer"

// SQLBulkWriter persists items through the chunk transaction in batches of
// bulkSize. The item type carries the table mapping; rows land in whatever
// table the ORM derives from T.
type SQLBulkWriter[T any] struct {
	name     string
	bulkSize int
}

var _ port.ItemWriter[any] = (*SQLBulkWriter[any])(nil)

func NewSQLBulkWriter[T any](name string, bulkSize int) *SQLBulkWriter[T] {
	if bulkSize <= 0 {
		bulkSize = 100
	}
	return &SQLBulkWriter[T]{name: name, bulkSize: bulkSize}
}

func (w *SQLBulkWriter[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	logger.Debugf("SQLBulkWriter '%s': opened", w.name)
	return nil
}

func (w *SQLBulkWriter[T]) Write(ctx context.Context, txn tx.Tx, items []T) error {
	if len(items) == 0 {
		return nil
	}
	if txn == nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("SQLBulkWriter '%s' requires a transaction", w.name), nil, "")
	}
	for i := 0; i < len(items); i += w.bulkSize {
		end := i + w.bulkSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[i:end]
		if err := txn.Create(ctx, &batch); err != nil {
			return exception.NewBatchError(moduleName, fmt.Sprintf("bulk insert failed for writer '%s' at offset %d", w.name, i), err, exception.ClassTransient)
		}
		logger.Debugf("SQLBulkWriter '%s': staged %d items (offset %d)", w.name, len(batch), i)
	}
	return nil
}

func (w *SQLBulkWriter[T]) Close(ctx context.Context) error {
	logger.Debugf("SQLBulkWriter '%s': closed", w.name)
	return nil
}
