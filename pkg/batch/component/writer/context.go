package writer

import (
	"context"

	"github.com/marloq/riptide/pkg/batch/core/model"
	"github.com/marloq/riptide/pkg/batch/core/port"
	"github.com/marloq/riptide/pkg/batch/core/tx"
	"github.com/marloq/riptide/pkg/batch/support/logger"
)

// ExecutionContextWriter counts written items into the execution context
// under the given key. The count travels with the checkpoint, so it survives
// restarts and can be promoted to the job context. Mostly useful in tests and
// in steps whose only output is a summary figure.
type ExecutionContextWriter[I any] struct {
	key   string
	count int
}

var (
	_ port.ItemWriter[any] = (*ExecutionContextWriter[any])(nil)
	_ port.Checkpointer    = (*ExecutionContextWriter[any])(nil)
)

func NewExecutionContextWriter[I any](key string) *ExecutionContextWriter[I] {
	if key == "" {
		key = "writer.writeCount"
	}
	return &ExecutionContextWriter[I]{key: key}
}

func (w *ExecutionContextWriter[I]) Open(ctx context.Context, ec model.ExecutionContext) error {
	if count, ok := ec.GetInt(w.key); ok {
		w.count = count
	} else {
		w.count = 0
	}
	return nil
}

func (w *ExecutionContextWriter[I]) Write(ctx context.Context, _ tx.Tx, items []I) error {
	w.count += len(items)
	logger.Debugf("ExecutionContextWriter: %d items written so far under '%s'", w.count, w.key)
	return nil
}

func (w *ExecutionContextWriter[I]) Close(ctx context.Context) error { return nil }

func (w *ExecutionContextWriter[I]) Checkpoint(ctx context.Context) (model.ExecutionContext, error) {
	ec := model.NewExecutionContext()
	ec.Put(w.key, w.count)
	return ec, nil
}
