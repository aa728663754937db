package writer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marloq/riptide/pkg/batch/core/model"
	"github.com/marloq/riptide/pkg/batch/test"
)

func TestSQLBulkWriterStagesBatches(t *testing.T) {
	w := NewSQLBulkWriter[string]("transactions", 2)
	txn := &test.MemoryTx{}

	require.NoError(t, w.Open(context.Background(), model.NewExecutionContext()))
	require.NoError(t, w.Write(context.Background(), txn, []string{"a", "b", "c", "d", "e"}))
	require.NoError(t, w.Close(context.Background()))

	// 5 items with bulk size 2 stage in 3 Create calls.
	assert.Equal(t, 3, txn.CreateCalls())
}

func TestSQLBulkWriterEmptyBatch(t *testing.T) {
	w := NewSQLBulkWriter[string]("transactions", 10)
	txn := &test.MemoryTx{}

	require.NoError(t, w.Write(context.Background(), txn, nil))
	assert.Equal(t, 0, txn.CreateCalls())
}

func TestSQLBulkWriterRequiresTransaction(t *testing.T) {
	w := NewSQLBulkWriter[string]("transactions", 10)
	err := w.Write(context.Background(), nil, []string{"a"})
	assert.Error(t, err)
}

func TestSQLBulkWriterDefaultBulkSize(t *testing.T) {
	w := NewSQLBulkWriter[string]("transactions", 0)
	txn := &test.MemoryTx{}

	items := make([]string, 150)
	require.NoError(t, w.Write(context.Background(), txn, items))
	assert.Equal(t, 2, txn.CreateCalls())
}

func TestExecutionContextWriterCountsItems(t *testing.T) {
	w := NewExecutionContextWriter[string]("transactions.writeCount")

	require.NoError(t, w.Open(context.Background(), model.NewExecutionContext()))
	require.NoError(t, w.Write(context.Background(), nil, []string{"a", "b"}))
	require.NoError(t, w.Write(context.Background(), nil, []string{"c"}))

	ec, err := w.Checkpoint(context.Background())
	require.NoError(t, err)
	count, _ := ec.GetInt("transactions.writeCount")
	assert.Equal(t, 3, count)
}

func TestExecutionContextWriterResumesCount(t *testing.T) {
	w := NewExecutionContextWriter[string]("")

	resume := model.NewExecutionContext()
	resume.Put("writer.writeCount", 40)
	require.NoError(t, w.Open(context.Background(), resume))
	require.NoError(t, w.Write(context.Background(), nil, []string{"x"}))

	ec, err := w.Checkpoint(context.Background())
	require.NoError(t, err)
	count, _ := ec.GetInt("writer.writeCount")
	assert.Equal(t, 41, count)
}
