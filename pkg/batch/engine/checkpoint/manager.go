// Package checkpoint manages the restart positions of chunk-oriented steps.
// After every committed chunk the step's position and counters are saved;
// on restart the step resumes from the last saved snapshot instead of
// reprocessing committed items.
package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/marloq/riptide/pkg/batch/core/model"
	"github.com/marloq/riptide/pkg/batch/core/repository"
	"github.com/marloq/riptide/pkg/batch/core/tx"
	"github.com/marloq/riptide/pkg/batch/support/exception"
	"github.com/marloq/riptide/pkg/batch/support/logger"
)

const moduleName = "checkpoint"

// Execution context keys under which the manager stores step counters.
const (
	KeyReadCount        = "checkpoint.read_count"
	KeyWriteCount       = "checkpoint.write_count"
	KeyCommitCount      = "checkpoint.commit_count"
	KeyFilterCount      = "checkpoint.filter_count"
	KeySkipReadCount    = "checkpoint.skip_read_count"
	KeySkipProcessCount = "checkpoint.skip_process_count"
	KeySkipWriteCount   = "checkpoint.skip_write_count"
)

// Manager persists and restores step checkpoints through the job repository.
type Manager struct {
	repo repository.JobRepository
}

// NewManager creates a checkpoint Manager on top of the given repository.
func NewManager(repo repository.JobRepository) *Manager {
	return &Manager{repo: repo}
}

// Resume returns the execution context the step should resume from and
// restores the persisted counters into the StepExecution. The lookup order
// is: a checkpoint saved under this step execution's ID, then the execution
// context carried over from a previous execution by the restart copy.
// A fresh step resumes from an empty context.
func (m *Manager) Resume(ctx context.Context, se *model.StepExecution) (model.ExecutionContext, error) {
	data, err := m.repo.FindCheckpointData(ctx, se.ID)
	if err != nil && !errors.Is(err, repository.ErrCheckpointDataNotFound) {
		return nil, exception.NewBatchError(moduleName, "failed to load checkpoint data", err, "")
	}

	var ec model.ExecutionContext
	switch {
	case err == nil && data != nil:
		ec = data.ExecutionContext.Copy()
	case len(se.ExecutionContext) > 0:
		ec = se.ExecutionContext.Copy()
	default:
		return model.NewExecutionContext(), nil
	}

	restoreCounters(se, ec)
	logger.Infof("Step '%s' (ID: %s) resuming from checkpoint: readCount=%d, writeCount=%d, commitCount=%d.",
		se.StepName, se.ID, se.ReadCount, se.WriteCount, se.CommitCount)
	return ec, nil
}

// Snapshot composes the checkpoint payload from the given position and the
// step's current counters. The step execution itself is not modified; the
// caller assigns the snapshot's context to it only after the covering chunk
// transaction commits, so a failed commit never pollutes the carried state.
func (m *Manager) Snapshot(se *model.StepExecution, position model.ExecutionContext) *model.CheckpointData {
	snapshot := position.Copy()
	storeCounters(se, snapshot)
	return &model.CheckpointData{
		StepExecutionID:  se.ID,
		ExecutionContext: snapshot,
		LastUpdated:      time.Now(),
	}
}

// SaveInTx writes the snapshot inside the chunk transaction, so checkpoint
// and data commit or roll back together. It reports false when the
// repository cannot join the transaction; the caller then persists the
// snapshot with SaveCommitted once the chunk has committed.
func (m *Manager) SaveInTx(ctx context.Context, t tx.Tx, data *model.CheckpointData) (bool, error) {
	txRepo, ok := m.repo.(repository.TransactionalCheckpointRepository)
	if !ok || t == nil {
		return false, nil
	}
	if err := txRepo.SaveCheckpointDataInTx(ctx, t, data); err != nil {
		return false, exception.NewBatchError(moduleName, "failed to save checkpoint data in chunk transaction", err, exception.ClassTransaction)
	}
	return true, nil
}

// SaveCommitted persists the snapshot outside any transaction. It must run
// strictly after the covering chunk commits: saved too early, a rolled-back
// chunk would leave a checkpoint claiming items that were never written.
func (m *Manager) SaveCommitted(ctx context.Context, data *model.CheckpointData) error {
	if err := m.repo.SaveCheckpointData(ctx, data); err != nil {
		return exception.NewBatchError(moduleName, "failed to save checkpoint data", err, "")
	}
	return nil
}

// Clear removes the checkpoint of a step execution after it completes.
func (m *Manager) Clear(ctx context.Context, se *model.StepExecution) error {
	if err := m.repo.DeleteCheckpointData(ctx, se.ID); err != nil && !errors.Is(err, repository.ErrCheckpointDataNotFound) {
		return exception.NewBatchError(moduleName, "failed to delete checkpoint data", err, "")
	}
	return nil
}

func storeCounters(se *model.StepExecution, ec model.ExecutionContext) {
	ec.Put(KeyReadCount, se.ReadCount)
	ec.Put(KeyWriteCount, se.WriteCount)
	ec.Put(KeyCommitCount, se.CommitCount)
	ec.Put(KeyFilterCount, se.FilterCount)
	ec.Put(KeySkipReadCount, se.SkipReadCount)
	ec.Put(KeySkipProcessCount, se.SkipProcessCount)
	ec.Put(KeySkipWriteCount, se.SkipWriteCount)
}

func restoreCounters(se *model.StepExecution, ec model.ExecutionContext) {
	if v, ok := ec.GetInt(KeyReadCount); ok {
		se.ReadCount = v
	}
	if v, ok := ec.GetInt(KeyWriteCount); ok {
		se.WriteCount = v
	}
	if v, ok := ec.GetInt(KeyCommitCount); ok {
		se.CommitCount = v
	}
	if v, ok := ec.GetInt(KeyFilterCount); ok {
		se.FilterCount = v
	}
	if v, ok := ec.GetInt(KeySkipReadCount); ok {
		se.SkipReadCount = v
	}
	if v, ok := ec.GetInt(KeySkipProcessCount); ok {
		se.SkipProcessCount = v
	}
	if v, ok := ec.GetInt(KeySkipWriteCount); ok {
		se.SkipWriteCount = v
	}
}
