package inmemory

import (
	"context"
	"time"

	"github.com/marloq/riptide/pkg/batch/core/model"
	"github.com/marloq/riptide/pkg/batch/core/repository"
)

// SaveCheckpointData persists a checkpoint snapshot, replacing any previous
// snapshot of the same step execution.
func (r *InMemoryJobRepository) SaveCheckpointData(ctx context.Context, data *model.CheckpointData) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := &model.CheckpointData{
		StepExecutionID:  data.StepExecutionID,
		ExecutionContext: model.NewExecutionContext(),
		LastUpdated:      time.Now(),
	}
	stored.ExecutionContext.MergeFrom(data.ExecutionContext)
	r.checkpointData[data.StepExecutionID] = stored
	return nil
}

// FindCheckpointData returns the snapshot of the given step execution.
func (r *InMemoryJobRepository) FindCheckpointData(ctx context.Context, stepExecutionID string) (*model.CheckpointData, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	data, ok := r.checkpointData[stepExecutionID]
	if !ok {
		return nil, repository.ErrCheckpointDataNotFound
	}
	return data, nil
}

// DeleteCheckpointData removes the snapshot of the given step execution.
func (r *InMemoryJobRepository) DeleteCheckpointData(ctx context.Context, stepExecutionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.checkpointData, stepExecutionID)
	return nil
}
