// Package repository defines the persistence ports for batch execution
// metadata: job instances, job executions, step executions, and checkpoints.
package repository

import (
	"context"
	"errors"

	"github.com/marloq/riptide/pkg/batch/core/model"
	"github.com/marloq/riptide/pkg/batch/core/tx"
)

// Sentinel errors returned by repository lookups.
var (
	ErrJobInstanceNotFound    = errors.New("job instance not found")
	ErrJobExecutionNotFound   = errors.New("job execution not found")
	ErrStepExecutionNotFound  = errors.New("step execution not found")
	ErrCheckpointDataNotFound = errors.New("checkpoint data not found")
)

// JobInstanceRepository persists job instances.
type JobInstanceRepository interface {
	// SaveJobInstance persists a new job instance.
	SaveJobInstance(ctx context.Context, instance *model.JobInstance) error
	// FindJobInstanceByJobNameAndParameters finds the instance identified by
	// the job name and exact parameter set. Returns ErrJobInstanceNotFound
	// when no such instance exists.
	FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error)
	// FindJobInstanceByID finds an instance by ID.
	FindJobInstanceByID(ctx context.Context, id string) (*model.JobInstance, error)
}

// JobExecutionRepository persists job executions.
type JobExecutionRepository interface {
	// SaveJobExecution persists a new job execution.
	SaveJobExecution(ctx context.Context, execution *model.JobExecution) error
	// UpdateJobExecution persists state changes of an existing execution.
	UpdateJobExecution(ctx context.Context, execution *model.JobExecution) error
	// FindJobExecutionByID finds an execution by ID, with its step executions attached.
	FindJobExecutionByID(ctx context.Context, id string) (*model.JobExecution, error)
	// FindLatestJobExecution returns the most recent execution of the given
	// instance, or ErrJobExecutionNotFound when the instance never ran.
	FindLatestJobExecution(ctx context.Context, jobInstanceID string) (*model.JobExecution, error)
	// FindJobExecutionsByJobInstance returns all executions of the given instance.
	FindJobExecutionsByJobInstance(ctx context.Context, jobInstanceID string) ([]*model.JobExecution, error)
}

// StepExecutionRepository persists step executions.
type StepExecutionRepository interface {
	// SaveStepExecution persists a new step execution.
	SaveStepExecution(ctx context.Context, execution *model.StepExecution) error
	// UpdateStepExecution persists state changes of an existing step execution.
	UpdateStepExecution(ctx context.Context, execution *model.StepExecution) error
	// FindStepExecutionByID finds a step execution by ID.
	FindStepExecutionByID(ctx context.Context, id string) (*model.StepExecution, error)
	// FindStepExecutionsByJobExecutionID returns all step executions of a job execution.
	FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error)
}

// CheckpointRepository persists step restart positions.
type CheckpointRepository interface {
	// SaveCheckpointData persists a checkpoint snapshot, replacing any
	// previous snapshot of the same step execution.
	SaveCheckpointData(ctx context.Context, data *model.CheckpointData) error
	// FindCheckpointData returns the snapshot of the given step execution,
	// or ErrCheckpointDataNotFound.
	FindCheckpointData(ctx context.Context, stepExecutionID string) (*model.CheckpointData, error)
	// DeleteCheckpointData removes the snapshot of the given step execution.
	DeleteCheckpointData(ctx context.Context, stepExecutionID string) error
}

// TransactionalCheckpointRepository is an optional capability of repositories
// whose checkpoint store shares a datastore with the business data. It lets
// the chunk engine persist the checkpoint inside the chunk transaction, so
// checkpoint and data commit atomically.
type TransactionalCheckpointRepository interface {
	SaveCheckpointDataInTx(ctx context.Context, t tx.Tx, data *model.CheckpointData) error
}

// JobRepository is the aggregate persistence port the engine runs against.
type JobRepository interface {
	JobInstanceRepository
	JobExecutionRepository
	StepExecutionRepository
	CheckpointRepository

	// Close releases resources held by the repository.
	Close() error
}
