// Package sql provides a GORM-backed implementation of the JobRepository
// interface. Execution metadata lives in the batch_* tables created by the
// embedded migrations.
package sql

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	gormadapter "github.com/marloq/riptide/pkg/batch/adapter/gorm"
	"github.com/marloq/riptide/pkg/batch/core/model"
	"github.com/marloq/riptide/pkg/batch/core/repository"
	"github.com/marloq/riptide/pkg/batch/core/tx"
	"github.com/marloq/riptide/pkg/batch/support/exception"
)

const moduleName = "sql_job_repository"

// SQLJobRepository implements repository.JobRepository on a GORM connection.
// It also implements repository.TransactionalCheckpointRepository, so chunk
// checkpoints commit atomically with business data written through the same
// connection.
type SQLJobRepository struct {
	db *gorm.DB
}

var (
	_ repository.JobRepository                     = (*SQLJobRepository)(nil)
	_ repository.TransactionalCheckpointRepository = (*SQLJobRepository)(nil)
)

// NewSQLJobRepository creates a SQLJobRepository on the given connection.
func NewSQLJobRepository(db *gorm.DB) *SQLJobRepository {
	return &SQLJobRepository{db: db}
}

// Close releases the underlying connection pool.
func (r *SQLJobRepository) Close() error {
	return gormadapter.Close(r.db)
}

// SaveJobInstance persists a new JobInstance.
func (r *SQLJobRepository) SaveJobInstance(ctx context.Context, instance *model.JobInstance) error {
	entity := fromDomainJobInstance(instance)
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to save JobInstance (ID: %s)", instance.ID), err, "")
	}
	return nil
}

// FindJobInstanceByID finds a JobInstance by its ID.
func (r *SQLJobRepository) FindJobInstanceByID(ctx context.Context, id string) (*model.JobInstance, error) {
	var entity JobInstanceEntity
	err := r.db.WithContext(ctx).First(&entity, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrJobInstanceNotFound
		}
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to find JobInstance (ID: %s)", id), err, "")
	}
	return toDomainJobInstance(&entity), nil
}

// FindJobInstanceByJobNameAndParameters finds a JobInstance by job name and
// exact parameter set, using the canonical parameter hash.
func (r *SQLJobRepository) FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	hash, err := params.Hash()
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to hash job parameters", err, "")
	}

	var entity JobInstanceEntity
	err = r.db.WithContext(ctx).
		Where("job_name = ? AND parameters_hash = ?", jobName, hash).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrJobInstanceNotFound
		}
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to find JobInstance for job '%s'", jobName), err, "")
	}
	return toDomainJobInstance(&entity), nil
}

// SaveJobExecution persists a new JobExecution.
func (r *SQLJobRepository) SaveJobExecution(ctx context.Context, execution *model.JobExecution) error {
	entity := fromDomainJobExecution(execution)
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to save JobExecution (ID: %s)", execution.ID), err, "")
	}
	return nil
}

// UpdateJobExecution persists state changes of an existing JobExecution
// using optimistic locking on the version column.
func (r *SQLJobRepository) UpdateJobExecution(ctx context.Context, execution *model.JobExecution) error {
	originalVersion := execution.Version
	execution.Version++
	entity := fromDomainJobExecution(execution)

	result := r.db.WithContext(ctx).
		Model(&JobExecutionEntity{}).
		Where("id = ? AND version = ?", entity.ID, originalVersion).
		Select("*").
		Updates(entity)
	if result.Error != nil {
		execution.Version = originalVersion
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to update JobExecution (ID: %s)", execution.ID), result.Error, "")
	}
	if result.RowsAffected == 0 {
		execution.Version = originalVersion
		return exception.NewBatchError(moduleName,
			fmt.Sprintf("JobExecution (ID: %s) was modified concurrently", execution.ID),
			exception.ErrJobAlreadyRunning, exception.ClassConcurrency)
	}
	return nil
}

// FindJobExecutionByID finds a JobExecution by its ID with its step
// executions attached.
func (r *SQLJobRepository) FindJobExecutionByID(ctx context.Context, id string) (*model.JobExecution, error) {
	var entity JobExecutionEntity
	err := r.db.WithContext(ctx).First(&entity, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrJobExecutionNotFound
		}
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to find JobExecution (ID: %s)", id), err, "")
	}

	execution := toDomainJobExecution(&entity)
	steps, err := r.FindStepExecutionsByJobExecutionID(ctx, execution.ID)
	if err != nil {
		return nil, err
	}
	for _, se := range steps {
		execution.AddStepExecution(se)
	}
	return execution, nil
}

// FindLatestJobExecution returns the most recently created JobExecution of
// the given JobInstance.
func (r *SQLJobRepository) FindLatestJobExecution(ctx context.Context, jobInstanceID string) (*model.JobExecution, error) {
	var entity JobExecutionEntity
	err := r.db.WithContext(ctx).
		Where("job_instance_id = ?", jobInstanceID).
		Order("create_time DESC").
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrJobExecutionNotFound
		}
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to find latest JobExecution (instance: %s)", jobInstanceID), err, "")
	}
	return toDomainJobExecution(&entity), nil
}

// FindJobExecutionsByJobInstance returns all JobExecutions of the given
// JobInstance, most recent first.
func (r *SQLJobRepository) FindJobExecutionsByJobInstance(ctx context.Context, jobInstanceID string) ([]*model.JobExecution, error) {
	var entities []JobExecutionEntity
	err := r.db.WithContext(ctx).
		Where("job_instance_id = ?", jobInstanceID).
		Order("create_time DESC").
		Find(&entities).Error
	if err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to list JobExecutions (instance: %s)", jobInstanceID), err, "")
	}
	executions := make([]*model.JobExecution, 0, len(entities))
	for i := range entities {
		executions = append(executions, toDomainJobExecution(&entities[i]))
	}
	return executions, nil
}

// SaveStepExecution persists a new StepExecution.
func (r *SQLJobRepository) SaveStepExecution(ctx context.Context, execution *model.StepExecution) error {
	entity := fromDomainStepExecution(execution)
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to save StepExecution (ID: %s)", execution.ID), err, "")
	}
	return nil
}

// UpdateStepExecution persists state changes of an existing StepExecution
// using optimistic locking on the version column.
func (r *SQLJobRepository) UpdateStepExecution(ctx context.Context, execution *model.StepExecution) error {
	originalVersion := execution.Version
	execution.Version++
	entity := fromDomainStepExecution(execution)

	result := r.db.WithContext(ctx).
		Model(&StepExecutionEntity{}).
		Where("id = ? AND version = ?", entity.ID, originalVersion).
		Select("*").
		Updates(entity)
	if result.Error != nil {
		execution.Version = originalVersion
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to update StepExecution (ID: %s)", execution.ID), result.Error, "")
	}
	if result.RowsAffected == 0 {
		execution.Version = originalVersion
		return exception.NewBatchError(moduleName,
			fmt.Sprintf("StepExecution (ID: %s) was modified concurrently", execution.ID),
			exception.ErrJobAlreadyRunning, exception.ClassConcurrency)
	}
	return nil
}

// FindStepExecutionByID finds a StepExecution by its ID.
func (r *SQLJobRepository) FindStepExecutionByID(ctx context.Context, id string) (*model.StepExecution, error) {
	var entity StepExecutionEntity
	err := r.db.WithContext(ctx).First(&entity, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrStepExecutionNotFound
		}
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to find StepExecution (ID: %s)", id), err, "")
	}
	return toDomainStepExecution(&entity), nil
}

// FindStepExecutionsByJobExecutionID returns all StepExecutions of the given
// JobExecution, ordered by start time.
func (r *SQLJobRepository) FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error) {
	var entities []StepExecutionEntity
	err := r.db.WithContext(ctx).
		Where("job_execution_id = ?", jobExecutionID).
		Order("start_time ASC").
		Find(&entities).Error
	if err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to list StepExecutions (execution: %s)", jobExecutionID), err, "")
	}
	executions := make([]*model.StepExecution, 0, len(entities))
	for i := range entities {
		executions = append(executions, toDomainStepExecution(&entities[i]))
	}
	return executions, nil
}

// checkpointConflict upserts on the step execution ID.
var checkpointConflict = clause.OnConflict{
	Columns:   []clause.Column{{Name: "step_execution_id"}},
	DoUpdates: clause.AssignmentColumns([]string{"execution_context", "last_updated"}),
}

// SaveCheckpointData persists a checkpoint snapshot, replacing any previous
// snapshot of the same step execution.
func (r *SQLJobRepository) SaveCheckpointData(ctx context.Context, data *model.CheckpointData) error {
	entity := fromDomainCheckpointData(data)
	err := r.db.WithContext(ctx).Clauses(checkpointConflict).Create(entity).Error
	if err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to save checkpoint (step execution: %s)", data.StepExecutionID), err, "")
	}
	return nil
}

// SaveCheckpointDataInTx persists a checkpoint snapshot inside the given
// chunk transaction, so checkpoint and business data commit atomically.
// A transaction from another datastore falls back to an immediate save.
func (r *SQLJobRepository) SaveCheckpointDataInTx(ctx context.Context, t tx.Tx, data *model.CheckpointData) error {
	gtx, ok := t.(*gormadapter.Tx)
	if !ok {
		return r.SaveCheckpointData(ctx, data)
	}
	entity := fromDomainCheckpointData(data)
	err := gtx.DB().WithContext(ctx).Clauses(checkpointConflict).Create(entity).Error
	if err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to save checkpoint in transaction (step execution: %s)", data.StepExecutionID), err, "")
	}
	return nil
}

// FindCheckpointData returns the snapshot of the given step execution.
func (r *SQLJobRepository) FindCheckpointData(ctx context.Context, stepExecutionID string) (*model.CheckpointData, error) {
	var entity CheckpointDataEntity
	err := r.db.WithContext(ctx).First(&entity, "step_execution_id = ?", stepExecutionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrCheckpointDataNotFound
		}
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to find checkpoint (step execution: %s)", stepExecutionID), err, "")
	}
	return toDomainCheckpointData(&entity), nil
}

// DeleteCheckpointData removes the snapshot of the given step execution.
func (r *SQLJobRepository) DeleteCheckpointData(ctx context.Context, stepExecutionID string) error {
	err := r.db.WithContext(ctx).
		Delete(&CheckpointDataEntity{}, "step_execution_id = ?", stepExecutionID).Error
	if err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to delete checkpoint (step execution: %s)", stepExecutionID), err, "")
	}
	return nil
}
