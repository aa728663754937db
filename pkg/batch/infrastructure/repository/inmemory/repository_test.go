package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marloq/riptide/pkg/batch/core/model"
	"github.com/marloq/riptide/pkg/batch/core/repository"
)

func newInstance(t *testing.T, repo *InMemoryJobRepository, jobName string) *model.JobInstance {
	t.Helper()
	instance := model.NewJobInstance(jobName, model.NewJobParameters())
	require.NoError(t, repo.SaveJobInstance(context.Background(), instance))
	return instance
}

func TestSaveAndFindJobInstance(t *testing.T) {
	repo := NewInMemoryJobRepository()
	params := model.NewJobParameters()
	params.Put("inputFile", "transactions.csv")
	instance := model.NewJobInstance("ledger-import", params)

	require.NoError(t, repo.SaveJobInstance(context.Background(), instance))

	found, err := repo.FindJobInstanceByID(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, instance.ID, found.ID)

	found, err = repo.FindJobInstanceByJobNameAndParameters(context.Background(), "ledger-import", params)
	require.NoError(t, err)
	assert.Equal(t, instance.ID, found.ID)

	// Same name with different parameters is a different instance.
	other := model.NewJobParameters()
	other.Put("inputFile", "other.csv")
	_, err = repo.FindJobInstanceByJobNameAndParameters(context.Background(), "ledger-import", other)
	assert.ErrorIs(t, err, repository.ErrJobInstanceNotFound)

	err = repo.SaveJobInstance(context.Background(), instance)
	assert.Error(t, err)
}

func TestFindJobInstanceNotFound(t *testing.T) {
	repo := NewInMemoryJobRepository()
	_, err := repo.FindJobInstanceByID(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrJobInstanceNotFound)
}

func TestJobExecutionLifecycle(t *testing.T) {
	repo := NewInMemoryJobRepository()
	instance := newInstance(t, repo, "ledger-import")
	je := model.NewJobExecution(instance.ID, "ledger-import", model.NewJobParameters())

	require.NoError(t, repo.SaveJobExecution(context.Background(), je))
	assert.Error(t, repo.SaveJobExecution(context.Background(), je))

	je.MarkAsStarted()
	require.NoError(t, repo.UpdateJobExecution(context.Background(), je))

	found, err := repo.FindJobExecutionByID(context.Background(), je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStarted, found.Status)

	_, err = repo.FindJobExecutionByID(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrJobExecutionNotFound)

	other := model.NewJobExecution(instance.ID, "ledger-import", model.NewJobParameters())
	assert.Error(t, repo.UpdateJobExecution(context.Background(), other))
}

func TestFindLatestJobExecution(t *testing.T) {
	repo := NewInMemoryJobRepository()
	instance := newInstance(t, repo, "ledger-import")

	first := model.NewJobExecution(instance.ID, "ledger-import", model.NewJobParameters())
	first.CreateTime = time.Now().Add(-time.Hour)
	require.NoError(t, repo.SaveJobExecution(context.Background(), first))

	second := model.NewJobExecution(instance.ID, "ledger-import", model.NewJobParameters())
	require.NoError(t, repo.SaveJobExecution(context.Background(), second))

	latest, err := repo.FindLatestJobExecution(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	all, err := repo.FindJobExecutionsByJobInstance(context.Background(), instance.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
	assert.Equal(t, first.ID, all[1].ID)

	_, err = repo.FindLatestJobExecution(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrJobExecutionNotFound)
}

func TestStepExecutionLifecycle(t *testing.T) {
	repo := NewInMemoryJobRepository()
	instance := newInstance(t, repo, "ledger-import")
	je := model.NewJobExecution(instance.ID, "ledger-import", model.NewJobParameters())
	require.NoError(t, repo.SaveJobExecution(context.Background(), je))

	early := model.NewStepExecution(model.NewID(), je, "import")
	early.StartTime = time.Now().Add(-time.Minute)
	late := model.NewStepExecution(model.NewID(), je, "export")
	require.NoError(t, repo.SaveStepExecution(context.Background(), early))
	require.NoError(t, repo.SaveStepExecution(context.Background(), late))

	early.MarkAsStarted()
	early.ReadCount = 7
	require.NoError(t, repo.UpdateStepExecution(context.Background(), early))

	found, err := repo.FindStepExecutionByID(context.Background(), early.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, found.ReadCount)

	steps, err := repo.FindStepExecutionsByJobExecutionID(context.Background(), je.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "import", steps[0].StepName)
	assert.Equal(t, "export", steps[1].StepName)

	_, err = repo.FindStepExecutionByID(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrStepExecutionNotFound)
}

func TestCheckpointDataRoundTrip(t *testing.T) {
	repo := NewInMemoryJobRepository()
	ec := model.NewExecutionContext()
	ec.Put("reader.readCount", 40)

	data := &model.CheckpointData{StepExecutionID: "step-1", ExecutionContext: ec}
	require.NoError(t, repo.SaveCheckpointData(context.Background(), data))

	// The stored snapshot is a copy; later mutation of the source does not
	// leak into it.
	ec.Put("reader.readCount", 99)

	found, err := repo.FindCheckpointData(context.Background(), "step-1")
	require.NoError(t, err)
	count, _ := found.ExecutionContext.GetInt("reader.readCount")
	assert.Equal(t, 40, count)
	assert.False(t, found.LastUpdated.IsZero())

	require.NoError(t, repo.DeleteCheckpointData(context.Background(), "step-1"))
	_, err = repo.FindCheckpointData(context.Background(), "step-1")
	assert.ErrorIs(t, err, repository.ErrCheckpointDataNotFound)

	assert.NoError(t, repo.DeleteCheckpointData(context.Background(), "never-saved"))
	assert.NoError(t, repo.Close())
}
