package model_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marloq/riptide/pkg/batch/core/model"
)

func newTestJobExecution(status model.BatchStatus) *model.JobExecution {
	je := model.NewJobExecution(model.NewID(), "testJob", model.NewJobParameters())
	je.Status = status
	return je
}

func newTestStepExecution(status model.BatchStatus) *model.StepExecution {
	je := newTestJobExecution(model.BatchStatusStarted)
	se := model.NewStepExecution(model.NewID(), je, "testStep")
	se.Status = status
	return se
}

func TestJobExecutionTransitions(t *testing.T) {
	je := newTestJobExecution(model.BatchStatusStarting)
	assert.NoError(t, je.TransitionTo(model.BatchStatusStarted))
	assert.Equal(t, model.BatchStatusStarted, je.Status)

	je = newTestJobExecution(model.BatchStatusStarted)
	assert.NoError(t, je.TransitionTo(model.BatchStatusCompleted))

	je = newTestJobExecution(model.BatchStatusStopped)
	assert.NoError(t, je.TransitionTo(model.BatchStatusRestarting))

	je = newTestJobExecution(model.BatchStatusFailed)
	assert.NoError(t, je.TransitionTo(model.BatchStatusRestarting))

	je = newTestJobExecution(model.BatchStatusRestarting)
	assert.NoError(t, je.TransitionTo(model.BatchStatusStarted))

	// Terminal states reject everything.
	je = newTestJobExecution(model.BatchStatusCompleted)
	assert.Error(t, je.TransitionTo(model.BatchStatusStarted))
	je = newTestJobExecution(model.BatchStatusAbandoned)
	assert.Error(t, je.TransitionTo(model.BatchStatusRestarting))

	je = newTestJobExecution(model.BatchStatusStarting)
	assert.Error(t, je.TransitionTo(model.BatchStatusCompleted))
}

func TestJobExecutionMarkers(t *testing.T) {
	je := newTestJobExecution(model.BatchStatusStarting)
	je.MarkAsStarted()
	assert.Equal(t, model.BatchStatusStarted, je.Status)
	assert.Nil(t, je.EndTime)

	je.MarkAsCompleted()
	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	assert.Equal(t, model.ExitStatusCompleted, je.ExitStatus)
	require.NotNil(t, je.EndTime)

	je = newTestJobExecution(model.BatchStatusStarted)
	je.MarkAsFailed(errors.New("boom"))
	assert.Equal(t, model.BatchStatusFailed, je.Status)
	assert.Equal(t, model.ExitStatusFailed, je.ExitStatus)
	assert.Len(t, je.Failures, 1)

	// Duplicate failures are dropped.
	je.AddFailureException(errors.New("boom"))
	assert.Len(t, je.Failures, 1)
}

func TestStepExecutionTransitions(t *testing.T) {
	se := newTestStepExecution(model.BatchStatusStarting)
	assert.NoError(t, se.TransitionTo(model.BatchStatusStarted))
	assert.NoError(t, se.TransitionTo(model.BatchStatusCompleted))
	assert.Error(t, se.TransitionTo(model.BatchStatusStarted))

	se = newTestStepExecution(model.BatchStatusStarted)
	assert.NoError(t, se.TransitionTo(model.BatchStatusStopped))
}

func TestStepExecutionTotalSkipCount(t *testing.T) {
	se := newTestStepExecution(model.BatchStatusStarted)
	se.SkipReadCount = 1
	se.SkipProcessCount = 2
	se.SkipWriteCount = 3
	assert.Equal(t, 6, se.TotalSkipCount())
}

func TestCopyForRestartCompletedStepKeepsState(t *testing.T) {
	se := newTestStepExecution(model.BatchStatusStarted)
	se.ReadCount = 42
	se.WriteCount = 40
	se.CommitCount = 5
	se.ExecutionContext.Put("reader.readCount", 42)
	se.MarkAsCompleted()

	copied := se.CopyForRestart("new-exec-id")
	assert.NotEqual(t, se.ID, copied.ID)
	assert.Equal(t, "new-exec-id", copied.JobExecutionID)
	assert.Equal(t, model.BatchStatusCompleted, copied.Status)
	assert.Equal(t, model.ExitStatusCompleted, copied.ExitStatus)
	assert.Equal(t, 42, copied.ReadCount)
	assert.Equal(t, 40, copied.WriteCount)

	count, ok := copied.ExecutionContext.GetInt("reader.readCount")
	require.True(t, ok)
	assert.Equal(t, 42, count)
}

func TestCopyForRestartFailedStepResets(t *testing.T) {
	se := newTestStepExecution(model.BatchStatusStarted)
	se.ReadCount = 10
	se.ExecutionContext.Put("reader.readCount", 10)
	se.MarkAsFailed(errors.New("write failed"))

	copied := se.CopyForRestart("new-exec-id")
	assert.Equal(t, model.BatchStatusStarting, copied.Status)
	assert.Equal(t, model.ExitStatusUnknown, copied.ExitStatus)
	assert.Zero(t, copied.ReadCount)
	assert.Empty(t, copied.Failures)

	// The checkpoint position survives the reset.
	count, ok := copied.ExecutionContext.GetInt("reader.readCount")
	require.True(t, ok)
	assert.Equal(t, 10, count)
}

func TestBatchStatusIsFinished(t *testing.T) {
	assert.True(t, model.BatchStatusCompleted.IsFinished())
	assert.True(t, model.BatchStatusFailed.IsFinished())
	assert.True(t, model.BatchStatusStopped.IsFinished())
	assert.True(t, model.BatchStatusAbandoned.IsFinished())
	assert.False(t, model.BatchStatusStarted.IsFinished())
	assert.False(t, model.BatchStatusRestarting.IsFinished())
}

func TestFindStepExecution(t *testing.T) {
	je := newTestJobExecution(model.BatchStatusStarted)
	se := model.NewStepExecution(model.NewID(), je, "stepA")
	je.AddStepExecution(se)

	found, ok := je.FindStepExecution("stepA")
	require.True(t, ok)
	assert.Equal(t, se.ID, found.ID)

	_, ok = je.FindStepExecution("stepB")
	assert.False(t, ok)
}
