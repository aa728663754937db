package test

import (
	"github.com/marloq/riptide/pkg/batch/core/model"
)

// NewJobExecution builds a persisted-looking job execution with a fresh
// instance behind it.
func NewJobExecution(jobName string) *model.JobExecution {
	params := model.NewJobParameters()
	instance := model.NewJobInstance(jobName, params)
	return model.NewJobExecution(instance.ID, jobName, params)
}

// NewStepExecution builds a step execution attached to a fresh job execution.
func NewStepExecution(jobName, stepName string) *model.StepExecution {
	je := NewJobExecution(jobName)
	se := model.NewStepExecution(model.NewID(), je, stepName)
	je.AddStepExecution(se)
	return se
}
