// Package decision provides flow decision elements: routing points that pick
// the next transition from job state without doing any work themselves.
package decision

import (
	"context"
	"fmt"

	"github.com/marloq/riptide/pkg/batch/core/model"
	"github.com/marloq/riptide/pkg/batch/core/port"
	"github.com/marloq/riptide/pkg/batch/support/logger"
)

// Func adapts a plain function to the Decision interface.
type Func struct {
	id string
	fn func(ctx context.Context, jobExecution *model.JobExecution) (model.ExitStatus, error)
}

var _ port.Decision = (*Func)(nil)

func NewFunc(id string, fn func(ctx context.Context, jobExecution *model.JobExecution) (model.ExitStatus, error)) *Func {
	return &Func{id: id, fn: fn}
}

func (d *Func) ID() string { return d.id }

func (d *Func) Decide(ctx context.Context, jobExecution *model.JobExecution) (model.ExitStatus, error) {
	return d.fn(ctx, jobExecution)
}

// Conditional routes on a job execution context value. When the value under
// ConditionKey equals ExpectedValue the decision returns COMPLETED, otherwise
// the configured default. A missing key also yields the default.
type Conditional struct {
	id            string
	conditionKey  string
	expectedValue string
	defaultStatus model.ExitStatus
}

var _ port.Decision = (*Conditional)(nil)

func NewConditional(id, conditionKey, expectedValue string, defaultStatus model.ExitStatus) *Conditional {
	if defaultStatus == "" {
		defaultStatus = model.ExitStatusFailed
	}
	return &Conditional{
		id:            id,
		conditionKey:  conditionKey,
		expectedValue: expectedValue,
		defaultStatus: defaultStatus,
	}
}

func (d *Conditional) ID() string { return d.id }

func (d *Conditional) Decide(ctx context.Context, jobExecution *model.JobExecution) (model.ExitStatus, error) {
	if err := ctx.Err(); err != nil {
		return model.ExitStatusFailed, err
	}
	actual, ok := jobExecution.ExecutionContext.Get(d.conditionKey)
	if !ok {
		logger.Warnf("decision '%s': key '%s' not found in job context, returning default status '%s'", d.id, d.conditionKey, d.defaultStatus)
		return d.defaultStatus, nil
	}
	if fmt.Sprintf("%v", actual) == d.expectedValue {
		logger.Debugf("decision '%s': condition matched ('%s' == '%s')", d.id, d.conditionKey, d.expectedValue)
		return model.ExitStatusCompleted, nil
	}
	logger.Debugf("decision '%s': condition did not match, returning default status '%s'", d.id, d.defaultStatus)
	return d.defaultStatus, nil
}
