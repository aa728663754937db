// Package job implements the job execution coordinator: the flow-driven job
// that sequences steps and decisions, and the launcher that owns the
// launch/restart protocol.
package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/marloq/riptide/pkg/batch/core/metrics"
	"github.com/marloq/riptide/pkg/batch/core/model"
	"github.com/marloq/riptide/pkg/batch/core/port"
	"github.com/marloq/riptide/pkg/batch/core/repository"
	"github.com/marloq/riptide/pkg/batch/support/exception"
	"github.com/marloq/riptide/pkg/batch/support/logger"
)

// ParametersValidator validates launch parameters before any execution state
// is created.
type ParametersValidator func(params model.JobParameters) error

// FlowConfig configures a FlowJob.
type FlowConfig struct {
	// ID is the unique job identifier.
	ID string
	// Name is the job name; together with the parameters it identifies the
	// job instance. Defaults to ID.
	Name string
	// Flow is the flow definition driving the step sequence.
	Flow *model.FlowDefinition
	// Repository persists execution metadata.
	Repository repository.JobRepository
	// Validator validates launch parameters. Nil accepts everything.
	Validator ParametersValidator
	// JobListeners observe the job lifecycle, in registration order.
	JobListeners []port.JobListener
	// Incrementer derives parameters for the next logical run. Optional.
	Incrementer port.JobParametersIncrementer
	// Recorder and Tracer are optional; nil means no-op.
	Recorder metrics.MetricRecorder
	Tracer   metrics.Tracer
}

// FlowJob is the flow-driven implementation of port.Job. It walks the flow
// definition from the start element, dispatching transitions on each
// element's exit status until an End, Fail, or Stop directive or a dead end.
type FlowJob struct {
	cfg FlowConfig
}

var _ port.Job = (*FlowJob)(nil)

// NewFlowJob creates a FlowJob from the given configuration.
func NewFlowJob(cfg FlowConfig) *FlowJob {
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	if cfg.Recorder == nil {
		cfg.Recorder = metrics.NewNoopRecorder()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = metrics.NewNoopTracer()
	}
	return &FlowJob{cfg: cfg}
}

// ID returns the job identifier.
func (j *FlowJob) ID() string {
	return j.cfg.ID
}

// JobName returns the job name.
func (j *FlowJob) JobName() string {
	return j.cfg.Name
}

// Flow returns the flow definition.
func (j *FlowJob) Flow() *model.FlowDefinition {
	return j.cfg.Flow
}

// Incrementer returns the configured parameters incrementer, or nil.
func (j *FlowJob) Incrementer() port.JobParametersIncrementer {
	return j.cfg.Incrementer
}

// ValidateParameters implements port.Job.
func (j *FlowJob) ValidateParameters(params model.JobParameters) error {
	if j.cfg.Validator == nil {
		return nil
	}
	if err := j.cfg.Validator(params); err != nil {
		return exception.NewBatchError(j.cfg.ID, "job parameters rejected", err, exception.ClassValidation)
	}
	return nil
}

// Run executes the flow until a terminal status is reached. Cancellation of
// ctx stops the job after the in-flight chunk; the execution ends STOPPED,
// not FAILED.
func (j *FlowJob) Run(ctx context.Context, jobExecution *model.JobExecution) error {
	ctx, endSpan := j.cfg.Tracer.StartJobSpan(ctx, jobExecution)
	defer endSpan()
	j.cfg.Recorder.RecordJobStart(ctx, jobExecution)

	for _, l := range j.cfg.JobListeners {
		if err := port.Notify(l, "BeforeJob", func() { l.BeforeJob(ctx, jobExecution) }); err != nil {
			jobExecution.MarkAsFailed(err)
			if perr := j.cfg.Repository.UpdateJobExecution(ctx, jobExecution); perr != nil {
				logger.Errorf("Job '%s': failed to persist JobExecution failure: %v", j.cfg.ID, perr)
			}
			return err
		}
	}

	jobExecution.MarkAsStarted()
	if err := j.cfg.Repository.UpdateJobExecution(ctx, jobExecution); err != nil {
		return exception.NewBatchError(j.cfg.ID, "failed to persist JobExecution start", err, "")
	}

	jobErr := j.walkFlow(ctx, jobExecution)

	for _, l := range j.cfg.JobListeners {
		if err := port.Notify(l, "AfterJob", func() { l.AfterJob(ctx, jobExecution) }); err != nil && jobErr == nil {
			jobErr = err
			jobExecution.MarkAsFailed(err)
		}
	}
	j.cfg.Recorder.RecordJobEnd(ctx, jobExecution)

	if err := j.cfg.Repository.UpdateJobExecution(ctx, jobExecution); err != nil {
		logger.Errorf("Job '%s': failed to persist final JobExecution state: %v", j.cfg.ID, err)
		if jobErr == nil {
			jobErr = exception.NewBatchError(j.cfg.ID, "failed to persist final JobExecution state", err, "")
		}
	}

	logger.Infof("Job '%s' (execution %s) finished with status %s / exit status %s.",
		j.cfg.Name, jobExecution.ID, jobExecution.Status, jobExecution.ExitStatus)
	return jobErr
}

// walkFlow drives the flow element by element until a terminal directive.
func (j *FlowJob) walkFlow(ctx context.Context, jobExecution *model.JobExecution) error {
	if j.cfg.Flow == nil || j.cfg.Flow.StartElement == "" {
		err := fmt.Errorf("job '%s' has no flow definition", j.cfg.ID)
		jobExecution.MarkAsFailed(err)
		return err
	}

	current := j.cfg.Flow.StartElement
	var lastErr error

	for {
		if ctx.Err() != nil {
			jobExecution.MarkAsStopped()
			return nil
		}

		element, ok := j.cfg.Flow.Elements[current]
		if !ok {
			err := fmt.Errorf("flow element '%s' is not defined in job '%s'", current, j.cfg.ID)
			jobExecution.MarkAsFailed(err)
			return err
		}

		var exitStatus model.ExitStatus
		switch el := element.(type) {
		case port.Step:
			var stepErr error
			exitStatus, stepErr = j.runStep(ctx, jobExecution, el)
			if stepErr != nil {
				if errors.Is(stepErr, context.Canceled) || errors.Is(stepErr, context.DeadlineExceeded) {
					jobExecution.MarkAsStopped()
					return nil
				}
				jobExecution.AddFailureException(stepErr)
				lastErr = stepErr
				// A failing step does not end the job by itself: the flow
				// may route FAILED to a recovery path.
			}
		case port.Decision:
			var decideErr error
			exitStatus, decideErr = el.Decide(ctx, jobExecution)
			if decideErr != nil {
				err := exception.NewBatchError(j.cfg.ID, fmt.Sprintf("decision '%s' failed", el.ID()), decideErr, "")
				jobExecution.MarkAsFailed(err)
				return err
			}
		default:
			err := fmt.Errorf("flow element '%s' in job '%s' has unsupported type %T", current, j.cfg.ID, element)
			jobExecution.MarkAsFailed(err)
			return err
		}

		rule, ok := j.cfg.Flow.GetTransitionRule(current, exitStatus)
		if !ok {
			if exitStatus == model.ExitStatusCompleted {
				// Last element with no outgoing rule: the flow ends here.
				jobExecution.MarkAsCompleted()
				return nil
			}
			err := fmt.Errorf("no transition from element '%s' on exit status '%s' in job '%s'", current, exitStatus, j.cfg.ID)
			jobExecution.MarkAsFailed(err)
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		switch {
		case rule.Transition.End:
			jobExecution.MarkAsCompleted()
			return nil
		case rule.Transition.Fail:
			failure := lastErr
			if failure == nil {
				failure = fmt.Errorf("flow directed job '%s' to fail from element '%s' on '%s'", j.cfg.ID, current, exitStatus)
			}
			jobExecution.MarkAsFailed(failure)
			return failure
		case rule.Transition.Stop:
			jobExecution.MarkAsStopped()
			return nil
		default:
			current = rule.Transition.To
		}
	}
}

// runStep executes one step element, reusing the restart copy of its
// execution when one was carried over and honoring pass-over of completed
// steps.
func (j *FlowJob) runStep(ctx context.Context, jobExecution *model.JobExecution, step port.Step) (model.ExitStatus, error) {
	stepExecution, carried := jobExecution.FindStepExecution(step.ID())

	if carried && stepExecution.Status == model.BatchStatusCompleted {
		allowRestart := false
		if r, ok := step.(port.Restartable); ok {
			allowRestart = r.AllowStartIfComplete()
		}
		if !allowRestart {
			logger.Infof("Job '%s': step '%s' completed in a previous execution. Passing over.", j.cfg.Name, step.ID())
			return stepExecution.ExitStatus, nil
		}
	}

	if !carried {
		stepExecution = model.NewStepExecution(model.NewID(), jobExecution, step.ID())
		jobExecution.AddStepExecution(stepExecution)
		if err := j.cfg.Repository.SaveStepExecution(ctx, stepExecution); err != nil {
			return model.ExitStatusFailed, exception.NewBatchError(j.cfg.ID, "failed to persist StepExecution", err, "")
		}
	}

	jobExecution.CurrentStepName = step.ID()
	if err := j.cfg.Repository.UpdateJobExecution(ctx, jobExecution); err != nil {
		logger.Warnf("Job '%s': failed to persist current step name: %v", j.cfg.Name, err)
	}

	stepErr := step.Execute(ctx, jobExecution, stepExecution)

	if promoter, ok := step.(port.ContextPromoter); ok {
		promoter.ContextPromotion().Apply(stepExecution.ExecutionContext, jobExecution.ExecutionContext)
	}

	return stepExecution.ExitStatus, stepErr
}
