// Package tasklet implements single-shot steps: one Tasklet invocation, one
// step execution. Migrations and cleanup tasks run this way instead of
// through the chunk engine.
package tasklet

import (
	"context"
	"errors"
	"time"

	"github.com/marloq/riptide/pkg/batch/core/metrics"
	"github.com/marloq/riptide/pkg/batch/core/model"
	"github.com/marloq/riptide/pkg/batch/core/port"
	"github.com/marloq/riptide/pkg/batch/core/repository"
	"github.com/marloq/riptide/pkg/batch/support/logger"
)

// Tasklet is a unit of work executed once per step execution.
type Tasklet interface {
	Execute(ctx context.Context, stepExecution *model.StepExecution) (model.ExitStatus, error)
}

// Func adapts a function to the Tasklet interface.
type Func func(ctx context.Context, stepExecution *model.StepExecution) (model.ExitStatus, error)

func (f Func) Execute(ctx context.Context, stepExecution *model.StepExecution) (model.ExitStatus, error) {
	return f(ctx, stepExecution)
}

// StepConfig configures a tasklet Step.
type StepConfig struct {
	// ID is the step name, unique within the job.
	ID string
	// Tasklet is the unit of work. Required.
	Tasklet Tasklet
	// Repository persists execution metadata.
	Repository repository.JobRepository
	// AllowStartIfComplete re-runs the tasklet on restart even when a
	// previous execution completed.
	AllowStartIfComplete bool
	// StepListeners observe the step lifecycle, in registration order.
	StepListeners []port.StepListener
	// Promotion copies step context keys to the job context after execution.
	Promotion *model.ContextPromotion
	// Recorder and Tracer are optional; nil means no-op.
	Recorder metrics.MetricRecorder
	Tracer   metrics.Tracer
}

// Step runs a Tasklet once. It implements port.Step.
type Step struct {
	cfg StepConfig
}

var (
	_ port.Step            = (*Step)(nil)
	_ port.ContextPromoter = (*Step)(nil)
	_ port.Restartable     = (*Step)(nil)
)

// NewStep creates a tasklet Step from the given configuration.
func NewStep(cfg StepConfig) *Step {
	if cfg.Recorder == nil {
		cfg.Recorder = metrics.NewNoopRecorder()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = metrics.NewNoopTracer()
	}
	return &Step{cfg: cfg}
}

// ID returns the step name.
func (s *Step) ID() string {
	return s.cfg.ID
}

// ContextPromotion implements port.ContextPromoter.
func (s *Step) ContextPromotion() *model.ContextPromotion {
	return s.cfg.Promotion
}

// AllowStartIfComplete implements port.Restartable.
func (s *Step) AllowStartIfComplete() bool {
	return s.cfg.AllowStartIfComplete
}

// Execute runs the tasklet and records the outcome on the step execution.
func (s *Step) Execute(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution) error {
	if stepExecution.Status == model.BatchStatusCompleted && !s.cfg.AllowStartIfComplete {
		logger.Infof("Step '%s' completed in a previous execution. Passing over.", s.cfg.ID)
		return nil
	}

	ctx, endSpan := s.cfg.Tracer.StartStepSpan(ctx, stepExecution)
	defer endSpan()
	s.cfg.Recorder.RecordStepStart(ctx, stepExecution)

	for _, l := range s.cfg.StepListeners {
		if err := port.Notify(l, "BeforeStep", func() { l.BeforeStep(ctx, stepExecution) }); err != nil {
			stepExecution.MarkAsFailed(err)
			s.persist(ctx, stepExecution)
			return err
		}
	}

	stepExecution.MarkAsStarted()
	if err := s.persist(ctx, stepExecution); err != nil {
		return err
	}

	start := time.Now()
	exitStatus, taskErr := s.cfg.Tasklet.Execute(ctx, stepExecution)
	s.cfg.Recorder.RecordDuration(ctx, "tasklet."+s.cfg.ID, time.Since(start), nil)

	switch {
	case taskErr != nil && (errors.Is(taskErr, context.Canceled) || errors.Is(taskErr, context.DeadlineExceeded)):
		stepExecution.MarkAsStopped()
	case taskErr != nil:
		s.cfg.Tracer.RecordError(ctx, s.cfg.ID, taskErr)
		stepExecution.MarkAsFailed(taskErr)
	default:
		stepExecution.MarkAsCompleted()
		if exitStatus != "" {
			stepExecution.ExitStatus = exitStatus
		}
	}

	for _, l := range s.cfg.StepListeners {
		if err := port.Notify(l, "AfterStep", func() { l.AfterStep(ctx, stepExecution) }); err != nil && taskErr == nil {
			taskErr = err
			stepExecution.MarkAsFailed(err)
		}
	}
	s.cfg.Recorder.RecordStepEnd(ctx, stepExecution)

	if err := s.persist(ctx, stepExecution); err != nil && taskErr == nil {
		return err
	}
	return taskErr
}

func (s *Step) persist(ctx context.Context, stepExecution *model.StepExecution) error {
	if s.cfg.Repository == nil {
		return nil
	}
	if err := s.cfg.Repository.UpdateStepExecution(ctx, stepExecution); err != nil {
		logger.Errorf("Step '%s': failed to persist StepExecution: %v", s.cfg.ID, err)
		return err
	}
	return nil
}
