// Package partition implements partitioned step execution: a controller step
// splits its input into named partitions, runs a worker step per partition
// under a bounded worker pool, and aggregates the results.
package partition

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/marloq/riptide/pkg/batch/core/metrics"
	"github.com/marloq/riptide/pkg/batch/core/model"
	"github.com/marloq/riptide/pkg/batch/core/port"
	"github.com/marloq/riptide/pkg/batch/core/repository"
	"github.com/marloq/riptide/pkg/batch/support/exception"
	"github.com/marloq/riptide/pkg/batch/support/logger"
)

// WorkerFactory builds a fresh worker step for one partition. Each partition
// gets its own step instance so readers and writers are never shared across
// goroutines.
type WorkerFactory func(partitionName string) (port.Step, error)

// StepConfig configures a partitioned controller Step.
type StepConfig struct {
	// ID is the controller step identifier within its flow.
	ID string
	// Partitioner splits the input into named partitions.
	Partitioner port.Partitioner
	// Workers builds the worker step for each partition.
	Workers WorkerFactory
	// GridSize is the requested number of partitions.
	GridSize int
	// Throttle bounds the number of partitions running concurrently.
	// Zero or negative runs all partitions at once.
	Throttle int
	// Repository persists execution metadata.
	Repository repository.JobRepository
	// StepListeners observe the controller step, in registration order.
	StepListeners []port.StepListener
	// Recorder and Tracer are optional; nil means no-op.
	Recorder metrics.MetricRecorder
	Tracer   metrics.Tracer
}

// Step is the partitioned controller implementation of port.Step.
type Step struct {
	cfg StepConfig
}

var _ port.Step = (*Step)(nil)

// NewStep creates a partitioned controller Step.
func NewStep(cfg StepConfig) *Step {
	if cfg.GridSize <= 0 {
		cfg.GridSize = 1
	}
	if cfg.Recorder == nil {
		cfg.Recorder = metrics.NewNoopRecorder()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = metrics.NewNoopTracer()
	}
	return &Step{cfg: cfg}
}

// ID returns the controller step identifier.
func (s *Step) ID() string {
	return s.cfg.ID
}

// WorkerStepName returns the step name a worker execution is stored under.
func (s *Step) WorkerStepName(partitionName string) string {
	return s.cfg.ID + ":" + partitionName
}

// Execute partitions the input and runs one worker step execution per
// partition under the configured throttle. The controller fails when any
// partition fails, stops when any partition stopped and none failed, and
// completes otherwise. On restart, partitions whose worker execution
// completed are not run again.
func (s *Step) Execute(ctx context.Context, jobExecution *model.JobExecution, controllerExecution *model.StepExecution) error {
	logger.Infof("Partitioned step '%s' executing (gridSize=%d, throttle=%d).", s.cfg.ID, s.cfg.GridSize, s.cfg.Throttle)

	ctx, endSpan := s.cfg.Tracer.StartStepSpan(ctx, controllerExecution)
	defer endSpan()
	s.cfg.Recorder.RecordStepStart(ctx, controllerExecution)

	for _, l := range s.cfg.StepListeners {
		if err := port.Notify(l, "BeforeStep", func() { l.BeforeStep(ctx, controllerExecution) }); err != nil {
			controllerExecution.MarkAsFailed(err)
			if perr := s.cfg.Repository.UpdateStepExecution(ctx, controllerExecution); perr != nil {
				logger.Errorf("Partitioned step '%s': failed to persist controller failure: %v", s.cfg.ID, perr)
			}
			return err
		}
	}

	controllerExecution.MarkAsStarted()
	if err := s.cfg.Repository.UpdateStepExecution(ctx, controllerExecution); err != nil {
		return exception.NewBatchError(s.cfg.ID, "failed to persist controller StepExecution start", err, "")
	}

	workerExecs, runErr := s.runPartitions(ctx, jobExecution, controllerExecution)

	status := s.aggregate(ctx, controllerExecution, workerExecs, runErr)

	for _, l := range s.cfg.StepListeners {
		if err := port.Notify(l, "AfterStep", func() { l.AfterStep(ctx, controllerExecution) }); err != nil && runErr == nil {
			runErr = err
			status = model.BatchStatusFailed
			controllerExecution.MarkAsFailed(err)
		}
	}
	s.cfg.Recorder.RecordStepEnd(ctx, controllerExecution)

	if err := s.cfg.Repository.UpdateStepExecution(ctx, controllerExecution); err != nil {
		logger.Errorf("Partitioned step '%s': failed to persist final controller state: %v", s.cfg.ID, err)
	}

	logger.Infof("Partitioned step '%s' finished with exit status %s.", s.cfg.ID, controllerExecution.ExitStatus)

	if status == model.BatchStatusFailed {
		return runErr
	}
	return nil
}

// runPartitions launches one worker per partition, bounded by the throttle,
// and returns the finished worker executions.
func (s *Step) runPartitions(ctx context.Context, jobExecution *model.JobExecution, controllerExecution *model.StepExecution) ([]*model.StepExecution, error) {
	partitions, err := s.cfg.Partitioner.Partition(ctx, s.cfg.GridSize)
	if err != nil {
		return nil, exception.NewBatchError(s.cfg.ID, "partitioner failed", err, "")
	}

	// Deterministic launch order keeps logs and tests stable.
	names := make([]string, 0, len(partitions))
	for name := range partitions {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		mu       sync.Mutex
		finished []*model.StepExecution
		combined error
	)

	g, gctx := errgroup.WithContext(ctx)
	if s.cfg.Throttle > 0 {
		g.SetLimit(s.cfg.Throttle)
	}

	for _, name := range names {
		partitionEC := partitions[name]
		workerName := s.WorkerStepName(name)

		// Selective restart: a completed partition from a previous
		// execution is carried over, not re-run.
		if prev, ok := jobExecution.FindStepExecution(workerName); ok && prev.Status == model.BatchStatusCompleted {
			logger.Infof("Partition '%s' already completed in a previous execution. Passing over.", workerName)
			mu.Lock()
			finished = append(finished, prev)
			mu.Unlock()
			continue
		}

		workerExec := model.NewStepExecution(model.NewID(), jobExecution, workerName)
		workerExec.ExecutionContext.MergeFrom(partitionEC)
		if prev, ok := jobExecution.FindStepExecution(workerName); ok {
			// Carry the previous attempt's checkpoint so the worker resumes.
			workerExec.ExecutionContext.MergeFrom(prev.ExecutionContext)
		}
		jobExecution.AddStepExecution(workerExec)
		if err := s.cfg.Repository.SaveStepExecution(ctx, workerExec); err != nil {
			return finished, exception.NewBatchError(s.cfg.ID, "failed to persist worker StepExecution", err, "")
		}

		partitionName := name
		g.Go(func() error {
			worker, err := s.cfg.Workers(partitionName)
			if err != nil {
				werr := exception.NewBatchError(s.cfg.ID, fmt.Sprintf("failed to build worker for partition '%s'", partitionName), err, "")
				workerExec.MarkAsFailed(werr)
				if uerr := s.cfg.Repository.UpdateStepExecution(gctx, workerExec); uerr != nil {
					logger.Errorf("Partitioned step '%s': failed to persist failed worker '%s': %v", s.cfg.ID, partitionName, uerr)
				}
				mu.Lock()
				finished = append(finished, workerExec)
				combined = multierror.Append(combined, werr)
				mu.Unlock()
				return nil
			}

			execErr := worker.Execute(gctx, jobExecution, workerExec)

			mu.Lock()
			defer mu.Unlock()
			finished = append(finished, workerExec)
			if execErr != nil && !isCancellation(execErr) {
				combined = multierror.Append(combined, fmt.Errorf("partition '%s': %w", partitionName, execErr))
			}
			// One failed partition does not cancel its siblings; the
			// controller aggregates after all of them finish.
			return nil
		})
	}

	g.Wait()
	return finished, combined
}

// aggregate folds the worker outcomes into the controller execution and
// returns the controller's final status.
func (s *Step) aggregate(ctx context.Context, controllerExecution *model.StepExecution, workerExecs []*model.StepExecution, runErr error) model.BatchStatus {
	aggregatedEC := model.NewExecutionContext()
	status := model.BatchStatusCompleted

	for _, we := range workerExecs {
		controllerExecution.ReadCount += we.ReadCount
		controllerExecution.WriteCount += we.WriteCount
		controllerExecution.CommitCount += we.CommitCount
		controllerExecution.RollbackCount += we.RollbackCount
		controllerExecution.FilterCount += we.FilterCount
		controllerExecution.SkipReadCount += we.SkipReadCount
		controllerExecution.SkipProcessCount += we.SkipProcessCount
		controllerExecution.SkipWriteCount += we.SkipWriteCount
		controllerExecution.RetryCount += we.RetryCount

		switch we.Status {
		case model.BatchStatusFailed:
			status = model.BatchStatusFailed
		case model.BatchStatusStopped:
			if status != model.BatchStatusFailed {
				status = model.BatchStatusStopped
			}
		}

		for k, v := range we.ExecutionContext {
			aggregatedEC.Put(we.StepName+"."+k, v)
		}
	}
	if runErr != nil {
		status = model.BatchStatusFailed
	}

	controllerExecution.ExecutionContext = aggregatedEC

	switch status {
	case model.BatchStatusFailed:
		failure := runErr
		if failure == nil {
			failure = fmt.Errorf("partitioned step '%s': one or more partitions failed", s.cfg.ID)
		}
		s.cfg.Tracer.RecordError(ctx, s.cfg.ID, failure)
		controllerExecution.MarkAsFailed(failure)
	case model.BatchStatusStopped:
		controllerExecution.MarkAsStopped()
	default:
		controllerExecution.MarkAsCompleted()
	}
	return status
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
