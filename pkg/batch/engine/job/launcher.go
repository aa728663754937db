package job

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/marloq/riptide/pkg/batch/core/model"
	"github.com/marloq/riptide/pkg/batch/core/port"
	"github.com/marloq/riptide/pkg/batch/core/repository"
	"github.com/marloq/riptide/pkg/batch/support/exception"
	"github.com/marloq/riptide/pkg/batch/support/logger"
)

const launcherModule = "job_launcher"

// Launcher owns the launch and restart protocol: parameter validation,
// JobInstance resolution, the single-running-execution guard, and restart
// bookkeeping. Runs are synchronous; Stop cancels a running execution from
// another goroutine.
type Launcher struct {
	repo repository.JobRepository

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewLauncher creates a Launcher backed by the given repository.
func NewLauncher(repo repository.JobRepository) *Launcher {
	return &Launcher{
		repo:    repo,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Launch runs the job with the given parameters and blocks until it
// finishes. Identical job name and parameters map to the same JobInstance:
// a finished-but-not-COMPLETED latest execution triggers a restart, a
// running one is rejected, and a COMPLETED one is rejected unless the
// parameters are first changed (typically via the job's incrementer).
//
// The returned JobExecution carries the terminal state even when an error
// is returned. Parameter validation failures return before any execution
// state is created, with a nil execution.
func (l *Launcher) Launch(ctx context.Context, job port.Job, params model.JobParameters) (*model.JobExecution, error) {
	if err := job.ValidateParameters(params); err != nil {
		return nil, err
	}

	jobExecution, err := l.prepareExecution(ctx, job, params)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	jobExecution.CancelFunc = cancel
	l.register(jobExecution.ID, cancel)
	defer l.unregister(jobExecution.ID)

	logger.Infof("Launching job '%s' (execution %s, restart count %d).",
		job.JobName(), jobExecution.ID, jobExecution.RestartCount)

	runErr := job.Run(runCtx, jobExecution)
	return jobExecution, runErr
}

// Stop requests a graceful stop of the execution with the given ID. The job
// finishes the in-flight chunk, keeps everything committed so far, and ends
// STOPPED. Returns false when no such execution is running in this process.
func (l *Launcher) Stop(executionID string) bool {
	l.mu.Lock()
	cancel, ok := l.cancels[executionID]
	l.mu.Unlock()
	if !ok {
		return false
	}
	logger.Infof("Stop requested for JobExecution %s.", executionID)
	cancel()
	return true
}

// prepareExecution resolves the JobInstance and creates the JobExecution,
// applying the restart protocol when the instance has run before.
func (l *Launcher) prepareExecution(ctx context.Context, job port.Job, params model.JobParameters) (*model.JobExecution, error) {
	instance, err := l.repo.FindJobInstanceByJobNameAndParameters(ctx, job.JobName(), params)
	if err != nil {
		if !errors.Is(err, repository.ErrJobInstanceNotFound) {
			return nil, exception.NewBatchError(launcherModule, "failed to look up JobInstance", err, "")
		}
		instance = model.NewJobInstance(job.JobName(), params)
		if err := l.repo.SaveJobInstance(ctx, instance); err != nil {
			return nil, exception.NewBatchError(launcherModule, "failed to persist JobInstance", err, "")
		}
		return l.newExecution(ctx, instance, job.JobName(), params)
	}

	latest, err := l.repo.FindLatestJobExecution(ctx, instance.ID)
	if err != nil {
		if !errors.Is(err, repository.ErrJobExecutionNotFound) {
			return nil, exception.NewBatchError(launcherModule, "failed to look up latest JobExecution", err, "")
		}
		return l.newExecution(ctx, instance, job.JobName(), params)
	}

	if !latest.Status.IsFinished() {
		return nil, exception.NewBatchError(launcherModule,
			fmt.Sprintf("job '%s' already has a running execution (%s, status %s)", job.JobName(), latest.ID, latest.Status),
			exception.ErrJobAlreadyRunning, exception.ClassConcurrency)
	}
	if latest.Status == model.BatchStatusCompleted {
		return nil, exception.NewBatchError(launcherModule,
			fmt.Sprintf("job '%s' completed successfully; change the parameters to run it again", job.JobName()),
			exception.ErrRestartNotAllowed, "")
	}

	return l.restartExecution(ctx, instance, job.JobName(), params, latest)
}

// newExecution creates and persists a fresh first execution of the instance.
func (l *Launcher) newExecution(ctx context.Context, instance *model.JobInstance, jobName string, params model.JobParameters) (*model.JobExecution, error) {
	jobExecution := model.NewJobExecution(instance.ID, jobName, params)
	if err := l.repo.SaveJobExecution(ctx, jobExecution); err != nil {
		return nil, exception.NewBatchError(launcherModule, "failed to persist JobExecution", err, "")
	}
	return jobExecution, nil
}

// restartExecution abandons the superseded execution and creates a new one
// carrying the previous attempt's execution contexts and step executions so
// completed steps are passed over and interrupted ones resume from their
// last checkpoint.
func (l *Launcher) restartExecution(ctx context.Context, instance *model.JobInstance, jobName string, params model.JobParameters, latest *model.JobExecution) (*model.JobExecution, error) {
	logger.Infof("Restarting job '%s': previous execution %s ended with status %s.", jobName, latest.ID, latest.Status)

	steps, err := l.repo.FindStepExecutionsByJobExecutionID(ctx, latest.ID)
	if err != nil && !errors.Is(err, repository.ErrStepExecutionNotFound) {
		return nil, exception.NewBatchError(launcherModule, "failed to load previous StepExecutions", err, "")
	}

	jobExecution := model.NewJobExecution(instance.ID, jobName, params)
	jobExecution.RestartCount = latest.RestartCount + 1
	jobExecution.Status = model.BatchStatusRestarting
	jobExecution.ExecutionContext.MergeFrom(latest.ExecutionContext)
	if err := l.repo.SaveJobExecution(ctx, jobExecution); err != nil {
		return nil, exception.NewBatchError(launcherModule, "failed to persist restarted JobExecution", err, "")
	}

	for _, prev := range steps {
		carried := prev.CopyForRestart(jobExecution.ID)
		carried.JobExecution = jobExecution
		jobExecution.AddStepExecution(carried)
		if err := l.repo.SaveStepExecution(ctx, carried); err != nil {
			return nil, exception.NewBatchError(launcherModule, "failed to persist carried StepExecution", err, "")
		}
	}

	latest.MarkAsAbandoned()
	if err := l.repo.UpdateJobExecution(ctx, latest); err != nil {
		logger.Warnf("Failed to mark superseded JobExecution %s as ABANDONED: %v", latest.ID, err)
	}

	return jobExecution, nil
}

func (l *Launcher) register(executionID string, cancel context.CancelFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancels[executionID] = cancel
}

func (l *Launcher) unregister(executionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cancels, executionID)
}
