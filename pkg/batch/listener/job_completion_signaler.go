// Package listener provides reusable job lifecycle listeners.
package listener

import (
	"context"

	"github.com/marloq/riptide/pkg/batch/core/model"
	"github.com/marloq/riptide/pkg/batch/core/port"
	"github.com/marloq/riptide/pkg/batch/support/logger"
)

// JobCompletionSignaler is a JobListener that closes a channel when a job
// finishes, signaling completion to external components such as an fx
// application waiting to shut down.
type JobCompletionSignaler struct {
	JobDoneChan chan struct{}
}

// NewJobCompletionSignaler creates a JobCompletionSignaler closing the given
// channel on completion.
func NewJobCompletionSignaler(jobDoneChan chan struct{}) *JobCompletionSignaler {
	return &JobCompletionSignaler{JobDoneChan: jobDoneChan}
}

func (l *JobCompletionSignaler) BeforeJob(ctx context.Context, jobExecution *model.JobExecution) {}

// AfterJob closes JobDoneChan, tolerating repeated invocations.
func (l *JobCompletionSignaler) AfterJob(ctx context.Context, jobExecution *model.JobExecution) {
	logger.Infof("Job '%s' (ID: %s) finished. Signaling completion.", jobExecution.JobName, jobExecution.ID)
	select {
	case <-l.JobDoneChan:
	default:
		close(l.JobDoneChan)
	}
}

var _ port.JobListener = (*JobCompletionSignaler)(nil)
