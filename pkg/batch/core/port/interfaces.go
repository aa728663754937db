// Package port defines the interfaces between the batch engine and the
// components plugged into it: jobs, steps, item readers, processors, writers,
// partitioners, and listeners. Capabilities beyond the core contracts are
// expressed as separate optional interfaces that the engine discovers with
// type assertions, never as fat base interfaces.
package port

import (
	"context"
	"errors"

	"github.com/marloq/riptide/pkg/batch/core/model"
	"github.com/marloq/riptide/pkg/batch/core/tx"
)

// ErrNoMoreItems is the sentinel returned by ItemReader.Read when the input
// is exhausted. It is not an error condition.
var ErrNoMoreItems = errors.New("no more items to read")

// Job is a runnable batch job.
type Job interface {
	// ID returns the unique identifier of the job.
	ID() string
	// JobName returns the human-readable name of the job.
	JobName() string
	// Flow returns the flow definition driving this job's step sequence.
	Flow() *model.FlowDefinition
	// ValidateParameters validates the launch parameters before any
	// execution state is created.
	ValidateParameters(params model.JobParameters) error
	// Run executes the job until a terminal status is reached, updating
	// jobExecution as it goes.
	Run(ctx context.Context, jobExecution *model.JobExecution) error
}

// Step is a single unit of work within a job flow.
type Step interface {
	// ID returns the unique identifier of the step within its flow.
	ID() string
	// Execute runs the step, updating stepExecution as it goes.
	// The returned error reflects abortive failure; skip and retry
	// handling happens inside the step.
	Execute(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution) error
}

// ContextPromoter is an optional Step capability. Steps implementing it have
// the listed execution context keys promoted to the job context after the
// step finishes.
type ContextPromoter interface {
	ContextPromotion() *model.ContextPromotion
}

// Restartable is an optional Step capability. AllowStartIfComplete reports
// whether a COMPLETED step should run again on restart instead of being
// passed over.
type Restartable interface {
	AllowStartIfComplete() bool
}

// Decision is a flow element that routes without doing work. Decide inspects
// the job execution and returns the exit status transitions dispatch on.
type Decision interface {
	ID() string
	Decide(ctx context.Context, jobExecution *model.JobExecution) (model.ExitStatus, error)
}

// ItemReader reads items one at a time from an input source.
// Open is called once before the first Read; the execution context it
// receives holds the checkpoint of a previous execution, and the reader must
// position itself past all items that execution committed.
type ItemReader[O any] interface {
	Open(ctx context.Context, ec model.ExecutionContext) error
	// Read returns the next item, or ErrNoMoreItems when the input is
	// exhausted. A Read failing with a retryable error must not consume an
	// item, so the engine can call Read again at the same position. A read
	// failing on the record itself (a malformed line, say) may consume it,
	// so a skip advances past the bad record and a restart does not hit it
	// again.
	Read(ctx context.Context) (O, error)
	Close(ctx context.Context) error
}

// ItemProcessor transforms one item. Returning a nil output with a nil error
// filters the item out: it is not written and it is not an error.
type ItemProcessor[I, O any] interface {
	Process(ctx context.Context, item I) (O, error)
}

// ItemWriter writes a batch of items within the given transaction.
// Write must be all-or-nothing with respect to the transaction: when the
// engine rolls the transaction back, nothing the writer did may survive.
type ItemWriter[I any] interface {
	Open(ctx context.Context, ec model.ExecutionContext) error
	Write(ctx context.Context, tx tx.Tx, items []I) error
	Close(ctx context.Context) error
}

// Checkpointer is an optional reader or writer capability. Checkpoint
// returns the component's current position as execution context entries,
// captured after the in-flight chunk and persisted with its commit.
type Checkpointer interface {
	Checkpoint(ctx context.Context) (model.ExecutionContext, error)
}

// Partitioner splits a step's input into named partitions, each described by
// the execution context its worker starts from.
type Partitioner interface {
	Partition(ctx context.Context, gridSize int) (map[string]model.ExecutionContext, error)
}

// JobParametersIncrementer derives the parameters for the next logical run
// of a job, so repeated launches create fresh job instances.
type JobParametersIncrementer interface {
	Next(params model.JobParameters) model.JobParameters
}

// JobListener observes job lifecycle events. Listeners run in the order they
// were registered; After callbacks run even when the job failed.
type JobListener interface {
	BeforeJob(ctx context.Context, jobExecution *model.JobExecution)
	AfterJob(ctx context.Context, jobExecution *model.JobExecution)
}

// StepListener observes step lifecycle events.
type StepListener interface {
	BeforeStep(ctx context.Context, stepExecution *model.StepExecution)
	AfterStep(ctx context.Context, stepExecution *model.StepExecution)
}

// ChunkListener observes chunk transaction boundaries.
type ChunkListener interface {
	BeforeChunk(ctx context.Context, stepExecution *model.StepExecution)
	AfterChunk(ctx context.Context, stepExecution *model.StepExecution)
}

// SkipListener observes items discarded under the skip policy.
type SkipListener interface {
	OnSkipRead(ctx context.Context, err error)
	OnSkipProcess(ctx context.Context, item interface{}, err error)
	OnSkipWrite(ctx context.Context, item interface{}, err error)
}

// RetryListener observes retry attempts before they run.
type RetryListener interface {
	OnRetryRead(ctx context.Context, err error)
	OnRetryProcess(ctx context.Context, item interface{}, err error)
	OnRetryWrite(ctx context.Context, items []interface{}, err error)
}
