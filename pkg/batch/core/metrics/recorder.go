// Package metrics defines the observability ports of the engine: a metric
// recorder for counters and durations, and a tracer for spans. Backends live
// under infra/metrics.
package metrics

import (
	"context"
	"time"

	"github.com/marloq/riptide/pkg/batch/core/model"
)

// MetricRecorder records metrics for job, step, item, and chunk events.
// Implementations must be safe for concurrent use; partitioned steps record
// from multiple goroutines.
type MetricRecorder interface {
	// RecordJobStart records the start of a JobExecution.
	RecordJobStart(ctx context.Context, execution *model.JobExecution)
	// RecordJobEnd records the end of a JobExecution with its final status.
	RecordJobEnd(ctx context.Context, execution *model.JobExecution)
	// RecordStepStart records the start of a StepExecution.
	RecordStepStart(ctx context.Context, execution *model.StepExecution)
	// RecordStepEnd records the end of a StepExecution with its final status.
	RecordStepEnd(ctx context.Context, execution *model.StepExecution)
	// RecordItemRead records one successfully read item.
	RecordItemRead(ctx context.Context, stepName string)
	// RecordItemProcess records one successfully processed item.
	RecordItemProcess(ctx context.Context, stepName string)
	// RecordItemWrite records count successfully written items.
	RecordItemWrite(ctx context.Context, stepName string, count int)
	// RecordItemSkip records one skipped item with the classification that caused it.
	RecordItemSkip(ctx context.Context, stepName string, reason string)
	// RecordRetry records one retry attempt with the classification that caused it.
	RecordRetry(ctx context.Context, stepName string, reason string)
	// RecordChunkCommit records one committed chunk of count items.
	RecordChunkCommit(ctx context.Context, stepName string, count int)
	// RecordChunkRollback records one rolled-back chunk.
	RecordChunkRollback(ctx context.Context, stepName string)
	// RecordDuration records the execution time of a named operation.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}

// Tracer integrates job and step execution with a distributed tracing system.
type Tracer interface {
	// StartJobSpan starts a span for a JobExecution. The returned function
	// ends the span and should be deferred.
	StartJobSpan(ctx context.Context, execution *model.JobExecution) (context.Context, func())
	// StartStepSpan starts a span for a StepExecution under the job span.
	StartStepSpan(ctx context.Context, execution *model.StepExecution) (context.Context, func())
	// RecordError records an error on the current span.
	RecordError(ctx context.Context, module string, err error)
	// RecordEvent records a named event on the current span.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
