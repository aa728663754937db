package metrics

import (
	"context"
	"time"

	"github.com/marloq/riptide/pkg/batch/core/model"
)

// NoopRecorder discards all metrics.
type NoopRecorder struct{}

// NewNoopRecorder creates a new NoopRecorder.
func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (r *NoopRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution)  {}
func (r *NoopRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution)    {}
func (r *NoopRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {}
func (r *NoopRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution)   {}
func (r *NoopRecorder) RecordItemRead(ctx context.Context, stepName string)                 {}
func (r *NoopRecorder) RecordItemProcess(ctx context.Context, stepName string)              {}
func (r *NoopRecorder) RecordItemWrite(ctx context.Context, stepName string, count int)     {}
func (r *NoopRecorder) RecordItemSkip(ctx context.Context, stepName string, reason string)  {}
func (r *NoopRecorder) RecordRetry(ctx context.Context, stepName string, reason string)     {}
func (r *NoopRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int)   {}
func (r *NoopRecorder) RecordChunkRollback(ctx context.Context, stepName string)            {}
func (r *NoopRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
}

// NoopTracer discards all spans and events.
type NoopTracer struct{}

// NewNoopTracer creates a new NoopTracer.
func NewNoopTracer() *NoopTracer { return &NoopTracer{} }

func (t *NoopTracer) StartJobSpan(ctx context.Context, execution *model.JobExecution) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoopTracer) StartStepSpan(ctx context.Context, execution *model.StepExecution) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoopTracer) RecordError(ctx context.Context, module string, err error) {}

func (t *NoopTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
}

var (
	_ MetricRecorder = (*NoopRecorder)(nil)
	_ Tracer         = (*NoopTracer)(nil)
)
