package test

import (
	"context"

	"github.com/marloq/riptide/pkg/batch/core/model"
	"github.com/marloq/riptide/pkg/batch/core/port"
	"github.com/marloq/riptide/pkg/batch/core/tx"
)

// SliceReader reads from a fixed slice. Errors scheduled in FailAt are
// returned once when the cursor reaches that position; the failed position
// is not consumed, so a retried Read returns the item. Implements the
// checkpoint capability so restart tests can resume mid-slice.
type SliceReader struct {
	Items []any
	// FailAt maps a zero-based position to the error Read returns the first
	// time that position comes up.
	FailAt map[int]error

	Name   string
	pos    int
	failed map[int]bool
	Opened bool
	Closed bool
}

var (
	_ port.ItemReader[any] = (*SliceReader)(nil)
	_ port.Checkpointer    = (*SliceReader)(nil)
)

func NewSliceReader(items ...any) *SliceReader {
	return &SliceReader{Items: items, Name: "sliceReader"}
}

func (r *SliceReader) key() string { return r.Name + ".readCount" }

func (r *SliceReader) Open(ctx context.Context, ec model.ExecutionContext) error {
	r.Opened = true
	if count, ok := ec.GetInt(r.key()); ok {
		r.pos = count
	}
	return nil
}

func (r *SliceReader) Read(ctx context.Context) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := r.FailAt[r.pos]; ok && !r.failed[r.pos] {
		if r.failed == nil {
			r.failed = make(map[int]bool)
		}
		r.failed[r.pos] = true
		return nil, err
	}
	if r.pos >= len(r.Items) {
		return nil, port.ErrNoMoreItems
	}
	item := r.Items[r.pos]
	r.pos++
	return item, nil
}

func (r *SliceReader) Close(ctx context.Context) error {
	r.Closed = true
	return nil
}

func (r *SliceReader) Checkpoint(ctx context.Context) (model.ExecutionContext, error) {
	ec := model.NewExecutionContext()
	ec.Put(r.key(), r.pos)
	return ec, nil
}

// FuncProcessor adapts a function into an any-typed processor.
type FuncProcessor func(ctx context.Context, item any) (any, error)

func (f FuncProcessor) Process(ctx context.Context, item any) (any, error) {
	return f(ctx, item)
}

// StagingWriter stages written items through the chunk transaction, so only
// committed chunks show up in the paired MemoryTxManager. FailOn injects a
// write failure whenever the batch contains that item.
type StagingWriter struct {
	// FailOn maps an item to the error Write returns while the item is
	// present in the batch. Remove the entry to let a retry succeed.
	FailOn map[any]error

	Writes [][]any
	Opened bool
	Closed bool
}

var _ port.ItemWriter[any] = (*StagingWriter)(nil)

func NewStagingWriter() *StagingWriter {
	return &StagingWriter{}
}

func (w *StagingWriter) Open(ctx context.Context, ec model.ExecutionContext) error {
	w.Opened = true
	return nil
}

func (w *StagingWriter) Write(ctx context.Context, txn tx.Tx, items []any) error {
	for _, item := range items {
		if err, ok := w.FailOn[item]; ok {
			return err
		}
	}
	batch := append([]any(nil), items...)
	w.Writes = append(w.Writes, batch)
	if txn != nil {
		for _, item := range batch {
			if err := txn.Create(ctx, item); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *StagingWriter) Close(ctx context.Context) error {
	w.Closed = true
	return nil
}

// RecordingStepListener counts lifecycle callbacks.
type RecordingStepListener struct {
	Before int
	After  int
}

var _ port.StepListener = (*RecordingStepListener)(nil)

func (l *RecordingStepListener) BeforeStep(ctx context.Context, se *model.StepExecution) { l.Before++ }
func (l *RecordingStepListener) AfterStep(ctx context.Context, se *model.StepExecution)  { l.After++ }

// RecordingSkipListener records skipped items per phase.
type RecordingSkipListener struct {
	ReadSkips    []error
	ProcessSkips []any
	WriteSkips   []any
}

var _ port.SkipListener = (*RecordingSkipListener)(nil)

func (l *RecordingSkipListener) OnSkipRead(ctx context.Context, err error) {
	l.ReadSkips = append(l.ReadSkips, err)
}

func (l *RecordingSkipListener) OnSkipProcess(ctx context.Context, item interface{}, err error) {
	l.ProcessSkips = append(l.ProcessSkips, item)
}

func (l *RecordingSkipListener) OnSkipWrite(ctx context.Context, item interface{}, err error) {
	l.WriteSkips = append(l.WriteSkips, item)
}
