package port

import (
	"context"
	"fmt"
	"reflect"

	"github.com/marloq/riptide/pkg/batch/core/model"
	"github.com/marloq/riptide/pkg/batch/core/tx"
)

// The chunk engine moves items as any. The adapters below erase the type
// parameters of strongly typed components so they can be wired into it.
// Optional capabilities (Checkpointer) are forwarded when the wrapped
// component implements them.

type erasedReader[O any] struct {
	inner ItemReader[O]
}

// EraseReader adapts a typed reader for the chunk engine.
func EraseReader[O any](r ItemReader[O]) ItemReader[any] {
	return &erasedReader[O]{inner: r}
}

func (r *erasedReader[O]) Open(ctx context.Context, ec model.ExecutionContext) error {
	return r.inner.Open(ctx, ec)
}

func (r *erasedReader[O]) Read(ctx context.Context) (any, error) {
	item, err := r.inner.Read(ctx)
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (r *erasedReader[O]) Close(ctx context.Context) error {
	return r.inner.Close(ctx)
}

func (r *erasedReader[O]) Checkpoint(ctx context.Context) (model.ExecutionContext, error) {
	if cp, ok := r.inner.(Checkpointer); ok {
		return cp.Checkpoint(ctx)
	}
	return model.NewExecutionContext(), nil
}

type erasedProcessor[I, O any] struct {
	inner ItemProcessor[I, O]
}

// EraseProcessor adapts a typed processor for the chunk engine. A processor
// returning the zero value of a pointer or interface output type filters the
// item; value-typed outputs are always written.
func EraseProcessor[I, O any](p ItemProcessor[I, O]) ItemProcessor[any, any] {
	return &erasedProcessor[I, O]{inner: p}
}

func (p *erasedProcessor[I, O]) Process(ctx context.Context, item any) (any, error) {
	typed, ok := item.(I)
	if !ok {
		var zero I
		return nil, &typeMismatchError{expected: zero, got: item}
	}
	out, err := p.inner.Process(ctx, typed)
	if err != nil {
		return nil, err
	}
	if isNil(out) {
		return nil, nil
	}
	return out, nil
}

type erasedWriter[I any] struct {
	inner ItemWriter[I]
}

// EraseWriter adapts a typed writer for the chunk engine.
func EraseWriter[I any](w ItemWriter[I]) ItemWriter[any] {
	return &erasedWriter[I]{inner: w}
}

func (w *erasedWriter[I]) Open(ctx context.Context, ec model.ExecutionContext) error {
	return w.inner.Open(ctx, ec)
}

func (w *erasedWriter[I]) Write(ctx context.Context, txn tx.Tx, items []any) error {
	typed := make([]I, 0, len(items))
	for _, item := range items {
		v, ok := item.(I)
		if !ok {
			var zero I
			return &typeMismatchError{expected: zero, got: item}
		}
		typed = append(typed, v)
	}
	return w.inner.Write(ctx, txn, typed)
}

func (w *erasedWriter[I]) Close(ctx context.Context) error {
	return w.inner.Close(ctx)
}

func (w *erasedWriter[I]) Checkpoint(ctx context.Context) (model.ExecutionContext, error) {
	if cp, ok := w.inner.(Checkpointer); ok {
		return cp.Checkpoint(ctx)
	}
	return model.NewExecutionContext(), nil
}

// typeMismatchError reports an item whose dynamic type does not match the
// component it was routed to. It indicates a wiring bug, not bad input.
type typeMismatchError struct {
	expected any
	got      any
}

func (e *typeMismatchError) Error() string {
	return fmt.Sprintf("item type mismatch: component expects %T, got %T", e.expected, e.got)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		return rv.IsNil()
	default:
		return false
	}
}
