// Package processor provides reusable item processors.
package processor

import (
	"context"

	"github.com/marloq/riptide/pkg/batch/core/port"
)

// PassThrough returns every item unchanged. It is the processor to wire when
// a step only moves data between a reader and a writer.
type PassThrough[T any] struct{}

var _ port.ItemProcessor[any, any] = PassThrough[any]{}

func NewPassThrough[T any]() PassThrough[T] { return PassThrough[T]{} }

func (PassThrough[T]) Process(ctx context.Context, item T) (T, error) {
	return item, nil
}

// Func adapts a plain function to the ItemProcessor interface.
type Func[I, O any] func(ctx context.Context, item I) (O, error)

var _ port.ItemProcessor[any, any] = (Func[any, any])(nil)

func (f Func[I, O]) Process(ctx context.Context, item I) (O, error) {
	return f(ctx, item)
}

// Chain composes two processors, feeding the output of the first into the
// second.
func Chain[I, M, O any](first port.ItemProcessor[I, M], second port.ItemProcessor[M, O]) port.ItemProcessor[I, O] {
	return Func[I, O](func(ctx context.Context, item I) (O, error) {
		var zero O
		mid, err := first.Process(ctx, item)
		if err != nil {
			return zero, err
		}
		return second.Process(ctx, mid)
	})
}
