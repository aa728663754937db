package processor

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPassThrough(t *testing.T) {
	p := NewPassThrough[string]()
	out, err := p.Process(context.Background(), "item")
	require.NoError(t, err)
	assert.Equal(t, "item", out)
}

func TestFunc(t *testing.T) {
	double := Func[int, int](func(ctx context.Context, item int) (int, error) {
		return item * 2, nil
	})
	out, err := double.Process(context.Background(), 21)
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}

func TestChain(t *testing.T) {
	parse := Func[string, int](func(ctx context.Context, item string) (int, error) {
		return strconv.Atoi(strings.TrimSpace(item))
	})
	double := Func[int, int](func(ctx context.Context, item int) (int, error) {
		return item * 2, nil
	})

	chained := Chain[string, int, int](parse, double)

	out, err := chained.Process(context.Background(), " 21 ")
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}

func TestChainShortCircuitsOnFirstError(t *testing.T) {
	boom := errors.New("parse failed")
	first := Func[string, int](func(ctx context.Context, item string) (int, error) {
		return 0, boom
	})
	secondCalled := false
	second := Func[int, int](func(ctx context.Context, item int) (int, error) {
		secondCalled = true
		return item, nil
	})

	_, err := Chain[string, int, int](first, second).Process(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
	assert.False(t, secondCalled)
}
