// Package partitioner provides input partitioning strategies for partitioned
// steps.
package partitioner

import (
	"context"
	"fmt"

	"github.com/marloq/riptide/pkg/batch/core/model"
	"github.com/marloq/riptide/pkg/batch/core/port"
	"github.com/marloq/riptide/pkg/batch/support/exception"
	"github.com/marloq/riptide/pkg/batch/support/logger"
)

const moduleName = "partitioner"

// Range partition context keys. A worker reads these to scope its reader to
// the half-open row interval [start, end).
const (
	KeyRangeStart = "partition.rangeStart"
	KeyRangeEnd   = "partition.rangeEnd"
)

// RangePartitioner splits a contiguous index space of TotalCount rows into
// gridSize balanced half-open ranges. The leading ranges absorb the
// remainder, so sizes differ by at most one.
type RangePartitioner struct {
	// TotalCount is the number of rows to split. A CountFunc takes
	// precedence when set.
	TotalCount int
	// CountFunc resolves the row count at partition time, for inputs whose
	// size is not known up front.
	CountFunc func(ctx context.Context) (int, error)
}

var _ port.Partitioner = (*RangePartitioner)(nil)

func NewRangePartitioner(totalCount int) *RangePartitioner {
	return &RangePartitioner{TotalCount: totalCount}
}

func (p *RangePartitioner) Partition(ctx context.Context, gridSize int) (map[string]model.ExecutionContext, error) {
	if gridSize <= 0 {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("grid size must be positive, got %d", gridSize), nil, exception.ClassConfig)
	}

	total := p.TotalCount
	if p.CountFunc != nil {
		var err error
		total, err = p.CountFunc(ctx)
		if err != nil {
			return nil, exception.NewBatchError(moduleName, "failed to resolve row count", err, exception.ClassTransient)
		}
	}
	if total < 0 {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("row count must not be negative, got %d", total), nil, "")
	}

	if gridSize > total && total > 0 {
		gridSize = total
	}

	partitions := make(map[string]model.ExecutionContext, gridSize)
	if total == 0 {
		logger.Infof("RangePartitioner: empty input, producing a single empty partition")
		ec := model.NewExecutionContext()
		ec.Put(KeyRangeStart, 0)
		ec.Put(KeyRangeEnd, 0)
		partitions["partition-0"] = ec
		return partitions, nil
	}

	base := total / gridSize
	remainder := total % gridSize
	start := 0
	for i := 0; i < gridSize; i++ {
		size := base
		if i < remainder {
			size++
		}
		ec := model.NewExecutionContext()
		ec.Put(KeyRangeStart, start)
		ec.Put(KeyRangeEnd, start+size)
		partitions[fmt.Sprintf("partition-%d", i)] = ec
		start += size
	}
	logger.Infof("RangePartitioner: split %d rows into %d partitions", total, gridSize)
	return partitions, nil
}

// Static hands out fixed, pre-built partition contexts. The grid size
// argument is ignored; the partition set is whatever was configured.
type Static struct {
	Partitions map[string]model.ExecutionContext
}

var _ port.Partitioner = (*Static)(nil)

func (p *Static) Partition(ctx context.Context, gridSize int) (map[string]model.ExecutionContext, error) {
	out := make(map[string]model.ExecutionContext, len(p.Partitions))
	for name, ec := range p.Partitions {
		out[name] = ec.Copy()
	}
	return out, nil
}
