// Package inmemory provides an in-memory implementation of the JobRepository
// interface. It stores all execution metadata in maps and suits tests and
// runs where persistence across process restarts is not required.
package inmemory

import (
	"sync"

	"github.com/marloq/riptide/pkg/batch/core/model"
)

// InMemoryJobRepository is an in-memory implementation of the JobRepository
// interface. All state lives in maps guarded by a single RWMutex.
type InMemoryJobRepository struct {
	jobInstances   map[string]*model.JobInstance
	jobExecutions  map[string]*model.JobExecution
	stepExecutions map[string]*model.StepExecution
	checkpointData map[string]*model.CheckpointData
	mu             sync.RWMutex
}

// NewInMemoryJobRepository creates and initializes a new InMemoryJobRepository.
func NewInMemoryJobRepository() *InMemoryJobRepository {
	return &InMemoryJobRepository{
		jobInstances:   make(map[string]*model.JobInstance),
		jobExecutions:  make(map[string]*model.JobExecution),
		stepExecutions: make(map[string]*model.StepExecution),
		checkpointData: make(map[string]*model.CheckpointData),
	}
}

// Close releases resources used by the repository. An in-memory repository
// holds no external resources, so this always returns nil.
func (r *InMemoryJobRepository) Close() error {
	return nil
}
