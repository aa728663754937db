package inmemory

import (
	"go.uber.org/fx"

	"github.com/marloq/riptide/pkg/batch/core/repository"
)

// Module provides InMemoryJobRepository as the repository.JobRepository
// implementation.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewInMemoryJobRepository,
			fx.As(new(repository.JobRepository)),
		),
	),
)

var _ repository.JobRepository = (*InMemoryJobRepository)(nil)
