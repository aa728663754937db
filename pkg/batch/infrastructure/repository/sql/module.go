package sql

import (
	"go.uber.org/fx"

	"github.com/marloq/riptide/pkg/batch/core/repository"
)

// Module provides SQLJobRepository as the repository.JobRepository
// implementation. The metadata *gorm.DB must be provided by the gorm
// adapter module.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewSQLJobRepository,
			fx.As(new(repository.JobRepository)),
		),
	),
)
