// Package tasklet provides reusable tasklets for single-shot steps.
package tasklet

import (
	"context"

	"gorm.io/gorm"

	"github.com/marloq/riptide/pkg/batch/core/model"
	"github.com/marloq/riptide/pkg/batch/engine/tasklet"
	repositorysql "github.com/marloq/riptide/pkg/batch/infrastructure/repository/sql"
	"github.com/marloq/riptide/pkg/batch/support/exception"
	"github.com/marloq/riptide/pkg/batch/support/logger"
)

const migrationModule = "migration_tasklet"

// NewMigrationTasklet returns a tasklet that applies the execution metadata
// schema migrations before the rest of the flow runs. Wiring it as the first
// step lets a job bootstrap its own tables on a fresh database.
func NewMigrationTasklet(db *gorm.DB, dbType string) tasklet.Tasklet {
	return tasklet.Func(func(ctx context.Context, se *model.StepExecution) (model.ExitStatus, error) {
		if db == nil {
			return model.ExitStatusFailed, exception.NewBatchError(migrationModule, "database handle is not configured", nil, exception.ClassConfig)
		}
		if err := ctx.Err(); err != nil {
			return model.ExitStatusFailed, err
		}
		if err := repositorysql.Migrate(db, dbType); err != nil {
			return model.ExitStatusFailed, exception.NewBatchError(migrationModule, "schema migration failed", err, exception.ClassConfig)
		}
		logger.Infof("schema migrations applied (driver=%s)", dbType)
		return model.ExitStatusCompleted, nil
	})
}
