// Package sqlite registers the SQLite dialector with the gorm adapter.
package sqlite

import (
	"errors"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	gormadapter "github.com/marloq/riptide/pkg/batch/adapter/gorm"
	"github.com/marloq/riptide/pkg/batch/core/config"
)

func init() {
	gormadapter.RegisterDialector("sqlite", func(cfg config.DatabaseConfig) (gorm.Dialector, error) {
		path := cfg.Path
		if path == "" {
			path = cfg.Database
		}
		if path == "" {
			return nil, errors.New("SQLite database path cannot be empty")
		}
		return sqlite.Open(path), nil
	})
}
