// Package postgres registers the PostgreSQL dialector with the gorm adapter.
// Redshift connections also use this dialector.
package postgres

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	gormadapter "github.com/marloq/riptide/pkg/batch/adapter/gorm"
	"github.com/marloq/riptide/pkg/batch/core/config"
)

func init() {
	factory := func(cfg config.DatabaseConfig) (gorm.Dialector, error) {
		return postgres.Open(ConnectionString(cfg)), nil
	}
	gormadapter.RegisterDialector("postgres", factory)
	gormadapter.RegisterDialector("redshift", factory)
}

// ConnectionString generates the DSN for PostgreSQL connections.
func ConnectionString(c config.DatabaseConfig) string {
	sslmode := c.Sslmode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslmode)
}
