package gorm

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/marloq/riptide/pkg/batch/core/config"
	"github.com/marloq/riptide/pkg/batch/core/tx"
)

// MetadataConnectionName is the configuration entry the engine's own
// metadata store connects through.
const MetadataConnectionName = "metadata"

// NewMetadataDB opens the metadata database connection from configuration.
func NewMetadataDB(cfg *config.Config) (*gorm.DB, error) {
	dbCfg, err := config.BindDatabaseConfig(cfg, MetadataConnectionName)
	if err != nil {
		return nil, err
	}
	return Open(*dbCfg)
}

// Module provides the metadata *gorm.DB and its transaction manager.
// A driver subpackage must also be imported so its dialector is registered.
var Module = fx.Options(
	fx.Provide(
		NewMetadataDB,
		fx.Annotate(
			NewTransactionManager,
			fx.As(new(tx.TransactionManager)),
		),
	),
)
