package job

import (
	"os"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/marloq/riptide/pkg/batch/adapter/storage"
	"github.com/marloq/riptide/pkg/batch/adapter/storage/local"
	"github.com/marloq/riptide/pkg/batch/core/config"
	"github.com/marloq/riptide/pkg/batch/core/metrics"
	"github.com/marloq/riptide/pkg/batch/core/port"
	"github.com/marloq/riptide/pkg/batch/core/repository"
	"github.com/marloq/riptide/pkg/batch/core/tx"
	"github.com/marloq/riptide/pkg/batch/engine/job"
	"github.com/marloq/riptide/pkg/batch/listener/logging"
)

// NewLocalStore provides the export target. LEDGER_OUTPUT_DIR overrides the
// default location.
func NewLocalStore() (storage.Store, error) {
	baseDir := os.Getenv("LEDGER_OUTPUT_DIR")
	if baseDir == "" {
		baseDir = "output"
	}
	return local.NewStore(baseDir)
}

// NewParams collects the job dependencies from the container.
func NewParams(
	cfg *config.Config,
	db *gorm.DB,
	txManager tx.TransactionManager,
	repo repository.JobRepository,
	store storage.Store,
	jobListener port.JobListener,
	stepListener port.StepListener,
	chunkListener port.ChunkListener,
	skipListener port.SkipListener,
	retryListener port.RetryListener,
	recorder metrics.MetricRecorder,
	tracer metrics.Tracer,
) Params {
	return Params{
		Config:         cfg,
		DB:             db,
		TxManager:      txManager,
		Repository:     repo,
		Store:          store,
		JobListeners:   []port.JobListener{jobListener},
		StepListeners:  []port.StepListener{stepListener},
		ChunkListeners: []port.ChunkListener{chunkListener},
		SkipListeners:  []port.SkipListener{skipListener},
		RetryListeners: []port.RetryListener{retryListener},
		Recorder:       recorder,
		Tracer:         tracer,
	}
}

// Module wires the ledger job and its launcher.
var Module = fx.Options(
	logging.Module,
	fx.Provide(
		NewLocalStore,
		NewParams,
		job.NewLauncher,
	),
)
