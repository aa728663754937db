package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	_ "embed"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"go.uber.org/fx"

	ledgerjob "github.com/marloq/riptide/example/ledger/internal/job"
	gormadapter "github.com/marloq/riptide/pkg/batch/adapter/gorm"
	gormsqlite "github.com/marloq/riptide/pkg/batch/adapter/gorm/sqlite"
	"github.com/marloq/riptide/pkg/batch/core/config"
	"github.com/marloq/riptide/pkg/batch/core/model"
	"github.com/marloq/riptide/pkg/batch/engine/job"
	metricsinfra "github.com/marloq/riptide/pkg/batch/infrastructure/metrics"
	"github.com/marloq/riptide/pkg/batch/listener"
	sqlrepo "github.com/marloq/riptide/pkg/batch/infrastructure/repository/sql"
	"github.com/marloq/riptide/pkg/batch/support/logger"
)

//go:embed resources/application.yaml
var embeddedConfig []byte

func main() {
	inputFile := flag.String("input", "transactions.csv", "path to the transactions CSV file")
	otlpEndpoint := flag.String("otlp-endpoint", "", "OTLP trace collector endpoint (empty disables tracing)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := metricsinfra.SetupTracing(ctx, *otlpEndpoint, "ledger-import")
	if err != nil {
		logger.Fatalf("Failed to set up tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warnf("Failed to shut down tracing: %v", err)
		}
	}()

	app := fx.New(
		fx.Supply(config.EmbeddedConfig(embeddedConfig)),
		config.Module,
		gormadapter.Module,
		gormsqlite.Module,
		sqlrepo.Module,
		metricsinfra.Module,
		ledgerjob.Module,
		fx.Invoke(func(lc fx.Lifecycle, shutdowner fx.Shutdowner, launcher *job.Launcher, params ledgerjob.Params) {
			jobDone := make(chan struct{})
			params.JobListeners = append(params.JobListeners, listener.NewJobCompletionSignaler(jobDone))
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go runJob(ctx, launcher, params, *inputFile, jobDone)
					go func() {
						select {
						case <-jobDone:
						case <-ctx.Done():
						}
						if err := shutdowner.Shutdown(); err != nil {
							logger.Errorf("Failed to shut down application: %v", err)
						}
					}()
					return nil
				},
			})
		}),
	)

	app.Run()
}

func runJob(ctx context.Context, launcher *job.Launcher, params ledgerjob.Params, inputFile string, jobDone chan struct{}) {
	// The completion signaler closes jobDone when the job's listeners run;
	// close it here too so assembly and validation failures still unblock
	// the shutdown goroutine.
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Panic during job execution: %v", r)
		}
		select {
		case <-jobDone:
		default:
			close(jobDone)
		}
	}()

	ledger, err := ledgerjob.NewLedgerJob(params, inputFile)
	if err != nil {
		logger.Errorf("Failed to assemble job: %v", err)
		return
	}

	jobParams := model.NewJobParameters()
	jobParams.Put("inputFile", inputFile)

	execution, err := launcher.Launch(ctx, ledger, jobParams)
	if err != nil {
		logger.Errorf("Job '%s' failed: %v", ledgerjob.JobName, err)
		return
	}
	logger.Infof("Job '%s' finished with status %s (execution ID: %s).", ledgerjob.JobName, execution.Status, execution.ID)
}
