// Package job assembles the ledger import job: a schema migration step, a
// chunk-oriented CSV import into the ledger table, and a Parquet export of
// the imported rows, wired into a flow with a row-count decision.
package job

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm"

	"github.com/marloq/riptide/example/ledger/internal/domain"
	"github.com/marloq/riptide/pkg/batch/adapter/storage"
	"github.com/marloq/riptide/pkg/batch/component/decision"
	"github.com/marloq/riptide/pkg/batch/component/processor"
	"github.com/marloq/riptide/pkg/batch/component/reader"
	componenttasklet "github.com/marloq/riptide/pkg/batch/component/tasklet"
	"github.com/marloq/riptide/pkg/batch/component/writer"
	"github.com/marloq/riptide/pkg/batch/core/config"
	"github.com/marloq/riptide/pkg/batch/core/metrics"
	"github.com/marloq/riptide/pkg/batch/core/model"
	"github.com/marloq/riptide/pkg/batch/core/port"
	"github.com/marloq/riptide/pkg/batch/core/repository"
	"github.com/marloq/riptide/pkg/batch/core/tx"
	"github.com/marloq/riptide/pkg/batch/engine/chunk"
	"github.com/marloq/riptide/pkg/batch/engine/fault"
	"github.com/marloq/riptide/pkg/batch/engine/job"
	"github.com/marloq/riptide/pkg/batch/engine/tasklet"
	"github.com/marloq/riptide/pkg/batch/support/exception"
)

const JobName = "ledger-import"

// Params carries everything the job assembly needs from the container.
type Params struct {
	Config     *config.Config
	DB         *gorm.DB
	TxManager  tx.TransactionManager
	Repository repository.JobRepository
	Store      storage.Store

	JobListeners   []port.JobListener
	StepListeners  []port.StepListener
	ChunkListeners []port.ChunkListener
	SkipListeners  []port.SkipListener
	RetryListeners []port.RetryListener

	Recorder metrics.MetricRecorder
	Tracer   metrics.Tracer
}

// NewLedgerJob builds the ledger import job. The input file comes from the
// "inputFile" job parameter, so each file gets its own job instance and a
// crashed import restarts from its checkpoint instead of re-reading rows
// already committed.
func NewLedgerJob(p Params, inputFile string) (*job.FlowJob, error) {
	batchCfg := p.Config.Riptide.Batch

	rules := fault.Rules{
		SkipClasses:  batchCfg.Fault.SkipClasses,
		SkipLimit:    batchCfg.Fault.SkipLimit,
		RetryClasses: batchCfg.Fault.RetryClasses,
		RetryLimit:   batchCfg.Fault.RetryLimit,
	}

	migrateStep := tasklet.NewStep(tasklet.StepConfig{
		ID:      "migrateSchema",
		Tasklet: componenttasklet.NewMigrationTasklet(p.DB, "sqlite"),
		// Re-run on every restart; migrations are idempotent.
		AllowStartIfComplete: true,
		Repository:           p.Repository,
		StepListeners:        p.StepListeners,
		Recorder:             p.Recorder,
		Tracer:               p.Tracer,
	})

	csvReader := reader.NewCSVReader("transactions", inputFile, true, domain.FromCSVRecord)
	validate := processor.Func[domain.Transaction, domain.Transaction](
		func(ctx context.Context, t domain.Transaction) (domain.Transaction, error) {
			if err := t.Validate(); err != nil {
				return domain.Transaction{}, exception.NewBatchError("ledger", "transaction rejected", err, exception.ClassValidation)
			}
			return t, nil
		})

	importStep := chunk.NewStep(chunk.StepConfig{
		ID:             "importTransactions",
		Reader:         port.EraseReader[domain.Transaction](csvReader),
		Processor:      port.EraseProcessor[domain.Transaction, domain.Transaction](validate),
		Writer:         port.EraseWriter[domain.Transaction](writer.NewSQLBulkWriter[domain.Transaction]("ledgerWriter", batchCfg.ChunkSize)),
		ChunkSize:      batchCfg.ChunkSize,
		Rules:          rules,
		TxManager:      p.TxManager,
		Repository:     p.Repository,
		StepListeners:  p.StepListeners,
		ChunkListeners: p.ChunkListeners,
		SkipListeners:  p.SkipListeners,
		RetryListeners: p.RetryListeners,
		Promotion: &model.ContextPromotion{
			Keys: []string{"transactions.readCount"},
		},
		Recorder: p.Recorder,
		Tracer:   p.Tracer,
	})

	// Skip the export entirely when the import committed nothing.
	hasRows := decision.NewFunc("hasImportedRows",
		func(ctx context.Context, je *model.JobExecution) (model.ExitStatus, error) {
			if count, ok := je.ExecutionContext.GetInt("transactions.readCount"); ok && count > 0 {
				return model.ExitStatusCompleted, nil
			}
			return model.ExitStatus("EMPTY"), nil
		})

	exportStep, err := newExportStep(p, rules)
	if err != nil {
		return nil, err
	}

	flow := model.NewFlowDefinition("migrateSchema")
	for id, element := range map[string]interface{}{
		"migrateSchema":      migrateStep,
		"importTransactions": importStep,
		"hasImportedRows":    hasRows,
		"exportTransactions": exportStep,
	} {
		if err := flow.AddElement(id, element); err != nil {
			return nil, err
		}
	}
	flow.AddTransitionRule("migrateSchema", string(model.ExitStatusCompleted), "importTransactions", false, false, false)
	flow.AddTransitionRule("importTransactions", string(model.ExitStatusCompleted), "hasImportedRows", false, false, false)
	flow.AddTransitionRule("importTransactions", "*", "", false, true, false)
	flow.AddTransitionRule("hasImportedRows", string(model.ExitStatusCompleted), "exportTransactions", false, false, false)
	flow.AddTransitionRule("hasImportedRows", "EMPTY", "", true, false, false)
	flow.AddTransitionRule("exportTransactions", string(model.ExitStatusCompleted), "", true, false, false)
	flow.AddTransitionRule("exportTransactions", "*", "", false, true, false)

	return job.NewFlowJob(job.FlowConfig{
		ID:           JobName,
		Flow:         flow,
		Repository:   p.Repository,
		Validator:    validateParameters,
		JobListeners: p.JobListeners,
		Recorder:     p.Recorder,
		Tracer:       p.Tracer,
	}), nil
}

func validateParameters(params model.JobParameters) error {
	if _, ok := params.GetString("inputFile"); !ok {
		return fmt.Errorf("job parameter 'inputFile' is required")
	}
	return nil
}

// newExportStep reads the imported rows back in booking order and writes one
// Parquet file per booking day.
func newExportStep(p Params, rules fault.Rules) (port.Step, error) {
	sqlDB, err := p.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap sql.DB: %w", err)
	}

	cursor := reader.NewSQLCursorReader(sqlDB, "ledgerExport",
		"SELECT id, account, amount_cents, currency, booked_at FROM ledger_transactions ORDER BY booked_at, id",
		nil,
		func(rows *sql.Rows) (domain.Transaction, error) {
			var t domain.Transaction
			err := rows.Scan(&t.ID, &t.Account, &t.AmountCents, &t.Currency, &t.BookedAt)
			return t, err
		})

	parquetWriter, err := writer.NewParquetWriter(
		"ledgerParquet",
		writer.ParquetWriterConfig{OutputBaseDir: "ledger/transactions"},
		p.Store,
		new(domain.Transaction),
		domain.Transaction.PartitionKey,
	)
	if err != nil {
		return nil, err
	}

	return chunk.NewStep(chunk.StepConfig{
		ID:             "exportTransactions",
		Reader:         port.EraseReader[domain.Transaction](cursor),
		Writer:         port.EraseWriter[domain.Transaction](parquetWriter),
		ChunkSize:      p.Config.Riptide.Batch.ChunkSize,
		Rules:          rules,
		Repository:     p.Repository,
		StepListeners:  p.StepListeners,
		ChunkListeners: p.ChunkListeners,
		Recorder:       p.Recorder,
		Tracer:         p.Tracer,
	}), nil
}
