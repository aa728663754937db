package chunk

import (
	"context"
	"database/sql"

	"github.com/marloq/riptide/pkg/batch/core/metrics"
	"github.com/marloq/riptide/pkg/batch/core/model"
	"github.com/marloq/riptide/pkg/batch/core/port"
	"github.com/marloq/riptide/pkg/batch/core/repository"
	"github.com/marloq/riptide/pkg/batch/core/tx"
	"github.com/marloq/riptide/pkg/batch/engine/checkpoint"
	"github.com/marloq/riptide/pkg/batch/engine/fault"
	"github.com/marloq/riptide/pkg/batch/support/exception"
	"github.com/marloq/riptide/pkg/batch/support/logger"
)

// StepConfig configures a chunk-oriented Step.
type StepConfig struct {
	// ID is the step identifier within its flow.
	ID string
	// Reader, Processor, and Writer are the components of the chunk cycle.
	// Processor may be nil for pass-through steps; Writer may be nil for
	// read-validate steps.
	Reader    port.ItemReader[any]
	Processor port.ItemProcessor[any, any]
	Writer    port.ItemWriter[any]
	// ChunkSize is the number of items per chunk. Defaults to 10.
	ChunkSize int
	// Rules is the fault handling configuration of this step.
	Rules fault.Rules
	// AllowStartIfComplete makes a restart run this step even when a
	// previous execution completed it.
	AllowStartIfComplete bool
	// TxManager demarcates chunk transactions. Defaults to a no-op manager.
	TxManager tx.TransactionManager
	// TxOptions configures chunk transactions. Nil means driver defaults.
	TxOptions *sql.TxOptions
	// Repository persists execution metadata and checkpoints.
	Repository repository.JobRepository
	// Listener lists, notified in registration order.
	StepListeners  []port.StepListener
	ChunkListeners []port.ChunkListener
	SkipListeners  []port.SkipListener
	RetryListeners []port.RetryListener
	// Promotion lists execution context keys promoted to the job level.
	Promotion *model.ContextPromotion
	// Recorder and Tracer are optional; nil means no-op.
	Recorder metrics.MetricRecorder
	Tracer   metrics.Tracer
}

// Step is the chunk-oriented implementation of port.Step. It owns the step
// lifecycle: status transitions, checkpoint resume, the cycle loop, stop
// handling, and final persistence.
type Step struct {
	cfg         StepConfig
	checkpoints *checkpoint.Manager
}

var (
	_ port.Step            = (*Step)(nil)
	_ port.ContextPromoter = (*Step)(nil)
	_ port.Restartable     = (*Step)(nil)
)

// NewStep creates a chunk-oriented Step from the given configuration.
func NewStep(cfg StepConfig) *Step {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 10
	}
	if cfg.Processor == nil {
		cfg.Processor = passThroughProcessor{}
	}
	if cfg.TxManager == nil {
		cfg.TxManager = tx.NewNoopTransactionManager()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = metrics.NewNoopRecorder()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = metrics.NewNoopTracer()
	}
	return &Step{
		cfg:         cfg,
		checkpoints: checkpoint.NewManager(cfg.Repository),
	}
}

// ID returns the step identifier.
func (s *Step) ID() string {
	return s.cfg.ID
}

// StepName returns the step identifier.
func (s *Step) StepName() string {
	return s.cfg.ID
}

// ContextPromotion implements port.ContextPromoter.
func (s *Step) ContextPromotion() *model.ContextPromotion {
	return s.cfg.Promotion
}

// AllowStartIfComplete implements port.Restartable.
func (s *Step) AllowStartIfComplete() bool {
	return s.cfg.AllowStartIfComplete
}

// Execute runs the chunk loop until the input is exhausted, an abortive
// error occurs, or the context is cancelled. Cancellation finishes the
// in-flight chunk and marks the step STOPPED.
func (s *Step) Execute(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution) error {
	if stepExecution.Status == model.BatchStatusCompleted && !s.cfg.AllowStartIfComplete {
		logger.Infof("Step '%s' already completed in a previous execution. Passing over.", s.cfg.ID)
		return nil
	}

	ctx, endSpan := s.cfg.Tracer.StartStepSpan(ctx, stepExecution)
	defer endSpan()
	s.cfg.Recorder.RecordStepStart(ctx, stepExecution)

	for _, l := range s.cfg.StepListeners {
		if err := port.Notify(l, "BeforeStep", func() { l.BeforeStep(ctx, stepExecution) }); err != nil {
			stepExecution.MarkAsFailed(err)
			if perr := s.cfg.Repository.UpdateStepExecution(ctx, stepExecution); perr != nil {
				logger.Errorf("Step '%s': failed to persist StepExecution failure: %v", s.cfg.ID, perr)
			}
			return err
		}
	}

	stepExecution.MarkAsStarted()
	if err := s.cfg.Repository.UpdateStepExecution(ctx, stepExecution); err != nil {
		return exception.NewBatchError(s.cfg.ID, "failed to persist StepExecution start", err, "")
	}

	stepErr := s.runChunkLoop(ctx, stepExecution)

	stopped := ctx.Err() != nil && stepErr == nil

	switch {
	case stepErr != nil:
		s.cfg.Tracer.RecordError(ctx, s.cfg.ID, stepErr)
		stepExecution.MarkAsFailed(stepErr)
	case stopped:
		logger.Infof("Step '%s' stopped after the in-flight chunk.", s.cfg.ID)
		stepExecution.MarkAsStopped()
	default:
		stepExecution.MarkAsCompleted()
		if err := s.checkpoints.Clear(ctx, stepExecution); err != nil {
			logger.Warnf("Step '%s': failed to clear checkpoint after completion: %v", s.cfg.ID, err)
		}
	}

	for _, l := range s.cfg.StepListeners {
		if err := port.Notify(l, "AfterStep", func() { l.AfterStep(ctx, stepExecution) }); err != nil && stepErr == nil {
			stepErr = err
			stopped = false
			stepExecution.MarkAsFailed(err)
		}
	}
	s.cfg.Recorder.RecordStepEnd(ctx, stepExecution)

	if err := s.cfg.Repository.UpdateStepExecution(ctx, stepExecution); err != nil {
		logger.Errorf("Step '%s': failed to persist final StepExecution state: %v", s.cfg.ID, err)
		if stepErr == nil {
			stepErr = exception.NewBatchError(s.cfg.ID, "failed to persist final StepExecution state", err, "")
		}
	}

	logger.Infof("Step '%s' finished with exit status %s (read=%d, written=%d, committed=%d, skipped=%d, retries=%d).",
		s.cfg.ID, stepExecution.ExitStatus, stepExecution.ReadCount, stepExecution.WriteCount,
		stepExecution.CommitCount, stepExecution.TotalSkipCount(), stepExecution.RetryCount)

	if stopped {
		return ctx.Err()
	}
	return stepErr
}

// runChunkLoop opens the components, resumes from the checkpoint, and drives
// chunk cycles until exhaustion, error, or cancellation.
func (s *Step) runChunkLoop(ctx context.Context, stepExecution *model.StepExecution) error {
	resumeEC, err := s.checkpoints.Resume(ctx, stepExecution)
	if err != nil {
		return err
	}

	if err := s.cfg.Reader.Open(ctx, resumeEC); err != nil {
		return exception.NewBatchError(s.cfg.ID, "failed to open ItemReader", err, "")
	}
	readerOpen := true
	defer func() {
		if readerOpen {
			if closeErr := s.cfg.Reader.Close(ctx); closeErr != nil {
				logger.Warnf("Step '%s': failed to close ItemReader: %v", s.cfg.ID, closeErr)
			}
		}
	}()

	var writerOpen bool
	if s.cfg.Writer != nil {
		if err := s.cfg.Writer.Open(ctx, resumeEC); err != nil {
			return exception.NewBatchError(s.cfg.ID, "failed to open ItemWriter", err, "")
		}
		writerOpen = true
	}
	defer func() {
		if writerOpen {
			if closeErr := s.cfg.Writer.Close(ctx); closeErr != nil {
				logger.Warnf("Step '%s': failed to close ItemWriter: %v", s.cfg.ID, closeErr)
			}
		}
	}()

	proc := &Processor{
		name:      s.cfg.ID,
		reader:    s.cfg.Reader,
		processor: s.cfg.Processor,
		writer:    s.cfg.Writer,
		chunkSize: s.cfg.ChunkSize,
		txManager: s.cfg.TxManager,
		txOptions: s.cfg.TxOptions,
		policy:    fault.NewPolicy(s.cfg.Rules),
		checkpoints: s.checkpoints,
		listeners: Listeners{
			Chunk: s.cfg.ChunkListeners,
			Skip:  s.cfg.SkipListeners,
			Retry: s.cfg.RetryListeners,
		},
		recorder: s.cfg.Recorder,
		tracer:   s.cfg.Tracer,
	}

	var replay []any
	for {
		if ctx.Err() != nil {
			// Stop requested. The in-flight chunk has already committed or
			// rolled back; leave the checkpoint where it is.
			return nil
		}

		result, err := proc.Cycle(ctx, stepExecution, replay)
		replay = nil
		if err != nil {
			return err
		}
		if result.Retry {
			replay = result.Replay
			continue
		}

		if err := s.cfg.Repository.UpdateStepExecution(ctx, stepExecution); err != nil {
			logger.Warnf("Step '%s': failed to persist chunk progress: %v", s.cfg.ID, err)
		}

		if result.Exhausted {
			return nil
		}
	}
}

// passThroughProcessor hands items through unchanged.
type passThroughProcessor struct{}

func (passThroughProcessor) Process(ctx context.Context, item any) (any, error) {
	return item, nil
}
