package chunk_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marloq/riptide/pkg/batch/core/model"
	"github.com/marloq/riptide/pkg/batch/core/port"
	"github.com/marloq/riptide/pkg/batch/engine/chunk"
	"github.com/marloq/riptide/pkg/batch/engine/fault"
	"github.com/marloq/riptide/pkg/batch/infrastructure/repository/inmemory"
	"github.com/marloq/riptide/pkg/batch/support/exception"
	"github.com/marloq/riptide/pkg/batch/test"
)

func transientErr(msg string) error {
	return exception.NewBatchError("test", msg, nil, exception.ClassTransient)
}

func malformedErr(msg string) error {
	return exception.NewBatchError("test", msg, nil, exception.ClassMalformed)
}

type fixture struct {
	reader *test.SliceReader
	writer *test.StagingWriter
	txm    *test.MemoryTxManager
	repo   *inmemory.InMemoryJobRepository
	se     *model.StepExecution
}

func newFixture(items ...any) *fixture {
	f := &fixture{
		reader: test.NewSliceReader(items...),
		writer: test.NewStagingWriter(),
		txm:    test.NewMemoryTxManager(),
		repo:   inmemory.NewInMemoryJobRepository(),
		se:     test.NewStepExecution("ledger-import", "importTransactions"),
	}
	return f
}

func (f *fixture) step(cfg chunk.StepConfig) *chunk.Step {
	cfg.ID = "importTransactions"
	cfg.Reader = f.reader
	if cfg.Writer == nil {
		cfg.Writer = f.writer
	}
	cfg.TxManager = f.txm
	cfg.Repository = f.repo
	return chunk.NewStep(cfg)
}

func (f *fixture) execute(t *testing.T, cfg chunk.StepConfig) error {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.repo.SaveStepExecution(ctx, f.se))
	return f.step(cfg).Execute(ctx, f.se.JobExecution, f.se)
}

func TestExecuteHappyPath(t *testing.T) {
	f := newFixture("a", "b", "c", "d", "e")
	listener := &test.RecordingStepListener{}

	err := f.execute(t, chunk.StepConfig{
		ChunkSize:     2,
		StepListeners: stepListeners(listener),
	})
	require.NoError(t, err)

	assert.Equal(t, model.BatchStatusCompleted, f.se.Status)
	assert.Equal(t, model.ExitStatusCompleted, f.se.ExitStatus)
	assert.Equal(t, 5, f.se.ReadCount)
	assert.Equal(t, 5, f.se.WriteCount)
	assert.Equal(t, 3, f.se.CommitCount)
	assert.Equal(t, []any{"a", "b", "c", "d", "e"}, f.txm.Committed)
	assert.Len(t, f.writer.Writes, 3)
	assert.Equal(t, 1, listener.Before)
	assert.Equal(t, 1, listener.After)
	assert.True(t, f.reader.Closed)
	assert.True(t, f.writer.Closed)

	// A completed step leaves no checkpoint behind.
	_, err = f.repo.FindCheckpointData(context.Background(), f.se.ID)
	assert.Error(t, err)
}

func TestExecuteUnclassifiedReadErrorAborts(t *testing.T) {
	f := newFixture("a", "b", "c", "d")
	f.reader.FailAt = map[int]error{2: errors.New("disk read failed")}

	err := f.execute(t, chunk.StepConfig{ChunkSize: 2})
	require.Error(t, err)

	assert.Equal(t, model.BatchStatusFailed, f.se.Status)
	// Only the first chunk committed; the failed chunk rolled back whole.
	assert.Equal(t, []any{"a", "b"}, f.txm.Committed)
	assert.GreaterOrEqual(t, f.se.RollbackCount, 1)
	assert.NotEmpty(t, f.se.Failures)
}

func TestExecuteReadRetry(t *testing.T) {
	f := newFixture("a", "b", "c")
	f.reader.FailAt = map[int]error{1: transientErr("connection reset")}

	err := f.execute(t, chunk.StepConfig{
		ChunkSize: 2,
		Rules:     fault.Rules{RetryClasses: []string{exception.ClassTransient}, RetryLimit: 3},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, f.se.RetryCount)
	assert.Equal(t, 3, f.se.ReadCount)
	assert.Equal(t, []any{"a", "b", "c"}, f.txm.Committed)
}

func TestExecuteReadSkip(t *testing.T) {
	f := newFixture("a", "b", "c")
	f.reader.FailAt = map[int]error{1: malformedErr("bad record")}
	skips := &test.RecordingSkipListener{}

	err := f.execute(t, chunk.StepConfig{
		ChunkSize:     2,
		Rules:         fault.Rules{SkipClasses: []string{exception.ClassMalformed}, SkipLimit: 5},
		SkipListeners: skipListeners(skips),
	})
	require.NoError(t, err)

	assert.Equal(t, model.BatchStatusCompleted, f.se.Status)
	assert.Equal(t, 1, f.se.SkipReadCount)
	assert.Len(t, skips.ReadSkips, 1)
	assert.NotEmpty(t, f.se.Failures)
}

func TestExecuteProcessSkipDiscardsItem(t *testing.T) {
	f := newFixture("a", "bad", "c")
	skips := &test.RecordingSkipListener{}

	err := f.execute(t, chunk.StepConfig{
		ChunkSize: 3,
		Processor: test.FuncProcessor(func(ctx context.Context, item any) (any, error) {
			if item == "bad" {
				return nil, malformedErr("unparsable amount")
			}
			return item, nil
		}),
		Rules:         fault.Rules{SkipClasses: []string{exception.ClassMalformed}, SkipLimit: 5},
		SkipListeners: skipListeners(skips),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, f.se.SkipProcessCount)
	assert.Equal(t, []any{"a", "c"}, f.txm.Committed)
	assert.Equal(t, []any{"bad"}, skips.ProcessSkips)
}

func TestExecuteProcessorFiltersItems(t *testing.T) {
	f := newFixture("a", "skip-me", "c")

	err := f.execute(t, chunk.StepConfig{
		ChunkSize: 3,
		Processor: test.FuncProcessor(func(ctx context.Context, item any) (any, error) {
			if item == "skip-me" {
				return nil, nil
			}
			return item, nil
		}),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, f.se.FilterCount)
	assert.Equal(t, 3, f.se.ReadCount)
	assert.Equal(t, 2, f.se.WriteCount)
	assert.Equal(t, []any{"a", "c"}, f.txm.Committed)
}

func TestExecuteProcessRetryReplaysChunkWithoutRereading(t *testing.T) {
	f := newFixture("a", "b", "c")
	attempts := 0

	err := f.execute(t, chunk.StepConfig{
		ChunkSize: 3,
		Processor: test.FuncProcessor(func(ctx context.Context, item any) (any, error) {
			if item == "b" {
				attempts++
				if attempts == 1 {
					return nil, transientErr("downstream timeout")
				}
			}
			return item, nil
		}),
		Rules: fault.Rules{RetryClasses: []string{exception.ClassTransient}, RetryLimit: 3},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, f.se.RetryCount)
	// The replayed chunk reuses the raw items; the reader saw each item once.
	assert.Equal(t, 3, f.se.ReadCount)
	assert.Equal(t, []any{"a", "b", "c"}, f.txm.Committed)
	assert.GreaterOrEqual(t, f.se.RollbackCount, 1)
}

func TestExecuteRetryBudgetExhaustedAborts(t *testing.T) {
	f := newFixture("a", "b")

	err := f.execute(t, chunk.StepConfig{
		ChunkSize: 2,
		Processor: test.FuncProcessor(func(ctx context.Context, item any) (any, error) {
			if item == "b" {
				return nil, transientErr("downstream timeout")
			}
			return item, nil
		}),
		Rules: fault.Rules{RetryClasses: []string{exception.ClassTransient}, RetryLimit: 2},
	})
	require.Error(t, err)

	assert.Equal(t, model.BatchStatusFailed, f.se.Status)
	assert.Equal(t, 2, f.se.RetryCount)
	assert.Empty(t, f.txm.Committed)
}

// retryWriteFixer clears the writer's injected failure on the first retry so
// the re-attempted chunk succeeds.
type retryWriteFixer struct {
	writer *test.StagingWriter
}

func (l *retryWriteFixer) OnRetryRead(ctx context.Context, err error) {}
func (l *retryWriteFixer) OnRetryProcess(ctx context.Context, item interface{}, err error) {}
func (l *retryWriteFixer) OnRetryWrite(ctx context.Context, items []interface{}, err error) {
	l.writer.FailOn = nil
}

func TestExecuteWriteRetryReattemptsWholeChunk(t *testing.T) {
	f := newFixture("a", "b", "c")
	f.writer.FailOn = map[any]error{"b": transientErr("deadlock detected")}

	err := f.execute(t, chunk.StepConfig{
		ChunkSize:      3,
		Rules:          fault.Rules{RetryClasses: []string{exception.ClassTransient}, RetryLimit: 3},
		RetryListeners: retryListeners(&retryWriteFixer{writer: f.writer}),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, f.se.RetryCount)
	assert.Equal(t, []any{"a", "b", "c"}, f.txm.Committed)
	assert.Equal(t, 3, f.se.WriteCount)
	assert.Equal(t, 1, f.se.CommitCount)
}

func TestExecuteWriteSkipSplitsChunk(t *testing.T) {
	f := newFixture("a", "bad", "c")
	f.writer.FailOn = map[any]error{"bad": malformedErr("constraint violation")}
	skips := &test.RecordingSkipListener{}

	err := f.execute(t, chunk.StepConfig{
		ChunkSize:     3,
		Rules:         fault.Rules{SkipClasses: []string{exception.ClassMalformed}, SkipLimit: 5},
		SkipListeners: skipListeners(skips),
	})
	require.NoError(t, err)

	assert.Equal(t, model.BatchStatusCompleted, f.se.Status)
	assert.Equal(t, 1, f.se.SkipWriteCount)
	assert.Equal(t, []any{"a", "c"}, f.txm.Committed)
	assert.Equal(t, 2, f.se.WriteCount)
	// The surviving items re-commit together as one batch.
	assert.Equal(t, 1, f.se.CommitCount)
	assert.Equal(t, []any{"bad"}, skips.WriteSkips)
}

func TestExecuteSplitAbortCommitsNothing(t *testing.T) {
	f := newFixture("a", "bad", "c")
	f.writer.FailOn = map[any]error{
		"bad": malformedErr("constraint violation"),
		"c":   errors.New("disk full"),
	}

	err := f.execute(t, chunk.StepConfig{
		ChunkSize: 3,
		Rules:     fault.Rules{SkipClasses: []string{exception.ClassMalformed}, SkipLimit: 5},
	})
	require.Error(t, err)

	// The split identified and skipped "bad", then hit an unclassified
	// failure on "c". The surviving batch never committed, so neither
	// partial writes nor a checkpoint survive the abort.
	assert.Equal(t, model.BatchStatusFailed, f.se.Status)
	assert.Equal(t, 1, f.se.SkipWriteCount)
	assert.Empty(t, f.txm.Committed)
	assert.Equal(t, 0, f.se.WriteCount)
	assert.Equal(t, 0, f.se.CommitCount)
	assert.Empty(t, f.se.ExecutionContext)
	_, cpErr := f.repo.FindCheckpointData(context.Background(), f.se.ID)
	assert.Error(t, cpErr)

	// A restart from the carried context writes every item exactly once.
	second := newFixture("a", "bad", "c")
	second.se.ExecutionContext = f.se.ExecutionContext.Copy()

	require.NoError(t, second.execute(t, chunk.StepConfig{ChunkSize: 3}))
	assert.Equal(t, []any{"a", "bad", "c"}, second.txm.Committed)
}

func TestExecuteSkipLimitExhaustedAborts(t *testing.T) {
	f := newFixture("a", "b", "c", "d")

	err := f.execute(t, chunk.StepConfig{
		ChunkSize: 4,
		Processor: test.FuncProcessor(func(ctx context.Context, item any) (any, error) {
			if item == "b" || item == "d" {
				return nil, malformedErr("bad record")
			}
			return item, nil
		}),
		Rules: fault.Rules{SkipClasses: []string{exception.ClassMalformed}, SkipLimit: 1},
	})
	require.Error(t, err)

	assert.Equal(t, model.BatchStatusFailed, f.se.Status)
	assert.Equal(t, 1, f.se.SkipProcessCount)
	assert.Empty(t, f.txm.Committed)
}

func TestExecuteCommitFailureRollsBackCounters(t *testing.T) {
	f := newFixture("a", "b")
	f.txm.CommitErr = errors.New("connection lost during commit")

	err := f.execute(t, chunk.StepConfig{ChunkSize: 2})
	require.Error(t, err)

	assert.Equal(t, exception.ClassTransaction, exception.ClassOf(err))
	assert.Equal(t, model.BatchStatusFailed, f.se.Status)
	assert.Equal(t, 0, f.se.WriteCount)
	assert.Equal(t, 0, f.se.CommitCount)
	assert.GreaterOrEqual(t, f.se.RollbackCount, 1)
	assert.Empty(t, f.txm.Committed)

	// Nothing committed, so no checkpoint may exist and the carried
	// context must stay untouched.
	assert.Empty(t, f.se.ExecutionContext)
	_, cpErr := f.repo.FindCheckpointData(context.Background(), f.se.ID)
	assert.Error(t, cpErr)
}

// commitBreaker fails every commit once the configured number of chunks
// has gone through.
type commitBreaker struct {
	txm   *test.MemoryTxManager
	after int
	seen  int
}

func (l *commitBreaker) BeforeChunk(ctx context.Context, se *model.StepExecution) {}
func (l *commitBreaker) AfterChunk(ctx context.Context, se *model.StepExecution) {
	l.seen++
	if l.seen == l.after {
		l.txm.CommitErr = errors.New("connection lost during commit")
	}
}

func TestExecuteCommitFailureKeepsLastCommittedCheckpoint(t *testing.T) {
	f := newFixture("a", "b", "c", "d")

	err := f.execute(t, chunk.StepConfig{
		ChunkSize:      2,
		ChunkListeners: []port.ChunkListener{&commitBreaker{txm: f.txm, after: 1}},
	})
	require.Error(t, err)
	assert.Equal(t, exception.ClassTransaction, exception.ClassOf(err))

	// Only the first chunk committed. Both the persisted checkpoint and
	// the carried context still point at that chunk, not the one whose
	// commit failed.
	assert.Equal(t, []any{"a", "b"}, f.txm.Committed)
	assert.Equal(t, 2, f.se.WriteCount)
	assert.Equal(t, 1, f.se.CommitCount)

	pos, ok := f.se.ExecutionContext.GetInt("sliceReader.readCount")
	require.True(t, ok)
	assert.Equal(t, 2, pos)

	data, cpErr := f.repo.FindCheckpointData(context.Background(), f.se.ID)
	require.NoError(t, cpErr)
	saved, ok := data.ExecutionContext.GetInt("sliceReader.readCount")
	require.True(t, ok)
	assert.Equal(t, 2, saved)

	// A restart from the carried context commits only the items the
	// failed chunk never delivered.
	second := newFixture("a", "b", "c", "d")
	second.se.ExecutionContext = f.se.ExecutionContext.Copy()

	require.NoError(t, second.execute(t, chunk.StepConfig{ChunkSize: 2}))
	assert.Equal(t, []any{"c", "d"}, second.txm.Committed)
	assert.Equal(t, model.BatchStatusCompleted, second.se.Status)
}

// explodingChunkListener panics in BeforeChunk. Fatal controls whether the
// panic is escalated to the step or contained and logged.
type explodingChunkListener struct {
	fatal bool
}

func (l *explodingChunkListener) BeforeChunk(ctx context.Context, se *model.StepExecution) {
	panic("listener exploded")
}
func (l *explodingChunkListener) AfterChunk(ctx context.Context, se *model.StepExecution) {}
func (l *explodingChunkListener) Fatal() bool { return l.fatal }

func TestExecutePanickingChunkListenerIsContained(t *testing.T) {
	f := newFixture("a", "b")

	err := f.execute(t, chunk.StepConfig{
		ChunkSize:      2,
		ChunkListeners: []port.ChunkListener{&explodingChunkListener{}},
	})
	require.NoError(t, err)

	assert.Equal(t, model.BatchStatusCompleted, f.se.Status)
	assert.Equal(t, []any{"a", "b"}, f.txm.Committed)
}

func TestExecuteFatalChunkListenerPanicAbortsWithRollback(t *testing.T) {
	f := newFixture("a", "b")

	err := f.execute(t, chunk.StepConfig{
		ChunkSize:      2,
		ChunkListeners: []port.ChunkListener{&explodingChunkListener{fatal: true}},
	})
	require.Error(t, err)

	assert.Equal(t, model.BatchStatusFailed, f.se.Status)
	assert.Empty(t, f.txm.Committed)
	// Every opened transaction was closed by a rollback; nothing dangles.
	assert.Equal(t, f.txm.BeginCount, f.txm.Rollbacks)
	assert.Equal(t, 0, f.txm.CommitCount)
}

func TestExecuteStopFinishesCleanly(t *testing.T) {
	f := newFixture("a", "b", "c")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, f.repo.SaveStepExecution(context.Background(), f.se))
	err := f.step(chunk.StepConfig{ChunkSize: 2}).Execute(ctx, f.se.JobExecution, f.se)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, model.BatchStatusStopped, f.se.Status)
	assert.Equal(t, model.ExitStatusStopped, f.se.ExitStatus)
	assert.Empty(t, f.txm.Committed)
}

func TestExecutePassesOverCompletedStep(t *testing.T) {
	f := newFixture("a", "b")
	f.se.Status = model.BatchStatusCompleted
	listener := &test.RecordingStepListener{}

	err := f.execute(t, chunk.StepConfig{
		ChunkSize:     2,
		StepListeners: stepListeners(listener),
	})
	require.NoError(t, err)

	assert.False(t, f.reader.Opened)
	assert.Equal(t, 0, listener.Before)
	assert.Empty(t, f.txm.Committed)
}

func TestExecuteAllowStartIfCompleteRerunsStep(t *testing.T) {
	f := newFixture("a", "b")
	f.se.Status = model.BatchStatusCompleted

	err := f.execute(t, chunk.StepConfig{
		ChunkSize:            2,
		AllowStartIfComplete: true,
	})
	require.NoError(t, err)

	assert.True(t, f.reader.Opened)
	assert.Equal(t, []any{"a", "b"}, f.txm.Committed)
}

func TestExecuteRestartResumesFromCheckpoint(t *testing.T) {
	// First run fails after committing the first chunk.
	first := newFixture("a", "b", "c", "d", "e")
	first.reader.FailAt = map[int]error{3: errors.New("disk read failed")}

	err := first.execute(t, chunk.StepConfig{ChunkSize: 2})
	require.Error(t, err)
	assert.Equal(t, []any{"a", "b"}, first.txm.Committed)

	// Restart with the carried execution context resumes where the last
	// committed chunk left off; nothing already committed runs again.
	second := newFixture("a", "b", "c", "d", "e")
	second.se.ExecutionContext = first.se.ExecutionContext.Copy()

	err = second.execute(t, chunk.StepConfig{ChunkSize: 2})
	require.NoError(t, err)

	assert.Equal(t, []any{"c", "d", "e"}, second.txm.Committed)
	assert.Equal(t, model.BatchStatusCompleted, second.se.Status)
	assert.Equal(t, 5, second.se.ReadCount)
	assert.Equal(t, 5, second.se.WriteCount)
}

func TestExecutePromotionConfigured(t *testing.T) {
	f := newFixture("a")
	promotion := &model.ContextPromotion{Keys: []string{"sliceReader.readCount"}}
	step := f.step(chunk.StepConfig{ChunkSize: 1, Promotion: promotion})

	assert.Equal(t, promotion, step.ContextPromotion())
	assert.Equal(t, "importTransactions", step.ID())
}

// --- listener slice helpers ---

func stepListeners(ls ...*test.RecordingStepListener) []port.StepListener {
	out := make([]port.StepListener, len(ls))
	for i, l := range ls {
		out[i] = l
	}
	return out
}

func skipListeners(ls ...*test.RecordingSkipListener) []port.SkipListener {
	out := make([]port.SkipListener, len(ls))
	for i, l := range ls {
		out[i] = l
	}
	return out
}

func retryListeners(ls ...port.RetryListener) []port.RetryListener {
	return ls
}
