// Package chunk implements chunk-oriented step execution: repeated
// read-process-write cycles where each chunk is one transaction and one
// checkpoint. A failed chunk rolls back as a unit; a committed chunk never
// runs again, even across process restarts.
package chunk

import (
	"context"
	"database/sql"
	"errors"
	"io"

	"github.com/marloq/riptide/pkg/batch/core/metrics"
	"github.com/marloq/riptide/pkg/batch/core/model"
	"github.com/marloq/riptide/pkg/batch/core/port"
	"github.com/marloq/riptide/pkg/batch/core/tx"
	"github.com/marloq/riptide/pkg/batch/engine/checkpoint"
	"github.com/marloq/riptide/pkg/batch/engine/fault"
	"github.com/marloq/riptide/pkg/batch/support/exception"
	"github.com/marloq/riptide/pkg/batch/support/logger"
)

// Listeners bundles the ordered listener lists a chunk processor notifies.
type Listeners struct {
	Chunk []port.ChunkListener
	Skip  []port.SkipListener
	Retry []port.RetryListener
}

// CycleResult reports the outcome of one chunk cycle.
type CycleResult struct {
	// Committed is the number of items written and committed by this cycle.
	Committed int
	// Exhausted reports that the reader returned ErrNoMoreItems.
	Exhausted bool
	// Retry requests a re-attempt of the chunk. Replay holds the raw items
	// already read; the re-attempt processes them again without re-reading.
	Retry  bool
	Replay []any
}

// Processor executes single chunk cycles. Each cycle runs in its own
// transaction: read up to chunkSize items, process them, write the batch,
// save the checkpoint, commit. Errors are classified by the fault policy;
// the processor performs skips and rollbacks itself and reports retry
// requests and aborts to the caller.
type Processor struct {
	name        string
	reader      port.ItemReader[any]
	processor   port.ItemProcessor[any, any]
	writer      port.ItemWriter[any]
	chunkSize   int
	txManager   tx.TransactionManager
	txOptions   *sql.TxOptions
	policy      *fault.Policy
	checkpoints *checkpoint.Manager
	listeners   Listeners
	recorder    metrics.MetricRecorder
	tracer      metrics.Tracer
}

// Cycle executes one chunk. replay, when non-nil, holds the raw items of a
// chunk being re-attempted after a retryable failure; they are reprocessed
// without touching the reader. The StepExecution's counters are updated in
// place as the cycle progresses.
func (p *Processor) Cycle(ctx context.Context, se *model.StepExecution, replay []any) (CycleResult, error) {
	var result CycleResult

	txn, err := p.txManager.Begin(ctx, p.txOptions)
	if err != nil {
		return result, exception.NewBatchError(p.name, "failed to begin transaction for chunk", err, exception.ClassTransaction)
	}

	if err := p.beforeChunk(ctx, se); err != nil {
		p.rollback(txn, se)
		return result, err
	}

	rawItems := replay
	if rawItems == nil {
		rawItems, result.Exhausted, err = p.readChunk(ctx, se)
		if err != nil {
			p.rollback(txn, se)
			p.afterChunk(ctx, se)
			return result, err
		}
	}

	if len(rawItems) == 0 {
		// Nothing read and nothing to write. The transaction did no work.
		p.txManager.Rollback(txn)
		p.afterChunk(ctx, se)
		return result, nil
	}

	toWrite, outcome, err := p.processChunk(ctx, se, rawItems)
	if err != nil {
		p.rollback(txn, se)
		p.afterChunk(ctx, se)
		return result, err
	}
	if outcome.retry {
		p.rollback(txn, se)
		p.afterChunk(ctx, se)
		result.Retry = true
		result.Replay = rawItems
		return result, nil
	}

	if len(toWrite) > 0 && p.writer != nil {
		writeOutcome, err := p.writeChunk(ctx, txn, se, toWrite)
		if err != nil {
			p.rollback(txn, se)
			p.afterChunk(ctx, se)
			return result, err
		}
		switch {
		case writeOutcome.retry:
			p.rollback(txn, se)
			p.afterChunk(ctx, se)
			result.Retry = true
			result.Replay = rawItems
			return result, nil
		case writeOutcome.split:
			// The failed batch was rolled back. Identify and skip the
			// offenders, then commit the surviving batch as one unit.
			p.rollback(txn, se)
			written, splitErr := p.splitWrite(ctx, se, toWrite)
			if splitErr != nil {
				p.afterChunk(ctx, se)
				return result, splitErr
			}
			result.Committed = written
			if err := p.afterChunk(ctx, se); err != nil {
				return result, err
			}
			return result, nil
		}
	}

	se.WriteCount += len(toWrite)
	se.CommitCount++

	snapshot, err := p.snapshotCheckpoint(ctx, se)
	if err != nil {
		se.WriteCount -= len(toWrite)
		se.CommitCount--
		p.rollback(txn, se)
		p.afterChunk(ctx, se)
		return result, err
	}
	inTx, err := p.checkpoints.SaveInTx(ctx, txn, snapshot)
	if err != nil {
		se.WriteCount -= len(toWrite)
		se.CommitCount--
		p.rollback(txn, se)
		p.afterChunk(ctx, se)
		return result, err
	}

	if err := p.txManager.Commit(txn); err != nil {
		// The provisional counters of this chunk never committed, and the
		// execution context still reflects the last committed chunk.
		se.WriteCount -= len(toWrite)
		se.CommitCount--
		se.RollbackCount++
		p.afterChunk(ctx, se)
		return result, exception.NewBatchError(p.name, "failed to commit chunk transaction", err, exception.ClassTransaction)
	}

	se.ExecutionContext = snapshot.ExecutionContext
	result.Committed = len(toWrite)
	p.recorder.RecordChunkCommit(ctx, p.name, len(toWrite))

	if !inTx {
		// The repository cannot join the chunk transaction; persist the
		// checkpoint only now that the chunk is committed. A failure here
		// fails the step and risks re-writing this chunk on restart, but
		// never loses committed items.
		if err := p.checkpoints.SaveCommitted(ctx, snapshot); err != nil {
			p.afterChunk(ctx, se)
			return result, err
		}
	}

	if err := p.afterChunk(ctx, se); err != nil {
		return result, err
	}
	return result, nil
}

// readChunk reads up to chunkSize items, applying the fault policy to read
// errors. Retryable failures leave the reader in place, so a retry simply
// calls Read again; a skip records the failure and moves on.
func (p *Processor) readChunk(ctx context.Context, se *model.StepExecution) ([]any, bool, error) {
	items := make([]any, 0, p.chunkSize)
	for len(items) < p.chunkSize {
		item, err := p.reader.Read(ctx)
		if err != nil {
			if errors.Is(err, port.ErrNoMoreItems) || errors.Is(err, io.EOF) {
				return items, true, nil
			}
			switch p.policy.Classify(err, fault.PhaseRead) {
			case fault.ActionRetry:
				p.policy.RecordRetry()
				se.RetryCount = p.policy.RetryCount()
				logger.Warnf("Step '%s': item read failed, retrying (attempt %d): %v", p.name, p.policy.RetryCount(), err)
				if nerr := p.notifyRetryRead(ctx, err); nerr != nil {
					return nil, false, nerr
				}
				continue
			case fault.ActionSkip:
				p.policy.RecordSkip(fault.PhaseRead)
				se.SkipReadCount++
				se.AddFailureException(err)
				logger.Warnf("Step '%s': item read skipped (%d skipped so far): %v", p.name, p.policy.TotalSkipCount(), err)
				if nerr := p.notifySkipRead(ctx, err); nerr != nil {
					return nil, false, nerr
				}
				continue
			default:
				return nil, false, exception.NewBatchError(p.name, "item read failed", err, "")
			}
		}
		p.recorder.RecordItemRead(ctx, p.name)
		se.ReadCount++
		items = append(items, item)
	}
	return items, false, nil
}

type phaseOutcome struct {
	retry bool
	split bool
}

// processChunk runs every raw item through the processor. A skip discards the
// offending item; a retry re-attempts the entire chunk from the raw items.
func (p *Processor) processChunk(ctx context.Context, se *model.StepExecution, rawItems []any) ([]any, phaseOutcome, error) {
	toWrite := make([]any, 0, len(rawItems))
	for _, item := range rawItems {
		out, err := p.processor.Process(ctx, item)
		if err != nil {
			switch p.policy.Classify(err, fault.PhaseProcess) {
			case fault.ActionRetry:
				p.policy.RecordRetry()
				se.RetryCount = p.policy.RetryCount()
				logger.Warnf("Step '%s': item process failed, retrying chunk (attempt %d): %v", p.name, p.policy.RetryCount(), err)
				if nerr := p.notifyRetryProcess(ctx, item, err); nerr != nil {
					return nil, phaseOutcome{}, nerr
				}
				return nil, phaseOutcome{retry: true}, nil
			case fault.ActionSkip:
				p.policy.RecordSkip(fault.PhaseProcess)
				se.SkipProcessCount++
				se.AddFailureException(err)
				logger.Warnf("Step '%s': item process skipped (%d skipped so far): %v", p.name, p.policy.TotalSkipCount(), err)
				if nerr := p.notifySkipProcess(ctx, item, err); nerr != nil {
					return nil, phaseOutcome{}, nerr
				}
				continue
			default:
				return nil, phaseOutcome{}, exception.NewBatchError(p.name, "item process failed", err, "")
			}
		}
		if out == nil {
			se.FilterCount++
			continue
		}
		p.recorder.RecordItemProcess(ctx, p.name)
		toWrite = append(toWrite, out)
	}
	return toWrite, phaseOutcome{}, nil
}

// writeChunk writes the whole batch. Retryable failures re-attempt the whole
// chunk; skippable failures fall back to item-by-item writes so the offender
// can be identified and discarded.
func (p *Processor) writeChunk(ctx context.Context, txn tx.Tx, se *model.StepExecution, items []any) (phaseOutcome, error) {
	err := p.writer.Write(ctx, txn, items)
	if err == nil {
		p.recorder.RecordItemWrite(ctx, p.name, len(items))
		return phaseOutcome{}, nil
	}

	switch p.policy.Classify(err, fault.PhaseWrite) {
	case fault.ActionRetry:
		p.policy.RecordRetry()
		se.RetryCount = p.policy.RetryCount()
		logger.Warnf("Step '%s': chunk write failed, retrying chunk (attempt %d): %v", p.name, p.policy.RetryCount(), err)
		if nerr := p.notifyRetryWrite(ctx, items, err); nerr != nil {
			return phaseOutcome{}, nerr
		}
		return phaseOutcome{retry: true}, nil
	case fault.ActionSkip:
		logger.Warnf("Step '%s': chunk write failed with a skippable error, splitting chunk: %v", p.name, err)
		se.AddFailureException(err)
		return phaseOutcome{split: true}, nil
	default:
		return phaseOutcome{}, exception.NewBatchError(p.name, "chunk write failed", err, "")
	}
}

// splitWrite re-attempts the chunk after a skippable batch write failure.
// Items are written one at a time inside a single transaction so the
// offender can be identified; when one fails, the transaction rolls back,
// the offender is skipped, and the surviving batch is re-attempted as a
// unit with the checkpoint joined to it. Nothing commits until a full pass
// succeeds, so an abort mid-split leaves neither partial writes nor a stale
// checkpoint behind. Returns the number of items committed.
func (p *Processor) splitWrite(ctx context.Context, se *model.StepExecution, items []any) (int, error) {
	remaining := items
	for len(remaining) > 0 {
		offender, err := p.attemptSplitBatch(ctx, se, remaining)
		if err != nil {
			return 0, err
		}
		if offender < 0 {
			return len(remaining), nil
		}
		remaining = append(remaining[:offender:offender], remaining[offender+1:]...)
	}
	return 0, nil
}

// attemptSplitBatch writes the batch item by item in one transaction and
// commits it with its checkpoint when every item succeeds. When an item
// fails with a skippable error, the transaction rolls back, the skip is
// recorded, and the item's index is returned so the caller can drop it and
// re-attempt. Any other failure aborts with nothing committed.
func (p *Processor) attemptSplitBatch(ctx context.Context, se *model.StepExecution, items []any) (int, error) {
	txn, err := p.txManager.Begin(ctx, p.txOptions)
	if err != nil {
		return -1, exception.NewBatchError(p.name, "failed to begin transaction for chunk split", err, exception.ClassTransaction)
	}

	for i, item := range items {
		writeErr := p.writer.Write(ctx, txn, []any{item})
		if writeErr == nil {
			continue
		}
		p.rollback(txn, se)
		if p.policy.Classify(writeErr, fault.PhaseWrite) != fault.ActionSkip {
			return -1, exception.NewBatchError(p.name, "item write failed during chunk split", writeErr, "")
		}
		p.policy.RecordSkip(fault.PhaseWrite)
		se.SkipWriteCount++
		se.AddFailureException(writeErr)
		logger.Warnf("Step '%s': item skipped during chunk split (%d skipped so far): %v", p.name, p.policy.TotalSkipCount(), writeErr)
		if nerr := p.notifySkipWrite(ctx, item, writeErr); nerr != nil {
			return -1, nerr
		}
		return i, nil
	}

	se.WriteCount += len(items)
	se.CommitCount++
	snapshot, err := p.snapshotCheckpoint(ctx, se)
	if err != nil {
		se.WriteCount -= len(items)
		se.CommitCount--
		p.rollback(txn, se)
		return -1, err
	}
	inTx, err := p.checkpoints.SaveInTx(ctx, txn, snapshot)
	if err != nil {
		se.WriteCount -= len(items)
		se.CommitCount--
		p.rollback(txn, se)
		return -1, err
	}

	if commitErr := p.txManager.Commit(txn); commitErr != nil {
		se.WriteCount -= len(items)
		se.CommitCount--
		se.RollbackCount++
		return -1, exception.NewBatchError(p.name, "failed to commit transaction during chunk split", commitErr, exception.ClassTransaction)
	}

	se.ExecutionContext = snapshot.ExecutionContext
	p.recorder.RecordItemWrite(ctx, p.name, len(items))

	if !inTx {
		if err := p.checkpoints.SaveCommitted(ctx, snapshot); err != nil {
			return -1, err
		}
	}
	return -1, nil
}

// snapshotCheckpoint composes the checkpoint payload from the current
// component positions and step counters.
func (p *Processor) snapshotCheckpoint(ctx context.Context, se *model.StepExecution) (*model.CheckpointData, error) {
	position, err := p.snapshotPosition(ctx)
	if err != nil {
		return nil, err
	}
	return p.checkpoints.Snapshot(se, position), nil
}

// snapshotPosition collects checkpoint entries from the reader and writer.
// Components expose positions through the optional Checkpointer capability.
func (p *Processor) snapshotPosition(ctx context.Context) (model.ExecutionContext, error) {
	position := model.NewExecutionContext()
	if cp, ok := p.reader.(port.Checkpointer); ok {
		ec, err := cp.Checkpoint(ctx)
		if err != nil {
			return nil, exception.NewBatchError(p.name, "failed to checkpoint ItemReader", err, "")
		}
		position.MergeFrom(ec)
	}
	if cp, ok := p.writer.(port.Checkpointer); ok {
		ec, err := cp.Checkpoint(ctx)
		if err != nil {
			return nil, exception.NewBatchError(p.name, "failed to checkpoint ItemWriter", err, "")
		}
		position.MergeFrom(ec)
	}
	return position, nil
}

func (p *Processor) rollback(txn tx.Tx, se *model.StepExecution) {
	if err := p.txManager.Rollback(txn); err != nil {
		logger.Errorf("Step '%s': rollback failed: %v", p.name, err)
	}
	se.RollbackCount++
	p.recorder.RecordChunkRollback(context.Background(), p.name)
}

// --- listener notification ---
//
// Listener callbacks go through port.Notify: a panicking listener is logged
// and ignored, unless it opted into fatal escalation, in which case the
// returned error aborts the chunk.

func (p *Processor) beforeChunk(ctx context.Context, se *model.StepExecution) error {
	for _, l := range p.listeners.Chunk {
		if err := port.Notify(l, "BeforeChunk", func() { l.BeforeChunk(ctx, se) }); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) afterChunk(ctx context.Context, se *model.StepExecution) error {
	var first error
	for _, l := range p.listeners.Chunk {
		if err := port.Notify(l, "AfterChunk", func() { l.AfterChunk(ctx, se) }); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (p *Processor) notifyRetryRead(ctx context.Context, cause error) error {
	p.tracer.RecordError(ctx, p.name, cause)
	p.recorder.RecordRetry(ctx, p.name, exception.ClassOf(cause))
	for _, l := range p.listeners.Retry {
		if err := port.Notify(l, "OnRetryRead", func() { l.OnRetryRead(ctx, cause) }); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) notifyRetryProcess(ctx context.Context, item any, cause error) error {
	p.tracer.RecordError(ctx, p.name, cause)
	p.recorder.RecordRetry(ctx, p.name, exception.ClassOf(cause))
	for _, l := range p.listeners.Retry {
		if err := port.Notify(l, "OnRetryProcess", func() { l.OnRetryProcess(ctx, item, cause) }); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) notifyRetryWrite(ctx context.Context, items []any, cause error) error {
	p.tracer.RecordError(ctx, p.name, cause)
	p.recorder.RecordRetry(ctx, p.name, exception.ClassOf(cause))
	boxed := make([]interface{}, len(items))
	for i, item := range items {
		boxed[i] = item
	}
	for _, l := range p.listeners.Retry {
		if err := port.Notify(l, "OnRetryWrite", func() { l.OnRetryWrite(ctx, boxed, cause) }); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) notifySkipRead(ctx context.Context, cause error) error {
	p.tracer.RecordError(ctx, p.name, cause)
	p.recorder.RecordItemSkip(ctx, p.name, exception.ClassOf(cause))
	for _, l := range p.listeners.Skip {
		if err := port.Notify(l, "OnSkipRead", func() { l.OnSkipRead(ctx, cause) }); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) notifySkipProcess(ctx context.Context, item any, cause error) error {
	p.tracer.RecordError(ctx, p.name, cause)
	p.recorder.RecordItemSkip(ctx, p.name, exception.ClassOf(cause))
	for _, l := range p.listeners.Skip {
		if err := port.Notify(l, "OnSkipProcess", func() { l.OnSkipProcess(ctx, item, cause) }); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) notifySkipWrite(ctx context.Context, item any, cause error) error {
	p.tracer.RecordError(ctx, p.name, cause)
	p.recorder.RecordItemSkip(ctx, p.name, exception.ClassOf(cause))
	for _, l := range p.listeners.Skip {
		if err := port.Notify(l, "OnSkipWrite", func() { l.OnSkipWrite(ctx, item, cause) }); err != nil {
			return err
		}
	}
	return nil
}
