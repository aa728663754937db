package fault

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/marloq/riptide/pkg/batch/support/exception"
)

func transientErr() error {
	return exception.NewBatchError("reader", "connection reset", nil, exception.ClassTransient)
}

func malformedErr() error {
	return exception.NewBatchError("reader", "bad record", nil, exception.ClassMalformed)
}

func TestClassifyUnclassifiedAborts(t *testing.T) {
	p := NewPolicy(Rules{
		SkipClasses:  []string{exception.ClassMalformed},
		SkipLimit:    10,
		RetryClasses: []string{exception.ClassTransient},
		RetryLimit:   3,
	})

	assert.Equal(t, ActionAbort, p.Classify(errors.New("plain failure"), PhaseRead))
	assert.Equal(t, ActionAbort, p.Classify(nil, PhaseRead))
}

func TestClassifyTransactionAlwaysAborts(t *testing.T) {
	p := NewPolicy(Rules{
		SkipClasses:  []string{exception.ClassTransaction},
		SkipLimit:    10,
		RetryClasses: []string{exception.ClassTransaction},
		RetryLimit:   10,
	})

	err := exception.NewBatchError("chunk", "commit failed", nil, exception.ClassTransaction)
	assert.Equal(t, ActionAbort, p.Classify(err, PhaseWrite))
}

func TestClassifyRetryBudget(t *testing.T) {
	p := NewPolicy(Rules{
		RetryClasses: []string{exception.ClassTransient},
		RetryLimit:   2,
	})

	assert.Equal(t, ActionRetry, p.Classify(transientErr(), PhaseWrite))
	p.RecordRetry()
	assert.Equal(t, ActionRetry, p.Classify(transientErr(), PhaseWrite))
	p.RecordRetry()

	// Budget exhausted and the tag is not skippable.
	assert.Equal(t, ActionAbort, p.Classify(transientErr(), PhaseWrite))
	assert.Equal(t, 2, p.RetryCount())
}

func TestClassifyRetryWinsThenSkipTakesOver(t *testing.T) {
	p := NewPolicy(Rules{
		SkipClasses:  []string{exception.ClassTransient},
		SkipLimit:    1,
		RetryClasses: []string{exception.ClassTransient},
		RetryLimit:   1,
	})

	assert.Equal(t, ActionRetry, p.Classify(transientErr(), PhaseProcess))
	p.RecordRetry()

	assert.Equal(t, ActionSkip, p.Classify(transientErr(), PhaseProcess))
	p.RecordSkip(PhaseProcess)

	assert.Equal(t, ActionAbort, p.Classify(transientErr(), PhaseProcess))
}

func TestClassifySkipBudgetSpansPhases(t *testing.T) {
	p := NewPolicy(Rules{
		SkipClasses: []string{exception.ClassMalformed},
		SkipLimit:   2,
	})

	assert.Equal(t, ActionSkip, p.Classify(malformedErr(), PhaseRead))
	p.RecordSkip(PhaseRead)
	assert.Equal(t, ActionSkip, p.Classify(malformedErr(), PhaseWrite))
	p.RecordSkip(PhaseWrite)

	// The limit bounds the total across phases, not per phase.
	assert.Equal(t, ActionAbort, p.Classify(malformedErr(), PhaseProcess))

	assert.Equal(t, 1, p.SkipCount(PhaseRead))
	assert.Equal(t, 1, p.SkipCount(PhaseWrite))
	assert.Equal(t, 0, p.SkipCount(PhaseProcess))
	assert.Equal(t, 2, p.TotalSkipCount())
}

func TestClassifyZeroLimitsAbortImmediately(t *testing.T) {
	p := NewPolicy(Rules{
		SkipClasses:  []string{exception.ClassMalformed},
		RetryClasses: []string{exception.ClassTransient},
	})

	assert.Equal(t, ActionAbort, p.Classify(transientErr(), PhaseRead))
	assert.Equal(t, ActionAbort, p.Classify(malformedErr(), PhaseRead))
}

func TestClassifySeesThroughUnclassifiedWraps(t *testing.T) {
	p := NewPolicy(Rules{
		SkipClasses: []string{exception.ClassMalformed},
		SkipLimit:   1,
	})

	wrapped := exception.NewBatchError("chunk", "item processing failed", malformedErr(), "")
	assert.Equal(t, ActionSkip, p.Classify(wrapped, PhaseProcess))
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "RETRY", ActionRetry.String())
	assert.Equal(t, "SKIP", ActionSkip.String())
	assert.Equal(t, "ABORT", ActionAbort.String())
}
