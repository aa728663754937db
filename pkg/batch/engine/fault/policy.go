// Package fault implements the error handling policy of chunk-oriented steps.
// Every error raised during a chunk cycle is classified into one of three
// actions based on its classification tag and the remaining skip and retry
// budgets. The policy is pure decision logic; the chunk engine performs the
// actions.
package fault

import (
	"github.com/marloq/riptide/pkg/batch/support/exception"
)

// Phase identifies where in the chunk cycle an error occurred.
type Phase string

const (
	PhaseRead    Phase = "read"
	PhaseProcess Phase = "process"
	PhaseWrite   Phase = "write"
)

// Action is the decision the policy hands back to the chunk engine.
type Action int

const (
	// ActionAbort terminates the step. Unclassified errors, errors outside
	// the configured tag sets, and exhausted budgets all land here.
	ActionAbort Action = iota
	// ActionRetry rolls the chunk back and re-attempts it.
	ActionRetry
	// ActionSkip discards the offending item and continues.
	ActionSkip
)

// String returns the action name for logging.
func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "RETRY"
	case ActionSkip:
		return "SKIP"
	default:
		return "ABORT"
	}
}

// Rules is the configured fault handling of one step.
type Rules struct {
	// SkipClasses lists classification tags eligible for skipping.
	SkipClasses []string
	// SkipLimit bounds the total number of skipped items per step execution.
	SkipLimit int
	// RetryClasses lists classification tags eligible for retrying.
	RetryClasses []string
	// RetryLimit bounds the number of retry attempts per step execution.
	RetryLimit int
}

// Policy tracks the skip and retry budgets of one step execution and decides
// the action for each classified error. Not safe for concurrent use; each
// step execution owns its own Policy.
type Policy struct {
	rules      Rules
	retryable  map[string]bool
	skippable  map[string]bool
	retryCount int
	skipCounts map[Phase]int
}

// NewPolicy creates a Policy with fresh budgets for one step execution.
func NewPolicy(rules Rules) *Policy {
	p := &Policy{
		rules:      rules,
		retryable:  make(map[string]bool, len(rules.RetryClasses)),
		skippable:  make(map[string]bool, len(rules.SkipClasses)),
		skipCounts: make(map[Phase]int),
	}
	for _, c := range rules.RetryClasses {
		p.retryable[c] = true
	}
	for _, c := range rules.SkipClasses {
		p.skippable[c] = true
	}
	return p
}

// Classify decides the action for an error raised in the given phase.
// When a tag is both retryable and skippable, retry wins while the retry
// budget lasts, then skip takes over. Transaction demarcation errors and
// unclassified errors always abort.
func (p *Policy) Classify(err error, phase Phase) Action {
	if err == nil {
		return ActionAbort
	}

	class := exception.ClassOf(err)
	if class == "" || class == exception.ClassTransaction {
		return ActionAbort
	}

	if p.retryable[class] && p.retryCount < p.rules.RetryLimit {
		return ActionRetry
	}
	if p.skippable[class] && p.totalSkips() < p.rules.SkipLimit {
		return ActionSkip
	}
	return ActionAbort
}

// RecordRetry consumes one unit of the retry budget.
func (p *Policy) RecordRetry() {
	p.retryCount++
}

// RecordSkip consumes one unit of the skip budget for the given phase.
func (p *Policy) RecordSkip(phase Phase) {
	p.skipCounts[phase]++
}

// RetryCount returns the number of retries consumed so far.
func (p *Policy) RetryCount() int {
	return p.retryCount
}

// SkipCount returns the number of skips consumed in the given phase.
func (p *Policy) SkipCount(phase Phase) int {
	return p.skipCounts[phase]
}

func (p *Policy) totalSkips() int {
	total := 0
	for _, n := range p.skipCounts {
		total += n
	}
	return total
}

// TotalSkipCount returns the number of skips consumed across all phases.
func (p *Policy) TotalSkipCount() int {
	return p.totalSkips()
}
