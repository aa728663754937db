package model

import "fmt"

// Transition defines a routing rule from a flow element to the next one,
// matched against the element's exit status. On supports the "*" wildcard.
// Exactly one of To, End, Fail, or Stop applies.
type Transition struct {
	On   string
	To   string
	End  bool
	Fail bool
	Stop bool
}

// TransitionRule binds a Transition to its source element.
type TransitionRule struct {
	From       string
	Transition Transition
}

// FlowDefinition defines the execution flow of a job: its elements
// (steps and decisions) and the transition rules between them.
type FlowDefinition struct {
	StartElement    string
	Elements        map[string]interface{} // holds port.Step or port.Decision; interface{} avoids a cycle with port
	TransitionRules []TransitionRule
}

// NewFlowDefinition creates a new FlowDefinition starting at the given element.
func NewFlowDefinition(startElement string) *FlowDefinition {
	return &FlowDefinition{
		StartElement:    startElement,
		Elements:        make(map[string]interface{}),
		TransitionRules: make([]TransitionRule, 0),
	}
}

// AddElement registers a step or decision under the given ID.
func (fd *FlowDefinition) AddElement(id string, element interface{}) error {
	if _, exists := fd.Elements[id]; exists {
		return fmt.Errorf("flow element ID '%s' already exists", id)
	}
	fd.Elements[id] = element
	return nil
}

// AddTransitionRule appends a transition rule.
func (fd *FlowDefinition) AddTransitionRule(from, on, to string, end, fail, stop bool) {
	fd.TransitionRules = append(fd.TransitionRules, TransitionRule{
		From: from,
		Transition: Transition{
			On:   on,
			To:   to,
			End:  end,
			Fail: fail,
			Stop: stop,
		},
	})
}

// GetTransitionRule finds the transition rule matching the element's exit status.
// Exact matches are preferred over the "*" wildcard.
func (fd *FlowDefinition) GetTransitionRule(from string, exitStatus ExitStatus) (TransitionRule, bool) {
	var wildcard TransitionRule
	var hasWildcard bool
	for _, rule := range fd.TransitionRules {
		if rule.From != from {
			continue
		}
		if rule.Transition.On == string(exitStatus) {
			return rule, true
		}
		if rule.Transition.On == "*" && !hasWildcard {
			wildcard = rule
			hasWildcard = true
		}
	}
	return wildcard, hasWildcard
}

// ContextPromotion lists step execution context keys promoted to the job
// execution context when a step finishes. JobLevelKeys optionally renames
// a promoted key at the job level.
type ContextPromotion struct {
	Keys         []string
	JobLevelKeys map[string]string
}

// NewContextPromotion creates an empty ContextPromotion.
func NewContextPromotion() *ContextPromotion {
	return &ContextPromotion{
		Keys:         make([]string, 0),
		JobLevelKeys: make(map[string]string),
	}
}

// Apply copies the configured keys from the step context into the job context.
func (cp *ContextPromotion) Apply(stepCtx, jobCtx ExecutionContext) {
	if cp == nil {
		return
	}
	for _, key := range cp.Keys {
		val, ok := stepCtx.Get(key)
		if !ok {
			continue
		}
		target := key
		if renamed, ok := cp.JobLevelKeys[key]; ok && renamed != "" {
			target = renamed
		}
		jobCtx.Put(target, val)
	}
}
