package model

import "fmt"

// Transition is the action taken when an element finishes with a matching exit status.
// Exactly one of To, End, Fail or Stop is expected to be set.
type Transition struct {
	On   string `yaml:"on"`
	To   string `yaml:"to,omitempty"`
	End  bool   `yaml:"end,omitempty"`
	Fail bool   `yaml:"fail,omitempty"`
	Stop bool   `yaml:"stop,omitempty"`
}

// TransitionRule binds a Transition to its source element.
type TransitionRule struct {
	From       string
	Transition Transition
}

// FlowDefinition is the graph of steps and decisions a job executes.
type FlowDefinition struct {
	StartElement string
	// Elements holds port.FlowElement values; interface{} avoids an import cycle with port.
	Elements        map[string]interface{}
	TransitionRules []TransitionRule
}

// NewFlowDefinition creates an empty flow starting at startElement.
func NewFlowDefinition(startElement string) *FlowDefinition {
	return &FlowDefinition{
		StartElement: startElement,
		Elements:     make(map[string]interface{}),
	}
}

// AddElement registers a step or decision under id.
func (fd *FlowDefinition) AddElement(id string, element interface{}) error {
	if _, exists := fd.Elements[id]; exists {
		return fmt.Errorf("flow element ID '%s' already exists", id)
	}
	fd.Elements[id] = element
	return nil
}

func (fd *FlowDefinition) AddTransitionRule(from, on, to string, end, fail, stop bool) {
	fd.TransitionRules = append(fd.TransitionRules, TransitionRule{
		From:       from,
		Transition: Transition{On: on, To: to, End: end, Fail: fail, Stop: stop},
	})
}

// GetTransitionRule returns the first rule of from whose On equals exitStatus, or "*".
// Exact matches win over the wildcard regardless of declaration order.
func (fd *FlowDefinition) GetTransitionRule(from string, exitStatus ExitStatus) (TransitionRule, bool) {
	var wildcard *TransitionRule
	for i, rule := range fd.TransitionRules {
		if rule.From != from {
			continue
		}
		if rule.Transition.On == string(exitStatus) {
			return rule, true
		}
		if rule.Transition.On == "*" && wildcard == nil {
			wildcard = &fd.TransitionRules[i]
		}
	}
	if wildcard != nil {
		return *wildcard, true
	}
	return TransitionRule{}, false
}

// Validate checks that the start element and every transition target exist.
func (fd *FlowDefinition) Validate() error {
	if _, ok := fd.Elements[fd.StartElement]; !ok {
		return fmt.Errorf("start element '%s' is not defined", fd.StartElement)
	}
	for _, rule := range fd.TransitionRules {
		if _, ok := fd.Elements[rule.From]; !ok {
			return fmt.Errorf("transition source '%s' is not defined", rule.From)
		}
		if rule.Transition.To != "" {
			if _, ok := fd.Elements[rule.Transition.To]; !ok {
				return fmt.Errorf("transition target '%s' from '%s' is not defined", rule.Transition.To, rule.From)
			}
		}
	}
	return nil
}

// ExecutionContextPromotion lists step context keys copied into the job context when a step completes.
type ExecutionContextPromotion struct {
	Keys []string `yaml:"keys,omitempty"`
	// JobLevelKeys renames promoted keys at job level.
	JobLevelKeys map[string]string `yaml:"job-level-keys,omitempty"`
}
