// Package domain holds the value types shared by the retrain stages.
package domain

import (
	"fmt"

	"github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
)

// Decision is the outcome of a performance evaluation.
type Decision int

const (
	DecisionUnknown Decision = iota
	DecisionKeep
	DecisionRetrain
)

// Exit statuses the retrain gate routes on.
const (
	ExitStatusRetrain model.ExitStatus = "RETRAIN"
	ExitStatusKeep    model.ExitStatus = "KEEP"
)

// Decide returns DecisionRetrain iff accuracy is strictly below threshold.
func Decide(accuracy, threshold float64) Decision {
	if accuracy < threshold {
		return DecisionRetrain
	}
	return DecisionKeep
}

func (d Decision) String() string {
	switch d {
	case DecisionKeep:
		return string(ExitStatusKeep)
	case DecisionRetrain:
		return string(ExitStatusRetrain)
	}
	return "UNKNOWN"
}

// RetrainNeeded reports whether d asks for a new span and a training run.
func (d Decision) RetrainNeeded() bool {
	return d == DecisionRetrain
}

// ParseDecision is the inverse of String.
func ParseDecision(s string) (Decision, error) {
	switch s {
	case string(ExitStatusKeep):
		return DecisionKeep, nil
	case string(ExitStatusRetrain):
		return DecisionRetrain, nil
	case "UNKNOWN":
		return DecisionUnknown, nil
	}
	return DecisionUnknown, fmt.Errorf("unknown decision %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Decision) UnmarshalText(b []byte) error {
	parsed, err := ParseDecision(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
