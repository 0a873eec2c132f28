package incrementer

import (
	"fmt"

	model "github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

// RunIDIncrementer sets name to 1, or to its previous value plus one.
type RunIDIncrementer struct {
	name string
}

// NewRunIDIncrementer creates a RunIDIncrementer for the parameter name.
func NewRunIDIncrementer(name string) *RunIDIncrementer {
	return &RunIDIncrementer{name: name}
}

// GetNext implements JobParametersIncrementer.
func (i *RunIDIncrementer) GetNext(params model.JobParameters) model.JobParameters {
	next := copyParams(params)
	// Persisted parameters come back from JSON as float64.
	current, ok := params.GetFloat64(i.name)
	if !ok {
		next.Put(i.name, 1)
		logger.Debugf("RunIDIncrementer: '%s' not set, starting at 1.", i.name)
		return next
	}
	next.Put(i.name, int(current)+1)
	logger.Debugf("RunIDIncrementer: '%s' %d -> %d.", i.name, int(current), int(current)+1)
	return next
}

func (i *RunIDIncrementer) String() string {
	return fmt.Sprintf("RunIDIncrementer[name=%s]", i.name)
}

var _ JobParametersIncrementer = (*RunIDIncrementer)(nil)
