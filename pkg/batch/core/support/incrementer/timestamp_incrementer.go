package incrementer

import (
	"fmt"
	"strconv"
	"time"

	model "github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
)

// TimestampIncrementer stores the current Unix milliseconds under name, as a string.
type TimestampIncrementer struct {
	name string
	now  func() time.Time
}

// NewTimestampIncrementer creates a TimestampIncrementer for the parameter name.
func NewTimestampIncrementer(name string) *TimestampIncrementer {
	return &TimestampIncrementer{name: name, now: time.Now}
}

// GetNext implements JobParametersIncrementer.
func (i *TimestampIncrementer) GetNext(params model.JobParameters) model.JobParameters {
	next := copyParams(params)
	next.Put(i.name, strconv.FormatInt(i.now().UnixMilli(), 10))
	return next
}

func (i *TimestampIncrementer) String() string {
	return fmt.Sprintf("TimestampIncrementer[name=%s]", i.name)
}

var _ JobParametersIncrementer = (*TimestampIncrementer)(nil)
