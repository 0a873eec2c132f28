// Package incrementer derives the parameters of the next job execution from those of the previous one.
package incrementer

import (
	model "github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
)

// JobParametersIncrementer computes the next parameters. It never mutates params.
type JobParametersIncrementer interface {
	GetNext(params model.JobParameters) model.JobParameters
}

// Chain applies incrementers in order.
func Chain(params model.JobParameters, incrementers ...JobParametersIncrementer) model.JobParameters {
	for _, inc := range incrementers {
		params = inc.GetNext(params)
	}
	return params
}

func copyParams(params model.JobParameters) model.JobParameters {
	next := model.NewJobParameters()
	for k, v := range params.Params {
		next.Put(k, v)
	}
	return next
}
