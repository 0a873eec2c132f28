package inmemory

import (
	"go.uber.org/fx"

	"github.com/tigerroll/retrainer/pkg/batch/core/domain/repository"
)

// Module provides the in-memory repository as repository.JobRepository.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewInMemoryJobRepository,
			fx.As(new(repository.JobRepository)),
		),
	),
)
