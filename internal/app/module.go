// Package app assembles the retrainer application with uber-fx.
package app

import (
	"go.uber.org/fx"

	"github.com/tigerroll/retrainer/internal/job"
	"github.com/tigerroll/retrainer/internal/retrain/inference"
	"github.com/tigerroll/retrainer/internal/retrain/pipeline"
	"github.com/tigerroll/retrainer/internal/retrain/vertex"
	gormadapter "github.com/tigerroll/retrainer/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/retrainer/pkg/batch/adapter/database/gorm/mysql"
	"github.com/tigerroll/retrainer/pkg/batch/adapter/database/gorm/postgres"
	"github.com/tigerroll/retrainer/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/retrainer/pkg/batch/adapter/storage"
	"github.com/tigerroll/retrainer/pkg/batch/adapter/storage/gcs"
	"github.com/tigerroll/retrainer/pkg/batch/adapter/storage/local"
	migrationTasklet "github.com/tigerroll/retrainer/pkg/batch/component/tasklet/migration"
	config "github.com/tigerroll/retrainer/pkg/batch/core/config"
	jobRunner "github.com/tigerroll/retrainer/pkg/batch/core/job/runner"
	"github.com/tigerroll/retrainer/pkg/batch/core/metrics"
	"github.com/tigerroll/retrainer/pkg/batch/engine/step/retry"
	infraMetrics "github.com/tigerroll/retrainer/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/retrainer/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/retrainer/pkg/batch/infrastructure/repository/sql"
	batchlistener "github.com/tigerroll/retrainer/pkg/batch/listener"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

// DBProviderModules maps a dialect name to the module contributing its DBProvider.
var DBProviderModules = map[string]fx.Option{
	"postgres": postgres.Module,
	"mysql":    mysql.Module,
	"sqlite":   sqlite.Module,
}

// DBProviderOptions selects the dialects compiled into the graph. Unknown names are skipped with
// a warning.
func DBProviderOptions(names []string) []fx.Option {
	options := make([]fx.Option, 0, len(names))
	for _, name := range names {
		module, ok := DBProviderModules[name]
		if !ok {
			logger.Warnf("DB Provider '%s' is configured but not recognized/supported. Skipping.", name)
			continue
		}
		options = append(options, module)
		logger.Debugf("DB Provider '%s' selected and registered.", name)
	}
	return options
}

// NewServiceFactories provides the Vertex AI backed prediction and pipeline services.
func NewServiceFactories(cfg *config.Config) (inference.ServiceFactory, pipeline.ServiceFactory) {
	return vertex.Factories(cfg.Retrainer.Retrain)
}

// Module holds everything that does not depend on the job repository type.
var Module = fx.Options(
	logger.Module,
	config.Module,
	metrics.Module,
	infraMetrics.Module,
	retry.Module,
	storage.Module,
	local.Module,
	gcs.Module,
	batchlistener.Module,
	jobRunner.Module,
	fx.Provide(NewServiceFactories),
	job.Module,
)

// repositoryModule selects the job repository named by infrastructure.job_repository_type.
func repositoryModule(cfg *config.Config, dbProviderOptions []fx.Option) fx.Option {
	if cfg.Retrainer.Infrastructure.JobRepositoryType != "sql" {
		return inmemory.Module
	}
	return fx.Options(
		fx.Options(dbProviderOptions...),
		gormadapter.Module,
		sql.Module,
		migrationTasklet.Module,
	)
}
