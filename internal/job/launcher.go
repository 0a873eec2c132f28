package job

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/fx"

	"github.com/tigerroll/retrainer/internal/retrain/inference"
	"github.com/tigerroll/retrainer/internal/retrain/lock"
	"github.com/tigerroll/retrainer/internal/retrain/pipeline"
	"github.com/tigerroll/retrainer/pkg/batch/adapter/storage"
	"github.com/tigerroll/retrainer/pkg/batch/component/tasklet/migration"
	port "github.com/tigerroll/retrainer/pkg/batch/core/application/port"
	config "github.com/tigerroll/retrainer/pkg/batch/core/config"
	model "github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/retrainer/pkg/batch/core/domain/repository"
	jobRunner "github.com/tigerroll/retrainer/pkg/batch/core/job/runner"
	metrics "github.com/tigerroll/retrainer/pkg/batch/core/metrics"
	"github.com/tigerroll/retrainer/pkg/batch/core/support/incrementer"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

// Job parameter keys set on every launch.
const (
	RunIDParam     = "run.id"
	TimestampParam = "run.timestamp"
	StageParam     = "stage"
)

// Params defines the dependencies of the Builder and the Launcher.
type Params struct {
	fx.In
	Config        *config.Config
	Resolver      storage.StorageConnectionResolver
	Repository    repository.JobRepository
	Recorder      metrics.MetricRecorder
	Tracer        metrics.Tracer
	JobListeners  []port.JobExecutionListener  `group:"job_listeners"`
	StepListeners []port.StepExecutionListener `group:"step_listeners"`
	Predictions   inference.ServiceFactory
	Pipelines     pipeline.ServiceFactory
	JobLauncher   *jobRunner.JobLauncher
	// Migrations is only provided with the sql job repository.
	Migrations migration.TaskletFactory `optional:"true"`
}

// Launcher runs one stage of the retrain cycle at a time. Launches sharing a span destination
// are serialized through a file lock, also across processes.
type Launcher struct {
	builder    *Builder
	launcher   *jobRunner.JobLauncher
	repo       repository.JobRepository
	cfg        *config.Config
	migrations migration.TaskletFactory
	incs       []incrementer.JobParametersIncrementer
}

// NewLauncher creates a Launcher.
func NewLauncher(p Params) *Launcher {
	return &Launcher{
		builder:    NewBuilder(p),
		launcher:   p.JobLauncher,
		repo:       p.Repository,
		cfg:        p.Config,
		migrations: p.Migrations,
		incs: []incrementer.JobParametersIncrementer{
			incrementer.NewRunIDIncrementer(RunIDParam),
			incrementer.NewTimestampIncrementer(TimestampParam),
		},
	}
}

// Launch runs stage to completion and returns its execution. A non-nil error means the job
// failed or never started; the execution is nil only in the latter case.
func (l *Launcher) Launch(ctx context.Context, stage Stage) (*model.JobExecution, error) {
	job, err := l.builder.Build(stage)
	if err != nil {
		return nil, err
	}

	infra := l.cfg.Retrainer.Infrastructure
	if infra.MigrateOnStart && infra.JobRepositoryType == "sql" {
		if _, err := l.Migrate(ctx, "up"); err != nil {
			return nil, err
		}
	}

	held, err := lock.Acquire(infra.LockDir, l.lockKey())
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := held.Release(); err != nil {
			logger.Warnf("Launcher: %v", err)
		}
	}()

	params, err := l.nextParameters(ctx, job.JobName())
	if err != nil {
		return nil, err
	}
	params.Put(StageParam, string(stage))

	logger.Infof("Launching stage '%s' as job '%s'.", stage, job.JobName())
	return l.launcher.Launch(ctx, job, params)
}

// lockKey identifies what a cycle writes: the span destination, or the results root when no
// destination is configured.
func (l *Launcher) lockKey() string {
	rc := l.cfg.Retrainer.Retrain
	if rc.Span.DestinationURI != "" {
		return rc.Span.DestinationURI
	}
	return rc.Evaluator.ResultsURI
}

// nextParameters derives the parameters of the next run from those of the latest execution.
func (l *Launcher) nextParameters(ctx context.Context, jobName string) (model.JobParameters, error) {
	prev := model.NewJobParameters()
	last, err := l.repo.FindLatestJobExecution(ctx, jobName)
	switch {
	case err == nil:
		prev = last.Parameters
	case errors.Is(err, repository.ErrJobExecutionNotFound):
	default:
		return model.JobParameters{}, exception.NewBatchError(module, fmt.Sprintf("failed to look up the latest execution of '%s'", jobName), err, false)
	}
	return incrementer.Chain(prev, l.incs...), nil
}

// Migrate applies ("up") or reverts ("down") the job repository schema and returns the resulting
// version. The migration runs outside any job because the repository tables may not exist yet.
func (l *Launcher) Migrate(ctx context.Context, command string) (int, error) {
	if l.migrations == nil {
		return 0, exception.NewBatchErrorf(module, "schema migrations need the sql job repository (job_repository_type is '%s')", l.cfg.Retrainer.Infrastructure.JobRepositoryType)
	}
	t, err := l.migrations(command)
	if err != nil {
		return 0, err
	}
	defer t.Close(ctx)

	je := model.NewJobExecution("migration", model.NewJobParameters())
	se := model.NewStepExecution(model.NewID(), je, "migrate")
	if _, err := t.Execute(ctx, se); err != nil {
		return 0, err
	}
	version, _ := migration.VersionKey.Get(se.ExecutionContext)
	return version, nil
}

// Builder returns the flow builder used by l.
func (l *Launcher) Builder() *Builder {
	return l.builder
}
