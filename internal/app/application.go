package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/fx"

	"github.com/tigerroll/retrainer/internal/job"
	config "github.com/tigerroll/retrainer/pkg/batch/core/config"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

// Action is the work done once the application has started. Its error becomes the result of
// RunApplication.
type Action func(ctx context.Context, launcher *job.Launcher) error

// outcome carries the result of the Action out of the fx graph.
type outcome struct {
	err error
}

// RunApplication loads the configuration, starts the fx graph, runs action and shuts down.
// Cancelling appCtx interrupts the running job.
func RunApplication(appCtx context.Context, envFilePath string, embeddedConfig config.EmbeddedConfig, dbProviderOptions []fx.Option, action Action) error {
	cfg, err := config.LoadConfig(envFilePath, embeddedConfig)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Set log level based on loaded configuration
	logger.SetLogLevel(cfg.Retrainer.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Retrainer.System.Logging.Level)

	result := &outcome{}
	app := fx.New(options(appCtx, envFilePath, embeddedConfig, cfg, dbProviderOptions, action, result)...)

	// Execute the application
	app.Run()

	if err := app.Err(); err != nil {
		return errors.Join(fmt.Errorf("application run failed: %w", err), result.err)
	}
	return result.err
}

// options builds the fx graph of one application run.
func options(
	appCtx context.Context,
	envFilePath string,
	embeddedConfig config.EmbeddedConfig,
	cfg *config.Config,
	dbProviderOptions []fx.Option,
	action Action,
	result *outcome,
) []fx.Option {
	return []fx.Option{
		fx.Supply(
			embeddedConfig,
			fx.Annotate(envFilePath, fx.ResultTags(`name:"envFilePath"`)),
			fx.Annotate(
				appCtx,
				fx.As(new(context.Context)),
				fx.ResultTags(`name:"appCtx"`),
			),
		),
		Module,
		repositoryModule(cfg, dbProviderOptions),

		// Start the main application logic
		fx.Invoke(fx.Annotate(startAction(action, result), fx.ParamTags(
			"",              // lc fx.Lifecycle
			"",              // shutdowner fx.Shutdowner
			"",              // launcher *job.Launcher
			`name:"appCtx"`, // appCtx context.Context
		))),
	}
}

// startAction returns the function invoked by Fx to run action once the graph has started.
func startAction(action Action, result *outcome) func(fx.Lifecycle, fx.Shutdowner, *job.Launcher, context.Context) {
	return func(lc fx.Lifecycle, shutdowner fx.Shutdowner, launcher *job.Launcher, appCtx context.Context) {
		lc.Append(fx.Hook{
			OnStart: onStartAction(launcher, action, result, shutdowner, appCtx),
			OnStop:  onStopApplication(),
		})
	}
}

// onStartAction runs action in the background and requests shutdown when it returns.
func onStartAction(
	launcher *job.Launcher,
	action Action,
	result *outcome,
	shutdowner fx.Shutdowner,
	appCtx context.Context,
) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("Panic recovered in job execution: %v", r)
					result.err = fmt.Errorf("panic: %v", r)
				}
				logger.Infof("Requesting application shutdown after job completion.")
				if err := shutdowner.Shutdown(); err != nil {
					logger.Errorf("Failed to shutdown application: %v", err)
				}
			}()
			result.err = action(appCtx, launcher)
		}()
		return nil
	}
}

// onStopApplication is an Fx Hook helper function that logs application shutdown.
func onStopApplication() func(ctx context.Context) error {
	return func(ctx context.Context) error {
		logger.Infof("Application is shutting down.")
		return nil
	}
}

// LaunchStage returns an Action launching stage and handing its execution to report.
// A nil report discards the execution.
func LaunchStage(stage job.Stage, report func(*job.Report)) Action {
	return func(ctx context.Context, launcher *job.Launcher) error {
		je, err := launcher.Launch(ctx, stage)
		if je != nil && report != nil {
			report(job.NewReport(je))
		}
		return err
	}
}

// Migrate returns an Action applying command to the job repository schema.
func Migrate(command string) Action {
	return func(ctx context.Context, launcher *job.Launcher) error {
		version, err := launcher.Migrate(ctx, command)
		if err != nil {
			return err
		}
		logger.Infof("Job repository schema is at version %d.", version)
		return nil
	}
}
