package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/tigerroll/retrainer/internal/app"
	"github.com/tigerroll/retrainer/internal/job"
	config "github.com/tigerroll/retrainer/pkg/batch/core/config"
)

type options struct {
	configPath string
	jsonOutput bool
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "retrainer",
		Short:         "Evaluate the deployed model and retrain it when accuracy drops",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Configuration file path (defaults to the embedded configuration)")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Print the execution summary as JSON")

	rootCmd.AddCommand(newStageCommand(opts, job.StageRun, "Run the full cycle: predict, evaluate and retrain if needed"))
	rootCmd.AddCommand(newStageCommand(opts, job.StageManifest, "Write the file list of the images to predict"))
	rootCmd.AddCommand(newStageCommand(opts, job.StageEvaluate, "Evaluate the latest prediction run and decide"))
	rootCmd.AddCommand(newStageCommand(opts, job.StagePrepareSpan, "Move the evaluated images into the next training span"))
	rootCmd.AddCommand(newStageCommand(opts, job.StageTrigger, "Submit the training pipeline over the latest spans"))
	rootCmd.AddCommand(newMigrateCommand(opts))
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

func newStageCommand(opts *options, stage job.Stage, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(stage),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := opts.loadConfig()
			if err != nil {
				return err
			}
			report := func(r *job.Report) {
				if opts.jsonOutput {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					_ = enc.Encode(r)
					return
				}
				fmt.Fprint(cmd.OutOrStdout(), r.Render())
			}
			return app.RunApplication(cmd.Context(), envFilePath(), raw, dbProviderOptions(), app.LaunchStage(stage, report))
		},
	}
}

func newMigrateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or revert the job repository schema",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			command := "up"
			if len(args) == 1 {
				command = args[0]
			}
			raw, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return app.RunApplication(cmd.Context(), envFilePath(), raw, dbProviderOptions(), app.Migrate(command))
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

// loadConfig returns the configuration document: the --config file, or the embedded default.
func (o *options) loadConfig() (config.EmbeddedConfig, error) {
	if o.configPath == "" {
		return embeddedConfig, nil
	}
	raw, err := os.ReadFile(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", o.configPath, err)
	}
	return raw, nil
}

// envFilePath returns the .env file to load. ENV_FILE_PATH overrides the default ".env".
func envFilePath() string {
	if p := os.Getenv("ENV_FILE_PATH"); p != "" {
		return p
	}
	return ".env"
}

// dbProviderOptions selects the DB Providers named by DB_ADAPTORS (comma separated).
// Postgres, MySQL and SQLite are used when it is not set.
func dbProviderOptions() []fx.Option {
	adaptors := os.Getenv("DB_ADAPTORS")
	if adaptors == "" {
		adaptors = "postgres,mysql,sqlite"
	}
	var names []string
	for _, name := range strings.Split(adaptors, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return app.DBProviderOptions(names)
}
