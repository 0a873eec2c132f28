package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"

	"github.com/tigerroll/retrainer/internal/job"
	config "github.com/tigerroll/retrainer/pkg/batch/core/config"
)

func noop(ctx context.Context, launcher *job.Launcher) error { return nil }

func TestGraphIsComplete(t *testing.T) {
	for _, repoType := range []string{"inmemory", "sql"} {
		t.Run(repoType, func(t *testing.T) {
			cfg := config.NewConfig()
			cfg.Retrainer.Infrastructure.JobRepositoryType = repoType
			raw := config.EmbeddedConfig("retrainer:\n  infrastructure:\n    job_repository_type: " + repoType + "\n")

			opts := options(context.Background(), "", raw, cfg, DBProviderOptions([]string{"sqlite"}), noop, &outcome{})
			require.NoError(t, fx.ValidateApp(opts...))
		})
	}
}

func TestDBProviderOptionsSkipsUnknown(t *testing.T) {
	assert.Len(t, DBProviderOptions([]string{"sqlite", "oracle", "postgres"}), 2)
	assert.Empty(t, DBProviderOptions(nil))
}
