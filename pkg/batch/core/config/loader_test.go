package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
retrainer:
  system:
    logging:
      level: DEBUG
  storage:
    connections:
      default:
        type: local
        base_dir: ${RETRAINER_TEST_BASE_DIR}
  retrain:
    evaluator:
      results_uri: gs://results/predictions
      threshold: 0.75
    span:
      labels:
        cat: 0
        dog: 1
`

func TestLoadConfigMergesYAMLOverDefaults(t *testing.T) {
	t.Setenv("RETRAINER_TEST_BASE_DIR", "/var/data")

	cfg, err := LoadConfig("", EmbeddedConfig(sampleYAML))
	require.NoError(t, err)

	r := cfg.Retrainer
	assert.Equal(t, "DEBUG", r.System.Logging.Level)
	assert.Equal(t, "UTC", r.System.Timezone)
	assert.Equal(t, 0.75, r.Retrain.Evaluator.Threshold)
	assert.Equal(t, "prediction.results", r.Retrain.Evaluator.ResultFilePrefix)
	assert.Equal(t, "gs://results/predictions", r.Retrain.Evaluator.ResultsURI)
	assert.Equal(t, map[string]int{"cat": 0, "dog": 1}, r.Retrain.Span.Labels)
	assert.Equal(t, "validation", r.Retrain.Span.ValidationDir)

	conn, ok := r.Storage.Connections["default"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "/var/data", conn["base_dir"])
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("RETRAINER_TEST_BASE_DIR", "/tmp")
	t.Setenv("RETRAINER_RETRAIN_EVALUATOR_THRESHOLD", "0.9")
	t.Setenv("RETRAINER_RETRAIN_SPAN_SEED", "42")
	t.Setenv("RETRAINER_TRACING_ENABLED", "true")
	t.Setenv("RETRAINER_BATCH_RETRY_RETRYABLE_EXCEPTIONS", "TransientIO, Timeout")

	cfg, err := LoadConfig("", EmbeddedConfig(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 0.9, cfg.Retrainer.Retrain.Evaluator.Threshold)
	assert.Equal(t, int64(42), cfg.Retrainer.Retrain.Span.Seed)
	assert.True(t, cfg.Retrainer.Tracing.Enabled)
	assert.Equal(t, []string{"TransientIO", "Timeout"}, cfg.Retrainer.Batch.Retry.RetryableExceptions)
}

func TestLoadConfigRejectsInvalidEnvValue(t *testing.T) {
	t.Setenv("RETRAINER_RETRAIN_SPAN_SEED", "not-a-number")

	_, err := LoadConfig("", EmbeddedConfig(""))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, Validate(cfg))

	cfg.Retrainer.Retrain.Evaluator.Threshold = 1.5
	assert.Error(t, Validate(cfg))

	cfg = NewConfig()
	cfg.Retrainer.Retrain.Span.OnNoPriorSpan = "maybe"
	assert.Error(t, Validate(cfg))

	cfg = NewConfig()
	cfg.Retrainer.Batch.Retry.RetryableExceptions = []string{"NoSuchError"}
	assert.Error(t, Validate(cfg))
}

func TestNewConfigProviderSetsGlobalConfig(t *testing.T) {
	t.Cleanup(func() { GlobalConfig = nil })

	cfg, err := NewConfigProvider(ConfigParams{EmbeddedConfig: EmbeddedConfig("retrainer:\n  system:\n    logging:\n      level: WARN\n")})
	require.NoError(t, err)
	assert.Same(t, cfg, GlobalConfig)
	assert.Equal(t, []string{"password", "api_key", "secret"}, GetMaskedParameterKeys())
}
