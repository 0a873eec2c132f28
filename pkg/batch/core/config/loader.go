package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

const moduleName = "config"

// ConfigParams are the inputs of NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig
	EnvFilePath    string              `name:"envFilePath" optional:"true"`
	Expander       EnvironmentExpander `optional:"true"`
}

// loadConfig builds the configuration: defaults, then YAML, then environment variables.
func loadConfig(envFilePath string, raw EmbeddedConfig, expander EnvironmentExpander) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) could not be loaded: %v", envFilePath, err)
		}
	} else if err := godotenv.Load(); err != nil {
		logger.Debugf(".env file not loaded: %v", err)
	}

	if expander == nil {
		expander = NewOsEnvironmentExpander()
	}
	expanded, err := expander.Expand(raw)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to expand environment placeholders", err, false)
	}

	cfg := NewConfig()

	var fromYAML Config
	if err := yaml.Unmarshal(expanded, &fromYAML); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to unmarshal configuration", err, false)
	}
	mergeValue(reflect.ValueOf(&cfg.Retrainer).Elem(), reflect.ValueOf(fromYAML.Retrainer))

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to load configuration from environment variables", err, false)
	}
	cfg.EmbeddedConfig = raw
	return cfg, nil
}

// LoadConfig loads the configuration outside of the fx graph.
func LoadConfig(envFilePath string, raw EmbeddedConfig) (*Config, error) {
	cfg, err := loadConfig(envFilePath, raw, nil)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewConfigProvider loads, validates and publishes the configuration, and applies the log level.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := loadConfig(params.EnvFilePath, params.EmbeddedConfig, params.Expander)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	GlobalConfig = cfg
	logger.SetLogLevel(cfg.Retrainer.System.Logging.Level)
	logger.Debugf("Log level set to: %s", cfg.Retrainer.System.Logging.Level)
	return cfg, nil
}

// Validate checks value ranges and references to registered error types.
func Validate(cfg *Config) error {
	r := cfg.Retrainer
	if t := r.Retrain.Evaluator.Threshold; t < 0 || t > 1 {
		return exception.NewBatchErrorf(moduleName, "retrain.evaluator.threshold must be within [0,1], got %v", t)
	}
	if ratio := r.Retrain.Span.TrainRatio; ratio <= 0 || ratio >= 1 {
		return exception.NewBatchErrorf(moduleName, "retrain.span.train_ratio must be within (0,1), got %v", ratio)
	}
	switch r.Retrain.Span.OnNoPriorSpan {
	case "bootstrap", "fail":
	default:
		return exception.NewBatchErrorf(moduleName, "retrain.span.on_no_prior_span must be 'bootstrap' or 'fail', got %q", r.Retrain.Span.OnNoPriorSpan)
	}
	if len(r.Retrain.Span.Labels) == 0 {
		return exception.NewBatchErrorf(moduleName, "retrain.span.labels must not be empty")
	}
	switch r.Infrastructure.JobRepositoryType {
	case "inmemory", "sql":
	default:
		return exception.NewBatchErrorf(moduleName, "infrastructure.job_repository_type must be 'inmemory' or 'sql', got %q", r.Infrastructure.JobRepositoryType)
	}
	if r.Storage.OperationTimeoutSeconds <= 0 {
		return exception.NewBatchErrorf(moduleName, "storage.operation_timeout_seconds must be positive")
	}
	return checkExceptionClasses(r.Batch.Retry.RetryableExceptions, "batch.retry")
}

func checkExceptionClasses(names []string, section string) error {
	for _, name := range names {
		if !exception.IsErrorTypeRegistered(name) {
			return exception.NewBatchErrorf(moduleName, "%s references unknown exception class %q", section, name)
		}
	}
	return nil
}

// mergeValue copies every non-zero field of src over dest.
// Structs are merged field by field. map[string]interface{} values are merged key by key,
// any other map replaces the destination wholesale.
func mergeValue(dest, src reflect.Value) {
	switch src.Kind() {
	case reflect.Struct:
		for i := 0; i < src.NumField(); i++ {
			if !dest.Field(i).CanSet() {
				continue
			}
			mergeValue(dest.Field(i), src.Field(i))
		}
	case reflect.Map:
		if src.IsNil() || src.Len() == 0 {
			return
		}
		if src.Type().Elem().Kind() != reflect.Interface || dest.IsNil() {
			dest.Set(src)
			return
		}
		iter := src.MapRange()
		for iter.Next() {
			dest.SetMapIndex(iter.Key(), iter.Value())
		}
	default:
		if !src.IsZero() {
			dest.Set(src)
		}
	}
}

// loadStructFromEnv overrides fields of val from environment variables named
// upper(prefix + yaml tag). Nested structs extend the prefix with "_".
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		tag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + tag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// setField parses value into field according to its kind. Slices of strings are comma separated.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(v)
	case reflect.Float32, reflect.Float64:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(v)
	case reflect.Bool:
		v, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(v)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return nil
		}
		parts := strings.Split(value, ",")
		out := reflect.MakeSlice(field.Type(), 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = reflect.Append(out, reflect.ValueOf(p))
			}
		}
		field.Set(out)
	}
	return nil
}
