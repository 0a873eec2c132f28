package config

import "go.uber.org/fx"

// NewLoggingConfigProvider exposes the logging section on its own.
func NewLoggingConfigProvider(cfg *Config) *LoggingConfig {
	return &cfg.Retrainer.System.Logging
}

// NewRetrainConfigProvider exposes the retrain section on its own.
func NewRetrainConfigProvider(cfg *Config) *RetrainConfig {
	return &cfg.Retrainer.Retrain
}

// Module provides *Config and its commonly injected sections.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(NewOsEnvironmentExpander, fx.As(new(EnvironmentExpander))),
		NewConfigProvider,
		NewLoggingConfigProvider,
		NewRetrainConfigProvider,
	),
)
