// Package config holds the retrainer configuration model and its loader.
//
// Configuration is read from YAML (embedded in the binary or given with --config),
// merged over the defaults returned by NewConfig, and finally overridden by
// environment variables named after the yaml tags, e.g. RETRAINER_RETRAIN_EVALUATOR_THRESHOLD.
package config

// EmbeddedConfig is the raw YAML document handed over by main.
type EmbeddedConfig []byte

// LogLevel names a logging verbosity.
type LogLevel string

const (
	LogLevelDebug  LogLevel = "DEBUG"
	LogLevelInfo   LogLevel = "INFO"
	LogLevelWarn   LogLevel = "WARN"
	LogLevelError  LogLevel = "ERROR"
	LogLevelSilent LogLevel = "SILENT"
)

// RetryConfig configures exponential backoff for retryable failures.
type RetryConfig struct {
	MaxAttempts         int      `yaml:"max_attempts"`
	InitialInterval     int      `yaml:"initial_interval"` // milliseconds
	MaxInterval         int      `yaml:"max_interval"`     // milliseconds
	Factor              float64  `yaml:"factor"`
	RetryableExceptions []string `yaml:"retryable_exceptions"`
}

// BatchConfig holds settings of the batch engine.
type BatchConfig struct {
	// JobName is the name of the job launched by `retrainer run`.
	JobName string      `yaml:"job_name"`
	Retry   RetryConfig `yaml:"retry"`
}

// SecurityConfig holds security related settings.
type SecurityConfig struct {
	// MaskedParameterKeys lists job parameter keys whose values are masked when logged or persisted.
	MaskedParameterKeys []string `yaml:"masked_parameter_keys"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

// InfrastructureConfig selects the infrastructure implementations.
type InfrastructureConfig struct {
	// JobRepositoryType is "inmemory" or "sql".
	JobRepositoryType string `yaml:"job_repository_type"`
	// JobRepositoryDBRef names the database connection used when JobRepositoryType is "sql".
	JobRepositoryDBRef string `yaml:"job_repository_db_ref"`
	// MigrateOnStart applies the embedded schema migrations before the job runs.
	MigrateOnStart bool `yaml:"migrate_on_start"`
	// LockDir is where single-flight lock files are created. Empty means the OS temp dir.
	LockDir string `yaml:"lock_dir"`
}

// StorageConfig holds the named object store connections.
type StorageConfig struct {
	// OperationTimeoutSeconds bounds every single blob operation.
	OperationTimeoutSeconds int `yaml:"operation_timeout_seconds"`
	// Connections maps a connection name to its adapter settings. Each entry is decoded by the
	// adapter registered for its "type".
	Connections map[string]interface{} `yaml:"connections"`
}

// PrometheusConfig configures the Prometheus recorder.
type PrometheusConfig struct {
	Enabled bool `yaml:"enabled"`
	// PushGatewayURL, when set, receives the collected metrics at the end of the job.
	PushGatewayURL string `yaml:"push_gateway_url"`
	// JobLabel is the Pushgateway grouping job label.
	JobLabel string `yaml:"job_label"`
}

// OTLPConfig configures an OTLP exporter.
type OTLPConfig struct {
	// Protocol is "grpc" or "http".
	Protocol string `yaml:"protocol"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// OTelMetricsConfig configures OpenTelemetry metric export.
type OTelMetricsConfig struct {
	Enabled               bool       `yaml:"enabled"`
	ExportIntervalSeconds int        `yaml:"export_interval_seconds"`
	OTLP                  OTLPConfig `yaml:"otlp"`
}

// MetricsConfig groups metric backends.
type MetricsConfig struct {
	Prometheus PrometheusConfig  `yaml:"prometheus"`
	OTel       OTelMetricsConfig `yaml:"otel"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool       `yaml:"enabled"`
	ServiceName string     `yaml:"service_name"`
	OTLP        OTLPConfig `yaml:"otlp"`
}

// GCPConfig identifies the cloud project hosting the managed services.
type GCPConfig struct {
	ProjectID       string `yaml:"project_id"`
	Region          string `yaml:"region"`
	CredentialsFile string `yaml:"credentials_file"`
}

// ManifestConfig configures the manifest builder stage.
type ManifestConfig struct {
	// SourceURI is the image prefix, e.g. gs://bucket/images.
	SourceURI string `yaml:"source_uri"`
	// OutputFilename is written below SourceURI.
	OutputFilename string `yaml:"output_filename"`
	Extension      string `yaml:"extension"`
}

// InferenceConfig configures the batch prediction stage.
type InferenceConfig struct {
	ModelDisplayName     string `yaml:"model_display_name"`
	JobDisplayName       string `yaml:"job_display_name"`
	OutputURIPrefix      string `yaml:"output_uri_prefix"`
	InstancesFormat      string `yaml:"instances_format"`
	PredictionsFormat    string `yaml:"predictions_format"`
	MachineType          string `yaml:"machine_type"`
	AcceleratorType      string `yaml:"accelerator_type"`
	AcceleratorCount     int    `yaml:"accelerator_count"`
	StartingReplicaCount int    `yaml:"starting_replica_count"`
	MaxReplicaCount      int    `yaml:"max_replica_count"`
	WaitTimeoutSeconds   int    `yaml:"wait_timeout_seconds"`
	PollIntervalSeconds  int    `yaml:"poll_interval_seconds"`
}

// EvaluatorConfig configures the performance evaluator stage.
type EvaluatorConfig struct {
	// ResultsURI is the root holding one directory per prediction run.
	ResultsURI       string  `yaml:"results_uri"`
	Threshold        float64 `yaml:"threshold"`
	ResultFilePrefix string  `yaml:"result_file_prefix"`
	// AuditEnabled writes a Parquet file with per-record outcomes.
	AuditEnabled bool   `yaml:"audit_enabled"`
	AuditDir     string `yaml:"audit_dir"`
}

// SpanConfig configures the span preparator stage.
type SpanConfig struct {
	SourceURI      string  `yaml:"source_uri"`
	DestinationURI string  `yaml:"destination_uri"`
	ArchiveSuffix  string  `yaml:"archive_suffix"`
	TrainRatio     float64 `yaml:"train_ratio"`
	// Seed drives the shuffle. Zero seeds from the clock.
	Seed int64 `yaml:"seed"`
	// OnNoPriorSpan is "bootstrap" (create span 0) or "fail".
	OnNoPriorSpan   string         `yaml:"on_no_prior_span"`
	TrainDir        string         `yaml:"train_dir"`
	ValidationDir   string         `yaml:"validation_dir"`
	StagingDir      string         `yaml:"staging_dir"`
	SampleExtension string         `yaml:"sample_extension"`
	Labels          map[string]int `yaml:"labels"`
}

// TriggerConfig configures the pipeline trigger stage.
type TriggerConfig struct {
	PipelineSpecURI string `yaml:"pipeline_spec_uri"`
	PipelineRoot    string `yaml:"pipeline_root"`
	DisplayName     string `yaml:"display_name"`
	ServiceAccount  string `yaml:"service_account"`
	EnableCaching   bool   `yaml:"enable_caching"`
}

// RetrainConfig holds the settings of every retrain stage.
type RetrainConfig struct {
	GCP GCPConfig `yaml:"gcp"`
	// StorageRef names the storage connection every stage uses.
	StorageRef string          `yaml:"storage_ref"`
	Manifest   ManifestConfig  `yaml:"manifest"`
	Inference  InferenceConfig `yaml:"inference"`
	Evaluator  EvaluatorConfig `yaml:"evaluator"`
	Span       SpanConfig      `yaml:"span"`
	Trigger    TriggerConfig   `yaml:"trigger"`
}

// RetrainerConfig is everything below the "retrainer" key.
type RetrainerConfig struct {
	System         SystemConfig           `yaml:"system"`
	Batch          BatchConfig            `yaml:"batch"`
	Security       SecurityConfig         `yaml:"security"`
	Infrastructure InfrastructureConfig   `yaml:"infrastructure"`
	Storage        StorageConfig          `yaml:"storage"`
	Database       map[string]interface{} `yaml:"database"`
	Metrics        MetricsConfig          `yaml:"metrics"`
	Tracing        TracingConfig          `yaml:"tracing"`
	Retrain        RetrainConfig          `yaml:"retrain"`
}

// Config is the root of the configuration document.
type Config struct {
	Retrainer      RetrainerConfig `yaml:"retrainer"`
	EmbeddedConfig EmbeddedConfig  `yaml:"-"`
}

// GlobalConfig is the configuration loaded by NewConfigProvider.
var GlobalConfig *Config

// GetMaskedParameterKeys returns the masked parameter keys of GlobalConfig.
func GetMaskedParameterKeys() []string {
	if GlobalConfig == nil {
		return []string{}
	}
	return GlobalConfig.Retrainer.Security.MaskedParameterKeys
}

// DefaultLabels is the CIFAR-10 label vocabulary.
func DefaultLabels() map[string]int {
	return map[string]int{
		"airplane":   0,
		"automobile": 1,
		"bird":       2,
		"cat":        3,
		"deer":       4,
		"dog":        5,
		"frog":       6,
		"horse":      7,
		"ship":       8,
		"truck":      9,
	}
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Retrainer: RetrainerConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: string(LogLevelInfo)},
			},
			Batch: BatchConfig{
				JobName: "retrainJob",
				Retry: RetryConfig{
					MaxAttempts:         3,
					InitialInterval:     500,
					MaxInterval:         10000,
					Factor:              2.0,
					RetryableExceptions: []string{"TransientIO"},
				},
			},
			Security: SecurityConfig{
				MaskedParameterKeys: []string{"password", "api_key", "secret"},
			},
			Infrastructure: InfrastructureConfig{
				JobRepositoryType:  "inmemory",
				JobRepositoryDBRef: "metadata",
			},
			Storage: StorageConfig{
				OperationTimeoutSeconds: 60,
				Connections:             map[string]interface{}{},
			},
			Database: map[string]interface{}{},
			Metrics: MetricsConfig{
				Prometheus: PrometheusConfig{JobLabel: "retrainer"},
				OTel: OTelMetricsConfig{
					ExportIntervalSeconds: 15,
					OTLP:                  OTLPConfig{Protocol: "grpc"},
				},
			},
			Tracing: TracingConfig{
				ServiceName: "retrainer",
				OTLP:        OTLPConfig{Protocol: "grpc"},
			},
			Retrain: RetrainConfig{
				StorageRef: "default",
				Manifest: ManifestConfig{
					OutputFilename: "test-images.txt",
					Extension:      ".jpg",
				},
				Inference: InferenceConfig{
					JobDisplayName:       "retrainer-batch-prediction",
					InstancesFormat:      "file-list",
					PredictionsFormat:    "jsonl",
					MachineType:          "n1-standard-2",
					StartingReplicaCount: 1,
					MaxReplicaCount:      1,
					WaitTimeoutSeconds:   3600,
					PollIntervalSeconds:  30,
				},
				Evaluator: EvaluatorConfig{
					Threshold:        0.8,
					ResultFilePrefix: "prediction.results",
					AuditDir:         "evaluation",
				},
				Span: SpanConfig{
					ArchiveSuffix:   "_old",
					TrainRatio:      0.8,
					OnNoPriorSpan:   "bootstrap",
					TrainDir:        "train",
					ValidationDir:   "validation",
					StagingDir:      "_staging",
					SampleExtension: ".jpg",
					Labels:          DefaultLabels(),
				},
				Trigger: TriggerConfig{
					DisplayName: "retrainer-training-pipeline",
				},
			},
		},
	}
}
