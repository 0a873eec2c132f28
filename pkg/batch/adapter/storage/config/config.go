// Package config holds the settings of a single storage connection.
package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// StorageConfig holds configuration for a single storage connection.
type StorageConfig struct {
	Type            string `yaml:"type"`             // "gcs" or "local".
	BucketName      string `yaml:"bucket_name"`      // Default bucket when an operation names none.
	CredentialsFile string `yaml:"credentials_file"` // Service account key for GCS.
	ProjectID       string `yaml:"project_id"`       // Billing project for requester-pays buckets.
	Endpoint        string `yaml:"endpoint"`         // Overrides the GCS endpoint, e.g. for an emulator.
	BaseDir         string `yaml:"base_dir"`         // Root directory for the local adapter.
}

// DatasourcesConfig holds a map of named storage configurations.
type DatasourcesConfig map[string]StorageConfig

// Decode decodes one entry of storage.connections, honoring yaml tags.
func Decode(raw interface{}) (StorageConfig, error) {
	var cfg StorageConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "yaml",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return cfg, fmt.Errorf("failed to create storage config decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return cfg, fmt.Errorf("failed to decode storage config: %w", err)
	}
	return cfg, nil
}

// Lookup decodes the connection called name out of the raw connections map.
func Lookup(connections map[string]interface{}, name string) (StorageConfig, error) {
	raw, ok := connections[name]
	if !ok {
		return StorageConfig{}, fmt.Errorf("storage connection '%s' not found in configuration", name)
	}
	cfg, err := Decode(raw)
	if err != nil {
		return cfg, fmt.Errorf("storage connection '%s': %w", name, err)
	}
	return cfg, nil
}
