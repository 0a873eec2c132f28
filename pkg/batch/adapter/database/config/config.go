// Package config holds the settings of a single database connection.
package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Type     string     `yaml:"type"`     // "sqlite", "mysql" or "postgres".
	Host     string     `yaml:"host"`     // Database host address.
	Port     int        `yaml:"port"`     // Database port number.
	Database string     `yaml:"database"` // Database name, or the file path for SQLite.
	User     string     `yaml:"user"`     // Database user.
	Password string     `yaml:"password"` // Database password.
	Sslmode  string     `yaml:"sslmode"`  // SSL mode for PostgreSQL.
	Pool     PoolConfig `yaml:"pool"`     // Connection pool settings.
}

// Lookup decodes the database connection called name out of the raw "database" section.
func Lookup(databases map[string]interface{}, name string) (DatabaseConfig, error) {
	var cfg DatabaseConfig
	raw, ok := databases[name]
	if !ok {
		return cfg, fmt.Errorf("database configuration '%s' not found", name)
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "yaml",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return cfg, fmt.Errorf("failed to create database config decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return cfg, fmt.Errorf("failed to decode database config for '%s': %w", name, err)
	}
	return cfg, nil
}
