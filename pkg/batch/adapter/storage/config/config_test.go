package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	connections := map[string]interface{}{
		"default": map[string]interface{}{
			"type":             "gcs",
			"bucket_name":      "predictions",
			"credentials_file": "/secrets/sa.json",
		},
		"scratch": map[string]interface{}{
			"type":     "local",
			"base_dir": "/tmp/retrainer",
		},
	}

	cfg, err := Lookup(connections, "default")
	require.NoError(t, err)
	assert.Equal(t, "gcs", cfg.Type)
	assert.Equal(t, "predictions", cfg.BucketName)
	assert.Equal(t, "/secrets/sa.json", cfg.CredentialsFile)

	cfg, err = Lookup(connections, "scratch")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/retrainer", cfg.BaseDir)

	_, err = Lookup(connections, "missing")
	assert.ErrorContains(t, err, "not found")
}
