package manifest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/retrainer/pkg/batch/core/config"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
	"github.com/tigerroll/retrainer/pkg/batch/test"
)

func manifestConfig() config.ManifestConfig {
	cfg := config.NewConfig().Retrainer.Retrain.Manifest
	cfg.SourceURI = "gs://src/images"
	return cfg
}

func TestBuild(t *testing.T) {
	store := test.NewLocalStore(t)
	store.PutString("src", "images/dog_0002.jpg", "")
	store.PutString("src", "images/cat_0001.jpg", "")
	store.PutString("src", "images/notes.txt", "")
	store.PutString("src", "images/old/cat_0000.jpg", "")

	uri, n, err := NewBuilder(store, manifestConfig()).Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gs://src/images/test-images.txt", uri)
	assert.Equal(t, 2, n)
	assert.Equal(t, "gs://src/images/cat_0001.jpg\ngs://src/images/dog_0002.jpg\n", string(store.Get("src", "images/test-images.txt")))
}

func TestBuildWithoutImages(t *testing.T) {
	store := test.NewLocalStore(t)
	_, _, err := NewBuilder(store, manifestConfig()).Build(context.Background())
	assert.ErrorIs(t, err, exception.ErrNoSamples)
}

func TestBuildRejectsNestedOutput(t *testing.T) {
	cfg := manifestConfig()
	cfg.OutputFilename = "a/b.txt"
	_, _, err := NewBuilder(test.NewLocalStore(t), cfg).Build(context.Background())
	assert.Error(t, err)
}
