// Package test holds fixtures shared by package tests: execution model factories and a
// filesystem-backed object store.
package test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tigerroll/retrainer/pkg/batch/adapter/storage"
	storageConfig "github.com/tigerroll/retrainer/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/retrainer/pkg/batch/adapter/storage/local"
	coreAdapter "github.com/tigerroll/retrainer/pkg/batch/core/adapter"
)

// LocalStore is a local storage connection rooted in a per-test temporary directory.
type LocalStore struct {
	storage.StorageConnection
	BaseDir string
	t       *testing.T
}

// NewLocalStore creates an empty LocalStore.
func NewLocalStore(t *testing.T) *LocalStore {
	t.Helper()
	dir := t.TempDir()
	conn, err := local.NewLocalAdapter(storageConfig.StorageConfig{Type: local.ProviderType, BaseDir: dir}, "test")
	require.NoError(t, err)
	return &LocalStore{StorageConnection: conn, BaseDir: dir, t: t}
}

// Put writes data to bucket/name.
func (s *LocalStore) Put(bucket, name string, data []byte) {
	s.t.Helper()
	require.NoError(s.t, s.Upload(context.Background(), bucket, name, bytes.NewReader(data), ""))
}

// PutString writes data to bucket/name.
func (s *LocalStore) PutString(bucket, name, data string) {
	s.t.Helper()
	s.Put(bucket, name, []byte(data))
}

// PutAt writes data to bucket/name and sets its modification time.
func (s *LocalStore) PutAt(bucket, name, data string, updated time.Time) {
	s.t.Helper()
	s.PutString(bucket, name, data)
	p := filepath.Join(s.BaseDir, bucket, filepath.FromSlash(name))
	require.NoError(s.t, os.Chtimes(p, updated, updated))
}

// Get returns the content of bucket/name.
func (s *LocalStore) Get(bucket, name string) []byte {
	s.t.Helper()
	r, err := s.Download(context.Background(), bucket, name)
	require.NoError(s.t, err)
	defer r.Close()
	b, err := io.ReadAll(r)
	require.NoError(s.t, err)
	return b
}

// Names lists the object names under prefix in lexical order.
func (s *LocalStore) Names(bucket, prefix string) []string {
	s.t.Helper()
	var names []string
	require.NoError(s.t, s.ListObjects(context.Background(), bucket, prefix, func(info storage.ObjectInfo) error {
		names = append(names, info.Name)
		return nil
	}))
	return names
}

// Resolver returns a resolver handing out s for every connection name.
func (s *LocalStore) Resolver() storage.StorageConnectionResolver {
	return staticResolver{conn: s}
}

type staticResolver struct {
	conn storage.StorageConnection
}

func (r staticResolver) ResolveConnection(ctx context.Context, name string) (coreAdapter.ResourceConnection, error) {
	return r.conn, nil
}

func (r staticResolver) ResolveStorageConnection(ctx context.Context, name string) (storage.StorageConnection, error) {
	return r.conn, nil
}
