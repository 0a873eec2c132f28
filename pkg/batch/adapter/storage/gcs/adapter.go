// Package gcs implements the storage adapter interfaces on Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/hashicorp/go-multierror"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	storageAdapter "github.com/tigerroll/retrainer/pkg/batch/adapter/storage"
	storageConfig "github.com/tigerroll/retrainer/pkg/batch/adapter/storage/config"
	coreConfig "github.com/tigerroll/retrainer/pkg/batch/core/config"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

const (
	// ProviderType defines the type identifier for this GCS storage provider.
	ProviderType = "gcs"
)

type gcsAdapter struct {
	client *storage.Client
	cfg    storageConfig.StorageConfig
	name   string
}

var _ storageAdapter.StorageConnection = (*gcsAdapter)(nil)

// ClientOptions translates the connection settings into client options.
func ClientOptions(cfg storageConfig.StorageConfig) []option.ClientOption {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
		if cfg.CredentialsFile == "" {
			opts = append(opts, option.WithoutAuthentication())
		}
	}
	return opts
}

// NewGCSAdapter creates a connection backed by a new storage.Client.
func NewGCSAdapter(ctx context.Context, cfg storageConfig.StorageConfig, name string) (storageAdapter.StorageConnection, error) {
	client, err := storage.NewClient(ctx, ClientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("gcs storage adapter '%s': failed to create client: %w", name, err)
	}
	return &gcsAdapter{client: client, cfg: cfg, name: name}, nil
}

func (a *gcsAdapter) Close() error {
	logger.Debugf("GCS storage adapter '%s' closed.", a.name)
	return a.client.Close()
}

func (a *gcsAdapter) Type() string {
	return ProviderType
}

func (a *gcsAdapter) Name() string {
	return a.name
}

func (a *gcsAdapter) bucket(name string) *storage.BucketHandle {
	if name == "" {
		name = a.cfg.BucketName
	}
	b := a.client.Bucket(name)
	if a.cfg.ProjectID != "" {
		b = b.UserProject(a.cfg.ProjectID)
	}
	return b
}

func (a *gcsAdapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	// Cancelling the writer's context abandons the upload instead of committing a partial object.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := a.bucket(bucket).Object(objectName).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, data); err != nil {
		cancel()
		_ = w.Close()
		return classify(fmt.Sprintf("upload gs://%s/%s", bucket, objectName), err)
	}
	if err := w.Close(); err != nil {
		return classify(fmt.Sprintf("upload gs://%s/%s", bucket, objectName), err)
	}
	logger.Debugf("Uploaded gs://%s/%s (gcs adapter '%s').", bucket, objectName, a.name)
	return nil
}

func (a *gcsAdapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	r, err := a.bucket(bucket).Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, classify(fmt.Sprintf("download gs://%s/%s", bucket, objectName), err)
	}
	return r, nil
}

func (a *gcsAdapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(storageAdapter.ObjectInfo) error) error {
	q := &storage.Query{Prefix: prefix}
	if err := q.SetAttrSelection([]string{"Name", "Size", "Updated"}); err != nil {
		return err
	}
	it := a.bucket(bucket).Objects(ctx, q)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return classify(fmt.Sprintf("list gs://%s/%s", bucket, prefix), err)
		}
		if err := fn(storageAdapter.ObjectInfo{Name: attrs.Name, Size: attrs.Size, Updated: attrs.Updated}); err != nil {
			return err
		}
	}
}

func (a *gcsAdapter) Exists(ctx context.Context, bucket, objectName string) (bool, error) {
	_, err := a.bucket(bucket).Object(objectName).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, classify(fmt.Sprintf("stat gs://%s/%s", bucket, objectName), err)
	}
	return true, nil
}

func (a *gcsAdapter) Copy(ctx context.Context, srcBucket, srcObject, dstBucket, dstObject string) error {
	src := a.bucket(srcBucket).Object(srcObject)
	dst := a.bucket(dstBucket).Object(dstObject)
	if _, err := dst.CopierFrom(src).Run(ctx); err != nil {
		return classify(fmt.Sprintf("copy gs://%s/%s to gs://%s/%s", srcBucket, srcObject, dstBucket, dstObject), err)
	}
	return nil
}

func (a *gcsAdapter) DeleteObject(ctx context.Context, bucket, objectName string) error {
	if err := a.bucket(bucket).Object(objectName).Delete(ctx); err != nil {
		return classify(fmt.Sprintf("delete gs://%s/%s", bucket, objectName), err)
	}
	logger.Debugf("Deleted gs://%s/%s (gcs adapter '%s').", bucket, objectName, a.name)
	return nil
}

// classify maps a client error onto the batch error kinds: missing objects wrap
// storage.ErrObjectNotFound, errors the GCS client considers retryable become ErrTransientIO,
// context errors pass through and everything else is fatal.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrObjectNotExist):
		return exception.NewBatchError("gcs", op, errors.Join(storageAdapter.ErrObjectNotFound, err), false)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case storage.ShouldRetry(err):
		return exception.NewTransientError("gcs", op, err)
	default:
		return exception.NewBatchError("gcs", op, err, false)
	}
}

// GCSProvider implements storage.StorageProvider for GCS connections.
type GCSProvider struct {
	cfg         *coreConfig.Config
	connections map[string]storageAdapter.StorageConnection
	mu          sync.Mutex
}

// NewGCSProvider creates a new GCSProvider instance.
func NewGCSProvider(cfg *coreConfig.Config) *GCSProvider {
	return &GCSProvider{
		cfg:         cfg,
		connections: make(map[string]storageAdapter.StorageConnection),
	}
}

func (p *GCSProvider) GetConnection(name string) (storageAdapter.StorageConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectLocked(name)
}

func (p *GCSProvider) connectLocked(name string) (storageAdapter.StorageConnection, error) {
	if conn, ok := p.connections[name]; ok {
		return conn, nil
	}
	storageCfg, err := storageConfig.Lookup(p.cfg.Retrainer.Storage.Connections, name)
	if err != nil {
		return nil, err
	}
	if storageCfg.Type != ProviderType {
		return nil, fmt.Errorf("storage config type mismatch for '%s': expected '%s', got '%s'", name, ProviderType, storageCfg.Type)
	}
	if storageCfg.CredentialsFile == "" {
		storageCfg.CredentialsFile = p.cfg.Retrainer.Retrain.GCP.CredentialsFile
	}
	conn, err := NewGCSAdapter(context.Background(), storageCfg, name)
	if err != nil {
		return nil, err
	}
	p.connections[name] = conn
	logger.Debugf("Created new GCS storage connection '%s'.", name)
	return conn, nil
}

func (p *GCSProvider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result *multierror.Error
	for name, conn := range p.connections {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close GCS storage connection '%s': %w", name, err))
		}
		delete(p.connections, name)
	}
	return result.ErrorOrNil()
}

func (p *GCSProvider) Type() string {
	return ProviderType
}

func (p *GCSProvider) ForceReconnect(name string) (storageAdapter.StorageConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.connections[name]; ok {
		if err := conn.Close(); err != nil {
			logger.Warnf("Failed to gracefully close GCS storage connection '%s' during force reconnect: %v", name, err)
		}
		delete(p.connections, name)
	}
	return p.connectLocked(name)
}
