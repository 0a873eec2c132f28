package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	coreAdapter "github.com/tigerroll/retrainer/pkg/batch/core/adapter"
	coreConfig "github.com/tigerroll/retrainer/pkg/batch/core/config"
	"github.com/tigerroll/retrainer/pkg/batch/core/metrics"
	"github.com/tigerroll/retrainer/pkg/batch/engine/step/retry"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"

	storageConfig "github.com/tigerroll/retrainer/pkg/batch/adapter/storage/config"
)

// DefaultConnectionResolver dispatches a connection name to the provider registered for the
// connection's configured type and wraps the result with the retry policy.
type DefaultConnectionResolver struct {
	providers map[string]StorageProvider
	cfg       *coreConfig.Config
	policy    retry.RetryPolicy
	recorder  metrics.MetricRecorder
}

var _ StorageConnectionResolver = (*DefaultConnectionResolver)(nil)

// NewDefaultConnectionResolver creates a resolver over providers keyed by type.
func NewDefaultConnectionResolver(providers map[string]StorageProvider, cfg *coreConfig.Config, policy retry.RetryPolicy, recorder metrics.MetricRecorder) *DefaultConnectionResolver {
	return &DefaultConnectionResolver{
		providers: providers,
		cfg:       cfg,
		policy:    policy,
		recorder:  recorder,
	}
}

// ResolveConnection resolves a generic resource connection by name.
func (r *DefaultConnectionResolver) ResolveConnection(ctx context.Context, name string) (coreAdapter.ResourceConnection, error) {
	return r.ResolveStorageConnection(ctx, name)
}

// ResolveStorageConnection returns the named connection.
func (r *DefaultConnectionResolver) ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error) {
	sc, err := storageConfig.Lookup(r.cfg.Retrainer.Storage.Connections, name)
	if err != nil {
		return nil, err
	}
	provider, ok := r.providers[sc.Type]
	if !ok {
		return nil, fmt.Errorf("no storage provider found for type '%s' (connection '%s')", sc.Type, name)
	}
	conn, err := provider.GetConnection(name)
	if err != nil {
		return nil, fmt.Errorf("failed to get storage connection '%s' from provider '%s': %w", name, sc.Type, err)
	}
	logger.Debugf("Resolved storage connection '%s' (type %s).", name, sc.Type)
	if r.policy == nil {
		return conn, nil
	}
	timeout := time.Duration(r.cfg.Retrainer.Storage.OperationTimeoutSeconds) * time.Second
	return WithRetry(conn, r.policy, r.recorder, timeout), nil
}

// CloseAll closes the connections of every provider.
func (r *DefaultConnectionResolver) CloseAll() error {
	var result *multierror.Error
	for _, p := range r.providers {
		if err := p.CloseAll(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
