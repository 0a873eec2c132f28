package storage

import (
	"context"

	"go.uber.org/fx"

	coreConfig "github.com/tigerroll/retrainer/pkg/batch/core/config"
	"github.com/tigerroll/retrainer/pkg/batch/core/metrics"
	"github.com/tigerroll/retrainer/pkg/batch/engine/step/retry"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

// ProvidersParams collects every StorageProvider registered in the "storage_providers" group.
type ProvidersParams struct {
	fx.In
	Providers []StorageProvider `group:"storage_providers"`
}

// NewStorageProviders indexes the registered providers by type.
func NewStorageProviders(p ProvidersParams) map[string]StorageProvider {
	providers := make(map[string]StorageProvider, len(p.Providers))
	for _, provider := range p.Providers {
		providers[provider.Type()] = provider
		logger.Debugf("Registered storage provider '%s'.", provider.Type())
	}
	return providers
}

type resolverParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Providers map[string]StorageProvider
	Config    *coreConfig.Config
	Policy    retry.RetryPolicy
	Recorder  metrics.MetricRecorder
}

func newResolver(p resolverParams) *DefaultConnectionResolver {
	r := NewDefaultConnectionResolver(p.Providers, p.Config, p.Policy, p.Recorder)
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return r.CloseAll()
		},
	})
	return r
}

// Module provides the StorageConnectionResolver. Adapter modules (local, gcs) contribute the providers.
var Module = fx.Options(
	fx.Provide(
		NewStorageProviders,
		fx.Annotate(newResolver, fx.As(new(StorageConnectionResolver))),
	),
)
