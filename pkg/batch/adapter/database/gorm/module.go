package gorm

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/retrainer/pkg/batch/adapter/database"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

func newResolver(lc fx.Lifecycle, p ResolverParams) *GormDBConnectionResolver {
	r := NewGormDBConnectionResolver(p)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Debugf("Closing all database connections.")
			return r.CloseAll()
		},
	})
	return r
}

// Module exports the connection resolver. Concrete DB providers live in the dialect subpackages.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		newResolver,
		fx.As(new(database.DBConnectionResolver)),
	)),
)
