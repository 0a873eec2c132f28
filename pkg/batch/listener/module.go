// Package listener aggregates the execution listeners shipped with the batch framework.
package listener

import (
	"go.uber.org/fx"

	"github.com/tigerroll/retrainer/pkg/batch/listener/logging"
)

// Module aggregates all listener modules of the batch framework.
var Module = fx.Options(
	logging.Module,
)
