package job

import "go.uber.org/fx"

// Module provides the Launcher.
var Module = fx.Options(
	fx.Provide(NewLauncher),
)
