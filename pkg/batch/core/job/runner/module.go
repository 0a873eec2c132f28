package runner

import "go.uber.org/fx"

// Module provides the JobLauncher.
var Module = fx.Options(
	fx.Provide(NewJobLauncher),
)
