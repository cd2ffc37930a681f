package reference

import "go.uber.org/fx"

var Module = fx.Module("reference.catalog",
	fx.Provide(NewRepository),
)
