package postback

import (
	"github.com/smallbiznis/partnerly/internal/postback/service"
	"go.uber.org/fx"
)

var Module = fx.Module("postback.service",
	fx.Provide(service.NewDispatcher),
	fx.Provide(service.NewDeliverer),
)
