package click

import (
	"github.com/smallbiznis/partnerly/internal/click/liveevents"
	"github.com/smallbiznis/partnerly/internal/click/repository"
	"github.com/smallbiznis/partnerly/internal/click/service"
	"go.uber.org/fx"
)

var Module = fx.Module("click.service",
	fx.Provide(liveevents.NewHub),
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
