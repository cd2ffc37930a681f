package payout

import (
	"github.com/smallbiznis/partnerly/internal/config"
	"github.com/smallbiznis/partnerly/internal/payout/adapters"
	"github.com/smallbiznis/partnerly/internal/payout/adapters/httpapi"
	"github.com/smallbiznis/partnerly/internal/payout/adapters/manual"
	"github.com/smallbiznis/partnerly/internal/payout/repository"
	"github.com/smallbiznis/partnerly/internal/payout/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payout.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(cfg config.Config) *adapters.Registry {
		return adapters.NewRegistry(
			manual.NewFactory(),
			httpapi.NewFactory(cfg.Payout),
		)
	}),
	fx.Provide(service.New),
)
