package fraud

import (
	"github.com/smallbiznis/partnerly/internal/fraud/repository"
	"github.com/smallbiznis/partnerly/internal/fraud/service"
	"go.uber.org/fx"
)

var Module = fx.Module("fraud.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
