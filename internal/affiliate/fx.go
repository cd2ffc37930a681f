package affiliate

import (
	"github.com/smallbiznis/partnerly/internal/affiliate/repository"
	"github.com/smallbiznis/partnerly/internal/affiliate/service"
	"go.uber.org/fx"
)

var Module = fx.Module("affiliate.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
