package attribution

import (
	affiliatedomain "github.com/smallbiznis/partnerly/internal/affiliate/domain"
	attributiondomain "github.com/smallbiznis/partnerly/internal/attribution/domain"
	"github.com/smallbiznis/partnerly/internal/attribution/repository"
	"github.com/smallbiznis/partnerly/internal/attribution/service"
	"go.uber.org/fx"
)

var Module = fx.Module("attribution.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(svc affiliatedomain.Service) attributiondomain.CouponResolver { return svc }),
	fx.Provide(service.New),
)
