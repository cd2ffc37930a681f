package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/partnerly/internal/affiliate"
	"github.com/smallbiznis/partnerly/internal/apikey"
	"github.com/smallbiznis/partnerly/internal/attribution"
	"github.com/smallbiznis/partnerly/internal/audit"
	"github.com/smallbiznis/partnerly/internal/authorization"
	"github.com/smallbiznis/partnerly/internal/cache"
	"github.com/smallbiznis/partnerly/internal/click"
	"github.com/smallbiznis/partnerly/internal/clock"
	"github.com/smallbiznis/partnerly/internal/cloudmetrics"
	"github.com/smallbiznis/partnerly/internal/commission"
	"github.com/smallbiznis/partnerly/internal/config"
	"github.com/smallbiznis/partnerly/internal/conversion"
	"github.com/smallbiznis/partnerly/internal/events"
	"github.com/smallbiznis/partnerly/internal/fraud"
	"github.com/smallbiznis/partnerly/internal/ledger"
	"github.com/smallbiznis/partnerly/internal/observability"
	"github.com/smallbiznis/partnerly/internal/offer"
	"github.com/smallbiznis/partnerly/internal/overview"
	"github.com/smallbiznis/partnerly/internal/payout"
	"github.com/smallbiznis/partnerly/internal/postback"
	"github.com/smallbiznis/partnerly/internal/providers"
	"github.com/smallbiznis/partnerly/internal/ratelimit"
	"github.com/smallbiznis/partnerly/internal/reference"
	"github.com/smallbiznis/partnerly/internal/server"
	"github.com/smallbiznis/partnerly/internal/shop"
	"github.com/smallbiznis/partnerly/internal/subscription"
	"github.com/smallbiznis/partnerly/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		cloudmetrics.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Admin needs the whole graph: every dashboard page fans out to
		// a different domain service.
		authorization.Module,
		audit.Module,
		events.Module,
		apikey.Module,
		shop.Module,
		offer.Module,
		cache.Module,
		affiliate.Module,
		click.Module,
		attribution.Module,
		subscription.Module,
		fraud.Module,
		ledger.Module,
		postback.Module,
		commission.Module,
		conversion.Module,
		providers.Module,
		payout.Module,
		overview.Module,
		ratelimit.Module,
		reference.Module,

		fx.Provide(server.NewEngine),
		fx.Provide(server.NewServer),
		fx.Invoke(func(s *server.Server) {
			s.RegisterAdminRoutes()
		}),
		fx.Invoke(server.RunHTTP),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
