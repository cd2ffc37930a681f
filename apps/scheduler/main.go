package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/partnerly/internal/affiliate"
	"github.com/smallbiznis/partnerly/internal/attribution"
	"github.com/smallbiznis/partnerly/internal/audit"
	"github.com/smallbiznis/partnerly/internal/authorization"
	"github.com/smallbiznis/partnerly/internal/cache"
	"github.com/smallbiznis/partnerly/internal/click"
	"github.com/smallbiznis/partnerly/internal/clock"
	"github.com/smallbiznis/partnerly/internal/commission"
	"github.com/smallbiznis/partnerly/internal/config"
	"github.com/smallbiznis/partnerly/internal/events"
	"github.com/smallbiznis/partnerly/internal/fraud"
	"github.com/smallbiznis/partnerly/internal/ledger"
	"github.com/smallbiznis/partnerly/internal/observability"
	"github.com/smallbiznis/partnerly/internal/offer"
	"github.com/smallbiznis/partnerly/internal/payout"
	"github.com/smallbiznis/partnerly/internal/postback"
	"github.com/smallbiznis/partnerly/internal/providers"
	"github.com/smallbiznis/partnerly/internal/ratelimit"
	"github.com/smallbiznis/partnerly/internal/scheduler"
	"github.com/smallbiznis/partnerly/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Jobs drive the commission and payout services directly.
		scheduler.Module,
		commission.Module,
		payout.Module,
		click.Module,
		audit.Module,
		authorization.Module,
		events.Module,
		postback.Module,
		ratelimit.Module,

		// Transitive dependencies (commission needs attribution/offer/ledger etc).
		attribution.Module,
		affiliate.Module,
		offer.Module,
		cache.Module,
		fraud.Module,
		ledger.Module,
		providers.Module,

		// No server module: this binary only ticks.
		fx.Invoke(StartScheduler),
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

// StartScheduler runs the loop unconditionally. scheduler.Module only
// self-starts outside cloud mode, where this dedicated binary is the
// one that ticks.
func StartScheduler(lc fx.Lifecycle, s *scheduler.Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go s.RunForever(context.Background())
			return nil
		},
	})
}
