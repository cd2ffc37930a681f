package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/partnerly/internal/clock"
	"github.com/smallbiznis/partnerly/internal/config"
	"github.com/smallbiznis/partnerly/internal/migration"
	"github.com/smallbiznis/partnerly/internal/observability"
	"github.com/smallbiznis/partnerly/internal/scheduler"
	"github.com/smallbiznis/partnerly/internal/server"
	"github.com/smallbiznis/partnerly/pkg/db"
	"go.uber.org/fx"
)

// Single-process deployment: migrations, the tracker and admin HTTP
// surfaces and the scheduler all in one binary. The apps/ binaries
// split these out for deployments that scale ingest separately.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		migration.Module,
		server.Module,
		scheduler.Module,
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
