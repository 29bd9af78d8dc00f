package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/mivvo/expertiz/internal/clock"
	"github.com/mivvo/expertiz/internal/config"
	"github.com/mivvo/expertiz/internal/migration"
	"github.com/mivvo/expertiz/internal/observability"
	"github.com/mivvo/expertiz/internal/scheduler"
	"github.com/mivvo/expertiz/internal/seed"
	"github.com/mivvo/expertiz/internal/server"
	"github.com/mivvo/expertiz/pkg/db"
	"go.uber.org/fx"
)

// The monolith runs the API, the migrations and the stale-report reaper in
// one process. apps/ splits them for separate deployments.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		migration.Module,
		server.Module,
		seed.Module,
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
