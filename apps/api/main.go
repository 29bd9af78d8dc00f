package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/mivvo/expertiz/internal/config"
	"github.com/mivvo/expertiz/internal/migration"
	"github.com/mivvo/expertiz/internal/observability"
	"github.com/mivvo/expertiz/internal/seed"
	"github.com/mivvo/expertiz/internal/server"
	"github.com/mivvo/expertiz/pkg/db"
	"go.uber.org/fx"
)

// API-only deployment; a separate scheduler process runs the reaper.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,

		migration.Module,
		server.Module,
		seed.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
