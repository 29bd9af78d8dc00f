package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/mivvo/expertiz/internal/clock"
	"github.com/mivvo/expertiz/internal/config"
	"github.com/mivvo/expertiz/internal/credit"
	"github.com/mivvo/expertiz/internal/notification"
	"github.com/mivvo/expertiz/internal/observability"
	"github.com/mivvo/expertiz/internal/providers"
	"github.com/mivvo/expertiz/internal/ratelimit"
	"github.com/mivvo/expertiz/internal/report"
	"github.com/mivvo/expertiz/internal/scheduler"
	"github.com/mivvo/expertiz/pkg/db"
	"go.uber.org/fx"
)

// Scheduler-only deployment: sweeps stale reports and writes their refunds.
// No HTTP surface beyond what observability exposes.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		credit.Module,
		notification.Module,
		providers.Module,
		ratelimit.Module,
		report.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(3)
	if err != nil {
		panic(err)
	}
	return node
}
