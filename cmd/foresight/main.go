package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/manyfutures/foresight/internal/budget"
	"github.com/manyfutures/foresight/internal/clock"
	"github.com/manyfutures/foresight/internal/config"
	"github.com/manyfutures/foresight/internal/episode"
	"github.com/manyfutures/foresight/internal/feedback"
	"github.com/manyfutures/foresight/internal/generator"
	"github.com/manyfutures/foresight/internal/ledger"
	"github.com/manyfutures/foresight/internal/migration"
	"github.com/manyfutures/foresight/internal/notify"
	"github.com/manyfutures/foresight/internal/observability"
	"github.com/manyfutures/foresight/internal/organization"
	"github.com/manyfutures/foresight/internal/project"
	"github.com/manyfutures/foresight/internal/scheduler"
	"github.com/manyfutures/foresight/internal/server"
	"github.com/manyfutures/foresight/pkg/db"
	"go.uber.org/fx"
)

// The monolith runs the HTTP API and the generation scheduler in one
// process. Split deployments live under apps/.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		organization.Module,
		project.Module,
		episode.Module,
		ledger.Module,
		budget.Module,
		feedback.Module,
		generator.Module,
		notify.Module,

		scheduler.Module,
		server.Module,
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
