package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/stagedesk/stagedesk/internal/clock"
	"github.com/stagedesk/stagedesk/internal/migration"
	"github.com/stagedesk/stagedesk/internal/observability"
	"github.com/stagedesk/stagedesk/internal/server"
	"github.com/stagedesk/stagedesk/pkg/db"
)

func main() {
	app := fx.New(
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
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
