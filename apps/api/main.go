package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/mediaforge/internal/clock"
	"github.com/smallbiznis/mediaforge/internal/config"
	"github.com/smallbiznis/mediaforge/internal/migration"
	"github.com/smallbiznis/mediaforge/internal/observability"
	"github.com/smallbiznis/mediaforge/internal/server"
	"github.com/smallbiznis/mediaforge/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// HTTP API plus the domain services it serves; no dispatch worker.
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
