package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/mediaforge/internal/clock"
	"github.com/smallbiznis/mediaforge/internal/config"
	"github.com/smallbiznis/mediaforge/internal/dispatch"
	"github.com/smallbiznis/mediaforge/internal/generation"
	"github.com/smallbiznis/mediaforge/internal/observability"
	"github.com/smallbiznis/mediaforge/internal/providers"
	"github.com/smallbiznis/mediaforge/internal/ratelimit"
	"github.com/smallbiznis/mediaforge/internal/refund"
	"github.com/smallbiznis/mediaforge/internal/subject"
	"github.com/smallbiznis/mediaforge/internal/submission"
	"github.com/smallbiznis/mediaforge/internal/usage"
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

		// Domain services required by the pump and its submission listener
		ratelimit.Module,
		providers.Module,
		usage.Module,
		subject.Module,
		refund.Module,
		generation.Module,
		dispatch.Module,
		submission.Module,

		// No server module!
		dispatch.WorkerModule,
	)
	app.Run()
}

// The API process owns node 1; ids minted here must not collide with it.
func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
