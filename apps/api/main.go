package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/captiva/internal/catalog"
	"github.com/smallbiznis/captiva/internal/clock"
	"github.com/smallbiznis/captiva/internal/config"
	"github.com/smallbiznis/captiva/internal/ledger"
	"github.com/smallbiznis/captiva/internal/observability"
	"github.com/smallbiznis/captiva/internal/payment"
	"github.com/smallbiznis/captiva/internal/ratelimit"
	"github.com/smallbiznis/captiva/internal/server"
	"github.com/smallbiznis/captiva/internal/session"
	"github.com/smallbiznis/captiva/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		ratelimit.Module,

		catalog.Module,
		session.Module,
		ledger.Module,
		payment.Module,

		// No scheduler: expiry and the startup sweep run in apps/scheduler.
		server.Module,
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
