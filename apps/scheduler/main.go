package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/captiva/internal/catalog"
	"github.com/smallbiznis/captiva/internal/clock"
	"github.com/smallbiznis/captiva/internal/config"
	"github.com/smallbiznis/captiva/internal/ledger"
	"github.com/smallbiznis/captiva/internal/migration"
	"github.com/smallbiznis/captiva/internal/observability"
	"github.com/smallbiznis/captiva/internal/payment"
	"github.com/smallbiznis/captiva/internal/ratelimit"
	"github.com/smallbiznis/captiva/internal/scheduler"
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
		migration.Module,
		clock.Module,
		ratelimit.Module,

		// Domain services required by scheduler
		catalog.Module,
		session.Module,
		ledger.Module,
		payment.Module,

		// No server module!
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
