package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gigledger/internal/clock"
	"github.com/smallbiznis/gigledger/internal/config"
	"github.com/smallbiznis/gigledger/internal/docstore"
	"github.com/smallbiznis/gigledger/internal/eventbus"
	"github.com/smallbiznis/gigledger/internal/invoice"
	"github.com/smallbiznis/gigledger/internal/marketplace"
	"github.com/smallbiznis/gigledger/internal/migration"
	"github.com/smallbiznis/gigledger/internal/notification"
	"github.com/smallbiznis/gigledger/internal/observability"
	"github.com/smallbiznis/gigledger/internal/payment"
	"github.com/smallbiznis/gigledger/internal/ratelimit"
	"github.com/smallbiznis/gigledger/internal/reconciliation"
	"github.com/smallbiznis/gigledger/internal/scheduler"
	"github.com/smallbiznis/gigledger/internal/seed"
	"github.com/smallbiznis/gigledger/internal/server"
	"github.com/smallbiznis/gigledger/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		docstore.Module,
		clock.Module,
		ratelimit.Module,
		eventbus.Module,

		// Domains
		marketplace.Module,
		notification.Module,
		payment.Module,
		invoice.Module,
		reconciliation.Module,
		scheduler.Module,
		seed.Module,

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
