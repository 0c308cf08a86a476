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
	"github.com/smallbiznis/gigledger/pkg/db"
	"go.uber.org/fx"
)

// The worker runs the scheduled jobs and the event bus without the HTTP API.
// Run several replicas with Redis enabled so job locks keep each run single.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		docstore.Module,
		clock.Module,
		ratelimit.Module,
		eventbus.Module,

		// Domain services required by scheduler
		marketplace.Module,
		notification.Module,
		payment.Module,
		invoice.Module,
		reconciliation.Module,
		scheduler.Module,

		// No server module!
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
