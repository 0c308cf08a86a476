package reconciliation

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gigledger/internal/clock"
	"github.com/smallbiznis/gigledger/internal/config"
	docdomain "github.com/smallbiznis/gigledger/internal/docstore/domain"
	invoicedomain "github.com/smallbiznis/gigledger/internal/invoice/domain"
	marketdomain "github.com/smallbiznis/gigledger/internal/marketplace/domain"
	"github.com/smallbiznis/gigledger/internal/notification/enrich"
	"github.com/smallbiznis/gigledger/internal/notification/gateway"
	"github.com/smallbiznis/gigledger/internal/notification/store"
	"github.com/smallbiznis/gigledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("reconciliation",
	fx.Provide(NewJob),
)

type Params struct {
	fx.In

	Config   config.Config
	Docs     docdomain.Store
	Market   marketdomain.Repository
	Invoices invoicedomain.Repository
	Store    *store.Store
	Resolver *enrich.Resolver
	Gateway  *gateway.Gateway
	Clock    clock.Clock
	Node     *snowflake.Node
	Log      *zap.Logger
	Metrics  *metrics.DomainMetrics `optional:"true"`
}

func NewJob(p Params) *Job {
	defaults := Options{
		BatchSize:  p.Config.Reconciliation.BatchSize,
		BatchPause: p.Config.Reconciliation.BatchPause,
	}
	return New(Deps{
		Docs:     p.Docs,
		Market:   p.Market,
		Invoices: p.Invoices,
		Index:    p.Store,
		Resolver: p.Resolver,
		Emitter:  p.Gateway,
		Clock:    p.Clock,
		Node:     p.Node,
		Log:      p.Log,
		Metrics:  p.Metrics,
		Defaults: defaults,
	})
}
