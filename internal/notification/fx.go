package notification

import (
	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/gigledger/internal/clock"
	"github.com/smallbiznis/gigledger/internal/config"
	docdomain "github.com/smallbiznis/gigledger/internal/docstore/domain"
	invoicedomain "github.com/smallbiznis/gigledger/internal/invoice/domain"
	marketdomain "github.com/smallbiznis/gigledger/internal/marketplace/domain"
	"github.com/smallbiznis/gigledger/internal/notification/dedup"
	"github.com/smallbiznis/gigledger/internal/notification/enrich"
	"github.com/smallbiznis/gigledger/internal/notification/gateway"
	"github.com/smallbiznis/gigledger/internal/notification/handlers"
	"github.com/smallbiznis/gigledger/internal/notification/store"
	"github.com/smallbiznis/gigledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notification",
	fx.Provide(store.New),
	fx.Provide(NewCache),
	fx.Provide(NewEngine),
	fx.Provide(DedupOptions),
	fx.Provide(NewGateway),
	fx.Provide(NewResolver),
	fx.Provide(handlers.New),
	fx.Invoke(handlers.Register),
)

type CacheParams struct {
	fx.In

	Config  config.Config
	Docs    docdomain.Store
	Redis   redis.UniversalClient `optional:"true"`
	Clock   clock.Clock
	Log     *zap.Logger
	Metrics *metrics.DomainMetrics `optional:"true"`
}

// NewCache prefers Redis and otherwise keeps one document per fingerprint.
// Either way an in-memory map takes over while the primary errors.
func NewCache(p CacheParams) dedup.Cache {
	ttl := p.Config.Dedup.TTL
	var primary dedup.Cache = dedup.NewDocumentCache(p.Docs, ttl, p.Clock)
	backend := "document"
	if p.Redis != nil {
		primary = dedup.NewRedisCache(p.Redis, ttl, p.Clock)
		backend = "redis"
	}
	p.Log.Named("notification").Info("dedup.cache", zap.String("backend", backend), zap.Duration("ttl", ttl))
	return dedup.NewFallbackCache(primary, dedup.NewMemoryCache(ttl, p.Clock), p.Log, p.Metrics)
}

type EngineParams struct {
	fx.In

	Store   *store.Store
	Cache   dedup.Cache
	Clock   clock.Clock
	GenID   *snowflake.Node
	Log     *zap.Logger
	Metrics *metrics.DomainMetrics `optional:"true"`
}

func NewEngine(p EngineParams) *dedup.Engine {
	return dedup.NewEngine(p.Store, p.Cache, p.Clock, p.GenID, p.Log, p.Metrics)
}

func DedupOptions(cfg config.Config) dedup.Options {
	return dedup.Options{
		ScanLimit:    cfg.Dedup.ScanLimit,
		LookbackDays: cfg.Dedup.LookbackDays,
		RepeatWindow: cfg.Dedup.RepeatWindow,
	}
}

type GatewayParams struct {
	fx.In

	Flags   *config.FlagsHolder
	Engine  *dedup.Engine
	Options dedup.Options
	Log     *zap.Logger
	Metrics *metrics.DomainMetrics `optional:"true"`
}

func NewGateway(p GatewayParams) *gateway.Gateway {
	return gateway.New(p.Flags, p.Engine, p.Options, p.Log, p.Metrics)
}

func NewResolver(market marketdomain.Repository, invoices invoicedomain.Repository, log *zap.Logger) *enrich.Resolver {
	return enrich.NewResolver(market, invoices, log)
}
