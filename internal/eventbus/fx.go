package eventbus

import (
	"context"

	"github.com/smallbiznis/gigledger/internal/config"
	"github.com/smallbiznis/gigledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("eventbus",
	fx.Provide(NewFromConfig),
	fx.Provide(func(b *Bus) Publisher { return b }),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
	Metrics   *metrics.DomainMetrics `optional:"true"`
}

func NewFromConfig(p Params) *Bus {
	b := New(Options{
		Retry: RetryPolicy{
			MaxAttempts: p.Config.Bus.MaxAttempts,
			MinJitter:   p.Config.Bus.MinJitter,
			MaxJitter:   p.Config.Bus.MaxJitter,
		},
		QueueSize: p.Config.Bus.QueueSize,
		Workers:   p.Config.Bus.Workers,
		Log:       p.Log,
		Metrics:   p.Metrics,
	})
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			b.Start()
			return nil
		},
		OnStop: b.Stop,
	})
	return b
}
