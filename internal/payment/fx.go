package payment

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gigledger/internal/clock"
	"github.com/smallbiznis/gigledger/internal/config"
	docdomain "github.com/smallbiznis/gigledger/internal/docstore/domain"
	"github.com/smallbiznis/gigledger/internal/payment/domain"
	"github.com/smallbiznis/gigledger/internal/payment/sandbox"
	"github.com/smallbiznis/gigledger/internal/payment/wallet"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.processor",
	fx.Provide(newWallet),
	fx.Provide(newRegistry),
	fx.Provide(NewProcessor),
)

type Params struct {
	fx.In

	Config   config.Config
	Registry *Registry
	Log      *zap.Logger
}

func newWallet(store docdomain.Store, genID *snowflake.Node, clk clock.Clock, log *zap.Logger) *wallet.Processor {
	return wallet.NewProcessor(store, genID, clk, log)
}

func newRegistry(w *wallet.Processor, genID *snowflake.Node, clk clock.Clock) *Registry {
	return NewRegistry(
		wallet.NewFactory(w),
		sandbox.NewFactory(genID, clk),
	)
}

// NewProcessor resolves the processor named by PAYMENT_PROCESSOR.
func NewProcessor(p Params) (domain.Processor, error) {
	processor, err := p.Registry.New(p.Config.Payment.Processor)
	if err != nil {
		return nil, err
	}
	p.Log.Named("payment").Info("payment.processor", zap.String("name", processor.Name()))
	return processor, nil
}
