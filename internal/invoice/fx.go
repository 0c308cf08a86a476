package invoice

import (
	"time"

	"github.com/smallbiznis/gigledger/internal/clock"
	"github.com/smallbiznis/gigledger/internal/config"
	"github.com/smallbiznis/gigledger/internal/eventbus"
	"github.com/smallbiznis/gigledger/internal/invoice/autopay"
	invoicedomain "github.com/smallbiznis/gigledger/internal/invoice/domain"
	marketdomain "github.com/smallbiznis/gigledger/internal/marketplace/domain"
	"github.com/smallbiznis/gigledger/internal/invoice/repository"
	"github.com/smallbiznis/gigledger/internal/invoice/service"
	"github.com/smallbiznis/gigledger/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/gigledger/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("invoice.service",
	fx.Provide(repository.New),
	fx.Provide(service.NewService),
	fx.Provide(NewAutopay),
	fx.Provide(NewApprovalCharger),
	fx.Invoke(autopay.Register),
)

type AutopayParams struct {
	fx.In

	Config    config.Config
	Repo      invoicedomain.Repository
	Processor paymentdomain.Processor
	Bus       eventbus.Publisher
	Clock     clock.Clock
	Log       *zap.Logger
	Metrics   *metrics.DomainMetrics `optional:"true"`
}

func NewAutopay(p AutopayParams) *autopay.Service {
	return autopay.New(p.Repo, p.Processor, p.Bus, p.Clock, autopay.Options{
		RetryAttempts: p.Config.Invoice.RetryAttempts,
		RetryDelay:    time.Duration(p.Config.Invoice.RetryDelayDays) * 24 * time.Hour,
	}, p.Log, p.Metrics)
}

func NewApprovalCharger(svc *autopay.Service, market marketdomain.Repository) *autopay.ApprovalCharger {
	return autopay.NewApprovalCharger(svc, market)
}
