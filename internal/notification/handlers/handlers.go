// Package handlers subscribes the notification gateway to domain events.
package handlers

import (
	"context"
	"fmt"

	"github.com/smallbiznis/gigledger/internal/eventbus"
	"github.com/smallbiznis/gigledger/internal/events"
	invoicedomain "github.com/smallbiznis/gigledger/internal/invoice/domain"
	"github.com/smallbiznis/gigledger/internal/notification/enrich"
	"github.com/smallbiznis/gigledger/internal/notification/gateway"
	"github.com/smallbiznis/gigledger/internal/observability/logger"
	"go.uber.org/zap"
)

type Handlers struct {
	gateway  *gateway.Gateway
	resolver *enrich.Resolver
	log      *zap.Logger
}

func New(gw *gateway.Gateway, resolver *enrich.Resolver, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{gateway: gw, resolver: resolver, log: log.Named("notification.handlers")}
}

// Register subscribes every handler on the bus.
func Register(bus *eventbus.Bus, h *Handlers) {
	bus.On(events.NameTaskApproved, h.TaskApproved)
	bus.On(events.NameMilestonePaid, h.MilestonePaid)
	bus.On(events.NameInvoicePaid, h.InvoicePaid)
	bus.On(events.NameInvoicePaymentFailed, h.PaymentFailed)
	bus.On(events.NameProjectCompleted, h.ProjectCompleted)
}

func (h *Handlers) TaskApproved(ctx context.Context, payload any) (any, error) {
	ev, err := as[events.TaskApproved](payload)
	if err != nil {
		return nil, err
	}
	in, err := h.resolver.TaskApproval(ctx, ev)
	if err != nil {
		return nil, err
	}
	return h.done(ctx, events.NameTaskApproved)(h.gateway.EmitTaskApproved(ctx, in))
}

func (h *Handlers) MilestonePaid(ctx context.Context, payload any) (any, error) {
	ev, err := as[events.MilestonePaid](payload)
	if err != nil {
		return nil, err
	}
	in, err := h.resolver.MilestonePayment(ctx, ev)
	if err != nil {
		return nil, err
	}
	return h.done(ctx, events.NameMilestonePaid)(h.gateway.EmitMilestonePayment(ctx, in))
}

// InvoicePaid routes auto-milestone invoices to the milestone notification so
// both payment paths converge on the same idempotency key.
func (h *Handlers) InvoicePaid(ctx context.Context, payload any) (any, error) {
	ev, err := as[events.InvoicePaid](payload)
	if err != nil {
		return nil, err
	}
	in, invoiceType, err := h.resolver.InvoicePayment(ctx, ev)
	if err != nil {
		return nil, err
	}
	if invoiceType == invoicedomain.TypeAutoMilestone {
		return h.done(ctx, events.NameInvoicePaid)(h.gateway.EmitMilestonePayment(ctx, in))
	}
	return h.done(ctx, events.NameInvoicePaid)(h.gateway.EmitInvoicePaid(ctx, in))
}

func (h *Handlers) PaymentFailed(ctx context.Context, payload any) (any, error) {
	ev, err := as[events.InvoicePaymentFailed](payload)
	if err != nil {
		return nil, err
	}
	in, err := h.resolver.PaymentFailure(ctx, ev)
	if err != nil {
		return nil, err
	}
	return h.done(ctx, events.NameInvoicePaymentFailed)(h.gateway.EmitPaymentFailed(ctx, in))
}

func (h *Handlers) ProjectCompleted(ctx context.Context, payload any) (any, error) {
	ev, err := as[events.ProjectCompleted](payload)
	if err != nil {
		return nil, err
	}
	in, err := h.resolver.ProjectCompletion(ctx, ev.ProjectID)
	if err != nil {
		return nil, err
	}
	return h.done(ctx, events.NameProjectCompleted)(h.gateway.EmitProjectCompleted(ctx, in))
}

func (h *Handlers) done(ctx context.Context, name string) func(gateway.Result, error) (any, error) {
	return func(res gateway.Result, err error) (any, error) {
		logger.WithContext(ctx, h.log).Debug("notification.handled",
			zap.String("event", name),
			zap.String("stage", string(res.Stage)),
			zap.Int("changed", res.Changed()),
			zap.Error(err),
		)
		if err != nil {
			return nil, err
		}
		return res, nil
	}
}

// as accepts both value and pointer payloads.
func as[T any](payload any) (T, error) {
	var zero T
	switch v := payload.(type) {
	case T:
		return v, nil
	case *T:
		if v != nil {
			return *v, nil
		}
	}
	return zero, fmt.Errorf("unexpected payload %T, want %T", payload, zero)
}
