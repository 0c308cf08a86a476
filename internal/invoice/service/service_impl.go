package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/gigledger/internal/clock"
	"github.com/smallbiznis/gigledger/internal/eventbus"
	"github.com/smallbiznis/gigledger/internal/events"
	invoicedomain "github.com/smallbiznis/gigledger/internal/invoice/domain"
	"github.com/smallbiznis/gigledger/internal/observability/logger"
	"github.com/smallbiznis/gigledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Repo    invoicedomain.Repository
	Bus     eventbus.Publisher `optional:"true"`
	Clock   clock.Clock
	Log     *zap.Logger
	Metrics *metrics.DomainMetrics `optional:"true"`
}

type Service struct {
	repo    invoicedomain.Repository
	bus     eventbus.Publisher
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.DomainMetrics
}

func NewService(p ServiceParam) invoicedomain.Service {
	return New(p.Repo, p.Bus, p.Clock, p.Log, p.Metrics)
}

func New(repo invoicedomain.Repository, bus eventbus.Publisher, clk clock.Clock, log *zap.Logger, m *metrics.DomainMetrics) *Service {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:    repo,
		bus:     bus,
		clock:   clk,
		log:     log.Named("invoice.service"),
		metrics: m,
	}
}

// Get returns the invoice with the lazy overdue rule applied.
func (s *Service) Get(ctx context.Context, invoiceNumber string) (invoicedomain.Invoice, error) {
	inv, err := s.repo.Get(ctx, strings.TrimSpace(invoiceNumber))
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if inv == nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}
	inv.Status = inv.EffectiveStatus(s.clock.Now())
	return *inv, nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) ([]invoicedomain.Invoice, error) {
	status := req.Status
	req.Status = nil
	items, err := s.repo.List(ctx, req)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	out := make([]invoicedomain.Invoice, 0, len(items))
	for _, inv := range items {
		inv.Status = inv.EffectiveStatus(now)
		if status != nil && inv.Status != *status {
			continue
		}
		out = append(out, inv)
	}
	return out, nil
}

func (s *Service) Create(ctx context.Context, req invoicedomain.CreateInvoiceRequest) (invoicedomain.Invoice, error) {
	number := strings.TrimSpace(req.InvoiceNumber)
	if number == "" || strings.TrimSpace(req.ProjectID) == "" || req.CommissionerID <= 0 || req.FreelancerID <= 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidInvoice
	}
	if len(req.Milestones) == 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidInvoice
	}
	invoiceType := req.InvoiceType
	switch invoiceType {
	case "":
		invoiceType = invoicedomain.TypeManual
	case invoicedomain.TypeManual, invoicedomain.TypeAutoMilestone, invoicedomain.TypeAutoCompletion:
	default:
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidInvoice
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "USD"
	}

	now := s.clock.Now()
	inv := invoicedomain.Invoice{
		InvoiceNumber:  number,
		Status:         invoicedomain.StatusDraft,
		InvoiceType:    invoiceType,
		Currency:       currency,
		ProjectID:      strings.TrimSpace(req.ProjectID),
		CommissionerID: req.CommissionerID,
		FreelancerID:   req.FreelancerID,
		Milestones:     append([]invoicedomain.Milestone(nil), req.Milestones...),
		DueDate:        req.DueDate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	inv.TotalAmount = inv.MilestoneTotal()
	if inv.TotalAmount <= 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidInvoice
	}
	if req.Send {
		if err := inv.Transition(invoicedomain.StatusSent, now, "issued"); err != nil {
			return invoicedomain.Invoice{}, err
		}
	}

	if err := s.repo.Create(ctx, inv); err != nil {
		return invoicedomain.Invoice{}, err
	}
	logger.WithContext(ctx, s.log).Info("invoice.created",
		zap.String("invoice_number", inv.InvoiceNumber),
		zap.String("invoice_type", string(inv.InvoiceType)),
		zap.String("status", string(inv.Status)),
		zap.Int64("total_amount", inv.TotalAmount),
	)
	return inv, nil
}

func (s *Service) Send(ctx context.Context, invoiceNumber string) (invoicedomain.Invoice, error) {
	return s.transition(ctx, invoiceNumber, invoicedomain.StatusSent, "sent", nil)
}

// MarkPaid settles an invoice outside the automatic payment path and publishes
// invoice.paid once the status change is stored.
func (s *Service) MarkPaid(ctx context.Context, invoiceNumber, reference string) (invoicedomain.Invoice, error) {
	inv, err := s.transition(ctx, invoiceNumber, invoicedomain.StatusPaid, "marked paid", func(inv *invoicedomain.Invoice) {
		if reference = strings.TrimSpace(reference); reference != "" {
			inv.PaymentReference = reference
		}
	})
	if err != nil {
		return inv, err
	}
	s.publish(ctx, events.NameInvoicePaid, events.InvoicePaid{
		InvoiceNumber:  inv.InvoiceNumber,
		ProjectID:      inv.ProjectID,
		Amount:         inv.TotalAmount,
		CommissionerID: inv.CommissionerID,
		FreelancerID:   inv.FreelancerID,
		PaidAt:         s.clock.Now(),
	})
	return inv, nil
}

func (s *Service) PutOnHold(ctx context.Context, invoiceNumber, reason string) (invoicedomain.Invoice, error) {
	return s.transition(ctx, invoiceNumber, invoicedomain.StatusOnHold, reason, nil)
}

func (s *Service) Cancel(ctx context.Context, invoiceNumber, reason string) (invoicedomain.Invoice, error) {
	return s.transition(ctx, invoiceNumber, invoicedomain.StatusCancelled, reason, nil)
}

// Transition applies an operator-requested status change. Overdue cannot be
// requested because it is derived from the due date.
func (s *Service) Transition(ctx context.Context, invoiceNumber string, to invoicedomain.Status, reason string) (invoicedomain.Invoice, error) {
	switch to {
	case invoicedomain.StatusOverdue:
		return invoicedomain.Invoice{}, invoicedomain.ErrDerivedStatus
	case invoicedomain.StatusPaid:
		return s.MarkPaid(ctx, invoiceNumber, "")
	}
	return s.transition(ctx, invoiceNumber, to, reason, nil)
}

func (s *Service) transition(ctx context.Context, invoiceNumber string, to invoicedomain.Status, reason string, mutate func(*invoicedomain.Invoice)) (invoicedomain.Invoice, error) {
	now := s.clock.Now()
	var from invoicedomain.Status
	inv, err := s.repo.Update(ctx, strings.TrimSpace(invoiceNumber), func(inv *invoicedomain.Invoice) error {
		from = inv.EffectiveStatus(now)
		if err := inv.Transition(to, now, reason); err != nil {
			return err
		}
		if mutate != nil {
			mutate(inv)
		}
		return nil
	})

	log := logger.WithContext(ctx, s.log).With(
		zap.String("invoice_number", invoiceNumber),
		zap.String("to", string(to)),
	)
	if err != nil {
		log.Warn("invoice.transition_rejected", zap.Error(err))
		return invoicedomain.Invoice{}, err
	}
	log.Info("invoice.transition", zap.String("from", string(from)), zap.String("reason", reason))
	s.metrics.IncInvoiceTransition(string(from), string(to))
	return inv, nil
}

func (s *Service) publish(ctx context.Context, name string, payload events.Payload) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, name, payload); err != nil {
		logger.WithContext(ctx, s.log).Warn("invoice.publish_failed", zap.String("event", name), zap.Error(err))
	}
}
