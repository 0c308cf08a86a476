// Package autopay charges auto-milestone invoices and retries on-hold ones
// within a bounded attempt budget.
package autopay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/gigledger/internal/clock"
	"github.com/smallbiznis/gigledger/internal/eventbus"
	"github.com/smallbiznis/gigledger/internal/events"
	invoicedomain "github.com/smallbiznis/gigledger/internal/invoice/domain"
	"github.com/smallbiznis/gigledger/internal/observability/logger"
	"github.com/smallbiznis/gigledger/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/gigledger/internal/payment/domain"
	"go.uber.org/zap"
)

type Outcome string

const (
	OutcomePaid      Outcome = "paid"
	OutcomeFailed    Outcome = "failed"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeNotDue    Outcome = "not_due"
	OutcomeSkipped   Outcome = "skipped"
)

// Source tags milestone.paid events produced here.
const Source = "autopay"

type Options struct {
	RetryAttempts int
	RetryDelay    time.Duration
}

func DefaultOptions() Options {
	return Options{RetryAttempts: 3, RetryDelay: 24 * time.Hour}
}

// Attempt is the result of processing one invoice.
type Attempt struct {
	InvoiceNumber  string     `json:"invoiceNumber"`
	Outcome        Outcome    `json:"outcome"`
	Attempts       int        `json:"attempts"`
	NextRetryDate  *time.Time `json:"nextRetryDate,omitempty"`
	FailureCode    string     `json:"failureCode,omitempty"`
	FailureReason  string     `json:"failureReason,omitempty"`
	RequiresManual bool       `json:"requiresManual"`
	Reference      string     `json:"reference,omitempty"`
}

type Summary struct {
	Scanned   int       `json:"scanned"`
	Paid      int       `json:"paid"`
	Failed    int       `json:"failed"`
	Exhausted int       `json:"exhausted"`
	NotDue    int       `json:"notDue"`
	Skipped   int       `json:"skipped"`
	Errors    int       `json:"errors"`
	Attempts  []Attempt `json:"attempts"`
}

type mode int

const (
	modeSweep mode = iota
	modeManual
	modeInitial
)

// errNoChange aborts a repository update without writing.
var errNoChange = errors.New("no_change")

type Service struct {
	repo      invoicedomain.Repository
	processor paymentdomain.Processor
	bus       eventbus.Publisher
	clock     clock.Clock
	log       *zap.Logger
	metrics   *metrics.DomainMetrics
	opts      Options
}

func New(repo invoicedomain.Repository, processor paymentdomain.Processor, bus eventbus.Publisher, clk clock.Clock, opts Options, log *zap.Logger, m *metrics.DomainMetrics) *Service {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	def := DefaultOptions()
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = def.RetryAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	return &Service{
		repo:      repo,
		processor: processor,
		bus:       bus,
		clock:     clk,
		log:       log.Named("invoice.autopay"),
		metrics:   m,
		opts:      opts,
	}
}

// Sweep retries every due on_hold auto-milestone invoice once.
func (s *Service) Sweep(ctx context.Context) (Summary, error) {
	onHold := invoicedomain.StatusOnHold
	auto := invoicedomain.TypeAutoMilestone
	items, err := s.repo.List(ctx, invoicedomain.ListInvoiceRequest{Status: &onHold, Type: &auto})
	if err != nil {
		return Summary{}, fmt.Errorf("list on_hold invoices: %w", err)
	}

	var (
		summary Summary
		errs    []error
	)
	for _, inv := range items {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		summary.Scanned++
		att, err := s.process(ctx, inv.InvoiceNumber, modeSweep)
		if err != nil {
			summary.Errors++
			errs = append(errs, fmt.Errorf("%s: %w", inv.InvoiceNumber, err))
			continue
		}
		summary.Attempts = append(summary.Attempts, att)
		switch att.Outcome {
		case OutcomePaid:
			summary.Paid++
		case OutcomeFailed:
			summary.Failed++
		case OutcomeExhausted:
			summary.Exhausted++
		case OutcomeNotDue:
			summary.NotDue++
		default:
			summary.Skipped++
		}
	}

	logger.WithContext(ctx, s.log).Info("autopay.sweep",
		zap.Int("scanned", summary.Scanned),
		zap.Int("paid", summary.Paid),
		zap.Int("failed", summary.Failed),
		zap.Int("exhausted", summary.Exhausted),
		zap.Int("not_due", summary.NotDue),
		zap.Int("errors", summary.Errors),
	)
	return summary, errors.Join(errs...)
}

// RetryNow is the operator-triggered attempt. It ignores the retry wait and the
// attempt budget and does not count toward autoPaymentAttempts.
func (s *Service) RetryNow(ctx context.Context, invoiceNumber string) (Attempt, error) {
	return s.process(ctx, invoiceNumber, modeManual)
}

// AttemptInitial makes the first automatic charge for a sent auto-milestone
// invoice. A decline moves it to on_hold with one attempt recorded.
func (s *Service) AttemptInitial(ctx context.Context, invoiceNumber string) (Attempt, error) {
	return s.process(ctx, invoiceNumber, modeInitial)
}

func (s *Service) process(ctx context.Context, invoiceNumber string, m mode) (Attempt, error) {
	now := s.clock.Now()
	att := Attempt{InvoiceNumber: invoiceNumber}
	var (
		from    invoicedomain.Status
		result  paymentdomain.Result
		charged bool
	)

	inv, err := s.repo.Update(ctx, invoiceNumber, func(inv *invoicedomain.Invoice) error {
		from = inv.EffectiveStatus(now)
		att.Attempts = inv.AutoPaymentAttempts
		att.NextRetryDate = inv.NextRetryDate
		att.RequiresManual = inv.RequiresManualIntervention

		proceed, err := s.precheck(inv, from, now, m, &att)
		if err != nil || !proceed {
			return err
		}

		charged = true
		result = s.charge(ctx, inv)
		if result.Success {
			if err := inv.Transition(invoicedomain.StatusPaid, now, reasonFor(m)); err != nil {
				return err
			}
			if result.Details != nil {
				inv.PaymentReference = result.Details.Reference
				att.Reference = result.Details.Reference
			}
			att.Outcome = OutcomePaid
		} else {
			if m == modeInitial {
				if err := inv.Transition(invoicedomain.StatusOnHold, now, result.FailureReason); err != nil {
					return err
				}
			}
			if m != modeManual {
				inv.AutoPaymentAttempts++
				if inv.AutoPaymentAttempts < s.opts.RetryAttempts {
					next := now.Add(s.opts.RetryDelay)
					inv.NextRetryDate = &next
				} else {
					inv.NextRetryDate = nil
					inv.RequiresManualIntervention = true
				}
			}
			inv.PaymentFailureCode = result.FailureCode
			inv.PaymentFailureReason = result.FailureReason
			inv.UpdatedAt = now
			att.Outcome = OutcomeFailed
			if inv.RequiresManualIntervention {
				att.Outcome = OutcomeExhausted
			}
			att.FailureCode = result.FailureCode
			att.FailureReason = result.FailureReason
		}
		att.Attempts = inv.AutoPaymentAttempts
		att.NextRetryDate = inv.NextRetryDate
		att.RequiresManual = inv.RequiresManualIntervention
		return nil
	})

	log := logger.WithContext(ctx, s.log).With(zap.String("invoice_number", invoiceNumber))
	if errors.Is(err, errNoChange) {
		log.Debug("autopay.skip", zap.String("outcome", string(att.Outcome)))
		return att, nil
	}
	if err != nil {
		return Attempt{}, err
	}

	log.Info("autopay.attempt",
		zap.String("outcome", string(att.Outcome)),
		zap.Int("attempts", att.Attempts),
		zap.String("failure_code", att.FailureCode),
		zap.Bool("requires_manual", att.RequiresManual),
	)
	s.metrics.IncAutopayAttempt(string(att.Outcome), att.FailureCode)
	if inv.Status != from {
		s.metrics.IncInvoiceTransition(string(from), string(inv.Status))
	}

	if att.Outcome == OutcomePaid {
		s.publish(ctx, events.NameMilestonePaid, events.MilestonePaid{
			ProjectID:      inv.ProjectID,
			TaskID:         inv.PrimaryTaskID(),
			InvoiceNumber:  inv.InvoiceNumber,
			Amount:         inv.TotalAmount,
			CommissionerID: inv.CommissionerID,
			FreelancerID:   inv.FreelancerID,
			PaidAt:         now,
			Source:         Source,
		})
	} else if charged {
		s.publish(ctx, events.NameInvoicePaymentFailed, events.InvoicePaymentFailed{
			InvoiceNumber:  inv.InvoiceNumber,
			ProjectID:      inv.ProjectID,
			Amount:         inv.TotalAmount,
			CommissionerID: inv.CommissionerID,
			FreelancerID:   inv.FreelancerID,
			Code:           att.FailureCode,
			Reason:         att.FailureReason,
			Attempts:       att.Attempts,
			NextRetryAt:    att.NextRetryDate,
			RequiresManual: att.RequiresManual,
		})
	}
	return att, nil
}

// precheck decides whether to charge. It returns errNoChange for sweep
// outcomes that leave the invoice as is, proceed=false when only the
// manual-intervention flag is stored, and a domain error when the attempt is
// not allowed.
func (s *Service) precheck(inv *invoicedomain.Invoice, status invoicedomain.Status, now time.Time, m mode, att *Attempt) (bool, error) {
	if inv.InvoiceType != invoicedomain.TypeAutoMilestone && m != modeManual {
		if m == modeSweep {
			att.Outcome = OutcomeSkipped
			return false, errNoChange
		}
		return false, invoicedomain.ErrNotAutoMilestone
	}

	switch m {
	case modeInitial:
		if status != invoicedomain.StatusSent {
			return false, &invoicedomain.TransitionError{From: status, To: invoicedomain.StatusPaid, Reason: "initial charge requires a sent invoice"}
		}
	case modeManual:
		if status != invoicedomain.StatusOnHold {
			return false, invoicedomain.ErrNotOnHold
		}
	case modeSweep:
		if status != invoicedomain.StatusOnHold {
			att.Outcome = OutcomeSkipped
			return false, errNoChange
		}
		if inv.NextRetryDate != nil && inv.NextRetryDate.After(now) {
			att.Outcome = OutcomeNotDue
			return false, errNoChange
		}
		if inv.AutoPaymentAttempts >= s.opts.RetryAttempts {
			att.Outcome = OutcomeExhausted
			att.RequiresManual = true
			att.NextRetryDate = nil
			if inv.RequiresManualIntervention {
				return false, errNoChange
			}
			inv.RequiresManualIntervention = true
			inv.NextRetryDate = nil
			inv.UpdatedAt = now
			return false, nil
		}
	}
	return true, nil
}

func (s *Service) charge(ctx context.Context, inv *invoicedomain.Invoice) paymentdomain.Result {
	res, err := s.processor.AttemptPayment(ctx, paymentdomain.Charge{
		InvoiceNumber: inv.InvoiceNumber,
		ProjectID:     inv.ProjectID,
		PayerID:       inv.CommissionerID,
		PayeeID:       inv.FreelancerID,
		Amount:        inv.TotalAmount,
		Currency:      inv.Currency,
	})
	if err != nil {
		code, reason := paymentdomain.ClassifyFailure("processor unavailable")
		s.log.Warn("autopay.processor_error", zap.String("invoice_number", inv.InvoiceNumber), zap.Error(err))
		return paymentdomain.Result{FailureCode: code, FailureReason: reason}
	}
	if !res.Success && res.FailureCode == "" {
		res.FailureCode, res.FailureReason = paymentdomain.ClassifyFailure(res.FailureReason)
	}
	return res
}

func (s *Service) publish(ctx context.Context, name string, payload events.Payload) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, name, payload); err != nil {
		logger.WithContext(ctx, s.log).Warn("autopay.publish_failed", zap.String("event", name), zap.Error(err))
	}
}

func reasonFor(m mode) string {
	switch m {
	case modeManual:
		return "manual retry"
	case modeInitial:
		return "automatic payment"
	default:
		return "scheduled retry"
	}
}
