// Package enrich resolves raw bus payloads into the display data the
// notification gateway needs. Unresolvable names fall back to the generic
// placeholders, which the gateway guards then reject.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/gigledger/internal/events"
	invoicedomain "github.com/smallbiznis/gigledger/internal/invoice/domain"
	marketdomain "github.com/smallbiznis/gigledger/internal/marketplace/domain"
	"github.com/smallbiznis/gigledger/internal/notification/domain"
	"github.com/smallbiznis/gigledger/internal/notification/gateway"
	"github.com/smallbiznis/gigledger/internal/observability/logger"
	"go.uber.org/zap"
)

// InvoiceReader is the invoice lookup used for payment events.
type InvoiceReader interface {
	Get(ctx context.Context, invoiceNumber string) (*invoicedomain.Invoice, error)
}

// Parties are the resolved participants of a project.
type Parties struct {
	Project          *marketdomain.Project
	CommissionerID   int64
	FreelancerID     int64
	FreelancerName   string
	OrganizationName string
	CommissionerName string
}

type Resolver struct {
	market   marketdomain.Repository
	invoices InvoiceReader
	log      *zap.Logger
}

func NewResolver(market marketdomain.Repository, invoices InvoiceReader, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{market: market, invoices: invoices, log: log.Named("notification.enrich")}
}

// Parties loads the project and both counterparts. Ids from the payload win
// over the ids recorded on the project.
func (r *Resolver) Parties(ctx context.Context, projectID string, commissionerID, freelancerID int64) (Parties, error) {
	out := Parties{
		CommissionerID:   commissionerID,
		FreelancerID:     freelancerID,
		FreelancerName:   domain.GenericFreelancerName,
		OrganizationName: domain.GenericOrganizationName,
	}

	project, err := r.market.GetProject(ctx, projectID)
	if err := tolerate(err); err != nil {
		return out, err
	}
	if project != nil {
		out.Project = project
		if out.CommissionerID == 0 {
			out.CommissionerID = project.CommissionerID
		}
		if out.FreelancerID == 0 {
			out.FreelancerID = project.FreelancerID
		}
	}

	var commissioner *marketdomain.User
	if out.CommissionerID > 0 {
		commissioner, err = r.market.GetUser(ctx, out.CommissionerID)
		if err := tolerate(err); err != nil {
			return out, err
		}
		if commissioner != nil {
			out.CommissionerName = strings.TrimSpace(commissioner.Name)
		}
	}
	if out.FreelancerID > 0 {
		freelancer, err := r.market.GetUser(ctx, out.FreelancerID)
		if err := tolerate(err); err != nil {
			return out, err
		}
		if freelancer != nil && strings.TrimSpace(freelancer.Name) != "" {
			out.FreelancerName = strings.TrimSpace(freelancer.Name)
		}
	}

	orgID := ""
	if project != nil {
		orgID = project.OrganizationID
	}
	if orgID == "" && commissioner != nil {
		orgID = commissioner.OrganizationID
	}
	if orgID != "" {
		org, err := r.market.GetOrganization(ctx, orgID)
		if err := tolerate(err); err != nil {
			return out, err
		}
		if org != nil && strings.TrimSpace(org.Name) != "" {
			out.OrganizationName = strings.TrimSpace(org.Name)
		}
	}

	if domain.IsGenericName(out.FreelancerName) || domain.IsGenericName(out.OrganizationName) {
		logger.WithContext(ctx, r.log).Debug("notification.enrich_fallback",
			zap.String("project_id", projectID),
			zap.String("freelancer_name", out.FreelancerName),
			zap.String("organization_name", out.OrganizationName),
		)
	}
	return out, nil
}

func (r *Resolver) MilestonePayment(ctx context.Context, ev events.MilestonePaid) (gateway.Payment, error) {
	parties, err := r.Parties(ctx, ev.ProjectID, ev.CommissionerID, ev.FreelancerID)
	if err != nil {
		return gateway.Payment{}, err
	}
	p := paymentFrom(parties, ev.ProjectID, ev.InvoiceNumber, ev.Amount)
	p.TaskID = ev.TaskID
	p.Source = ev.Source

	if p.TaskID == "" || p.Amount <= 0 {
		inv, err := r.invoice(ctx, ev.InvoiceNumber)
		if err != nil {
			return gateway.Payment{}, err
		}
		if inv != nil {
			if p.TaskID == "" {
				p.TaskID = inv.PrimaryTaskID()
			}
			if p.Amount <= 0 {
				p.Amount = inv.TotalAmount
			}
		}
	}
	if p.TaskID != "" {
		task, err := r.market.GetTask(ctx, ev.ProjectID, p.TaskID)
		if err := tolerate(err); err != nil {
			return gateway.Payment{}, err
		}
		if task != nil {
			p.TaskTitle = task.Title
			if p.Amount <= 0 {
				p.Amount = task.Rate
			}
		}
	}
	return p, nil
}

// InvoicePayment resolves an invoice.paid event and reports the invoice type so
// the caller can route auto-milestone invoices to the milestone notification.
func (r *Resolver) InvoicePayment(ctx context.Context, ev events.InvoicePaid) (gateway.Payment, invoicedomain.Type, error) {
	inv, err := r.invoice(ctx, ev.InvoiceNumber)
	if err != nil {
		return gateway.Payment{}, "", err
	}

	projectID, amount := ev.ProjectID, ev.Amount
	commissionerID, freelancerID := ev.CommissionerID, ev.FreelancerID
	invoiceType := invoicedomain.TypeManual
	taskID := ""
	if inv != nil {
		invoiceType = inv.InvoiceType
		taskID = inv.PrimaryTaskID()
		if projectID == "" {
			projectID = inv.ProjectID
		}
		if amount <= 0 {
			amount = inv.TotalAmount
		}
		if commissionerID == 0 {
			commissionerID = inv.CommissionerID
		}
		if freelancerID == 0 {
			freelancerID = inv.FreelancerID
		}
	}

	parties, err := r.Parties(ctx, projectID, commissionerID, freelancerID)
	if err != nil {
		return gateway.Payment{}, "", err
	}
	p := paymentFrom(parties, projectID, ev.InvoiceNumber, amount)
	p.TaskID = taskID
	return p, invoiceType, nil
}

func (r *Resolver) PaymentFailure(ctx context.Context, ev events.InvoicePaymentFailed) (gateway.PaymentFailure, error) {
	parties, err := r.Parties(ctx, ev.ProjectID, ev.CommissionerID, ev.FreelancerID)
	if err != nil {
		return gateway.PaymentFailure{}, err
	}
	return gateway.PaymentFailure{
		Payment:        paymentFrom(parties, ev.ProjectID, ev.InvoiceNumber, ev.Amount),
		Code:           ev.Code,
		Reason:         ev.Reason,
		Attempts:       ev.Attempts,
		RequiresManual: ev.RequiresManual,
	}, nil
}

func (r *Resolver) TaskApproval(ctx context.Context, ev events.TaskApproved) (gateway.TaskApproval, error) {
	parties, err := r.Parties(ctx, ev.ProjectID, ev.ApprovedBy, 0)
	if err != nil {
		return gateway.TaskApproval{}, err
	}
	out := gateway.TaskApproval{
		ProjectID:        ev.ProjectID,
		TaskID:           ev.TaskID,
		CommissionerID:   parties.CommissionerID,
		FreelancerID:     parties.FreelancerID,
		FreelancerName:   parties.FreelancerName,
		OrganizationName: parties.OrganizationName,
	}
	if parties.Project != nil {
		out.ProjectTitle = parties.Project.Title
	}
	task, err := r.market.GetTask(ctx, ev.ProjectID, ev.TaskID)
	if err := tolerate(err); err != nil {
		return gateway.TaskApproval{}, err
	}
	if task != nil {
		out.TaskTitle = strings.TrimSpace(task.Title)
		out.Rate = task.Rate
	}
	return out, nil
}

func (r *Resolver) ProjectCompletion(ctx context.Context, projectID string) (gateway.ProjectCompletion, error) {
	parties, err := r.Parties(ctx, projectID, 0, 0)
	if err != nil {
		return gateway.ProjectCompletion{}, err
	}
	out := gateway.ProjectCompletion{
		ProjectID:        projectID,
		CommissionerID:   parties.CommissionerID,
		FreelancerID:     parties.FreelancerID,
		FreelancerName:   parties.FreelancerName,
		OrganizationName: parties.OrganizationName,
		CommissionerName: parties.CommissionerName,
	}
	if parties.Project != nil {
		out.ProjectTitle = parties.Project.Title
	}
	return out, nil
}

func (r *Resolver) invoice(ctx context.Context, invoiceNumber string) (*invoicedomain.Invoice, error) {
	if r.invoices == nil || strings.TrimSpace(invoiceNumber) == "" {
		return nil, nil
	}
	inv, err := r.invoices.Get(ctx, invoiceNumber)
	if errors.Is(err, invoicedomain.ErrInvalidInvoice) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve invoice %s: %w", invoiceNumber, err)
	}
	return inv, nil
}

func paymentFrom(parties Parties, projectID, invoiceNumber string, amount int64) gateway.Payment {
	p := gateway.Payment{
		ProjectID:        projectID,
		InvoiceNumber:    invoiceNumber,
		Amount:           amount,
		CommissionerID:   parties.CommissionerID,
		FreelancerID:     parties.FreelancerID,
		FreelancerName:   parties.FreelancerName,
		OrganizationName: parties.OrganizationName,
		CommissionerName: parties.CommissionerName,
	}
	if parties.Project != nil {
		p.ProjectTitle = parties.Project.Title
	}
	return p
}

// tolerate turns a missing record into a fallback and keeps real failures,
// which the bus retries.
func tolerate(err error) error {
	if err == nil || errors.Is(err, marketdomain.ErrNotFound) {
		return nil
	}
	return err
}
