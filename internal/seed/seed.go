package seed

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/gigledger/internal/clock"
	"github.com/smallbiznis/gigledger/internal/config"
	invoicedomain "github.com/smallbiznis/gigledger/internal/invoice/domain"
	marketdomain "github.com/smallbiznis/gigledger/internal/marketplace/domain"
	"github.com/smallbiznis/gigledger/internal/payment/wallet"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	demoOrgID          = "org-demo"
	demoOrgName        = "Corlax Wellness"
	demoCommissionerID = int64(31)
	demoFreelancerID   = int64(1)
	demoProjectID      = "C-009"
	demoInvoiceNumber  = "MH-009"
	demoWalletFunding  = int64(100000)
)

var Module = fx.Module("seed",
	fx.Invoke(Run),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Market    marketdomain.Repository
	Invoices  invoicedomain.Service
	Wallets   *wallet.Processor
	Clock     clock.Clock
	Log       *zap.Logger
}

// Run seeds the demo marketplace on start when SEED_DEMO is set. Production
// never seeds.
func Run(p Params) {
	if !p.Config.SeedDemo || p.Config.IsProduction() {
		return
	}
	log := p.Log.Named("seed")
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := EnsureDemoData(ctx, p.Market, p.Invoices, p.Wallets, p.Clock); err != nil {
				log.Error("seed.failed", zap.Error(err))
				return err
			}
			log.Info("seed.applied", zap.String("project_id", demoProjectID))
			return nil
		},
	})
}

// EnsureDemoData is idempotent: records that already exist are left alone.
func EnsureDemoData(ctx context.Context, market marketdomain.Repository, invoices invoicedomain.Service, wallets *wallet.Processor, clk clock.Clock) error {
	now := clk.Now().UTC()

	if err := ensureOrganization(ctx, market); err != nil {
		return err
	}
	if err := ensureUsers(ctx, market); err != nil {
		return err
	}

	project, err := market.GetProject(ctx, demoProjectID)
	if err != nil && !errors.Is(err, marketdomain.ErrNotFound) {
		return err
	}
	if project == nil {
		if err := market.SaveProject(ctx, marketdomain.Project{
			ID:             demoProjectID,
			Title:          "Brand refresh",
			CommissionerID: demoCommissionerID,
			FreelancerID:   demoFreelancerID,
			OrganizationID: demoOrgID,
			Status:         marketdomain.ProjectStatusActive,
			CreatedAt:      now,
			UpdatedAt:      now,
		}); err != nil {
			return err
		}
		approvedAt := now
		tasks := []marketdomain.Task{
			{ID: "T-1", ProjectID: demoProjectID, Title: "Logo", Status: "done", Approved: true, ApprovedAt: &approvedAt, InvoiceNumber: demoInvoiceNumber, Rate: 50000},
			{ID: "T-2", ProjectID: demoProjectID, Title: "Style guide", Status: "in_progress", Rate: 75000},
		}
		for _, t := range tasks {
			if err := market.SaveTask(ctx, t); err != nil {
				return err
			}
		}
	}

	if err := ensureInvoice(ctx, invoices, now); err != nil {
		return err
	}

	w, err := wallets.Get(ctx, demoCommissionerID)
	if err != nil {
		return err
	}
	if w == nil || w.Balance == 0 {
		if _, err := wallets.Fund(ctx, demoCommissionerID, demoWalletFunding); err != nil {
			return err
		}
	}
	return nil
}

func ensureOrganization(ctx context.Context, market marketdomain.Repository) error {
	org, err := market.GetOrganization(ctx, demoOrgID)
	if err != nil && !errors.Is(err, marketdomain.ErrNotFound) {
		return err
	}
	if org != nil {
		return nil
	}
	return market.SaveOrganization(ctx, marketdomain.Organization{ID: demoOrgID, Name: demoOrgName})
}

func ensureUsers(ctx context.Context, market marketdomain.Repository) error {
	users := []marketdomain.User{
		{ID: demoCommissionerID, Name: "Ada Obi", Role: marketdomain.RoleCommissioner, OrganizationID: demoOrgID},
		{ID: demoFreelancerID, Name: "Tobi Philly", Role: marketdomain.RoleFreelancer},
	}
	for _, u := range users {
		existing, err := market.GetUser(ctx, u.ID)
		if err != nil && !errors.Is(err, marketdomain.ErrNotFound) {
			return err
		}
		if existing != nil {
			continue
		}
		if err := market.SaveUser(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

func ensureInvoice(ctx context.Context, invoices invoicedomain.Service, now time.Time) error {
	_, err := invoices.Get(ctx, demoInvoiceNumber)
	if err == nil {
		return nil
	}
	if !errors.Is(err, invoicedomain.ErrInvoiceNotFound) {
		return err
	}
	due := now.AddDate(0, 0, 14)
	_, err = invoices.Create(ctx, invoicedomain.CreateInvoiceRequest{
		InvoiceNumber:  demoInvoiceNumber,
		InvoiceType:    invoicedomain.TypeAutoMilestone,
		ProjectID:      demoProjectID,
		CommissionerID: demoCommissionerID,
		FreelancerID:   demoFreelancerID,
		Currency:       "USD",
		Milestones:     []invoicedomain.Milestone{{TaskID: "T-1", Description: "Logo", Rate: 50000}},
		DueDate:        &due,
		Send:           true,
	})
	return err
}
