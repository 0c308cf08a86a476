package enrich

import (
	"context"
	"testing"

	"github.com/smallbiznis/gigledger/internal/docstore/memory"
	"github.com/smallbiznis/gigledger/internal/events"
	invoicedomain "github.com/smallbiznis/gigledger/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/gigledger/internal/invoice/repository"
	marketdomain "github.com/smallbiznis/gigledger/internal/marketplace/domain"
	marketrepo "github.com/smallbiznis/gigledger/internal/marketplace/repository"
	"github.com/smallbiznis/gigledger/internal/notification/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolver(t *testing.T) (*Resolver, marketdomain.Repository, invoicedomain.Repository) {
	t.Helper()
	docs := memory.New()
	market := marketrepo.New(docs, nil)
	invoices := invoicerepo.New(docs, nil)
	return NewResolver(market, invoices, nil), market, invoices
}

func TestPartiesFallBackToGenericNames(t *testing.T) {
	r, _, _ := newResolver(t)

	parties, err := r.Parties(context.Background(), "missing", 0, 0)
	require.NoError(t, err)
	assert.Nil(t, parties.Project)
	assert.Equal(t, domain.GenericFreelancerName, parties.FreelancerName)
	assert.Equal(t, domain.GenericOrganizationName, parties.OrganizationName)
	assert.Zero(t, parties.CommissionerID)
}

func TestPartiesOrganizationFromCommissioner(t *testing.T) {
	ctx := context.Background()
	r, market, _ := newResolver(t)
	require.NoError(t, market.SaveOrganization(ctx, marketdomain.Organization{ID: "org-1", Name: "Corlax Wellness"}))
	require.NoError(t, market.SaveUser(ctx, marketdomain.User{ID: 31, Name: "Ada", OrganizationID: "org-1"}))
	require.NoError(t, market.SaveUser(ctx, marketdomain.User{ID: 1, Name: " Tobi Philly "}))
	require.NoError(t, market.SaveProject(ctx, marketdomain.Project{ID: "C-009", Title: "Brand refresh", CommissionerID: 31, FreelancerID: 1}))

	parties, err := r.Parties(ctx, "C-009", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(31), parties.CommissionerID)
	assert.Equal(t, int64(1), parties.FreelancerID)
	assert.Equal(t, "Tobi Philly", parties.FreelancerName)
	assert.Equal(t, "Corlax Wellness", parties.OrganizationName)
	assert.Equal(t, "Ada", parties.CommissionerName)
}

func TestMilestonePaymentFillsFromInvoice(t *testing.T) {
	ctx := context.Background()
	r, market, invoices := newResolver(t)
	require.NoError(t, market.SaveProject(ctx, marketdomain.Project{ID: "C-009", CommissionerID: 31, FreelancerID: 1}))
	require.NoError(t, market.SaveTask(ctx, marketdomain.Task{ID: "T-1", ProjectID: "C-009", Title: "Logo", Rate: 500}))
	require.NoError(t, invoices.Create(ctx, invoicedomain.Invoice{
		InvoiceNumber: "MH-009", InvoiceType: invoicedomain.TypeAutoMilestone, ProjectID: "C-009", TotalAmount: 500,
		Milestones: []invoicedomain.Milestone{{TaskID: "T-1", Rate: 500}},
	}))

	p, err := r.MilestonePayment(ctx, events.MilestonePaid{ProjectID: "C-009", InvoiceNumber: "MH-009"})
	require.NoError(t, err)
	assert.Equal(t, "T-1", p.TaskID)
	assert.Equal(t, "Logo", p.TaskTitle)
	assert.Equal(t, int64(500), p.Amount)
	assert.Equal(t, domain.GenericFreelancerName, p.FreelancerName)
}

func TestInvoicePaymentReportsType(t *testing.T) {
	ctx := context.Background()
	r, _, invoices := newResolver(t)
	require.NoError(t, invoices.Create(ctx, invoicedomain.Invoice{
		InvoiceNumber: "INV-7", InvoiceType: invoicedomain.TypeManual, ProjectID: "C-1",
		CommissionerID: 4, FreelancerID: 5, TotalAmount: 900,
	}))

	p, typ, err := r.InvoicePayment(ctx, events.InvoicePaid{InvoiceNumber: "INV-7"})
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.TypeManual, typ)
	assert.Equal(t, "C-1", p.ProjectID)
	assert.Equal(t, int64(900), p.Amount)
	assert.Equal(t, int64(4), p.CommissionerID)
	assert.Equal(t, int64(5), p.FreelancerID)

	_, typ, err = r.InvoicePayment(ctx, events.InvoicePaid{InvoiceNumber: "unknown", ProjectID: "C-1"})
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.TypeManual, typ)
}
