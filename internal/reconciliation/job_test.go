package reconciliation

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gigledger/internal/clock"
	"github.com/smallbiznis/gigledger/internal/config"
	"github.com/smallbiznis/gigledger/internal/docstore/memory"
	"github.com/smallbiznis/gigledger/internal/events"
	invoicedomain "github.com/smallbiznis/gigledger/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/gigledger/internal/invoice/repository"
	marketdomain "github.com/smallbiznis/gigledger/internal/marketplace/domain"
	marketrepo "github.com/smallbiznis/gigledger/internal/marketplace/repository"
	"github.com/smallbiznis/gigledger/internal/notification/dedup"
	"github.com/smallbiznis/gigledger/internal/notification/domain"
	"github.com/smallbiznis/gigledger/internal/notification/enrich"
	"github.com/smallbiznis/gigledger/internal/notification/gateway"
	"github.com/smallbiznis/gigledger/internal/notification/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	job      *Job
	gw       *gateway.Gateway
	resolver *enrich.Resolver
	store    *store.Store
	market   marketdomain.Repository
	invoices invoicedomain.Repository
	clock    *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	docs := memory.New()
	clk := clock.NewFakeClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)

	market := marketrepo.New(docs, nil)
	invoices := invoicerepo.New(docs, nil)
	st := store.New(docs, clk, nil)
	engine := dedup.NewEngine(st, dedup.NewMemoryCache(24*time.Hour, clk), clk, node, nil, nil)
	flags := config.NewStaticFlags(config.NotificationFlags{SingleEmitterEnabled: true, DisableLegacyPathForPayments: true})
	gw := gateway.New(flags, engine, dedup.Options{ScanLimit: 1000, LookbackDays: 30, RepeatWindow: 5 * time.Minute}, nil, nil)
	resolver := enrich.NewResolver(market, invoices, nil)

	job := New(Deps{
		Docs: docs, Market: market, Invoices: invoices, Index: st,
		Resolver: resolver, Emitter: gw, Clock: clk, Node: node,
	})

	require.NoError(t, market.SaveOrganization(ctx, marketdomain.Organization{ID: "org-1", Name: "Corlax Wellness"}))
	require.NoError(t, market.SaveUser(ctx, marketdomain.User{ID: 31, Name: "Ada", Role: marketdomain.RoleCommissioner, OrganizationID: "org-1"}))
	require.NoError(t, market.SaveUser(ctx, marketdomain.User{ID: 1, Name: "Tobi Philly", Role: marketdomain.RoleFreelancer}))

	return &fixture{job: job, gw: gw, resolver: resolver, store: st, market: market, invoices: invoices, clock: clk}
}

func (f *fixture) project(t *testing.T, p marketdomain.Project, tasks ...marketdomain.Task) {
	t.Helper()
	ctx := context.Background()
	if p.CommissionerID == 0 {
		p.CommissionerID = 31
	}
	if p.FreelancerID == 0 {
		p.FreelancerID = 1
	}
	require.NoError(t, f.market.SaveProject(ctx, p))
	for _, task := range tasks {
		task.ProjectID = p.ID
		require.NoError(t, f.market.SaveTask(ctx, task))
	}
}

func (f *fixture) count(t *testing.T, projectID string, typ domain.EventType) int {
	t.Helper()
	all, err := f.store.ListForProject(context.Background(), projectID, store.Query{Types: []domain.EventType{typ}})
	require.NoError(t, err)
	return len(all)
}

func approved(id string) marketdomain.Task {
	return marketdomain.Task{ID: id, Title: "Task " + id, Rate: 500, Approved: true}
}

func TestRunConverges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.project(t, marketdomain.Project{ID: "P-1", Title: "Site", Status: marketdomain.ProjectStatusActive},
		approved("T-1"), approved("T-2"), approved("T-3"))

	in, err := f.resolver.TaskApproval(ctx, events.TaskApproved{ProjectID: "P-1", TaskID: "T-1", ApprovedBy: 31})
	require.NoError(t, err)
	_, err = f.gw.EmitTaskApproved(ctx, in)
	require.NoError(t, err)
	require.Equal(t, 1, f.count(t, "P-1", domain.TypeTaskApproved))

	report, err := f.job.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.ProjectsScanned)
	assert.Equal(t, 2, report.GapsFound)
	assert.Equal(t, 2, report.Backfilled)
	for _, g := range report.Gaps {
		assert.Equal(t, GapTaskApproved, g.Kind)
		assert.Equal(t, GapStatusBackfilled, g.Status)
	}
	assert.Equal(t, 3, f.count(t, "P-1", domain.TypeTaskApproved))

	second, err := f.job.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Zero(t, second.GapsFound)
	assert.Equal(t, 3, f.count(t, "P-1", domain.TypeTaskApproved))

	saved, err := f.job.GetRun(ctx, report.RunID)
	require.NoError(t, err)
	assert.Equal(t, 2, saved.Backfilled)
}

func TestDryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.project(t, marketdomain.Project{ID: "P-1", Title: "Site"}, approved("T-1"), approved("T-2"))

	report, err := f.job.Run(ctx, Options{DryRun: true})
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 2, report.GapsFound)
	assert.Zero(t, report.Backfilled)
	for _, g := range report.Gaps {
		assert.Equal(t, GapStatusDryRun, g.Status)
	}
	assert.Zero(t, f.count(t, "P-1", domain.TypeTaskApproved))

	_, err = f.job.GetRun(ctx, report.RunID)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestPaymentAndCompletionGaps(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	paid := approved("T-1")
	paid.InvoiceNumber = "MH-1"
	pending := approved("T-2")
	pending.InvoiceNumber = "MH-2"
	f.project(t, marketdomain.Project{ID: "P-2", Title: "Brand", Status: marketdomain.ProjectStatusCompleted}, paid, pending)

	require.NoError(t, f.invoices.Create(ctx, invoicedomain.Invoice{
		InvoiceNumber: "MH-1", InvoiceType: invoicedomain.TypeAutoMilestone, Status: invoicedomain.StatusPaid,
		ProjectID: "P-2", CommissionerID: 31, FreelancerID: 1, TotalAmount: 500,
		Milestones: []invoicedomain.Milestone{{TaskID: "T-1", Rate: 500}},
	}))
	require.NoError(t, f.invoices.Create(ctx, invoicedomain.Invoice{
		InvoiceNumber: "MH-2", InvoiceType: invoicedomain.TypeAutoMilestone, Status: invoicedomain.StatusSent,
		ProjectID: "P-2", CommissionerID: 31, FreelancerID: 1, TotalAmount: 500,
	}))

	report, err := f.job.Run(ctx, Options{ProjectIDs: []string{"P-2", "missing"}})
	require.NoError(t, err)

	kinds := map[GapKind]int{}
	for _, g := range report.Gaps {
		kinds[g.Kind]++
	}
	assert.Equal(t, 2, kinds[GapTaskApproved])
	assert.Equal(t, 1, kinds[GapPayment])
	assert.Equal(t, 1, kinds[GapCompletion])
	assert.Equal(t, 4, report.Backfilled)

	assert.Equal(t, 1, f.count(t, "P-2", domain.TypeMilestonePaymentReceived))
	assert.Equal(t, 1, f.count(t, "P-2", domain.TypeMilestonePaymentSent))
	assert.Equal(t, 2, f.count(t, "P-2", domain.TypeProjectCompleted))

	again, err := f.job.Run(ctx, Options{ProjectIDs: []string{"P-2"}})
	require.NoError(t, err)
	assert.Zero(t, again.GapsFound)
}

func TestGuardedGapStaysUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.market.SaveUser(ctx, marketdomain.User{ID: 31, Name: "Ada", Role: marketdomain.RoleCommissioner}))
	f.project(t, marketdomain.Project{ID: "P-3", Title: "App", Status: marketdomain.ProjectStatusCompleted})
	require.NoError(t, f.market.SaveTask(ctx, marketdomain.Task{ID: "T-1", ProjectID: "P-3", Title: "Only", Approved: true}))

	report, err := f.job.Run(ctx, Options{ProjectIDs: []string{"P-3"}})
	require.NoError(t, err)

	var completion *Gap
	for i := range report.Gaps {
		if report.Gaps[i].Kind == GapCompletion {
			completion = &report.Gaps[i]
		}
	}
	require.NotNil(t, completion)
	assert.Equal(t, GapStatusUnchanged, completion.Status)
	assert.Equal(t, "organization name unresolved", completion.Reason)
	assert.Zero(t, f.count(t, "P-3", domain.TypeProjectCompleted))
}

func TestSinceSkipsStaleProjects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := f.clock.Now()
	f.project(t, marketdomain.Project{ID: "old", Title: "Old", UpdatedAt: now.AddDate(0, -3, 0)}, approved("T-1"))
	f.project(t, marketdomain.Project{ID: "new", Title: "New", UpdatedAt: now.Add(-time.Hour)}, approved("T-1"))

	report, err := f.job.Run(ctx, Options{Since: now.AddDate(0, 0, -30), DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.ProjectsScanned)
	require.Len(t, report.Gaps, 1)
	assert.Equal(t, "new", report.Gaps[0].ProjectID)
}

func TestBatchesPauseBetweenPages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for _, id := range []string{"A", "B", "C"} {
		f.project(t, marketdomain.Project{ID: id, Title: id})
	}
	var pauses int
	f.job.sleep = func(context.Context, time.Duration) error {
		pauses++
		return nil
	}

	report, err := f.job.Run(ctx, Options{BatchSize: 2, BatchPause: time.Second, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 3, report.ProjectsScanned)
	assert.Equal(t, 1, pauses)
}
