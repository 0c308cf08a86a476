// Package reconciliation finds domain actions whose notifications were never
// recorded and backfills them through the idempotent gateway path.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gigledger/internal/clock"
	docdomain "github.com/smallbiznis/gigledger/internal/docstore/domain"
	"github.com/smallbiznis/gigledger/internal/events"
	invoicedomain "github.com/smallbiznis/gigledger/internal/invoice/domain"
	marketdomain "github.com/smallbiznis/gigledger/internal/marketplace/domain"
	"github.com/smallbiznis/gigledger/internal/notification/domain"
	"github.com/smallbiznis/gigledger/internal/notification/enrich"
	"github.com/smallbiznis/gigledger/internal/notification/gateway"
	obscontext "github.com/smallbiznis/gigledger/internal/observability/context"
	"github.com/smallbiznis/gigledger/internal/observability/logger"
	"github.com/smallbiznis/gigledger/internal/observability/metrics"
	"go.uber.org/zap"
)

const defaultBatchSize = 25

// IndexReader lists the recorded notification keys of a project.
type IndexReader interface {
	ListProjectIndex(ctx context.Context, projectID string, limit int) ([]domain.IndexEntry, error)
}

// Emitter is the gateway surface used for backfills.
type Emitter interface {
	EmitTaskApproved(ctx context.Context, a gateway.TaskApproval) (gateway.Result, error)
	EmitMilestonePayment(ctx context.Context, p gateway.Payment) (gateway.Result, error)
	EmitInvoicePaid(ctx context.Context, p gateway.Payment) (gateway.Result, error)
	EmitProjectCompleted(ctx context.Context, c gateway.ProjectCompletion) (gateway.Result, error)
}

type Job struct {
	docs     docdomain.Store
	market   marketdomain.Repository
	invoices enrich.InvoiceReader
	index    IndexReader
	resolver *enrich.Resolver
	emitter  Emitter
	clock    clock.Clock
	node     *snowflake.Node
	log      *zap.Logger
	metrics  *metrics.DomainMetrics
	defaults Options

	running atomic.Bool
	sleep   func(ctx context.Context, d time.Duration) error
}

type Deps struct {
	Docs     docdomain.Store
	Market   marketdomain.Repository
	Invoices enrich.InvoiceReader
	Index    IndexReader
	Resolver *enrich.Resolver
	Emitter  Emitter
	Clock    clock.Clock
	Node     *snowflake.Node
	Log      *zap.Logger
	Metrics  *metrics.DomainMetrics
	// Defaults fill zero batch settings of each run.
	Defaults Options
}

func New(d Deps) *Job {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	clk := d.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Job{
		docs:     d.Docs,
		market:   d.Market,
		invoices: d.Invoices,
		index:    d.Index,
		resolver: d.Resolver,
		emitter:  d.Emitter,
		clock:    clk,
		node:     d.Node,
		log:      log.Named("reconciliation"),
		metrics:  d.Metrics,
		defaults: d.Defaults,
		sleep:    sleepContext,
	}
}

// Run scans projects in batches and backfills every gap found. Only one run
// executes at a time per process. The report is persisted unless DryRun.
func (j *Job) Run(ctx context.Context, opts Options) (Report, error) {
	if !j.running.CompareAndSwap(false, true) {
		return Report{}, ErrAlreadyRunning
	}
	defer j.running.Store(false)

	opts = j.withDefaults(opts)
	ctx = obscontext.WithActor(ctx, "system", "reconciliation")
	report := Report{RunID: j.runID(), DryRun: opts.DryRun, StartedAt: j.clock.Now()}
	log := logger.WithContext(ctx, j.log).With(zap.String("run_id", report.RunID), zap.Bool("dry_run", opts.DryRun))

	projects, err := j.projects(ctx, opts)
	if err != nil {
		return report, err
	}

	var errs []error
	for start := 0; start < len(projects); start += opts.BatchSize {
		if start > 0 && opts.BatchPause > 0 {
			if err := j.sleep(ctx, opts.BatchPause); err != nil {
				errs = append(errs, err)
				break
			}
		}
		end := min(start+opts.BatchSize, len(projects))
		for _, project := range projects[start:end] {
			if err := ctx.Err(); err != nil {
				errs = append(errs, err)
				break
			}
			report.ProjectsScanned++
			if err := j.reconcileProject(ctx, log, project, opts, &report); err != nil {
				errs = append(errs, fmt.Errorf("project %s: %w", project.ID, err))
			}
		}
	}

	for _, err := range errs {
		report.Errors = append(report.Errors, err.Error())
	}
	report.FinishedAt = j.clock.Now()
	j.count(report)

	log.Info("reconciliation.finished",
		zap.Int("projects", report.ProjectsScanned),
		zap.Int("gaps", report.GapsFound),
		zap.Int("backfilled", report.Backfilled),
		zap.Int("errors", len(report.Errors)),
	)

	if !opts.DryRun && j.docs != nil {
		if err := docdomain.Put(ctx, j.docs, docdomain.ReconciliationRunKey(report.RunID), report); err != nil {
			errs = append(errs, fmt.Errorf("persist run: %w", err))
		}
	}
	return report, errors.Join(errs...)
}

// GetRun loads a persisted report.
func (j *Job) GetRun(ctx context.Context, runID string) (*Report, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" || strings.Contains(runID, "/") {
		return nil, ErrRunNotFound
	}
	report, err := docdomain.Get[Report](ctx, j.docs, docdomain.ReconciliationRunKey(runID))
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, ErrRunNotFound
	}
	return report, nil
}

func (j *Job) withDefaults(opts Options) Options {
	if opts.BatchSize <= 0 {
		opts.BatchSize = j.defaults.BatchSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.BatchPause <= 0 {
		opts.BatchPause = j.defaults.BatchPause
	}
	if opts.Since.IsZero() {
		opts.Since = j.defaults.Since
	}
	return opts
}

func (j *Job) projects(ctx context.Context, opts Options) ([]marketdomain.Project, error) {
	if len(opts.ProjectIDs) > 0 {
		out := make([]marketdomain.Project, 0, len(opts.ProjectIDs))
		for _, id := range opts.ProjectIDs {
			p, err := j.market.GetProject(ctx, id)
			if errors.Is(err, marketdomain.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("load project %s: %w", id, err)
			}
			out = append(out, *p)
		}
		return out, nil
	}

	all, err := j.market.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	if opts.Since.IsZero() {
		return all, nil
	}
	out := all[:0]
	for _, p := range all {
		touched := p.UpdatedAt
		if touched.IsZero() {
			touched = p.CreatedAt
		}
		if touched.IsZero() || !touched.Before(opts.Since) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (j *Job) reconcileProject(ctx context.Context, log *zap.Logger, project marketdomain.Project, opts Options, report *Report) error {
	entries, err := j.index.ListProjectIndex(ctx, project.ID, 0)
	if err != nil {
		return fmt.Errorf("list notifications: %w", err)
	}
	recorded := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		recorded[e.DedupKey] = struct{}{}
	}
	tasks, err := j.market.ListTasks(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	var errs []error
	record := func(g Gap, backfill func() (gateway.Result, error)) {
		if opts.DryRun {
			g.Status = GapStatusDryRun
		} else {
			res, err := backfill()
			g.Status, g.Reason = outcome(res, err)
			if err != nil {
				errs = append(errs, err)
			}
		}
		log.Info("reconciliation.gap",
			zap.String("kind", string(g.Kind)),
			zap.String("project_id", g.ProjectID),
			zap.String("task_id", g.TaskID),
			zap.String("invoice_number", g.InvoiceNumber),
			zap.String("key", g.Key),
			zap.String("status", g.Status),
			zap.String("reason", g.Reason),
		)
		report.add(g)
	}

	for _, task := range tasks {
		if !task.Approved {
			continue
		}
		key := domain.BuildKey(domain.TypeTaskApproved, domain.AudienceFreelancer, project.ID, "task-"+task.ID)
		if _, ok := recorded[key]; ok {
			continue
		}
		record(Gap{Kind: GapTaskApproved, ProjectID: project.ID, TaskID: task.ID, Key: key}, func() (gateway.Result, error) {
			ev := events.TaskApproved{ProjectID: project.ID, TaskID: task.ID, ApprovedBy: project.CommissionerID}
			if task.ApprovedAt != nil {
				ev.ApprovedAt = *task.ApprovedAt
			}
			in, err := j.resolver.TaskApproval(ctx, ev)
			if err != nil {
				return gateway.Result{}, err
			}
			return j.emitter.EmitTaskApproved(ctx, in)
		})
	}

	seen := map[string]struct{}{}
	for _, task := range tasks {
		number := strings.TrimSpace(task.InvoiceNumber)
		if number == "" {
			continue
		}
		if _, dup := seen[number]; dup {
			continue
		}
		seen[number] = struct{}{}

		inv, err := j.paidInvoice(ctx, number)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if inv == nil {
			continue
		}
		eventType := domain.TypeInvoicePaid
		if inv.InvoiceType == invoicedomain.TypeAutoMilestone {
			eventType = domain.TypeMilestonePaymentReceived
		}
		key := domain.BuildKey(eventType, domain.AudienceFreelancer, project.ID, number)
		if _, ok := recorded[key]; ok {
			continue
		}
		record(Gap{Kind: GapPayment, ProjectID: project.ID, TaskID: task.ID, InvoiceNumber: number, Key: key}, func() (gateway.Result, error) {
			in, invoiceType, err := j.resolver.InvoicePayment(ctx, events.InvoicePaid{InvoiceNumber: number, ProjectID: project.ID})
			if err != nil {
				return gateway.Result{}, err
			}
			in.Source = "reconciliation"
			if invoiceType == invoicedomain.TypeAutoMilestone {
				if in.TaskID == "" {
					in.TaskID = task.ID
				}
				if in.TaskTitle == "" {
					in.TaskTitle = task.Title
				}
				return j.emitter.EmitMilestonePayment(ctx, in)
			}
			return j.emitter.EmitInvoicePaid(ctx, in)
		})
	}

	if project.Status == marketdomain.ProjectStatusCompleted && marketdomain.AllTasksApproved(tasks) {
		key := domain.BuildKey(domain.TypeProjectCompleted, domain.AudienceFreelancer, project.ID, domain.ReferenceCompletion)
		if _, ok := recorded[key]; !ok {
			record(Gap{Kind: GapCompletion, ProjectID: project.ID, Key: key}, func() (gateway.Result, error) {
				in, err := j.resolver.ProjectCompletion(ctx, project.ID)
				if err != nil {
					return gateway.Result{}, err
				}
				return j.emitter.EmitProjectCompleted(ctx, in)
			})
		}
	}
	return errors.Join(errs...)
}

// paidInvoice returns the invoice only when it has been paid.
func (j *Job) paidInvoice(ctx context.Context, number string) (*invoicedomain.Invoice, error) {
	if j.invoices == nil {
		return nil, nil
	}
	inv, err := j.invoices.Get(ctx, number)
	if errors.Is(err, invoicedomain.ErrInvalidInvoice) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load invoice %s: %w", number, err)
	}
	if inv == nil || inv.Status != invoicedomain.StatusPaid {
		return nil, nil
	}
	return inv, nil
}

func (j *Job) count(r Report) {
	found := map[GapKind]int{}
	filled := map[GapKind]int{}
	for _, g := range r.Gaps {
		found[g.Kind]++
		if g.Status == GapStatusBackfilled {
			filled[g.Kind]++
		}
	}
	for _, kind := range []GapKind{GapTaskApproved, GapPayment, GapCompletion} {
		j.metrics.AddReconciliation(string(kind), found[kind], filled[kind])
	}
}

func (j *Job) runID() string {
	if j.node == nil {
		return j.clock.Now().UTC().Format("20060102T150405.000000000")
	}
	return j.node.Generate().String()
}

func outcome(res gateway.Result, err error) (string, string) {
	if err != nil {
		return GapStatusFailed, err.Error()
	}
	if res.Changed() > 0 {
		return GapStatusBackfilled, ""
	}
	reason := ""
	for _, b := range res.Branches {
		if b.Reason != "" {
			return GapStatusUnchanged, b.Reason
		}
		if reason == "" {
			reason = b.Status
		}
	}
	return GapStatusUnchanged, reason
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
