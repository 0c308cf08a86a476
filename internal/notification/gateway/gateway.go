package gateway

import (
	"context"
	"errors"
	"strconv"

	"github.com/smallbiznis/gigledger/internal/notification/dedup"
	"github.com/smallbiznis/gigledger/internal/notification/domain"
	"github.com/smallbiznis/gigledger/internal/observability/logger"
	"github.com/smallbiznis/gigledger/internal/observability/metrics"
	"go.uber.org/zap"
)

// Branch statuses.
const (
	StatusCreated       = "created"
	StatusUpgraded      = "upgraded"
	StatusSkipped       = "skipped"
	StatusSkippedRecent = "skipped_recent"
	StatusGuardSkip     = "guard_skip"
	StatusDisabled      = "disabled"
	StatusShadow        = "shadow"
	StatusError         = "error"
)

// BranchResult reports what happened for one audience.
type BranchResult struct {
	Audience domain.Audience `json:"audience"`
	Type     domain.EventType `json:"type"`
	Status   string           `json:"status"`
	EventID  string           `json:"eventId,omitempty"`
	Reason   string           `json:"reason,omitempty"`
	Err      error            `json:"-"`
}

type Result struct {
	Stage    Stage          `json:"stage"`
	Branches []BranchResult `json:"branches"`
}

// Changed counts branches that created or upgraded a record.
func (r Result) Changed() int {
	n := 0
	for _, b := range r.Branches {
		if b.Status == StatusCreated || b.Status == StatusUpgraded {
			n++
		}
	}
	return n
}

func (r Result) Created() int {
	n := 0
	for _, b := range r.Branches {
		if b.Status == StatusCreated {
			n++
		}
	}
	return n
}

func (r Result) err() error {
	var errs []error
	for _, b := range r.Branches {
		if b.Err != nil {
			errs = append(errs, b.Err)
		}
	}
	return errors.Join(errs...)
}

// Payment carries the resolved display data of a milestone or invoice payment.
type Payment struct {
	ProjectID        string
	TaskID           string
	InvoiceNumber    string
	Amount           int64
	CommissionerID   int64
	FreelancerID     int64
	FreelancerName   string
	OrganizationName string
	CommissionerName string
	ProjectTitle     string
	TaskTitle        string
	Source           string
}

// PaymentFailure is a declined automatic payment.
type PaymentFailure struct {
	Payment
	Code           string
	Reason         string
	Attempts       int
	RequiresManual bool
}

type TaskApproval struct {
	ProjectID        string
	TaskID           string
	TaskTitle        string
	ProjectTitle     string
	Rate             int64
	CommissionerID   int64
	FreelancerID     int64
	FreelancerName   string
	OrganizationName string
}

type ProjectCompletion struct {
	ProjectID        string
	ProjectTitle     string
	CommissionerID   int64
	FreelancerID     int64
	FreelancerName   string
	OrganizationName string
	CommissionerName string
}

type Gateway struct {
	flags   FlagSource
	legacy  Emitter
	single  Emitter
	planner *dedup.Engine
	opts    dedup.Options
	log     *zap.Logger
	metrics *metrics.DomainMetrics
}

func New(flags FlagSource, engine *dedup.Engine, opts dedup.Options, log *zap.Logger, m *metrics.DomainMetrics) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		flags:   flags,
		legacy:  NewLegacyEmitter(engine, opts),
		single:  NewSingleEmitter(engine, opts),
		planner: engine,
		opts:    opts,
		log:     log.Named("notification.gateway"),
		metrics: m,
	}
}

type candidate struct {
	event domain.Event
	guard string
}

// EmitMilestonePayment notifies the freelancer (payment received) and the
// commissioner (payment sent). Each audience is guarded and deduplicated on its own.
func (g *Gateway) EmitMilestonePayment(ctx context.Context, p Payment) (Result, error) {
	return g.emit(ctx, "milestone_payment", true, []candidate{
		{
			event: paymentEvent(domain.TypeMilestonePaymentReceived, domain.AudienceFreelancer, p),
			guard: freelancerPaymentGuard(p),
		},
		{
			event: paymentEvent(domain.TypeMilestonePaymentSent, domain.AudienceCommissioner, p),
			guard: commissionerPaymentGuard(p),
		},
	})
}

func (g *Gateway) EmitInvoicePaid(ctx context.Context, p Payment) (Result, error) {
	return g.emit(ctx, "invoice_paid", true, []candidate{
		{
			event: paymentEvent(domain.TypeInvoicePaid, domain.AudienceFreelancer, p),
			guard: freelancerPaymentGuard(p),
		},
		{
			event: paymentEvent(domain.TypeInvoicePaymentSent, domain.AudienceCommissioner, p),
			guard: commissionerPaymentGuard(p),
		},
	})
}

// EmitPaymentFailed tells the commissioner that an automatic charge was declined.
func (g *Gateway) EmitPaymentFailed(ctx context.Context, f PaymentFailure) (Result, error) {
	ev := paymentEvent(domain.TypeInvoicePaymentFailed, domain.AudienceCommissioner, f.Payment)
	ev.Metadata[domain.MetaFailureCode] = f.Code
	ev.Metadata[domain.MetaFailureReason] = f.Reason
	ev.Metadata[domain.MetaAttempts] = f.Attempts
	ev.Metadata["requiresManual"] = f.RequiresManual
	return g.emit(ctx, "payment_failed", true, []candidate{
		{event: ev, guard: commissionerPaymentGuard(f.Payment)},
	})
}

func (g *Gateway) EmitTaskApproved(ctx context.Context, a TaskApproval) (Result, error) {
	guard := ""
	switch {
	case a.TaskTitle == "":
		guard = "task title unresolved"
	case a.FreelancerID <= 0:
		guard = "freelancer unresolved"
	case domain.IsGenericName(a.OrganizationName):
		guard = "organization name unresolved"
	}
	meta := domain.Metadata{
		domain.MetaAmount:           a.Rate,
		domain.MetaTaskTitle:        a.TaskTitle,
		domain.MetaProjectTitle:     a.ProjectTitle,
		domain.MetaOrganizationName: a.OrganizationName,
	}
	if !domain.IsGenericName(a.FreelancerName) {
		meta[domain.MetaFreelancerName] = a.FreelancerName
	}
	ev := domain.Event{
		Type:       domain.TypeTaskApproved,
		Audience:   domain.AudienceFreelancer,
		ActorID:    a.CommissionerID,
		TargetID:   a.FreelancerID,
		EntityType: domain.EntityTask,
		EntityID:   a.TaskID,
		Metadata:   meta,
		Context:    domain.Context{ProjectID: a.ProjectID, TaskID: a.TaskID},
	}
	return g.emit(ctx, "task_approved", false, []candidate{{event: ev, guard: guard}})
}

// EmitProjectCompleted prompts both parties to rate each other.
func (g *Gateway) EmitProjectCompleted(ctx context.Context, c ProjectCompletion) (Result, error) {
	guard := ""
	switch {
	case domain.IsGenericName(c.FreelancerName):
		guard = "freelancer name unresolved"
	case domain.IsGenericName(c.OrganizationName):
		guard = "organization name unresolved"
	}
	meta := domain.Metadata{
		domain.MetaProjectTitle:     c.ProjectTitle,
		domain.MetaFreelancerName:   c.FreelancerName,
		domain.MetaOrganizationName: c.OrganizationName,
		domain.MetaCommissionerName: c.CommissionerName,
	}
	build := func(a domain.Audience, actor, target int64) domain.Event {
		return domain.Event{
			Type:       domain.TypeProjectCompleted,
			Audience:   a,
			ActorID:    actor,
			TargetID:   target,
			EntityType: domain.EntityProject,
			EntityID:   c.ProjectID,
			Metadata:   meta.Clone(),
			Context:    domain.Context{ProjectID: c.ProjectID},
		}
	}
	return g.emit(ctx, "project_completed", false, []candidate{
		{event: build(domain.AudienceFreelancer, c.CommissionerID, c.FreelancerID), guard: guard},
		{event: build(domain.AudienceCommissioner, c.FreelancerID, c.CommissionerID), guard: guard},
	})
}

// Stage reports the stage the next emission would use.
func (g *Gateway) Stage() Stage {
	return StageFor(g.flags.Get())
}

func (g *Gateway) emit(ctx context.Context, operation string, payment bool, candidates []candidate) (Result, error) {
	flags := g.flags.Get()
	stage := StageFor(flags)
	// non-payment notifications follow the single emitter flag only
	if !payment && stage != StageOff {
		switch {
		case flags.SingleEmitterEnabled:
			stage = StageCutover
		case stage != StageShadow:
			stage = StageLegacy
		}
	}
	log := logger.WithContext(ctx, g.log).With(zap.String("operation", operation), zap.String("stage", string(stage)))

	res := Result{Stage: stage, Branches: make([]BranchResult, 0, len(candidates))}
	if stage == StageOff {
		log.Info("notification.kill_switch")
		g.metrics.IncGatewayPath(operation, string(StageOff))
		for _, c := range candidates {
			res.Branches = append(res.Branches, BranchResult{Audience: c.event.Audience, Type: c.event.Type, Status: StatusDisabled})
		}
		return res, nil
	}
	g.metrics.IncGatewayPath(operation, string(stage))

	for _, c := range candidates {
		branch := BranchResult{Audience: c.event.Audience, Type: c.event.Type}
		if c.guard != "" {
			branch.Status = StatusGuardSkip
			branch.Reason = c.guard
			log.Info("notification.guard_skip",
				zap.String("audience", string(c.event.Audience)),
				zap.String("type", string(c.event.Type)),
				zap.String("reason", c.guard),
			)
			g.metrics.IncNotification(string(c.event.Type), string(c.event.Audience), metrics.OutcomeSuppressed)
			res.Branches = append(res.Branches, branch)
			continue
		}

		out, err := g.route(ctx, log, stage, c.event)
		if err != nil {
			branch.Status = StatusError
			branch.Err = err
			g.metrics.IncNotification(string(c.event.Type), string(c.event.Audience), metrics.OutcomeFailed)
			log.Warn("notification.emit_failed", zap.String("audience", string(c.event.Audience)), zap.Error(err))
		} else {
			branch.Status = statusFor(out.Decision)
			branch.EventID = out.Event.ID
		}
		res.Branches = append(res.Branches, branch)
	}
	return res, res.err()
}

func (g *Gateway) route(ctx context.Context, log *zap.Logger, stage Stage, ev domain.Event) (dedup.Result, error) {
	switch stage {
	case StageCutover:
		return g.single.Emit(ctx, ev)
	case StageHybrid:
		out, err := g.single.Emit(ctx, ev)
		if err != nil {
			return out, err
		}
		if _, err := g.legacy.Emit(ctx, ev); err != nil {
			log.Warn("notification.legacy_path_failed", zap.Error(err))
		}
		return out, nil
	case StageShadow:
		out, err := g.legacy.Emit(ctx, ev)
		if err != nil {
			return out, err
		}
		opts := g.opts
		opts.AllowUpgrade = true
		plan, planErr := g.planner.Plan(ctx, ev, opts)
		if planErr != nil {
			log.Warn("notification.shadow_plan_failed", zap.Error(planErr))
		} else {
			log.Info("notification.shadow_plan",
				zap.String("audience", string(ev.Audience)),
				zap.String("legacy_decision", string(out.Decision)),
				zap.String("single_decision", string(plan.Decision)),
			)
			g.metrics.IncNotification(string(ev.Type), string(ev.Audience), metrics.OutcomeShadow)
		}
		return out, nil
	default:
		return g.legacy.Emit(ctx, ev)
	}
}

func statusFor(d dedup.Decision) string {
	switch d {
	case dedup.DecisionCreate:
		return StatusCreated
	case dedup.DecisionUpgrade:
		return StatusUpgraded
	case dedup.DecisionRecent:
		return StatusSkippedRecent
	default:
		return StatusSkipped
	}
}

func paymentEvent(t domain.EventType, a domain.Audience, p Payment) domain.Event {
	actor, target := p.CommissionerID, p.FreelancerID
	if a == domain.AudienceCommissioner {
		actor, target = p.FreelancerID, p.CommissionerID
	}
	meta := domain.Metadata{
		domain.MetaAmount:           p.Amount,
		domain.MetaFreelancerName:   p.FreelancerName,
		domain.MetaOrganizationName: p.OrganizationName,
		domain.MetaInvoiceNumber:    p.InvoiceNumber,
	}
	if p.CommissionerName != "" {
		meta[domain.MetaCommissionerName] = p.CommissionerName
	}
	if p.ProjectTitle != "" {
		meta[domain.MetaProjectTitle] = p.ProjectTitle
	}
	if p.TaskTitle != "" {
		meta[domain.MetaTaskTitle] = p.TaskTitle
	}
	if p.Source != "" {
		meta[domain.MetaSource] = p.Source
	}
	return domain.Event{
		Type:       t,
		Audience:   a,
		ActorID:    actor,
		TargetID:   target,
		EntityType: domain.EntityInvoice,
		EntityID:   p.InvoiceNumber,
		Metadata:   meta,
		Context:    domain.Context{ProjectID: p.ProjectID, TaskID: p.TaskID, InvoiceNumber: p.InvoiceNumber},
	}
}

func freelancerPaymentGuard(p Payment) string {
	switch {
	case domain.IsGenericName(p.OrganizationName):
		return "organization name unresolved"
	case p.Amount <= 0:
		return "amount " + strconv.FormatInt(p.Amount, 10) + " is not positive"
	case p.FreelancerID <= 0:
		return "freelancer unresolved"
	}
	return ""
}

func commissionerPaymentGuard(p Payment) string {
	switch {
	case domain.IsGenericName(p.FreelancerName):
		return "freelancer name unresolved"
	case p.Amount <= 0:
		return "amount " + strconv.FormatInt(p.Amount, 10) + " is not positive"
	case p.CommissionerID <= 0:
		return "commissioner unresolved"
	}
	return ""
}
