// Package domain contains the invoice model and its lifecycle state machine.
package domain

import (
	"strings"
	"time"
)

// Status represents invoice lifecycle states.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSent      Status = "sent"
	StatusPaid      Status = "paid"
	StatusOnHold    Status = "on_hold"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{StatusDraft, StatusSent, StatusPaid, StatusOnHold, StatusOverdue, StatusCancelled}

// Type distinguishes how an invoice came to exist and how it gets paid.
type Type string

const (
	TypeManual         Type = "manual"
	TypeAutoMilestone  Type = "auto_milestone"
	TypeAutoCompletion Type = "auto_completion"
)

type Milestone struct {
	TaskID      string `json:"taskId"`
	Description string `json:"description"`
	Rate        int64  `json:"rate"`
}

// StatusChange is one entry of the invoice audit trail.
type StatusChange struct {
	From   Status    `json:"from"`
	To     Status    `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// Invoice is a financial document for one project. Amounts are minor units.
type Invoice struct {
	InvoiceNumber  string      `json:"invoiceNumber"`
	Status         Status      `json:"status"`
	InvoiceType    Type        `json:"invoiceType"`
	TotalAmount    int64       `json:"totalAmount"`
	Currency       string      `json:"currency"`
	ProjectID      string      `json:"projectId"`
	CommissionerID int64       `json:"commissionerId"`
	FreelancerID   int64       `json:"freelancerId"`
	Milestones     []Milestone `json:"milestones"`

	AutoPaymentAttempts        int        `json:"autoPaymentAttempts"`
	NextRetryDate              *time.Time `json:"nextRetryDate,omitempty"`
	PaymentFailureCode         string     `json:"paymentFailureCode,omitempty"`
	PaymentFailureReason       string     `json:"paymentFailureReason,omitempty"`
	RequiresManualIntervention bool       `json:"requiresManualIntervention"`
	PaymentReference           string     `json:"paymentReference,omitempty"`

	IssuedAt    *time.Time     `json:"issuedAt,omitempty"`
	DueDate     *time.Time     `json:"dueDate,omitempty"`
	PaidDate    *time.Time     `json:"paidDate,omitempty"`
	CancelledAt *time.Time     `json:"cancelledAt,omitempty"`
	History     []StatusChange `json:"history,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// transitions is the only source of allowed status edges. Overdue is listed so
// the lazily derived status has legal exits; it is never requested explicitly.
var transitions = map[Status][]Status{
	StatusDraft:     {StatusSent, StatusCancelled},
	StatusSent:      {StatusPaid, StatusOnHold, StatusOverdue, StatusCancelled},
	StatusOnHold:    {StatusPaid, StatusSent, StatusCancelled},
	StatusOverdue:   {StatusPaid, StatusCancelled},
	StatusPaid:      nil,
	StatusCancelled: nil,
}

func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := transitions[s]; !ok {
		return "", ErrInvalidStatus
	}
	return s, nil
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

// EffectiveStatus applies the lazy overdue rule: a sent invoice past its due
// date reads as overdue.
func (inv Invoice) EffectiveStatus(now time.Time) Status {
	if inv.Status == StatusSent && inv.DueDate != nil && now.After(*inv.DueDate) {
		return StatusOverdue
	}
	return inv.Status
}

// Transition moves the invoice to status to, starting from its effective
// status. On error the invoice is left untouched.
func (inv *Invoice) Transition(to Status, now time.Time, reason string) error {
	from := inv.EffectiveStatus(now)
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	if to == StatusOnHold && inv.InvoiceType != TypeAutoMilestone {
		return &TransitionError{From: from, To: to, Reason: "on_hold requires an auto_milestone invoice"}
	}

	inv.Status = to
	inv.UpdatedAt = now
	switch to {
	case StatusSent:
		if inv.IssuedAt == nil {
			inv.IssuedAt = &now
		}
	case StatusPaid:
		inv.PaidDate = &now
		inv.NextRetryDate = nil
		inv.PaymentFailureCode = ""
		inv.PaymentFailureReason = ""
		inv.RequiresManualIntervention = false
	case StatusCancelled:
		inv.CancelledAt = &now
		inv.NextRetryDate = nil
	}
	inv.History = append(inv.History, StatusChange{From: from, To: to, At: now, Reason: reason})
	return nil
}

// Clone returns a copy that shares no slices or pointers with inv.
func (inv Invoice) Clone() Invoice {
	out := inv
	out.Milestones = append([]Milestone(nil), inv.Milestones...)
	out.History = append([]StatusChange(nil), inv.History...)
	out.NextRetryDate = cloneTime(inv.NextRetryDate)
	out.IssuedAt = cloneTime(inv.IssuedAt)
	out.DueDate = cloneTime(inv.DueDate)
	out.PaidDate = cloneTime(inv.PaidDate)
	out.CancelledAt = cloneTime(inv.CancelledAt)
	return out
}

// MilestoneTotal sums the milestone rates.
func (inv Invoice) MilestoneTotal() int64 {
	var total int64
	for _, m := range inv.Milestones {
		total += m.Rate
	}
	return total
}

// PrimaryTaskID is the task an auto-milestone invoice bills for.
func (inv Invoice) PrimaryTaskID() string {
	if len(inv.Milestones) == 0 {
		return ""
	}
	return inv.Milestones[0].TaskID
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
