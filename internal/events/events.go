// Package events defines the domain facts published on the event bus.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	NameTaskApproved         = "task.approved"
	NameMilestonePaid        = "milestone.paid"
	NameInvoicePaid          = "invoice.paid"
	NameInvoicePaymentFailed = "invoice.payment_failed"
	NameProjectCompleted     = "project.completed"
)

var ErrUnknownEvent = errors.New("unknown_event")

// Payload is implemented by every event body.
type Payload interface {
	EventName() string
}

type TaskApproved struct {
	ProjectID  string    `json:"projectId"`
	TaskID     string    `json:"taskId"`
	ApprovedBy int64     `json:"approvedBy,omitempty"`
	ApprovedAt time.Time `json:"approvedAt"`
}

func (TaskApproved) EventName() string { return NameTaskApproved }

// MilestonePaid is emitted when a milestone invoice has been charged successfully.
type MilestonePaid struct {
	ProjectID      string    `json:"projectId"`
	TaskID         string    `json:"taskId,omitempty"`
	InvoiceNumber  string    `json:"invoiceNumber"`
	Amount         int64     `json:"amount"`
	CommissionerID int64     `json:"commissionerId"`
	FreelancerID   int64     `json:"freelancerId"`
	PaidAt         time.Time `json:"paidAt"`
	Source         string    `json:"source,omitempty"`
}

func (MilestonePaid) EventName() string { return NameMilestonePaid }

type InvoicePaid struct {
	InvoiceNumber  string    `json:"invoiceNumber"`
	ProjectID      string    `json:"projectId"`
	Amount         int64     `json:"amount"`
	CommissionerID int64     `json:"commissionerId"`
	FreelancerID   int64     `json:"freelancerId"`
	PaidAt         time.Time `json:"paidAt"`
}

func (InvoicePaid) EventName() string { return NameInvoicePaid }

type InvoicePaymentFailed struct {
	InvoiceNumber  string     `json:"invoiceNumber"`
	ProjectID      string     `json:"projectId"`
	Amount         int64      `json:"amount"`
	CommissionerID int64      `json:"commissionerId"`
	FreelancerID   int64      `json:"freelancerId"`
	Code           string     `json:"code"`
	Reason         string     `json:"reason"`
	Attempts       int        `json:"attempts"`
	NextRetryAt    *time.Time `json:"nextRetryAt,omitempty"`
	RequiresManual bool       `json:"requiresManual"`
}

func (InvoicePaymentFailed) EventName() string { return NameInvoicePaymentFailed }

type ProjectCompleted struct {
	ProjectID   string    `json:"projectId"`
	CompletedAt time.Time `json:"completedAt"`
}

func (ProjectCompleted) EventName() string { return NameProjectCompleted }

// Decode parses a raw JSON body into the payload registered for name.
// The name is matched after bus normalization, so "invoice_paid" works too.
func Decode(name string, raw []byte) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch normalize(name) {
	case normalize(NameTaskApproved):
		var v TaskApproved
		err = json.Unmarshal(raw, &v)
		p = v
	case normalize(NameMilestonePaid):
		var v MilestonePaid
		err = json.Unmarshal(raw, &v)
		p = v
	case normalize(NameInvoicePaid):
		var v InvoicePaid
		err = json.Unmarshal(raw, &v)
		p = v
	case normalize(NameInvoicePaymentFailed):
		var v InvoicePaymentFailed
		err = json.Unmarshal(raw, &v)
		p = v
	case normalize(NameProjectCompleted):
		var v ProjectCompleted
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, name)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return p, nil
}

func normalize(name string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(strings.ToLower(strings.TrimSpace(name)))
}
