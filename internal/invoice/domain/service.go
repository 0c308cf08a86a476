package domain

import (
	"context"
	"time"
)

type ListInvoiceRequest struct {
	Status    *Status
	Type      *Type
	ProjectID string
}

type CreateInvoiceRequest struct {
	InvoiceNumber  string
	InvoiceType    Type
	ProjectID      string
	CommissionerID int64
	FreelancerID   int64
	Currency       string
	Milestones     []Milestone
	DueDate        *time.Time
	// Send issues the invoice immediately instead of leaving it in draft.
	Send bool
}

type Repository interface {
	Get(ctx context.Context, invoiceNumber string) (*Invoice, error)
	Create(ctx context.Context, inv Invoice) error
	// Update runs fn on the stored invoice and persists the result unless fn
	// fails. Updates of the same invoice are serialized.
	Update(ctx context.Context, invoiceNumber string, fn func(*Invoice) error) (Invoice, error)
	List(ctx context.Context, req ListInvoiceRequest) ([]Invoice, error)
}

type Service interface {
	Get(ctx context.Context, invoiceNumber string) (Invoice, error)
	List(ctx context.Context, req ListInvoiceRequest) ([]Invoice, error)
	Create(ctx context.Context, req CreateInvoiceRequest) (Invoice, error)
	Send(ctx context.Context, invoiceNumber string) (Invoice, error)
	MarkPaid(ctx context.Context, invoiceNumber, reference string) (Invoice, error)
	PutOnHold(ctx context.Context, invoiceNumber, reason string) (Invoice, error)
	Cancel(ctx context.Context, invoiceNumber, reason string) (Invoice, error)
	Transition(ctx context.Context, invoiceNumber string, to Status, reason string) (Invoice, error)
}
