package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvoiceNotFound   = errors.New("invoice_not_found")
	ErrInvoiceExists     = errors.New("invoice_already_exists")
	ErrInvalidInvoice    = errors.New("invalid_invoice")
	ErrInvalidStatus     = errors.New("invalid_status")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrDerivedStatus     = errors.New("derived_status")
	ErrNotOnHold         = errors.New("invoice_not_on_hold")
	ErrNotAutoMilestone  = errors.New("invoice_not_auto_milestone")
)

// TransitionError reports a rejected status change.
type TransitionError struct {
	From   Status
	To     Status
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid_transition: %s -> %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("invalid_transition: %s -> %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
