// Package domain describes the external payment collaborator used by automatic
// invoice payments.
package domain

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Charge is one payment attempt: the payer is debited and the payee credited.
type Charge struct {
	InvoiceNumber string `json:"invoiceNumber"`
	ProjectID     string `json:"projectId"`
	PayerID       int64  `json:"payerId"`
	PayeeID       int64  `json:"payeeId"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
}

type Details struct {
	Reference string    `json:"reference"`
	Processor string    `json:"processor"`
	Amount    int64     `json:"amount"`
	ChargedAt time.Time `json:"chargedAt"`
}

// Result is the processor verdict. A decline is a Result with Success false,
// not an error; errors mean the processor could not be reached.
type Result struct {
	Success       bool     `json:"success"`
	Details       *Details `json:"details,omitempty"`
	FailureCode   string   `json:"failureCode,omitempty"`
	FailureReason string   `json:"failureReason,omitempty"`
}

type Processor interface {
	Name() string
	AttemptPayment(ctx context.Context, charge Charge) (Result, error)
}

// ProcessorFactory builds a processor by name for the registry.
type ProcessorFactory interface {
	Name() string
	New() (Processor, error)
}

const (
	FailureInsufficientFunds    = "insufficient_funds"
	FailureCardDeclined         = "card_declined"
	FailureAccountFrozen        = "account_frozen"
	FailureProcessorUnavailable = "processor_unavailable"
	FailureInvalidCharge        = "invalid_charge"
	FailureUnknown              = "unknown"
)

var (
	ErrProcessorNotFound = errors.New("payment_processor_not_found")
	ErrInvalidCharge     = errors.New("invalid_charge")
)

var failureReasons = map[string]string{
	FailureInsufficientFunds:    "Insufficient funds in the payer account",
	FailureCardDeclined:         "The payment method was declined",
	FailureAccountFrozen:        "The payer account is frozen",
	FailureProcessorUnavailable: "The payment processor is unavailable",
	FailureInvalidCharge:        "The invoice is missing an amount or a counterparty",
	FailureUnknown:              "The payment failed for an unknown reason",
}

// ClassifyFailure maps a processor decline message to a stable code and a
// human-readable reason for operators.
func ClassifyFailure(message string) (code, reason string) {
	m := strings.ToLower(strings.TrimSpace(message))
	switch {
	case strings.Contains(m, "insufficient"):
		code = FailureInsufficientFunds
	case strings.Contains(m, "declin"):
		code = FailureCardDeclined
	case strings.Contains(m, "frozen"), strings.Contains(m, "suspended"), strings.Contains(m, "locked"):
		code = FailureAccountFrozen
	case strings.Contains(m, "unavailable"), strings.Contains(m, "timeout"), strings.Contains(m, "deadline"), strings.Contains(m, "connection"):
		code = FailureProcessorUnavailable
	default:
		code = FailureUnknown
	}
	return code, failureReasons[code]
}

// Decline builds a failed Result from a raw decline message.
func Decline(message string) Result {
	code, reason := ClassifyFailure(message)
	return Result{Success: false, FailureCode: code, FailureReason: reason}
}

// Invalid is the verdict for a charge that fails Validate. It is never sent to
// a processor, so it is not reported as a decline.
func Invalid() Result {
	return Result{Success: false, FailureCode: FailureInvalidCharge, FailureReason: failureReasons[FailureInvalidCharge]}
}

func (c Charge) Validate() error {
	switch {
	case strings.TrimSpace(c.InvoiceNumber) == "":
		return ErrInvalidCharge
	case c.Amount <= 0:
		return ErrInvalidCharge
	case c.PayerID <= 0 || c.PayeeID <= 0:
		return ErrInvalidCharge
	}
	return nil
}
