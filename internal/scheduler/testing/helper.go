// Package testing drives scheduler sweeps across simulated days.
package testing

import (
	"context"
	"time"

	"github.com/smallbiznis/gigledger/internal/clock"
	invoicedomain "github.com/smallbiznis/gigledger/internal/invoice/domain"
)

// TimeAccelerator moves a fake clock and invoice retry dates for sweep tests.
type TimeAccelerator struct {
	clock    *clock.FakeClock
	invoices invoicedomain.Repository
}

func NewTimeAccelerator(clk *clock.FakeClock, invoices invoicedomain.Repository) *TimeAccelerator {
	return &TimeAccelerator{clock: clk, invoices: invoices}
}

// FastForwardDays advances the clock by whole days.
func (ta *TimeAccelerator) FastForwardDays(days int) time.Time {
	ta.clock.Advance(time.Duration(days) * 24 * time.Hour)
	return ta.clock.Now()
}

// MakeRetryDue moves the invoice's next retry to one minute ago.
func (ta *TimeAccelerator) MakeRetryDue(ctx context.Context, invoiceNumber string) error {
	due := ta.clock.Now().Add(-time.Minute)
	_, err := ta.invoices.Update(ctx, invoiceNumber, func(inv *invoicedomain.Invoice) error {
		inv.NextRetryDate = &due
		return nil
	})
	return err
}

// MakeAllRetriesDue makes every on_hold invoice eligible for the next sweep.
func (ta *TimeAccelerator) MakeAllRetriesDue(ctx context.Context) (int, error) {
	onHold := invoicedomain.StatusOnHold
	items, err := ta.invoices.List(ctx, invoicedomain.ListInvoiceRequest{Status: &onHold})
	if err != nil {
		return 0, err
	}
	for _, inv := range items {
		if err := ta.MakeRetryDue(ctx, inv.InvoiceNumber); err != nil {
			return 0, err
		}
	}
	return len(items), nil
}
