package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allowed = map[Status][]Status{
	StatusDraft:   {StatusSent, StatusCancelled},
	StatusSent:    {StatusPaid, StatusOnHold, StatusOverdue, StatusCancelled},
	StatusOnHold:  {StatusPaid, StatusSent, StatusCancelled},
	StatusOverdue: {StatusPaid, StatusCancelled},
}

func isAllowed(from, to Status) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

func TestTransitionClosure(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			from, to := from, to
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				inv := Invoice{InvoiceNumber: "MH-1", Status: from, InvoiceType: TypeAutoMilestone}
				err := inv.Transition(to, now, "")
				if isAllowed(from, to) {
					require.NoError(t, err)
					assert.Equal(t, to, inv.Status)
					require.Len(t, inv.History, 1)
					return
				}
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidTransition))
				var te *TransitionError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, from, te.From)
				assert.Equal(t, to, te.To)
				assert.Equal(t, from, inv.Status)
				assert.Empty(t, inv.History)
			})
		}
	}
}

func TestOnHoldRequiresAutoMilestone(t *testing.T) {
	inv := Invoice{Status: StatusSent, InvoiceType: TypeManual}
	err := inv.Transition(StatusOnHold, time.Now(), "")
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusSent, inv.Status)
}

func TestEffectiveStatusOverdue(t *testing.T) {
	due := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	inv := Invoice{Status: StatusSent, DueDate: &due}

	assert.Equal(t, StatusSent, inv.EffectiveStatus(due))
	assert.Equal(t, StatusOverdue, inv.EffectiveStatus(due.Add(time.Second)))

	// overdue reads are only legal toward paid and cancelled
	err := inv.Transition(StatusOnHold, due.Add(time.Hour), "")
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, inv.Transition(StatusPaid, due.Add(time.Hour), ""))
	assert.Equal(t, StatusOverdue, inv.History[0].From)
}

func TestTransitionToPaidClearsRetryState(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	next := now.Add(24 * time.Hour)
	inv := Invoice{
		Status:                     StatusOnHold,
		InvoiceType:                TypeAutoMilestone,
		AutoPaymentAttempts:        2,
		NextRetryDate:              &next,
		PaymentFailureReason:       "Insufficient funds in the payer account",
		RequiresManualIntervention: true,
	}
	require.NoError(t, inv.Transition(StatusPaid, now, "retry"))
	assert.Nil(t, inv.NextRetryDate)
	assert.Empty(t, inv.PaymentFailureReason)
	assert.False(t, inv.RequiresManualIntervention)
	assert.Equal(t, 2, inv.AutoPaymentAttempts)
	require.NotNil(t, inv.PaidDate)
	assert.Equal(t, now, *inv.PaidDate)
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus(" On_Hold ")
	require.NoError(t, err)
	assert.Equal(t, StatusOnHold, s)

	_, err = ParseStatus("refunded")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}
