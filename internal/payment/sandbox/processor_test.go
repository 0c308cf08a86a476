package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gigledger/internal/clock"
	"github.com/smallbiznis/gigledger/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttemptPayment(t *testing.T) {
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	p := NewProcessor(node, clock.NewFakeClock(now))

	t.Run("approves a valid charge", func(t *testing.T) {
		res, err := p.AttemptPayment(context.Background(), domain.Charge{
			InvoiceNumber: "MH-001",
			PayerID:       31,
			PayeeID:       1,
			Amount:        50000,
			Currency:      "USD",
		})
		require.NoError(t, err)
		assert.True(t, res.Success)
		require.NotNil(t, res.Details)
		assert.True(t, strings.HasPrefix(res.Details.Reference, "sbx_"))
		assert.Equal(t, Name, res.Details.Processor)
		assert.Equal(t, int64(50000), res.Details.Amount)
		assert.Equal(t, now, res.Details.ChargedAt)
	})

	t.Run("rejects an invalid charge", func(t *testing.T) {
		res, err := p.AttemptPayment(context.Background(), domain.Charge{InvoiceNumber: "MH-001", PayerID: 31, PayeeID: 1})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Nil(t, res.Details)
		assert.Equal(t, domain.FailureInvalidCharge, res.FailureCode)
	})
}

func TestFactory(t *testing.T) {
	f := NewFactory(nil, nil)
	assert.Equal(t, Name, f.Name())

	p, err := f.New()
	require.NoError(t, err)
	assert.Equal(t, Name, p.Name())
}
