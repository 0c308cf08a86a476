package wallet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gigledger/internal/clock"
	"github.com/smallbiznis/gigledger/internal/docstore/memory"
	"github.com/smallbiznis/gigledger/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProcessor(t *testing.T) (*Processor, *memory.Store) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	store := memory.New()
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	return NewProcessor(store, node, clk, nil), store
}

func TestAttemptPaymentSettles(t *testing.T) {
	ctx := context.Background()
	p, _ := newProcessor(t)

	_, err := p.Fund(ctx, 10, 1000)
	require.NoError(t, err)

	res, err := p.AttemptPayment(ctx, domain.Charge{InvoiceNumber: "MH-009", PayerID: 10, PayeeID: 20, Amount: 500})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NotNil(t, res.Details)
	assert.Equal(t, Name, res.Details.Processor)
	assert.Equal(t, int64(500), res.Details.Amount)

	payer, err := p.Get(ctx, 10)
	require.NoError(t, err)
	payee, err := p.Get(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(500), payer.Balance)
	assert.Equal(t, int64(500), payee.Balance)
	assert.Equal(t, res.Details.Reference, payee.Entries[len(payee.Entries)-1].Reference)
}

func TestAttemptPaymentDeclines(t *testing.T) {
	ctx := context.Background()

	t.Run("insufficient funds", func(t *testing.T) {
		p, _ := newProcessor(t)
		_, err := p.Fund(ctx, 10, 100)
		require.NoError(t, err)

		res, err := p.AttemptPayment(ctx, domain.Charge{InvoiceNumber: "MH-1", PayerID: 10, PayeeID: 20, Amount: 500})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, domain.FailureInsufficientFunds, res.FailureCode)

		payer, err := p.Get(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(100), payer.Balance)
		payee, err := p.Get(ctx, 20)
		require.NoError(t, err)
		assert.Nil(t, payee)
	})

	t.Run("missing wallet", func(t *testing.T) {
		p, _ := newProcessor(t)
		res, err := p.AttemptPayment(ctx, domain.Charge{InvoiceNumber: "MH-1", PayerID: 10, PayeeID: 20, Amount: 500})
		require.NoError(t, err)
		assert.Equal(t, domain.FailureInsufficientFunds, res.FailureCode)
	})

	t.Run("frozen", func(t *testing.T) {
		p, _ := newProcessor(t)
		_, err := p.Fund(ctx, 10, 1000)
		require.NoError(t, err)
		require.NoError(t, p.SetFrozen(ctx, 10, true))

		res, err := p.AttemptPayment(ctx, domain.Charge{InvoiceNumber: "MH-1", PayerID: 10, PayeeID: 20, Amount: 500})
		require.NoError(t, err)
		assert.Equal(t, domain.FailureAccountFrozen, res.FailureCode)
	})
}

func TestAttemptPaymentStoreOutage(t *testing.T) {
	ctx := context.Background()
	p, store := newProcessor(t)
	_, err := p.Fund(ctx, 10, 1000)
	require.NoError(t, err)

	store.SetUnavailable(true)
	_, err = p.AttemptPayment(ctx, domain.Charge{InvoiceNumber: "MH-1", PayerID: 10, PayeeID: 20, Amount: 500})
	require.Error(t, err)
}

func TestAttemptPaymentSettlesOncePerInvoice(t *testing.T) {
	ctx := context.Background()
	p, _ := newProcessor(t)
	_, err := p.Fund(ctx, 10, 1000)
	require.NoError(t, err)

	charge := domain.Charge{InvoiceNumber: "MH-1", PayerID: 10, PayeeID: 20, Amount: 500}
	first, err := p.AttemptPayment(ctx, charge)
	require.NoError(t, err)
	require.True(t, first.Success)

	again, err := p.AttemptPayment(ctx, charge)
	require.NoError(t, err)
	require.True(t, again.Success)
	assert.Equal(t, first.Details.Reference, again.Details.Reference)
	assert.Equal(t, int64(500), again.Details.Amount)

	payer, err := p.Get(ctx, 10)
	require.NoError(t, err)
	payee, err := p.Get(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(500), payer.Balance)
	assert.Equal(t, int64(500), payee.Balance)

	// a different invoice is a new charge
	other, err := p.AttemptPayment(ctx, domain.Charge{InvoiceNumber: "MH-2", PayerID: 10, PayeeID: 20, Amount: 500})
	require.NoError(t, err)
	require.True(t, other.Success)
	assert.NotEqual(t, first.Details.Reference, other.Details.Reference)
}

type payeeWriteFailure struct {
	*memory.Store
	fail bool
}

func (s *payeeWriteFailure) Write(ctx context.Context, key string, body any) error {
	if s.fail && key == "wallets/20" {
		return errors.New("write failed")
	}
	return s.Store.Write(ctx, key, body)
}

func TestAttemptPaymentRepairsMissingCredit(t *testing.T) {
	ctx := context.Background()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	store := &payeeWriteFailure{Store: memory.New()}
	p := NewProcessor(store, node, clock.NewFakeClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)), nil)
	_, err = p.Fund(ctx, 10, 1000)
	require.NoError(t, err)

	charge := domain.Charge{InvoiceNumber: "MH-1", PayerID: 10, PayeeID: 20, Amount: 500}
	store.fail = true
	_, err = p.AttemptPayment(ctx, charge)
	require.Error(t, err)

	// the payer debit was rolled back
	payer, err := p.Get(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), payer.Balance)
	assert.Empty(t, payer.Charges)

	store.fail = false
	res, err := p.AttemptPayment(ctx, charge)
	require.NoError(t, err)
	require.True(t, res.Success)

	// simulate a lost payee write after the debit landed
	payee, err := p.Get(ctx, 20)
	require.NoError(t, err)
	payee.Balance = 0
	payee.Credits = nil
	require.NoError(t, store.Store.Write(ctx, "wallets/20", payee))

	again, err := p.AttemptPayment(ctx, charge)
	require.NoError(t, err)
	require.True(t, again.Success)
	assert.Equal(t, res.Details.Reference, again.Details.Reference)

	payer, err = p.Get(ctx, 10)
	require.NoError(t, err)
	payee, err = p.Get(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(500), payer.Balance)
	assert.Equal(t, int64(500), payee.Balance)
	assert.Contains(t, payee.Credits, "MH-1")
}

func TestAttemptPaymentFailureCodes(t *testing.T) {
	ctx := context.Background()

	t.Run("frozen account without funds", func(t *testing.T) {
		p, _ := newProcessor(t)
		_, err := p.Fund(ctx, 10, 100)
		require.NoError(t, err)
		require.NoError(t, p.SetFrozen(ctx, 10, true))

		res, err := p.AttemptPayment(ctx, domain.Charge{InvoiceNumber: "MH-1", PayerID: 10, PayeeID: 20, Amount: 500})
		require.NoError(t, err)
		assert.Equal(t, domain.FailureAccountFrozen, res.FailureCode)
	})

	t.Run("invalid charge", func(t *testing.T) {
		p, _ := newProcessor(t)
		res, err := p.AttemptPayment(ctx, domain.Charge{InvoiceNumber: "MH-1", PayerID: 10, PayeeID: 20})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, domain.FailureInvalidCharge, res.FailureCode)
	})
}
