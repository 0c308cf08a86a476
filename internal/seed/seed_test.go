package seed

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gigledger/internal/clock"
	"github.com/smallbiznis/gigledger/internal/docstore/memory"
	invoicedomain "github.com/smallbiznis/gigledger/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/gigledger/internal/invoice/repository"
	invoicesvc "github.com/smallbiznis/gigledger/internal/invoice/service"
	marketrepo "github.com/smallbiznis/gigledger/internal/marketplace/repository"
	"github.com/smallbiznis/gigledger/internal/payment/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopBus struct{}

func (nopBus) Publish(context.Context, string, any) error { return nil }

func TestEnsureDemoDataIsIdempotent(t *testing.T) {
	ctx := context.Background()
	docs := memory.New()
	clk := clock.NewFakeClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(9)
	require.NoError(t, err)

	market := marketrepo.New(docs, nil)
	invoices := invoicesvc.New(invoicerepo.New(docs, nil), nopBus{}, clk, nil, nil)
	wallets := wallet.NewProcessor(docs, node, clk, nil)

	require.NoError(t, EnsureDemoData(ctx, market, invoices, wallets, clk))
	require.NoError(t, EnsureDemoData(ctx, market, invoices, wallets, clk))

	tasks, err := market.ListTasks(ctx, demoProjectID)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	inv, err := invoices.Get(ctx, demoInvoiceNumber)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.StatusSent, inv.Status)
	assert.Equal(t, int64(50000), inv.TotalAmount)

	w, err := wallets.Get(ctx, demoCommissionerID)
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, demoWalletFunding, w.Balance)
}
