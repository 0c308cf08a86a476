// Package wallet settles charges between user wallets kept in the document store.
package wallet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gigledger/internal/clock"
	docdomain "github.com/smallbiznis/gigledger/internal/docstore/domain"
	"github.com/smallbiznis/gigledger/internal/observability/logger"
	"github.com/smallbiznis/gigledger/internal/payment/domain"
	"go.uber.org/zap"
)

const Name = "wallet"

// maxEntries bounds the ledger tail kept on each wallet document.
const maxEntries = 50

type Entry struct {
	Reference     string    `json:"reference"`
	InvoiceNumber string    `json:"invoiceNumber"`
	Amount        int64     `json:"amount"`
	At            time.Time `json:"at"`
}

type Wallet struct {
	UserID   int64   `json:"userId"`
	Balance  int64   `json:"balance"`
	Currency string  `json:"currency"`
	Frozen   bool    `json:"frozen"`
	Entries  []Entry `json:"entries,omitempty"`
	// Charges holds the debit for every invoice this wallet paid, keyed by
	// invoice number. Credits is the payee side. Neither is trimmed.
	Charges   map[string]Entry `json:"charges,omitempty"`
	Credits   map[string]Entry `json:"credits,omitempty"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

type Processor struct {
	store docdomain.Store
	genID *snowflake.Node
	clock clock.Clock
	log   *zap.Logger

	mu sync.Mutex
}

func NewProcessor(store docdomain.Store, genID *snowflake.Node, clk clock.Clock, log *zap.Logger) *Processor {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{store: store, genID: genID, clock: clk, log: log.Named("payment.wallet")}
}

func (p *Processor) Name() string { return Name }

// AttemptPayment debits the payer and credits the payee. Declines never touch
// either wallet. A charge is settled at most once per invoice number: repeating
// it returns the first settlement and only completes a missing payee credit.
func (p *Processor) AttemptPayment(ctx context.Context, charge domain.Charge) (domain.Result, error) {
	if err := charge.Validate(); err != nil {
		return domain.Invalid(), nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	log := logger.WithContext(ctx, p.log).With(
		zap.String("invoice_number", charge.InvoiceNumber),
		zap.Int64("amount", charge.Amount),
	)

	payer, err := p.load(ctx, charge.PayerID)
	if err != nil {
		return domain.Result{}, err
	}
	if payer != nil {
		if debit, ok := payer.Charges[charge.InvoiceNumber]; ok {
			return p.replay(ctx, log, charge, debit, payer.Currency)
		}
	}
	switch {
	case payer == nil:
		log.Info("payment.declined", zap.String("reason", "insufficient funds"))
		return domain.Decline("insufficient funds"), nil
	case payer.Frozen:
		log.Info("payment.declined", zap.String("reason", "account frozen"))
		return domain.Decline("account frozen"), nil
	case payer.Balance < charge.Amount:
		log.Info("payment.declined", zap.String("reason", "insufficient funds"))
		return domain.Decline("insufficient funds"), nil
	}

	payee, err := p.load(ctx, charge.PayeeID)
	if err != nil {
		return domain.Result{}, err
	}
	if payee == nil {
		payee = &Wallet{UserID: charge.PayeeID, Currency: payer.Currency}
	}

	now := p.clock.Now()
	ref := p.reference()
	debit := Entry{Reference: ref, InvoiceNumber: charge.InvoiceNumber, Amount: -charge.Amount, At: now}

	prevPayer := payer.clone()
	payer.apply(debit)
	payer.Charges = withEntry(payer.Charges, charge.InvoiceNumber, debit)
	credit(payee, charge, ref, now)

	if err := p.save(ctx, payer); err != nil {
		return domain.Result{}, err
	}
	if err := p.save(ctx, payee); err != nil {
		if rbErr := p.save(ctx, prevPayer); rbErr != nil {
			log.Error("payment.rollback_failed", zap.Error(rbErr))
		}
		return domain.Result{}, err
	}

	log.Info("payment.settled", zap.String("reference", ref))
	return settled(debit, charge.Amount), nil
}

// replay answers a repeated charge with its original settlement, crediting the
// payee first if that write never landed.
func (p *Processor) replay(ctx context.Context, log *zap.Logger, charge domain.Charge, debit Entry, currency string) (domain.Result, error) {
	amount := -debit.Amount
	payee, err := p.load(ctx, charge.PayeeID)
	if err != nil {
		return domain.Result{}, err
	}
	if payee == nil {
		payee = &Wallet{UserID: charge.PayeeID, Currency: currency}
	}
	if _, ok := payee.Credits[charge.InvoiceNumber]; !ok {
		credit(payee, domain.Charge{InvoiceNumber: charge.InvoiceNumber, Amount: amount}, debit.Reference, p.clock.Now())
		if err := p.save(ctx, payee); err != nil {
			return domain.Result{}, err
		}
		log.Warn("payment.credit_repaired", zap.String("reference", debit.Reference))
	}

	log.Info("payment.replayed", zap.String("reference", debit.Reference))
	return settled(debit, amount), nil
}

func credit(payee *Wallet, charge domain.Charge, ref string, at time.Time) {
	e := Entry{Reference: ref, InvoiceNumber: charge.InvoiceNumber, Amount: charge.Amount, At: at}
	payee.apply(e)
	payee.Credits = withEntry(payee.Credits, charge.InvoiceNumber, e)
}

func settled(debit Entry, amount int64) domain.Result {
	return domain.Result{
		Success: true,
		Details: &domain.Details{Reference: debit.Reference, Processor: Name, Amount: amount, ChargedAt: debit.At},
	}
}

func withEntry(m map[string]Entry, invoiceNumber string, e Entry) map[string]Entry {
	if m == nil {
		m = make(map[string]Entry)
	}
	m[invoiceNumber] = e
	return m
}

// Fund credits a wallet, creating it when absent.
func (p *Processor) Fund(ctx context.Context, userID, amount int64) (Wallet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, err := p.load(ctx, userID)
	if err != nil {
		return Wallet{}, err
	}
	if w == nil {
		w = &Wallet{UserID: userID, Currency: "USD"}
	}
	w.apply(Entry{Reference: p.reference(), Amount: amount, At: p.clock.Now()})
	if err := p.save(ctx, w); err != nil {
		return Wallet{}, err
	}
	return *w, nil
}

func (p *Processor) SetFrozen(ctx context.Context, userID int64, frozen bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, err := p.load(ctx, userID)
	if err != nil {
		return err
	}
	if w == nil {
		w = &Wallet{UserID: userID, Currency: "USD"}
	}
	w.Frozen = frozen
	w.UpdatedAt = p.clock.Now()
	return p.save(ctx, w)
}

func (p *Processor) Get(ctx context.Context, userID int64) (*Wallet, error) {
	return p.load(ctx, userID)
}

func (w *Wallet) clone() *Wallet {
	c := *w
	c.Entries = append([]Entry(nil), w.Entries...)
	c.Charges = make(map[string]Entry, len(w.Charges))
	for k, v := range w.Charges {
		c.Charges[k] = v
	}
	c.Credits = make(map[string]Entry, len(w.Credits))
	for k, v := range w.Credits {
		c.Credits[k] = v
	}
	return &c
}

func (w *Wallet) apply(e Entry) {
	w.Balance += e.Amount
	w.Entries = append(w.Entries, e)
	if len(w.Entries) > maxEntries {
		w.Entries = w.Entries[len(w.Entries)-maxEntries:]
	}
	w.UpdatedAt = e.At
}

func (p *Processor) load(ctx context.Context, userID int64) (*Wallet, error) {
	w, err := docdomain.Get[Wallet](ctx, p.store, docdomain.WalletKey(userID))
	if err != nil {
		return nil, fmt.Errorf("load wallet %d: %w", userID, err)
	}
	return w, nil
}

func (p *Processor) save(ctx context.Context, w *Wallet) error {
	if err := docdomain.Put(ctx, p.store, docdomain.WalletKey(w.UserID), w); err != nil {
		return fmt.Errorf("save wallet %d: %w", w.UserID, err)
	}
	return nil
}

func (p *Processor) reference() string {
	if p.genID == nil {
		return fmt.Sprintf("pay_%d", p.clock.Now().UnixNano())
	}
	return "pay_" + p.genID.Generate().String()
}

type factory struct {
	processor *Processor
}

// NewFactory registers an already-built processor with the payment registry.
func NewFactory(p *Processor) domain.ProcessorFactory {
	return factory{processor: p}
}

func (f factory) Name() string { return Name }

func (f factory) New() (domain.Processor, error) { return f.processor, nil }
