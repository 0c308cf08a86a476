package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	docdomain "github.com/smallbiznis/gigledger/internal/docstore/domain"
	"github.com/smallbiznis/gigledger/internal/invoice/domain"
	"go.uber.org/zap"
)

type repo struct {
	store docdomain.Store
	log   *zap.Logger

	locks sync.Map
}

func New(store docdomain.Store, log *zap.Logger) domain.Repository {
	if log == nil {
		log = zap.NewNop()
	}
	return &repo{store: store, log: log.Named("invoice.repository")}
}

func (r *repo) Get(ctx context.Context, invoiceNumber string) (*domain.Invoice, error) {
	key, err := invoiceKey(invoiceNumber)
	if err != nil {
		return nil, err
	}
	inv, err := docdomain.Get[domain.Invoice](ctx, r.store, key)
	if err != nil {
		return nil, fmt.Errorf("load invoice %s: %w", invoiceNumber, err)
	}
	return inv, nil
}

func (r *repo) Create(ctx context.Context, inv domain.Invoice) error {
	key, err := invoiceKey(inv.InvoiceNumber)
	if err != nil {
		return err
	}
	unlock := r.lock(inv.InvoiceNumber)
	defer unlock()

	existing, err := r.store.Read(ctx, key)
	if err != nil {
		return fmt.Errorf("load invoice %s: %w", inv.InvoiceNumber, err)
	}
	if existing != nil {
		return domain.ErrInvoiceExists
	}
	if err := docdomain.Put(ctx, r.store, key, inv); err != nil {
		return fmt.Errorf("save invoice %s: %w", inv.InvoiceNumber, err)
	}
	return nil
}

func (r *repo) Update(ctx context.Context, invoiceNumber string, fn func(*domain.Invoice) error) (domain.Invoice, error) {
	key, err := invoiceKey(invoiceNumber)
	if err != nil {
		return domain.Invoice{}, err
	}
	unlock := r.lock(invoiceNumber)
	defer unlock()

	inv, err := docdomain.Get[domain.Invoice](ctx, r.store, key)
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("load invoice %s: %w", invoiceNumber, err)
	}
	if inv == nil {
		return domain.Invoice{}, domain.ErrInvoiceNotFound
	}
	if err := fn(inv); err != nil {
		return domain.Invoice{}, err
	}
	if err := docdomain.Put(ctx, r.store, key, inv); err != nil {
		return domain.Invoice{}, fmt.Errorf("save invoice %s: %w", invoiceNumber, err)
	}
	return *inv, nil
}

// List filters on the stored status; callers apply the lazy overdue rule.
func (r *repo) List(ctx context.Context, req domain.ListInvoiceRequest) ([]domain.Invoice, error) {
	items, corrupt, err := docdomain.ListAs[domain.Invoice](ctx, r.store, docdomain.PrefixInvoices)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	for _, key := range corrupt {
		r.log.Warn("invoice.corrupt_document", zap.String("key", key))
	}

	out := items[:0]
	for _, inv := range items {
		if req.Status != nil && inv.Status != *req.Status {
			continue
		}
		if req.Type != nil && inv.InvoiceType != *req.Type {
			continue
		}
		if req.ProjectID != "" && inv.ProjectID != req.ProjectID {
			continue
		}
		out = append(out, inv)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].InvoiceNumber < out[j].InvoiceNumber
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *repo) lock(invoiceNumber string) func() {
	v, _ := r.locks.LoadOrStore(invoiceNumber, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func invoiceKey(invoiceNumber string) (string, error) {
	invoiceNumber = strings.TrimSpace(invoiceNumber)
	if invoiceNumber == "" || strings.Contains(invoiceNumber, "/") {
		return "", domain.ErrInvalidInvoice
	}
	return docdomain.InvoiceKey(invoiceNumber), nil
}
