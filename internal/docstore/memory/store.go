package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/gigledger/internal/docstore/domain"
)

// Store keeps documents in a map. It backs the "memory" storage mode and tests.
type Store struct {
	mu          sync.RWMutex
	docs        map[string]domain.Document
	now         func() time.Time
	unavailable bool
}

func New() *Store {
	return &Store{
		docs: make(map[string]domain.Document),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// SetUnavailable makes every call fail with domain.ErrUnavailable until cleared.
func (s *Store) SetUnavailable(v bool) {
	s.mu.Lock()
	s.unavailable = v
	s.mu.Unlock()
}

func (s *Store) Read(ctx context.Context, key string) (*domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable {
		return nil, domain.ErrUnavailable
	}
	doc, ok := s.docs[key]
	if !ok {
		return nil, nil
	}
	out := copyDoc(doc)
	return &out, nil
}

func (s *Store) Write(ctx context.Context, key string, body any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := domain.ValidateKey(key); err != nil {
		return err
	}
	raw, err := domain.EncodeBody(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return domain.ErrUnavailable
	}
	s.docs[key] = domain.Document{Key: key, Body: raw, UpdatedAt: s.now()}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string, opts ...domain.ListOption) ([]domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o := domain.ApplyListOptions(opts)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable {
		return nil, domain.ErrUnavailable
	}

	keys := make([]string, 0)
	for k := range s.docs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	if o.Descending {
		sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	} else {
		sort.Strings(keys)
	}
	if o.Limit > 0 && len(keys) > o.Limit {
		keys = keys[:o.Limit]
	}

	out := make([]domain.Document, 0, len(keys))
	for _, k := range keys {
		out = append(out, copyDoc(s.docs[k]))
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return domain.ErrUnavailable
	}
	delete(s.docs, key)
	return nil
}

// Len reports the number of stored documents under prefix.
func (s *Store) Len(prefix string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k := range s.docs {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n
}

func copyDoc(doc domain.Document) domain.Document {
	body := make([]byte, len(doc.Body))
	copy(body, doc.Body)
	doc.Body = body
	return doc
}

var _ domain.Store = (*Store)(nil)
