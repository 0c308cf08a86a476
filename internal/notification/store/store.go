package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/smallbiznis/gigledger/internal/clock"
	docdomain "github.com/smallbiznis/gigledger/internal/docstore/domain"
	"github.com/smallbiznis/gigledger/internal/notification/domain"
	"go.uber.org/zap"
)

const defaultScanLimit = 1000

// Window bounds a duplicate lookup. ProjectID narrows the scan to the project index.
type Window struct {
	ProjectID string
	Limit     int
	Since     time.Time
}

// Query filters user and project listings. Results are newest first.
type Query struct {
	Limit      int
	Since      time.Time
	Before     string
	UnreadOnly bool
	Types      []domain.EventType
}

type Store struct {
	docs  docdomain.Store
	clock clock.Clock
	log   *zap.Logger
}

func New(docs docdomain.Store, clk clock.Clock, log *zap.Logger) *Store {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{docs: docs, clock: clk, log: log.Named("notification.store")}
}

// AddEvent persists a new event under its day partition and writes the id,
// recipient and project index entries.
func (s *Store) AddEvent(ctx context.Context, ev domain.Event) error {
	if ev.ID == "" {
		return fmt.Errorf("%w: id is required", domain.ErrInvalidEvent)
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.clock.Now()
	}
	ev.Timestamp = ev.Timestamp.UTC()
	if ev.Metadata == nil {
		ev.Metadata = domain.Metadata{}
	}

	key := docdomain.EventKey(ev.Timestamp, ev.ID)
	if err := docdomain.Put(ctx, s.docs, key, ev); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return s.writeIndexes(ctx, key, ev)
}

// ReplaceEvent overwrites an existing event's content in place. The stored id,
// timestamp and partition are kept.
func (s *Store) ReplaceEvent(ctx context.Context, ev domain.Event) error {
	entry, err := s.idEntry(ctx, ev.ID)
	if err != nil {
		return err
	}
	ev.Timestamp = entry.Timestamp
	if err := ev.Validate(); err != nil {
		return err
	}
	if err := docdomain.Put(ctx, s.docs, entry.EventKey, ev); err != nil {
		return fmt.Errorf("replace event: %w", err)
	}
	return s.writeIndexes(ctx, entry.EventKey, ev)
}

func (s *Store) GetEvent(ctx context.Context, id string) (*domain.Event, error) {
	entry, err := s.idEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	ev, err := docdomain.Get[domain.Event](ctx, s.docs, entry.EventKey)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, domain.ErrEventNotFound
	}
	return ev, nil
}

// FindExisting returns the most recent event whose derived key matches, or nil.
func (s *Store) FindExisting(ctx context.Context, key string, w Window) (*domain.Event, error) {
	limit := w.Limit
	if limit <= 0 {
		limit = defaultScanLimit
	}

	if w.ProjectID != "" {
		entries, err := s.ListProjectIndex(ctx, w.ProjectID, limit)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if entry.DedupKey != key || (!w.Since.IsZero() && entry.Timestamp.Before(w.Since)) {
				continue
			}
			ev, err := docdomain.Get[domain.Event](ctx, s.docs, entry.EventKey)
			if err != nil {
				return nil, err
			}
			if ev != nil {
				return ev, nil
			}
		}
		return nil, nil
	}

	docs, err := s.docs.List(ctx, docdomain.PrefixEvents, docdomain.Descending(), docdomain.WithLimit(limit))
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		ev, err := decodeEvent(doc)
		if err != nil {
			s.log.Warn("notification.corrupt_event", zap.String("key", doc.Key), zap.Error(err))
			continue
		}
		if !w.Since.IsZero() && ev.Timestamp.Before(w.Since) {
			break
		}
		if ev.DedupKey() == key {
			return &ev, nil
		}
	}
	return nil, nil
}

// ListProjectIndex returns project index entries, newest first. limit <= 0 returns all.
func (s *Store) ListProjectIndex(ctx context.Context, projectID string, limit int) ([]domain.IndexEntry, error) {
	entries, corrupt, err := docdomain.ListAs[domain.IndexEntry](ctx, s.docs, docdomain.ProjectIndexPrefix(projectID),
		docdomain.Descending(), docdomain.WithLimit(limit))
	for _, k := range corrupt {
		s.log.Warn("notification.corrupt_index", zap.String("key", k))
	}
	return entries, err
}

func (s *Store) ListForUser(ctx context.Context, userID int64, q Query) ([]domain.View, error) {
	entries, err := s.listIndex(ctx, docdomain.UserIndexPrefix(userID), q)
	if err != nil {
		return nil, err
	}

	limit := q.Limit
	out := make([]domain.View, 0, len(entries))
	for _, entry := range entries {
		state, err := s.State(ctx, entry.EventID, userID)
		if err != nil {
			return nil, err
		}
		if q.UnreadOnly && state.Read {
			continue
		}
		ev, err := docdomain.Get[domain.Event](ctx, s.docs, entry.EventKey)
		if err != nil {
			return nil, err
		}
		if ev == nil {
			continue
		}
		out = append(out, domain.View{Event: *ev, Read: state.Read, Actioned: state.Actioned})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListForProject(ctx context.Context, projectID string, q Query) ([]domain.Event, error) {
	entries, err := s.listIndex(ctx, docdomain.ProjectIndexPrefix(projectID), q)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Event, 0, len(entries))
	for _, entry := range entries {
		ev, err := docdomain.Get[domain.Event](ctx, s.docs, entry.EventKey)
		if err != nil {
			return nil, err
		}
		if ev == nil {
			continue
		}
		out = append(out, *ev)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkRead(ctx context.Context, eventID string, userID int64) (domain.EventState, error) {
	return s.updateState(ctx, eventID, userID, func(st *domain.EventState, now time.Time) {
		if !st.Read {
			st.Read = true
			st.ReadAt = &now
		}
	})
}

// MarkActioned also marks the event read.
func (s *Store) MarkActioned(ctx context.Context, eventID string, userID int64) (domain.EventState, error) {
	return s.updateState(ctx, eventID, userID, func(st *domain.EventState, now time.Time) {
		if !st.Read {
			st.Read = true
			st.ReadAt = &now
		}
		if !st.Actioned {
			st.Actioned = true
			st.ActionedAt = &now
		}
	})
}

func (s *Store) State(ctx context.Context, eventID string, userID int64) (domain.EventState, error) {
	st, err := docdomain.Get[domain.EventState](ctx, s.docs, docdomain.EventStateKey(eventID, userID))
	if err != nil {
		return domain.EventState{}, err
	}
	if st == nil {
		return domain.EventState{EventID: eventID, UserID: userID}, nil
	}
	return *st, nil
}

func (s *Store) UnreadCount(ctx context.Context, userID int64) (int, error) {
	entries, err := s.listIndex(ctx, docdomain.UserIndexPrefix(userID), Query{})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, entry := range entries {
		st, err := s.State(ctx, entry.EventID, userID)
		if err != nil {
			return 0, err
		}
		if !st.Read {
			n++
		}
	}
	return n, nil
}

func (s *Store) updateState(ctx context.Context, eventID string, userID int64, mutate func(*domain.EventState, time.Time)) (domain.EventState, error) {
	ev, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return domain.EventState{}, err
	}
	if ev.TargetID != userID {
		return domain.EventState{}, domain.ErrEventNotFound
	}
	st, err := s.State(ctx, eventID, userID)
	if err != nil {
		return domain.EventState{}, err
	}
	mutate(&st, s.clock.Now())
	if err := docdomain.Put(ctx, s.docs, docdomain.EventStateKey(eventID, userID), st); err != nil {
		return domain.EventState{}, err
	}
	return st, nil
}

func (s *Store) listIndex(ctx context.Context, prefix string, q Query) ([]domain.IndexEntry, error) {
	entries, corrupt, err := docdomain.ListAs[domain.IndexEntry](ctx, s.docs, prefix, docdomain.Descending())
	if err != nil {
		return nil, err
	}
	for _, k := range corrupt {
		s.log.Warn("notification.corrupt_index", zap.String("key", k))
	}

	out := entries[:0]
	for _, entry := range entries {
		if q.Before != "" && entry.EventID >= q.Before {
			continue
		}
		if !q.Since.IsZero() && entry.Timestamp.Before(q.Since) {
			continue
		}
		if len(q.Types) > 0 && !slices.Contains(q.Types, entry.Type) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *Store) idEntry(ctx context.Context, id string) (*domain.IndexEntry, error) {
	if id == "" {
		return nil, domain.ErrEventNotFound
	}
	entry, err := docdomain.Get[domain.IndexEntry](ctx, s.docs, docdomain.EventIDIndexKey(id))
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, domain.ErrEventNotFound
	}
	return entry, nil
}

func (s *Store) writeIndexes(ctx context.Context, eventKey string, ev domain.Event) error {
	entry := domain.IndexEntry{
		EventID:   ev.ID,
		EventKey:  eventKey,
		Type:      ev.Type,
		Audience:  ev.Audience,
		TargetID:  ev.TargetID,
		DedupKey:  ev.DedupKey(),
		Context:   ev.Context,
		Timestamp: ev.Timestamp,
	}
	var errs []error
	errs = append(errs, docdomain.Put(ctx, s.docs, docdomain.EventIDIndexKey(ev.ID), entry))
	if ev.TargetID > 0 {
		errs = append(errs, docdomain.Put(ctx, s.docs, docdomain.UserIndexKey(ev.TargetID, ev.ID), entry))
	}
	if ev.Context.ProjectID != "" {
		errs = append(errs, docdomain.Put(ctx, s.docs, docdomain.ProjectIndexKey(ev.Context.ProjectID, ev.ID), entry))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("write event index: %w", err)
	}
	return nil
}

func decodeEvent(doc docdomain.Document) (domain.Event, error) {
	var ev domain.Event
	if err := json.Unmarshal(doc.Body, &ev); err != nil {
		return domain.Event{}, err
	}
	return ev, nil
}
