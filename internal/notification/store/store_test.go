package store

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/gigledger/internal/clock"
	"github.com/smallbiznis/gigledger/internal/docstore/memory"
	"github.com/smallbiznis/gigledger/internal/notification/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore() (*Store, *memory.Store, *clock.FakeClock) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	docs := memory.New()
	return New(docs, clk, nil), docs, clk
}

func event(id string, target int64, project, task string) domain.Event {
	return domain.Event{
		ID:         id,
		Type:       domain.TypeTaskApproved,
		Audience:   domain.AudienceFreelancer,
		ActorID:    1,
		TargetID:   target,
		EntityType: domain.EntityTask,
		EntityID:   task,
		Metadata:   domain.Metadata{domain.MetaTaskTitle: "Logo"},
		Context:    domain.Context{ProjectID: project, TaskID: task},
	}
}

func TestAddAndGetEvent(t *testing.T) {
	s, docs, _ := newStore()
	ctx := context.Background()

	require.NoError(t, s.AddEvent(ctx, event("1001", 2, "C-1", "t1")))
	assert.Equal(t, 1, docs.Len("events/2026-03-01/"))

	got, err := s.GetEvent(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, "task_approved:freelancer:C-1:task-t1", got.DedupKey())

	_, err = s.GetEvent(ctx, "404")
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
}

func TestAddEventRejectsInvalid(t *testing.T) {
	s, _, _ := newStore()
	ctx := context.Background()

	assert.ErrorIs(t, s.AddEvent(ctx, event("", 2, "C-1", "t1")), domain.ErrInvalidEvent)
	assert.ErrorIs(t, s.AddEvent(ctx, event("1", 0, "C-1", "t1")), domain.ErrInvalidEvent)
}

func TestReplaceEventKeepsPartitionAndTimestamp(t *testing.T) {
	s, docs, clk := newStore()
	ctx := context.Background()

	require.NoError(t, s.AddEvent(ctx, event("1001", 2, "C-1", "t1")))
	original, err := s.GetEvent(ctx, "1001")
	require.NoError(t, err)

	clk.Advance(48 * time.Hour)
	replacement := event("1001", 2, "C-1", "t1")
	replacement.Metadata[domain.MetaTaskTitle] = "Logo v2"
	replacement.Timestamp = clk.Now()
	require.NoError(t, s.ReplaceEvent(ctx, replacement))

	got, err := s.GetEvent(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, "Logo v2", got.Metadata.String(domain.MetaTaskTitle))
	assert.True(t, got.Timestamp.Equal(original.Timestamp))
	assert.Equal(t, 1, docs.Len("events/"))

	assert.ErrorIs(t, s.ReplaceEvent(ctx, event("9999", 2, "C-1", "t1")), domain.ErrEventNotFound)
}

func TestFindExisting(t *testing.T) {
	s, _, clk := newStore()
	ctx := context.Background()

	require.NoError(t, s.AddEvent(ctx, event("1001", 2, "C-1", "t1")))
	clk.Advance(10 * 24 * time.Hour)
	require.NoError(t, s.AddEvent(ctx, event("1002", 2, "C-1", "t2")))

	key := event("", 2, "C-1", "t1").DedupKey()

	byProject, err := s.FindExisting(ctx, key, Window{ProjectID: "C-1"})
	require.NoError(t, err)
	require.NotNil(t, byProject)
	assert.Equal(t, "1001", byProject.ID)

	global, err := s.FindExisting(ctx, key, Window{})
	require.NoError(t, err)
	require.NotNil(t, global)

	recent, err := s.FindExisting(ctx, key, Window{ProjectID: "C-1", Since: clk.Now().AddDate(0, 0, -7)})
	require.NoError(t, err)
	assert.Nil(t, recent)

	none, err := s.FindExisting(ctx, "task_approved:freelancer:C-2:task-t1", Window{ProjectID: "C-2"})
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestReadAndActionedState(t *testing.T) {
	s, _, _ := newStore()
	ctx := context.Background()

	require.NoError(t, s.AddEvent(ctx, event("1001", 2, "C-1", "t1")))
	require.NoError(t, s.AddEvent(ctx, event("1002", 2, "C-1", "t2")))
	require.NoError(t, s.AddEvent(ctx, event("1003", 3, "C-1", "t3")))

	count, err := s.UnreadCount(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	st, err := s.MarkRead(ctx, "1002", 2)
	require.NoError(t, err)
	assert.True(t, st.Read)
	assert.False(t, st.Actioned)

	_, err = s.MarkRead(ctx, "1003", 2)
	assert.ErrorIs(t, err, domain.ErrEventNotFound)

	st, err = s.MarkActioned(ctx, "1001", 2)
	require.NoError(t, err)
	assert.True(t, st.Read)
	assert.True(t, st.Actioned)

	count, err = s.UnreadCount(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, count)

	views, err := s.ListForUser(ctx, 2, Query{})
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "1002", views[0].ID)
	assert.True(t, views[0].Read)

	unread, err := s.ListForUser(ctx, 3, Query{UnreadOnly: true, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, unread, 1)
}

func TestListForProjectFilters(t *testing.T) {
	s, _, _ := newStore()
	ctx := context.Background()

	require.NoError(t, s.AddEvent(ctx, event("1001", 2, "C-1", "t1")))
	paid := event("1002", 2, "C-1", "t2")
	paid.Type = domain.TypeMilestonePaymentReceived
	require.NoError(t, s.AddEvent(ctx, paid))
	require.NoError(t, s.AddEvent(ctx, event("1003", 2, "C-1", "t3")))

	got, err := s.ListForProject(ctx, "C-1", Query{Types: []domain.EventType{domain.TypeTaskApproved}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1003", got[0].ID)

	page, err := s.ListForProject(ctx, "C-1", Query{Before: "1003", Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "1002", page[0].ID)
}
