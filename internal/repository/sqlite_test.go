package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"localchat/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := New(db)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func TestCreateAndGetThread(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.CreateThread(ctx, "Test Thread")
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.Equal(t, "Test Thread", created.Title)
	require.Empty(t, created.Summary)

	got, err := store.GetThread(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)
	require.Equal(t, "Test Thread", got.Title)
}

func TestCreateThread_DefaultTitle(t *testing.T) {
	store := newTestStore(t)

	created, err := store.CreateThread(context.Background(), "  ")
	require.NoError(t, err)
	require.Equal(t, domain.DefaultTitle, created.Title)
}

func TestGetThread_Unknown(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetThread(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, got)

	thread, msgs, err := store.GetThreadWithHistory(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, thread)
	require.Nil(t, msgs)
}

func TestListThreads_Search(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, title := range []string{"Apple Banana", "Apple Cherry", "Orange Banana"} {
		_, err := store.CreateThread(ctx, title)
		require.NoError(t, err)
	}

	all, err := store.ListThreads(ctx, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)

	apples, err := store.ListThreads(ctx, "apple", 0, 0)
	require.NoError(t, err)
	require.Len(t, apples, 2)

	none, err := store.ListThreads(ctx, "grape", 0, 0)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestListThreads_Pagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, title := range []string{"One", "Two", "Three", "Four", "Five"} {
		_, err := store.CreateThread(ctx, title)
		require.NoError(t, err)
	}

	all, err := store.ListThreads(ctx, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)

	page, err := store.ListThreads(ctx, "", 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)

	// Pages walked with a fixed size reassemble the full, stably ordered list.
	var walked []*domain.Thread
	for skip := 0; skip < 5; skip += 2 {
		p, err := store.ListThreads(ctx, "", skip, 2)
		require.NoError(t, err)
		walked = append(walked, p...)
	}
	require.Len(t, walked, 5)
	for i, thread := range walked {
		require.Equal(t, all[i].ID, thread.ID)
	}

	past, err := store.ListThreads(ctx, "", 10, 2)
	require.NoError(t, err)
	require.Empty(t, past)

	// Negative skip and non-positive limit fall back to defaults.
	defaulted, err := store.ListThreads(ctx, "", -3, -1)
	require.NoError(t, err)
	require.Len(t, defaulted, 5)
}

func TestAppendMessage_OrderAndTouch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	thread, err := store.CreateThread(ctx, "t")
	require.NoError(t, err)

	contents := []string{"one", "two", "three"}
	for i, c := range contents {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		_, err := store.AppendMessage(ctx, thread.ID, role, c, i)
		require.NoError(t, err)
	}

	got, msgs, err := store.GetThreadWithHistory(ctx, thread.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i, m := range msgs {
		require.Equal(t, contents[i], m.Content)
		require.Equal(t, i, m.TokenCount)
		require.Equal(t, thread.ID, m.ThreadID)
	}
	require.GreaterOrEqual(t, got.UpdatedTs, thread.UpdatedTs)
}

func TestAppendMessage_RejectsUnknownRole(t *testing.T) {
	store := newTestStore(t)
	thread, err := store.CreateThread(context.Background(), "t")
	require.NoError(t, err)

	_, err = store.AppendMessage(context.Background(), thread.ID, domain.Role("tool"), "x", 0)
	require.Error(t, err)
}

func TestAppendMessage_UnknownThread(t *testing.T) {
	store := newTestStore(t)
	_, err := store.AppendMessage(context.Background(), "missing", domain.RoleUser, "x", 0)
	require.Error(t, err)
}

func TestUpdateThread_TitleAndSummary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	thread, err := store.CreateThread(ctx, "t")
	require.NoError(t, err)

	require.NoError(t, store.SetTitle(ctx, thread.ID, "Renamed"))
	require.NoError(t, store.SetSummary(ctx, thread.ID, "first summary"))

	got, err := store.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	require.Equal(t, "Renamed", got.Title)
	require.Equal(t, "first summary", got.Summary)

	// Summary is replaced, never appended.
	require.NoError(t, store.SetSummary(ctx, thread.ID, "second summary"))
	got, err = store.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	require.Equal(t, "second summary", got.Summary)
}

func TestTouchUpdatedAt_Monotonic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	thread, err := store.CreateThread(ctx, "t")
	require.NoError(t, err)

	require.NoError(t, store.TouchUpdatedAt(ctx, thread.ID))
	first, err := store.GetThread(ctx, thread.ID)
	require.NoError(t, err)

	require.NoError(t, store.TouchUpdatedAt(ctx, thread.ID))
	second, err := store.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, second.UpdatedTs, first.UpdatedTs)
	require.GreaterOrEqual(t, first.UpdatedTs, thread.CreatedTs)
}

func TestDeleteThread_CascadesMessages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	thread, err := store.CreateThread(ctx, "t")
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, thread.ID, domain.RoleUser, "hello", 1)
	require.NoError(t, err)

	require.NoError(t, store.DeleteThread(ctx, thread.ID))

	got, err := store.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	require.Nil(t, got)

	var count int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM message`).Scan(&count))
	require.Zero(t, count)
}
