package storage_test

import (
	"context"
	"supportchat/backend/internal/models"
	"supportchat/backend/internal/storage"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_AppendAssignsIDs(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	id1, err := store.Append(ctx, models.NewMessage("hello", "a1", models.Anonymous("c1"), models.ToAgent, time.Now()))
	require.NoError(t, err)
	id2, err := store.Append(ctx, models.NewMessage("hi", "a1", models.Anonymous("c1"), models.ToVisitor, time.Now()))
	require.NoError(t, err)

	assert.NotZero(t, id1)
	assert.Greater(t, id2, id1)
}

// TestMemoryStore_AppendNeverOverwrites verifies a stored message cannot be appended again.
func TestMemoryStore_AppendNeverOverwrites(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	msg := models.NewMessage("hello", "a1", models.Anonymous("c1"), models.ToAgent, time.Now())
	_, err := store.Append(ctx, msg)
	require.NoError(t, err)

	msg.Content = "edited"
	_, err = store.Append(ctx, msg)

	assert.Error(t, err)
	got, _ := store.ListBySession(ctx, "a1", models.Anonymous("c1"))
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Content)
}

// TestMemoryStore_ListBySessionOrdering checks SentAt order with insertion order breaking ties.
func TestMemoryStore_ListBySessionOrdering(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	visitor := models.Authenticated("u42")
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	_, _ = store.Append(ctx, models.NewMessage("third", "a1", visitor, models.ToAgent, base.Add(2*time.Second)))
	_, _ = store.Append(ctx, models.NewMessage("first", "a1", visitor, models.ToAgent, base))
	_, _ = store.Append(ctx, models.NewMessage("second-a", "a1", visitor, models.ToVisitor, base.Add(time.Second)))
	_, _ = store.Append(ctx, models.NewMessage("second-b", "a1", visitor, models.ToAgent, base.Add(time.Second)))
	_, _ = store.Append(ctx, models.NewMessage("other agent", "a2", visitor, models.ToAgent, base))

	got, err := store.ListBySession(ctx, "a1", visitor)

	require.NoError(t, err)
	var contents []string
	for _, m := range got {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"first", "second-a", "second-b", "third"}, contents)

	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].SentAt.Before(got[i-1].SentAt), "messages must be in non-decreasing SentAt order")
	}
}

// TestMemoryStore_VariantsDoNotMix verifies the same ID in both identity variants addresses different transcripts.
func TestMemoryStore_VariantsDoNotMix(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	_, _ = store.Append(ctx, models.NewMessage("as user", "a1", models.Authenticated("x"), models.ToAgent, time.Now()))
	_, _ = store.Append(ctx, models.NewMessage("as conn", "a1", models.Anonymous("x"), models.ToAgent, time.Now()))

	byUser, _ := store.ListBySession(ctx, "a1", models.Authenticated("x"))
	byConn, _ := store.ListBySession(ctx, "a1", models.Anonymous("x"))

	require.Len(t, byUser, 1)
	require.Len(t, byConn, 1)
	assert.Equal(t, "as user", byUser[0].Content)
	assert.Equal(t, "as conn", byConn[0].Content)
}

// TestMemoryStore_ReturnedMessagesAreCopies verifies callers cannot mutate the log.
func TestMemoryStore_ReturnedMessagesAreCopies(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	_, _ = store.Append(ctx, models.NewMessage("hello", "a1", models.Anonymous("c1"), models.ToAgent, time.Now()))

	got, _ := store.ListBySession(ctx, "a1", models.Anonymous("c1"))
	got[0].Content = "tampered"
	*got[0].ConnectionID = "c2"

	again, _ := store.ListBySession(ctx, "a1", models.Anonymous("c1"))
	require.Len(t, again, 1)
	assert.Equal(t, "hello", again[0].Content)
}

func TestMemoryStore_ListRejectsInvalidVisitor(t *testing.T) {
	store := storage.NewMemoryStore()

	_, err := store.ListBySession(context.Background(), "a1", models.VisitorIdentity{})

	assert.ErrorIs(t, err, models.ErrInvalidVisitorIdentity)
}

func TestMemoryStore_ConcurrentAppend(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v := models.Authenticated("u" + string(rune('A'+i%5)))
			_, err := store.Append(ctx, models.NewMessage("m", "a1", v, models.ToAgent, time.Now()))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	total := 0
	for i := 0; i < 5; i++ {
		got, _ := store.ListBySession(ctx, "a1", models.Authenticated("u"+string(rune('A'+i))))
		total += len(got)
	}
	assert.Equal(t, 50, total)
}

func TestMemoryStore_SessionLifecycle(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	sess := models.NewSession("a1", models.Anonymous("c1"), time.Now())

	require.NoError(t, store.SaveSession(ctx, sess))
	active, _ := store.GetActiveSessions(ctx)
	assert.Len(t, active, 1)

	require.NoError(t, store.CloseSession(ctx, sess.SessionID, models.CloseDisconnect, time.Now()))
	require.NoError(t, store.CloseSession(ctx, sess.SessionID, models.CloseTimeout, time.Now()), "second close is a no-op")

	active, _ = store.GetActiveSessions(ctx)
	assert.Empty(t, active)
	stored, ok := store.Session(sess.SessionID)
	require.True(t, ok)
	assert.Equal(t, models.CloseDisconnect, stored.CloseReason, "first close reason wins")
}

func TestMemoryStore_WaitQueueFIFO(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	_ = store.Enqueue(ctx, models.Anonymous("c1"), now)
	_ = store.Enqueue(ctx, models.Authenticated("u1"), now.Add(time.Second))
	_ = store.Enqueue(ctx, models.Anonymous("c1"), now.Add(2*time.Second))

	waiting, _ := store.Waiting(ctx)
	assert.Equal(t, []models.VisitorIdentity{models.Anonymous("c1"), models.Authenticated("u1")}, waiting)

	_ = store.Remove(ctx, models.Anonymous("c1"))
	waiting, _ = store.Waiting(ctx)
	assert.Equal(t, []models.VisitorIdentity{models.Authenticated("u1")}, waiting)
}

func TestMemoryStore_Agents(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	chatID := int64(555)

	require.NoError(t, store.SaveAgent(ctx, &models.Agent{ID: "b", Active: true}))
	require.NoError(t, store.SaveAgent(ctx, &models.Agent{ID: "a", Active: true, TelegramChatID: &chatID}))
	require.NoError(t, store.SaveAgent(ctx, &models.Agent{ID: "c", Active: false}))

	active, _ := store.ListAgents(ctx, true)
	require.Len(t, active, 2)
	assert.Equal(t, "a", active[0].ID)

	byChat, err := store.GetAgentByTelegramChatID(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, "a", byChat.ID)

	_, err = store.GetAgent(ctx, "zzz")
	assert.ErrorIs(t, err, models.ErrUnknownAgent)
}
