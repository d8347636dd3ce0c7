package stores

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Desarso/ragchat/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStoreSimple(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func serialize(t *testing.T, c models.Content) string {
	t.Helper()
	s, err := models.Serialize(c)
	require.NoError(t, err)
	return s
}

func TestAppendAndListPreservesOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := serialize(t, models.NewMessage("hello"))
	second := serialize(t, models.NewToolResult("call_1", "tool output"))
	third := serialize(t, models.NewMessage("answer"))

	_, err := store.Append(ctx, "c1", first, models.RoleUser)
	require.NoError(t, err)
	_, err = store.Append(ctx, "c1", second, models.RoleAssistant)
	require.NoError(t, err)
	_, err = store.Append(ctx, "c1", third, models.RoleAssistant)
	require.NoError(t, err)

	turns, err := store.List(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, first, turns[0].Content)
	assert.Equal(t, second, turns[1].Content)
	assert.Equal(t, third, turns[2].Content)
	assert.Equal(t, "user", turns[0].Sender)
	assert.Less(t, turns[0].ID, turns[1].ID)
	assert.Less(t, turns[1].ID, turns[2].ID)

	entry, err := turns[1].Decode()
	require.NoError(t, err)
	assert.Equal(t, models.RoleAssistant, entry.Role)
	assert.Equal(t, models.ToolResult{CallID: "call_1", Output: "tool output"}, entry.Content)
}

func TestListUnknownConversation(t *testing.T) {
	store := newTestStore(t)

	_, err := store.List(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListIsolatesConversations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Append(ctx, "a", serialize(t, models.NewMessage("for a")), models.RoleUser)
	require.NoError(t, err)
	_, err = store.Append(ctx, "b", serialize(t, models.NewMessage("for b")), models.RoleUser)
	require.NoError(t, err)

	turns, err := store.List(ctx, "a")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "a", turns[0].ConversationID)
}

func TestAppendBatchKeepsSliceOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Append(ctx, "c1", serialize(t, models.NewMessage("q")), models.RoleUser)
	require.NoError(t, err)

	batch := []PendingTurn{
		{Content: serialize(t, models.NewToolResult("call_a", "one")), Role: models.RoleAssistant},
		{Content: serialize(t, models.NewToolResult("call_b", "two")), Role: models.RoleAssistant},
		{Content: serialize(t, models.NewMessage("done")), Role: models.RoleAssistant},
	}
	require.NoError(t, store.AppendBatch(ctx, "c1", batch))

	turns, err := store.List(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, turns, 4)
	for i, pt := range batch {
		assert.Equal(t, pt.Content, turns[i+1].Content)
	}
}

func TestAppendBatchEmptyIsNoop(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.AppendBatch(context.Background(), "c1", nil))

	_, err := store.List(context.Background(), "c1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListConversationsEmpty(t *testing.T) {
	store := newTestStore(t)

	summaries, err := store.ListConversations(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, summaries)
	assert.Empty(t, summaries)
}

func TestListConversationsMostRecentFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Append(ctx, "older", serialize(t, models.NewMessage("first question")), models.RoleUser)
	require.NoError(t, err)
	_, err = store.Append(ctx, "newer", serialize(t, models.NewMessage("second question")), models.RoleUser)
	require.NoError(t, err)
	_, err = store.Append(ctx, "older", serialize(t, models.NewMessage("reply")), models.RoleAssistant)
	require.NoError(t, err)
	_, err = store.Append(ctx, "older", serialize(t, models.NewMessage("follow up")), models.RoleUser)
	require.NoError(t, err)

	summaries, err := store.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	assert.Equal(t, "older", summaries[0].ConversationID)
	assert.Equal(t, "first question", summaries[0].FirstMessage)
	assert.Equal(t, "newer", summaries[1].ConversationID)
	assert.Equal(t, "second question", summaries[1].FirstMessage)
	assert.False(t, summaries[0].Timestamp.IsZero())
}

func TestDeleteConversation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Append(ctx, "c1", serialize(t, models.NewMessage("q")), models.RoleUser)
	require.NoError(t, err)
	_, err = store.Append(ctx, "c1", serialize(t, models.NewMessage("a")), models.RoleAssistant)
	require.NoError(t, err)

	deleted, err := store.Delete(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	_, err = store.List(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Delete(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewStoreRejectsUnknownType(t *testing.T) {
	_, err := NewStore(NewStoreConfig("mongo", ""))
	assert.Error(t, err)
}

func TestConcurrentAppendsToOneConversation(t *testing.T) {
	store, err := NewStore(NewStoreConfig("sqlite", filepath.Join(t.TempDir(), "chat.db")))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	const writers, batchLen = 8, 3
	singles := make([]string, writers)
	batches := make([][]PendingTurn, writers)
	for w := 0; w < writers; w++ {
		singles[w] = serialize(t, models.NewMessage(fmt.Sprintf("single-%d", w)))
		for i := 0; i < batchLen; i++ {
			batches[w] = append(batches[w], PendingTurn{
				Content: serialize(t, models.NewToolResult(fmt.Sprintf("batch-%d-%d", w, i), "out")),
				Role:    models.RoleAssistant,
			})
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, writers*2)
	for w := 0; w < writers; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			_, err := store.Append(ctx, "shared", singles[w], models.RoleUser)
			errs <- err
		}(w)
		go func(w int) {
			defer wg.Done()
			errs <- store.AppendBatch(ctx, "shared", batches[w])
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	turns, err := store.List(ctx, "shared")
	require.NoError(t, err)
	require.Len(t, turns, writers*(1+batchLen))

	position := make(map[string]int, len(turns))
	for i, turn := range turns {
		position[turn.Content] = i
	}
	for w, batch := range batches {
		start, ok := position[batch[0].Content]
		require.True(t, ok, "batch %d missing", w)
		for i, pt := range batch {
			assert.Equal(t, start+i, position[pt.Content], "batch %d turn %d out of place", w, i)
		}
	}
}

func TestSQLiteOptionsReachDriver(t *testing.T) {
	cfg := NewStoreConfig("sqlite", filepath.Join(t.TempDir(), "wal.db")).WithOption("journal_mode", "WAL")
	store, err := NewSQLiteStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	var mode string
	require.NoError(t, store.db.Raw("PRAGMA journal_mode").Scan(&mode).Error)
	assert.Equal(t, "wal", mode)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "chat.db?_busy_timeout=5000&_txlock=immediate", sqliteDSN("chat.db", nil))
	assert.Equal(t, ":memory:?_busy_timeout=100&_journal_mode=WAL&_txlock=immediate",
		sqliteDSN(":memory:", map[string]string{"journal_mode": "WAL", "_busy_timeout": "100"}))
	assert.Equal(t, "file:chat.db?cache=shared&_busy_timeout=5000&_txlock=immediate",
		sqliteDSN("file:chat.db?cache=shared", nil))
}

func TestPostgresDSN(t *testing.T) {
	keyword := "host=localhost user=app dbname=chat"
	assert.Equal(t, keyword, postgresDSN(keyword, nil))
	assert.Equal(t, keyword+" application_name=ragchat search_path='tenant a'",
		postgresDSN(keyword, map[string]string{"search_path": "tenant a", "application_name": "ragchat"}))

	assert.Equal(t, "postgres://app@localhost/chat?search_path=tenant&sslmode=disable",
		postgresDSN("postgres://app@localhost/chat?sslmode=disable", map[string]string{"search_path": "tenant"}))
}
