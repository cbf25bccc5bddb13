package messages

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"meego/internal/vectorstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	vs, err := vectorstore.NewSQLiteStore(filepath.Join(t.TempDir(), "messages.db"))
	require.NoError(t, err)
	t.Cleanup(func() { vs.Close() })
	require.NoError(t, vs.Bootstrap(context.Background(), vectorstore.CollectionMessages))
	return New(vs)
}

func TestInsertThenLatestForRoom_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	vec := make([]float32, vectorstore.EmbeddingDimension)
	_, err := store.Insert(ctx, Message{RoomID: "r1", ExternalMessageID: "m1", Text: "first", Vector: vec, CreatedAt: base})
	require.NoError(t, err)
	_, err = store.Insert(ctx, Message{RoomID: "r1", ExternalMessageID: "m2", Text: "second", Vector: vec, CreatedAt: base.Add(time.Minute)})
	require.NoError(t, err)

	latest, err := store.LatestForRoom(ctx, "r1", 10)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	require.Equal(t, "second", latest[0].Text)
}

func TestFindByExternalID_ReturnsMatchingMessage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	vec := make([]float32, vectorstore.EmbeddingDimension)
	_, err := store.Insert(ctx, Message{RoomID: "r1", ExternalMessageID: "ext-1", SenderID: "u1", Text: "hello", Vector: vec})
	require.NoError(t, err)

	found, err := store.FindByExternalID(ctx, "r1", "ext-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, "u1", found.SenderID)
}

func TestFindByExternalID_MissingReturnsNilNotError(t *testing.T) {
	store := newTestStore(t)
	found, err := store.FindByExternalID(context.Background(), "r1", "missing")
	require.NoError(t, err)
	require.Nil(t, found)
}

func TestDeleteForRoom_RemovesAllMatchingMessages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	vec := make([]float32, vectorstore.EmbeddingDimension)
	store.Insert(ctx, Message{RoomID: "r1", ExternalMessageID: "m1", Vector: vec})
	store.Insert(ctx, Message{RoomID: "r2", ExternalMessageID: "m2", Vector: vec})

	require.NoError(t, store.DeleteForRoom(ctx, "r1"))

	remaining, err := store.LatestForRoom(ctx, "r1", 10)
	require.NoError(t, err)
	require.Empty(t, remaining)

	remaining, err = store.LatestForRoom(ctx, "r2", 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
}
