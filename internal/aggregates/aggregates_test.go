package aggregates

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"meego/internal/vectorstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	vs, err := vectorstore.NewSQLiteStore(filepath.Join(t.TempDir(), "aggregates.db"))
	require.NoError(t, err)
	t.Cleanup(func() { vs.Close() })
	ctx := context.Background()
	require.NoError(t, vs.Bootstrap(ctx, vectorstore.CollectionRooms))
	require.NoError(t, vs.Bootstrap(ctx, vectorstore.CollectionUsers))
	return New(vs)
}

func TestGetRoom_AbsentReturnsNilNotError(t *testing.T) {
	store := newTestStore(t)
	room, err := store.GetRoom(context.Background(), "nonexistent")
	require.NoError(t, err)
	require.Nil(t, room)
}

func TestPutRoomThenGetRoom_RoundTrips(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutRoom(ctx, Room{RoomID: "r1", Summary: "hello", MessageCount: 1}))
	room, err := store.GetRoom(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, room)
	require.Equal(t, "r1", room.RoomID)
	require.Equal(t, "hello", room.Summary)
	require.Equal(t, 1, room.MessageCount)
}

func TestPutRoom_UpsertCoalescesToOneRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutRoom(ctx, Room{RoomID: "r1", Summary: "first", MessageCount: 1}))
	require.NoError(t, store.PutRoom(ctx, Room{RoomID: "r1", Summary: "second", MessageCount: 2}))

	room, err := store.GetRoom(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, "second", room.Summary)
	require.Equal(t, 2, room.MessageCount)
}

func TestPutRoom_TruncatesSummaryToCap(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	long := strings.Repeat("x", SummaryCap+500)
	require.NoError(t, store.PutRoom(ctx, Room{RoomID: "r1", Summary: long}))

	room, err := store.GetRoom(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, room.Summary, SummaryCap)
}

func TestDeleteRoom_RemovesAggregate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.PutRoom(ctx, Room{RoomID: "r1", Summary: "x"}))
	require.NoError(t, store.DeleteRoom(ctx, "r1"))

	room, err := store.GetRoom(ctx, "r1")
	require.NoError(t, err)
	require.Nil(t, room)
}

func TestPutUserThenGetUser_RoundTrips(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.PutUser(ctx, User{UserID: "u1", PersonalizationSummary: "likes go", MessageCount: 3}))

	user, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "likes go", user.PersonalizationSummary)
	require.Equal(t, 3, user.MessageCount)
}
