package summary

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"meego/internal/aggregates"
	"meego/internal/dispatch"
	"meego/internal/providers"
	"meego/internal/queue"
	"meego/internal/ratelimit"
	"meego/internal/vectorstore"
)

type echoLLM struct{}

func (echoLLM) Name() providers.Name { return providers.NameGroq }
func (echoLLM) Complete(ctx context.Context, systemPrompt, userPrompt string, params providers.CompletionParams) (string, string, error) {
	return "condensed: " + userPrompt, "echo-model", nil
}

func newTestAggregator(t *testing.T) (*Aggregator, *aggregates.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := queue.New(client, time.Hour, time.Minute)
	limiter := ratelimit.New(client, ratelimit.DefaultPolicies())

	d := dispatch.New(q, limiter, dispatch.Chains{LLM: []providers.LLMProvider{echoLLM{}}}, dispatch.Concurrency{LLM: 1})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go d.Run(ctx)

	vs, err := vectorstore.NewSQLiteStore(filepath.Join(t.TempDir(), "summary.db"))
	require.NoError(t, err)
	t.Cleanup(func() { vs.Close() })
	require.NoError(t, vs.Bootstrap(context.Background(), vectorstore.CollectionRooms))
	require.NoError(t, vs.Bootstrap(context.Background(), vectorstore.CollectionUsers))

	aggStore := aggregates.New(vs)
	return New(aggStore, q), aggStore
}

func TestUpdateRoomSummary_SeedsFromShortFirstMessage(t *testing.T) {
	agg, store := newTestAggregator(t)
	ctx := context.Background()

	require.NoError(t, agg.UpdateRoomSummary(ctx, "r1", "hi there", "alice"))

	room, err := store.GetRoom(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, "alice: hi there", room.Summary)
	require.Equal(t, 1, room.MessageCount)
}

func TestUpdateRoomSummary_CondensesLongFirstMessage(t *testing.T) {
	agg, store := newTestAggregator(t)
	ctx := context.Background()

	long := strings.Repeat("word ", 100)
	require.NoError(t, agg.UpdateRoomSummary(ctx, "r1", long, "alice"))

	room, err := store.GetRoom(ctx, "r1")
	require.NoError(t, err)
	require.Contains(t, room.Summary, "condensed:")
}

func TestUpdateRoomSummary_MergesWithPriorSummary(t *testing.T) {
	agg, store := newTestAggregator(t)
	ctx := context.Background()

	require.NoError(t, agg.UpdateRoomSummary(ctx, "r1", "first message", "alice"))
	require.NoError(t, agg.UpdateRoomSummary(ctx, "r1", "second message", "bob"))

	room, err := store.GetRoom(ctx, "r1")
	require.NoError(t, err)
	require.Contains(t, room.Summary, "condensed:")
	require.Equal(t, 2, room.MessageCount)
}

func TestUpdateUserPersonalization_SeedsFromShortMessage(t *testing.T) {
	agg, store := newTestAggregator(t)
	ctx := context.Background()

	require.NoError(t, agg.UpdateUserPersonalization(ctx, "u1", "I love Go", "alice"))

	user, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "alice: I love Go", user.PersonalizationSummary)
}
