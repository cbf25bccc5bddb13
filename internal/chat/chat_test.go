package chat

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"meego/internal/aggregates"
	"meego/internal/assembler"
	"meego/internal/dispatch"
	"meego/internal/history"
	"meego/internal/messages"
	"meego/internal/providers"
	"meego/internal/queue"
	"meego/internal/ratelimit"
	"meego/internal/vectorstore"
)

type scriptedLLM struct{ reply string }

func (s scriptedLLM) Name() providers.Name { return providers.NameGroq }
func (s scriptedLLM) Complete(ctx context.Context, systemPrompt, userPrompt string, params providers.CompletionParams) (string, string, error) {
	return s.reply, "scripted-model-v1", nil
}

func newTestOrchestrator(t *testing.T, reply string) (*Orchestrator, *history.Store, *messages.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := queue.New(client, time.Hour, time.Minute)
	limiter := ratelimit.New(client, ratelimit.DefaultPolicies())

	d := dispatch.New(q, limiter, dispatch.Chains{LLM: []providers.LLMProvider{scriptedLLM{reply: reply}}}, dispatch.Concurrency{LLM: 1})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go d.Run(ctx)

	vs, err := vectorstore.NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { vs.Close() })
	for _, c := range vectorstore.AllCollections {
		require.NoError(t, vs.Bootstrap(context.Background(), c))
	}

	aggStore := aggregates.New(vs)
	histStore := history.New(vs)
	msgStore := messages.New(vs)
	asm := assembler.New(aggStore, histStore, msgStore)

	return New(asm, histStore, q), histStore, msgStore
}

func TestChat_ParsesDirectJSONAndPersistsHistory(t *testing.T) {
	o, histStore, _ := newTestOrchestrator(t, `{"answer": "42", "suggested_answer": "forty-two"}`)

	answer, err := o.Chat(context.Background(), "r1", "u1", "what is the answer?")
	require.NoError(t, err)
	require.Equal(t, "42", answer.Answer)
	require.NotNil(t, answer.SuggestedAnswer)
	require.Equal(t, "forty-two", *answer.SuggestedAnswer)

	var records []history.Record
	require.Eventually(t, func() bool {
		var err error
		records, err = histStore.Latest(context.Background(), "u1", "r1", 10)
		return err == nil && len(records) == 1
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, "scripted-model-v1", records[0].ModelName)
}

func TestReply_NeverPersistsHistory(t *testing.T) {
	o, histStore, msgStore := newTestOrchestrator(t, `{"answer": "sure thing"}`)
	_, err := msgStore.Insert(context.Background(), messages.Message{RoomID: "r1", ExternalMessageID: "m1", SenderID: "other", Text: "hi"})
	require.NoError(t, err)

	answer, err := o.Reply(context.Background(), "r1", "sender1", "m1")
	require.NoError(t, err)
	require.Equal(t, "sure thing", answer.Answer)

	time.Sleep(50 * time.Millisecond)
	records, err := histStore.Latest(context.Background(), "sender1", "r1", 10)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestRecoverAnswer_DirectJSON(t *testing.T) {
	r := recoverAnswer(`{"answer": "hi", "suggested_answer": "hey"}`)
	require.Equal(t, "hi", r.answer)
	require.Equal(t, "hey", *r.suggestedAnswer)
}

func TestRecoverAnswer_CodeFenced(t *testing.T) {
	r := recoverAnswer("```json\n{\"answer\": \"hi\"}\n```")
	require.Equal(t, "hi", r.answer)
	require.Nil(t, r.suggestedAnswer)
}

func TestRecoverAnswer_ExtractsJSONRegionFromSurroundingProse(t *testing.T) {
	r := recoverAnswer(`Sure, here you go: {"answer": "hi", "suggested_answer": null} hope that helps`)
	require.Equal(t, "hi", r.answer)
}

func TestRecoverAnswer_RegexFallbackOnBrokenJSON(t *testing.T) {
	r := recoverAnswer(`{"answer": "hi, there", "suggested_answer": "bye" extra garbage`)
	require.Equal(t, "hi, there", r.answer)
	require.Equal(t, "bye", *r.suggestedAnswer)
}

func TestRecoverAnswer_RawTextFallback(t *testing.T) {
	r := recoverAnswer("just plain text, no json at all")
	require.Equal(t, "just plain text, no json at all", r.answer)
	require.Nil(t, r.suggestedAnswer)
}

func TestRecoverAnswer_NestedJSONAnswerParsedAgain(t *testing.T) {
	r := recoverAnswer(`{"answer": {"answer": "inner", "suggested_answer": "inner-sugg"}}`)
	require.Equal(t, "inner", r.answer)
	require.NotNil(t, r.suggestedAnswer)
	require.Equal(t, "inner-sugg", *r.suggestedAnswer)
}
