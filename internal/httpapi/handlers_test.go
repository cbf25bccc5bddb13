package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"meego/internal/aggregates"
	"meego/internal/assembler"
	"meego/internal/chat"
	"meego/internal/config"
	"meego/internal/dispatch"
	"meego/internal/embedding"
	"meego/internal/history"
	"meego/internal/ingest"
	"meego/internal/mediafetch"
	"meego/internal/messages"
	"meego/internal/providers"
	"meego/internal/queue"
	"meego/internal/ratelimit"
	"meego/internal/summary"
	"meego/internal/vectorstore"
)

type scriptedLLM struct{ reply string }

func (s scriptedLLM) Name() providers.Name { return providers.NameGroq }
func (s scriptedLLM) Complete(ctx context.Context, systemPrompt, userPrompt string, params providers.CompletionParams) (string, string, error) {
	return s.reply, "scripted-model-v1", nil
}

type fakeEmbedTransport struct{}

func (fakeEmbedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	body := `{"data":[{"embedding":[` + zeros(vectorstore.EmbeddingDimension) + `]}]}`
	return &http.Response{
		StatusCode: 200,
		Status:     "200 OK",
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

func zeros(n int) string {
	out := "0"
	for i := 1; i < n; i++ {
		out += ",0"
	}
	return out
}

// newTestServer wires a full Server against a real miniredis-backed queue
// and a real SQLite-backed vectorstore, following the same pattern as
// internal/chat and internal/ingest's own tests: no mocked collaborators,
// only a scripted LLM reply and a fixed-vector embed transport so the test
// doesn't depend on a reachable model endpoint.
func newTestServer(t *testing.T, llmReply string) *Server {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := queue.New(client, time.Hour, time.Minute)
	limiter := ratelimit.New(client, ratelimit.DefaultPolicies())

	d := dispatch.New(q, limiter, dispatch.Chains{
		LLM: []providers.LLMProvider{scriptedLLM{reply: llmReply}},
	}, dispatch.Concurrency{LLM: 1})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go d.Run(ctx)

	vs, err := vectorstore.NewSQLiteStore(filepath.Join(t.TempDir(), "httpapi.db"))
	require.NoError(t, err)
	t.Cleanup(func() { vs.Close() })
	for _, c := range vectorstore.AllCollections {
		require.NoError(t, vs.Bootstrap(context.Background(), c))
	}

	aggStore := aggregates.New(vs)
	histStore := history.New(vs)
	msgStore := messages.New(vs)
	summaryAgg := summary.New(aggStore, q)

	mediaClient := mediafetch.New(config.SenderBackendConfig{}, nil)
	embedClient := embedding.New(embedding.Config{
		BaseURL: "unused",
		Path:    "/v1/embeddings",
		Model:   "test",
	}, &http.Client{Transport: fakeEmbedTransport{}})

	ingestPipeline := ingest.New(mediaClient, embedClient, q, msgStore, summaryAgg)
	asm := assembler.New(aggStore, histStore, msgStore)
	chatOrch := chat.New(asm, histStore, q)

	return NewServer(Deps{
		Config:         config.Config{},
		Ingest:         ingestPipeline,
		Chat:           chatOrch,
		History:        histStore,
		Aggregates:     aggStore,
		Messages:       msgStore,
		Embedding:      embedClient,
		Media:          mediaClient,
		Queue:          q,
		Limiter:        limiter,
		Authoritative:  vs,
		Shadow:         nil,
		EmbeddingModel: "test",
	})
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, `{}`)
	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	out := decodeBody(t, rec)
	require.Equal(t, true, out["storesConnected"])
	require.Equal(t, "test", out["embeddingModel"])
	require.Contains(t, out, "providersConfigured")
}

func TestIngestMessage_ResponseIDIsExternalMessageID(t *testing.T) {
	srv := newTestServer(t, `{}`)
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/embedding/messages", map[string]any{
		"room":    "r1",
		"message": "hello there",
		"initId":  "m1",
		"from":    "u1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	out := decodeBody(t, rec)
	data, ok := out["data"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "m1", data["id"], "ingest response data.id must be the external message ID, not the internal store ID")
}

func TestIngestMessage_MissingFieldsReturn400(t *testing.T) {
	srv := newTestServer(t, `{}`)
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/embedding/messages", map[string]any{"room": "r1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearch_TopKBoundaries(t *testing.T) {
	srv := newTestServer(t, `{}`)

	zero := 0
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/embedding/search", map[string]any{"query": "hi", "topK": zero})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	tooMany := 101
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/embedding/search", map[string]any{"query": "hi", "topK": tooMany})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	ok := 10
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/embedding/search", map[string]any{"query": "hi", "topK": ok})
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody(t, rec)
	results, ok2 := out["results"].(map[string]any)
	require.True(t, ok2)
	require.Contains(t, results, "authoritative")
	require.Contains(t, results, "shadow")
}

func TestSearch_MissingQueryReturns400(t *testing.T) {
	srv := newTestServer(t, `{}`)
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/embedding/search", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatReply_SelfReplyReturns403WithPinnedArabicString(t *testing.T) {
	srv := newTestServer(t, `{"answer": "hi"}`)
	ingestRec := doJSON(t, srv, http.MethodPost, "/api/v1/embedding/messages", map[string]any{
		"room":    "r1",
		"message": "hello",
		"initId":  "m1",
		"from":    "sender1",
	})
	require.Equal(t, http.StatusOK, ingestRec.Code)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/chat/reply", map[string]any{
		"roomId":    "r1",
		"senderId":  "sender1",
		"messageId": "m1",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
	out := decodeBody(t, rec)
	require.Equal(t, "لا يمكنك الرد على رسالتك الخاصة", out["error"])
}

func TestChatReply_MissingTargetReturns404WithPinnedArabicString(t *testing.T) {
	srv := newTestServer(t, `{"answer": "hi"}`)
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/chat/reply", map[string]any{
		"roomId":    "r1",
		"senderId":  "sender1",
		"messageId": "does-not-exist",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
	out := decodeBody(t, rec)
	require.Equal(t, "انتظر وحاول بعد لحظات", out["error"])
}

func TestChatReply_MissingFieldsReturn400(t *testing.T) {
	srv := newTestServer(t, `{}`)
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/chat/reply", map[string]any{"roomId": "r1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatHistory_RequiresUserOrRoomID(t *testing.T) {
	srv := newTestServer(t, `{}`)
	rec := doJSON(t, srv, http.MethodGet, "/api/v1/chat/history", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/chat/history?roomId=r1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestDeleteRoom_CascadesMessagesHistoryAndAggregate(t *testing.T) {
	srv := newTestServer(t, `{"answer": "hi"}`)
	ingestRec := doJSON(t, srv, http.MethodPost, "/api/v1/embedding/messages", map[string]any{
		"room":    "r1",
		"message": "hello",
		"initId":  "m1",
		"from":    "u1",
	})
	require.Equal(t, http.StatusOK, ingestRec.Code)

	chatRec := doJSON(t, srv, http.MethodPost, "/api/v1/chat", map[string]any{
		"roomId":       "r1",
		"userId":       "u1",
		"userQuestion": "what's up?",
	})
	require.Equal(t, http.StatusOK, chatRec.Code)

	require.Eventually(t, func() bool {
		rec := doJSON(t, srv, http.MethodGet, "/api/v1/chat/history?roomId=r1", nil)
		out := decodeBody(t, rec)
		count, _ := out["count"].(float64)
		return count >= 1
	}, time.Second, 10*time.Millisecond)

	delRec := doJSON(t, srv, http.MethodDelete, "/api/v1/embedding/rooms/r1", nil)
	require.Equal(t, http.StatusOK, delRec.Code)

	summaryRec := doJSON(t, srv, http.MethodGet, "/api/v1/embedding/rooms/r1/summary", nil)
	out := decodeBody(t, summaryRec)
	require.Equal(t, "", out["summary"])

	histRec := doJSON(t, srv, http.MethodGet, "/api/v1/chat/history?roomId=r1", nil)
	out = decodeBody(t, histRec)
	count, _ := out["count"].(float64)
	require.Equal(t, float64(0), count)
}

func TestQueueStatsAndRateLimits(t *testing.T) {
	srv := newTestServer(t, `{}`)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/queues/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody(t, rec)
	require.Contains(t, out, "queues")

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/rate-limits", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out = decodeBody(t, rec)
	rateLimits, ok := out["rateLimits"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, rateLimits)
}
