package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"meego/internal/providers"
	"meego/internal/queue"
	"meego/internal/ratelimit"
)

type fakeLLM struct {
	name  providers.Name
	err   error
	text  string
	model string
}

func (f *fakeLLM) Name() providers.Name { return f.name }
func (f *fakeLLM) Complete(ctx context.Context, systemPrompt, userPrompt string, params providers.CompletionParams) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	return f.text, f.model, nil
}

func newTestEnv(t *testing.T) (*queue.Queue, *ratelimit.Limiter) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := queue.New(client, time.Hour, time.Minute)
	limiter := ratelimit.New(client, ratelimit.DefaultPolicies())
	return q, limiter
}

func TestProcessLLM_FallsBackToSecondProviderOnFirstFailure(t *testing.T) {
	q, limiter := newTestEnv(t)
	chains := Chains{LLM: []providers.LLMProvider{
		&fakeLLM{name: providers.NameGroq, err: errors.New("groq down")},
		&fakeLLM{name: providers.NameGemini, text: "fallback answer", model: "gemini-2.0-flash"},
	}}
	d := New(q, limiter, chains, Concurrency{LLM: 1})

	ctx := context.Background()
	job, err := q.Enqueue(ctx, "llm", mustJSON(LLMPayload{UserPrompt: "hi"}), queue.EnqueueOptions{Priority: queue.PriorityNormal})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	active, err := q.Dequeue(ctx, "llm", "test-worker", 0)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	result, err := d.processLLM(ctx, active)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "fallback answer" {
		t.Fatalf("expected fallback answer, got %q", result.Text)
	}
	if result.Provider != providers.NameGemini {
		t.Fatalf("expected gemini as winning provider, got %s", result.Provider)
	}
	if result.Model != "gemini-2.0-flash" {
		t.Fatalf("expected winning provider's model name to be recorded, got %q", result.Model)
	}
	if len(result.ProviderAttempts) != 2 {
		t.Fatalf("expected 2 provider attempts recorded, got %d", len(result.ProviderAttempts))
	}
	if result.ProviderAttempts[0].Outcome != "error" {
		t.Fatalf("expected first attempt outcome 'error', got %q", result.ProviderAttempts[0].Outcome)
	}
	if result.ProviderAttempts[1].Outcome != "success" {
		t.Fatalf("expected second attempt outcome 'success', got %q", result.ProviderAttempts[1].Outcome)
	}

	_ = job
}

func TestProcessLLM_FailedProviderDoesNotIncrementItsCounter(t *testing.T) {
	q, limiter := newTestEnv(t)
	chains := Chains{LLM: []providers.LLMProvider{
		&fakeLLM{name: providers.NameGroq, err: errors.New("groq down")},
		&fakeLLM{name: providers.NameGemini, text: "ok"},
	}}
	d := New(q, limiter, chains, Concurrency{LLM: 1})

	ctx := context.Background()
	q.Enqueue(ctx, "llm", mustJSON(LLMPayload{UserPrompt: "hi"}), queue.EnqueueOptions{Priority: queue.PriorityNormal})
	active, _ := q.Dequeue(ctx, "llm", "test-worker", 0)

	if _, err := d.processLLM(ctx, active); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	status := limiter.Status(ctx, "groq", "llm")
	if status.MinuteCount != 0 {
		t.Fatalf("expected groq's counter to stay at 0 after failing, got %d", status.MinuteCount)
	}
	status = limiter.Status(ctx, "gemini", "llm")
	if status.MinuteCount != 1 {
		t.Fatalf("expected gemini's counter to be incremented to 1, got %d", status.MinuteCount)
	}
}

func TestProcessLLM_AllProvidersExhaustedReturnsError(t *testing.T) {
	q, limiter := newTestEnv(t)
	chains := Chains{LLM: []providers.LLMProvider{
		&fakeLLM{name: providers.NameGroq, err: errors.New("down")},
		&fakeLLM{name: providers.NameGemini, err: errors.New("also down")},
	}}
	d := New(q, limiter, chains, Concurrency{LLM: 1})

	ctx := context.Background()
	q.Enqueue(ctx, "llm", mustJSON(LLMPayload{UserPrompt: "hi"}), queue.EnqueueOptions{Priority: queue.PriorityNormal})
	active, _ := q.Dequeue(ctx, "llm", "test-worker", 0)

	_, err := d.processLLM(ctx, active)
	if err == nil {
		t.Fatal("expected error when every provider in the chain fails")
	}
	if !strings.Contains(err.Error(), "also down") {
		t.Fatalf("expected error to name the last provider's failure, got %q", err.Error())
	}
}

func TestProcessLLM_AllProvidersRateLimitedNamesLargestRetryAfter(t *testing.T) {
	q, limiter := newTestEnv(t)
	chains := Chains{LLM: []providers.LLMProvider{
		&fakeLLM{name: providers.NameGroq},
		&fakeLLM{name: providers.NameGemini},
	}}
	d := New(q, limiter, chains, Concurrency{LLM: 1})

	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		limiter.Increment(ctx, "groq", "llm")
		limiter.Increment(ctx, "gemini", "llm")
	}

	q.Enqueue(ctx, "llm", mustJSON(LLMPayload{UserPrompt: "hi"}), queue.EnqueueOptions{Priority: queue.PriorityNormal})
	active, _ := q.Dequeue(ctx, "llm", "test-worker", 0)

	result, err := d.processLLM(ctx, active)
	if err == nil {
		t.Fatal("expected error when every provider is rate limited")
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected rate-limited error, got %q", err.Error())
	}
	for _, a := range result.ProviderAttempts {
		if a.Outcome != "rate_limited" {
			t.Fatalf("expected all attempts rate_limited, got %q for %s", a.Outcome, a.Provider)
		}
	}
}

// TestWorkerLoop_RetriesWithBackoffBeforeExhaustingAttempts exercises the
// full Dispatcher.Run loop (not just processLLM in isolation) so the
// job-level retry-with-backoff path in workerLoop actually runs: every
// attempt fails, so the job should be requeued once (backoff=1s) and then
// fail terminally once MaxAttempts is reached.
func TestWorkerLoop_RetriesWithBackoffBeforeExhaustingAttempts(t *testing.T) {
	q, limiter := newTestEnv(t)
	chains := Chains{LLM: []providers.LLMProvider{
		&fakeLLM{name: providers.NameGroq, err: errors.New("still down")},
	}}
	d := New(q, limiter, chains, Concurrency{LLM: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	enqueued, err := q.Enqueue(ctx, "llm", mustJSON(LLMPayload{UserPrompt: "hi"}), queue.EnqueueOptions{
		Attempts:       2,
		BackoffSeconds: 1,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	awaitCtx, awaitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer awaitCancel()
	job, err := q.Await(awaitCtx, enqueued.ID)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if job.Status != queue.StatusFailed {
		t.Fatalf("expected job to terminally fail, got status %s", job.Status)
	}
	if job.Attempts != 2 {
		t.Fatalf("expected job to be dequeued exactly MaxAttempts=2 times, got %d", job.Attempts)
	}
}

// TestWorkerLoop_HardTimeoutFailsJobRegardlessOfAttemptsRemaining exercises
// §5's per-kind hard timeout: a provider that never returns should fail the
// job terminally even though attempts remain, rather than retrying.
func TestWorkerLoop_HardTimeoutFailsJobRegardlessOfAttemptsRemaining(t *testing.T) {
	q, limiter := newTestEnv(t)
	chains := Chains{LLM: []providers.LLMProvider{&blockingLLM{}}}
	d := New(q, limiter, chains, Concurrency{LLM: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	enqueued, err := q.Enqueue(ctx, "llm", mustJSON(LLMPayload{UserPrompt: "hi"}), queue.EnqueueOptions{
		Attempts:  5,
		TimeoutMs: 50,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	awaitCtx, awaitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer awaitCancel()
	job, err := q.Await(awaitCtx, enqueued.ID)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if job.Status != queue.StatusFailed {
		t.Fatalf("expected job to terminally fail on timeout, got status %s", job.Status)
	}
	if !strings.Contains(job.Error, "timeout") {
		t.Fatalf("expected timeout to be named in the failure, got %q", job.Error)
	}
	if job.Attempts != 1 {
		t.Fatalf("expected timeout to fail on the first attempt despite attempts remaining, got %d attempts", job.Attempts)
	}
}

// blockingLLM blocks until ctx is cancelled, simulating a provider that
// never returns within the job's hard timeout.
type blockingLLM struct{}

func (blockingLLM) Name() providers.Name { return providers.NameGroq }
func (blockingLLM) Complete(ctx context.Context, systemPrompt, userPrompt string, params providers.CompletionParams) (string, string, error) {
	<-ctx.Done()
	return "", "", ctx.Err()
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
