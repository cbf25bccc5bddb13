package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, policies map[string]Policy) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client, policies), mr
}

func TestCheck_AllowsUntilMinuteLimitReached(t *testing.T) {
	l, _ := newTestLimiter(t, map[string]Policy{"groq:llm": {PerMinute: 2, PerDay: 100}})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := l.Check(ctx, "groq", "llm")
		if err != nil || !d.Allowed {
			t.Fatalf("expected allowed request %d, got %+v err=%v", i, d, err)
		}
		l.Increment(ctx, "groq", "llm")
	}

	d, err := l.Check(ctx, "groq", "llm")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected request to be denied after minute limit reached")
	}
	if d.RetryAfterSeconds <= 0 {
		t.Fatalf("expected positive retry-after, got %d", d.RetryAfterSeconds)
	}
}

func TestCheck_FailsOpenWhenStoreUnreachable(t *testing.T) {
	l, mr := newTestLimiter(t, map[string]Policy{"groq:llm": {PerMinute: 1}})
	mr.Close()

	d, err := l.Check(context.Background(), "groq", "llm")
	if err != nil {
		t.Fatalf("fail-open check must not return an error, got %v", err)
	}
	if !d.Allowed {
		t.Fatal("expected fail-open to allow the request when the store is unreachable")
	}
}

func TestCheck_CreditLimitBlocksOverspend(t *testing.T) {
	l, _ := newTestLimiter(t, map[string]Policy{
		"anthropic:llm": {CreditLimit: 0.10, EstimatedCostPerRequest: 0.05},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := l.Check(ctx, "anthropic", "llm")
		if err != nil || !d.Allowed {
			t.Fatalf("expected allowed request %d, got %+v err=%v", i, d, err)
		}
		l.Increment(ctx, "anthropic", "llm")
	}

	d, err := l.Check(ctx, "anthropic", "llm")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected request to be denied once credit limit would be exceeded")
	}
}

func TestReset_ClearsCounters(t *testing.T) {
	l, _ := newTestLimiter(t, map[string]Policy{"groq:llm": {PerMinute: 1}})
	ctx := context.Background()

	l.Increment(ctx, "groq", "llm")
	if d, _ := l.Check(ctx, "groq", "llm"); d.Allowed {
		t.Fatal("expected request to be denied before reset")
	}

	if err := l.Reset(ctx, "groq", "llm"); err != nil {
		t.Fatalf("unexpected error resetting: %v", err)
	}
	d, err := l.Check(ctx, "groq", "llm")
	if err != nil || !d.Allowed {
		t.Fatalf("expected allowed request after reset, got %+v err=%v", d, err)
	}
}
