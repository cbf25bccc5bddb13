// Package ratelimit implements per-(provider,service) minute/day counters
// plus paid-provider credit accounting, backed by the shared Redis cache
// store under the "ratelimit:" key prefix.
//
// Grounded on internal/skills/redis_cache.go's Redis client construction
// and internal/orchestrator/dedupe.go's atomic get/set-with-TTL idiom over
// github.com/redis/go-redis/v9.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	minuteTTL = 60 * time.Second
	dayTTL    = 24 * time.Hour
	creditTTL = 30 * 24 * time.Hour
)

// Policy declares the static limits for one (provider, service) pair.
type Policy struct {
	PerMinute              int
	PerDay                 int
	CreditLimit            float64 // 0 means unlimited
	EstimatedCostPerRequest float64
}

// Status reports the current counters for a (provider, service) pair.
type Status struct {
	Provider     string
	Service      string
	MinuteCount  int
	DayCount     int
	Credits      float64
	Policy       Policy
}

// Decision is the result of a check call.
type Decision struct {
	Allowed           bool
	RetryAfterSeconds int
}

// Limiter is a Redis-backed rate limiter. It fails open: if the counter
// store is unreachable, check allows the request and logs a warning,
// because the limiter protects the provider's quota, not correctness.
type Limiter struct {
	client   *redis.Client
	policies map[string]Policy
}

// New constructs a Limiter backed by the given Redis client and static
// policy table, keyed by "provider:service".
func New(client *redis.Client, policies map[string]Policy) *Limiter {
	return &Limiter{client: client, policies: policies}
}

func policyKey(provider, service string) string {
	return provider + ":" + service
}

func minuteKey(provider, service string) string {
	return fmt.Sprintf("ratelimit:%s:%s:minute", provider, service)
}

func dayKey(provider, service string) string {
	return fmt.Sprintf("ratelimit:%s:%s:day", provider, service)
}

func creditsKey(provider, service string) string {
	return fmt.Sprintf("ratelimit:%s:%s:credits", provider, service)
}

func (l *Limiter) policyFor(provider, service string) Policy {
	return l.policies[policyKey(provider, service)]
}

// Check reports whether a request to (provider, service) is currently
// allowed, without consuming quota. On a counter-store failure it fails
// open: allowed=true, logged.
func (l *Limiter) Check(ctx context.Context, provider, service string) (Decision, error) {
	policy := l.policyFor(provider, service)

	minuteCount, minuteTTLLeft, err := l.readCounter(ctx, minuteKey(provider, service))
	if err != nil {
		log.Warn().Err(err).Str("provider", provider).Str("service", service).Msg("ratelimit_check_fail_open")
		return Decision{Allowed: true}, nil
	}
	dayCount, dayTTLLeft, err := l.readCounter(ctx, dayKey(provider, service))
	if err != nil {
		log.Warn().Err(err).Str("provider", provider).Str("service", service).Msg("ratelimit_check_fail_open")
		return Decision{Allowed: true}, nil
	}

	if policy.PerMinute > 0 && minuteCount >= policy.PerMinute {
		return Decision{Allowed: false, RetryAfterSeconds: ceilSeconds(minuteTTLLeft)}, nil
	}
	if policy.PerDay > 0 && dayCount >= policy.PerDay {
		return Decision{Allowed: false, RetryAfterSeconds: ceilSeconds(dayTTLLeft)}, nil
	}

	if policy.CreditLimit > 0 {
		credits, err := l.client.Get(ctx, creditsKey(provider, service)).Float64()
		if err != nil && err != redis.Nil {
			log.Warn().Err(err).Str("provider", provider).Str("service", service).Msg("ratelimit_check_fail_open")
			return Decision{Allowed: true}, nil
		}
		if credits+policy.EstimatedCostPerRequest > policy.CreditLimit {
			ttl, _ := l.client.TTL(ctx, creditsKey(provider, service)).Result()
			return Decision{Allowed: false, RetryAfterSeconds: ceilSeconds(ttl)}, nil
		}
	}

	return Decision{Allowed: true}, nil
}

// Increment atomically bumps the minute and day counters (and the credit
// accumulator, for paid providers) after a successful call. A Redis
// failure is logged and swallowed: under-counting during an outage only
// makes the limiter more permissive, consistent with fail-open.
func (l *Limiter) Increment(ctx context.Context, provider, service string) {
	policy := l.policyFor(provider, service)

	if err := l.bumpWithTTL(ctx, minuteKey(provider, service), minuteTTL); err != nil {
		log.Warn().Err(err).Str("provider", provider).Str("service", service).Msg("ratelimit_increment_error")
	}
	if err := l.bumpWithTTL(ctx, dayKey(provider, service), dayTTL); err != nil {
		log.Warn().Err(err).Str("provider", provider).Str("service", service).Msg("ratelimit_increment_error")
	}
	if policy.CreditLimit > 0 && policy.EstimatedCostPerRequest > 0 {
		key := creditsKey(provider, service)
		pipe := l.client.TxPipeline()
		incr := pipe.IncrByFloat(ctx, key, policy.EstimatedCostPerRequest)
		pipe.Expire(ctx, key, creditTTL, "NX")
		if _, err := pipe.Exec(ctx); err != nil {
			log.Warn().Err(err).Str("provider", provider).Str("service", service).Msg("ratelimit_increment_credits_error")
		} else if incr.Val() == policy.EstimatedCostPerRequest {
			// first write this window; arm TTL explicitly in case NX expire was a no-op
			l.client.Expire(ctx, key, creditTTL)
		}
	}
}

// Status returns the raw counters for observability (GET /api/v1/rate-limits).
func (l *Limiter) Status(ctx context.Context, provider, service string) Status {
	minuteCount, _, _ := l.readCounter(ctx, minuteKey(provider, service))
	dayCount, _, _ := l.readCounter(ctx, dayKey(provider, service))
	credits, _ := l.client.Get(ctx, creditsKey(provider, service)).Float64()
	return Status{
		Provider:    provider,
		Service:     service,
		MinuteCount: minuteCount,
		DayCount:    dayCount,
		Credits:     credits,
		Policy:      l.policyFor(provider, service),
	}
}

// Reset clears all counters for a (provider, service) pair.
func (l *Limiter) Reset(ctx context.Context, provider, service string) error {
	return l.client.Del(ctx, minuteKey(provider, service), dayKey(provider, service), creditsKey(provider, service)).Err()
}

func (l *Limiter) readCounter(ctx context.Context, key string) (count int, ttl time.Duration, err error) {
	pipe := l.client.TxPipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, 0, err
	}
	count, err = getCmd.Int()
	if err == redis.Nil {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	ttl, _ = ttlCmd.Result()
	return count, ttl, nil
}

func (l *Limiter) bumpWithTTL(ctx context.Context, key string, window time.Duration) error {
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return err
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, window).Err(); err != nil {
			return err
		}
	}
	return nil
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
