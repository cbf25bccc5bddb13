// Package dispatch drains the job queue through per-kind worker pools,
// running each job through its ordered provider fallback chain gated by
// the rate limiter, and recording the full provider-attempt trail on the
// job before marking it complete or failed.
//
// Grounded on internal/orchestrator/kafka.go's worker-pool (buffered jobs
// channel + per-job retry/backoff), translated from a Kafka reader loop to
// a Redis dequeue loop, and on internal/agent/warpp.go's
// errgroup.WithContext(ctx) fan-out shape for running the four fixed-size
// worker pools under one cancellable context shared by every queue kind.
package dispatch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rs/zerolog/log"

	"meego/internal/observability"
	"meego/internal/providers"
	"meego/internal/queue"
	"meego/internal/ratelimit"
)

// backoffBase is the exponential-backoff starting point between provider
// chain hops within a single job attempt, rescaled from the teacher's
// 200ms*2^n shape to the spec's 2s base.
const backoffBase = 2 * time.Second

// LLMPayload is the job payload for the "llm" queue kind.
type LLMPayload struct {
	SystemPrompt string  `json:"system_prompt"`
	UserPrompt   string  `json:"user_prompt"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
}

// VisionPayload is the job payload for the "image" and "ocr" queue kinds.
// Temperature lets OCR pin a near-zero value for its strict extract-only
// prompt (§4.C) while image description leaves it at zero for the
// provider's own default.
type VisionPayload struct {
	Prompt      string  `json:"prompt"`
	MimeType    string  `json:"mime_type"`
	ImageBase64 string  `json:"image_base64"`
	Temperature float64 `json:"temperature,omitempty"`
}

// AudioPayload is the job payload for the "audio" queue kind.
type AudioPayload struct {
	MimeType    string `json:"mime_type"`
	AudioBase64 string `json:"audio_base64"`
}

// Result is the job result payload written back for every kind.
type Result struct {
	Text             string                  `json:"text"`
	Provider         providers.Name          `json:"provider"`
	Model            string                  `json:"model"`
	ProviderAttempts []queue.ProviderAttempt `json:"provider_attempts"`
}

// Chains holds the ordered provider fallback chain for each queue kind.
type Chains struct {
	LLM   []providers.LLMProvider
	Image []providers.VisionProvider
	OCR   []providers.VisionProvider
	Audio []providers.AudioProvider
}

// Concurrency holds the per-kind worker pool sizes.
type Concurrency struct {
	Audio int
	Image int
	OCR   int
	LLM   int
}

// Dispatcher drains all four queue kinds through their worker pools.
type Dispatcher struct {
	queue       *queue.Queue
	limiter     *ratelimit.Limiter
	chains      Chains
	concurrency Concurrency
}

// New constructs a Dispatcher.
func New(q *queue.Queue, limiter *ratelimit.Limiter, chains Chains, concurrency Concurrency) *Dispatcher {
	return &Dispatcher{queue: q, limiter: limiter, chains: chains, concurrency: concurrency}
}

// Run starts all four kinds' worker pools and blocks until ctx is
// cancelled or a worker returns a fatal (non-job) error.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	d.spawnPool(g, ctx, "audio", d.concurrency.Audio, d.processAudio)
	d.spawnPool(g, ctx, "image", d.concurrency.Image, d.processVision(d.chains.Image))
	d.spawnPool(g, ctx, "ocr", d.concurrency.OCR, d.processVision(d.chains.OCR))
	d.spawnPool(g, ctx, "llm", d.concurrency.LLM, d.processLLM)

	return g.Wait()
}

type jobProcessor func(ctx context.Context, job *queue.Job) (Result, error)

func (d *Dispatcher) spawnPool(g *errgroup.Group, ctx context.Context, kind string, workers int, process jobProcessor) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		workerID := fmt.Sprintf("%s-%d", kind, i)
		g.Go(func() error {
			return d.workerLoop(ctx, kind, workerID, process)
		})
	}
}

func (d *Dispatcher) workerLoop(ctx context.Context, kind, workerID string, process jobProcessor) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		job, err := d.queue.Dequeue(ctx, kind, workerID, 0)
		if err != nil {
			log.Error().Err(err).Str("kind", kind).Str("worker_id", workerID).Msg("dispatch_dequeue_error")
			continue
		}
		if job == nil {
			// ctx cancelled while waiting.
			return nil
		}
		log.Debug().Str("job_id", job.ID).Str("kind", kind).
			RawJSON("payload", observability.RedactJSON(job.Payload)).
			Msg("dispatch_job_dequeued")

		timeout := time.Duration(job.TimeoutMs) * time.Millisecond
		if timeout <= 0 {
			timeout = 90 * time.Second
		}
		jobCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err := process(jobCtx, job)
		timedOut := jobCtx.Err() == context.DeadlineExceeded
		cancel()

		if err != nil {
			job.ProviderAttempts = result.ProviderAttempts

			// A hard per-kind timeout (§5) fails the job terminally
			// regardless of attempts remaining.
			if timedOut {
				terr := fmt.Errorf("dispatch: %s job %s exceeded %s timeout: %w", kind, job.ID, timeout, err)
				if ferr := d.queue.Fail(ctx, job, terr); ferr != nil {
					log.Error().Err(ferr).Str("job_id", job.ID).Msg("dispatch_fail_write_error")
				}
				continue
			}

			if job.Attempts < job.MaxAttempts {
				delay := jobRetryBackoff(job.Attempts, job.BackoffSeconds)
				log.Warn().Err(err).Str("job_id", job.ID).Str("kind", kind).
					Int("attempt", job.Attempts).Int("max_attempts", job.MaxAttempts).
					Dur("backoff", delay).
					RawJSON("payload", observability.RedactJSON(job.Payload)).
					Msg("dispatch_job_retry_scheduled")
				sleep(ctx, delay)
				if rerr := d.queue.Requeue(ctx, job); rerr != nil {
					log.Error().Err(rerr).Str("job_id", job.ID).Msg("dispatch_requeue_write_error")
				}
				continue
			}

			if ferr := d.queue.Fail(ctx, job, err); ferr != nil {
				log.Error().Err(ferr).Str("job_id", job.ID).Msg("dispatch_fail_write_error")
			}
			continue
		}

		job.ProviderAttempts = result.ProviderAttempts
		payload, err := json.Marshal(result)
		if err != nil {
			log.Error().Err(err).Str("job_id", job.ID).Msg("dispatch_marshal_result_error")
			continue
		}
		if cerr := d.queue.Complete(ctx, job, payload); cerr != nil {
			log.Error().Err(cerr).Str("job_id", job.ID).Msg("dispatch_complete_write_error")
		}
	}
}

// jobRetryBackoff computes the exponential backoff delay before a job-level
// retry, per §4.B: "exponential backoff starting at 2s". attempt is the
// number of times the job has already been dequeued (job.Attempts).
func jobRetryBackoff(attempt, baseSeconds int) time.Duration {
	if baseSeconds <= 0 {
		baseSeconds = 2
	}
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 6 {
		shift = 6
	}
	return time.Duration(baseSeconds) * time.Second * time.Duration(1<<uint(shift))
}

func (d *Dispatcher) processLLM(ctx context.Context, job *queue.Job) (Result, error) {
	var payload LLMPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return Result{}, fmt.Errorf("dispatch: decode llm payload: %w", err)
	}

	var attempts []queue.ProviderAttempt
	for i, p := range d.chains.LLM {
		if i > 0 {
			sleep(ctx, backoffBase*time.Duration(1<<uint(i-1)))
		}
		allowed, retryAfter := d.checkLimit(ctx, p.Name(), "llm")
		if !allowed {
			attempts = append(attempts, queue.ProviderAttempt{Provider: string(p.Name()), Outcome: "rate_limited", RetryAfterSeconds: retryAfter})
			continue
		}
		text, model, err := p.Complete(ctx, payload.SystemPrompt, payload.UserPrompt, providers.CompletionParams{
			MaxTokens:   payload.MaxTokens,
			Temperature: payload.Temperature,
		})
		if err != nil {
			attempts = append(attempts, queue.ProviderAttempt{Provider: string(p.Name()), Outcome: "error", Err: err.Error()})
			continue
		}
		d.limiter.Increment(ctx, string(p.Name()), "llm")
		attempts = append(attempts, queue.ProviderAttempt{Provider: string(p.Name()), Outcome: "success"})
		return Result{Text: text, Provider: p.Name(), Model: model, ProviderAttempts: attempts}, nil
	}
	return Result{ProviderAttempts: attempts}, chainExhaustedError("llm", attempts)
}

func (d *Dispatcher) processVision(chain []providers.VisionProvider) jobProcessor {
	return func(ctx context.Context, job *queue.Job) (Result, error) {
		var payload VisionPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return Result{}, fmt.Errorf("dispatch: decode vision payload: %w", err)
		}
		imageData, err := base64.StdEncoding.DecodeString(payload.ImageBase64)
		if err != nil {
			return Result{}, fmt.Errorf("dispatch: decode image data: %w", err)
		}

		var attempts []queue.ProviderAttempt
		for i, p := range chain {
			if i > 0 {
				sleep(ctx, backoffBase*time.Duration(1<<uint(i-1)))
			}
			allowed, retryAfter := d.checkLimit(ctx, p.Name(), job.Kind)
			if !allowed {
				attempts = append(attempts, queue.ProviderAttempt{Provider: string(p.Name()), Outcome: "rate_limited", RetryAfterSeconds: retryAfter})
				continue
			}
			text, model, err := p.Describe(ctx, payload.Prompt, payload.MimeType, imageData, providers.CompletionParams{
				Temperature: payload.Temperature,
			})
			if err != nil {
				attempts = append(attempts, queue.ProviderAttempt{Provider: string(p.Name()), Outcome: "error", Err: err.Error()})
				continue
			}
			d.limiter.Increment(ctx, string(p.Name()), job.Kind)
			attempts = append(attempts, queue.ProviderAttempt{Provider: string(p.Name()), Outcome: "success"})
			return Result{Text: text, Provider: p.Name(), Model: model, ProviderAttempts: attempts}, nil
		}
		return Result{ProviderAttempts: attempts}, chainExhaustedError(job.Kind, attempts)
	}
}

func (d *Dispatcher) processAudio(ctx context.Context, job *queue.Job) (Result, error) {
	var payload AudioPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return Result{}, fmt.Errorf("dispatch: decode audio payload: %w", err)
	}
	audioData, err := base64.StdEncoding.DecodeString(payload.AudioBase64)
	if err != nil {
		return Result{}, fmt.Errorf("dispatch: decode audio data: %w", err)
	}

	var attempts []queue.ProviderAttempt
	for i, p := range d.chains.Audio {
		if i > 0 {
			sleep(ctx, backoffBase*time.Duration(1<<uint(i-1)))
		}
		allowed, retryAfter := d.checkLimit(ctx, p.Name(), "audio")
		if !allowed {
			attempts = append(attempts, queue.ProviderAttempt{Provider: string(p.Name()), Outcome: "rate_limited", RetryAfterSeconds: retryAfter})
			continue
		}
		text, model, err := p.Transcribe(ctx, payload.MimeType, audioData)
		if err != nil {
			attempts = append(attempts, queue.ProviderAttempt{Provider: string(p.Name()), Outcome: "error", Err: err.Error()})
			continue
		}
		d.limiter.Increment(ctx, string(p.Name()), "audio")
		attempts = append(attempts, queue.ProviderAttempt{Provider: string(p.Name()), Outcome: "success"})
		return Result{Text: text, Provider: p.Name(), Model: model, ProviderAttempts: attempts}, nil
	}
	return Result{ProviderAttempts: attempts}, chainExhaustedError("audio", attempts)
}

// chainExhaustedError names the failure the way §4.D requires: "an error
// naming the last provider's failure or, if all were limiter-denied, the
// largest retryAfter."
func chainExhaustedError(kind string, attempts []queue.ProviderAttempt) error {
	if len(attempts) == 0 {
		return fmt.Errorf("dispatch: %s chain exhausted: no providers configured", kind)
	}

	allLimited := true
	maxRetry := attempts[0]
	for _, a := range attempts {
		if a.Outcome != "rate_limited" {
			allLimited = false
		}
		if a.RetryAfterSeconds > maxRetry.RetryAfterSeconds {
			maxRetry = a
		}
	}
	if allLimited {
		return fmt.Errorf("dispatch: %s chain exhausted: all providers rate limited, retry after %ds (%s)", kind, maxRetry.RetryAfterSeconds, maxRetry.Provider)
	}

	last := attempts[len(attempts)-1]
	if last.Outcome == "error" {
		return fmt.Errorf("dispatch: %s chain exhausted: %s failed: %s", kind, last.Provider, last.Err)
	}
	return fmt.Errorf("dispatch: %s chain exhausted: %s failed", kind, last.Provider)
}

func (d *Dispatcher) checkLimit(ctx context.Context, provider providers.Name, service string) (bool, int) {
	decision, err := d.limiter.Check(ctx, string(provider), service)
	if err != nil {
		return true, 0
	}
	return decision.Allowed, decision.RetryAfterSeconds
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
