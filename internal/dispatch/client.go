package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"meego/internal/queue"
)

// RunLLM enqueues an "llm" job and blocks until the worker pool completes
// it, decoding the result. Shared by internal/summary and internal/chat so
// neither re-implements the enqueue-then-await round trip.
func RunLLM(ctx context.Context, q *queue.Queue, payload LLMPayload, priority queue.Priority) (Result, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("dispatch: marshal llm payload: %w", err)
	}
	return runAndAwait(ctx, q, "llm", raw, priority)
}

// RunVision enqueues a job on the given kind ("image" or "ocr") and blocks
// until it completes, decoding the result. Shared by internal/ingest for
// image description and OCR extraction, which use the same payload shape
// with different queue kinds and prompts.
func RunVision(ctx context.Context, q *queue.Queue, kind string, payload VisionPayload, priority queue.Priority) (Result, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("dispatch: marshal vision payload: %w", err)
	}
	return runAndAwait(ctx, q, kind, raw, priority)
}

// RunAudio enqueues an "audio" job and blocks until it completes, decoding
// the result. Used by internal/ingest for voice-message transcription.
func RunAudio(ctx context.Context, q *queue.Queue, payload AudioPayload, priority queue.Priority) (Result, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("dispatch: marshal audio payload: %w", err)
	}
	return runAndAwait(ctx, q, "audio", raw, priority)
}

func runAndAwait(ctx context.Context, q *queue.Queue, kind string, raw json.RawMessage, priority queue.Priority) (Result, error) {
	job, err := q.Enqueue(ctx, kind, raw, queue.EnqueueOptions{Priority: priority})
	if err != nil {
		return Result{}, fmt.Errorf("dispatch: enqueue %s job: %w", kind, err)
	}

	finished, err := q.Await(ctx, job.ID)
	if err != nil {
		return Result{}, fmt.Errorf("dispatch: await %s job %s: %w", kind, job.ID, err)
	}
	if finished.Status == queue.StatusFailed {
		return Result{}, fmt.Errorf("dispatch: %s job %s failed: %s", kind, job.ID, finished.Error)
	}

	var result Result
	if err := json.Unmarshal(finished.Result, &result); err != nil {
		return Result{}, fmt.Errorf("dispatch: decode %s result: %w", kind, err)
	}
	return result, nil
}
