// Package providers adapts external AI services (LLM completion, image
// description/OCR, audio transcription) to the single-shot call surface
// the gateway's dispatcher needs, one file per provider. Every chain
// (LLM, image/OCR, audio) is a fixed, ordered list of these adapters tried
// in turn by internal/dispatch.
//
// Grounded on the teacher's per-provider client shape
// (internal/llm/openai/client.go, internal/llm/google/client.go,
// internal/llm/anthropic/client.go: typed Config + New(cfg, httpClient)
// constructors), narrowed from multi-turn tool-calling clients down to the
// single-shot calls this gateway actually issues.
package providers

import (
	"context"
	"errors"
)

// Name identifies a provider for logging, rate limiting, and the
// provider-attempt trail.
type Name string

const (
	NameGroq       Name = "groq"
	NameGemini     Name = "gemini"
	NameAnthropic  Name = "anthropic"
	NameDeepgram   Name = "deepgram"
	NameAssemblyAI Name = "assemblyai"
)

// ErrUnavailable indicates a provider has no credentials configured and
// must be skipped in its chain without counting as a failed attempt.
var ErrUnavailable = errors.New("providers: not configured")

// CompletionParams tunes a single LLM call. Zero values let each provider
// fall back to its own default.
type CompletionParams struct {
	MaxTokens   int
	Temperature float64
}

// LLMProvider answers a single-shot text completion request. It returns the
// model identifier that served the request alongside the text, per §4.C's
// {answer, provider, model} shape.
type LLMProvider interface {
	Name() Name
	Complete(ctx context.Context, systemPrompt, userPrompt string, params CompletionParams) (text string, model string, err error)
}

// VisionProvider answers a single-shot image description or OCR request
// over an inline image payload. params carries the caller's temperature
// preference: ingest.go passes a near-zero temperature for OCR's
// extract-only prompt and leaves it at zero (the provider's default) for
// free-form description, both going through the same adapter (§4.C).
type VisionProvider interface {
	Name() Name
	Describe(ctx context.Context, prompt string, mimeType string, imageData []byte, params CompletionParams) (text string, model string, err error)
}

// AudioProvider transcribes a single audio clip.
type AudioProvider interface {
	Name() Name
	Transcribe(ctx context.Context, mimeType string, audioData []byte) (text string, model string, err error)
}
