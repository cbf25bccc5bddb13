// Command worker drains the job queue through the dispatcher's per-kind
// provider fallback chains (§4.D), until SIGINT/SIGTERM. Exit codes: 1 on
// initialisation failure, 0 on graceful shutdown (§6).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"meego/internal/config"
	"meego/internal/dispatch"
	"meego/internal/observability"
	"meego/internal/providers"
	"meego/internal/queue"
	"meego/internal/ratelimit"
)

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("worker_init_failed")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Obs.OTLP != "" {
		shutdown, err := observability.InitOTel(ctx, cfg.Obs)
		if err != nil {
			return fmt.Errorf("init otel: %w", err)
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer redisClient.Close()

	q := queue.New(redisClient, time.Duration(cfg.Queue.ResultTTLSeconds)*time.Second, time.Duration(cfg.Queue.StallTimeoutSecs)*time.Second)
	limiter := ratelimit.New(redisClient, ratelimit.DefaultPolicies())

	chains, err := buildChains(cfg)
	if err != nil {
		return fmt.Errorf("build provider chains: %w", err)
	}

	d := dispatch.New(q, limiter, chains, dispatch.Concurrency{
		Audio: cfg.Queue.ConcurrencyAudio,
		Image: cfg.Queue.ConcurrencyImage,
		OCR:   cfg.Queue.ConcurrencyOCR,
		LLM:   cfg.Queue.ConcurrencyLLM,
	})

	log.Info().Msg("worker started")
	err = d.Run(ctx)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("dispatcher run: %w", err)
	}
	log.Info().Msg("worker stopped")
	return nil
}

// buildChains constructs the fixed fallback order for each queue kind,
// Groq first with Gemini/Anthropic/Deepgram/AssemblyAI as fallbacks,
// skipping any provider whose credentials are not configured.
func buildChains(cfg config.Config) (dispatch.Chains, error) {
	httpClient := observability.NewHTTPClient(&http.Client{Timeout: 60 * time.Second})

	var chains dispatch.Chains

	groq, err := providers.NewGroq(cfg.Groq, httpClient)
	if err == nil {
		chains.LLM = append(chains.LLM, groq)
		chains.Image = append(chains.Image, groq)
		chains.OCR = append(chains.OCR, groq)
	} else if err != providers.ErrUnavailable {
		return dispatch.Chains{}, err
	}

	gemini, err := providers.NewGemini(cfg.Gemini, httpClient)
	if err == nil {
		chains.LLM = append(chains.LLM, gemini)
		chains.Image = append(chains.Image, gemini)
		chains.OCR = append(chains.OCR, gemini)
	} else if err != providers.ErrUnavailable {
		return dispatch.Chains{}, err
	}

	anthropic, err := providers.NewAnthropic(cfg.Anthropic, httpClient)
	if err == nil {
		chains.LLM = append(chains.LLM, anthropic)
	} else if err != providers.ErrUnavailable {
		return dispatch.Chains{}, err
	}

	groqAudio, err := providers.NewGroqAudio(cfg.Groq, httpClient)
	if err == nil {
		chains.Audio = append(chains.Audio, groqAudio)
	} else if err != providers.ErrUnavailable {
		return dispatch.Chains{}, err
	}

	deepgram, err := providers.NewDeepgram(cfg.Deepgram, httpClient)
	if err == nil {
		chains.Audio = append(chains.Audio, deepgram)
	} else if err != providers.ErrUnavailable {
		return dispatch.Chains{}, err
	}

	assemblyai, err := providers.NewAssemblyAI(cfg.AssemblyAI, httpClient)
	if err == nil {
		chains.Audio = append(chains.Audio, assemblyai)
	} else if err != providers.ErrUnavailable {
		return dispatch.Chains{}, err
	}

	return chains, nil
}
