// Command server exposes the gateway's HTTP API (§6): ingestion, search,
// chat/reply, and operational status routes. Exit codes: 1 on
// initialisation failure, 0 on graceful shutdown (SIGTERM/SIGINT).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"meego/internal/aggregates"
	"meego/internal/assembler"
	"meego/internal/chat"
	"meego/internal/config"
	"meego/internal/embedding"
	"meego/internal/history"
	"meego/internal/httpapi"
	"meego/internal/ingest"
	"meego/internal/mediafetch"
	"meego/internal/messages"
	"meego/internal/observability"
	"meego/internal/queue"
	"meego/internal/ratelimit"
	"meego/internal/summary"
	"meego/internal/vectorstore"
)

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("server_init_failed")
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

	authoritative, shadow, err := openVectorStores(cfg)
	if err != nil {
		return fmt.Errorf("open vector stores: %w", err)
	}
	defer authoritative.Close()
	if shadow != nil {
		defer shadow.Close()
	}
	gateway := vectorstore.NewGateway(authoritative, shadow)
	if err := gateway.BootstrapAll(ctx); err != nil {
		return fmt.Errorf("bootstrap collections: %w", err)
	}

	embedCfg := embedding.FromAppConfig(cfg)
	embedClient := embedding.New(embedCfg, observability.NewHTTPClient(&http.Client{Timeout: 30 * time.Second}))
	if err := embedClient.CheckReachability(ctx); err != nil {
		log.Warn().Err(err).Msg("embedding_endpoint_unreachable_at_startup")
	}

	mediaClient := mediafetch.New(cfg.Sender, observability.NewHTTPClient(&http.Client{Timeout: 30 * time.Second}))

	aggregateStore := aggregates.New(gateway)
	historyStore := history.New(gateway)
	messageStore := messages.New(gateway)
	summaryAgg := summary.New(aggregateStore, q)
	ingestPipeline := ingest.New(mediaClient, embedClient, q, messageStore, summaryAgg)
	contextAssembler := assembler.New(aggregateStore, historyStore, messageStore)
	chatOrch := chat.New(contextAssembler, historyStore, q)

	server := httpapi.NewServer(httpapi.Deps{
		Config:         cfg,
		Ingest:         ingestPipeline,
		Chat:           chatOrch,
		History:        historyStore,
		Aggregates:     aggregateStore,
		Messages:       messageStore,
		Embedding:      embedClient,
		Media:          mediaClient,
		Queue:          q,
		Limiter:        limiter,
		Authoritative:  authoritative,
		Shadow:         shadow,
		EmbeddingModel: embedCfg.Model,
	})

	addr := ":" + strconv.Itoa(cfg.Port)
	httpServer := &http.Server{Addr: addr, Handler: server}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("server_listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("listen and serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server_stopped")
	return nil
}

// openVectorStores wires the authoritative Qdrant backend and its local
// SQLite shadow mirror behind §4.E's gateway. The shadow store is
// optional: if DB_PATH can't be opened, the gateway falls back to a
// passthrough over the authoritative store alone.
func openVectorStores(cfg config.Config) (vectorstore.Store, vectorstore.Store, error) {
	authoritative, err := vectorstore.NewQdrantStore(cfg.Vector.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect qdrant: %w", err)
	}

	shadow, err := vectorstore.NewSQLiteStore(cfg.Shadow.DBPath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.Shadow.DBPath).Msg("shadow_store_unavailable")
		return authoritative, nil, nil
	}
	return authoritative, shadow, nil
}
