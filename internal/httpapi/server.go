// Package httpapi exposes the gateway's HTTP surface (§6): health and raw
// media-extraction endpoints, the ingestion and search endpoints, the two
// chat endpoints, and a handful of operational status routes.
//
// Grounded on the teacher's http.ServeMux method-pattern routing and its
// respondJSON/respondError/statusFromError idiom, re-pointed at the
// gateway's own domain packages instead of the playground service.
package httpapi

import (
	"net/http"

	"meego/internal/aggregates"
	"meego/internal/chat"
	"meego/internal/config"
	"meego/internal/embedding"
	"meego/internal/history"
	"meego/internal/ingest"
	"meego/internal/mediafetch"
	"meego/internal/messages"
	"meego/internal/queue"
	"meego/internal/ratelimit"
	"meego/internal/vectorstore"
)

// Deps bundles every collaborator the HTTP surface calls into. Built once
// at process startup in cmd/server.
type Deps struct {
	Config         config.Config
	Ingest         *ingest.Pipeline
	Chat           *chat.Orchestrator
	History        *history.Store
	Aggregates     *aggregates.Store
	Messages       *messages.Store
	Embedding      *embedding.Client
	Media          *mediafetch.Client
	Queue          *queue.Queue
	Limiter        *ratelimit.Limiter
	Authoritative  vectorstore.Store
	Shadow         vectorstore.Store
	EmbeddingModel string
}

// Server exposes the gateway's HTTP API.
type Server struct {
	deps Deps
	mux  *http.ServeMux
}

// NewServer builds a Server and registers every route.
func NewServer(deps Deps) *Server {
	s := &Server{deps: deps, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("POST /transcribe-audio", s.handleTranscribeAudio)
	s.mux.HandleFunc("POST /describe-image", s.handleDescribeImage)
	s.mux.HandleFunc("POST /extract-text", s.handleExtractText)

	s.mux.HandleFunc("POST /api/v1/embedding/messages", s.handleIngestMessage)
	s.mux.HandleFunc("POST /api/v1/embedding/search", s.handleSearch)
	s.mux.HandleFunc("GET /api/v1/embedding/stats", s.handleEmbeddingStats)
	s.mux.HandleFunc("GET /api/v1/embedding/rooms/{roomID}/summary", s.handleRoomSummary)
	s.mux.HandleFunc("GET /api/v1/embedding/users/{userID}/personalization-summary", s.handleUserPersonalization)
	s.mux.HandleFunc("DELETE /api/v1/embedding/messages/{id}", s.handleDeleteMessage)
	s.mux.HandleFunc("DELETE /api/v1/embedding/rooms/{roomID}", s.handleDeleteRoom)

	s.mux.HandleFunc("POST /api/v1/chat", s.handleChat)
	s.mux.HandleFunc("POST /api/v1/chat/reply", s.handleChatReply)
	s.mux.HandleFunc("GET /api/v1/chat/history", s.handleChatHistory)
	s.mux.HandleFunc("DELETE /api/v1/chat/history/{roomID}", s.handleDeleteChatHistory)

	s.mux.HandleFunc("GET /api/v1/queues/stats", s.handleQueueStats)
	s.mux.HandleFunc("GET /api/v1/rate-limits", s.handleRateLimits)
}
