// Package vectorstore is the gateway's dual-store vector memory: Qdrant as
// the authoritative backend and an embedded SQLite store as a local
// shadow copy. Every collection (messages, rooms, users, aiChatMessages)
// shares one fixed embedding dimension and the same bootstrap-row
// convention so scroll/count/search never have to special-case an empty
// collection.
//
// Grounded on internal/persistence/databases/qdrant_vector.go (gRPC
// client, collection lifecycle, UUID re-derivation) and memory_vector.go
// (brute-force cosine math, adapted here to a persisted SQLite store
// instead of a process-local map).
package vectorstore

import (
	"context"
)

// EmbeddingDimension is the fixed vector size every collection uses.
// Resolves the §9 open question: one dimension constant, not a
// per-collection variable.
const EmbeddingDimension = 384

// BootstrapPointID is the deterministic ID of the placeholder point
// created when a collection is first bootstrapped. It carries
// payload["bootstrap"] = true and is filtered out of every read path by a
// "WHERE NOT bootstrap" style clause, never relied on implicitly.
const BootstrapPointID = "00000000-0000-0000-0000-000000000000"

const bootstrapField = "bootstrap"

// Collection names the gateway's four fixed vector collections.
type Collection string

const (
	CollectionMessages       Collection = "messages"
	CollectionRooms          Collection = "rooms"
	CollectionUsers          Collection = "users"
	CollectionAIChatMessages Collection = "aiChatMessages"

	// AllCollections is bootstrapped in full at startup.
)

var AllCollections = []Collection{CollectionMessages, CollectionRooms, CollectionUsers, CollectionAIChatMessages}

// Point is a single stored vector with its opaque payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// SearchHit is a single nearest-neighbor result.
type SearchHit struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// Filter is an exact-match AND filter over payload fields.
type Filter map[string]any

// Store is the shape both the Qdrant backend and the SQLite shadow
// backend implement.
type Store interface {
	Bootstrap(ctx context.Context, collection Collection) error
	Upsert(ctx context.Context, collection Collection, points []Point) error
	Delete(ctx context.Context, collection Collection, ids []string) error
	DeleteByFilter(ctx context.Context, collection Collection, filter Filter) error
	Search(ctx context.Context, collection Collection, vector []float32, limit int, filter Filter) ([]SearchHit, error)
	Scroll(ctx context.Context, collection Collection, filter Filter, limit int, cursor string) ([]Point, string, error)
	Count(ctx context.Context, collection Collection, filter Filter) (int64, error)
	Close() error
}
