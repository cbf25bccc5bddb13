// Package history is the AI-chat turn log (§4.K): completed
// (question, answer) turns from the chat endpoint, never from reply.
// Records carry a zero vector — retrieval is always by payload filter,
// never by similarity search — so the store rides on the same
// vectorstore.Store contract purely for schema uniformity across
// collections.
package history

import (
	"context"
	"fmt"
	"sort"
	"time"

	"meego/internal/ids"
	"meego/internal/vectorstore"
)

// Record is one completed (question, answer) chat turn.
type Record struct {
	ID              string
	UserID          string
	RoomID          string
	Question        string
	Answer          string
	SuggestedAnswer string
	ProviderName    string
	ModelName       string
	CreatedAt       time.Time
}

// Store persists and queries AIChatRecords in the aiChatMessages
// collection.
type Store struct {
	vectors vectorstore.Store
}

// New constructs a history Store over the shared vector gateway.
func New(vectors vectorstore.Store) *Store {
	return &Store{vectors: vectors}
}

// Insert appends a new record with a zero vector.
func (s *Store) Insert(ctx context.Context, record Record) error {
	if record.ID == "" {
		record.ID = ids.NewRecordID()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	point := vectorstore.Point{
		ID:     record.ID,
		Vector: make([]float32, vectorstore.EmbeddingDimension),
		Payload: map[string]any{
			"user_id":          record.UserID,
			"room_id":          record.RoomID,
			"question":         record.Question,
			"answer":           record.Answer,
			"suggested_answer": record.SuggestedAnswer,
			"provider_name":    record.ProviderName,
			"model_name":       record.ModelName,
			"created_at":       record.CreatedAt.Format(time.RFC3339Nano),
		},
	}
	if err := s.vectors.Upsert(ctx, vectorstore.CollectionAIChatMessages, []vectorstore.Point{point}); err != nil {
		return fmt.Errorf("history: insert record: %w", err)
	}
	return nil
}

// Latest returns the most recent limit records for (userID, roomID),
// newest-first.
func (s *Store) Latest(ctx context.Context, userID, roomID string, limit int) ([]Record, error) {
	return s.Query(ctx, QueryParams{UserID: userID, RoomID: roomID, Limit: limit})
}

// QueryParams filters a history query. At least one of UserID/RoomID
// should be set; an unset field is not filtered on.
type QueryParams struct {
	UserID string
	RoomID string
	Limit  int
}

// Query returns matching records newest-first.
func (s *Store) Query(ctx context.Context, params QueryParams) ([]Record, error) {
	filter := vectorstore.Filter{}
	if params.UserID != "" {
		filter["user_id"] = params.UserID
	}
	if params.RoomID != "" {
		filter["room_id"] = params.RoomID
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}

	var records []Record
	cursor := ""
	for {
		points, next, err := s.vectors.Scroll(ctx, vectorstore.CollectionAIChatMessages, filter, 200, cursor)
		if err != nil {
			return nil, fmt.Errorf("history: scroll records: %w", err)
		}
		for _, p := range points {
			records = append(records, recordFromPoint(p))
		}
		if next == "" {
			break
		}
		cursor = next
	}

	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.After(records[j].CreatedAt) })
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// DeleteForRoom removes every record for roomID, optionally narrowed to a
// single userID.
func (s *Store) DeleteForRoom(ctx context.Context, roomID, userID string) error {
	filter := vectorstore.Filter{"room_id": roomID}
	if userID != "" {
		filter["user_id"] = userID
	}
	if err := s.vectors.DeleteByFilter(ctx, vectorstore.CollectionAIChatMessages, filter); err != nil {
		return fmt.Errorf("history: delete for room %s: %w", roomID, err)
	}
	return nil
}

func recordFromPoint(p vectorstore.Point) Record {
	r := Record{
		ID:              p.ID,
		UserID:          stringField(p.Payload, "user_id"),
		RoomID:          stringField(p.Payload, "room_id"),
		Question:        stringField(p.Payload, "question"),
		Answer:          stringField(p.Payload, "answer"),
		SuggestedAnswer: stringField(p.Payload, "suggested_answer"),
		ProviderName:    stringField(p.Payload, "provider_name"),
		ModelName:       stringField(p.Payload, "model_name"),
	}
	if ts := stringField(p.Payload, "created_at"); ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			r.CreatedAt = parsed
		}
	}
	return r
}

func stringField(payload map[string]any, key string) string {
	if v, ok := payload[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
