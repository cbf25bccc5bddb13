// Package aggregates is the shared room/user aggregate store: mutable,
// per-entity state keyed by a deterministic ID so repeated writes coalesce
// as replaces (§4.F). Both internal/summary (writer) and
// internal/assembler (reader) depend on this package rather than each
// rolling its own upsert logic.
package aggregates

import (
	"context"
	"fmt"

	"meego/internal/ids"
	"meego/internal/vectorstore"
)

// SummaryCap is the maximum length, in characters, of a room summary or
// user personalization summary (§3 Room/User Aggregate).
const SummaryCap = 3000

// Room is the mutable per-room aggregate.
type Room struct {
	RoomID       string
	Summary      string
	MessageCount int
}

// User is the mutable per-user aggregate.
type User struct {
	UserID                 string
	PersonalizationSummary string
	MessageCount           int
}

// Store reads and writes room/user aggregates over the vector gateway.
type Store struct {
	vectors vectorstore.Store
}

// New constructs an aggregates Store.
func New(vectors vectorstore.Store) *Store {
	return &Store{vectors: vectors}
}

// GetRoom loads a room aggregate, returning (nil, nil) if absent.
func (s *Store) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	id := ids.RoomID(roomID)
	point, err := s.fetch(ctx, vectorstore.CollectionRooms, id)
	if err != nil {
		return nil, fmt.Errorf("aggregates: get room %s: %w", roomID, err)
	}
	if point == nil {
		return nil, nil
	}
	return &Room{
		RoomID:       stringField(point.Payload, "room_id"),
		Summary:      stringField(point.Payload, "summary"),
		MessageCount: intField(point.Payload, "message_count"),
	}, nil
}

// PutRoom upserts a room aggregate, truncating Summary to SummaryCap.
func (s *Store) PutRoom(ctx context.Context, room Room) error {
	if r := []rune(room.Summary); len(r) > SummaryCap {
		room.Summary = string(r[:SummaryCap])
	}
	point := vectorstore.Point{
		ID:     ids.RoomID(room.RoomID),
		Vector: make([]float32, vectorstore.EmbeddingDimension),
		Payload: map[string]any{
			"room_id":       room.RoomID,
			"summary":       room.Summary,
			"message_count": float64(room.MessageCount),
		},
	}
	if err := s.vectors.Upsert(ctx, vectorstore.CollectionRooms, []vectorstore.Point{point}); err != nil {
		return fmt.Errorf("aggregates: put room %s: %w", room.RoomID, err)
	}
	return nil
}

// DeleteRoom removes a room aggregate (explicit room purge, §3 Lifecycle).
func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	if err := s.vectors.Delete(ctx, vectorstore.CollectionRooms, []string{ids.RoomID(roomID)}); err != nil {
		return fmt.Errorf("aggregates: delete room %s: %w", roomID, err)
	}
	return nil
}

// GetUser loads a user aggregate, returning (nil, nil) if absent.
func (s *Store) GetUser(ctx context.Context, userID string) (*User, error) {
	id := ids.UserID(userID)
	point, err := s.fetch(ctx, vectorstore.CollectionUsers, id)
	if err != nil {
		return nil, fmt.Errorf("aggregates: get user %s: %w", userID, err)
	}
	if point == nil {
		return nil, nil
	}
	return &User{
		UserID:                 stringField(point.Payload, "user_id"),
		PersonalizationSummary: stringField(point.Payload, "personalization_summary"),
		MessageCount:           intField(point.Payload, "message_count"),
	}, nil
}

// PutUser upserts a user aggregate, truncating PersonalizationSummary to
// SummaryCap.
func (s *Store) PutUser(ctx context.Context, user User) error {
	if r := []rune(user.PersonalizationSummary); len(r) > SummaryCap {
		user.PersonalizationSummary = string(r[:SummaryCap])
	}
	point := vectorstore.Point{
		ID:     ids.UserID(user.UserID),
		Vector: make([]float32, vectorstore.EmbeddingDimension),
		Payload: map[string]any{
			"user_id":                 user.UserID,
			"personalization_summary": user.PersonalizationSummary,
			"message_count":           float64(user.MessageCount),
		},
	}
	if err := s.vectors.Upsert(ctx, vectorstore.CollectionUsers, []vectorstore.Point{point}); err != nil {
		return fmt.Errorf("aggregates: put user %s: %w", user.UserID, err)
	}
	return nil
}

// DeleteUser removes a user aggregate.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	if err := s.vectors.Delete(ctx, vectorstore.CollectionUsers, []string{ids.UserID(userID)}); err != nil {
		return fmt.Errorf("aggregates: delete user %s: %w", userID, err)
	}
	return nil
}

// fetch locates a single point by ID. Collections stay small enough
// (bounded by distinct rooms/users) that a paged scan is acceptable; the
// gateway's Store contract has no get-by-ID, only filter-based search and
// scroll.
func (s *Store) fetch(ctx context.Context, collection vectorstore.Collection, id string) (*vectorstore.Point, error) {
	cursor := ""
	for {
		page, next, err := s.vectors.Scroll(ctx, collection, nil, 200, cursor)
		if err != nil {
			return nil, err
		}
		for _, p := range page {
			if p.ID == id {
				return &p, nil
			}
		}
		if next == "" {
			return nil, nil
		}
		cursor = next
	}
}

func stringField(payload map[string]any, key string) string {
	if v, ok := payload[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func intField(payload map[string]any, key string) int {
	if v, ok := payload[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		case int64:
			return int(n)
		}
	}
	return 0
}
