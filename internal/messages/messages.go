// Package messages is the authoritative+shadow message store (§3 Message):
// append-only, randomly-identified records in the messages collection,
// written by internal/ingest and read by internal/assembler and the
// embedding search/stats HTTP routes.
package messages

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"meego/internal/ids"
	"meego/internal/vectorstore"
)

// MediaRef records one media item that contributed to a message's text,
// retained alongside the concatenated text so a caller can audit which
// media produced which extracted text (SPEC_FULL.md §3 supplement).
type MediaRef struct {
	Kind          string `json:"kind"`
	URL           string `json:"url"`
	ExtractedText string `json:"extractedText"`
	HasText       bool   `json:"hasText,omitempty"`
}

// Message is one ingested chat utterance.
type Message struct {
	ID                string
	ExternalMessageID string
	RoomID            string
	SenderID          string
	SenderName        string
	Text              string
	MediaRefs         []MediaRef
	Vector            []float32
	CreatedAt         time.Time
}

// Store persists and queries messages.
type Store struct {
	vectors vectorstore.Store
}

// New constructs a messages Store.
func New(vectors vectorstore.Store) *Store {
	return &Store{vectors: vectors}
}

// Insert writes a new message, assigning a fresh random ID if unset.
func (s *Store) Insert(ctx context.Context, msg Message) (Message, error) {
	if msg.ID == "" {
		msg.ID = ids.NewMessageID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	payload := map[string]any{
		"external_message_id": msg.ExternalMessageID,
		"room_id":             msg.RoomID,
		"sender_id":           msg.SenderID,
		"sender_name":         msg.SenderName,
		"text":                msg.Text,
		"created_at":          msg.CreatedAt.Format(time.RFC3339Nano),
	}
	if len(msg.MediaRefs) > 0 {
		if encoded, err := json.Marshal(msg.MediaRefs); err == nil {
			payload["media_refs"] = string(encoded)
		}
	}
	point := vectorstore.Point{
		ID:      msg.ID,
		Vector:  msg.Vector,
		Payload: payload,
	}
	if err := s.vectors.Upsert(ctx, vectorstore.CollectionMessages, []vectorstore.Point{point}); err != nil {
		return Message{}, fmt.Errorf("messages: insert: %w", err)
	}
	return msg, nil
}

// LatestForRoom returns the most recent limit messages for roomID,
// newest-first (§4.I: "payload scroll + in-memory sort").
func (s *Store) LatestForRoom(ctx context.Context, roomID string, limit int) ([]Message, error) {
	var all []Message
	cursor := ""
	for {
		points, next, err := s.vectors.Scroll(ctx, vectorstore.CollectionMessages, vectorstore.Filter{"room_id": roomID}, 200, cursor)
		if err != nil {
			return nil, fmt.Errorf("messages: scroll room %s: %w", roomID, err)
		}
		for _, p := range points {
			all = append(all, fromPoint(p))
		}
		if next == "" {
			break
		}
		cursor = next
	}

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// FindByExternalID locates the single message matching
// (externalMessageID, roomID), used by the reply flow's target-message
// lookup (§4.I).
func (s *Store) FindByExternalID(ctx context.Context, roomID, externalMessageID string) (*Message, error) {
	filter := vectorstore.Filter{"room_id": roomID, "external_message_id": externalMessageID}
	cursor := ""
	for {
		points, next, err := s.vectors.Scroll(ctx, vectorstore.CollectionMessages, filter, 50, cursor)
		if err != nil {
			return nil, fmt.Errorf("messages: find by external id: %w", err)
		}
		if len(points) > 0 {
			msg := fromPoint(points[0])
			return &msg, nil
		}
		if next == "" {
			return nil, nil
		}
		cursor = next
	}
}

// Delete removes a single message by its authoritative ID.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.vectors.Delete(ctx, vectorstore.CollectionMessages, []string{id}); err != nil {
		return fmt.Errorf("messages: delete %s: %w", id, err)
	}
	return nil
}

// DeleteForRoom purges every message belonging to roomID (room delete
// cascades here too).
func (s *Store) DeleteForRoom(ctx context.Context, roomID string) error {
	if err := s.vectors.DeleteByFilter(ctx, vectorstore.CollectionMessages, vectorstore.Filter{"room_id": roomID}); err != nil {
		return fmt.Errorf("messages: delete for room %s: %w", roomID, err)
	}
	return nil
}

// Search runs a similarity search over the messages collection, optionally
// scoped to a room.
func (s *Store) Search(ctx context.Context, vector []float32, limit int, roomID string) ([]vectorstore.SearchHit, error) {
	filter := vectorstore.Filter{}
	if roomID != "" {
		filter["room_id"] = roomID
	}
	hits, err := s.vectors.Search(ctx, vectorstore.CollectionMessages, vector, limit, filter)
	if err != nil {
		return nil, fmt.Errorf("messages: search: %w", err)
	}
	return hits, nil
}

func fromPoint(p vectorstore.Point) Message {
	msg := Message{
		ID:                p.ID,
		ExternalMessageID: stringField(p.Payload, "external_message_id"),
		RoomID:            stringField(p.Payload, "room_id"),
		SenderID:          stringField(p.Payload, "sender_id"),
		SenderName:        stringField(p.Payload, "sender_name"),
		Text:              stringField(p.Payload, "text"),
		Vector:            p.Vector,
	}
	if ts := stringField(p.Payload, "created_at"); ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			msg.CreatedAt = parsed
		}
	}
	if raw := stringField(p.Payload, "media_refs"); raw != "" {
		var refs []MediaRef
		if err := json.Unmarshal([]byte(raw), &refs); err == nil {
			msg.MediaRefs = refs
		}
	}
	return msg
}

func stringField(payload map[string]any, key string) string {
	if v, ok := payload[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
