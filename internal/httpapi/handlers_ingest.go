package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"meego/internal/embedding"
	"meego/internal/ingest"
	"meego/internal/vectorstore"
)

type mediaItemRequest struct {
	Kind string `json:"kind"`
	URL  string `json:"url"`
}

type ingestMessageRequest struct {
	Room      string             `json:"room"`
	Message   string             `json:"message"`
	Media     []mediaItemRequest `json:"media"`
	InitID    string             `json:"initId"`
	CreatedAt string             `json:"createdAt"`
	From      string             `json:"from"`
	FromName  string             `json:"from_name"`
}

// handleIngestMessage runs §4.G's ingestion pipeline, per §6: `POST
// /api/v1/embedding/messages body {room, message?, media?[], initId,
// createdAt?, from?, from_name?} -> {success, data:{id, room_id,
// sender_id, sender_name, ...}, processingTime}`.
func (s *Server) handleIngestMessage(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	var req ingestMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "malformed request body"})
		return
	}
	if req.Room == "" || req.InitID == "" {
		respondJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "room and initId are required"})
		return
	}

	media := make([]ingest.MediaInput, len(req.Media))
	for i, m := range req.Media {
		media[i] = ingest.MediaInput{Kind: ingest.MediaKind(m.Kind), URL: m.URL}
	}

	msg, err := s.deps.Ingest.Ingest(r.Context(), ingest.Input{
		RoomID:            req.Room,
		SenderID:          req.From,
		SenderName:        req.FromName,
		ExternalMessageID: req.InitID,
		Text:              req.Message,
		Media:             media,
	})
	if err != nil {
		respondJSON(w, statusFromError(err), map[string]any{"success": false, "error": err.Error()})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"id":          msg.ExternalMessageID,
			"room_id":     msg.RoomID,
			"sender_id":   msg.SenderID,
			"sender_name": msg.SenderName,
			"text":        msg.Text,
			"createdAt":   msg.CreatedAt.Format(time.RFC3339Nano),
		},
		"processingTime": time.Since(started).Milliseconds(),
	})
}

type searchRequest struct {
	Query    string   `json:"query"`
	TopK     *int     `json:"topK"`
	MinScore *float64 `json:"minScore"`
	Room     string   `json:"room"`
}

const (
	defaultTopK     = 5
	defaultMinScore = 0.5
)

// handleSearch runs a dual-store similarity search, per §6: `POST
// /api/v1/embedding/search body {query, topK=5, minScore=0.5, room?} ->
// {success, query, results:{authoritative[], shadow[]}, metadata}`.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil || req.Query == "" {
		respondJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "query is required"})
		return
	}

	topK := defaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	if topK < 1 || topK > 100 {
		respondJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "topK must be between 1 and 100"})
		return
	}
	minScore := defaultMinScore
	if req.MinScore != nil {
		minScore = *req.MinScore
	}

	vector, err := s.deps.Embedding.Embed(r.Context(), req.Query, embedding.PrefixQuery)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}

	filter := vectorstore.Filter{}
	if req.Room != "" {
		filter["room_id"] = req.Room
	}

	authoritative := searchStore(r, s.deps.Authoritative, vector, topK, minScore, filter)
	shadow := searchStore(r, s.deps.Shadow, vector, topK, minScore, filter)

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"query":   req.Query,
		"results": map[string]any{
			"authoritative": authoritative,
			"shadow":        shadow,
		},
		"metadata": map[string]any{"topK": topK, "minScore": minScore},
	})
}

func searchStore(r *http.Request, store vectorstore.Store, vector []float32, topK int, minScore float64, filter vectorstore.Filter) []map[string]any {
	if store == nil {
		return nil
	}
	hits, err := store.Search(r.Context(), vectorstore.CollectionMessages, vector, topK, filter)
	if err != nil {
		return nil
	}
	out := make([]map[string]any, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < minScore {
			continue
		}
		out = append(out, map[string]any{
			"id":                 hit.ID,
			"score":              hit.Score,
			"externalMessageId":  hit.Payload["external_message_id"],
			"roomId":             hit.Payload["room_id"],
			"senderId":           hit.Payload["sender_id"],
			"senderName":         hit.Payload["sender_name"],
			"text":               hit.Payload["text"],
		})
	}
	return out
}

// handleEmbeddingStats reports per-collection record counts on both
// stores, per §6: `GET /api/v1/embedding/stats -> structured status`.
func (s *Server) handleEmbeddingStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]any, len(vectorstore.AllCollections))
	for _, collection := range vectorstore.AllCollections {
		entry := map[string]any{}
		if s.deps.Authoritative != nil {
			if n, err := s.deps.Authoritative.Count(r.Context(), collection, nil); err == nil {
				entry["authoritative"] = n
			}
		}
		if s.deps.Shadow != nil {
			if n, err := s.deps.Shadow.Count(r.Context(), collection, nil); err == nil {
				entry["shadow"] = n
			}
		}
		stats[string(collection)] = entry
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "collections": stats})
}

// handleRoomSummary reports a room aggregate's current summary, per §6:
// `GET /api/v1/embedding/rooms/:roomId/summary`.
func (s *Server) handleRoomSummary(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")
	room, err := s.deps.Aggregates.GetRoom(r.Context(), roomID)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	if room == nil {
		respondJSON(w, http.StatusOK, map[string]any{"success": true, "roomId": roomID, "summary": "", "messageCount": 0})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"roomId":       room.RoomID,
		"summary":      room.Summary,
		"messageCount": room.MessageCount,
	})
}

// handleUserPersonalization reports a user aggregate's personalization
// summary, per §6: `GET
// /api/v1/embedding/users/:userId/personalization-summary`.
func (s *Server) handleUserPersonalization(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	user, err := s.deps.Aggregates.GetUser(r.Context(), userID)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	if user == nil {
		respondJSON(w, http.StatusOK, map[string]any{"success": true, "userId": userID, "personalizationSummary": "", "messageCount": 0})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":                true,
		"userId":                 user.UserID,
		"personalizationSummary": user.PersonalizationSummary,
		"messageCount":           user.MessageCount,
	})
}

// handleDeleteMessage removes a single message by its authoritative ID,
// per §6: `DELETE /api/v1/embedding/messages/:id`.
func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Messages.Delete(r.Context(), id); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleDeleteRoom purges a room's messages, AI-chat history, and its
// aggregate, per §6: `DELETE /api/v1/embedding/rooms/:roomId` and the §8
// deletion-cascade scenario.
func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")
	if err := s.deps.Messages.DeleteForRoom(r.Context(), roomID); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	if err := s.deps.History.DeleteForRoom(r.Context(), roomID, ""); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	if err := s.deps.Aggregates.DeleteRoom(r.Context(), roomID); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func atoiOrDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
