package httpapi

import (
	"errors"
	"net/http"
	"time"

	"meego/internal/apperr"
	"meego/internal/chat"
	"meego/internal/history"
)

// errMessageNotFound and errSelfReply carry the exact Arabic strings §8's
// end-to-end scenarios pin for the reply endpoint's error responses.
var (
	errMessageNotFound = errors.New("انتظر وحاول بعد لحظات")
	errSelfReply       = errors.New("لا يمكنك الرد على رسالتك الخاصة")
)

type chatRequest struct {
	RoomID       string `json:"roomId"`
	UserID       string `json:"userId"`
	UserQuestion string `json:"userQuestion"`
}

// handleChat runs the chat orchestrator, per §6: `POST /api/v1/chat body
// {roomId, userId, userQuestion} -> {success, answer, suggestedAnswer,
// provider, model, context, metadata}`.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil || req.RoomID == "" || req.UserID == "" || req.UserQuestion == "" {
		respondJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "roomId, userId, and userQuestion are required"})
		return
	}

	answer, err := s.deps.Chat.Chat(r.Context(), req.RoomID, req.UserID, req.UserQuestion)
	if err != nil {
		respondJSON(w, statusFromError(err), map[string]any{"success": false, "error": err.Error()})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"answer":          answer.Answer,
		"suggestedAnswer": answer.SuggestedAnswer,
		"provider":        answer.Provider,
		"model":           answer.Model,
		"context":         contextQualityJSON(answer),
		"metadata":        map[string]any{"elapsedMs": answer.ElapsedMillis},
	})
}

type chatReplyRequest struct {
	RoomID    string `json:"roomId"`
	SenderID  string `json:"senderId"`
	MessageID string `json:"messageId"`
}

// handleChatReply runs the reply orchestrator, per §6: `POST
// /api/v1/chat/reply body {roomId, senderId, messageId} -> {success,
// answer, suggestedAnswer, targetMessage, context, metadata}`. Errors: 400
// missing field; 403 self-reply; 404 target-not-found.
func (s *Server) handleChatReply(w http.ResponseWriter, r *http.Request) {
	var req chatReplyRequest
	if err := decodeJSON(r, &req); err != nil || req.RoomID == "" || req.SenderID == "" || req.MessageID == "" {
		respondJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "roomId, senderId, and messageId are required"})
		return
	}

	answer, err := s.deps.Chat.Reply(r.Context(), req.RoomID, req.SenderID, req.MessageID)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrForbidden):
			respondError(w, http.StatusForbidden, errSelfReply)
		case errors.Is(err, apperr.ErrNotFound):
			respondError(w, http.StatusNotFound, errMessageNotFound)
		default:
			respondError(w, statusFromError(err), err)
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"answer":          answer.Answer,
		"suggestedAnswer": answer.SuggestedAnswer,
		"targetMessage":   req.MessageID,
		"context":         contextQualityJSON(answer),
		"metadata":        map[string]any{"elapsedMs": answer.ElapsedMillis},
	})
}

// handleChatHistory lists AIChatRecords, per §6: `GET
// /api/v1/chat/history?userId=&roomId=&limit=50 -> {success, count,
// history[]}` (at least one of userId/roomId required).
func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	roomID := r.URL.Query().Get("roomId")
	if userID == "" && roomID == "" {
		respondJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "at least one of userId or roomId is required"})
		return
	}
	limit := atoiOrDefault(r.URL.Query().Get("limit"), 50)

	records, err := s.deps.History.Query(r.Context(), history.QueryParams{UserID: userID, RoomID: roomID, Limit: limit})
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}

	out := make([]map[string]any, len(records))
	for i, rec := range records {
		out[i] = map[string]any{
			"id":              rec.ID,
			"userId":          rec.UserID,
			"roomId":          rec.RoomID,
			"question":        rec.Question,
			"answer":          rec.Answer,
			"suggestedAnswer": rec.SuggestedAnswer,
			"provider":        rec.ProviderName,
			"model":           rec.ModelName,
			"createdAt":       rec.CreatedAt.Format(time.RFC3339Nano),
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "count": len(out), "history": out})
}

// handleDeleteChatHistory purges AIChatRecords for a room, optionally
// narrowed to one user, per §6: `DELETE
// /api/v1/chat/history/:roomId?userId=`.
func (s *Server) handleDeleteChatHistory(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")
	userID := r.URL.Query().Get("userId")
	if err := s.deps.History.DeleteForRoom(r.Context(), roomID, userID); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func contextQualityJSON(a chat.Answer) map[string]any {
	return map[string]any{
		"hasRoomSummary":      a.ContextQuality.HasRoomSummary,
		"hasUserProfile":      a.ContextQuality.HasUserProfile,
		"historyCount":        a.ContextQuality.HistoryCount,
		"latestMessagesCount": a.ContextQuality.MessageCount,
	}
}
