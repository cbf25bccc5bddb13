package httpapi

import (
	"encoding/base64"
	"net/http"

	"meego/internal/dispatch"
	"meego/internal/queue"
)

// handleHealth reports provider configuration and store reachability, per
// §6: `{ok, providersConfigured, storesConnected, embeddingModel,
// embeddingSize}`.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cfg := s.deps.Config
	providersConfigured := map[string]bool{
		"groq":       cfg.Groq.APIKey != "",
		"gemini":     cfg.Gemini.APIKey != "",
		"anthropic":  cfg.Anthropic.APIKey != "",
		"deepgram":   cfg.Deepgram.APIKey != "",
		"assemblyai": cfg.AssemblyAI.APIKey != "",
	}

	storesConnected := false
	if s.deps.Authoritative != nil {
		if _, err := s.deps.Authoritative.Count(r.Context(), "rooms", nil); err == nil {
			storesConnected = true
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"ok":                  storesConnected,
		"providersConfigured": providersConfigured,
		"storesConnected":     storesConnected,
		"embeddingModel":      s.deps.EmbeddingModel,
		"embeddingSize":       cfg.Vector.Dimension,
	})
}

type mediaURLRequest struct {
	AudioURL string `json:"audioUrl"`
	ImageURL string `json:"imageUrl"`
	Prompt   string `json:"prompt"`
}

// handleTranscribeAudio fetches audioUrl and runs it through the audio
// transcription chain, per §6: `POST /transcribe-audio {audioUrl} ->
// {success, text, audioUrl}`.
func (s *Server) handleTranscribeAudio(w http.ResponseWriter, r *http.Request) {
	var req mediaURLRequest
	if err := decodeJSON(r, &req); err != nil || req.AudioURL == "" {
		respondJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "audioUrl is required"})
		return
	}

	media, err := s.deps.Media.Fetch(r.Context(), req.AudioURL)
	if err != nil {
		respondJSON(w, http.StatusBadGateway, map[string]any{"success": false, "error": err.Error()})
		return
	}

	result, err := dispatch.RunAudio(r.Context(), s.deps.Queue, dispatch.AudioPayload{
		MimeType:    media.ContentType,
		AudioBase64: base64.StdEncoding.EncodeToString(media.Bytes),
	}, queue.PriorityNormal)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"success": true, "text": result.Text, "audioUrl": req.AudioURL})
}

const defaultDescribePrompt = "Describe this image in detail."

// handleDescribeImage fetches imageUrl and runs vision description, per
// §6: `POST /describe-image {imageUrl, prompt?} -> {success, description,
// imageUrl, prompt}`.
func (s *Server) handleDescribeImage(w http.ResponseWriter, r *http.Request) {
	var req mediaURLRequest
	if err := decodeJSON(r, &req); err != nil || req.ImageURL == "" {
		respondJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "imageUrl is required"})
		return
	}
	prompt := req.Prompt
	if prompt == "" {
		prompt = defaultDescribePrompt
	}

	media, err := s.deps.Media.Fetch(r.Context(), req.ImageURL)
	if err != nil {
		respondJSON(w, http.StatusBadGateway, map[string]any{"success": false, "error": err.Error()})
		return
	}

	result, err := dispatch.RunVision(r.Context(), s.deps.Queue, "image", dispatch.VisionPayload{
		Prompt:      prompt,
		MimeType:    media.ContentType,
		ImageBase64: base64.StdEncoding.EncodeToString(media.Bytes),
	}, queue.PriorityNormal)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"description": result.Text,
		"imageUrl":    req.ImageURL,
		"prompt":      prompt,
	})
}

const extractTextPrompt = "Extract all text visible in this image verbatim."

// handleExtractText fetches imageUrl and runs OCR, per §6: `POST
// /extract-text {imageUrl} -> {success, text, imageUrl}`.
func (s *Server) handleExtractText(w http.ResponseWriter, r *http.Request) {
	var req mediaURLRequest
	if err := decodeJSON(r, &req); err != nil || req.ImageURL == "" {
		respondJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "imageUrl is required"})
		return
	}

	media, err := s.deps.Media.Fetch(r.Context(), req.ImageURL)
	if err != nil {
		respondJSON(w, http.StatusBadGateway, map[string]any{"success": false, "error": err.Error()})
		return
	}

	result, err := dispatch.RunVision(r.Context(), s.deps.Queue, "ocr", dispatch.VisionPayload{
		Prompt:      extractTextPrompt,
		MimeType:    media.ContentType,
		ImageBase64: base64.StdEncoding.EncodeToString(media.Bytes),
	}, queue.PriorityNormal)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"success": true, "text": result.Text, "imageUrl": req.ImageURL})
}
