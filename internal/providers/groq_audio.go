package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"meego/internal/config"
)

// GroqAudioClient transcribes audio via Groq's OpenAI-compatible
// multipart /audio/transcriptions endpoint. Unlike GroqClient, this talks
// plain HTTP: no teacher SDK covers the multipart upload shape, so it
// follows internal/llm/completions.go's request/response struct idiom
// instead.
type GroqAudioClient struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// NewGroqAudio constructs a GroqAudioClient. Returns (nil, ErrUnavailable)
// if no API key is configured.
func NewGroqAudio(cfg config.ProviderConfig, httpClient *http.Client) (*GroqAudioClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrUnavailable
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	model := cfg.Model
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	return &GroqAudioClient{baseURL: cfg.BaseURL, apiKey: cfg.APIKey, model: model, http: httpClient}, nil
}

func (c *GroqAudioClient) Name() Name { return NameGroq }

type groqTranscriptionResp struct {
	Text string `json:"text"`
}

// Transcribe uploads audioData as a multipart form file and returns the
// transcribed text.
func (c *GroqAudioClient) Transcribe(ctx context.Context, mimeType string, audioData []byte) (string, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio"+extensionFor(mimeType))
	if err != nil {
		return "", "", fmt.Errorf("groq audio: build form: %w", err)
	}
	if _, err := part.Write(audioData); err != nil {
		return "", "", fmt.Errorf("groq audio: write form: %w", err)
	}
	if err := writer.WriteField("model", c.model); err != nil {
		return "", "", fmt.Errorf("groq audio: write model field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", "", fmt.Errorf("groq audio: close form: %w", err)
	}

	url := strings.TrimSuffix(c.baseURL, "/") + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("groq audio: request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("groq audio: read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return "", "", fmt.Errorf("groq audio: endpoint returned %s: %s", resp.Status, string(respBytes))
	}

	var tr groqTranscriptionResp
	if err := json.Unmarshal(respBytes, &tr); err != nil {
		return "", "", fmt.Errorf("groq audio: parse response: %w", err)
	}
	return tr.Text, c.model, nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	case "audio/webm":
		return ".webm"
	default:
		return ".m4a"
	}
}
