package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"meego/internal/config"
)

// DeepgramClient transcribes audio via Deepgram's raw-body
// /v1/listen endpoint, the second tier of the audio chain.
//
// Grounded on internal/llm/completions.go's request/response struct idiom,
// since no teacher SDK covers Deepgram.
type DeepgramClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewDeepgram constructs a DeepgramClient. Returns (nil, ErrUnavailable) if
// no API key is configured.
func NewDeepgram(cfg config.ProviderConfig, httpClient *http.Client) (*DeepgramClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrUnavailable
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &DeepgramClient{baseURL: cfg.BaseURL, apiKey: cfg.APIKey, http: httpClient}, nil
}

func (c *DeepgramClient) Name() Name { return NameDeepgram }

const deepgramModel = "nova-2"

type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe posts the raw audio bytes with Content-Type set to mimeType.
func (c *DeepgramClient) Transcribe(ctx context.Context, mimeType string, audioData []byte) (string, string, error) {
	url := strings.TrimSuffix(c.baseURL, "/") + "/v1/listen?model=" + deepgramModel + "&smart_format=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(audioData))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", mimeType)
	req.Header.Set("Authorization", "Token "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("deepgram: request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("deepgram: read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return "", "", fmt.Errorf("deepgram: endpoint returned %s: %s", resp.Status, string(respBytes))
	}

	var dr deepgramResponse
	if err := json.Unmarshal(respBytes, &dr); err != nil {
		return "", "", fmt.Errorf("deepgram: parse response: %w", err)
	}
	if len(dr.Results.Channels) == 0 || len(dr.Results.Channels[0].Alternatives) == 0 {
		return "", "", fmt.Errorf("deepgram: no transcription alternatives returned")
	}
	return dr.Results.Channels[0].Alternatives[0].Transcript, deepgramModel, nil
}
