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

// AssemblyAIClient transcribes audio via AssemblyAI's upload -> submit ->
// poll transcription API, the third and final tier of the audio chain.
//
// Grounded on internal/llm/completions.go's request/response struct idiom,
// since no teacher SDK covers AssemblyAI.
type AssemblyAIClient struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	pollWait time.Duration
}

// NewAssemblyAI constructs an AssemblyAIClient. Returns (nil,
// ErrUnavailable) if no API key is configured.
func NewAssemblyAI(cfg config.ProviderConfig, httpClient *http.Client) (*AssemblyAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrUnavailable
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.assemblyai.com"
	}
	return &AssemblyAIClient{baseURL: baseURL, apiKey: cfg.APIKey, http: httpClient, pollWait: 2 * time.Second}, nil
}

func (c *AssemblyAIClient) Name() Name { return NameAssemblyAI }

// assemblyAIModel names AssemblyAI's default transcription pipeline tier;
// the API has no per-request model override, so this is a fixed label.
const assemblyAIModel = "best"

type assemblyUploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type assemblyTranscriptRequest struct {
	AudioURL string `json:"audio_url"`
}

type assemblyTranscriptResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Text   string `json:"text"`
	Error  string `json:"error"`
}

// Transcribe uploads the raw audio bytes, submits a transcription job, and
// polls until it completes or ctx is cancelled.
func (c *AssemblyAIClient) Transcribe(ctx context.Context, mimeType string, audioData []byte) (string, string, error) {
	uploadURL, err := c.upload(ctx, audioData)
	if err != nil {
		return "", "", err
	}

	transcript, err := c.submit(ctx, uploadURL)
	if err != nil {
		return "", "", err
	}

	for {
		status, err := c.poll(ctx, transcript.ID)
		if err != nil {
			return "", "", err
		}
		switch status.Status {
		case "completed":
			return status.Text, assemblyAIModel, nil
		case "error":
			return "", "", fmt.Errorf("assemblyai: transcription failed: %s", status.Error)
		}

		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case <-time.After(c.pollWait):
		}
	}
}

func (c *AssemblyAIClient) upload(ctx context.Context, audioData []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(c.baseURL, "/")+"/v2/upload", bytes.NewReader(audioData))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	respBytes, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("assemblyai: upload: %w", err)
	}
	var ur assemblyUploadResponse
	if err := json.Unmarshal(respBytes, &ur); err != nil {
		return "", fmt.Errorf("assemblyai: parse upload response: %w", err)
	}
	return ur.UploadURL, nil
}

func (c *AssemblyAIClient) submit(ctx context.Context, uploadURL string) (*assemblyTranscriptResponse, error) {
	body, _ := json.Marshal(assemblyTranscriptRequest{AudioURL: uploadURL})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(c.baseURL, "/")+"/v2/transcript", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	respBytes, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("assemblyai: submit: %w", err)
	}
	var tr assemblyTranscriptResponse
	if err := json.Unmarshal(respBytes, &tr); err != nil {
		return nil, fmt.Errorf("assemblyai: parse submit response: %w", err)
	}
	return &tr, nil
}

func (c *AssemblyAIClient) poll(ctx context.Context, id string) (*assemblyTranscriptResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(c.baseURL, "/")+"/v2/transcript/"+id, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.apiKey)

	respBytes, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("assemblyai: poll: %w", err)
	}
	var tr assemblyTranscriptResponse
	if err := json.Unmarshal(respBytes, &tr); err != nil {
		return nil, fmt.Errorf("assemblyai: parse poll response: %w", err)
	}
	return &tr, nil
}

func (c *AssemblyAIClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("endpoint returned %s: %s", resp.Status, string(respBytes))
	}
	return respBytes, nil
}
