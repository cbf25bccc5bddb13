package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"meego/internal/config"
)

// GeminiClient wraps google.golang.org/genai for single-shot text
// completion and inline-image vision description, the fallback tier after
// Groq in both the LLM chain and the image/OCR chain.
//
// Grounded on internal/llm/google/client.go's New(cfg, httpClient)
// constructor and its InlineData handling for vision parts.
type GeminiClient struct {
	sdk   *genai.Client
	model string
}

// NewGemini constructs a GeminiClient. Returns (nil, ErrUnavailable) if no
// API key is configured.
func NewGemini(cfg config.ProviderConfig, httpClient *http.Client) (*GeminiClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrUnavailable
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	httpOpts := genai.HTTPOptions{}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		httpOpts.BaseURL = strings.TrimSuffix(base, "/") + "/"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		HTTPClient:  httpClient,
		HTTPOptions: httpOpts,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: init client: %w", err)
	}
	return &GeminiClient{sdk: client, model: model}, nil
}

func (c *GeminiClient) Name() Name { return NameGemini }

// Complete issues a single-turn text generation call.
func (c *GeminiClient) Complete(ctx context.Context, systemPrompt, userPrompt string, params CompletionParams) (string, string, error) {
	contents := []*genai.Content{genai.NewContentFromText(userPrompt, genai.RoleUser)}
	cfg := &genai.GenerateContentConfig{}
	if systemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	if params.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(params.MaxTokens)
	}
	if params.Temperature > 0 {
		temp := float32(params.Temperature)
		cfg.Temperature = &temp
	}

	resp, err := c.sdk.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", "", fmt.Errorf("gemini: generate content: %w", err)
	}
	text, err := textFromResponse(resp)
	if err != nil {
		return "", "", err
	}
	return text, c.model, nil
}

// Describe sends prompt alongside inline image bytes for vision
// description or OCR; params lets OCR's extract-only prompt pin a low
// temperature while description keeps the default.
func (c *GeminiClient) Describe(ctx context.Context, prompt, mimeType string, imageData []byte, params CompletionParams) (string, string, error) {
	parts := []*genai.Part{
		{Text: prompt},
		{InlineData: &genai.Blob{MIMEType: mimeType, Data: imageData}},
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	cfg := &genai.GenerateContentConfig{}
	if params.Temperature > 0 {
		temp := float32(params.Temperature)
		cfg.Temperature = &temp
	}

	resp, err := c.sdk.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", "", fmt.Errorf("gemini: vision generate content: %w", err)
	}
	text, err := textFromResponse(resp)
	if err != nil {
		return "", "", err
	}
	return text, c.model, nil
}

func textFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini: empty response")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("gemini: response had no text parts")
	}
	return sb.String(), nil
}
