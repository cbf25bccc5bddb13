package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"meego/internal/config"
)

// GroqClient wraps Groq's OpenAI-compatible Chat Completions API for both
// text completion and vision description, built on option.WithBaseURL the
// way the teacher's self-hosted mlx_lm.server override works.
//
// Grounded on internal/llm/openai/client.go's New(cfg, httpClient)
// constructor and its ChatWithImageAttachment content-parts assembly.
type GroqClient struct {
	sdk   openai.Client
	model string
}

// NewGroq constructs a GroqClient. Returns (nil, ErrUnavailable) if no API
// key is configured, so chains can skip it without treating it as a
// provider failure.
func NewGroq(cfg config.ProviderConfig, httpClient *http.Client) (*GroqClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrUnavailable
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = "llama-3.3-70b-versatile"
	}
	return &GroqClient{sdk: openai.NewClient(opts...), model: model}, nil
}

func (c *GroqClient) Name() Name { return NameGroq }

// Complete issues a single-turn chat completion with an optional system
// prompt.
func (c *GroqClient) Complete(ctx context.Context, systemPrompt, userPrompt string, params CompletionParams) (string, string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	messages = append(messages, openai.UserMessage(userPrompt))

	req := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = openai.Int(int64(params.MaxTokens))
	}
	if params.Temperature > 0 {
		req.Temperature = openai.Float(params.Temperature)
	}

	resp, err := c.sdk.Chat.Completions.New(ctx, req)
	if err != nil {
		return "", "", fmt.Errorf("groq: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", "", fmt.Errorf("groq: empty completion response")
	}
	return resp.Choices[0].Message.Content, c.model, nil
}

// Describe sends prompt alongside an inline image as a Groq vision
// completion, used for both image description and OCR extraction; params
// lets OCR's extract-only prompt pin a low temperature while description
// keeps the default.
func (c *GroqClient) Describe(ctx context.Context, prompt, mimeType string, imageData []byte, params CompletionParams) (string, string, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(imageData))

	userMsg := openai.ChatCompletionUserMessageParam{
		Content: openai.ChatCompletionUserMessageParamContentUnion{
			OfArrayOfContentParts: []openai.ChatCompletionContentPartUnionParam{
				{OfText: &openai.ChatCompletionContentPartTextParam{Text: prompt}},
				{OfImageURL: &openai.ChatCompletionContentPartImageParam{
					ImageURL: openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL},
				}},
			},
		},
	}

	req := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{{OfUser: &userMsg}},
	}
	if params.Temperature > 0 {
		req.Temperature = openai.Float(params.Temperature)
	}

	resp, err := c.sdk.Chat.Completions.New(ctx, req)
	if err != nil {
		return "", "", fmt.Errorf("groq: vision completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", "", fmt.Errorf("groq: empty vision response")
	}
	return resp.Choices[0].Message.Content, c.model, nil
}
