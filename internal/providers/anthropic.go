package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"meego/internal/config"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicClient wraps Claude for single-shot completion, the third and
// final tier of the LLM chain (groq -> gemini -> anthropic). The teacher's
// own primary chat client depends on this SDK for multi-turn tool-calling
// conversations; here it is narrowed to a single user turn with no tools.
//
// Grounded on internal/llm/anthropic/client.go's New(cfg, httpClient)
// constructor and its Messages.New single-call shape.
type AnthropicClient struct {
	sdk   anthropic.Client
	model string
}

// NewAnthropic constructs an AnthropicClient. Returns (nil, ErrUnavailable)
// if no API key is configured.
func NewAnthropic(cfg config.ProviderConfig, httpClient *http.Client) (*AnthropicClient, error) {
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
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	model := cfg.Model
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	return &AnthropicClient{sdk: anthropic.NewClient(opts...), model: model}, nil
}

func (c *AnthropicClient) Name() Name { return NameAnthropic }

// Complete issues a single-turn message call with no tools.
func (c *AnthropicClient) Complete(ctx context.Context, systemPrompt, userPrompt string, params CompletionParams) (string, string, error) {
	maxTokens := int64(defaultAnthropicMaxTokens)
	if params.MaxTokens > 0 {
		maxTokens = int64(params.MaxTokens)
	}
	req := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	}
	if systemPrompt != "" {
		req.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if params.Temperature > 0 {
		req.Temperature = anthropic.Float(params.Temperature)
	}

	resp, err := c.sdk.Messages.New(ctx, req)
	if err != nil {
		return "", "", fmt.Errorf("anthropic: completion: %w", err)
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}
	if sb.Len() == 0 {
		return "", "", fmt.Errorf("anthropic: empty completion response")
	}
	return sb.String(), c.model, nil
}
