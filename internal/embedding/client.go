// Package embedding is a thin client over the embedding model, treated as
// an external collaborator per the gateway's scope: a function
// text -> float[384], mean-pooled and L2-normalised, consumed over HTTP.
//
// Grounded on manifold's internal/embedding/client.go request/timeout/
// error-wrapping idiom, extended with the "query"/"passage" prefix
// convention the embedding contract requires.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"meego/internal/config"
)

// Prefix selects the embedding instruction prefix. Messages are embedded
// with "passage", queries (search, chat questions) with "query".
type Prefix string

const (
	PrefixPassage Prefix = "passage"
	PrefixQuery   Prefix = "query"
)

// Config describes how to reach the embedding endpoint.
type Config struct {
	BaseURL   string
	Path      string
	APIKey    string
	APIHeader string
	Model     string
	Dimension int
	Timeout   time.Duration
}

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Client calls the embedding endpoint.
type Client struct {
	cfg  Config
	http *http.Client
}

// New constructs an embedding Client.
func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{cfg: cfg, http: httpClient}
}

// Embed returns the embedding for a single text, applying the prefix
// convention ("query: "/"passage: ") before the request is sent.
func (c *Client) Embed(ctx context.Context, text string, prefix Prefix) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text}, prefix)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds multiple texts in a single request, applying the
// prefix convention to each.
func (c *Client) EmbedBatch(ctx context.Context, texts []string, prefix Prefix) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("embedding: no inputs")
	}
	prefixed := make([]string, len(texts))
	for i, t := range texts {
		prefixed[i] = string(prefix) + ": " + t
	}

	reqBody, _ := json.Marshal(embedReq{Model: c.cfg.Model, Input: prefixed})
	cctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	url := c.cfg.BaseURL + c.cfg.Path
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	if c.cfg.APIHeader == "Authorization" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	} else if c.cfg.APIHeader != "" {
		req.Header.Set(c.cfg.APIHeader, c.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embedding: read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("embedding: endpoint returned %s: %s", resp.Status, string(bodyBytes))
	}

	var er embedResp
	if err := json.Unmarshal(bodyBytes, &er); err != nil {
		return nil, fmt.Errorf("embedding: parse response (input count: %d): %w", len(texts), err)
	}
	if len(er.Data) != len(texts) {
		return nil, fmt.Errorf("embedding: unexpected count: got %d, want %d", len(er.Data), len(texts))
	}
	out := make([][]float32, len(er.Data))
	for i := range er.Data {
		out[i] = er.Data[i].Embedding
	}
	return out, nil
}

// CheckReachability sends a small test request to confirm the embedding
// endpoint is reachable; cmd/server calls it once at startup.
func (c *Client) CheckReachability(ctx context.Context) error {
	_, err := c.Embed(ctx, "ping", PrefixQuery)
	if err != nil {
		return fmt.Errorf("embedding endpoint reachability check failed: %w", err)
	}
	return nil
}

// FromAppConfig adapts the application-wide config into an embedding Config.
// The gateway does not own the embedding model; it only needs an endpoint.
func FromAppConfig(cfg config.Config) Config {
	return Config{
		BaseURL:   envOrDefault("EMBEDDING_BASE_URL", "http://localhost:8081"),
		Path:      envOrDefault("EMBEDDING_PATH", "/v1/embeddings"),
		APIKey:    envOrDefault("EMBEDDING_API_KEY", ""),
		APIHeader: envOrDefault("EMBEDDING_API_HEADER", "Authorization"),
		Model:     envOrDefault("EMBEDDING_MODEL", "multilingual-e5-small"),
		Dimension: cfg.Vector.Dimension,
	}
}

func envOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
