// Package mediafetch is a thin client over the upstream media service: an
// external collaborator per spec §6, consumed as a single
// GET-by-key-and-return-bytes RPC.
//
// Grounded on internal/embedding/client.go's request/timeout/
// error-wrapping idiom (context timeout, io.ReadAll + status-code check,
// wrapped errors), adapted from a JSON POST to a query-string-authenticated
// GET.
package mediafetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"meego/internal/config"
)

// Media is a fetched media item's raw bytes plus its declared content type.
type Media struct {
	Bytes       []byte
	ContentType string
}

// Client fetches media by opaque key from the sender backend.
type Client struct {
	baseURL              string
	exceptionToken       string
	exceptionQuery       string
	http                 *http.Client
	timeout              time.Duration
}

// New constructs a mediafetch Client from the sender-backend section of the
// application config.
func New(cfg config.SenderBackendConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:        cfg.URL,
		exceptionToken: cfg.MediaExceptionToken,
		exceptionQuery: cfg.MediaExceptionQuery,
		http:           httpClient,
		timeout:        30 * time.Second,
	}
}

// Fetch retrieves the raw bytes for a media key via
// GET {SENDER_BACKEND_URL}/api/v1/media/{key}?token=…&eq=….
func (c *Client) Fetch(ctx context.Context, key string) (Media, error) {
	if c.baseURL == "" {
		return Media{}, fmt.Errorf("mediafetch: SENDER_BACKEND_URL not configured")
	}

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL := fmt.Sprintf("%s/api/v1/media/%s", c.baseURL, url.PathEscape(key))
	req, err := http.NewRequestWithContext(cctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Media{}, fmt.Errorf("mediafetch: build request: %w", err)
	}
	q := req.URL.Query()
	if c.exceptionToken != "" {
		q.Set("token", c.exceptionToken)
	}
	if c.exceptionQuery != "" {
		q.Set("eq", c.exceptionQuery)
	}
	req.URL.RawQuery = q.Encode()

	resp, err := c.http.Do(req)
	if err != nil {
		return Media{}, fmt.Errorf("mediafetch: fetch %s: %w", key, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Media{}, fmt.Errorf("mediafetch: read body for %s: %w", key, err)
	}
	if resp.StatusCode/100 != 2 {
		return Media{}, fmt.Errorf("mediafetch: %s returned %s: %s", key, resp.Status, string(body))
	}

	return Media{Bytes: body, ContentType: resp.Header.Get("Content-Type")}, nil
}
