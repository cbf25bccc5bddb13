package mediafetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"meego/internal/config"
)

func TestFetch_SendsKeyAndCredentialsAsQueryParams(t *testing.T) {
	var gotPath, gotToken, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.URL.Query().Get("token")
		gotQuery = r.URL.Query().Get("eq")
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("fake-bytes"))
	}))
	defer server.Close()

	client := New(config.SenderBackendConfig{
		URL:                  server.URL,
		MediaExceptionToken:  "tok",
		MediaExceptionQuery:  "q",
	}, server.Client())

	media, err := client.Fetch(context.Background(), "abc123")
	require.NoError(t, err)
	require.Equal(t, "/api/v1/media/abc123", gotPath)
	require.Equal(t, "tok", gotToken)
	require.Equal(t, "q", gotQuery)
	require.Equal(t, []byte("fake-bytes"), media.Bytes)
	require.Equal(t, "image/png", media.ContentType)
}

func TestFetch_NonOKStatusReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("not found"))
	}))
	defer server.Close()

	client := New(config.SenderBackendConfig{URL: server.URL}, server.Client())
	_, err := client.Fetch(context.Background(), "missing")
	require.Error(t, err)
}

func TestFetch_MissingBaseURLReturnsError(t *testing.T) {
	client := New(config.SenderBackendConfig{}, nil)
	_, err := client.Fetch(context.Background(), "k")
	require.Error(t, err)
}
