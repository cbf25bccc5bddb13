package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"meego/internal/config"
)

func TestNewDeepgram_UnavailableWithoutAPIKey(t *testing.T) {
	if _, err := NewDeepgram(config.ProviderConfig{}, nil); err != ErrUnavailable {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestDeepgramTranscribe_ParsesNestedAlternative(t *testing.T) {
	var gotContentType, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"results":{"channels":[{"alternatives":[{"transcript":"bonjour"}]}]}}`))
	}))
	defer srv.Close()

	c, err := NewDeepgram(config.ProviderConfig{APIKey: "dg-key", BaseURL: srv.URL}, srv.Client())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text, err := c.Transcribe(context.Background(), "audio/wav", []byte("fake-audio"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "bonjour" {
		t.Fatalf("expected %q, got %q", "bonjour", text)
	}
	if gotContentType != "audio/wav" {
		t.Fatalf("expected content-type audio/wav, got %q", gotContentType)
	}
	if gotAuth != "Token dg-key" {
		t.Fatalf("expected Token auth header, got %q", gotAuth)
	}
}

func TestDeepgramTranscribe_NoAlternativesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":{"channels":[]}}`))
	}))
	defer srv.Close()

	c, _ := NewDeepgram(config.ProviderConfig{APIKey: "dg-key", BaseURL: srv.URL}, srv.Client())
	if _, err := c.Transcribe(context.Background(), "audio/wav", []byte("fake")); err == nil {
		t.Fatal("expected error when no channels/alternatives are returned")
	}
}
