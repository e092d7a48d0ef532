package shortlink

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kapu/mc-relay-go/internal/config"
)

func TestRedactModeNeverCallsNetwork(t *testing.T) {
	// The base URL is unroutable: any network attempt would fail loudly.
	r := New(config.ShortlinkRedact, "http://127.0.0.1:1", "secret")
	for _, url := range []string{"https://example.com/a", "www.b.cn/x", ""} {
		out, err := r.Resolve(context.Background(), url)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", url, err)
		}
		if out != Redacted {
			t.Fatalf("expected placeholder, got %q", out)
		}
	}
}

func TestDisabledModeReturnsInput(t *testing.T) {
	r := New(config.ShortlinkDisabled, "http://127.0.0.1:1", "secret")
	out, err := r.Resolve(context.Background(), "https://example.com/a")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if out != "https://example.com/a" {
		t.Fatalf("expected original url, got %q", out)
	}
}

func TestEnabledModeShortens(t *testing.T) {
	fixed := time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/url/add" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Token secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		var req struct {
			URL    string `json:"url"`
			Expiry string `json:"expiry"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("bad body: %v", err)
		}
		if req.Expiry != "2024-03-11" {
			t.Errorf("expected tomorrow's expiry, got %q", req.Expiry)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"error": 0, "short": "https://s.io/abc", "msg": ""})
	}))
	defer srv.Close()

	r := New(config.ShortlinkEnabled, srv.URL, "secret", WithClock(func() time.Time { return fixed }))
	out, err := r.Resolve(context.Background(), "https://example.com/long")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if out != "https://s.io/abc" {
		t.Fatalf("expected short url, got %q", out)
	}
}

func TestEnabledModeAPIErrorFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"error": 2, "short": "", "msg": "quota"})
	}))
	defer srv.Close()

	r := New(config.ShortlinkEnabled, srv.URL, "secret")
	if _, err := r.Resolve(context.Background(), "https://example.com/a"); err == nil {
		t.Fatalf("expected error from non-zero api error code")
	}
}

func TestEnabledModeTransportFailureFails(t *testing.T) {
	r := New(config.ShortlinkEnabled, "http://127.0.0.1:1", "secret", WithTimeout(500*time.Millisecond))
	if _, err := r.Resolve(context.Background(), "https://example.com/a"); err == nil {
		t.Fatalf("expected transport error, not the raw url")
	}
}
