package render

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/timmy/scrapewatch/internal/config"
	"github.com/timmy/scrapewatch/internal/domain"
)

func TestHTTPRendererFetchesAndParses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "test-agent" {
			t.Errorf("unexpected user agent %q", ua)
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Hello</title></head><body><a href="/x">x</a></body></html>`))
	}))
	defer srv.Close()

	r := NewHTTPRenderer(&config.RenderConfig{Timeout: 5 * time.Second, UserAgent: "test-agent"})
	doc, err := r.Render(context.Background(), srv.URL+"/page")
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if doc.Title() != "Hello" {
		t.Errorf("Title() = %q", doc.Title())
	}
	if got := doc.Resolve("/x"); got != srv.URL+"/x" {
		t.Errorf("Resolve() = %q", got)
	}
}

func TestHTTPRendererErrorKinds(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		timeout  time.Duration
		wantKind domain.ExternalKind
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			timeout:  5 * time.Second,
			wantKind: domain.KindRender,
		},
		{
			name: "empty body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			},
			timeout:  5 * time.Second,
			wantKind: domain.KindRender,
		},
		{
			name: "slow server",
			handler: func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(300 * time.Millisecond)
				w.Write([]byte("<p>late</p>"))
			},
			timeout:  50 * time.Millisecond,
			wantKind: domain.KindTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			r := NewHTTPRenderer(&config.RenderConfig{Timeout: tt.timeout})
			_, err := r.Render(context.Background(), srv.URL)
			kind, ok := domain.ExternalKindOf(err)
			if !ok || kind != tt.wantKind {
				t.Fatalf("expected %s error, got %v", tt.wantKind, err)
			}
			if !domain.IsTransient(err) {
				t.Error("render failures should be retryable")
			}
		})
	}
}

func TestHTTPRendererCapsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<p>" + strings.Repeat("a", 4096) + "</p>"))
	}))
	defer srv.Close()

	r := NewHTTPRenderer(&config.RenderConfig{Timeout: 5 * time.Second, MaxBodyBytes: 64})
	doc, err := r.Render(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if len(doc.HTML) != 64 {
		t.Errorf("expected body capped at 64 bytes, got %d", len(doc.HTML))
	}
}

func TestNewRejectsUnknownMode(t *testing.T) {
	if _, err := New(&config.RenderConfig{Mode: "carrier-pigeon"}); err == nil {
		t.Error("expected error for unknown mode")
	}
}
