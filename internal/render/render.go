// Package render fetches target pages and turns them into parsed documents.
package render

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/timmy/scrapewatch/internal/config"
	"github.com/timmy/scrapewatch/internal/extract"
)

// Renderer fetches and renders a page.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (*extract.Document, error)
	Close() error
}

// New creates the renderer selected by cfg.Mode.
func New(cfg *config.RenderConfig) (Renderer, error) {
	switch cfg.Mode {
	case "", "http":
		return NewHTTPRenderer(cfg), nil
	case "browser":
		return NewBrowserRenderer(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported render mode: %s", cfg.Mode)
	}
}

// isTimeout reports whether err came from a deadline, either the caller's
// context or the transport's own timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
