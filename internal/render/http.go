package render

import (
	"context"
	"fmt"
	"io"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/scrapewatch/internal/config"
	"github.com/timmy/scrapewatch/internal/domain"
	"github.com/timmy/scrapewatch/internal/extract"
)

const defaultMaxBody = 10 << 20

// HTTPRenderer fetches static HTML without executing scripts.
type HTTPRenderer struct {
	client  *resty.Client
	maxBody int64
}

// NewHTTPRenderer creates an HTTPRenderer.
// Parameters:
//   - cfg: render configuration (timeout, user agent, body cap).
//
// Returns:
//   - *HTTPRenderer: renderer backed by a resty client.
func NewHTTPRenderer(cfg *config.RenderConfig) *HTTPRenderer {
	client := resty.New()
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	client.SetHeader("Accept", "text/html,application/xhtml+xml")

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	return &HTTPRenderer{client: client, maxBody: maxBody}
}

// Render fetches pageURL and parses the response body.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - pageURL: absolute URL to fetch.
//
// Returns:
//   - *extract.Document: parsed page.
//   - error: TimeoutError on deadline, RenderError on any other failure.
func (r *HTTPRenderer) Render(ctx context.Context, pageURL string) (*extract.Document, error) {
	resp, err := r.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(pageURL)
	if err != nil {
		if isTimeout(err) || ctx.Err() != nil {
			return nil, domain.NewTimeoutError("fetch", err)
		}
		return nil, domain.NewRenderError("fetch", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, domain.NewRenderError("fetch", fmt.Errorf("%s returned HTTP %d", pageURL, resp.StatusCode()))
	}

	data, err := io.ReadAll(io.LimitReader(body, r.maxBody))
	if err != nil {
		if isTimeout(err) {
			return nil, domain.NewTimeoutError("read", err)
		}
		return nil, domain.NewRenderError("read", err)
	}

	finalURL := pageURL
	if resp.RawResponse != nil && resp.RawResponse.Request != nil && resp.RawResponse.Request.URL != nil {
		finalURL = resp.RawResponse.Request.URL.String()
	}
	return extract.Parse(finalURL, data)
}

// Close is a no-op for the HTTP renderer.
func (r *HTTPRenderer) Close() error {
	return nil
}
