package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/timmy/scrapewatch/internal/config"
	"github.com/timmy/scrapewatch/internal/domain"
	"github.com/timmy/scrapewatch/internal/extract"
	"github.com/timmy/scrapewatch/internal/logger"
)

// BrowserRenderer renders pages in headless Chrome so script-built content
// is visible to selectors. Chrome is started lazily on the first render and
// shared by all tabs.
type BrowserRenderer struct {
	cfg *config.RenderConfig

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// NewBrowserRenderer creates a BrowserRenderer. No browser is launched yet.
func NewBrowserRenderer(cfg *config.RenderConfig) *BrowserRenderer {
	return &BrowserRenderer{cfg: cfg}
}

func (r *BrowserRenderer) connect() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		return r.browser, nil
	}

	wsURL := r.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().
			Headless(true).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		wsURL = u
		r.lnch = l
		logger.With(logger.Fields{logger.FieldComponent: "render"}).
			Info(context.Background(), "Launched local chrome")
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect chrome: %w", err)
	}
	r.browser = b
	return b, nil
}

// Render opens a tab, navigates to pageURL, waits for load and returns the
// serialized DOM.
func (r *BrowserRenderer) Render(ctx context.Context, pageURL string) (*extract.Document, error) {
	b, err := r.connect()
	if err != nil {
		return nil, domain.NewRenderError("browser", err)
	}

	var page *rod.Page
	if r.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, domain.NewRenderError("open tab", err)
	}
	defer page.Close()

	timeout := r.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p := page.Context(navCtx)
	if r.cfg.UserAgent != "" {
		if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: r.cfg.UserAgent}); err != nil {
			return nil, r.wrap("user agent", err)
		}
	}
	if err := p.Navigate(pageURL); err != nil {
		return nil, r.wrap("navigate", err)
	}
	if err := p.WaitLoad(); err != nil {
		return nil, r.wrap("wait load", err)
	}

	res, err := p.Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, r.wrap("serialize dom", err)
	}

	finalURL := pageURL
	if info, err := p.Info(); err == nil && info.URL != "" {
		finalURL = info.URL
	}
	return extract.Parse(finalURL, []byte(res.Value.Str()))
}

func (r *BrowserRenderer) wrap(op string, err error) error {
	if isTimeout(err) || errors.Is(err, context.Canceled) {
		return domain.NewTimeoutError(op, err)
	}
	return domain.NewRenderError(op, err)
}

// Close shuts down the shared browser and any locally launched Chrome.
func (r *BrowserRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if r.browser != nil {
		err = r.browser.Close()
		r.browser = nil
	}
	if r.lnch != nil {
		r.lnch.Kill()
		r.lnch = nil
	}
	return err
}
