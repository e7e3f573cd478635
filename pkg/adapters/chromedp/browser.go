// Package chromedp drives Chromium through the DevTools protocol. Every page
// lives in its own incognito browser context, so cookies and storage never
// leak between suites or between attempts of one suite.
package chromedp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/aretw0/canopy/pkg/ports"
)

// Option configures a Browser.
type Option func(*config)

type config struct {
	headless   bool
	execPath   string
	remoteURL  string
	ignoreTLS  bool
	width      int
	height     int
	logger     *slog.Logger
	now        func() time.Time
	extraFlags map[string]any
}

// WithHeadless toggles headless mode. Defaults to true.
func WithHeadless(headless bool) Option {
	return func(c *config) { c.headless = headless }
}

// WithExecPath points at a specific Chromium binary.
func WithExecPath(path string) Option {
	return func(c *config) { c.execPath = path }
}

// WithRemoteURL attaches to an already running browser (ws:// or http://
// DevTools endpoint) instead of launching one.
func WithRemoteURL(url string) Option {
	return func(c *config) { c.remoteURL = url }
}

// WithIgnoreHTTPSErrors accepts self-signed certificates of the lab services.
func WithIgnoreHTTPSErrors(ignore bool) Option {
	return func(c *config) { c.ignoreTLS = ignore }
}

// WithViewport sets the window size of every page.
func WithViewport(width, height int) Option {
	return func(c *config) {
		if width > 0 && height > 0 {
			c.width, c.height = width, height
		}
	}
}

// WithLogger sets the logger for browser lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithFlag passes an extra command-line flag to a launched browser.
func WithFlag(name string, value any) Option {
	return func(c *config) { c.extraFlags[name] = value }
}

// Browser is a ports.Browser backed by a single Chromium process.
type Browser struct {
	cfg        config
	browserCtx context.Context
	cancel     func()

	mu     sync.Mutex
	closed bool
}

var _ ports.Browser = (*Browser)(nil)

// New starts (or attaches to) the browser. The process is launched eagerly
// so that a missing binary fails the run before any suite is scheduled.
func New(ctx context.Context, opts ...Option) (*Browser, error) {
	cfg := config{
		headless:   true,
		ignoreTLS:  true,
		width:      1280,
		height:     720,
		logger:     slog.Default(),
		now:        time.Now,
		extraFlags: map[string]any{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	// The browser outlives any single request context.
	base := context.WithoutCancel(ctx)

	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if cfg.remoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(base, cfg.remoteURL)
	} else {
		flags := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", cfg.headless),
			chromedp.Flag("disable-gpu", cfg.headless),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("ignore-certificate-errors", cfg.ignoreTLS),
			chromedp.WindowSize(cfg.width, cfg.height),
		)
		if cfg.execPath != "" {
			flags = append(flags, chromedp.ExecPath(cfg.execPath))
		}
		for name, value := range cfg.extraFlags {
			flags = append(flags, chromedp.Flag(name, value))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(base, flags...)
	}

	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			cfg.logger.Debug("devtools error", "msg", fmt.Sprintf(format, args...))
		}),
	)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	cfg.logger.Info("browser started", "headless", cfg.headless, "remote", cfg.remoteURL != "")

	return &Browser{
		cfg:        cfg,
		browserCtx: browserCtx,
		cancel: func() {
			browserCancel()
			allocCancel()
		},
	}, nil
}

// NewPage opens a tab in a fresh browser context, injects the fixture's
// cookies and storage, and starts recording when asked to.
func (b *Browser) NewPage(ctx context.Context, opts ports.PageOptions) (ports.Page, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, errors.New("browser is closed")
	}

	tabCtx, cancel := chromedp.NewContext(b.browserCtx, chromedp.WithNewBrowserContext())
	p := &Page{ctx: tabCtx, cancel: cancel, logger: b.cfg.logger, now: b.cfg.now}
	if opts.Record {
		p.rec = newRecorder(b.cfg.now)
		p.rec.listen(tabCtx)
	}

	setup := []chromedp.Action{network.Enable()}
	if f := opts.Fixture; f != nil {
		if len(f.Cookies) > 0 {
			setup = append(setup, network.SetCookies(toCookieParams(f.Cookies)))
		}
		if len(f.Storage) > 0 {
			seed, err := storageSeedJS(f.Storage)
			if err != nil {
				cancel()
				return nil, err
			}
			setup = append(setup, chromedp.ActionFunc(func(ctx context.Context) error {
				_, err := page.AddScriptToEvaluateOnNewDocument(seed).Do(ctx)
				return err
			}))
		}
	}
	if opts.Record {
		setup = append(setup, page.Enable(), startScreencast())
	}

	rctx, release := p.bind(ctx)
	defer release()
	if err := chromedp.Run(rctx, setup...); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	return p, nil
}

// Close shuts the browser down. Pages still open are discarded.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.cancel()
	return nil
}
