package chromedp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

var errNoMatch = errors.New("no visible element matches")

// Page is a ports.Page bound to one tab of one browser context.
type Page struct {
	ctx    context.Context
	cancel context.CancelFunc
	rec    *recorder
	logger *slog.Logger
	now    func() time.Time

	closeOnce sync.Once
}

var _ ports.Page = (*Page)(nil)

// bind derives a context usable by chromedp (it must descend from the tab
// context) that also honours the caller's deadline and cancellation.
func (p *Page) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	c, cancel := context.WithCancel(p.ctx)
	if dl, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		c, cancelDeadline = context.WithDeadline(c, dl)
		prev := cancel
		cancel = func() { cancelDeadline(); prev() }
	}
	stop := context.AfterFunc(ctx, cancel)
	return c, func() {
		stop()
		cancel()
	}
}

func (p *Page) run(ctx context.Context, name, target string, actions ...chromedp.Action) error {
	started := p.now()
	c, release := p.bind(ctx)
	defer release()
	err := chromedp.Run(c, actions...)
	p.rec.action(name, target, started, err)
	return err
}

// eval runs body against the element matched by target.
func (p *Page) eval(ctx context.Context, name string, t domain.Target, body, fallback string, out any) error {
	js, err := script(t, body, fallback)
	if err != nil {
		return err
	}
	return p.run(ctx, name, t.String(), chromedp.Evaluate(js, out))
}

func (p *Page) Goto(ctx context.Context, url string) (int, error) {
	started := p.now()
	c, release := p.bind(ctx)
	defer release()
	resp, err := chromedp.RunResponse(c, chromedp.Navigate(url))
	p.rec.action("goto", url, started, err)
	if err != nil {
		return 0, err
	}
	if resp == nil {
		// Same-document navigation.
		return 0, nil
	}
	return int(resp.Status), nil
}

func (p *Page) Visible(ctx context.Context, t domain.Target) (bool, error) {
	js, err := script(t, "return true;", "false")
	if err != nil {
		return false, err
	}
	var ok bool
	c, release := p.bind(ctx)
	defer release()
	// Polled by the caller, so not traced.
	if err := chromedp.Run(c, chromedp.Evaluate(js, &ok)); err != nil {
		return false, err
	}
	return ok, nil
}

func (p *Page) Click(ctx context.Context, t domain.Target) error {
	var ok bool
	if err := p.eval(ctx, "click", t, `el.scrollIntoView({block: "center"}); el.click(); return true;`, "false", &ok); err != nil {
		return err
	}
	if !ok {
		return errNoMatch
	}
	return nil
}

func (p *Page) Fill(ctx context.Context, t domain.Target, value string) error {
	var ok bool
	reset := `el.scrollIntoView({block: "center"}); el.focus();
		if (typeof el.select === "function") { el.select(); }
		if ("value" in el) { el.value = ""; el.dispatchEvent(new Event("input", {bubbles: true})); }
		else if (el.isContentEditable) { el.textContent = ""; }
		return true;`
	if err := p.eval(ctx, "fill", t, reset, "false", &ok); err != nil {
		return err
	}
	if !ok {
		return errNoMatch
	}
	// InsertText goes through the input pipeline, so frameworks see real
	// input events.
	return p.run(ctx, "type", t.String(), input.InsertText(value))
}

func (p *Page) Check(ctx context.Context, t domain.Target) error {
	var ok bool
	body := `if (el.getAttribute("role") === "switch" || el.getAttribute("role") === "checkbox") {
			if (el.getAttribute("aria-checked") !== "true") { el.click(); }
			return true;
		}
		if (!el.checked) { el.click(); }
		return true;`
	if err := p.eval(ctx, "check", t, body, "false", &ok); err != nil {
		return err
	}
	if !ok {
		return errNoMatch
	}
	return nil
}

func (p *Page) Value(ctx context.Context, t domain.Target) (string, error) {
	var out *string
	body := `return ("value" in el) ? String(el.value) : el.textContent;`
	if err := p.eval(ctx, "value", t, body, "null", &out); err != nil {
		return "", err
	}
	if out == nil {
		return "", errNoMatch
	}
	return *out, nil
}

func (p *Page) Text(ctx context.Context) (string, error) {
	var text string
	c, release := p.bind(ctx)
	defer release()
	err := chromedp.Run(c, chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text))
	return text, err
}

func (p *Page) URL(ctx context.Context) (string, error) {
	var url string
	c, release := p.bind(ctx)
	defer release()
	err := chromedp.Run(c, chromedp.Location(&url))
	return url, err
}

// Snapshot reads every cookie of the browser context plus the localStorage
// of the current origin.
func (p *Page) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	var (
		snap domain.Snapshot
		read storageRead
	)
	err := p.run(ctx, "snapshot", "", chromedp.ActionFunc(func(ctx context.Context) error {
		req := storage.GetCookies()
		if c := chromedp.FromContext(ctx); c != nil && c.BrowserContextID != "" {
			req = req.WithBrowserContextID(cdp.BrowserContextID(c.BrowserContextID))
		}
		cookies, err := req.Do(ctx)
		if err != nil {
			return fmt.Errorf("read cookies: %w", err)
		}
		snap.Cookies = fromNetworkCookies(cookies)
		return nil
	}), chromedp.Evaluate(storageReadJS, &read))
	if err != nil {
		return domain.Snapshot{}, err
	}
	snap.Origin = read.Origin
	if len(read.Storage) > 0 && read.Origin != "" {
		snap.Storage = map[string]map[string]string{read.Origin: read.Storage}
	}
	return snap, nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, "screenshot", "", chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(ctx)
		return err
	}))
	return buf, err
}

// Close stops recording and discards the browser context.
func (p *Page) Close(ctx context.Context) (*ports.Recording, error) {
	var (
		rec *ports.Recording
		err error
	)
	p.closeOnce.Do(func() {
		if p.rec != nil {
			c, release := p.bind(ctx)
			if stopErr := chromedp.Run(c, page.StopScreencast()); stopErr != nil {
				p.logger.Debug("failed to stop screencast", "err", stopErr)
			}
			release()
			rec = &ports.Recording{Trace: p.rec.trace(), Video: p.rec.video()}
		}
		err = chromedp.Cancel(p.ctx)
		p.cancel()
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	})
	return rec, err
}
