package chromedp_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy/pkg/adapters/chromedp"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

const loginPage = `<!doctype html>
<html><body>
<form onsubmit="event.preventDefault(); localStorage.setItem('token', document.getElementById('u').value); document.cookie = 'sid=abc; path=/'; document.getElementById('out').textContent = 'Welcome ' + document.getElementById('u').value;">
  <label for="u">Username</label><input id="u" name="username">
  <label><input type="checkbox" id="remember"> Remember me</label>
  <button type="submit">Sign In</button>
</form>
<p id="out"></p>
<button style="display:none">Hidden</button>
</body></html>`

func startBrowser(t *testing.T) *chromedp.Browser {
	t.Helper()
	if testing.Short() {
		t.Skip("browser tests are skipped in short mode")
	}
	found := false
	for _, name := range []string{"chromium", "chromium-browser", "google-chrome", "headless-shell"} {
		if _, err := exec.LookPath(name); err == nil {
			found = true
			break
		}
	}
	if !found {
		t.Skip("no Chromium binary on PATH")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	b, err := chromedp.New(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBrowser_LoginFlowAndSnapshot(t *testing.T) {
	b := startBrowser(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(loginPage))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	p, err := b.NewPage(ctx, ports.PageOptions{Record: true})
	require.NoError(t, err)

	status, err := p.Goto(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	visible, err := p.Visible(ctx, domain.Button("hidden"))
	require.NoError(t, err)
	assert.False(t, visible)

	require.NoError(t, p.Fill(ctx, domain.Label("username"), "admin"))
	require.NoError(t, p.Check(ctx, domain.Label("remember me")))
	require.NoError(t, p.Click(ctx, domain.Button("sign in")))

	text, err := p.Text(ctx)
	require.NoError(t, err)
	assert.Contains(t, text, "Welcome admin")

	snap, err := p.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "admin", snap.Storage[snap.Origin]["token"])
	require.NotEmpty(t, snap.Cookies)
	assert.Equal(t, "sid", snap.Cookies[0].Name)

	rec, err := p.Close(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Contains(t, string(rec.Trace), `"action":"click"`)
}

func TestBrowser_FixtureIsInjected(t *testing.T) {
	b := startBrowser(t)
	var seen string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("KEYCLOAK_SESSION"); err == nil {
			seen = c.Value
		}
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	f := domain.NewSessionFixture("run-1", "admin")
	f.Cookies = []domain.Cookie{{Name: "KEYCLOAK_SESSION", Value: "opaque", Domain: "127.0.0.1", Path: "/"}}
	p, err := b.NewPage(ctx, ports.PageOptions{Fixture: f})
	require.NoError(t, err)
	defer p.Close(ctx)

	_, err = p.Goto(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "opaque", seen)
}
