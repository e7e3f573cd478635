package chromedp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"

	"github.com/aretw0/canopy/pkg/domain"
)

func fromNetworkCookies(in []*network.Cookie) []domain.Cookie {
	out := make([]domain.Cookie, 0, len(in))
	for _, c := range in {
		out = append(out, domain.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return out
}

func toCookieParams(in []domain.Cookie) []*network.CookieParam {
	out := make([]*network.CookieParam, 0, len(in))
	for _, c := range in {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: network.CookieSameSite(c.SameSite),
		}
		// Session cookies carry no expiry; a negative value is Chrome's marker for it.
		if c.Expires > 0 {
			sec := int64(c.Expires)
			nsec := int64((c.Expires - float64(sec)) * float64(time.Second))
			exp := cdp.TimeSinceEpoch(time.Unix(sec, nsec))
			p.Expires = &exp
		}
		out = append(out, p)
	}
	return out
}

// storageSeedJS seeds localStorage for the current origin before any page
// script runs. Keys already written by the application are kept.
func storageSeedJS(storage map[string]map[string]string) (string, error) {
	raw, err := json.Marshal(storage)
	if err != nil {
		return "", fmt.Errorf("encode fixture storage: %w", err)
	}
	return fmt.Sprintf(`(function(all) {
	const kv = all[window.location.origin];
	if (!kv) return;
	try {
		for (const [k, v] of Object.entries(kv)) {
			if (window.localStorage.getItem(k) === null) window.localStorage.setItem(k, v);
		}
	} catch (e) {}
})(%s);`, raw), nil
}

// storageReadJS returns the origin and localStorage of the current document.
const storageReadJS = `(function() {
	const out = {};
	try {
		for (let i = 0; i < window.localStorage.length; i++) {
			const k = window.localStorage.key(i);
			out[k] = window.localStorage.getItem(k);
		}
	} catch (e) {}
	return {origin: window.location.origin, storage: out};
})()`

type storageRead struct {
	Origin  string            `json:"origin"`
	Storage map[string]string `json:"storage"`
}
