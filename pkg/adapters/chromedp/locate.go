package chromedp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aretw0/canopy/pkg/domain"
)

// query is one way of finding elements: an XPath expression or a CSS selector.
type query struct {
	Kind string `json:"kind"`
	Expr string `json:"expr"`
}

// spec is the resolved form of a Target handed to the in-page finder.
type spec struct {
	Queries []query `json:"queries"`
	Last    bool    `json:"last"`
}

func resolve(t domain.Target) spec {
	return spec{Queries: queries(t), Last: t.Last}
}

func queries(t domain.Target) []query {
	if len(t.AnyOf) > 0 {
		var out []query
		for _, alt := range t.AnyOf {
			out = append(out, queries(alt)...)
		}
		return out
	}
	if t.By == domain.ByCSS {
		return []query{{Kind: "css", Expr: t.Name}}
	}
	return []query{{Kind: "xpath", Expr: toXPath(t)}}
}

const (
	upper = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lower = "abcdefghijklmnopqrstuvwxyz"
)

// lc lower-cases an XPath 1.0 string expression (ASCII only).
func lc(expr string) string {
	return fmt.Sprintf("translate(%s, '%s', '%s')", expr, upper, lower)
}

// textMatch matches the normalized expression against name: a
// case-insensitive substring by default, equality when exact.
func textMatch(expr, name string, exact bool) string {
	if exact {
		return fmt.Sprintf("normalize-space(%s) = %s", expr, literal(name))
	}
	return fmt.Sprintf("contains(%s, %s)", lc("normalize-space("+expr+")"), literal(strings.ToLower(name)))
}

// literal quotes s as an XPath string literal. XPath has no escapes, so a
// string holding both quote kinds is built with concat().
func literal(s string) string {
	switch {
	case !strings.Contains(s, "'"):
		return "'" + s + "'"
	case !strings.Contains(s, `"`):
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, 2*len(parts)-1)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		quoted = append(quoted, "'"+p+"'")
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}

var roleElements = map[string]string{
	"button":   "self::button or (self::input and (@type='submit' or @type='button' or @type='reset'))",
	"link":     "self::a[@href]",
	"dialog":   "self::dialog or @role='alertdialog'",
	"textbox":  "self::textarea or (self::input and (not(@type) or @type='text' or @type='email' or @type='search'))",
	"checkbox": "self::input[@type='checkbox']",
	"heading":  "self::h1 or self::h2 or self::h3 or self::h4 or self::h5 or self::h6",
}

const formControl = "(self::input or self::select or self::textarea)"

func toXPath(t domain.Target) string {
	switch t.By {
	case domain.ByRole:
		pred := fmt.Sprintf("@role=%s", literal(t.Role))
		if native, ok := roleElements[t.Role]; ok {
			pred = fmt.Sprintf("%s or %s", native, pred)
		}
		if t.Name == "" {
			return fmt.Sprintf("//*[%s]", pred)
		}
		name := strings.Join([]string{
			textMatch("@aria-label", t.Name, t.Exact),
			textMatch(".", t.Name, t.Exact),
			textMatch("@value", t.Name, t.Exact),
			textMatch("@title", t.Name, t.Exact),
		}, " or ")
		return fmt.Sprintf("//*[(%s) and (%s)]", pred, name)

	case domain.ByLabel:
		label := textMatch(".", t.Name, t.Exact)
		return fmt.Sprintf("//*[%s and (@id = //label[%s]/@for or ancestor::label[%s] or %s)]",
			formControl, label, label, textMatch("@aria-label", t.Name, t.Exact))

	case domain.ByPlaceholder:
		return fmt.Sprintf("//*[(self::input or self::textarea) and %s]", textMatch("@placeholder", t.Name, t.Exact))

	default:
		// The innermost element whose text matches, like a user reading the page.
		m := textMatch(".", t.Name, t.Exact)
		return fmt.Sprintf("//body//*[not(self::script or self::style) and %s and not(*[%s])]", m, m)
	}
}

// finderJS resolves a spec to the first (or last) visible element in
// document order, across every query of the spec.
const finderJS = `(function(spec) {
	const seen = new Set();
	const all = [];
	for (const q of spec.queries) {
		if (q.kind === "css") {
			for (const el of document.querySelectorAll(q.expr)) {
				if (!seen.has(el)) { seen.add(el); all.push(el); }
			}
			continue;
		}
		const r = document.evaluate(q.expr, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
		for (let i = 0; i < r.snapshotLength; i++) {
			const el = r.snapshotItem(i);
			if (!seen.has(el)) { seen.add(el); all.push(el); }
		}
	}
	all.sort((a, b) => a === b ? 0 : (a.compareDocumentPosition(b) & Node.DOCUMENT_POSITION_FOLLOWING ? -1 : 1));
	const visible = all.filter((el) => {
		const rect = el.getBoundingClientRect();
		const style = window.getComputedStyle(el);
		return rect.width > 0 && rect.height > 0 && style.visibility !== "hidden" && style.display !== "none";
	});
	if (visible.length === 0) return null;
	return spec.last ? visible[visible.length - 1] : visible[0];
})`

// script wraps body so it runs with el bound to the resolved element, and
// returns fallback when nothing matches.
func script(t domain.Target, body, fallback string) (string, error) {
	raw, err := json.Marshal(resolve(t))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(function() { const el = %s(%s); if (!el) { return %s; } %s })()", finderJS, raw, fallback, body), nil
}
