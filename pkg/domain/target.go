package domain

import (
	"fmt"
	"strings"
)

// By selects how a Target is located in the page.
type By string

const (
	ByText        By = "text"
	ByRole        By = "role"
	ByLabel       By = "label"
	ByPlaceholder By = "placeholder"
	ByCSS         By = "css"
)

// Target describes a UI element independently of the browser driver.
// Name matching is a case-insensitive substring match unless Exact is set.
// A Target with AnyOf matches when any alternative matches. Actions use the
// first match in document order, or the last one when Last is set.
type Target struct {
	By    By       `json:"by,omitempty"`
	Role  string   `json:"role,omitempty"`
	Name  string   `json:"name,omitempty"`
	Exact bool     `json:"exact,omitempty"`
	Last  bool     `json:"last,omitempty"`
	AnyOf []Target `json:"any_of,omitempty"`
}

// Text targets the element whose own text contains s.
func Text(s string) Target { return Target{By: ByText, Name: s} }

// Role targets an element with an ARIA role (button, link, tab...) and accessible name.
func Role(role, name string) Target { return Target{By: ByRole, Role: role, Name: name} }

// Button is shorthand for Role("button", name).
func Button(name string) Target { return Role("button", name) }

// Link is shorthand for Role("link", name).
func Link(name string) Target { return Role("link", name) }

// Label targets a form control by its label text.
func Label(s string) Target { return Target{By: ByLabel, Name: s} }

// Placeholder targets an input by its placeholder.
func Placeholder(s string) Target { return Target{By: ByPlaceholder, Name: s} }

// CSS targets elements by CSS selector.
func CSS(selector string) Target { return Target{By: ByCSS, Name: selector} }

// AnyOf matches the first visible alternative.
func AnyOf(targets ...Target) Target { return Target{AnyOf: targets} }

// Exactly returns a copy that matches the name exactly.
func (t Target) Exactly() Target {
	t.Exact = true
	return t
}

// Final returns a copy that resolves to the last match, e.g. the confirm
// button of a dialog appended after the button that opened it.
func (t Target) Final() Target {
	t.Last = true
	return t
}

func (t Target) String() string {
	if t.Last {
		t.Last = false
		return t.String() + ":last"
	}
	if len(t.AnyOf) > 0 {
		parts := make([]string, len(t.AnyOf))
		for i, alt := range t.AnyOf {
			parts[i] = alt.String()
		}
		return strings.Join(parts, " or ")
	}
	q := "%q"
	if t.Exact {
		q = "=%q"
	}
	switch t.By {
	case ByRole:
		return fmt.Sprintf("%s["+q+"]", t.Role, t.Name)
	default:
		return fmt.Sprintf("%s["+q+"]", t.By, t.Name)
	}
}
