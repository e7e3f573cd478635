package middleware

import (
	"context"
	"regexp"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

// Mask replaces redacted values.
const Mask = "***"

// DefaultRedactPatterns match the cookie names and storage keys that carry
// session secrets on the services under test.
var DefaultRedactPatterns = []string{
	`(?i)session`,
	`(?i)token`,
	`(?i)^KEYCLOAK_`,
	`(?i)^AUTH_`,
	`(?i)grafana_session`,
	`(?i)^i_like_gitea$`,
	`(?i)csrf`,
}

type redactMiddleware struct {
	next     ports.FixtureStore
	patterns []*regexp.Regexp
}

// NewRedactMiddleware masks cookie values and storage values whose names
// match any pattern when a fixture is loaded. It is meant for operator
// inspection; a redacted fixture cannot authenticate a browser. Writes pass
// through unchanged.
func NewRedactMiddleware(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	return func(next ports.FixtureStore) ports.FixtureStore {
		return &redactMiddleware{next: next, patterns: patterns}
	}
}

func (m *redactMiddleware) Save(ctx context.Context, runID string, fixture *domain.SessionFixture) error {
	return m.next.Save(ctx, runID, fixture)
}

func (m *redactMiddleware) Load(ctx context.Context, runID string) (*domain.SessionFixture, error) {
	f, err := m.next.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	// Stores may hand out shared instances.
	f = f.Clone()
	for i, c := range f.Cookies {
		if m.matches(c.Name) {
			f.Cookies[i].Value = Mask
		}
	}
	for _, kv := range f.Storage {
		for k := range kv {
			if m.matches(k) {
				kv[k] = Mask
			}
		}
	}
	return f, nil
}

func (m *redactMiddleware) Delete(ctx context.Context, runID string) error {
	return m.next.Delete(ctx, runID)
}

func (m *redactMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func (m *redactMiddleware) matches(name string) bool {
	for _, p := range m.patterns {
		if p.MatchString(name) {
			return true
		}
	}
	return false
}
