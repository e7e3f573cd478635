package domain

import (
	"maps"
	"slices"
	"time"
)

// FixtureState is the lifecycle state of a SessionFixture.
type FixtureState string

const (
	FixtureUnauthenticated      FixtureState = "unauthenticated"
	FixtureAuthenticating       FixtureState = "authenticating"
	FixtureAuthenticated        FixtureState = "authenticated"
	FixturePersisted            FixtureState = "persisted"
	FixtureAuthenticationFailed FixtureState = "authentication_failed"
)

var fixtureTransitions = map[FixtureState][]FixtureState{
	FixtureUnauthenticated: {FixtureAuthenticating},
	FixtureAuthenticating:  {FixtureAuthenticated, FixtureAuthenticationFailed},
	FixtureAuthenticated:   {FixturePersisted, FixtureAuthenticationFailed},
}

// CanTransition reports whether the fixture state machine allows from -> to.
func CanTransition(from, to FixtureState) bool {
	return slices.Contains(fixtureTransitions[from], to)
}

// Terminal reports whether no further transition is possible.
func (s FixtureState) Terminal() bool {
	return len(fixtureTransitions[s]) == 0
}

// Cookie is a browser cookie captured from the broker session.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"` // seconds since epoch, 0 for session cookies
	HTTPOnly bool    `json:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"same_site,omitempty"`
}

// SessionFixture is a serialized authentication context captured after an
// interactive login against the identity broker.
type SessionFixture struct {
	RunID     string       `json:"run_id"`
	Principal string       `json:"principal"`
	Origin    string       `json:"origin"`
	State     FixtureState `json:"state"`
	Cookies   []Cookie     `json:"cookies"`
	// Storage maps origin -> localStorage key -> value.
	Storage    map[string]map[string]string `json:"storage,omitempty"`
	Error      string                       `json:"error,omitempty"`
	CapturedAt time.Time                    `json:"captured_at,omitzero"`
	VerifiedAt *time.Time                   `json:"verified_at,omitempty"`
	// Sealed carries the whole fixture as an encrypted envelope when the
	// store is wrapped by the encryption middleware.
	Sealed string `json:"sealed,omitempty"`
}

// NewSessionFixture creates an unauthenticated fixture for a run.
func NewSessionFixture(runID, principal string) *SessionFixture {
	return &SessionFixture{
		RunID:     runID,
		Principal: principal,
		State:     FixtureUnauthenticated,
		Storage:   make(map[string]map[string]string),
	}
}

// Empty reports whether the fixture carries no authentication material.
func (f *SessionFixture) Empty() bool {
	if len(f.Cookies) > 0 {
		return false
	}
	for _, kv := range f.Storage {
		if len(kv) > 0 {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (f *SessionFixture) Clone() *SessionFixture {
	if f == nil {
		return nil
	}
	c := *f
	c.Cookies = slices.Clone(f.Cookies)
	c.Storage = make(map[string]map[string]string, len(f.Storage))
	for origin, kv := range f.Storage {
		c.Storage[origin] = maps.Clone(kv)
	}
	if f.VerifiedAt != nil {
		t := *f.VerifiedAt
		c.VerifiedAt = &t
	}
	return &c
}

// Snapshot is the authentication material read from a live browser context.
type Snapshot struct {
	Origin  string
	Cookies []Cookie
	Storage map[string]map[string]string
}
