package ports

import (
	"context"

	"github.com/aretw0/canopy/pkg/domain"
)

// PageOptions configures a fresh browser context.
type PageOptions struct {
	// Fixture is injected (cookies and storage) before the first navigation.
	Fixture *domain.SessionFixture
	// Record enables trace and video capture for this context.
	Record bool
}

// Browser opens isolated pages. Each page owns its own browser context, so no
// state leaks between suites or between attempts of one suite.
type Browser interface {
	NewPage(ctx context.Context, opts PageOptions) (Page, error)
	Close() error
}

// Recording is what a recording page captured before it was closed.
type Recording struct {
	Trace []byte
	Video []byte
}

// Page drives a single browser tab. Every method is a single non-waiting
// action; waiting for a state is the caller's responsibility.
type Page interface {
	// Goto navigates and returns the HTTP status of the main document.
	Goto(ctx context.Context, url string) (int, error)
	// Visible reports whether the target is currently rendered and visible.
	Visible(ctx context.Context, target domain.Target) (bool, error)
	Click(ctx context.Context, target domain.Target) error
	Fill(ctx context.Context, target domain.Target, value string) error
	Check(ctx context.Context, target domain.Target) error
	// Value returns the current value of a form control.
	Value(ctx context.Context, target domain.Target) (string, error)
	// Text returns the visible text of the document body.
	Text(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	// Snapshot reads the authentication material of the context.
	Snapshot(ctx context.Context) (domain.Snapshot, error)
	Screenshot(ctx context.Context) ([]byte, error)
	// Close discards the context. Recording is nil unless PageOptions.Record was set.
	Close(ctx context.Context) (*Recording, error)
}
