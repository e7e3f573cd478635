package testutils

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

// FakeBrowser hands out scriptable pages. Script is applied to every new
// page, so each attempt sees the same site model from a clean state.
type FakeBrowser struct {
	Script  func(p *FakePage)
	OpenErr error

	mu     sync.Mutex
	pages  []*FakePage
	closed bool
}

// NewPage implements ports.Browser.
func (b *FakeBrowser) NewPage(ctx context.Context, opts ports.PageOptions) (ports.Page, error) {
	if b.OpenErr != nil {
		return nil, b.OpenErr
	}
	p := NewFakePage()
	p.Fixture = opts.Fixture
	p.Record = opts.Record
	if b.Script != nil {
		b.Script(p)
	}
	b.mu.Lock()
	b.pages = append(b.pages, p)
	b.mu.Unlock()
	return p, nil
}

// Close implements ports.Browser.
func (b *FakeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Pages returns every page opened so far.
func (b *FakeBrowser) Pages() []*FakePage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*FakePage(nil), b.pages...)
}

// FakePage is an in-memory page. Visibility is keyed by Target.String() of
// single targets; AnyOf targets are visible when any alternative is.
type FakePage struct {
	mu sync.Mutex

	Fixture *domain.SessionFixture
	Record  bool

	CurrentURL string
	Body       string
	Statuses   map[string]int
	Values     map[string]string
	visible    map[string]bool

	OnGoto  func(p *FakePage, url string) error
	OnClick func(p *FakePage, target domain.Target) error
	OnFill  func(p *FakePage, target domain.Target, value string) error
	Snap    domain.Snapshot

	Gotos  []string
	Clicks []string
	Fills  map[string]string
	Closed bool
}

// NewFakePage creates an empty page.
func NewFakePage() *FakePage {
	return &FakePage{
		Statuses: make(map[string]int),
		Values:   make(map[string]string),
		Fills:    make(map[string]string),
		visible:  make(map[string]bool),
	}
}

// Show makes targets visible. Callers from hooks already hold no lock.
func (p *FakePage) Show(targets ...domain.Target) {
	for _, t := range targets {
		p.visible[t.String()] = true
	}
}

// Hide makes targets invisible.
func (p *FakePage) Hide(targets ...domain.Target) {
	for _, t := range targets {
		delete(p.visible, t.String())
	}
}

// Reset hides everything.
func (p *FakePage) Reset() {
	p.visible = make(map[string]bool)
}

func (p *FakePage) isVisible(t domain.Target) bool {
	if len(t.AnyOf) > 0 {
		for _, alt := range t.AnyOf {
			if p.isVisible(alt) {
				return true
			}
		}
		return false
	}
	return p.visible[t.String()]
}

func (p *FakePage) Goto(ctx context.Context, url string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.Gotos = append(p.Gotos, url)
	p.CurrentURL = url
	if p.OnGoto != nil {
		if err := p.OnGoto(p, url); err != nil {
			return 0, err
		}
	}
	if s, ok := p.Statuses[url]; ok {
		return s, nil
	}
	return 200, nil
}

func (p *FakePage) Visible(ctx context.Context, target domain.Target) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isVisible(target), ctx.Err()
}

func (p *FakePage) Click(ctx context.Context, target domain.Target) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.isVisible(target) {
		return fmt.Errorf("%s not visible", target)
	}
	p.Clicks = append(p.Clicks, target.String())
	if p.OnClick != nil {
		return p.OnClick(p, target)
	}
	return nil
}

func (p *FakePage) Fill(ctx context.Context, target domain.Target, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.isVisible(target) {
		return fmt.Errorf("%s not visible", target)
	}
	p.Fills[target.String()] = value
	p.Values[target.String()] = value
	if p.OnFill != nil {
		return p.OnFill(p, target, value)
	}
	return nil
}

func (p *FakePage) Check(ctx context.Context, target domain.Target) error {
	return p.Fill(ctx, target, "on")
}

func (p *FakePage) Value(ctx context.Context, target domain.Target) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Values[target.String()], nil
}

func (p *FakePage) Text(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Body, nil
}

func (p *FakePage) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CurrentURL, nil
}

func (p *FakePage) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Snap, nil
}

func (p *FakePage) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte("png"), nil
}

func (p *FakePage) Close(ctx context.Context) (*ports.Recording, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	if !p.Record {
		return nil, nil
	}
	return &ports.Recording{Trace: []byte("{}\n"), Video: []byte("mjpeg")}, nil
}

// Clicked reports whether a target with the given description was clicked.
func (p *FakePage) Clicked(substr string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.Clicks {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}

// MemorySink is an ArtifactSink that keeps artifacts in memory.
type MemorySink struct {
	mu        sync.Mutex
	Artifacts []ports.Artifact
}

// Put implements ports.ArtifactSink.
func (s *MemorySink) Put(ctx context.Context, a ports.Artifact) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Artifacts = append(s.Artifacts, a)
	return "mem://" + a.Name(), nil
}

// Kinds returns the artifact kinds stored for a suite.
func (s *MemorySink) Kinds(suiteID string) []ports.ArtifactKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ports.ArtifactKind
	for _, a := range s.Artifacts {
		if a.SuiteID == suiteID {
			out = append(out, a.Kind)
		}
	}
	return out
}
