package file

import (
	"context"
	"path/filepath"

	"github.com/aretw0/canopy/pkg/ports"
)

// DefaultArtifactDir matches the conventional test results directory.
const DefaultArtifactDir = "test-results"

// ArtifactSink writes artifacts under a local directory.
type ArtifactSink struct {
	BasePath string
}

// NewArtifactSink creates a sink. An empty basePath means DefaultArtifactDir.
func NewArtifactSink(basePath string) *ArtifactSink {
	if basePath == "" {
		basePath = DefaultArtifactDir
	}
	return &ArtifactSink{BasePath: basePath}
}

// Put writes the artifact and returns its path.
func (s *ArtifactSink) Put(ctx context.Context, a ports.Artifact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(s.BasePath, filepath.FromSlash(a.Name()))
	if err := writeAtomic(path, a.Data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
