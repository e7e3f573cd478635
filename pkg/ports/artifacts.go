package ports

import (
	"context"
	"fmt"
)

// ArtifactKind names a diagnostic artifact.
type ArtifactKind string

const (
	ArtifactTrace      ArtifactKind = "trace"
	ArtifactScreenshot ArtifactKind = "screenshot"
	ArtifactVideo      ArtifactKind = "video"
)

// Artifact is a diagnostic captured from a failing attempt.
type Artifact struct {
	RunID       string
	SuiteID     string
	Attempt     int
	Kind        ArtifactKind
	Ext         string
	ContentType string
	Data        []byte
}

// Name is the relative object name of the artifact.
func (a Artifact) Name() string {
	return fmt.Sprintf("%s/%s/attempt-%d-%s%s", a.RunID, a.SuiteID, a.Attempt, a.Kind, a.Ext)
}

// ArtifactSink persists artifacts and returns a reference suitable for the report.
type ArtifactSink interface {
	Put(ctx context.Context, artifact Artifact) (string, error)
}
