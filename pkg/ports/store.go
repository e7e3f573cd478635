package ports

import (
	"context"

	"github.com/aretw0/canopy/pkg/domain"
)

// FixtureStore persists Session Fixtures keyed by run ID.
type FixtureStore interface {
	// Save persists the fixture for a given run.
	Save(ctx context.Context, runID string, fixture *domain.SessionFixture) error

	// Load retrieves the fixture for a given run.
	// Returns domain.ErrFixtureNotFound if no fixture exists.
	Load(ctx context.Context, runID string) (*domain.SessionFixture, error)

	// Delete removes the fixture. Deleting a missing fixture is not an error.
	Delete(ctx context.Context, runID string) error

	// List returns the run IDs that have a stored fixture.
	List(ctx context.Context) ([]string, error)
}
