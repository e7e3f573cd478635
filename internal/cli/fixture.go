package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aretw0/canopy/internal/config"
)

// FixtureOptions configures the fixture subcommands.
type FixtureOptions struct {
	Config config.Config
	Stdout io.Writer
}

func fixtureStack(ctx context.Context, cfg config.Config) (*Stack, error) {
	// Fixture maintenance never stores artifacts.
	cfg.Artifacts.Backend = "file"
	return NewStack(ctx, cfg, slog.New(slog.DiscardHandler), StackOptions{})
}

// ListFixtures prints the run IDs that have a persisted fixture.
func ListFixtures(ctx context.Context, opts FixtureOptions) error {
	stdout, _ := writers(opts.Stdout, nil)
	stack, err := fixtureStack(ctx, opts.Config)
	if err != nil {
		return err
	}
	defer stack.Close()

	ids, err := stack.Store.List(ctx)
	if err != nil {
		return fmt.Errorf("list fixtures: %w", err)
	}
	for _, id := range ids {
		fmt.Fprintln(stdout, id)
	}
	return nil
}

// InspectFixture prints a fixture with its session secrets masked.
func InspectFixture(ctx context.Context, opts FixtureOptions, runID string) error {
	stdout, _ := writers(opts.Stdout, nil)
	stack, err := fixtureStack(ctx, opts.Config)
	if err != nil {
		return err
	}
	defer stack.Close()

	f, err := stack.RedactedStore().Load(ctx, runID)
	if err != nil {
		return fmt.Errorf("load fixture %s: %w", runID, err)
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(f)
}

// RemoveFixtures deletes the named fixtures. With olderThan set and no IDs,
// every fixture captured before that age is removed instead.
func RemoveFixtures(ctx context.Context, opts FixtureOptions, olderThan time.Duration, runIDs ...string) error {
	stdout, _ := writers(opts.Stdout, nil)
	stack, err := fixtureStack(ctx, opts.Config)
	if err != nil {
		return err
	}
	defer stack.Close()

	if len(runIDs) == 0 && olderThan > 0 {
		all, err := stack.Store.List(ctx)
		if err != nil {
			return fmt.Errorf("list fixtures: %w", err)
		}
		cutoff := time.Now().Add(-olderThan)
		for _, id := range all {
			f, err := stack.Store.Load(ctx, id)
			if err != nil {
				stack.Logger.Warn("skipping unreadable fixture", "run_id", id, "err", err)
				continue
			}
			if !f.CapturedAt.IsZero() && f.CapturedAt.Before(cutoff) {
				runIDs = append(runIDs, id)
			}
		}
	}

	fixtures := stack.Harness.Fixtures()
	for _, id := range runIDs {
		if err := fixtures.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete fixture %s: %w", id, err)
		}
		fmt.Fprintf(stdout, "removed %s\n", id)
	}
	return nil
}
