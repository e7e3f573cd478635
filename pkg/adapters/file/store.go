// Package file provides filesystem adapters: a fixture store writing one
// JSON document per run and a local artifact sink.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/canopy/pkg/domain"
)

// DefaultFixtureDir is where fixtures are kept when no directory is configured.
var DefaultFixtureDir = filepath.Join(".canopy", "fixtures")

// Store implements ports.FixtureStore using the local filesystem.
// Fixture files are left in place after a run for operator inspection.
type Store struct {
	BasePath string
}

// New creates a Store. An empty basePath means DefaultFixtureDir.
func New(basePath string) *Store {
	if basePath == "" {
		basePath = DefaultFixtureDir
	}
	return &Store{BasePath: basePath}
}

func (s *Store) path(runID string) (string, error) {
	if runID == "" {
		return "", errors.New("runID cannot be empty")
	}
	if strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return "", fmt.Errorf("invalid run id %q", runID)
	}
	return filepath.Join(s.BasePath, runID+".json"), nil
}

// Save persists the fixture atomically. The file is readable by the owner
// only since it carries session cookies.
func (s *Store) Save(ctx context.Context, runID string, fixture *domain.SessionFixture) error {
	path, err := s.path(runID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(fixture, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal fixture: %w", err)
	}
	return writeAtomic(path, data, 0o600)
}

// Load reads the fixture of a run.
func (s *Store) Load(ctx context.Context, runID string) (*domain.SessionFixture, error) {
	path, err := s.path(runID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrFixtureNotFound
		}
		return nil, fmt.Errorf("failed to read fixture file: %w", err)
	}

	var f domain.SessionFixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fixture: %w", err)
	}
	return &f, nil
}

// Delete removes the fixture file.
func (s *Store) Delete(ctx context.Context, runID string) error {
	path, err := s.path(runID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete fixture file: %w", err)
	}
	return nil
}

// List returns the run IDs with a fixture file, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.BasePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list fixtures: %w", err)
	}

	runs := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		runs = append(runs, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(runs)
	return runs, nil
}
