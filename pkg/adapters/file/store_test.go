package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy/pkg/adapters/file"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

func TestFileStore_Contract(t *testing.T) {
	ports.RunFixtureStoreContract(t, file.New(t.TempDir()))
}

func TestFileStore_AtomicWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := file.New(dir)
	ctx := context.Background()

	f := domain.NewSessionFixture("run-1", "admin")
	f.Cookies = []domain.Cookie{{Name: "KEYCLOAK_SESSION", Value: "v"}}
	require.NoError(t, store.Save(ctx, "run-1", f))
	require.NoError(t, store.Save(ctx, "run-1", f), "overwrite")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "run-1.json", entries[0].Name())

	info, err := os.Stat(filepath.Join(dir, "run-1.json"))
	require.NoError(t, err)
	if os.PathSeparator == '/' {
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
}

func TestFileStore_ListIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	store := file.New(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".run-9.json-123.tmp"), []byte("x"), 0o644))
	require.NoError(t, store.Save(context.Background(), "run-2", domain.NewSessionFixture("run-2", "admin")))

	runs, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"run-2"}, runs)
}

func TestFileStore_ListMissingDirectory(t *testing.T) {
	runs, err := file.New(filepath.Join(t.TempDir(), "absent")).List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestFileStore_RejectsPathTraversal(t *testing.T) {
	store := file.New(t.TempDir())
	err := store.Save(context.Background(), "../escape", domain.NewSessionFixture("x", "admin"))
	assert.Error(t, err)
	_, err = store.Load(context.Background(), "")
	assert.Error(t, err)
}

func TestArtifactSink_Put(t *testing.T) {
	dir := t.TempDir()
	sink := file.NewArtifactSink(dir)

	ref, err := sink.Put(context.Background(), ports.Artifact{
		RunID: "run-1", SuiteID: "vault/policies", Attempt: 3,
		Kind: ports.ArtifactScreenshot, Ext: ".png", Data: []byte("png"),
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run-1", "vault", "policies", "attempt-3-screenshot.png"), ref)

	data, err := os.ReadFile(ref)
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))
}
