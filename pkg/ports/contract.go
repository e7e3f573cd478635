package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunFixtureStoreContract runs a suite of tests to verify that a FixtureStore
// implementation adheres to the defined interface contract.
func RunFixtureStoreContract(t *testing.T, store FixtureStore) {
	ctx := context.Background()
	runID := "contract-test-run-" + time.Now().Format("20060102150405")

	newFixture := func(id string) *domain.SessionFixture {
		f := domain.NewSessionFixture(id, "admin")
		f.Origin = "https://sso.example.test"
		f.State = domain.FixturePersisted
		f.CapturedAt = time.Now().UTC().Truncate(time.Second)
		f.Cookies = []domain.Cookie{{
			Name:     "KEYCLOAK_SESSION",
			Value:    "opaque",
			Domain:   "sso.example.test",
			Path:     "/realms/master/",
			Secure:   true,
			HTTPOnly: true,
		}}
		f.Storage[f.Origin] = map[string]string{"kc-callback": "state"}
		return f
	}

	t.Run("Save and Load", func(t *testing.T) {
		fixture := newFixture(runID)

		err := store.Save(ctx, runID, fixture)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, runID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, fixture.RunID, loaded.RunID)
		assert.Equal(t, fixture.Principal, loaded.Principal)
		assert.Equal(t, domain.FixturePersisted, loaded.State)
		assert.Equal(t, fixture.Cookies, loaded.Cookies)
		assert.Equal(t, "state", loaded.Storage[fixture.Origin]["kc-callback"])
		assert.True(t, fixture.CapturedAt.Equal(loaded.CapturedAt))
	})

	t.Run("Load returns a private copy", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, runID, newFixture(runID)))

		first, err := store.Load(ctx, runID)
		require.NoError(t, err)
		first.Cookies[0].Value = "tampered"

		second, err := store.Load(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, "opaque", second.Cookies[0].Value)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+runID)
		assert.ErrorIs(t, err, domain.ErrFixtureNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, runID, newFixture(runID)))

		err := store.Delete(ctx, runID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, runID)
		assert.ErrorIs(t, err, domain.ErrFixtureNotFound, "Load after Delete should return ErrFixtureNotFound")

		assert.NoError(t, store.Delete(ctx, runID), "deleting twice is not an error")
	})

	t.Run("List", func(t *testing.T) {
		id1 := runID + "-1"
		id2 := runID + "-2"
		_ = store.Save(ctx, id1, newFixture(id1))
		_ = store.Save(ctx, id2, newFixture(id2))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		runs, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, runs, id1)
		assert.Contains(t, runs, id2)
	})
}
