package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy/pkg/adapters/redis"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore_Contract(t *testing.T) {
	_, client := newClient(t)
	ports.RunFixtureStoreContract(t, redis.NewFromClient(client))
}

func TestRedisStore_KeyLayout(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "run-1", domain.NewSessionFixture("run-1", "admin")))
	assert.True(t, mr.Exists("canopy:fixture:run-1"))

	members, err := mr.ZMembers("canopy:fixture:index")
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1"}, members)

	require.NoError(t, store.Delete(ctx, "run-1"))
	assert.False(t, mr.Exists("canopy:fixture:run-1"))
}

func TestRedisStore_TTL_Expiration(t *testing.T) {
	mr, client := newClient(t)
	now := time.Now()
	clock := func() time.Time { return now }
	store := redis.NewFromClient(client, redis.WithTTL(time.Minute), redis.WithClock(clock))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "run-ttl", domain.NewSessionFixture("run-ttl", "admin")))
	runs, err := store.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, runs, "run-ttl")

	mr.FastForward(2 * time.Minute)
	now = now.Add(2 * time.Minute)

	_, err = store.Load(ctx, "run-ttl")
	assert.ErrorIs(t, err, domain.ErrFixtureNotFound)

	runs, err = store.List(ctx)
	require.NoError(t, err)
	assert.NotContains(t, runs, "run-ttl", "expired runs are pruned from the index")
}
