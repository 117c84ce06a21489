package cache

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/robotdesk/internal/database/testutil"
	"github.com/charlesng35/robotdesk/internal/models"
)

func TestDatabaseStoreFixedWindow(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	store := NewDatabaseStoreWithClock(db, clock)
	ctx := context.Background()

	count, ttl, err := store.IncrementWithTTL(ctx, "rl:verify:1.2.3.4", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
	require.Equal(t, time.Minute, ttl)

	clock.Advance(20 * time.Second)
	count, ttl, err = store.IncrementWithTTL(ctx, "rl:verify:1.2.3.4", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
	require.Equal(t, 40*time.Second, ttl)

	clock.Advance(time.Minute)
	count, _, err = store.IncrementWithTTL(ctx, "rl:verify:1.2.3.4", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestDatabaseStoreConcurrentFirstHits(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	store := NewDatabaseStoreWithClock(db, clock)
	ctx := context.Background()

	const hits = 8
	counts := make([]int64, hits)
	errs := make([]error, hits)
	var wg sync.WaitGroup
	for i := 0; i < hits; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			counts[i], _, errs[i] = store.IncrementWithTTL(ctx, "rl:login:10.0.0.1", time.Minute)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i] < counts[j] })
	for i, count := range counts {
		require.Equal(t, int64(i+1), count)
	}

	var rows int64
	require.NoError(t, db.Model(&models.RateCounter{}).Count(&rows).Error)
	require.Equal(t, int64(1), rows)
}

func TestDatabaseStoreKeysAreIndependent(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStoreWithClock(db, clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := store.IncrementWithTTL(ctx, "rl:a", time.Minute)
		require.NoError(t, err)
	}
	count, _, err := store.IncrementWithTTL(ctx, "rl:b", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestDatabaseStorePurgeExpired(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	store := NewDatabaseStoreWithClock(db, clock)
	ctx := context.Background()

	_, _, err := store.IncrementWithTTL(ctx, "short", time.Minute)
	require.NoError(t, err)
	_, _, err = store.IncrementWithTTL(ctx, "long", time.Hour)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	removed, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	var keys []string
	require.NoError(t, db.Model(&models.RateCounter{}).Pluck("key", &keys).Error)
	require.Equal(t, []string{"long"}, keys)

	count, _, err := store.IncrementWithTTL(ctx, "long", time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
}

func newRedisStoreForTest(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return m, NewRedisStore(client, "")
}

func TestRedisStoreIncrementWithTTL(t *testing.T) {
	m, store := newRedisStoreForTest(t)
	ctx := context.Background()

	count, ttl, err := store.IncrementWithTTL(ctx, "rl:key", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
	require.Equal(t, time.Minute, ttl)

	count, _, err = store.IncrementWithTTL(ctx, "rl:key", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
	require.True(t, m.Exists("robotdesk:rl:key"))

	m.FastForward(2 * time.Minute)
	count, _, err = store.IncrementWithTTL(ctx, "rl:key", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestRedisStoreKeyPrefix(t *testing.T) {
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	ctx := context.Background()

	staging := NewRedisStore(client, "staging:")
	prod := NewRedisStore(client, "prod:")

	_, _, err := staging.IncrementWithTTL(ctx, "rl:login", time.Minute)
	require.NoError(t, err)
	count, _, err := prod.IncrementWithTTL(ctx, "rl:login", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
	require.True(t, m.Exists("staging:rl:login"))
	require.True(t, m.Exists("prod:rl:login"))
}

func TestNewRedisClientRequiresAddress(t *testing.T) {
	_, err := NewRedisClient(context.Background(), RedisConfig{})
	require.Error(t, err)

	m := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), RedisConfig{Address: m.Addr()})
	require.NoError(t, err)
	require.NoError(t, client.Close())
}
