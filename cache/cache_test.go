package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type siteInfo struct {
	Users int64  `json:"users"`
	Name  string `json:"name"`
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, Store) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := NewRedisStore(context.Background(), mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return mr, store
}

func TestMemoryStoreExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := NewMemoryStore().(*memoryStore)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	v, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))

	now = now.Add(time.Minute)
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, store.Set(ctx, "forever", []byte("v"), 0))
	now = now.Add(24 * time.Hour)
	_, err = store.Get(ctx, "forever")
	assert.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "forever"))
	_, err = store.Get(ctx, "forever")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisStore(t *testing.T) {
	mr, store := setupTestRedis(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	assert.True(t, mr.Exists("lemmings:k"))
	v, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))

	mr.FastForward(2 * time.Minute)
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestNewRedisStoreUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisStore(context.Background(), addr)
	assert.ErrorContains(t, err, "failed to connect to redis")
}

func TestReadThroughLoadsOnce(t *testing.T) {
	for name, store := range map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"redis": func(t *testing.T) Store {
			_, s := setupTestRedis(t)
			return s
		},
	} {
		t.Run(name, func(t *testing.T) {
			c := New(store(t), time.Minute, zap.NewNop())
			ctx := context.Background()
			var calls int
			load := func(context.Context) (siteInfo, error) {
				calls++
				return siteInfo{Users: 3, Name: "lemmings"}, nil
			}

			for i := 0; i < 3; i++ {
				v, err := ReadThrough(ctx, c, "nodeinfo", load)
				require.NoError(t, err)
				assert.Equal(t, siteInfo{Users: 3, Name: "lemmings"}, v)
			}
			assert.Equal(t, 1, calls)

			require.NoError(t, c.Invalidate(ctx, "nodeinfo"))
			_, err := ReadThrough(ctx, c, "nodeinfo", load)
			require.NoError(t, err)
			assert.Equal(t, 2, calls)
		})
	}
}

func TestReadThroughDoesNotCacheErrors(t *testing.T) {
	c := New(NewMemoryStore(), time.Minute, zap.NewNop())
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := ReadThrough(ctx, c, "k", func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)

	v, err := ReadThrough(ctx, c, "k", func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestReadThroughCoalescesMisses(t *testing.T) {
	c := New(NewMemoryStore(), time.Minute, zap.NewNop())
	ctx := context.Background()
	release := make(chan struct{})
	var calls atomic.Int32

	var wg sync.WaitGroup
	results := make([]int, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := ReadThrough(ctx, c, "k", func(context.Context) (int, error) {
				calls.Add(1)
				<-release
				return 42, nil
			})
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for _, v := range results {
		assert.Equal(t, 42, v)
	}
}

func TestReadThroughSurvivesBrokenStore(t *testing.T) {
	mr, store := setupTestRedis(t)
	c := New(store, time.Minute, zap.NewNop())
	mr.Close()

	v, err := ReadThrough(context.Background(), c, "k", func(context.Context) (string, error) { return "fresh", nil })
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
}

func TestOpenPicksBackend(t *testing.T) {
	c, err := Open(context.Background(), "", time.Minute, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &memoryStore{}, c.store)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	c, err = Open(context.Background(), mr.Addr(), time.Minute, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()
	assert.IsType(t, &redisStore{}, c.store)
}
