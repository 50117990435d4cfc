package olriccache

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeBrosOfficial/dwn-plugins/pkg/contracts"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/datastore"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/datastore/sqlstore"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/datastore/storetest"
)

type mapCache struct {
	mu     sync.Mutex
	values map[string][]byte
	fail   error
	closed bool
}

func newMapCache() *mapCache { return &mapCache{values: make(map[string][]byte)} }

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return nil, false, c.fail
	}
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *mapCache) Put(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.values[key] = append([]byte(nil), value...)
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	delete(c.values, key)
	return nil
}

func (c *mapCache) DeletePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	for k := range c.values {
		if strings.HasPrefix(k, prefix) {
			delete(c.values, k)
		}
	}
	return nil
}

func (c *mapCache) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *mapCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.values[key]
	return ok
}

// countingStore counts Get calls reaching the wrapped store.
type countingStore struct {
	datastore.Store
	gets atomic.Int32
}

func (s *countingStore) Get(ctx context.Context, tenant, recordID, dataCID string) (*contracts.GetResult, error) {
	s.gets.Add(1)
	return s.Store.Get(ctx, tenant, recordID, dataCID)
}

func newInner(t *testing.T) *countingStore {
	t.Helper()
	inner := sqlstore.New(sqlstore.Config{
		Driver: sqlstore.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "blobs.db"),
	}, nil)
	return &countingStore{Store: inner}
}

func openStore(t *testing.T, cache Cache, opts ...Option) (*Store, *countingStore) {
	t.Helper()
	inner := newInner(t)
	s := New(inner, cache, nil, opts...)
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, inner
}

func readAll(t *testing.T, res *contracts.GetResult) string {
	t.Helper()
	defer res.Data.Close()
	b, err := io.ReadAll(res.Data)
	require.NoError(t, err)
	return string(b)
}

func TestStore(t *testing.T) {
	storetest.Run(t, storetest.Harness{
		New: func(t *testing.T) datastore.Store {
			s, _ := openStore(t, newMapCache())
			return s
		},
	})
}

func TestGetFillsCacheAndServesHits(t *testing.T) {
	cache := newMapCache()
	s, inner := openStore(t, cache)
	ctx := context.Background()

	_, err := s.Put(ctx, "alice", "rec1", "cid1", strings.NewReader("payload"))
	require.NoError(t, err)
	assert.False(t, cache.has(datastore.Key("alice", "rec1", "cid1")))

	for i := 0; i < 3; i++ {
		res, err := s.Get(ctx, "alice", "rec1", "cid1")
		require.NoError(t, err)
		assert.Equal(t, "payload", readAll(t, res))
		assert.EqualValues(t, 7, res.DataSize)
	}

	assert.EqualValues(t, 1, inner.gets.Load())
	assert.True(t, cache.has(datastore.Key("alice", "rec1", "cid1")))
}

func TestDeleteInvalidates(t *testing.T) {
	cache := newMapCache()
	s, _ := openStore(t, cache)
	ctx := context.Background()

	_, err := s.Put(ctx, "alice", "rec1", "cid1", strings.NewReader("payload"))
	require.NoError(t, err)
	_, err = s.Get(ctx, "alice", "rec1", "cid1")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "alice", "rec1", "cid1"))
	assert.False(t, cache.has(datastore.Key("alice", "rec1", "cid1")))
}

func TestLargeObjectsBypassCache(t *testing.T) {
	cache := newMapCache()
	s, _ := openStore(t, cache, WithMaxObjectSize(4))
	ctx := context.Background()

	_, err := s.Put(ctx, "alice", "rec1", "cid1", strings.NewReader("too large"))
	require.NoError(t, err)

	res, err := s.Get(ctx, "alice", "rec1", "cid1")
	require.NoError(t, err)
	assert.Equal(t, "too large", readAll(t, res))
	assert.False(t, cache.has(datastore.Key("alice", "rec1", "cid1")))
}

func TestCacheFailuresDoNotFailOperations(t *testing.T) {
	cache := newMapCache()
	cache.fail = errors.New("olric unreachable")
	s, inner := openStore(t, cache)
	ctx := context.Background()

	_, err := s.Put(ctx, "alice", "rec1", "cid1", strings.NewReader("payload"))
	require.NoError(t, err)

	res, err := s.Get(ctx, "alice", "rec1", "cid1")
	require.NoError(t, err)
	assert.Equal(t, "payload", readAll(t, res))
	assert.EqualValues(t, 1, inner.gets.Load())

	require.NoError(t, s.Delete(ctx, "alice", "rec1", "cid1"))
	require.NoError(t, s.Clear(ctx))
}

func TestCloseOwnedCache(t *testing.T) {
	cache := newMapCache()
	inner := newInner(t)
	s := New(inner, cache, nil, WithOwnedCache())
	ctx := context.Background()

	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Close(ctx))
	assert.True(t, cache.closed)
}
