// Package olriccache wraps a datastore.Store with a read-through cache in an
// Olric DMap. The cache never fails an operation: its errors are logged and
// the wrapped store answers.
package olriccache

import (
	"bytes"
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dwn-plugins/pkg/contracts"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/datastore"
)

// DefaultMaxObjectSize is the largest object Get will cache.
const DefaultMaxObjectSize = 1 << 20

// Option configures a Store.
type Option func(*Store)

// WithMaxObjectSize sets the largest object that is cached.
func WithMaxObjectSize(n int64) Option {
	return func(s *Store) { s.maxObjectSize = n }
}

// WithOwnedCache makes Close also close the cache.
func WithOwnedCache() Option {
	return func(s *Store) { s.ownsCache = true }
}

// Store is a caching datastore.Store.
type Store struct {
	inner         datastore.Store
	cache         Cache
	logger        *zap.Logger
	maxObjectSize int64
	ownsCache     bool
}

var _ datastore.Store = (*Store)(nil)

// New wraps inner with cache.
func New(inner datastore.Store, cache Cache, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		inner:         inner,
		cache:         cache,
		logger:        logger,
		maxObjectSize: DefaultMaxObjectSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Open(ctx context.Context) error {
	return s.inner.Open(ctx)
}

func (s *Store) Close(ctx context.Context) error {
	err := s.inner.Close(ctx)
	if s.ownsCache {
		if cerr := s.cache.Close(ctx); cerr != nil {
			s.logger.Warn("Failed to close cache", zap.Error(cerr))
		}
	}
	return err
}

// Put writes through to the wrapped store. The cache is filled on first Get.
func (s *Store) Put(ctx context.Context, tenant, recordID, dataCID string, r io.Reader) (*contracts.PutResult, error) {
	return s.inner.Put(ctx, tenant, recordID, dataCID, r)
}

// Get serves from the cache when it can and fills it on a miss.
func (s *Store) Get(ctx context.Context, tenant, recordID, dataCID string) (*contracts.GetResult, error) {
	key := datastore.Key(tenant, recordID, dataCID)

	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("Cache get failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		s.logger.Debug("Cache hit", zap.String("key", key))
		return &contracts.GetResult{
			DataCID:  dataCID,
			DataSize: int64(len(data)),
			Data:     io.NopCloser(bytes.NewReader(data)),
		}, nil
	}

	res, err := s.inner.Get(ctx, tenant, recordID, dataCID)
	if err != nil {
		return nil, err
	}
	if res.DataSize > s.maxObjectSize {
		return res, nil
	}

	defer res.Data.Close()
	data, err = io.ReadAll(res.Data)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Put(ctx, key, data); err != nil {
		s.logger.Warn("Cache fill failed", zap.String("key", key), zap.Error(err))
	}

	return &contracts.GetResult{
		DataCID:  res.DataCID,
		DataSize: int64(len(data)),
		Data:     io.NopCloser(bytes.NewReader(data)),
	}, nil
}

// Delete removes the object from the wrapped store, then from the cache.
func (s *Store) Delete(ctx context.Context, tenant, recordID, dataCID string) error {
	if err := s.inner.Delete(ctx, tenant, recordID, dataCID); err != nil {
		return err
	}
	key := datastore.Key(tenant, recordID, dataCID)
	if err := s.cache.Delete(ctx, key); err != nil {
		s.logger.Warn("Cache invalidation failed", zap.String("key", key), zap.Error(err))
	}
	return nil
}

// Clear empties the wrapped store, then drops every cached object.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.inner.Clear(ctx); err != nil {
		return err
	}
	if err := s.cache.DeletePrefix(ctx, datastore.Prefix+"/"); err != nil {
		s.logger.Warn("Cache clear failed", zap.Error(err))
	}
	return nil
}
