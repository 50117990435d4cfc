package olriccache

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	olriclib "github.com/olric-data/olric"
	"go.uber.org/zap"
)

// Config holds configuration for the Olric cluster client.
type Config struct {
	// Servers is a list of Olric server addresses (e.g., ["localhost:3320"])
	// If empty, defaults to ["localhost:3320"]
	Servers []string

	// DMap names the distributed map holding cached blobs.
	DMap string

	// Timeout bounds each cache round trip.
	// If zero, defaults to 10 seconds
	Timeout time.Duration
}

// Cache is the byte cache the store reads through.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	Close(ctx context.Context) error
}

// DMapCache is a Cache over an Olric DMap.
type DMapCache struct {
	client  olriclib.Client
	dm      olriclib.DMap
	timeout time.Duration
	logger  *zap.Logger
}

// NewDMapCache connects to the cluster and opens the configured DMap.
func NewDMapCache(cfg Config, logger *zap.Logger) (*DMapCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	servers := cfg.Servers
	if len(servers) == 0 {
		servers = []string{"localhost:3320"}
	}

	client, err := olriclib.NewClusterClient(servers)
	if err != nil {
		return nil, fmt.Errorf("failed to create Olric cluster client: %w", err)
	}

	dm, err := client.NewDMap(cfg.DMap)
	if err != nil {
		_ = client.Close(context.Background())
		return nil, fmt.Errorf("failed to create DMap %s: %w", cfg.DMap, err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &DMapCache{client: client, dm: dm, timeout: timeout, logger: logger}, nil
}

func (c *DMapCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	gr, err := c.dm.Get(ctx, key)
	if errors.Is(err, olriclib.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var value []byte
	if err := gr.Scan(&value); err != nil {
		return nil, false, fmt.Errorf("cached value decode failed: %w", err)
	}
	return value, true, nil
}

func (c *DMapCache) Put(ctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.dm.Put(ctx, key, value)
}

func (c *DMapCache) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_, err := c.dm.Delete(ctx, key)
	return err
}

func (c *DMapCache) DeletePrefix(ctx context.Context, prefix string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	iterator, err := c.dm.Scan(ctx, olriclib.Match("^"+regexp.QuoteMeta(prefix)))
	if err != nil {
		return fmt.Errorf("failed to scan: %w", err)
	}
	defer iterator.Close()

	var keys []string
	for iterator.Next() {
		keys = append(keys, iterator.Key())
	}
	if len(keys) == 0 {
		return nil
	}
	_, err = c.dm.Delete(ctx, keys...)
	return err
}

// Health round-trips a health-check key through the DMap.
func (c *DMapCache) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	testKey := fmt.Sprintf("_health_%d", time.Now().UnixNano())
	if err := c.dm.Put(ctx, testKey, "ok"); err != nil {
		return fmt.Errorf("health check put failed: %w", err)
	}

	gr, err := c.dm.Get(ctx, testKey)
	if err != nil {
		return fmt.Errorf("health check get failed: %w", err)
	}
	val, err := gr.String()
	if err != nil {
		return fmt.Errorf("health check value decode failed: %w", err)
	}
	if val != "ok" {
		return fmt.Errorf("health check value mismatch: expected %q, got %q", "ok", val)
	}

	_, _ = c.dm.Delete(ctx, testKey)
	return nil
}

// Close closes the Olric client connection.
func (c *DMapCache) Close(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.client.Close(ctx)
}
