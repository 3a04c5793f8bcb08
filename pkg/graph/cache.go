package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/sequor/pkg/models"
	"github.com/redis/go-redis/v9"
)

// ErrNotCached indicates no compiled graph or definition payload is known
// for the requested content hash.
var ErrNotCached = errors.New("graph not cached")

type cacheEntry struct {
	ready chan struct{}
	graph *models.WorkflowGraph
	err   error
}

// Cache memoizes compiled graphs by definition content hash.
//
// Population on a miss is deduplicated per key: concurrent callers compiling
// the identical definition wait for the first compilation instead of racing.
// An optional Redis tier shares validated definition payloads across
// processes, keyed by the same hash, so peers resolving an execution by hash
// can recover and compile the definition without hitting primary storage.
type Cache struct {
	logger *slog.Logger
	opts   CompileOptions

	mu      sync.Mutex
	entries map[string]*cacheEntry

	redis    *redis.Client
	redisTTL time.Duration
}

// NewCache creates an in-process compiled-graph cache.
func NewCache(logger *slog.Logger, opts CompileOptions) *Cache {
	return &Cache{
		logger:  logger,
		opts:    opts,
		entries: make(map[string]*cacheEntry),
	}
}

// WithRedis attaches a shared Redis tier. A zero ttl keeps payloads forever;
// since compilation is pure, stale entries can only ever disagree by being
// absent.
func (c *Cache) WithRedis(client *redis.Client, ttl time.Duration) *Cache {
	c.redis = client
	c.redisTTL = ttl

	return c
}

func redisKey(hash string) string {
	return "sequor:graph:" + hash
}

// Get returns the compiled graph for the given raw definition, compiling at
// most once per content hash.
func (c *Cache) Get(ctx context.Context, raw []byte) (*models.WorkflowGraph, error) {
	hash := Hash(raw)

	c.mu.Lock()

	if entry, ok := c.entries[hash]; ok {
		c.mu.Unlock()
		<-entry.ready

		return entry.graph, entry.err
	}

	entry := &cacheEntry{ready: make(chan struct{})}
	c.entries[hash] = entry
	c.mu.Unlock()

	entry.graph, entry.err = Compile(raw, c.opts)
	close(entry.ready)

	if entry.err != nil {
		// Failed compilations are not cached.
		c.mu.Lock()
		delete(c.entries, hash)
		c.mu.Unlock()

		return nil, entry.err
	}

	c.shareDefinition(ctx, hash, raw)

	return entry.graph, nil
}

// GetByHash resolves a graph for a content hash alone, consulting the local
// tier first and the Redis tier second. Returns ErrNotCached when neither
// tier knows the hash.
func (c *Cache) GetByHash(ctx context.Context, hash string) (*models.WorkflowGraph, error) {
	c.mu.Lock()
	entry, ok := c.entries[hash]
	c.mu.Unlock()

	if ok {
		<-entry.ready

		if entry.err == nil {
			return entry.graph, nil
		}
	}

	if c.redis == nil {
		return nil, ErrNotCached
	}

	raw, err := c.redis.Get(ctx, redisKey(hash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotCached
		}

		return nil, fmt.Errorf("failed to read shared graph cache: %w", err)
	}

	return c.Get(ctx, raw)
}

// Len returns the number of locally cached graphs.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

func (c *Cache) shareDefinition(ctx context.Context, hash string, raw []byte) {
	if c.redis == nil {
		return
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return
	}

	// Last writer wins: compilation is deterministic, all writers store the
	// same payload for a given hash.
	err := c.redis.Set(ctx, redisKey(hash), compact.Bytes(), c.redisTTL).Err()
	if err != nil {
		c.logger.WarnContext(ctx, "failed to share definition in redis cache", "hash", hash, "error", err)
	}
}
