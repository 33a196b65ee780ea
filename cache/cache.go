// Package cache implements the on-disk response cache: content-keyed
// entries with TTL freshness and size-bound, oldest-first eviction.
package cache

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"

	"e6grab/internal"
	"e6grab/metrics"
)

const entryExt = ".json"

// envelope is the on-disk representation of a cache entry.
type envelope struct {
	Key       string    `json:"key"`
	FetchedAt time.Time `json:"fetched_at"`
	Payload   []byte    `json:"payload"`
}

// entryMeta is the in-memory index record for one entry.
type entryMeta struct {
	fetchedAt time.Time
	size      int64
	// readers guards the entry against eviction while a Get is copying it
	// out.
	readers int
}

// Cache is a content-keyed, on-disk store for API responses. A single
// instance owns its cache directory; concurrent use is safe.
type Cache struct {
	fs       afero.Fs
	dir      string
	enabled  bool
	ttl      time.Duration
	maxBytes int64
	metrics  *metrics.Metrics

	mu         sync.Mutex
	entries    map[string]*entryMeta
	totalBytes int64

	group singleflight.Group
}

// Open initializes the cache, creating the directory and rebuilding the
// index from entries left by earlier runs.
func Open(fs afero.Fs, cfg internal.CacheConfig, m *metrics.Metrics) (*Cache, error) {
	c := &Cache{
		fs:       fs,
		dir:      cfg.CacheDir,
		enabled:  cfg.Enabled,
		ttl:      time.Duration(cfg.TTLSecs) * time.Second,
		maxBytes: cfg.MaxSizeMB * 1024 * 1024,
		metrics:  m,
		entries:  make(map[string]*entryMeta),
	}

	if err := fs.MkdirAll(cfg.CacheDir, 0755); err != nil {
		return nil, internal.NewCacheIOError("open", err)
	}
	if err := c.rebuildIndex(); err != nil {
		return nil, err
	}

	internal.LogInfo("response cache at %s (%d entries, %d KB)",
		cfg.CacheDir, len(c.entries), c.totalBytes/1024)
	return c, nil
}

// rebuildIndex scans the cache directory and loads entry metadata.
// Unreadable entries are dropped rather than failing the open.
func (c *Cache) rebuildIndex() error {
	infos, err := afero.ReadDir(c.fs, c.dir)
	if err != nil {
		return internal.NewCacheIOError("scan", err)
	}
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), entryExt) {
			continue
		}
		path := filepath.Join(c.dir, info.Name())
		env, err := c.readEnvelope(path)
		if err != nil {
			internal.LogWarn("dropping unreadable cache entry %s: %v", info.Name(), err)
			c.fs.Remove(path)
			continue
		}
		c.entries[env.Key] = &entryMeta{fetchedAt: env.FetchedAt, size: info.Size()}
		c.totalBytes += info.Size()
	}
	if c.metrics != nil {
		c.metrics.CacheBytes.Set(float64(c.totalBytes))
	}
	return nil
}

func (c *Cache) entryPath(key string) string {
	return filepath.Join(c.dir, key+entryExt)
}

// shortKey abbreviates a key for log lines.
func shortKey(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}

func (c *Cache) readEnvelope(path string) (*envelope, error) {
	data, err := afero.ReadFile(c.fs, path)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Get returns the cached payload for key, or a miss when the cache is
// disabled, the key is absent, or the entry is stale. Stale entries are
// treated as misses but left on disk; eviction is size-driven.
func (c *Cache) Get(key string) ([]byte, bool) {
	if !c.enabled {
		return nil, false
	}

	c.mu.Lock()
	meta, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return nil, false
	}
	if c.ttl > 0 && time.Since(meta.fetchedAt) >= c.ttl {
		c.mu.Unlock()
		internal.LogDebug("cache entry %s expired", shortKey(key))
		return nil, false
	}
	meta.readers++
	c.mu.Unlock()

	env, err := c.readEnvelope(c.entryPath(key))

	c.mu.Lock()
	meta.readers--
	c.mu.Unlock()

	if err != nil {
		internal.LogWarn("failed to read cache entry %s: %v", shortKey(key), err)
		return nil, false
	}
	return env.Payload, true
}

// Put writes or overwrites the entry, then evicts oldest entries until the
// running size is back under the limit. A disabled cache makes Put a
// no-op without deleting pre-existing entries.
func (c *Cache) Put(key string, payload []byte) error {
	if !c.enabled {
		return nil
	}

	env := envelope{Key: key, FetchedAt: time.Now(), Payload: payload}
	data, err := json.Marshal(&env)
	if err != nil {
		return internal.NewCacheIOError("put", err)
	}

	path := c.entryPath(key)
	tmp := path + ".tmp"
	if err := afero.WriteFile(c.fs, tmp, data, 0644); err != nil {
		return internal.NewCacheIOError("put", err)
	}
	if err := c.fs.Rename(tmp, path); err != nil {
		c.fs.Remove(tmp)
		return internal.NewCacheIOError("put", err)
	}

	c.mu.Lock()
	if old, ok := c.entries[key]; ok {
		c.totalBytes -= old.size
	}
	c.entries[key] = &entryMeta{fetchedAt: env.FetchedAt, size: int64(len(data))}
	c.totalBytes += int64(len(data))
	c.evictLocked()
	if c.metrics != nil {
		c.metrics.CacheBytes.Set(float64(c.totalBytes))
	}
	c.mu.Unlock()

	return nil
}

// evictLocked removes oldest-fetched entries until the total size is at or
// under the limit. Entries with active readers are skipped.
func (c *Cache) evictLocked() {
	if c.maxBytes <= 0 || c.totalBytes <= c.maxBytes {
		return
	}

	type aged struct {
		key  string
		meta *entryMeta
	}
	candidates := make([]aged, 0, len(c.entries))
	for key, meta := range c.entries {
		candidates = append(candidates, aged{key, meta})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].meta.fetchedAt.Before(candidates[j].meta.fetchedAt)
	})

	evicted := 0
	for _, cand := range candidates {
		if c.totalBytes <= c.maxBytes {
			break
		}
		if cand.meta.readers > 0 {
			continue
		}
		if err := c.fs.Remove(c.entryPath(cand.key)); err != nil {
			internal.LogWarn("failed to evict cache entry %s: %v", shortKey(cand.key), err)
			continue
		}
		c.totalBytes -= cand.meta.size
		delete(c.entries, cand.key)
		evicted++
		if c.metrics != nil {
			c.metrics.CacheEvictions.Inc()
		}
	}
	if evicted > 0 {
		internal.LogDebug("evicted %d cache entries, %d KB resident", evicted, c.totalBytes/1024)
	}
}

// Invalidate removes a single entry.
func (c *Cache) Invalidate(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	meta, ok := c.entries[key]
	if !ok {
		return nil
	}
	if err := c.fs.Remove(c.entryPath(key)); err != nil {
		return internal.NewCacheIOError("invalidate", err)
	}
	c.totalBytes -= meta.size
	delete(c.entries, key)
	return nil
}

// Clear removes every entry.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, meta := range c.entries {
		if err := c.fs.Remove(c.entryPath(key)); err != nil {
			return internal.NewCacheIOError("clear", err)
		}
		c.totalBytes -= meta.size
		delete(c.entries, key)
	}
	if c.metrics != nil {
		c.metrics.CacheBytes.Set(0)
	}
	internal.LogInfo("response cache cleared")
	return nil
}

// Stats returns the entry count and resident byte size.
func (c *Cache) Stats() (int, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries), c.totalBytes
}

// GetOrFetch returns the cached payload for key, or runs fetch and stores
// the result. Concurrent callers for the same key are coalesced onto one
// fetch. A cache write failure degrades to pass-through: the payload is
// still returned and the failure only logged.
func (c *Cache) GetOrFetch(ctx context.Context, key string, fetch func(ctx context.Context) ([]byte, error)) ([]byte, bool, error) {
	if data, ok := c.Get(key); ok {
		if c.metrics != nil {
			c.metrics.CacheHits.Inc()
		}
		return data, true, nil
	}
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}

	type fetched struct {
		data []byte
		hit  bool
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// A concurrent caller may have populated the entry while this
		// caller was waiting its turn.
		if data, ok := c.Get(key); ok {
			return fetched{data: data, hit: true}, nil
		}
		data, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Put(key, data); err != nil {
			internal.LogWarn("cache write failed, passing through: %v", err)
		}
		return fetched{data: data}, nil
	})
	if err != nil {
		return nil, false, err
	}
	result := v.(fetched)
	return result.data, result.hit, nil
}
