// Package cache keeps a rolling window of body keyframes in memory.
//
// Keyframes cover [now, now+horizon] at a fixed step. A background loop
// generates the leading edge, evicts the trailing edge and rebuilds the whole
// window when the catalog is replaced, while reads keep hitting the old window.
package cache

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/star/orrery/internal/catalog"
	"github.com/star/orrery/internal/metrics"
	"github.com/star/orrery/internal/propagation"
)

// latestLookback is how many steps GetLatest walks back from now.
const latestLookback = 10

// Config holds cache configuration loaded from environment variables.
type Config struct {
	Step    time.Duration // Keyframe interval (default: 1h)
	Horizon time.Duration // How far ahead to cache (default: 24h)
	Buffer  time.Duration // Keep entries this long past expiration (default: 1h)
}

// Entry wraps a keyframe with generation metadata.
type Entry struct {
	Keyframe    *propagation.Keyframe
	GeneratedAt time.Time
}

// KeyframeCache is an in-memory cache of keyframes with a rolling window.
// Safe for concurrent use by multiple goroutines.
type KeyframeCache struct {
	mu      sync.RWMutex
	entries map[time.Time]*Entry

	config Config
	prop   *propagation.Propagator
	store  *catalog.Store
	logger *slog.Logger
	now    func() time.Time

	// LoadedAt of the catalog the window was built from.
	builtFrom time.Time

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	rebuilding atomic.Bool
}

// NewKeyframeCache creates a new keyframe cache.
func NewKeyframeCache(config Config, prop *propagation.Propagator, store *catalog.Store, logger *slog.Logger) *KeyframeCache {
	logger.Info("cache initialized",
		"step_seconds", config.Step.Seconds(),
		"horizon_seconds", config.Horizon.Seconds(),
		"buffer_seconds", config.Buffer.Seconds(),
	)

	return &KeyframeCache{
		entries: make(map[time.Time]*Entry),
		config:  config,
		prop:    prop,
		store:   store,
		logger:  logger,
		now:     time.Now,
	}
}

// RoundToStep rounds a timestamp down to the nearest step boundary in UTC so
// lookups for any instant inside a step share one key.
func (c *KeyframeCache) RoundToStep(t time.Time) time.Time {
	return t.UTC().Truncate(c.config.Step)
}

// Get returns the keyframe for the step containing t, or nil if not cached.
func (c *KeyframeCache) Get(t time.Time) *propagation.Keyframe {
	key := c.RoundToStep(t)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if ok {
		c.hit()
		return entry.Keyframe
	}

	c.miss()
	return nil
}

// contains reports whether the step containing t is cached without touching
// the hit/miss counters.
func (c *KeyframeCache) contains(t time.Time) bool {
	c.mu.RLock()
	_, ok := c.entries[c.RoundToStep(t)]
	c.mu.RUnlock()
	return ok
}

// GetRecent returns up to count keyframes ending at the step containing t,
// oldest first. Missing steps are skipped.
func (c *KeyframeCache) GetRecent(t time.Time, count int) []*propagation.Keyframe {
	if count <= 0 {
		return nil
	}

	key := c.RoundToStep(t)

	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]*propagation.Keyframe, 0, count)
	for i := count - 1; i >= 0; i-- {
		ts := key.Add(-time.Duration(i) * c.config.Step)
		if entry, ok := c.entries[ts]; ok {
			result = append(result, entry.Keyframe)
		}
	}
	return result
}

// GetLatest returns the newest keyframe not after the current time.
func (c *KeyframeCache) GetLatest() *propagation.Keyframe {
	now := c.RoundToStep(c.now())

	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := 0; i < latestLookback; i++ {
		key := now.Add(-time.Duration(i) * c.config.Step)
		if entry, ok := c.entries[key]; ok {
			c.hit()
			return entry.Keyframe
		}
	}

	c.miss()
	return nil
}

func (c *KeyframeCache) hit() {
	c.hits.Add(1)
	metrics.IncCacheHits()
}

func (c *KeyframeCache) miss() {
	c.misses.Add(1)
	metrics.IncCacheMisses()
}

// put stores a keyframe in the cache. Caller must not hold mu.
func (c *KeyframeCache) put(kf *propagation.Keyframe) {
	key := c.RoundToStep(kf.Timestamp)

	c.mu.Lock()
	c.entries[key] = &Entry{Keyframe: kf, GeneratedAt: c.now()}
	c.mu.Unlock()

	c.updateMetrics()
}

// evictExpired removes entries older than now - buffer.
func (c *KeyframeCache) evictExpired() int {
	cutoff := c.now().Add(-c.config.Buffer)
	var removed int

	c.mu.Lock()
	for ts := range c.entries {
		if ts.Before(cutoff) {
			delete(c.entries, ts)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.evictions.Add(int64(removed))
		metrics.AddCacheEvictions(removed)
		c.updateMetrics()
		c.logger.Debug("cache eviction", "entries_removed", removed)
	}

	return removed
}

// replaceAll swaps in a freshly built window.
func (c *KeyframeCache) replaceAll(entries map[time.Time]*Entry) {
	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
	c.updateMetrics()
}

// Stats holds cache statistics for the stats endpoint.
type Stats struct {
	Entries         int
	SizeBytes       int64
	OldestTimestamp time.Time
	NewestTimestamp time.Time
	Hits            int64
	Misses          int64
	Evictions       int64
	Rebuilding      bool
	CatalogLoadedAt time.Time
}

// Stats returns current cache statistics.
func (c *KeyframeCache) Stats() Stats {
	c.mu.RLock()
	count := len(c.entries)

	var oldest, newest time.Time
	for ts := range c.entries {
		if oldest.IsZero() || ts.Before(oldest) {
			oldest = ts
		}
		if newest.IsZero() || ts.After(newest) {
			newest = ts
		}
	}
	builtFrom := c.builtFrom
	c.mu.RUnlock()

	return Stats{
		Entries:         count,
		SizeBytes:       c.estimateSizeBytes(),
		OldestTimestamp: oldest,
		NewestTimestamp: newest,
		Hits:            c.hits.Load(),
		Misses:          c.misses.Load(),
		Evictions:       c.evictions.Load(),
		Rebuilding:      c.rebuilding.Load(),
		CatalogLoadedAt: builtFrom,
	}
}

// estimateSizeBytes returns a rough estimate of the cache memory footprint.
func (c *KeyframeCache) estimateSizeBytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	bodySize := int64(unsafe.Sizeof(propagation.BodyState{}))
	kfOverhead := int64(unsafe.Sizeof(propagation.Keyframe{}))
	entryOverhead := int64(unsafe.Sizeof(Entry{})) + 8 // plus the map bucket slot

	var total int64
	for _, entry := range c.entries {
		total += entryOverhead
		if entry.Keyframe == nil {
			continue
		}
		total += kfOverhead
		for _, b := range entry.Keyframe.Bodies {
			total += bodySize + int64(len(b.Identifier)+len(b.Parent))
		}
	}
	return total
}

// updateMetrics publishes current cache size to Prometheus.
func (c *KeyframeCache) updateMetrics() {
	c.mu.RLock()
	count := len(c.entries)
	c.mu.RUnlock()

	metrics.SetCacheEntries(count)
	metrics.SetCacheSizeBytes(c.estimateSizeBytes())
}
