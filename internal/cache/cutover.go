package cache

import (
	"context"
	"time"

	"github.com/star/orrery/internal/metrics"
)

// catalogChanged reports whether the store holds a different catalog than
// the one the window was built from.
func (c *KeyframeCache) catalogChanged() bool {
	cat := c.store.Get()
	if cat == nil {
		return false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return !cat.LoadedAt.Equal(c.builtFrom)
}

// performCutover rebuilds the whole window from the new catalog. The old
// window keeps serving reads until the new one is swapped in; a cancelled
// rebuild leaves the old window in place.
func (c *KeyframeCache) performCutover(ctx context.Context) {
	cat := c.store.Get()
	if cat == nil {
		return
	}

	c.mu.RLock()
	old := c.builtFrom
	c.mu.RUnlock()

	c.logger.Info("catalog cutover starting",
		"old_catalog_loaded_at", old.UTC().Format(time.RFC3339),
		"new_catalog_loaded_at", cat.LoadedAt.UTC().Format(time.RFC3339),
	)

	c.rebuilding.Store(true)
	metrics.SetCacheGracePeriodActive(true)
	defer func() {
		c.rebuilding.Store(false)
		metrics.SetCacheGracePeriodActive(false)
	}()

	start := time.Now()
	entries, ok := c.buildWindow(ctx, "cutover")
	if !ok {
		c.logger.Warn("cutover cancelled by context")
		return
	}

	c.mu.Lock()
	c.builtFrom = cat.LoadedAt
	c.mu.Unlock()
	c.replaceAll(entries)

	duration := time.Since(start)
	c.logger.Info("catalog cutover complete",
		"duration_ms", duration.Milliseconds(),
		"entries_replaced", len(entries),
	)
	metrics.ObserveCacheRegenerationDuration(duration)
}
