package cache

import (
	"context"
	"time"

	"github.com/star/orrery/internal/metrics"
)

// Start runs the cache maintenance loop until ctx is cancelled. Once a
// catalog is available it fills the window, then every step it generates the
// leading edge, evicts expired entries and rebuilds on catalog change.
func (c *KeyframeCache) Start(ctx context.Context) {
	if !c.waitForCatalog(ctx) {
		return
	}

	c.warmup(ctx)

	ticker := time.NewTicker(c.config.Step)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("cache generator stopped")
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

// waitForCatalog polls the store every second until a catalog is loaded.
// Returns false if ctx is cancelled first.
func (c *KeyframeCache) waitForCatalog(ctx context.Context) bool {
	if c.store.Get() != nil {
		return true
	}

	c.logger.Info("cache waiting for catalog")
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if c.store.Get() != nil {
				c.logger.Info("catalog available, starting cache warmup")
				return true
			}
		}
	}
}

// warmup fills the cache with keyframes for [now, now+horizon].
func (c *KeyframeCache) warmup(ctx context.Context) {
	cat := c.store.Get()
	if cat == nil {
		return
	}

	start := time.Now()
	entries, ok := c.buildWindow(ctx, "warmup")
	if !ok {
		return
	}

	c.mu.Lock()
	c.builtFrom = cat.LoadedAt
	c.mu.Unlock()
	c.replaceAll(entries)

	c.logger.Info("cache warmup complete",
		"generated", len(entries),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// buildWindow generates every keyframe of the current window into a new map.
// Failed frames are logged and skipped. Returns false if ctx was cancelled.
func (c *KeyframeCache) buildWindow(ctx context.Context, phase string) (map[time.Time]*Entry, bool) {
	now := c.RoundToStep(c.now())
	numFrames := int(c.config.Horizon/c.config.Step) + 1

	c.logger.Info("cache window build starting",
		"phase", phase,
		"frames", numFrames,
		"from", now.Format(time.RFC3339),
		"to", now.Add(c.config.Horizon).Format(time.RFC3339),
	)

	entries := make(map[time.Time]*Entry, numFrames)
	for i := 0; i < numFrames; i++ {
		select {
		case <-ctx.Done():
			return nil, false
		default:
		}

		target := now.Add(time.Duration(i) * c.config.Step)
		kf, err := c.prop.PropagateToTime(ctx, target)
		if err != nil {
			c.logger.Warn("keyframe generation failed",
				"phase", phase,
				"timestamp", target.Format(time.RFC3339),
				"error", err,
			)
			metrics.IncCacheRegenerationErrors()
			continue
		}
		entries[target] = &Entry{Keyframe: kf, GeneratedAt: c.now()}
	}
	return entries, true
}

// tick runs one iteration of the maintenance loop.
func (c *KeyframeCache) tick(ctx context.Context) {
	if c.catalogChanged() {
		c.performCutover(ctx)
		return
	}

	c.generateLeadingEdge(ctx)
	c.evictExpired()
}

// generateLeadingEdge generates the keyframe at the leading edge of the window.
func (c *KeyframeCache) generateLeadingEdge(ctx context.Context) {
	target := c.RoundToStep(c.now().Add(c.config.Horizon))
	if c.contains(target) {
		return
	}

	start := time.Now()
	kf, err := c.prop.PropagateToTime(ctx, target)
	duration := time.Since(start)

	if err != nil {
		c.logger.Warn("leading edge generation failed",
			"timestamp", target.Format(time.RFC3339),
			"error", err,
		)
		metrics.IncCacheRegenerationErrors()
		return
	}

	c.put(kf)
	metrics.ObserveCacheRegenerationDuration(duration)

	c.logger.Debug("leading edge generated",
		"timestamp", target.Format(time.RFC3339),
		"bodies", len(kf.Bodies),
		"duration_ms", duration.Milliseconds(),
	)
}
