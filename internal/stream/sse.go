// Package stream pushes cached keyframes to clients as Server-Sent Events.
// Clients connect via GET /api/v1/stream/keyframes and receive the system
// state of every body each time the cache advances to a new step.
//
// SSE message format:
//
//	data: {"type":"keyframe","t":"2026-02-06T12:00:00Z","jd":2461078,"frame":"system","bodies":[...]}\n\n
//
// The first message on every connection is metadata about the loaded catalog:
//
//	data: {"type":"metadata","catalog_source":"catalog.toml","catalog_age_seconds":1800,...}\n\n
//
// Keep-alive comments (:\n\n) are sent every KeepaliveInterval.
package stream

import (
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/orrery/internal/catalog"
	"github.com/star/orrery/internal/httputil"
	"github.com/star/orrery/internal/metrics"
	"github.com/star/orrery/internal/propagation"
)

// Source supplies keyframes; *cache.KeyframeCache implements it.
type Source interface {
	Get(t time.Time) *propagation.Keyframe
	GetRecent(t time.Time, count int) []*propagation.Keyframe
}

// Config holds streaming limits.
type Config struct {
	MaxConcurrentPerIP int           // default 10
	MaxTotal           int           // default 1000
	KeepaliveInterval  time.Duration // default 30s
	TrustProxy         bool
}

const (
	defaultInterval = 5
	maxInterval     = 3600
	maxTrail        = 48
	frameSystem     = "system"
)

// Handler serves keyframe streams.
type Handler struct {
	source  Source
	store   *catalog.Store
	config  Config
	limiter *streamLimiter
	logger  *slog.Logger
	now     func() time.Time
}

// NewHandler creates a streaming handler. Zero limits take their defaults.
func NewHandler(source Source, store *catalog.Store, config Config, logger *slog.Logger) *Handler {
	if config.MaxConcurrentPerIP <= 0 {
		config.MaxConcurrentPerIP = 10
	}
	if config.MaxTotal <= 0 {
		config.MaxTotal = 1000
	}
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = 30 * time.Second
	}
	return &Handler{
		source:  source,
		store:   store,
		config:  config,
		limiter: newStreamLimiter(config.MaxConcurrentPerIP, config.MaxTotal),
		logger:  logger,
		now:     time.Now,
	}
}

type streamParams struct {
	interval time.Duration
	trail    int
	bodies   map[string]bool // nil streams every body
}

func parseParams(r *http.Request) (streamParams, string) {
	q := r.URL.Query()
	p := streamParams{interval: defaultInterval * time.Second}

	if v := q.Get("interval"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxInterval {
			return p, "invalid interval parameter, must be 1-3600 seconds"
		}
		p.interval = time.Duration(n) * time.Second
	}

	if v := q.Get("trail"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > maxTrail {
			return p, "invalid trail parameter, must be 0-48"
		}
		p.trail = n
	}

	if v := q.Get("bodies"); v != "" {
		p.bodies = make(map[string]bool)
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				p.bodies[id] = true
			}
		}
		if len(p.bodies) == 0 {
			return p, "invalid bodies parameter, expected comma-separated identifiers"
		}
	}

	return p, ""
}

// HandleKeyframes serves the SSE keyframe stream.
// GET /api/v1/stream/keyframes?interval=5&trail=0&bodies=earth,moon
func (h *Handler) HandleKeyframes(w http.ResponseWriter, r *http.Request) {
	params, msg := parseParams(r)
	if msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if rej := h.limiter.acquire(ip); rej != admitted {
		held, total := h.limiter.usage(ip)
		metrics.IncStreamRejections(string(rej))
		h.logger.Warn("stream limit exceeded",
			"remote_ip", ip,
			"cap", string(rej),
			"ip_streams", held,
			"total_streams", total,
		)
		w.Header().Set("Retry-After", "30")
		httputil.WriteError(w, http.StatusTooManyRequests, "too many concurrent streams")
		return
	}

	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()
	start := time.Now()
	h.logger.Info("stream connected",
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
		"interval_seconds", params.interval.Seconds(),
		"trail", params.trail,
	)

	c := &client{logger: h.logger}
	defer func() {
		h.limiter.release(ip)
		metrics.IncStreamConnections("disconnect")
		metrics.DecStreamsActive()
		h.logger.Info("stream disconnected",
			"remote_ip", ip,
			"duration_seconds", int(time.Since(start).Seconds()),
			"messages", c.messagesSent,
			"bytes", c.bytesSent,
		)
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	c.w = w
	c.flusher = flusher
	c.rc = http.NewResponseController(w)
	if err := c.rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	// Jittered reconnect delay (3-7s) spreads clients out after a restart.
	if err := c.write("retry: "+strconv.Itoa(3000+rand.IntN(4000))+"\n\n", false); err != nil {
		return
	}

	if cat := h.store.Get(); cat != nil {
		meta := metadataMessage{
			Type:            "metadata",
			CatalogSource:   cat.Source,
			CatalogLoadedAt: cat.LoadedAt.UTC().Format(time.RFC3339),
			CatalogAge:      int(h.now().Sub(cat.LoadedAt).Seconds()),
			Bodies:          len(cat.Bodies),
			Frame:           frameSystem,
		}
		if err := c.sendJSON(meta); err != nil {
			metrics.IncStreamErrors("send_error")
			h.logger.Warn("stream send error (metadata)", "remote_ip", ip, "error", err)
			return
		}
	}

	var last time.Time
	send := func() bool {
		t := h.now()
		kf := h.source.Get(t)
		if kf == nil {
			metrics.IncStreamErrors("cache_miss")
			h.logger.Debug("stream cache miss", "time", t.UTC().Format(time.RFC3339), "remote_ip", ip)
			return true
		}
		if kf.Timestamp.Equal(last) {
			return true
		}

		var trail []*propagation.Keyframe
		if params.trail > 0 {
			// GetRecent ends at kf itself; ask for one more and drop it.
			trail = h.source.GetRecent(t, params.trail+1)
			if n := len(trail); n > 0 && trail[n-1].Timestamp.Equal(kf.Timestamp) {
				trail = trail[:n-1]
			}
		}

		if err := c.sendJSON(buildKeyframeMessage(kf, trail, params.bodies)); err != nil {
			metrics.IncStreamErrors("send_error")
			h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
			return false
		}
		last = kf.Timestamp
		return true
	}

	if !send() {
		return
	}

	ticker := time.NewTicker(params.interval)
	defer ticker.Stop()

	keepalive := time.NewTicker(h.config.KeepaliveInterval)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			sent := c.messagesSent
			if !send() {
				return
			}
			if c.messagesSent > sent {
				keepalive.Reset(h.config.KeepaliveInterval)
			}

		case <-keepalive.C:
			if err := c.sendKeepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}

// buildKeyframeMessage formats kf as a stream message. Each body carries its
// system-frame position and velocity, plus its positions in trail (oldest
// first) when trail is non-empty. A non-nil filter keeps only listed bodies.
func buildKeyframeMessage(kf *propagation.Keyframe, trail []*propagation.Keyframe, filter map[string]bool) keyframeMessage {
	var trails map[string][][3]float64
	if len(trail) > 0 {
		trails = make(map[string][][3]float64, len(kf.Bodies))
		for _, tkf := range trail {
			for _, b := range tkf.Bodies {
				if filter == nil || filter[b.Identifier] {
					trails[b.Identifier] = append(trails[b.Identifier], vec(b.SystemPosition))
				}
			}
		}
	}

	bodies := make([]bodyPayload, 0, len(kf.Bodies))
	for _, b := range kf.Bodies {
		if filter != nil && !filter[b.Identifier] {
			continue
		}
		bodies = append(bodies, bodyPayload{
			ID:     b.Identifier,
			Parent: b.Parent,
			P:      vec(b.SystemPosition),
			V:      vec(b.SystemVelocity),
			Tr:     trails[b.Identifier],
		})
	}

	return keyframeMessage{
		Type:   "keyframe",
		T:      kf.Timestamp.UTC().Format(time.RFC3339),
		JD:     kf.JulianDate,
		Frame:  frameSystem,
		Bodies: bodies,
	}
}

func vec(v r3.Vec) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

// SSE message payload types.

type metadataMessage struct {
	Type            string `json:"type"`
	CatalogSource   string `json:"catalog_source"`
	CatalogLoadedAt string `json:"catalog_loaded_at"`
	CatalogAge      int    `json:"catalog_age_seconds"`
	Bodies          int    `json:"bodies"`
	Frame           string `json:"frame"`
}

type keyframeMessage struct {
	Type   string        `json:"type"`
	T      string        `json:"t"`
	JD     float64       `json:"jd"`
	Frame  string        `json:"frame"`
	Bodies []bodyPayload `json:"bodies"`
}

type bodyPayload struct {
	ID     string       `json:"id"`
	Parent string       `json:"parent,omitempty"`
	P      [3]float64   `json:"p"`
	V      [3]float64   `json:"v"`
	Tr     [][3]float64 `json:"tr,omitempty"`
}
