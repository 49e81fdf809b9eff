package api

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/star/orrery/internal/httputil"
	"github.com/star/orrery/internal/metrics"
)

// maxTrackedClients bounds the limiter map; past it, idle clients are dropped.
const (
	maxTrackedClients = 10000
	clientIdleTimeout = 10 * time.Minute
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter hands out one token bucket per client address.
type IPRateLimiter struct {
	mu         sync.Mutex
	clients    map[string]*clientLimiter
	r          rate.Limit
	b          int
	trustProxy bool
	now        func() time.Time
}

// NewIPRateLimiter creates a limiter allowing r requests per second with
// bursts of b for each client.
func NewIPRateLimiter(r rate.Limit, b int, trustProxy bool) *IPRateLimiter {
	if b < 1 {
		b = 1
	}
	return &IPRateLimiter{
		clients:    make(map[string]*clientLimiter),
		r:          r,
		b:          b,
		trustProxy: trustProxy,
		now:        time.Now,
	}
}

// Allow reports whether the client at ip may make a request now.
func (l *IPRateLimiter) Allow(ip string) bool {
	now := l.now()

	l.mu.Lock()
	c, ok := l.clients[ip]
	if !ok {
		if len(l.clients) >= maxTrackedClients {
			l.pruneLocked(now)
		}
		c = &clientLimiter{limiter: rate.NewLimiter(l.r, l.b)}
		l.clients[ip] = c
	}
	c.lastSeen = now
	l.mu.Unlock()

	return c.limiter.AllowN(now, 1)
}

func (l *IPRateLimiter) pruneLocked(now time.Time) {
	for ip, c := range l.clients {
		if now.Sub(c.lastSeen) > clientIdleTimeout {
			delete(l.clients, ip)
		}
	}
}

// Wrap rejects requests over the client's limit with 429.
func (l *IPRateLimiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(httputil.ClientIP(r, l.trustProxy)) {
			metrics.IncRateLimited()
			w.Header().Set("Retry-After", "1")
			httputil.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
