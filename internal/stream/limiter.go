package stream

import (
	"sync"

	"github.com/star/orrery/internal/metrics"
)

// rejection names the cap that refused a stream. It is the reason label of
// orrery_stream_rejections_total.
type rejection string

const (
	admitted     rejection = ""
	rejectPerIP  rejection = "per_ip"
	rejectGlobal rejection = "global"
)

// streamLimiter caps concurrent keyframe streams per client IP and in total.
// Every change republishes the number of distinct streaming clients.
type streamLimiter struct {
	mu       sync.Mutex
	perIP    map[string]int
	total    int
	maxPerIP int
	maxTotal int
}

func newStreamLimiter(maxPerIP, maxTotal int) *streamLimiter {
	return &streamLimiter{
		perIP:    make(map[string]int),
		maxPerIP: maxPerIP,
		maxTotal: maxTotal,
	}
}

// acquire registers a stream for ip. It returns the cap that refused the
// stream, or admitted. The global cap is checked first.
func (l *streamLimiter) acquire(ip string) rejection {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.total >= l.maxTotal:
		return rejectGlobal
	case l.perIP[ip] >= l.maxPerIP:
		return rejectPerIP
	}

	l.perIP[ip]++
	l.total++
	metrics.SetStreamClients(len(l.perIP))
	return admitted
}

// release returns one of ip's slots. Releasing an ip that holds none is a no-op.
func (l *streamLimiter) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, ok := l.perIP[ip]
	if !ok {
		return
	}
	if n <= 1 {
		delete(l.perIP, ip)
	} else {
		l.perIP[ip] = n - 1
	}
	l.total--
	metrics.SetStreamClients(len(l.perIP))
}

// usage returns the streams held by ip and by all clients.
func (l *streamLimiter) usage(ip string) (held, total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perIP[ip], l.total
}

// clients returns the number of distinct IPs holding a stream.
func (l *streamLimiter) clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.perIP)
}
