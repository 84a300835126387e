package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labrat-lab/labrat/pkg/config"
	"golang.org/x/time/rate"
)

const (
	limiterSweepInterval = 5 * time.Minute
	limiterIdleTTL       = 10 * time.Minute
)

type clientLimiter struct {
	*rate.Limiter
	seen time.Time
}

// limiterPool hands out one token bucket per client IP.
type limiterPool struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
}

// newLimiterPool refills at requestsPerMinute and allows a burst of the same
// size.
func newLimiterPool(requestsPerMinute int) *limiterPool {
	if requestsPerMinute <= 0 {
		requestsPerMinute = config.DefaultRequestsPerMinute
	}

	return &limiterPool{
		clients: make(map[string]*clientLimiter, 64),
		limit:   rate.Every(time.Minute / time.Duration(requestsPerMinute)),
		burst:   requestsPerMinute,
	}
}

// allow consumes a token for ip at now.
func (p *limiterPool) allow(ip string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.clients[ip]
	if !ok {
		c = &clientLimiter{Limiter: rate.NewLimiter(p.limit, p.burst)}
		p.clients[ip] = c
	}

	c.seen = now

	return c.AllowN(now, 1)
}

// evictIdle drops clients not seen within limiterIdleTTL of now.
func (p *limiterPool) evictIdle(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	evicted := 0

	for ip, c := range p.clients {
		if now.Sub(c.seen) > limiterIdleTTL {
			delete(p.clients, ip)
			evicted++
		}
	}

	return evicted
}

// sweep evicts idle clients periodically until done is closed.
func (p *limiterPool) sweep(done <-chan struct{}) {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			p.evictIdle(now)
		case <-done:
			return
		}
	}
}

// rateLimitMiddleware rejects clients exceeding requestsPerMinute with 429.
func (s *server) rateLimitMiddleware(
	requestsPerMinute int,
) func(http.Handler) http.Handler {
	pool := newLimiterPool(requestsPerMinute)

	go pool.sweep(s.done)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !pool.allow(clientIP(r), time.Now()) {
				writeJSON(w, http.StatusTooManyRequests,
					errorResponse{"rate limit exceeded"})

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns the first X-Forwarded-For hop, or the remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")

		return strings.TrimSpace(first)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
