package portalhttp

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// limiterIdle is how long a client's bucket is kept after its last
	// login attempt.
	limiterIdle  = 15 * time.Minute
	limiterPrune = time.Minute
)

// loginLimiter hands out one token bucket per client host, so a noisy client
// exhausts only its own login budget.
type loginLimiter struct {
	limit rate.Limit
	burst int

	mu        sync.Mutex
	clients   map[string]*clientLimiter
	lastPrune time.Time
}

type clientLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

func newLoginLimiter(limit rate.Limit, burst int) *loginLimiter {
	return &loginLimiter{limit: limit, burst: burst, clients: make(map[string]*clientLimiter)}
}

// reserve takes one credential check from key's bucket. It returns nil when
// throttling is disabled.
func (l *loginLimiter) reserve(key string, now time.Time) *rate.Reservation {
	if l.limit == rate.Inf {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastPrune) >= limiterPrune {
		l.pruneLocked(now)
	}
	c, ok := l.clients[key]
	if !ok {
		c = &clientLimiter{lim: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.seen = now
	return c.lim.ReserveN(now, 1)
}

// pruneLocked drops buckets idle long enough to have refilled.
func (l *loginLimiter) pruneLocked(now time.Time) {
	idle := limiterIdle
	if l.limit > 0 {
		if refill := time.Duration(float64(l.burst) / float64(l.limit) * float64(time.Second)); refill > idle {
			idle = refill
		}
	}
	for key, c := range l.clients {
		if now.Sub(c.seen) > idle {
			delete(l.clients, key)
		}
	}
	l.lastPrune = now
}

func (l *loginLimiter) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// clientKey identifies the caller by the host part of its remote address.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
