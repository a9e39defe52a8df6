package server

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// rateLimiter is a simple per-IP token bucket rate limiter.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*bucket
	rate     int           // tokens per interval
	interval time.Duration // refill interval
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

type bucket struct {
	tokens   int
	refilled time.Time // start of the current refill interval
	lastSeen time.Time // last request, refused or not
}

func newRateLimiter(rate int, interval time.Duration) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*bucket),
		rate:     rate,
		interval: interval,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go rl.cleanup(time.Minute, 5*time.Minute)
	return rl
}

// cleanup forgets visitors idle for longer than idle.
func (rl *rateLimiter) cleanup(every, idle time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.forgetIdle(idle)
		}
	}
}

func (rl *rateLimiter) forgetIdle(idle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for ip, b := range rl.visitors {
		if now.Sub(b.lastSeen) > idle {
			delete(rl.visitors, ip)
		}
	}
}

func (rl *rateLimiter) close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.visitors[ip]
	if !ok {
		rl.visitors[ip] = &bucket{tokens: rl.rate - 1, refilled: now, lastSeen: now}
		return true
	}
	b.lastSeen = now

	// Refill tokens based on elapsed time.
	refill := int(now.Sub(b.refilled) / rl.interval)
	if refill > 0 {
		b.tokens += refill * rl.rate
		if b.tokens > rl.rate {
			b.tokens = rl.rate
		}
		b.refilled = b.refilled.Add(time.Duration(refill) * rl.interval)
	}

	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// clientIP returns the host part of the request's remote address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
