package server

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterRefill(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := newRateLimiter(2, time.Second)
	defer rl.close()
	rl.now = func() time.Time { return now }

	if !rl.allow("1.2.3.4") || !rl.allow("1.2.3.4") {
		t.Fatal("expected first two requests allowed")
	}
	if rl.allow("1.2.3.4") {
		t.Fatal("expected third request denied")
	}
	if !rl.allow("5.6.7.8") {
		t.Fatal("expected other visitor allowed")
	}

	now = now.Add(time.Second)
	if !rl.allow("1.2.3.4") {
		t.Fatal("expected request allowed after refill")
	}
}

func TestRateLimiterKeepsActiveVisitors(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := newRateLimiter(1, time.Hour)
	defer rl.close()
	rl.now = func() time.Time { return now }

	if !rl.allow("1.2.3.4") {
		t.Fatal("expected first request allowed")
	}
	// Denied requests every few minutes keep the visitor, and its empty
	// bucket, from being forgotten.
	for range 4 {
		now = now.Add(4 * time.Minute)
		if rl.allow("1.2.3.4") {
			t.Fatal("expected request denied before the hour is up")
		}
		rl.forgetIdle(5 * time.Minute)
	}
	if _, ok := rl.visitors["1.2.3.4"]; !ok {
		t.Fatal("expected active visitor to be kept")
	}

	now = now.Add(6 * time.Minute)
	rl.forgetIdle(5 * time.Minute)
	if _, ok := rl.visitors["1.2.3.4"]; ok {
		t.Fatal("expected idle visitor to be forgotten")
	}
}

func TestRateLimiterRefillKeepsRemainder(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := newRateLimiter(1, time.Second)
	defer rl.close()
	rl.now = func() time.Time { return now }

	rl.allow("a")
	now = now.Add(1500 * time.Millisecond)
	if !rl.allow("a") {
		t.Fatal("expected refill after one interval")
	}
	// The refill interval restarted at 1s, not 1.5s.
	now = now.Add(600 * time.Millisecond)
	if !rl.allow("a") {
		t.Fatal("expected refill at the next interval boundary")
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	if got := clientIP(r); got != "10.0.0.1" {
		t.Fatalf("expected 10.0.0.1, got %q", got)
	}
	r.RemoteAddr = "weird"
	if got := clientIP(r); got != "weird" {
		t.Fatalf("expected raw address, got %q", got)
	}
}
