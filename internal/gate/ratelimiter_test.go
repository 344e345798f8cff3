package gate

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow(1) {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if rl.Allow(1) {
		t.Fatal("request beyond the limit should be rejected")
	}
}

func TestRateLimiterPerIdentifier(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)

	if !rl.Allow(1) {
		t.Fatal("first request for identifier 1 should be allowed")
	}
	if !rl.Allow(2) {
		t.Fatal("identifier 2's request should not be affected by identifier 1's window")
	}
	if rl.Allow(1) {
		t.Fatal("second request for identifier 1 should be rejected")
	}
}

func TestRateLimiterWindowExpires(t *testing.T) {
	rl := NewRateLimiter(1, 30*time.Millisecond)

	if !rl.Allow(1) {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow(1) {
		t.Fatal("immediate second request should be rejected")
	}
	time.Sleep(40 * time.Millisecond)
	if !rl.Allow(1) {
		t.Fatal("request after the window elapses should be allowed again")
	}
}

func TestRateLimiterRetryAfter(t *testing.T) {
	rl := NewRateLimiter(1, 50*time.Millisecond)
	rl.Allow(1)

	wait := rl.RetryAfter(1)
	if wait <= 0 || wait > 50*time.Millisecond {
		t.Fatalf("RetryAfter() = %v, want within (0, 50ms]", wait)
	}

	if wait := rl.RetryAfter(999); wait != 0 {
		t.Fatalf("RetryAfter() for an untouched identifier = %v, want 0", wait)
	}
}
