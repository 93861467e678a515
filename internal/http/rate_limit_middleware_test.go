package httpx

import (
	"testing"
	"time"
)

func TestMemoryRateLimiterFixedWindow(t *testing.T) {
	rl := NewMemoryRateLimiter()
	defer rl.Close()

	const limit = 3
	for i := 0; i < limit; i++ {
		decision := rl.Allow("ip:10.0.0.1", limit, time.Minute)
		if !decision.allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if decision.count != i+1 {
			t.Fatalf("expected count %d, got %d", i+1, decision.count)
		}
	}

	decision := rl.Allow("ip:10.0.0.1", limit, time.Minute)
	if decision.allowed {
		t.Fatal("request over limit should be denied")
	}

	// A different key has its own window.
	if d := rl.Allow("ip:10.0.0.2", limit, time.Minute); !d.allowed {
		t.Fatal("independent key should be allowed")
	}
}

func TestMemoryRateLimiterZeroLimitAllowsAll(t *testing.T) {
	rl := NewMemoryRateLimiter()
	defer rl.Close()
	for i := 0; i < 100; i++ {
		if d := rl.Allow("ip:10.0.0.1", 0, time.Minute); !d.allowed {
			t.Fatal("zero limit must not block")
		}
	}
}

func TestMemoryRateLimiterCleanup(t *testing.T) {
	rl := NewMemoryRateLimiter().(*memoryRateLimiter)
	defer rl.Close()

	rl.Allow("ip:10.0.0.1", 1, time.Millisecond)
	rl.cleanup(time.Now().Add(time.Second))

	rl.mu.Lock()
	remaining := len(rl.entries)
	rl.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected expired entries swept, %d remain", remaining)
	}
}
