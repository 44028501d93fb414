package adminauth_test

import (
	"testing"
	"time"

	oa "github.com/panyam/adminauth"
)

func TestKeyedRateLimiter(t *testing.T) {
	limiter := oa.NewKeyedRateLimiter(time.Hour, 3)

	for i := 0; i < 3; i++ {
		if !limiter.Allow("10.0.0.1:ops@example.com") {
			t.Fatalf("attempt %d should be allowed", i)
		}
	}
	if limiter.Allow("10.0.0.1:ops@example.com") {
		t.Error("fourth attempt should be limited")
	}
	if !limiter.Allow("10.0.0.2:ops@example.com") {
		t.Error("other keys have their own bucket")
	}
	if limiter.Len() != 2 {
		t.Errorf("Expected 2 tracked keys, got %d", limiter.Len())
	}
}

func TestKeyedRateLimiterDropsIdleKeys(t *testing.T) {
	limiter := oa.NewKeyedRateLimiter(time.Hour, 1)
	limiter.IdleTTL = 10 * time.Millisecond

	limiter.Allow("a")
	time.Sleep(30 * time.Millisecond)
	limiter.Allow("b")

	if limiter.Len() != 1 {
		t.Errorf("Expected idle key to be swept, got %d keys", limiter.Len())
	}
	if !limiter.Allow("a") {
		t.Error("A swept key starts with a fresh bucket")
	}
}
