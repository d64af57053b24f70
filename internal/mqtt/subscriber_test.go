package mqtt

import (
	"sync"
	"testing"
	"time"
)

func TestMessageRateLimiter(t *testing.T) {
	rl := newMessageRateLimiter(5, time.Second, quietLogger())
	now := time.Unix(1000, 0)

	for i := range 5 {
		if !rl.allow(now) {
			t.Fatalf("message %d should be allowed", i+1)
		}
	}
	if rl.allow(now) {
		t.Error("message 6 should be dropped")
	}
	if got := rl.dropped.Load(); got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}

	// Next window admits again.
	if !rl.allow(now.Add(time.Second)) {
		t.Error("first message of next window should be allowed")
	}
	if got := rl.dropped.Load(); got != 0 {
		t.Errorf("dropped after rollover = %d, want 0", got)
	}
}

func TestMessageRateLimiter_Disabled(t *testing.T) {
	rl := newMessageRateLimiter(0, time.Second, quietLogger())
	now := time.Now()
	for range 1000 {
		if !rl.allow(now) {
			t.Fatal("disabled limiter dropped a message")
		}
	}
}

func TestMessageRateLimiter_Concurrent(t *testing.T) {
	rl := newMessageRateLimiter(100, time.Hour, quietLogger())
	now := time.Unix(5000, 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				if rl.allow(now) {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if allowed != 100 {
		t.Errorf("allowed = %d, want 100", allowed)
	}
}
