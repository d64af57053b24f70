package mqtt

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// messageRateLimiter tracks inbound message rates and drops messages
// when the rate exceeds the configured threshold. Windows are fixed and
// roll over lazily on the first message after the interval, so there is
// no background goroutine. Counters are atomic because inbound messages
// arrive on transport goroutines.
type messageRateLimiter struct {
	windowStart atomic.Int64 // unix nanos
	count       atomic.Int64
	dropped     atomic.Int64
	limit       int64
	interval    time.Duration
	logger      *slog.Logger
}

// newMessageRateLimiter creates a rate limiter that allows limit
// messages per interval. A limit <= 0 disables limiting.
func newMessageRateLimiter(limit int64, interval time.Duration, logger *slog.Logger) *messageRateLimiter {
	return &messageRateLimiter{
		limit:    limit,
		interval: interval,
		logger:   logger,
	}
}

// allow counts a message received at now and reports whether it is
// within the limit for the current window.
func (r *messageRateLimiter) allow(now time.Time) bool {
	if r.limit <= 0 {
		return true
	}
	r.maybeRoll(now.UnixNano())
	n := r.count.Add(1)
	if n > r.limit {
		r.dropped.Add(1)
		return false
	}
	return true
}

// maybeRoll starts a new window when the current one has expired and
// logs a warning if the expiring window dropped anything.
func (r *messageRateLimiter) maybeRoll(now int64) {
	start := r.windowStart.Load()
	if now-start < int64(r.interval) && now >= start {
		return
	}
	if !r.windowStart.CompareAndSwap(start, now) {
		return
	}
	count := r.count.Swap(0)
	dropped := r.dropped.Swap(0)
	if dropped > 0 {
		r.logger.Warn("mqtt messages dropped due to rate limit",
			"received", count,
			"dropped", dropped,
			"interval", r.interval.String(),
			"limit", r.limit,
		)
	}
}
