package mqtt

import "sync"

// Stats counts connectivity outcomes. It is safe for concurrent use:
// inbound counters are bumped from transport goroutines.
type Stats struct {
	mu sync.Mutex
	s  StatsSnapshot
}

// StatsSnapshot is a point-in-time copy of [Stats].
type StatsSnapshot struct {
	ConnectAttempts int64  `json:"connect_attempts"`
	Connects        int64  `json:"connects"`
	ConnectFailures int64  `json:"connect_failures"`
	Disconnects     int64  `json:"disconnects"`
	Publishes       int64  `json:"publishes"`
	PublishFailures int64  `json:"publish_failures"`
	Dropped         int64  `json:"dropped_not_connected"`
	Inbound         int64  `json:"inbound"`
	InboundDropped  int64  `json:"inbound_dropped"`
	LastError       string `json:"last_error,omitempty"`
}

func (s *Stats) update(fn func(*StatsSnapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.s)
}

func (s *Stats) recordError(err error) {
	if err == nil {
		return
	}
	s.update(func(v *StatsSnapshot) { v.LastError = err.Error() })
}

// Snapshot returns the current totals.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.s
}
