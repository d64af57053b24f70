package collector

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nugget/envnode/internal/events"
)

// Presence status values.
const (
	StatusOnline  = "ONLINE"
	StatusOffline = "OFFLINE"
)

// DefaultOfflineTimeout is how long a sensor may stay silent before it
// is reported OFFLINE.
const DefaultOfflineTimeout = 30 * time.Second

// SensorPresence is the externally visible presence of one sensor.
type SensorPresence struct {
	SensorID string    `json:"sensor_id"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}

// Presence tracks when each sensor was last heard from. It is safe for
// concurrent use: Seen runs on subscriber goroutines while Sweep runs
// on a ticker.
type Presence struct {
	mu      sync.Mutex
	sensors map[string]*SensorPresence
	timeout time.Duration
	bus     *events.Bus
	logger  *slog.Logger
}

// NewPresence creates a tracker. A non-positive timeout uses
// DefaultOfflineTimeout.
func NewPresence(timeout time.Duration, bus *events.Bus, logger *slog.Logger) *Presence {
	if timeout <= 0 {
		timeout = DefaultOfflineTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Presence{
		sensors: make(map[string]*SensorPresence),
		timeout: timeout,
		bus:     bus,
		logger:  logger,
	}
}

// Seen records a message from sensorID at now. It reports whether the
// sensor changed status (first sighting or back from OFFLINE).
func (p *Presence) Seen(sensorID string, now time.Time) bool {
	p.mu.Lock()
	sp, ok := p.sensors[sensorID]
	if !ok {
		sp = &SensorPresence{SensorID: sensorID}
		p.sensors[sensorID] = sp
	}
	prev := sp.Status
	sp.LastSeen = now
	sp.Status = StatusOnline
	p.mu.Unlock()

	switch prev {
	case StatusOnline:
		return false
	case StatusOffline:
		p.logger.Info("sensor back online", "sensor_id", sensorID)
	default:
		p.logger.Info("sensor online", "sensor_id", sensorID)
	}
	p.emit(sensorID, StatusOnline)
	return true
}

// Sweep marks every sensor silent for longer than the timeout as
// OFFLINE and returns the IDs that changed, sorted.
func (p *Presence) Sweep(now time.Time) []string {
	var changed []string
	p.mu.Lock()
	for id, sp := range p.sensors {
		if sp.Status == StatusOffline {
			continue
		}
		if now.Sub(sp.LastSeen) > p.timeout {
			sp.Status = StatusOffline
			changed = append(changed, id)
		}
	}
	p.mu.Unlock()

	sort.Strings(changed)
	for _, id := range changed {
		p.logger.Warn("sensor offline", "sensor_id", id, "timeout", p.timeout)
		p.emit(id, StatusOffline)
	}
	return changed
}

// Status returns the current status of sensorID, or "" if it was never
// seen.
func (p *Presence) Status(sensorID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sp, ok := p.sensors[sensorID]; ok {
		return sp.Status
	}
	return ""
}

// Snapshot returns a copy of every tracked sensor, sorted by ID.
func (p *Presence) Snapshot() []SensorPresence {
	p.mu.Lock()
	out := make([]SensorPresence, 0, len(p.sensors))
	for _, sp := range p.sensors {
		out = append(out, *sp)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out
}

// Run sweeps every interval until ctx is cancelled.
func (p *Presence) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			p.Sweep(now)
		}
	}
}

func (p *Presence) emit(sensorID, status string) {
	p.bus.Emit(events.SourceCollector, events.KindPresence, map[string]any{
		"sensor_id": sensorID,
		"status":    status,
	})
}
