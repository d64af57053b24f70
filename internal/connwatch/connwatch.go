// Package connwatch paces reconnection attempts to an external service
// (the MQTT broker) from inside a cooperative, tick-driven loop.
//
// A [Watcher] never sleeps and never spawns goroutines. The caller asks
// [Watcher.Due] on every tick and, when it reports true, makes exactly
// one connection attempt and reports the outcome through
// [Watcher.Record]. Attempts are spaced by a cool-down window that
// starts at BackoffConfig.InitialDelay and grows by Multiplier after
// each consecutive failure, capped at MaxDelay. The window never drops
// below InitialDelay, so a blocking connect call can stall the loop at
// most once per window no matter how often the loop ticks.
package connwatch

import (
	"log/slog"
	"time"
)

// BackoffConfig controls spacing between connection attempts.
type BackoffConfig struct {
	// InitialDelay is the cool-down after the first failure (default: 2s).
	InitialDelay time.Duration

	// MaxDelay is the ceiling for backoff growth (default: 60s).
	MaxDelay time.Duration

	// Multiplier scales the delay after each consecutive failure
	// (default: 1.0, a fixed window).
	Multiplier float64
}

// DefaultBackoffConfig returns a fixed 2-second cool-down, the cadence
// the firmware used between broker connection attempts.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   1.0,
	}
}

// withDefaults fills zero-value fields and keeps MaxDelay >= InitialDelay.
func (c BackoffConfig) withDefaults() BackoffConfig {
	d := DefaultBackoffConfig()
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = d.Multiplier
	}
	return c
}

// WatcherConfig configures a single service watcher.
type WatcherConfig struct {
	// Name is a human-readable identifier for logging (e.g., "mqtt").
	Name string

	// Backoff controls attempt spacing. Zero fields take defaults.
	Backoff BackoffConfig

	// Logger for structured logging. Uses slog.Default() if nil.
	Logger *slog.Logger
}

// ServiceStatus is the connection status of a watched service, suitable
// for JSON serialization in health endpoints. Times are monotonic
// milliseconds from the loop clock.
type ServiceStatus struct {
	Name          string `json:"name"`
	Ready         bool   `json:"ready"`
	Attempts      int    `json:"attempts"`
	Failures      int    `json:"consecutive_failures"`
	LastAttemptAt uint64 `json:"last_attempt_at"`
	NextAttemptAt uint64 `json:"next_attempt_at"`
	LastError     string `json:"last_error,omitempty"`
}

// Watcher tracks attempts against one service. It is owned by a single
// goroutine and is not safe for concurrent use.
type Watcher struct {
	name    string
	backoff BackoffConfig
	logger  *slog.Logger

	ready     bool
	attempted bool
	lastAt    uint64
	window    uint64
	attempts  int
	failures  int
	lastErr   error
}

// New creates a Watcher. Panics if Name is empty; that is a
// programming error.
func New(cfg WatcherConfig) *Watcher {
	if cfg.Name == "" {
		panic("connwatch: WatcherConfig.Name must not be empty")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	b := cfg.Backoff.withDefaults()
	return &Watcher{
		name:    cfg.Name,
		backoff: b,
		logger:  cfg.Logger,
		window:  millis(b.InitialDelay),
	}
}

// Due reports whether a connection attempt may be made at now. The
// first attempt is always due; later ones wait out the current window
// measured from the previous attempt.
func (w *Watcher) Due(now uint64) bool {
	if !w.attempted {
		return true
	}
	if now < w.lastAt {
		return false
	}
	return now-w.lastAt >= w.window
}

// Record stores the outcome of an attempt made at now. A nil err marks
// the service ready and resets the window; an error grows it.
func (w *Watcher) Record(now uint64, err error) {
	w.attempted = true
	w.lastAt = now
	w.attempts++
	w.lastErr = err

	if err == nil {
		if !w.ready {
			w.logger.Info("service connected",
				"service", w.name,
				"after_attempts", w.failures+1,
			)
		}
		w.ready = true
		w.failures = 0
		w.window = millis(w.backoff.InitialDelay)
		return
	}

	w.ready = false
	w.failures++
	if w.failures > 1 {
		next := uint64(float64(w.window) * w.backoff.Multiplier)
		w.window = min(next, millis(w.backoff.MaxDelay))
	}
	w.logger.Debug("connection attempt failed",
		"service", w.name,
		"consecutive_failures", w.failures,
		"next_delay", time.Duration(w.window)*time.Millisecond,
		"error", err,
	)
}

// MarkDown records that an established connection was lost. It does
// not count as an attempt, so a reconnect is due as soon as the window
// since the last attempt has elapsed.
func (w *Watcher) MarkDown(err error) {
	if !w.ready {
		return
	}
	w.ready = false
	w.lastErr = err
	w.logger.Info("service became unreachable", "service", w.name, "error", err)
}

// IsReady reports whether the last attempt succeeded and the
// connection has not since been marked down.
func (w *Watcher) IsReady() bool {
	return w.ready
}

// LastError returns the most recent attempt or disconnect error.
func (w *Watcher) LastError() error {
	return w.lastErr
}

// Window returns the current cool-down in milliseconds.
func (w *Watcher) Window() uint64 {
	return w.window
}

// Status returns the current connection status.
func (w *Watcher) Status() ServiceStatus {
	s := ServiceStatus{
		Name:          w.name,
		Ready:         w.ready,
		Attempts:      w.attempts,
		Failures:      w.failures,
		LastAttemptAt: w.lastAt,
	}
	if w.attempted {
		s.NextAttemptAt = w.lastAt + w.window
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

func millis(d time.Duration) uint64 {
	return uint64(d / time.Millisecond)
}
