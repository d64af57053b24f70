package connwatch

import (
	"errors"
	"testing"
	"time"
)

var errRefused = errors.New("connection refused")

func TestDefaultBackoffConfig(t *testing.T) {
	cfg := DefaultBackoffConfig()

	if cfg.InitialDelay != 2*time.Second {
		t.Errorf("InitialDelay = %v, want 2s", cfg.InitialDelay)
	}
	if cfg.MaxDelay != 60*time.Second {
		t.Errorf("MaxDelay = %v, want 60s", cfg.MaxDelay)
	}
	if cfg.Multiplier != 1.0 {
		t.Errorf("Multiplier = %v, want 1.0", cfg.Multiplier)
	}
}

func TestWatcher_FirstAttemptAlwaysDue(t *testing.T) {
	w := New(WatcherConfig{Name: "test"})
	if !w.Due(0) {
		t.Error("first attempt should be due at time 0")
	}
}

func TestWatcher_CooldownAfterFailure(t *testing.T) {
	w := New(WatcherConfig{Name: "test"})

	w.Record(1000, errRefused)
	if w.Due(1500) {
		t.Error("attempt due 500ms after failure, want cool-down")
	}
	if w.Due(2999) {
		t.Error("attempt due 1999ms after failure, want cool-down")
	}
	if !w.Due(3000) {
		t.Error("attempt not due 2000ms after failure")
	}
}

func TestWatcher_NeverMoreThanOncePerWindow(t *testing.T) {
	w := New(WatcherConfig{Name: "test"})

	var attempts []uint64
	for now := uint64(0); now <= 30000; now += 10 {
		if w.Due(now) {
			attempts = append(attempts, now)
			w.Record(now, errRefused)
		}
	}
	for i := 1; i < len(attempts); i++ {
		if gap := attempts[i] - attempts[i-1]; gap < 2000 {
			t.Errorf("attempts at %d and %d only %dms apart", attempts[i-1], attempts[i], gap)
		}
	}
	if len(attempts) != 16 {
		t.Errorf("got %d attempts in 30s, want 16", len(attempts))
	}
}

func TestWatcher_ExponentialBackoff(t *testing.T) {
	w := New(WatcherConfig{
		Name: "test",
		Backoff: BackoffConfig{
			InitialDelay: 2 * time.Second,
			MaxDelay:     10 * time.Second,
			Multiplier:   2,
		},
	})

	want := []uint64{2000, 4000, 8000, 10000, 10000}
	now := uint64(0)
	for i, wantWindow := range want {
		w.Record(now, errRefused)
		if got := w.Window(); got != wantWindow {
			t.Errorf("after failure %d window = %d, want %d", i+1, got, wantWindow)
		}
		now += w.Window()
	}

	w.Record(now, nil)
	if got := w.Window(); got != 2000 {
		t.Errorf("window after success = %d, want reset to 2000", got)
	}
}

func TestWatcher_SuccessAndMarkDown(t *testing.T) {
	w := New(WatcherConfig{Name: "test"})

	w.Record(100, nil)
	if !w.IsReady() {
		t.Fatal("expected ready after successful attempt")
	}
	if w.LastError() != nil {
		t.Errorf("LastError() = %v, want nil", w.LastError())
	}

	lost := errors.New("keepalive timeout")
	w.MarkDown(lost)
	if w.IsReady() {
		t.Error("expected not ready after MarkDown")
	}
	if !errors.Is(w.LastError(), lost) {
		t.Errorf("LastError() = %v, want %v", w.LastError(), lost)
	}
	// The last attempt was long ago, so a reconnect is immediately due.
	if !w.Due(10000) {
		t.Error("reconnect should be due once the window since the last attempt elapsed")
	}
}

func TestWatcher_ClockBehindLastAttempt(t *testing.T) {
	w := New(WatcherConfig{Name: "test"})
	w.Record(5000, errRefused)
	if w.Due(10) {
		t.Error("attempt due with clock earlier than last attempt")
	}
}

func TestWatcher_Status(t *testing.T) {
	w := New(WatcherConfig{Name: "mqtt"})
	w.Record(1000, errRefused)

	s := w.Status()
	if s.Name != "mqtt" {
		t.Errorf("Name = %q, want mqtt", s.Name)
	}
	if s.Ready {
		t.Error("Ready = true, want false")
	}
	if s.Attempts != 1 || s.Failures != 1 {
		t.Errorf("Attempts/Failures = %d/%d, want 1/1", s.Attempts, s.Failures)
	}
	if s.NextAttemptAt != 3000 {
		t.Errorf("NextAttemptAt = %d, want 3000", s.NextAttemptAt)
	}
	if s.LastError != "connection refused" {
		t.Errorf("LastError = %q, want %q", s.LastError, "connection refused")
	}
}

func TestBackoffConfig_Defaults(t *testing.T) {
	b := BackoffConfig{InitialDelay: 5 * time.Second, MaxDelay: time.Second}.withDefaults()
	if b.MaxDelay != 5*time.Second {
		t.Errorf("MaxDelay = %v, want raised to InitialDelay", b.MaxDelay)
	}
	if b.Multiplier != 1 {
		t.Errorf("Multiplier = %v, want 1", b.Multiplier)
	}
}

func TestNew_PanicsWithoutName(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for empty name")
		}
	}()
	New(WatcherConfig{})
}
