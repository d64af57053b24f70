package collector

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nugget/envnode/internal/events"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPresence_Transitions(t *testing.T) {
	bus := events.New()
	sub := bus.Subscribe(16)
	defer bus.Unsubscribe(sub)

	p := NewPresence(30*time.Second, bus, quietLogger())
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if got := p.Status("A01"); got != "" {
		t.Fatalf("Status() before first message = %q, want empty", got)
	}
	if !p.Seen("A01", t0) {
		t.Error("first Seen() = false, want status change")
	}
	if p.Seen("A01", t0.Add(10*time.Second)) {
		t.Error("repeat Seen() = true, want no change")
	}

	// Exactly at the timeout the sensor is still online.
	if got := p.Sweep(t0.Add(40 * time.Second)); len(got) != 0 {
		t.Errorf("Sweep() at timeout = %v, want none", got)
	}
	got := p.Sweep(t0.Add(41 * time.Second))
	if len(got) != 1 || got[0] != "A01" {
		t.Fatalf("Sweep() past timeout = %v, want [A01]", got)
	}
	if p.Status("A01") != StatusOffline {
		t.Errorf("Status() = %q, want OFFLINE", p.Status("A01"))
	}
	if got := p.Sweep(t0.Add(60 * time.Second)); len(got) != 0 {
		t.Errorf("second Sweep() = %v, want no repeat transition", got)
	}

	if !p.Seen("A01", t0.Add(61*time.Second)) {
		t.Error("Seen() after OFFLINE = false, want back online")
	}
	if p.Status("A01") != StatusOnline {
		t.Errorf("Status() = %q, want ONLINE", p.Status("A01"))
	}

	wantStatuses := []string{StatusOnline, StatusOffline, StatusOnline}
	for i, want := range wantStatuses {
		select {
		case ev := <-sub:
			if ev.Kind != events.KindPresence || ev.Source != events.SourceCollector {
				t.Errorf("event %d = %s/%s", i, ev.Source, ev.Kind)
			}
			if ev.Data["status"] != want || ev.Data["sensor_id"] != "A01" {
				t.Errorf("event %d data = %v, want status %s", i, ev.Data, want)
			}
		default:
			t.Fatalf("missing presence event %d", i)
		}
	}
}

func TestPresence_SnapshotSorted(t *testing.T) {
	p := NewPresence(0, nil, quietLogger())
	now := time.Now()
	p.Seen("B01", now)
	p.Seen("A01", now.Add(-time.Minute))
	p.Sweep(now)

	snap := p.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot() len = %d, want 2", len(snap))
	}
	if snap[0].SensorID != "A01" || snap[0].Status != StatusOffline {
		t.Errorf("snap[0] = %+v, want A01 OFFLINE", snap[0])
	}
	if snap[1].SensorID != "B01" || snap[1].Status != StatusOnline {
		t.Errorf("snap[1] = %+v, want B01 ONLINE", snap[1])
	}
}

func TestPresence_RunStopsOnCancel(t *testing.T) {
	p := NewPresence(time.Millisecond, nil, quietLogger())
	p.Seen("A01", time.Now().Add(-time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for p.Status("A01") != StatusOffline {
		select {
		case <-deadline:
			t.Fatal("Run() never swept the silent sensor")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
