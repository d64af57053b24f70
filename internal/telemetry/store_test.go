package telemetry

import (
	"testing"

	"github.com/nugget/envnode/internal/sensor"
)

func TestStore_Empty(t *testing.T) {
	var s Store
	if s.Current().Attempted() {
		t.Error("empty store should hold no attempt")
	}
	if got := s.AgeMillis(10000); got != 0 {
		t.Errorf("AgeMillis() on empty store = %d, want 0", got)
	}
	if s.IsNovel(0) {
		t.Error("empty store should never be novel")
	}
}

func TestStore_UpdateKeepsInvalidAttempts(t *testing.T) {
	var s Store
	s.Update(sensor.Reading{Valid: true, TemperatureC: 21, SampledAtMillis: 2000})
	s.Update(sensor.Reading{SampledAtMillis: 4000})

	got := s.Current()
	if got.Valid {
		t.Error("store should reflect the most recent attempt, not the most recent success")
	}
	if got.SampledAtMillis != 4000 {
		t.Errorf("SampledAtMillis = %d, want 4000", got.SampledAtMillis)
	}
}

func TestStore_AgeMillis(t *testing.T) {
	var s Store
	s.Update(sensor.Reading{Valid: true, SampledAtMillis: 2000})

	tests := []struct {
		now  uint64
		want uint64
	}{
		{2000, 0},
		{5000, 3000},
		{1000, 0},
	}
	for _, tt := range tests {
		if got := s.AgeMillis(tt.now); got != tt.want {
			t.Errorf("AgeMillis(%d) = %d, want %d", tt.now, got, tt.want)
		}
	}
}

func TestStore_IsNovel(t *testing.T) {
	tests := []struct {
		name          string
		sampledAt     uint64
		lastPublished uint64
		want          bool
	}{
		{"never sampled", 0, 0, false},
		{"never sampled after publish", 0, 2000, false},
		{"first sample", 2000, 0, true},
		{"repeat of published", 2000, 2000, false},
		{"newer sample", 4000, 2000, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s Store
			s.Update(sensor.Reading{SampledAtMillis: tt.sampledAt})
			if got := s.IsNovel(tt.lastPublished); got != tt.want {
				t.Errorf("IsNovel(%d) with sample %d = %v, want %v", tt.lastPublished, tt.sampledAt, got, tt.want)
			}
		})
	}
}

func TestStore_IsNovelProperty(t *testing.T) {
	var s Store
	for ts := uint64(1); ts < 50000; ts += 997 {
		s.Update(sensor.Reading{SampledAtMillis: ts})
		if s.IsNovel(ts) {
			t.Fatalf("IsNovel(%d) = true for its own timestamp", ts)
		}
		if !s.IsNovel(ts + 1) {
			t.Fatalf("IsNovel(%d) = false for a different timestamp", ts+1)
		}
	}
}
