package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type memoryWriter struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (m *memoryWriter) Insert(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	rec.ID = "rec-" + rec.SensorID
	m.records = append(m.records, *rec)
	return nil
}

type memorySink struct {
	forwarded []Record
	err       error
}

func (s *memorySink) Forward(_ context.Context, rec Record) error {
	if s.err != nil {
		return s.err
	}
	s.forwarded = append(s.forwarded, rec)
	return nil
}

func TestCollector_Handle(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		topic     string
		payload   string
		storeErr  error
		sinkErr   error
		want      Counters
		presence  string
		forwarded int
	}{
		{
			name:      "valid reading",
			topic:     "iot/home/A01/telemetry",
			payload:   validPayload,
			want:      Counters{Received: 1, Stored: 1, Forwarded: 1},
			presence:  StatusOnline,
			forwarded: 1,
		},
		{
			name:      "sensor failure is still recorded",
			topic:     "iot/home/A01/telemetry",
			payload:   invalidPayload,
			want:      Counters{Received: 1, Stored: 1, Forwarded: 1},
			presence:  StatusOnline,
			forwarded: 1,
		},
		{
			name:     "malformed payload counts for presence",
			topic:    "iot/home/A01/telemetry",
			payload:  "{",
			want:     Counters{Received: 1, Rejected: 1},
			presence: StatusOnline,
		},
		{
			name:    "topic without sensor",
			topic:   "telemetry",
			payload: validPayload,
			want:    Counters{Received: 1, Rejected: 1},
		},
		{
			name:     "store failure skips sink",
			topic:    "iot/home/A01/telemetry",
			payload:  validPayload,
			storeErr: errors.New("disk full"),
			want:     Counters{Received: 1, StoreFailures: 1},
			presence: StatusOnline,
		},
		{
			name:     "sink failure",
			topic:    "iot/home/A01/telemetry",
			payload:  validPayload,
			sinkErr:  errors.New("no leader"),
			want:     Counters{Received: 1, Stored: 1, SinkFailures: 1},
			presence: StatusOnline,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memoryWriter{err: tt.storeErr}
			sink := &memorySink{err: tt.sinkErr}
			presence := NewPresence(0, nil, quietLogger())
			c := New(store, presence, sink, nil, quietLogger())
			c.now = func() time.Time { return now }

			c.Handle(context.Background(), tt.topic, []byte(tt.payload))

			if got := c.Counters(); got != tt.want {
				t.Errorf("Counters() = %+v, want %+v", got, tt.want)
			}
			if got := presence.Status("A01"); got != tt.presence {
				t.Errorf("presence = %q, want %q", got, tt.presence)
			}
			if len(sink.forwarded) != tt.forwarded {
				t.Errorf("forwarded %d records, want %d", len(sink.forwarded), tt.forwarded)
			}
			if tt.forwarded > 0 {
				rec := sink.forwarded[0]
				if rec.ID != "rec-A01" || !rec.ReceivedAt.Equal(now) {
					t.Errorf("forwarded record = %+v", rec)
				}
			}
		})
	}
}

func TestCollector_NilOptionalParts(t *testing.T) {
	store := &memoryWriter{}
	c := New(store, nil, nil, nil, nil)
	c.Handle(context.Background(), "iot/home/B01/telemetry", []byte(validPayload))

	if len(store.records) != 1 {
		t.Fatalf("stored %d records, want 1", len(store.records))
	}
	if got := c.Counters(); got.Stored != 1 || got.Forwarded != 0 {
		t.Errorf("Counters() = %+v", got)
	}
}
