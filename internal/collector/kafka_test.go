package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nugget/envnode/internal/config"
)

type fakeKafkaWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafkaWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSink_Forward(t *testing.T) {
	w := &fakeKafkaWriter{}
	sink := &KafkaSink{w: w, topic: "envnode.telemetry", logger: quietLogger()}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec, err := NewRecord("iot/home/A01/telemetry", []byte(validPayload), at)
	if err != nil {
		t.Fatalf("NewRecord() error = %v", err)
	}
	rec.ID = "0192f1c4-0000-7000-8000-000000000001"

	if err := sink.Forward(context.Background(), rec); err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("wrote %d messages, want 1", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "A01" {
		t.Errorf("Key = %q, want A01", msg.Key)
	}
	if !msg.Time.Equal(at) {
		t.Errorf("Time = %v, want %v", msg.Time, at)
	}

	var doc map[string]any
	if err := json.Unmarshal(msg.Value, &doc); err != nil {
		t.Fatalf("message value is not JSON: %v", err)
	}
	if doc["sensor_id"] != "A01" || doc["id"] != rec.ID {
		t.Errorf("value = %v", doc)
	}
	if doc["temperatureCelcius"] != 22.5 {
		t.Errorf("temperatureCelcius = %v, want 22.5", doc["temperatureCelcius"])
	}
	if _, ok := doc["Raw"]; ok {
		t.Error("raw payload leaked into the Kafka document")
	}

	if err := sink.Close(); err != nil || !w.closed {
		t.Errorf("Close() error = %v, closed = %v", err, w.closed)
	}
}

func TestKafkaSink_ForwardLogsAtTrace(t *testing.T) {
	tests := []struct {
		name  string
		level slog.Level
		want  bool
	}{
		{"trace", config.LevelTrace, true},
		{"debug", slog.LevelDebug, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{
				Level:       tt.level,
				ReplaceAttr: config.ReplaceLogLevelNames,
			}))
			sink := &KafkaSink{w: &fakeKafkaWriter{}, topic: "t", logger: logger}
			if err := sink.Forward(context.Background(), Record{SensorID: "B01"}); err != nil {
				t.Fatalf("Forward() error = %v", err)
			}
			got := strings.Contains(buf.String(), "level=TRACE msg=\"record forwarded\"")
			if got != tt.want {
				t.Errorf("trace line logged = %v, want %v; log: %s", got, tt.want, buf.String())
			}
		})
	}
}

func TestKafkaSink_ForwardError(t *testing.T) {
	leader := errors.New("leader not available")
	sink := &KafkaSink{w: &fakeKafkaWriter{err: leader}, topic: "t", logger: quietLogger()}

	err := sink.Forward(context.Background(), Record{SensorID: "A01"})
	if !errors.Is(err, leader) {
		t.Fatalf("Forward() error = %v, want wrapped %v", err, leader)
	}
}

func TestNewKafkaSink(t *testing.T) {
	sink := NewKafkaSink([]string{"localhost:9092"}, "envnode.telemetry", nil)
	w, ok := sink.w.(*kafka.Writer)
	if !ok {
		t.Fatalf("writer type = %T, want *kafka.Writer", sink.w)
	}
	if w.Topic != "envnode.telemetry" {
		t.Errorf("Topic = %q", w.Topic)
	}
	if _, ok := w.Balancer.(*kafka.Hash); !ok {
		t.Errorf("Balancer = %T, want *kafka.Hash", w.Balancer)
	}
	if w.Addr.String() != "localhost:9092" {
		t.Errorf("Addr = %q", w.Addr.String())
	}
}
