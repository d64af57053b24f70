package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nugget/envnode/internal/config"
)

// messageWriter is the subset of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink forwards records to a Kafka topic as JSON, keyed by sensor
// ID so each sensor's records stay ordered within one partition.
type KafkaSink struct {
	w      messageWriter
	topic  string
	logger *slog.Logger
}

// NewKafkaSink creates a sink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string, logger *slog.Logger) *KafkaSink {
	if logger == nil {
		logger = slog.Default()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaSink{w: w, topic: topic, logger: logger.With("component", "kafka-sink")}
}

// Forward writes rec to the topic. It blocks until the broker
// acknowledges or ctx ends.
func (k *KafkaSink) Forward(ctx context.Context, rec Record) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.ID, err)
	}
	msg := kafka.Message{
		Key:   []byte(rec.SensorID),
		Value: value,
		Time:  rec.ReceivedAt,
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write record to kafka topic %s: %w", k.topic, err)
	}
	k.logger.Log(ctx, config.LevelTrace, "record forwarded",
		"sensor_id", rec.SensorID, "id", rec.ID)
	return nil
}

// Close flushes pending writes and releases the writer.
func (k *KafkaSink) Close() error {
	return k.w.Close()
}
