package collector

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nugget/envnode/internal/config"
	"github.com/nugget/envnode/internal/events"
	"github.com/nugget/envnode/internal/mqtt"
)

// RecordWriter persists records. [*Store] satisfies it.
type RecordWriter interface {
	Insert(ctx context.Context, rec *Record) error
}

// Sink receives every stored record. [*KafkaSink] satisfies it.
type Sink interface {
	Forward(ctx context.Context, rec Record) error
}

// Counters are the collector's running totals.
type Counters struct {
	Received      uint64 `json:"received"`
	Stored        uint64 `json:"stored"`
	Rejected      uint64 `json:"rejected"`
	StoreFailures uint64 `json:"store_failures"`
	Forwarded     uint64 `json:"forwarded"`
	SinkFailures  uint64 `json:"sink_failures"`
}

// Collector turns inbound telemetry messages into stored records.
type Collector struct {
	store    RecordWriter
	presence *Presence
	sink     Sink
	bus      *events.Bus
	logger   *slog.Logger
	now      func() time.Time

	received, stored, rejected, storeFailures atomic.Uint64
	forwarded, sinkFailures                   atomic.Uint64
}

// New creates a collector. presence, sink and bus may be nil.
func New(store RecordWriter, presence *Presence, sink Sink, bus *events.Bus, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		store:    store,
		presence: presence,
		sink:     sink,
		bus:      bus,
		logger:   logger,
		now:      time.Now,
	}
}

// Handle processes one message. Malformed payloads are logged and
// dropped, but still count as a sign of life for presence.
func (c *Collector) Handle(ctx context.Context, topic string, payload []byte) {
	c.received.Add(1)
	now := c.now()
	c.logger.Log(ctx, config.LevelTrace, "telemetry received", "topic", topic, "payload", string(payload))

	if id := mqtt.SensorIDFromTopic(topic); id != "" && c.presence != nil {
		c.presence.Seen(id, now)
	}
	rec, err := NewRecord(topic, payload, now)
	if err != nil {
		c.rejected.Add(1)
		c.logger.Warn("telemetry message rejected", "topic", topic, "error", err)
		return
	}

	if err := c.store.Insert(ctx, &rec); err != nil {
		c.storeFailures.Add(1)
		c.logger.Error("telemetry record not stored", "sensor_id", rec.SensorID, "error", err)
		return
	}
	c.stored.Add(1)
	c.logger.Debug("telemetry record stored",
		"sensor_id", rec.SensorID,
		"topic", topic,
		"valid", rec.Valid,
		"sampled_at", rec.SampledAt,
	)
	c.bus.Emit(events.SourceCollector, events.KindRecord, map[string]any{
		"sensor_id": rec.SensorID,
		"topic":     topic,
		"valid":     rec.Valid,
	})

	if c.sink == nil {
		return
	}
	if err := c.sink.Forward(ctx, rec); err != nil {
		c.sinkFailures.Add(1)
		c.logger.Warn("telemetry record not forwarded", "sensor_id", rec.SensorID, "error", err)
		return
	}
	c.forwarded.Add(1)
}

// Counters returns the running totals.
func (c *Collector) Counters() Counters {
	return Counters{
		Received:      c.received.Load(),
		Stored:        c.stored.Load(),
		Rejected:      c.rejected.Load(),
		StoreFailures: c.storeFailures.Load(),
		Forwarded:     c.forwarded.Load(),
		SinkFailures:  c.sinkFailures.Load(),
	}
}
