package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nugget/envnode/internal/sensor"
)

// DefaultPublishInterval is the minimum spacing between publishes in
// milliseconds.
const DefaultPublishInterval uint64 = 5000

// NoveltyPolicy decides when a reading counts as already published.
type NoveltyPolicy string

const (
	// NoveltyOnAttempt marks a novel reading as published whenever the
	// publish gate fires, whether or not the broker accepted it.
	NoveltyOnAttempt NoveltyPolicy = "on_attempt"
	// NoveltyOnDelivery marks a reading as published only when the
	// transport reports success, so an undelivered sample is announced
	// as new again on the next firing.
	NoveltyOnDelivery NoveltyPolicy = "on_delivery"
)

// ParseNoveltyPolicy converts a config string to a NoveltyPolicy. The
// empty string selects [NoveltyOnAttempt].
func ParseNoveltyPolicy(s string) (NoveltyPolicy, error) {
	switch NoveltyPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", NoveltyOnAttempt:
		return NoveltyOnAttempt, nil
	case NoveltyOnDelivery:
		return NoveltyOnDelivery, nil
	default:
		return NoveltyOnAttempt, fmt.Errorf("unknown novelty policy %q (valid: on_attempt, on_delivery)", s)
	}
}

// Conn is the part of the connectivity manager the Publisher needs.
type Conn interface {
	EnsureConnected(ctx context.Context, now uint64)
	Publish(ctx context.Context, topic string, payload []byte) bool
}

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	// Interval is the publish gate in milliseconds (default 5000).
	Interval uint64

	// Topics receive publishes in round-robin order, one per firing.
	Topics []string

	// Policy controls novelty bookkeeping (default on_attempt).
	Policy NoveltyPolicy
}

// PublishResult describes one publish-gate firing.
type PublishResult struct {
	Fired     bool
	Topic     string
	Payload   Payload
	Novel     bool
	Delivered bool
}

// Publisher gates, serializes and hands off telemetry. It owns the
// record of the last sample announced as published; nothing else reads
// or writes it. Not safe for concurrent use.
type Publisher struct {
	cfg    PublisherConfig
	logger *slog.Logger

	lastPublish            uint64
	lastPublishedSampledAt uint64
	next                   int
}

// NewPublisher validates cfg and returns a Publisher.
func NewPublisher(cfg PublisherConfig, logger *slog.Logger) (*Publisher, error) {
	if len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("publisher needs at least one topic")
	}
	for i, t := range cfg.Topics {
		if t == "" {
			return nil, fmt.Errorf("publisher topic %d is empty", i)
		}
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultPublishInterval
	}
	if cfg.Policy == "" {
		cfg.Policy = NoveltyOnAttempt
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{cfg: cfg, logger: logger}, nil
}

// LastPublishedSampledAt returns the timestamp of the last reading
// recorded as published, or 0.
func (p *Publisher) LastPublishedSampledAt() uint64 {
	return p.lastPublishedSampledAt
}

// NextTopic returns the topic the next firing will use.
func (p *Publisher) NextTopic() string {
	return p.cfg.Topics[p.next]
}

// Tick runs the publish gate at now. When the gate fires it builds the
// payload from store, asks conn to make sure it is connected, and hands
// the payload off exactly once. Failed hand-offs are dropped.
func (p *Publisher) Tick(ctx context.Context, now uint64, store *Store, conn Conn) PublishResult {
	if now < p.lastPublish || now-p.lastPublish < p.cfg.Interval {
		return PublishResult{}
	}
	p.lastPublish = now

	reading := store.Current()
	novel := store.IsNovel(p.lastPublishedSampledAt)
	payload := NewPayload(reading, now, store.AgeMillis(now), novel)

	topic := p.cfg.Topics[p.next]
	p.next = (p.next + 1) % len(p.cfg.Topics)

	res := PublishResult{
		Fired:   true,
		Topic:   topic,
		Payload: payload,
		Novel:   novel,
	}

	body, err := payload.Marshal()
	if err != nil {
		// Unencodable numbers mean the reading is unusable; report it
		// as a failed read rather than skipping the hand-off.
		p.logger.Error("telemetry payload encoding failed", "error", err)
		payload = NewPayload(sensor.Reading{SampledAtMillis: reading.SampledAtMillis}, now, payload.AgeReadings, novel)
		res.Payload = payload
		if body, err = payload.Marshal(); err != nil {
			return res
		}
	}
	conn.EnsureConnected(ctx, now)
	res.Delivered = conn.Publish(ctx, topic, body)

	if novel && (p.cfg.Policy == NoveltyOnAttempt || res.Delivered) {
		p.lastPublishedSampledAt = reading.SampledAtMillis
	}

	p.logger.Debug("telemetry publish",
		"topic", topic,
		"delivered", res.Delivered,
		"valid", payload.IsReadingValid,
		"new_reading", novel,
		"sampled_at", payload.SampledAt,
		"age_ms", payload.AgeReadings,
	)
	return res
}
