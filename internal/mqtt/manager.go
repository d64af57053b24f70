package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/nugget/envnode/internal/config"
	"github.com/nugget/envnode/internal/connwatch"
)

// Availability payloads.
const (
	AvailabilityOnline  = "online"
	AvailabilityOffline = "offline"
)

// ErrConnectionLost is recorded when an established session drops.
var ErrConnectionLost = errors.New("mqtt: connection lost")

// ManagerConfig configures a [Manager].
type ManagerConfig struct {
	// NodeName identifies this node in discovery payloads.
	NodeName string
	// CommandTopic is subscribed on every connect. Empty disables
	// command intake.
	CommandTopic string
	// AvailabilityTopic receives retained online/offline messages.
	// Empty disables availability.
	AvailabilityTopic string
	// DiscoveryPrefix enables Home Assistant discovery when non-empty.
	DiscoveryPrefix string
	// TelemetryTopics are advertised in discovery configs.
	TelemetryTopics []string
	// ConnectTimeout bounds a single connect attempt (default 5s).
	ConnectTimeout time.Duration
	// Backoff paces reconnect attempts.
	Backoff connwatch.BackoffConfig
	// InboundLimit is the maximum inbound messages per second; 0
	// disables the limit.
	InboundLimit int64
}

// Manager is the connectivity manager for the control loop. Except for
// inbound delivery and [Manager.Stats], it is owned by the control
// goroutine.
type Manager struct {
	cfg       ManagerConfig
	transport Transport
	watcher   *connwatch.Watcher
	limiter   *messageRateLimiter
	stats     Stats
	logger    *slog.Logger

	onCommand MessageHandler
	up        bool
}

// NewManager wires a Manager to t and installs the inbound handler.
func NewManager(cfg ManagerConfig, t Transport, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	m := &Manager{
		cfg:       cfg,
		transport: t,
		logger:    logger,
		watcher: connwatch.New(connwatch.WatcherConfig{
			Name:    "mqtt",
			Backoff: cfg.Backoff,
			Logger:  logger,
		}),
		limiter: newMessageRateLimiter(cfg.InboundLimit, time.Second, logger),
	}
	t.SetMessageHandler(m.inbound)
	return m
}

// SetCommandHandler installs the callback for messages on the command
// topic. It runs on transport goroutines and must not block. Call it
// before the first EnsureConnected.
func (m *Manager) SetCommandHandler(h MessageHandler) {
	m.onCommand = h
}

func (m *Manager) inbound(topic string, payload []byte) {
	m.stats.update(func(s *StatsSnapshot) { s.Inbound++ })
	m.logger.Log(context.Background(), config.LevelTrace, "mqtt message received", "topic", topic, "payload", string(payload))
	if !m.limiter.allow(time.Now()) {
		m.stats.update(func(s *StatsSnapshot) { s.InboundDropped++ })
		return
	}
	if h := m.onCommand; h != nil {
		h(topic, payload)
	}
}

// IsConnected reports whether the broker session is up.
func (m *Manager) IsConnected() bool {
	return m.transport.Connected()
}

// EnsureConnected makes at most one bounded connect attempt when the
// session is down and the cool-down since the previous attempt has
// elapsed. It never blocks longer than ConnectTimeout.
func (m *Manager) EnsureConnected(ctx context.Context, now uint64) {
	if m.transport.Connected() {
		return
	}
	if m.up {
		m.up = false
		m.watcher.MarkDown(ErrConnectionLost)
		m.stats.update(func(s *StatsSnapshot) { s.Disconnects++ })
		m.logger.Warn("mqtt connection lost")
	}
	if !m.watcher.Due(now) {
		return
	}

	m.stats.update(func(s *StatsSnapshot) { s.ConnectAttempts++ })
	cctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	err := m.transport.Connect(cctx)
	m.watcher.Record(now, err)
	if err != nil {
		m.stats.update(func(s *StatsSnapshot) { s.ConnectFailures++ })
		m.stats.recordError(err)
		m.logger.Warn("mqtt connect failed",
			"error", err,
			"retry_in", time.Duration(m.watcher.Window())*time.Millisecond,
		)
		return
	}

	m.up = true
	m.stats.update(func(s *StatsSnapshot) { s.Connects++ })
	m.logger.Info("mqtt connected to broker")
	m.onConnected(cctx)
}

// onConnected re-establishes session state. Failures are logged; the
// session stays up.
func (m *Manager) onConnected(ctx context.Context) {
	if m.cfg.CommandTopic != "" {
		if err := m.transport.Subscribe(ctx, m.cfg.CommandTopic, 0); err != nil {
			m.stats.recordError(err)
			m.logger.Warn("mqtt command subscribe failed", "topic", m.cfg.CommandTopic, "error", err)
		} else {
			m.logger.Debug("mqtt subscribed", "topic", m.cfg.CommandTopic)
		}
	}
	if m.cfg.DiscoveryPrefix != "" {
		m.publishDiscovery(ctx)
	}
	m.publishAvailability(ctx, AvailabilityOnline)
}

func (m *Manager) publishDiscovery(ctx context.Context) {
	msgs := DiscoveryMessages(m.cfg.DiscoveryPrefix, m.cfg.NodeName, m.cfg.AvailabilityTopic, m.cfg.TelemetryTopics)
	for _, d := range msgs {
		payload, err := json.Marshal(d.Config)
		if err != nil {
			m.logger.Error("mqtt marshal discovery payload", "topic", d.Topic, "error", err)
			continue
		}
		if err := m.transport.Publish(ctx, Message{Topic: d.Topic, Payload: payload, QoS: 1, Retain: true}); err != nil {
			m.logger.Warn("mqtt discovery publish failed", "topic", d.Topic, "error", err)
			continue
		}
		m.logger.Debug("mqtt discovery published", "topic", d.Topic)
	}
}

func (m *Manager) publishAvailability(ctx context.Context, status string) {
	if m.cfg.AvailabilityTopic == "" {
		return
	}
	if err := m.transport.Publish(ctx, Message{
		Topic:   m.cfg.AvailabilityTopic,
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		m.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
		return
	}
	m.logger.Info("mqtt availability published", "status", status)
}

// Publish sends payload on topic at QoS 0, not retained. It returns
// false without touching the transport when disconnected. There is no
// buffering and no retry.
func (m *Manager) Publish(ctx context.Context, topic string, payload []byte) bool {
	if !m.transport.Connected() {
		m.stats.update(func(s *StatsSnapshot) { s.Dropped++ })
		return false
	}
	pctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	if err := m.transport.Publish(pctx, Message{Topic: topic, Payload: payload}); err != nil {
		m.stats.update(func(s *StatsSnapshot) { s.PublishFailures++ })
		m.stats.recordError(err)
		m.logger.Debug("mqtt publish failed", "topic", topic, "error", err)
		return false
	}
	m.stats.update(func(s *StatsSnapshot) { s.Publishes++ })
	return true
}

// Close publishes the retained offline availability message when
// connected and then disconnects. ctx bounds the whole shutdown.
func (m *Manager) Close(ctx context.Context) error {
	if !m.transport.Connected() {
		return nil
	}
	m.publishAvailability(ctx, AvailabilityOffline)
	m.up = false
	return m.transport.Disconnect(ctx)
}

// Status returns the reconnect pacing state.
func (m *Manager) Status() connwatch.ServiceStatus {
	return m.watcher.Status()
}

// Stats returns the connectivity counters.
func (m *Manager) Stats() StatsSnapshot {
	return m.stats.Snapshot()
}
