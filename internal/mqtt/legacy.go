package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahov1 "github.com/eclipse/paho.mqtt.golang"
)

// LegacyTransport is an MQTT 3.1.1 [Transport] built on the Eclipse
// Paho v1 client, for brokers that do not speak MQTT 5. The client's
// automatic reconnect and connect retry are disabled.
type LegacyTransport struct {
	cfg    TransportConfig
	client pahov1.Client
	logger *slog.Logger

	mu      sync.Mutex
	handler MessageHandler
}

// NewLegacyTransport validates cfg and returns an unconnected transport.
func NewLegacyTransport(cfg TransportConfig, logger *slog.Logger) (*LegacyTransport, error) {
	b, err := parseBroker(cfg.BrokerURL)
	if err != nil {
		return nil, err
	}
	if cfg.ClientID == "" {
		return nil, errors.New("mqtt client id must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	t := &LegacyTransport{cfg: cfg, logger: logger}

	keepAlive := cfg.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}

	scheme := "tcp://"
	if b.secure {
		scheme = "ssl://"
	}
	opts := pahov1.NewClientOptions().
		AddBroker(scheme + b.host).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetOrderMatters(false).
		SetKeepAlive(keepAlive).
		SetConnectionLostHandler(func(_ pahov1.Client, err error) {
			logger.Warn("mqtt connection lost", "error", err)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if w := cfg.Will; w != nil {
		opts.SetBinaryWill(w.Topic, w.Payload, w.QoS, w.Retain)
	}
	if b.secure {
		opts.SetTLSConfig(cfg.tlsConfig(b.host))
	}
	t.client = pahov1.NewClient(opts)
	return t, nil
}

// SetMessageHandler implements [Transport].
func (t *LegacyTransport) SetMessageHandler(h MessageHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// Connected implements [Transport].
func (t *LegacyTransport) Connected() bool {
	return t.client.IsConnectionOpen()
}

// wait blocks until tok completes or ctx ends.
func wait(ctx context.Context, tok pahov1.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect implements [Transport].
func (t *LegacyTransport) Connect(ctx context.Context) error {
	if err := wait(ctx, t.client.Connect()); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Publish implements [Transport].
func (t *LegacyTransport) Publish(ctx context.Context, msg Message) error {
	if !t.Connected() {
		return ErrNotConnected
	}
	if err := wait(ctx, t.client.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload)); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", msg.Topic, err)
	}
	return nil
}

// Subscribe implements [Transport].
func (t *LegacyTransport) Subscribe(ctx context.Context, topic string, qos byte) error {
	if !t.Connected() {
		return ErrNotConnected
	}
	tok := t.client.Subscribe(topic, qos, func(_ pahov1.Client, m pahov1.Message) {
		t.mu.Lock()
		h := t.handler
		t.mu.Unlock()
		if h != nil {
			h(m.Topic(), m.Payload())
		}
	})
	if err := wait(ctx, tok); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, err)
	}
	return nil
}

// Disconnect implements [Transport]. The quiesce period is 250ms.
func (t *LegacyTransport) Disconnect(_ context.Context) error {
	if t.client.IsConnectionOpen() {
		t.client.Disconnect(250)
	}
	return nil
}
