package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/eclipse/paho.golang/paho"
)

// PahoTransport is an MQTT 5 [Transport] built on the low-level
// paho.golang client. Each Connect dials a fresh network connection and
// creates a new paho.Client for it.
type PahoTransport struct {
	cfg    TransportConfig
	broker broker
	logger *slog.Logger

	mu      sync.Mutex
	client  *paho.Client
	handler MessageHandler

	connected atomic.Bool
}

// NewPahoTransport validates cfg and returns an unconnected transport.
func NewPahoTransport(cfg TransportConfig, logger *slog.Logger) (*PahoTransport, error) {
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
	return &PahoTransport{cfg: cfg, broker: b, logger: logger}, nil
}

// SetMessageHandler implements [Transport].
func (t *PahoTransport) SetMessageHandler(h MessageHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// Connected implements [Transport].
func (t *PahoTransport) Connected() bool {
	if !t.connected.Load() {
		return false
	}
	t.mu.Lock()
	c := t.client
	t.mu.Unlock()
	if c == nil {
		return false
	}
	select {
	case <-c.Done():
		t.connected.Store(false)
		return false
	default:
		return true
	}
}

// Connect implements [Transport].
func (t *PahoTransport) Connect(ctx context.Context) error {
	conn, err := t.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.broker.host, err)
	}

	client := paho.NewClient(paho.ClientConfig{
		ClientID: t.cfg.ClientID,
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				t.deliver(pr.Packet.Topic, pr.Packet.Payload)
				return true, nil
			},
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			t.connected.Store(false)
			t.logger.Warn("mqtt server disconnect", "reason_code", d.ReasonCode)
		},
		OnClientError: func(err error) {
			t.connected.Store(false)
			t.logger.Warn("mqtt client error", "error", err)
		},
	})

	cp := &paho.Connect{
		ClientID:   t.cfg.ClientID,
		KeepAlive:  t.cfg.keepAliveSeconds(),
		CleanStart: true,
	}
	if t.cfg.Username != "" {
		cp.Username = t.cfg.Username
		cp.UsernameFlag = true
	}
	if t.cfg.Password != "" {
		cp.Password = []byte(t.cfg.Password)
		cp.PasswordFlag = true
	}
	if w := t.cfg.Will; w != nil {
		cp.WillMessage = &paho.WillMessage{
			Topic:   w.Topic,
			Payload: w.Payload,
			QoS:     w.QoS,
			Retain:  w.Retain,
		}
	}

	if _, err := client.Connect(ctx, cp); err != nil {
		_ = conn.Close()
		return fmt.Errorf("mqtt connect: %w", err)
	}

	t.mu.Lock()
	t.client = client
	t.mu.Unlock()
	t.connected.Store(true)
	return nil
}

func (t *PahoTransport) dial(ctx context.Context) (net.Conn, error) {
	if t.broker.secure {
		d := &tls.Dialer{Config: t.cfg.tlsConfig(t.broker.host)}
		return d.DialContext(ctx, "tcp", t.broker.host)
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", t.broker.host)
}

func (t *PahoTransport) deliver(topic string, payload []byte) {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h != nil {
		h(topic, payload)
	}
}

func (t *PahoTransport) current() (*paho.Client, error) {
	if !t.Connected() {
		return nil, ErrNotConnected
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client, nil
}

// Publish implements [Transport].
func (t *PahoTransport) Publish(ctx context.Context, msg Message) error {
	c, err := t.current()
	if err != nil {
		return err
	}
	if _, err := c.Publish(ctx, &paho.Publish{
		Topic:   msg.Topic,
		Payload: msg.Payload,
		QoS:     msg.QoS,
		Retain:  msg.Retain,
	}); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", msg.Topic, err)
	}
	return nil
}

// Subscribe implements [Transport].
func (t *PahoTransport) Subscribe(ctx context.Context, topic string, qos byte) error {
	c, err := t.current()
	if err != nil {
		return err
	}
	if _, err := c.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: qos}},
	}); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, err)
	}
	return nil
}

// Disconnect implements [Transport].
func (t *PahoTransport) Disconnect(_ context.Context) error {
	t.mu.Lock()
	c := t.client
	t.client = nil
	t.mu.Unlock()
	t.connected.Store(false)
	if c == nil {
		return nil
	}
	return c.Disconnect(&paho.Disconnect{ReasonCode: 0})
}
