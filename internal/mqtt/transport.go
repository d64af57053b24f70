package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// ErrNotConnected is returned when publishing or subscribing without an
// established broker session.
var ErrNotConnected = errors.New("mqtt: not connected")

// MessageHandler is called for each MQTT message received on a
// subscribed topic. Implementations must be safe for concurrent use.
type MessageHandler func(topic string, payload []byte)

// Message is an outbound publish.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Transport is a single broker session. Implementations do not
// reconnect on their own; a lost session stays lost until Connect is
// called again.
type Transport interface {
	// Connected reports whether the session is currently established.
	Connected() bool
	// Connect opens a new session. It must honor ctx for its deadline.
	Connect(ctx context.Context) error
	// Publish sends msg on the current session.
	Publish(ctx context.Context, msg Message) error
	// Subscribe adds a subscription on the current session.
	Subscribe(ctx context.Context, topic string, qos byte) error
	// SetMessageHandler installs the inbound message callback. It must
	// be called before Connect.
	SetMessageHandler(h MessageHandler)
	// Disconnect closes the session cleanly.
	Disconnect(ctx context.Context) error
}

// Will is the last-will message registered with the broker.
type Will struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// OfflineWill returns the retained "offline" will for topic, or nil
// when topic is empty.
func OfflineWill(topic string) *Will {
	if topic == "" {
		return nil
	}
	return &Will{Topic: topic, Payload: []byte("offline"), QoS: 1, Retain: true}
}

// TransportConfig holds the connection parameters shared by both
// transports.
type TransportConfig struct {
	// BrokerURL is mqtt://, tcp://, mqtts://, ssl:// or tls://
	// host[:port]. The port defaults to 1883, or 8883 for TLS schemes.
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	KeepAlive time.Duration
	Will      *Will
	// TLS overrides the TLS client config for secure schemes.
	TLS *tls.Config
}

type broker struct {
	host   string // host:port
	secure bool
}

// parseBroker validates a broker URL and fills the default port.
func parseBroker(raw string) (broker, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return broker{}, fmt.Errorf("parse mqtt broker URL: %w", err)
	}
	var b broker
	port := "1883"
	switch strings.ToLower(u.Scheme) {
	case "mqtt", "tcp":
	case "mqtts", "ssl", "tls":
		b.secure = true
		port = "8883"
	default:
		return broker{}, fmt.Errorf("unsupported mqtt broker scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return broker{}, fmt.Errorf("mqtt broker URL %q has no host", raw)
	}
	if p := u.Port(); p != "" {
		port = p
	}
	b.host = net.JoinHostPort(u.Hostname(), port)
	return b, nil
}

// tlsConfig returns the configured TLS settings or a TLS 1.2+ default.
func (c TransportConfig) tlsConfig(host string) *tls.Config {
	if c.TLS != nil {
		return c.TLS.Clone()
	}
	name, _, _ := net.SplitHostPort(host)
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: name,
	}
}

// keepAliveSeconds converts KeepAlive for the wire, defaulting to 30s.
func (c TransportConfig) keepAliveSeconds() uint16 {
	if c.KeepAlive <= 0 {
		return 30
	}
	s := c.KeepAlive / time.Second
	if s > 65535 {
		return 65535
	}
	return uint16(s)
}
