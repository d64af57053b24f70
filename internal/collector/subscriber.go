package collector

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

// DefaultFilter subscribes to every node's telemetry topic.
const DefaultFilter = "iot/home/+/telemetry"

// HandleTimeout bounds the work done for one message. Handling is
// detached from the session context so shutdown does not abort a
// message half way through storing it.
const HandleTimeout = 5 * time.Second

// SubscriberConfig configures the broker session of the collector.
type SubscriberConfig struct {
	Broker    string
	Username  string
	Password  string
	ClientID  string
	Filter    string
	KeepAlive time.Duration
}

// HandlerFunc receives every message matching the subscription filter.
type HandlerFunc func(ctx context.Context, topic string, payload []byte)

// Subscriber keeps an MQTT 5 session to the broker and hands every
// telemetry message to a handler. Reconnects, and the resubscribe
// that follows, are managed by autopaho.
type Subscriber struct {
	cfg     SubscriberConfig
	handler HandlerFunc
	logger  *slog.Logger
}

// NewSubscriber creates a subscriber. An empty filter uses
// DefaultFilter.
func NewSubscriber(cfg SubscriberConfig, handler HandlerFunc, logger *slog.Logger) *Subscriber {
	if cfg.Filter == "" {
		cfg.Filter = DefaultFilter
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{cfg: cfg, handler: handler, logger: logger}
}

// Run connects and delivers messages until ctx is cancelled, then
// disconnects.
func (s *Subscriber) Run(ctx context.Context) error {
	pahoCfg, err := s.clientConfig(ctx)
	if err != nil {
		return err
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	<-ctx.Done()

	disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cm.Disconnect(disconnectCtx); err != nil {
		s.logger.Warn("mqtt disconnect failed", "error", err)
	}
	<-cm.Done()
	return nil
}

func (s *Subscriber) clientConfig(ctx context.Context) (autopaho.ClientConfig, error) {
	brokerURL, err := url.Parse(s.cfg.Broker)
	if err != nil {
		return autopaho.ClientConfig{}, fmt.Errorf("parse mqtt broker URL: %w", err)
	}
	if brokerURL.Host == "" {
		return autopaho.ClientConfig{}, fmt.Errorf("parse mqtt broker URL %q: missing host", s.cfg.Broker)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		KeepAlive:                     uint16(s.cfg.KeepAlive / time.Second),
		CleanStartOnInitialConnection: true,
		ConnectUsername:               s.cfg.Username,
		ConnectPassword:               []byte(s.cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			s.logger.Info("mqtt connected to broker", "broker", s.cfg.Broker)
			if _, err := cm.Subscribe(ctx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{{Topic: s.cfg.Filter, QoS: 0}},
			}); err != nil {
				s.logger.Error("mqtt subscribe failed", "filter", s.cfg.Filter, "error", err)
				return
			}
			s.logger.Info("mqtt subscribed", "filter", s.cfg.Filter)
		},
		OnConnectError: func(err error) {
			s.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: s.cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					msgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), HandleTimeout)
					defer cancel()
					s.handler(msgCtx, pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
			OnClientError: func(err error) {
				s.logger.Warn("mqtt client error", "error", err)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				s.logger.Warn("mqtt server disconnect", "reason_code", d.ReasonCode)
			},
		},
	}

	switch brokerURL.Scheme {
	case "mqtts", "ssl", "tls":
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}
	return pahoCfg, nil
}
