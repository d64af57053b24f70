// Package config handles envnode configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nugget/envnode/internal/paths"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/envnode/config.yaml, /etc/envnode/config.yaml.
func DefaultSearchPaths() []string {
	search := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		search = append(search, filepath.Join(home, ".config", "envnode", "config.yaml"))
	}

	search = append(search, "/etc/envnode/config.yaml")
	return search
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all envnode configuration.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Sensor    SensorConfig    `yaml:"sensor"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	Collector CollectorConfig `yaml:"collector"`
	Analyze   AnalyzeConfig   `yaml:"analyze"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"` // text (default) or json
}

// NodeConfig controls the telemetry control loop.
type NodeConfig struct {
	Name            string        `yaml:"name"`
	SampleInterval  time.Duration `yaml:"sample_interval"`  // Default: 2s
	PublishInterval time.Duration `yaml:"publish_interval"` // Default: 5s
	TickInterval    time.Duration `yaml:"tick_interval"`    // Default: 100ms
	// NoveltyPolicy is on_attempt (default) or on_delivery.
	NoveltyPolicy string `yaml:"novelty_policy"`
	// Recovery is latched (default) or manual.
	Recovery     string `yaml:"recovery"`
	CommandQueue int    `yaml:"command_queue"` // Default: 16
	// FaultAfterFailures enters ERROR after this many consecutive
	// failed reads. 0 disables.
	FaultAfterFailures int `yaml:"fault_after_failures"`
}

// SensorConfig selects and tunes the sensor driver.
type SensorConfig struct {
	// Driver is the sensor implementation. Only "simulated" is built in.
	Driver           string  `yaml:"driver"`
	Seed             uint64  `yaml:"seed"` // 0 picks a random seed
	BaseTemperatureC float64 `yaml:"base_temperature_c"`
	BaseHumidity     float64 `yaml:"base_humidity"`
	MaxDrift         float64 `yaml:"max_drift"`
	Step             float64 `yaml:"step"`
	FaultRate        float64 `yaml:"fault_rate"` // 0..1 probability of a failed read
}

// MQTTConfig defines the broker connection and topics for the node.
type MQTTConfig struct {
	// Protocol is "v5" (default, paho.golang) or "v3" (paho.mqtt.golang).
	Protocol string `yaml:"protocol"`
	Broker   string `yaml:"broker"` // mqtt://host:1883 or mqtts://host:8883
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// ClientID defaults to envnode-<node>-<random>.
	ClientID       string        `yaml:"client_id"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"` // Default: 5s
	KeepAlive      time.Duration `yaml:"keep_alive"`      // Default: 30s
	// ReconnectDelay is the cool-down between connect attempts.
	ReconnectDelay      time.Duration `yaml:"reconnect_delay"`      // Default: 2s
	ReconnectMaxDelay   time.Duration `yaml:"reconnect_max_delay"`  // Default: 60s
	ReconnectMultiplier float64       `yaml:"reconnect_multiplier"` // Default: 1 (fixed)
	Topics              []string      `yaml:"topics"`               // Published round-robin
	CommandTopic        string        `yaml:"command_topic"`        // Default: iot/home/<node>/led
	AvailabilityTopic   string        `yaml:"availability_topic"`   // Default: iot/home/<node>/availability
	DiscoveryPrefix     string        `yaml:"discovery_prefix"`     // Empty disables HA discovery
	InboundRateLimit    int           `yaml:"inbound_rate_limit"`   // Messages/sec, default 20
}

// APIConfig defines the local status server.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`    // Default: 8080
	// TokenHash is a bcrypt hash. When set, requests need a matching
	// bearer token.
	TokenHash string `yaml:"token_hash"`
}

// CollectorConfig defines the backend telemetry collector.
type CollectorConfig struct {
	Broker    string `yaml:"broker"` // Defaults to mqtt.broker
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	ClientID  string `yaml:"client_id"`
	Subscribe string `yaml:"subscribe"` // Default: iot/home/+/telemetry
	// Database is the SQLite file. Relative paths resolve under data_dir.
	Database       string        `yaml:"database"`
	OfflineTimeout time.Duration `yaml:"offline_timeout"` // Default: 30s
	SweepInterval  time.Duration `yaml:"sweep_interval"`  // Default: 2s
	KafkaBrokers   []string      `yaml:"kafka_brokers"`   // Empty disables Kafka forwarding
	KafkaTopic     string        `yaml:"kafka_topic"`     // Default: envnode.telemetry
	// APIPort serves the sensor dashboard API when api.enabled is set.
	// It shares api.address and api.token_hash with the node.
	APIPort int `yaml:"api_port"` // Default: 8081
}

// Range is an inclusive valid interval.
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// AnalyzeConfig tunes telemetry analysis.
type AnalyzeConfig struct {
	ExpectedInterval time.Duration      `yaml:"expected_interval"` // Default: 10s
	GapTolerance     float64            `yaml:"gap_tolerance"`     // Default: 1.5
	RecentWindow     int                `yaml:"recent_window"`     // Default: 20
	Ranges           map[string]Range   `yaml:"ranges"`
	MaxJumps         map[string]float64 `yaml:"max_jumps"`
}

// Load reads configuration from a YAML file, expands ${ENV} references,
// applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	n := &c.Node
	if n.Name == "" {
		n.Name = "envnode"
	}
	if n.SampleInterval == 0 {
		n.SampleInterval = 2 * time.Second
	}
	if n.PublishInterval == 0 {
		n.PublishInterval = 5 * time.Second
	}
	if n.TickInterval == 0 {
		n.TickInterval = 100 * time.Millisecond
	}
	if n.NoveltyPolicy == "" {
		n.NoveltyPolicy = "on_attempt"
	}
	if n.Recovery == "" {
		n.Recovery = "latched"
	}
	if n.CommandQueue == 0 {
		n.CommandQueue = 16
	}

	s := &c.Sensor
	if s.Driver == "" {
		s.Driver = "simulated"
	}
	if s.BaseTemperatureC == 0 {
		s.BaseTemperatureC = 22
	}
	if s.BaseHumidity == 0 {
		s.BaseHumidity = 45
	}
	if s.MaxDrift == 0 {
		s.MaxDrift = 3
	}
	if s.Step == 0 {
		s.Step = 0.2
	}

	m := &c.MQTT
	if m.Protocol == "" {
		m.Protocol = "v5"
	}
	if m.Broker == "" {
		m.Broker = "mqtt://localhost:1883"
	}
	if m.ConnectTimeout == 0 {
		m.ConnectTimeout = 5 * time.Second
	}
	if m.KeepAlive == 0 {
		m.KeepAlive = 30 * time.Second
	}
	if m.ReconnectDelay == 0 {
		m.ReconnectDelay = 2 * time.Second
	}
	if m.ReconnectMaxDelay == 0 {
		m.ReconnectMaxDelay = 60 * time.Second
	}
	if m.ReconnectMultiplier == 0 {
		m.ReconnectMultiplier = 1
	}
	if len(m.Topics) == 0 {
		m.Topics = []string{"iot/home/B01/telemetry", "iot/home/A01/telemetry"}
	}
	if m.CommandTopic == "" {
		m.CommandTopic = "iot/home/" + n.Name + "/led"
	}
	if m.AvailabilityTopic == "" {
		m.AvailabilityTopic = "iot/home/" + n.Name + "/availability"
	}
	if m.InboundRateLimit == 0 {
		m.InboundRateLimit = 20
	}

	if c.API.Port == 0 {
		c.API.Port = 8080
	}

	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	c.DataDir = paths.ExpandHome(c.DataDir)

	col := &c.Collector
	if col.Broker == "" {
		col.Broker = m.Broker
		if col.Username == "" {
			col.Username = m.Username
			col.Password = m.Password
		}
	}
	if col.Subscribe == "" {
		col.Subscribe = "iot/home/+/telemetry"
	}
	if col.Database == "" {
		col.Database = "telemetry.db"
	}
	col.Database = paths.Under(c.DataDir, col.Database)
	if col.OfflineTimeout == 0 {
		col.OfflineTimeout = 30 * time.Second
	}
	if col.SweepInterval == 0 {
		col.SweepInterval = 2 * time.Second
	}
	if col.KafkaTopic == "" {
		col.KafkaTopic = "envnode.telemetry"
	}
	if col.APIPort == 0 {
		col.APIPort = 8081
	}

	a := &c.Analyze
	if a.ExpectedInterval == 0 {
		a.ExpectedInterval = 10 * time.Second
	}
	if a.GapTolerance == 0 {
		a.GapTolerance = 1.5
	}
	if a.RecentWindow == 0 {
		a.RecentWindow = 20
	}
	if a.Ranges == nil {
		a.Ranges = map[string]Range{
			"temperatureCelcius":    {Min: 0, Max: 50},
			"temperatureFahrenheit": {Min: 32, Max: 122},
			"humidityPercent":       {Min: 0, Max: 100},
		}
	}
	if a.MaxJumps == nil {
		a.MaxJumps = map[string]float64{
			"temperatureCelcius":    1.5,
			"temperatureFahrenheit": 3.0,
			"humidityPercent":       5.0,
		}
	}
}

// Validate reports every configuration problem it finds, joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	n := c.Node
	if n.SampleInterval < time.Millisecond {
		add("node.sample_interval must be at least 1ms, got %s", n.SampleInterval)
	}
	if n.PublishInterval < time.Millisecond {
		add("node.publish_interval must be at least 1ms, got %s", n.PublishInterval)
	}
	if n.TickInterval <= 0 {
		add("node.tick_interval must be positive, got %s", n.TickInterval)
	}
	switch n.NoveltyPolicy {
	case "on_attempt", "on_delivery":
	default:
		add("node.novelty_policy %q is not on_attempt or on_delivery", n.NoveltyPolicy)
	}
	switch n.Recovery {
	case "latched", "manual":
	default:
		add("node.recovery %q is not latched or manual", n.Recovery)
	}
	if n.CommandQueue < 1 {
		add("node.command_queue must be at least 1, got %d", n.CommandQueue)
	}
	if n.FaultAfterFailures < 0 {
		add("node.fault_after_failures must not be negative")
	}

	if c.Sensor.Driver != "simulated" {
		add("sensor.driver %q is not supported (valid: simulated)", c.Sensor.Driver)
	}
	if r := c.Sensor.FaultRate; r < 0 || r > 1 {
		add("sensor.fault_rate must be within [0, 1], got %v", r)
	}

	m := c.MQTT
	switch m.Protocol {
	case "v5", "v3":
	default:
		add("mqtt.protocol %q is not v5 or v3", m.Protocol)
	}
	if !strings.Contains(m.Broker, "://") {
		add("mqtt.broker %q must be a URL such as mqtt://host:1883", m.Broker)
	}
	if m.ReconnectDelay < time.Millisecond {
		add("mqtt.reconnect_delay must be at least 1ms, got %s", m.ReconnectDelay)
	}
	if m.ReconnectMultiplier < 1 {
		add("mqtt.reconnect_multiplier must be >= 1, got %v", m.ReconnectMultiplier)
	}
	for i, t := range m.Topics {
		if t == "" || strings.ContainsAny(t, "+#") {
			add("mqtt.topics[%d] %q is not a publishable topic", i, t)
		}
	}
	if m.InboundRateLimit < 0 {
		add("mqtt.inbound_rate_limit must not be negative")
	}

	if p := c.API.Port; p < 1 || p > 65535 {
		add("api.port %d is out of range", p)
	}

	if p := c.Collector.APIPort; p < 1 || p > 65535 {
		add("collector.api_port %d is out of range", p)
	}
	if c.Collector.OfflineTimeout <= 0 || c.Collector.SweepInterval <= 0 {
		add("collector.offline_timeout and collector.sweep_interval must be positive")
	}

	a := c.Analyze
	if a.ExpectedInterval <= 0 {
		add("analyze.expected_interval must be positive")
	}
	if a.GapTolerance < 1 {
		add("analyze.gap_tolerance must be >= 1, got %v", a.GapTolerance)
	}
	for k, r := range a.Ranges {
		if r.Min > r.Max {
			add("analyze.ranges.%s has min > max", k)
		}
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseLogFormat(c.LogFormat); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
