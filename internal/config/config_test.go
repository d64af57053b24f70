package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestFindConfig_Explicit(t *testing.T) {
	path := writeConfig(t, "node:\n  name: test\n")

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("{}\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestDefaultSearchPaths(t *testing.T) {
	paths := DefaultSearchPaths()
	if paths[0] != "config.yaml" || paths[len(paths)-1] != "/etc/envnode/config.yaml" {
		t.Errorf("DefaultSearchPaths() = %v", paths)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"sample interval", cfg.Node.SampleInterval, 2 * time.Second},
		{"publish interval", cfg.Node.PublishInterval, 5 * time.Second},
		{"tick interval", cfg.Node.TickInterval, 100 * time.Millisecond},
		{"novelty policy", cfg.Node.NoveltyPolicy, "on_attempt"},
		{"recovery", cfg.Node.Recovery, "latched"},
		{"command queue", cfg.Node.CommandQueue, 16},
		{"reconnect delay", cfg.MQTT.ReconnectDelay, 2 * time.Second},
		{"connect timeout", cfg.MQTT.ConnectTimeout, 5 * time.Second},
		{"first topic", cfg.MQTT.Topics[0], "iot/home/B01/telemetry"},
		{"second topic", cfg.MQTT.Topics[1], "iot/home/A01/telemetry"},
		{"command topic", cfg.MQTT.CommandTopic, "iot/home/envnode/led"},
		{"collector database", cfg.Collector.Database, filepath.Join("data", "telemetry.db")},
		{"offline timeout", cfg.Collector.OfflineTimeout, 30 * time.Second},
		{"collector api port", cfg.Collector.APIPort, 8081},
		{"gap tolerance", cfg.Analyze.GapTolerance, 1.5},
		{"celsius jump", cfg.Analyze.MaxJumps["temperatureCelcius"], 1.5},
		{"humidity max", cfg.Analyze.Ranges["humidityPercent"].Max, 100.0},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("ENVNODE_TEST_PASSWORD", "secret123")
	path := writeConfig(t, "mqtt:\n  password: ${ENVNODE_TEST_PASSWORD}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.MQTT.Password != "secret123" {
		t.Errorf("password = %q, want %q", cfg.MQTT.Password, "secret123")
	}
	// Collector inherits the node broker credentials.
	if cfg.Collector.Password != "secret123" {
		t.Errorf("collector password = %q, want inherited", cfg.Collector.Password)
	}
}

func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, `
node:
  name: kitchen
  sample_interval: 3s
  novelty_policy: on_delivery
  recovery: manual
mqtt:
  protocol: v3
  broker: mqtts://broker.example.com
  reconnect_multiplier: 2
  topics: [iot/home/K01/telemetry]
log_level: debug
log_format: json
data_dir: /var/lib/envnode
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Node.SampleInterval != 3*time.Second {
		t.Errorf("SampleInterval = %v", cfg.Node.SampleInterval)
	}
	if cfg.MQTT.CommandTopic != "iot/home/kitchen/led" {
		t.Errorf("CommandTopic = %q", cfg.MQTT.CommandTopic)
	}
	if len(cfg.MQTT.Topics) != 1 || cfg.MQTT.Topics[0] != "iot/home/K01/telemetry" {
		t.Errorf("Topics = %v", cfg.MQTT.Topics)
	}
	if cfg.Collector.Database != "/var/lib/envnode/telemetry.db" {
		t.Errorf("Database = %q", cfg.Collector.Database)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"novelty policy", "node:\n  novelty_policy: sometimes\n", "novelty_policy"},
		{"recovery", "node:\n  recovery: auto\n", "recovery"},
		{"protocol", "mqtt:\n  protocol: v4\n", "mqtt.protocol"},
		{"wildcard topic", "mqtt:\n  topics: [iot/home/+/telemetry]\n", "mqtt.topics[0]"},
		{"fault rate", "sensor:\n  fault_rate: 2\n", "fault_rate"},
		{"driver", "sensor:\n  driver: dht22\n", "sensor.driver"},
		{"log level", "log_level: loud\n", "log level"},
		{"log format", "log_format: xml\n", "log format"},
		{"broker", "mqtt:\n  broker: localhost\n", "mqtt.broker"},
		{"negative tick", "node:\n  tick_interval: -1s\n", "tick_interval"},
		{"collector api port", "collector:\n  api_port: 70000\n", "collector.api_port"},
		{"yaml", "node: [\n", "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("Load() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load() of missing file should fail")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"TRACE", LevelTrace, false},
		{" debug ", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestReplaceLogLevelNames(t *testing.T) {
	a := ReplaceLogLevelNames(nil, slog.Any(slog.LevelKey, LevelTrace))
	if a.Value.String() != "TRACE" {
		t.Errorf("trace level rendered as %q", a.Value.String())
	}
	b := ReplaceLogLevelNames(nil, slog.Any(slog.LevelKey, slog.LevelInfo))
	if b.Value.Any() != slog.LevelInfo {
		t.Errorf("info level changed to %v", b.Value)
	}
}
