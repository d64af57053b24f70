// Envnode is an environmental telemetry node and its backend tooling.
//
// The node samples a (simulated) DHT temperature and humidity sensor,
// keeps an MQTT broker connection alive without ever blocking its
// control loop for long, and publishes freshness-tagged readings. The
// collector and stats commands are the backend side: they record every
// node's telemetry and analyze it, and with the API enabled the
// collector serves a live per-sensor view. Configuration is loaded from
// a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	envnode serve                 Run the telemetry node
//	envnode collect               Record telemetry from every node
//	envnode stats [-sensor ID]    Print statistics over recorded telemetry
//	envnode init [dir]            Write a default config.yaml
//	envnode hash-token <token>    Hash an API bearer token for api.token_hash
//	envnode version               Print version and build information
//	envnode -o json version       Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nugget/envnode/internal/analyze"
	"github.com/nugget/envnode/internal/api"
	"github.com/nugget/envnode/internal/buildinfo"
	"github.com/nugget/envnode/internal/clock"
	"github.com/nugget/envnode/internal/collector"
	"github.com/nugget/envnode/internal/config"
	"github.com/nugget/envnode/internal/connwatch"
	"github.com/nugget/envnode/internal/device"
	"github.com/nugget/envnode/internal/events"
	"github.com/nugget/envnode/internal/mqtt"
	"github.com/nugget/envnode/internal/node"
	"github.com/nugget/envnode/internal/sensor"
	"github.com/nugget/envnode/internal/telemetry"
)

// main constructs the OS-level environment (context, stdio, argv) and
// delegates immediately to [run], keeping os.Exit and os.Args out of
// code that tests drive.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Structured logs go to stdout; the caller
// prints a returned error to stderr. Arguments are parsed by hand so
// that run has no package-level flag state and tests can call it in
// parallel.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				// Remaining args belong to the subcommand.
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "collect":
		return runCollect(ctx, stdout, configPath)
	case "stats":
		return runStats(ctx, stdout, configPath, outputFmt, cmdArgs)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "hash-token":
		if len(cmdArgs) != 1 {
			return fmt.Errorf("usage: envnode hash-token <token>")
		}
		return runHashToken(stdout, cmdArgs[0])
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "envnode - environmental telemetry node")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: envnode [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve               Run the telemetry node")
	fmt.Fprintln(w, "  collect             Record telemetry from every node")
	fmt.Fprintln(w, "  stats [-sensor ID]  Print statistics over recorded telemetry")
	fmt.Fprintln(w, "  init [dir]          Write a default config.yaml (default: .)")
	fmt.Fprintln(w, "  hash-token <token>  Print a bcrypt hash for api.token_hash")
	fmt.Fprintln(w, "  version             Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// runServe runs the telemetry node until SIGINT or SIGTERM. The
// shutdown sequence is:
//  1. the signal cancels the context
//  2. the control loop publishes offline availability and disconnects
//  3. the status API drains in-flight requests
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stdout, cfg)
	logger.Info("starting envnode",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"branch", buildinfo.GitBranch,
		"built", buildinfo.BuildTime,
	)
	logger.Info("config loaded",
		"path", cfgPath,
		"node", cfg.Node.Name,
		"broker", cfg.MQTT.Broker,
		"protocol", cfg.MQTT.Protocol,
	)

	transport, err := newTransport(cfg, logger.With("component", "mqtt"))
	if err != nil {
		return err
	}
	manager := mqtt.NewManager(mqtt.ManagerConfig{
		NodeName:          cfg.Node.Name,
		CommandTopic:      cfg.MQTT.CommandTopic,
		AvailabilityTopic: cfg.MQTT.AvailabilityTopic,
		DiscoveryPrefix:   cfg.MQTT.DiscoveryPrefix,
		TelemetryTopics:   cfg.MQTT.Topics,
		ConnectTimeout:    cfg.MQTT.ConnectTimeout,
		Backoff: connwatch.BackoffConfig{
			InitialDelay: cfg.MQTT.ReconnectDelay,
			MaxDelay:     cfg.MQTT.ReconnectMaxDelay,
			Multiplier:   cfg.MQTT.ReconnectMultiplier,
		},
		InboundLimit: int64(cfg.MQTT.InboundRateLimit),
	}, transport, logger.With("component", "mqtt"))

	driver, err := newDriver(cfg.Sensor)
	if err != nil {
		return err
	}
	sampler := sensor.NewSampler(driver, millis(cfg.Node.SampleInterval), logger.With("component", "sensor"))

	policy, err := telemetry.ParseNoveltyPolicy(cfg.Node.NoveltyPolicy)
	if err != nil {
		return err
	}
	publisher, err := telemetry.NewPublisher(telemetry.PublisherConfig{
		Interval: millis(cfg.Node.PublishInterval),
		Topics:   cfg.MQTT.Topics,
		Policy:   policy,
	}, logger.With("component", "publisher"))
	if err != nil {
		return err
	}

	recovery, err := device.ParseRecoveryPolicy(cfg.Node.Recovery)
	if err != nil {
		return err
	}

	bus := events.New()
	n, err := node.New(node.Config{
		Name:               cfg.Node.Name,
		TickInterval:       cfg.Node.TickInterval,
		CommandQueue:       cfg.Node.CommandQueue,
		Recovery:           recovery,
		FaultAfterFailures: cfg.Node.FaultAfterFailures,
	}, node.Deps{
		Clock:     clock.NewMonotonic(),
		Driver:    driver,
		Sampler:   sampler,
		Publisher: publisher,
		Conn:      manager,
		Output:    device.NewLogOutput(logger.With("component", "indicator")),
		Bus:       bus,
		Logger:    logger.With("component", "node"),
	})
	if err != nil {
		return err
	}
	manager.SetCommandHandler(func(_ string, payload []byte) {
		n.Enqueue(payload)
	})

	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	var server *api.Server
	if cfg.API.Enabled {
		server = api.NewServer(cfg.API.Address, cfg.API.Port, n, bus, logger.With("component", "api"))
		if cfg.API.TokenHash != "" {
			if err := server.SetTokenHash(cfg.API.TokenHash); err != nil {
				return err
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status API failed", "error", err)
				cancel()
			}
		}()
	}

	runErr := n.Run(ctx)
	logger.Info("shutdown signal received")

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), node.DefaultShutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("status API shutdown failed", "error", err)
		}
	}
	wg.Wait()

	if runErr != nil {
		return runErr
	}
	logger.Info("envnode stopped")
	return nil
}

// runCollect records telemetry from every node until SIGINT or SIGTERM.
func runCollect(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stdout, cfg)
	col := cfg.Collector
	logger.Info("starting collector",
		"version", buildinfo.Version,
		"config", cfgPath,
		"broker", col.Broker,
		"subscribe", col.Subscribe,
		"database", col.Database,
	)

	if err := os.MkdirAll(filepath.Dir(col.Database), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	store, err := collector.NewStore(col.Database)
	if err != nil {
		return fmt.Errorf("open telemetry store: %w", err)
	}
	defer store.Close()

	bus := events.New()
	presence := collector.NewPresence(col.OfflineTimeout, bus, logger.With("component", "presence"))

	var sink collector.Sink
	if len(col.KafkaBrokers) > 0 {
		kafkaSink := collector.NewKafkaSink(col.KafkaBrokers, col.KafkaTopic, logger)
		defer func() {
			if err := kafkaSink.Close(); err != nil {
				logger.Warn("kafka writer close failed", "error", err)
			}
		}()
		sink = kafkaSink
		logger.Info("kafka forwarding enabled", "brokers", col.KafkaBrokers, "topic", col.KafkaTopic)
	}

	c := collector.New(store, presence, sink, bus, logger.With("component", "collector"))

	clientID := col.ClientID
	if clientID == "" {
		clientID = mqtt.DefaultClientID("collector")
	}
	sub := collector.NewSubscriber(collector.SubscriberConfig{
		Broker:    col.Broker,
		Username:  col.Username,
		Password:  col.Password,
		ClientID:  clientID,
		Filter:    col.Subscribe,
		KeepAlive: cfg.MQTT.KeepAlive,
	}, c.Handle, logger.With("component", "mqtt"))

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	var server *api.Server
	if cfg.API.Enabled {
		server, err = collectorServer(cfg, store, presence, c, bus, logger.With("component", "api"))
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("sensor API failed", "error", err)
				cancel()
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		presence.Run(ctx, col.SweepInterval)
	}()

	runErr := sub.Run(ctx)
	cancel()

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), node.DefaultShutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("sensor API shutdown failed", "error", err)
		}
	}
	wg.Wait()

	if runErr != nil {
		return runErr
	}

	counters := c.Counters()
	logger.Info("collector stopped",
		"received", counters.Received,
		"stored", counters.Stored,
		"rejected", counters.Rejected,
		"forwarded", counters.Forwarded,
	)
	return nil
}

// collectorServer builds the collector's API: live presence merged with
// stored history on /v1/sensors and collector events on /v1/events.
func collectorServer(cfg *config.Config, store *collector.Store, presence *collector.Presence, c *collector.Collector, bus *events.Bus, logger *slog.Logger) (*api.Server, error) {
	server := api.NewServer(cfg.API.Address, cfg.Collector.APIPort, nil, bus, logger)
	if err := server.SetTokenHash(cfg.API.TokenHash); err != nil {
		return nil, err
	}
	server.SetSensors(api.SensorsConfig{
		Records:  store,
		Presence: presence,
		Counters: c.Counters,
		Analyze:  analyzeConfig(cfg),
	})
	return server, nil
}

// runStats analyzes recorded telemetry and prints one report per
// sensor. `-sensor ID` restricts the report to one sensor.
func runStats(ctx context.Context, stdout io.Writer, configPath, outputFmt string, args []string) error {
	var sensorID string
	for i := 0; i < len(args); i++ {
		switch {
		case (args[i] == "-sensor" || args[i] == "--sensor") && i+1 < len(args):
			sensorID = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-sensor="):
			sensorID = strings.TrimPrefix(args[i], "-sensor=")
		default:
			return fmt.Errorf("usage: envnode stats [-sensor ID]")
		}
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.Collector.Database); err != nil {
		return fmt.Errorf("no telemetry database at %s: %w", cfg.Collector.Database, err)
	}
	store, err := collector.NewStore(cfg.Collector.Database)
	if err != nil {
		return fmt.Errorf("open telemetry store: %w", err)
	}
	defer store.Close()

	records, err := store.Records(ctx, sensorID)
	if err != nil {
		return err
	}
	if sensorID != "" && len(records) == 0 {
		return fmt.Errorf("no telemetry recorded for sensor %s", sensorID)
	}

	reports := analyze.Analyze(records, time.Now(), analyzeConfig(cfg))
	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}
	return analyze.WriteText(stdout, reports)
}

// runHashToken prints the bcrypt hash of token for api.token_hash.
func runHashToken(w io.Writer, token string) error {
	hash, err := api.HashToken(token)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, hash)
	return nil
}

// newTransport builds the MQTT client selected by mqtt.protocol.
func newTransport(cfg *config.Config, logger *slog.Logger) (mqtt.Transport, error) {
	clientID := cfg.MQTT.ClientID
	if clientID == "" {
		clientID = mqtt.DefaultClientID(cfg.Node.Name)
	}
	tc := mqtt.TransportConfig{
		BrokerURL: cfg.MQTT.Broker,
		ClientID:  clientID,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
		KeepAlive: cfg.MQTT.KeepAlive,
		Will:      mqtt.OfflineWill(cfg.MQTT.AvailabilityTopic),
	}
	if cfg.MQTT.Protocol == "v3" {
		t, err := mqtt.NewLegacyTransport(tc, logger)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	t, err := mqtt.NewPahoTransport(tc, logger)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// newDriver builds the configured sensor driver.
func newDriver(sc config.SensorConfig) (sensor.Driver, error) {
	switch sc.Driver {
	case "simulated":
		seed := sc.Seed
		if seed == 0 {
			seed = rand.Uint64()
		}
		return sensor.NewSimulatedDriver(sensor.SimulatedConfig{
			BaseTemperatureC: sc.BaseTemperatureC,
			BaseHumidity:     sc.BaseHumidity,
			MaxDrift:         sc.MaxDrift,
			Step:             sc.Step,
			FaultRate:        sc.FaultRate,
			Seed:             seed,
		}), nil
	default:
		return nil, fmt.Errorf("unknown sensor driver %q", sc.Driver)
	}
}

// analyzeConfig maps the analyze section onto analyzer thresholds. The
// collector's offline timeout decides when a sensor counts as OFFLINE.
func analyzeConfig(cfg *config.Config) analyze.Config {
	ac := analyze.Config{
		ExpectedInterval: cfg.Analyze.ExpectedInterval,
		GapTolerance:     cfg.Analyze.GapTolerance,
		RecentWindow:     cfg.Analyze.RecentWindow,
		OfflineAfter:     cfg.Collector.OfflineTimeout,
		Ranges:           make(map[string]analyze.Range, len(cfg.Analyze.Ranges)),
		MaxJumps:         cfg.Analyze.MaxJumps,
	}
	for k, r := range cfg.Analyze.Ranges {
		ac.Ranges[k] = analyze.Range{Min: r.Min, Max: r.Max}
	}
	return ac
}

// configuredLogger builds the logger described by the config. Level and
// format were checked by config.Validate, so parse errors cannot occur.
func configuredLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.LogLevel != "" {
		level, _ = config.ParseLogLevel(cfg.LogLevel)
	}
	return newLogger(w, level, cfg.LogFormat)
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise,
// [config.FindConfig] searches the default locations.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

func millis(d time.Duration) uint64 {
	if ms := d.Milliseconds(); ms > 0 {
		return uint64(ms)
	}
	return 0
}
