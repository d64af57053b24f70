// Package node runs the telemetry control loop: one cooperative,
// tick-driven goroutine that owns the sampler, reading store,
// publisher, device state machine and indicator, and drives the broker
// connection through a [Connectivity].
//
// Each tick reads the clock once and, in order, (1) lets the
// connectivity manager attempt a reconnect if one is due, (2) runs the
// sampler gate and stores any attempted reading, (3) applies queued
// inbound commands and refreshes the indicator, and (4) runs the
// publisher gate. The only blocking call inside a tick is the bounded
// connect attempt.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nugget/envnode/internal/clock"
	"github.com/nugget/envnode/internal/device"
	"github.com/nugget/envnode/internal/events"
	"github.com/nugget/envnode/internal/sensor"
	"github.com/nugget/envnode/internal/telemetry"
)

// Defaults for zero-valued Config fields.
const (
	DefaultTickInterval    = 100 * time.Millisecond
	DefaultCommandQueue    = 16
	DefaultShutdownTimeout = 5 * time.Second
)

// Connectivity is the broker connection as seen by the control loop.
type Connectivity interface {
	telemetry.Conn
	IsConnected() bool
	// Close announces departure and ends the session.
	Close(ctx context.Context) error
}

// Config holds node settings.
type Config struct {
	// Name identifies the node in logs and status.
	Name string
	// TickInterval is the control loop period for Run.
	TickInterval time.Duration
	// CommandQueue is the capacity of the inbound command channel.
	CommandQueue int
	// Recovery decides whether RESET can leave ERROR.
	Recovery device.RecoveryPolicy
	// FaultAfterFailures moves the device to ERROR after this many
	// consecutive failed sensor reads. Zero disables it.
	FaultAfterFailures int
	// ShutdownTimeout bounds the offline announcement and disconnect.
	ShutdownTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "envnode"
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.CommandQueue <= 0 {
		c.CommandQueue = DefaultCommandQueue
	}
	if c.Recovery == "" {
		c.Recovery = device.RecoveryLatched
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	return c
}

// Deps are the collaborators a Node drives.
type Deps struct {
	Clock     clock.Clock
	Driver    sensor.Driver
	Sampler   *sensor.Sampler
	Publisher *telemetry.Publisher
	Conn      Connectivity
	Output    device.Output
	// Bus receives operational events. Optional.
	Bus    *events.Bus
	Logger *slog.Logger
}

// Node is the control loop. Tick, Start and Run must be called from a
// single goroutine; Enqueue and Status are safe from any goroutine.
type Node struct {
	cfg       Config
	clock     clock.Clock
	driver    sensor.Driver
	sampler   *sensor.Sampler
	store     telemetry.Store
	publisher *telemetry.Publisher
	conn      Connectivity
	machine   *device.Machine
	indicator *device.Indicator
	bus       *events.Bus
	logger    *slog.Logger

	commands chan string

	connected       bool
	sampleFailures  int
	counters        Counters
	commandsDropped atomic.Int64

	status atomic.Pointer[Status]
}

// New wires a Node. The device starts in INIT with the indicator blue.
func New(cfg Config, d Deps) (*Node, error) {
	switch {
	case d.Clock == nil:
		return nil, errors.New("node: clock is required")
	case d.Driver == nil:
		return nil, errors.New("node: sensor driver is required")
	case d.Sampler == nil:
		return nil, errors.New("node: sampler is required")
	case d.Publisher == nil:
		return nil, errors.New("node: publisher is required")
	case d.Conn == nil:
		return nil, errors.New("node: connectivity is required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Output == nil {
		d.Output = device.NewLogOutput(d.Logger)
	}
	cfg = cfg.withDefaults()

	n := &Node{
		cfg:       cfg,
		clock:     d.Clock,
		driver:    d.Driver,
		sampler:   d.Sampler,
		publisher: d.Publisher,
		conn:      d.Conn,
		machine:   device.NewMachine(cfg.Recovery, d.Logger),
		indicator: device.NewIndicator(d.Output),
		bus:       d.Bus,
		logger:    d.Logger,
		commands:  make(chan string, cfg.CommandQueue),
	}
	n.indicator.Apply(n.machine.Current(), false)
	n.snapshot(d.Clock.NowMillis())
	return n, nil
}

// Start runs hardware setup. A driver that implements [sensor.Starter]
// is initialized; success moves the device to RUNNING and failure to
// ERROR. The loop keeps running in either case.
func (n *Node) Start() {
	if s, ok := n.driver.(sensor.Starter); ok {
		if err := s.Begin(); err != nil {
			n.fault(fmt.Sprintf("sensor setup: %v", err))
			n.indicator.Apply(n.machine.Current(), n.conn.IsConnected())
			return
		}
	}
	n.setState(device.StateRunning, "setup complete")
	n.indicator.Apply(n.machine.Current(), n.conn.IsConnected())
}

// Enqueue queues an inbound command payload for the next tick. It never
// blocks: when the queue is full the command is dropped and false is
// returned. It is the command handler for the connectivity manager.
func (n *Node) Enqueue(payload []byte) bool {
	select {
	case n.commands <- string(payload):
		return true
	default:
		n.commandsDropped.Add(1)
		n.logger.Warn("command queue full, command dropped", "payload", string(payload))
		n.bus.Emit(events.SourceNode, events.KindCommandDropped, map[string]any{
			"payload": string(payload),
		})
		return false
	}
}

// Tick runs one iteration of the control loop at monotonic time now.
func (n *Node) Tick(ctx context.Context, now uint64) {
	n.counters.Ticks++

	// 1. Reconnect maintenance.
	n.conn.EnsureConnected(ctx, now)
	n.trackConnectivity()

	// 2. Sample; only real attempts reach the store.
	if r := n.sampler.Sample(now); r.Attempted() {
		n.store.Update(r)
		n.recordSample(r)
	}

	// 3. Commands, then the indicator.
	n.drainCommands()
	n.indicator.Apply(n.machine.Current(), n.conn.IsConnected())

	// 4. Publish gate.
	if res := n.publisher.Tick(ctx, now, &n.store, n.conn); res.Fired {
		n.recordPublish(res)
	}
	n.trackConnectivity()

	n.snapshot(now)
}

// Run starts the node and ticks it every TickInterval until ctx is
// cancelled, then shuts down. It returns nil on a clean shutdown.
func (n *Node) Run(ctx context.Context) error {
	n.logger.Info("node starting",
		"node", n.cfg.Name,
		"tick_interval", n.cfg.TickInterval,
		"sample_interval_ms", n.sampler.Interval(),
	)
	n.Start()

	ticker := time.NewTicker(n.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return n.Shutdown()
		case <-ticker.C:
			n.Tick(ctx, n.clock.NowMillis())
		}
	}
}

// Shutdown announces offline availability and disconnects, bounded by
// ShutdownTimeout.
func (n *Node) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.ShutdownTimeout)
	defer cancel()
	if err := n.conn.Close(ctx); err != nil {
		return fmt.Errorf("close broker connection: %w", err)
	}
	n.logger.Info("node stopped", "node", n.cfg.Name)
	return nil
}

func (n *Node) trackConnectivity() {
	up := n.conn.IsConnected()
	if up == n.connected {
		return
	}
	n.connected = up
	if up {
		n.bus.Emit(events.SourceNode, events.KindConnected, nil)
		return
	}
	n.bus.Emit(events.SourceNode, events.KindDisconnected, nil)
}

func (n *Node) recordSample(r sensor.Reading) {
	n.counters.Samples++
	data := map[string]any{
		"valid":      r.Valid,
		"sampled_at": r.SampledAtMillis,
	}
	if r.Valid {
		n.sampleFailures = 0
		data["temperature_c"] = r.TemperatureC
		data["humidity_pct"] = r.HumidityPct
	} else {
		n.counters.SampleFailures++
		n.sampleFailures++
		if lim := n.cfg.FaultAfterFailures; lim > 0 && n.sampleFailures >= lim {
			n.fault(fmt.Sprintf("%d consecutive sensor read failures", n.sampleFailures))
		}
	}
	n.bus.Emit(events.SourceNode, events.KindSample, data)
}

func (n *Node) recordPublish(res telemetry.PublishResult) {
	n.counters.PublishFirings++
	if res.Delivered {
		n.counters.Delivered++
	}
	n.bus.Emit(events.SourceNode, events.KindPublish, map[string]any{
		"topic":      res.Topic,
		"novel":      res.Novel,
		"delivered":  res.Delivered,
		"sampled_at": res.Payload.SampledAt,
	})
}

func (n *Node) drainCommands() {
	for {
		select {
		case c := <-n.commands:
			n.applyCommand(c)
		default:
			return
		}
	}
}

func (n *Node) applyCommand(payload string) {
	cmd := device.ParseCommand(payload)
	applied := true
	switch cmd {
	case device.CommandOn:
		n.indicator.SetAux(true)
	case device.CommandOff:
		n.indicator.SetAux(false)
	case device.CommandReset:
		from := n.machine.Current()
		applied = n.machine.Recover()
		if applied {
			n.emitState(from, n.machine.Current(), "reset command")
		}
	default:
		applied = false
		n.logger.Info("unrecognized command ignored", "payload", payload)
	}
	n.counters.Commands++
	n.bus.Emit(events.SourceNode, events.KindCommand, map[string]any{
		"command": cmd.String(),
		"payload": payload,
		"applied": applied,
	})
}

func (n *Node) setState(s device.State, reason string) {
	from := n.machine.Current()
	if err := n.machine.Set(s); err != nil {
		n.logger.Warn("state change refused", "from", from, "to", s, "error", err)
		return
	}
	if from != s {
		n.emitState(from, s, reason)
	}
}

func (n *Node) fault(reason string) {
	from := n.machine.Current()
	n.machine.Fault(reason)
	if from != device.StateError {
		n.emitState(from, device.StateError, reason)
	}
}

func (n *Node) emitState(from, to device.State, reason string) {
	n.bus.Emit(events.SourceNode, events.KindStateChange, map[string]any{
		"from":   from.String(),
		"to":     to.String(),
		"reason": reason,
	})
}
