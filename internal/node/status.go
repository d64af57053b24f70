package node

import (
	"time"

	"github.com/nugget/envnode/internal/connwatch"
	"github.com/nugget/envnode/internal/device"
	"github.com/nugget/envnode/internal/mqtt"
	"github.com/nugget/envnode/internal/telemetry"
)

// Counters are cumulative loop totals.
type Counters struct {
	Ticks           int64 `json:"ticks"`
	Samples         int64 `json:"samples"`
	SampleFailures  int64 `json:"sample_failures"`
	PublishFirings  int64 `json:"publish_firings"`
	Delivered       int64 `json:"delivered"`
	Commands        int64 `json:"commands"`
	CommandsDropped int64 `json:"commands_dropped"`
}

// Status is a copy of the node's observable state taken at the end of
// a tick. It is immutable once published.
type Status struct {
	Node                   string                   `json:"node"`
	State                  device.State             `json:"state"`
	FaultReason            string                   `json:"fault_reason,omitempty"`
	Connected              bool                     `json:"connected"`
	Pattern                device.Pattern           `json:"indicator"`
	Aux                    bool                     `json:"aux"`
	Now                    uint64                   `json:"now"`
	Reading                *telemetry.Payload       `json:"reading,omitempty"`
	LastPublishedSampledAt uint64                   `json:"last_published_sampled_at"`
	NextTopic              string                   `json:"next_topic"`
	Counters               Counters                 `json:"counters"`
	Broker                 *connwatch.ServiceStatus `json:"broker,omitempty"`
	MQTT                   *mqtt.StatsSnapshot      `json:"mqtt,omitempty"`
	UpdatedAt              time.Time                `json:"updated_at"`
}

// Healthy reports whether the node is RUNNING with a broker session.
func (s *Status) Healthy() bool {
	return s.State == device.StateRunning && s.Connected
}

// brokerReporter is implemented by *mqtt.Manager.
type brokerReporter interface {
	Status() connwatch.ServiceStatus
	Stats() mqtt.StatsSnapshot
}

// Status returns the latest snapshot. Safe from any goroutine.
func (n *Node) Status() *Status {
	return n.status.Load()
}

func (n *Node) snapshot(now uint64) {
	r := n.store.Current()
	c := n.counters
	c.CommandsDropped = n.commandsDropped.Load()

	s := &Status{
		Node:                   n.cfg.Name,
		State:                  n.machine.Current(),
		FaultReason:            n.machine.FaultReason(),
		Connected:              n.conn.IsConnected(),
		Pattern:                n.indicator.Pattern(),
		Aux:                    n.indicator.Aux(),
		Now:                    now,
		LastPublishedSampledAt: n.publisher.LastPublishedSampledAt(),
		NextTopic:              n.publisher.NextTopic(),
		Counters:               c,
		UpdatedAt:              time.Now(),
	}
	if r.Attempted() {
		p := telemetry.NewPayload(r, now, n.store.AgeMillis(now), n.store.IsNovel(s.LastPublishedSampledAt))
		s.Reading = &p
	}
	if br, ok := n.conn.(brokerReporter); ok {
		st := br.Status()
		ms := br.Stats()
		s.Broker = &st
		s.MQTT = &ms
	}
	n.status.Store(s)
}
