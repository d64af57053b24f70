// Package events provides a publish/subscribe bus for operational
// events. The control loop publishes (samples, publishes, connectivity
// changes, state changes, commands) and the status API's WebSocket
// handler subscribes. The bus is nil-safe: Publish on a nil *Bus is a
// no-op, so the node runs unchanged without it.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceNode identifies events from the control loop.
	SourceNode = "node"
	// SourceCollector identifies events from the telemetry collector.
	SourceCollector = "collector"
)

// Kind constants describe the type of event within a source.
const (
	// KindSample signals a sensor read attempt.
	// Data: valid, sampled_at, temperature_c, humidity_pct.
	KindSample = "sample"
	// KindPublish signals a publisher firing.
	// Data: topic, novel, delivered, sampled_at.
	KindPublish = "publish"
	// KindConnected signals that the broker session came up.
	// Data: attempts.
	KindConnected = "connected"
	// KindDisconnected signals that the broker session went down.
	// Data: error.
	KindDisconnected = "disconnected"
	// KindStateChange signals a device state transition.
	// Data: from, to, reason.
	KindStateChange = "state_change"
	// KindCommand signals an inbound command was handled.
	// Data: command, payload, applied.
	KindCommand = "command"
	// KindCommandDropped signals the command queue was full.
	// Data: payload.
	KindCommandDropped = "command_dropped"

	// KindRecord signals a collector stored a telemetry record.
	// Data: sensor_id, topic, valid.
	KindRecord = "record"
	// KindPresence signals a sensor went ONLINE or OFFLINE.
	// Data: sensor_id, status.
	KindPresence = "presence"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred (wall clock).
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recv maps the receive-only channel handed to subscribers back to
	// the send side stored in subs.
	recv map[<-chan Event]chan Event

	dropped atomic.Int64
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs: make(map[chan Event]struct{}),
		recv: make(map[<-chan Event]chan Event),
	}
}

// Publish sends e to all subscribers without blocking. A full
// subscriber misses the event. Safe on a nil receiver.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Emit publishes an event stamped with the current time.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	if b == nil {
		return
	}
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe. 64 is a reasonable bufSize
// for WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recv[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes its channel. Unknown
// or already removed channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	send, ok := b.recv[ch]
	if !ok {
		return
	}
	delete(b.subs, send)
	delete(b.recv, ch)
	close(send)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a
// subscriber was full.
func (b *Bus) Dropped() int64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}
