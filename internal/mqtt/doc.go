// Package mqtt owns the node's connection to the MQTT broker.
//
// A [Manager] wraps a [Transport] (MQTT 5 through Eclipse Paho v2's
// low-level paho client, or MQTT 3.1.1 through Eclipse Paho v1) and
// exposes the three operations the control loop needs: a connected
// predicate, a paced reconnect step and a best-effort publish. The
// Manager never reconnects on its own; both transports have automatic
// reconnection disabled and the control loop calls
// [Manager.EnsureConnected] on every tick, which attempts at most one
// bounded connect per cool-down window.
//
// On every successful connect the Manager subscribes to the command
// topic, publishes a retained "online" birth message to the
// availability topic and, when a discovery prefix is configured,
// retained Home Assistant discovery configs for each telemetry topic.
// Both transports register a retained "offline" will on the same
// availability topic.
//
// Inbound messages arrive on transport goroutines. They pass through a
// rate limiter and are handed to the command handler, which must not
// block.
package mqtt
