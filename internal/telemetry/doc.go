// Package telemetry turns sensor readings into freshness-tagged
// messages. The [Store] keeps the latest sample attempt, the [Publisher]
// decides when to announce it and whether it is new, and [Payload] is the
// JSON document that leaves the device.
package telemetry
