// Package sensor acquires temperature and humidity readings from a
// DHT-class driver on a fixed cadence.
//
// The [Sampler] owns the sample gate: it only touches the driver once
// per sample interval, timestamps every attempt (successful or not) and
// never retries a failed read within the same interval. Drivers are
// injected through the [Driver] capability so the sampling logic runs
// unchanged against real hardware, the [SimulatedDriver], or test fakes.
package sensor
