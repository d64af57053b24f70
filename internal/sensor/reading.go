package sensor

import "fmt"

// ErrorReadFailed is the machine-readable code attached to telemetry
// when the most recent sample attempt failed.
const ErrorReadFailed = "DHT_READ_FAILED"

// Reading is a single sample attempt. It is a value type: a new Reading
// is produced for every attempt and never mutated afterwards.
//
// When Valid is false only SampledAtMillis carries meaning; the numeric
// fields are undefined and must not be reported.
type Reading struct {
	TemperatureC float64
	TemperatureF float64
	HumidityPct  float64
	HeatIndexC   float64
	HeatIndexF   float64
	Valid        bool

	// SampledAtMillis is the monotonic time of the attempt. Zero means
	// no attempt was made.
	SampledAtMillis uint64
}

// Attempted reports whether the reading represents a real sample
// attempt rather than the gate's no-op result.
func (r Reading) Attempted() bool {
	return r.SampledAtMillis != 0
}

// String renders the reading for logs.
func (r Reading) String() string {
	if !r.Attempted() {
		return "no reading"
	}
	if !r.Valid {
		return fmt.Sprintf("invalid reading at %dms", r.SampledAtMillis)
	}
	return fmt.Sprintf("humidity %.1f%% temperature %.1f°C %.1f°F heat index %.1f°C %.1f°F at %dms",
		r.HumidityPct, r.TemperatureC, r.TemperatureF, r.HeatIndexC, r.HeatIndexF, r.SampledAtMillis)
}
