package sensor

import (
	"log/slog"
	"math"
)

// DefaultSampleInterval is the minimum spacing between sensor reads in
// milliseconds. DHT sensors cannot refresh faster than this.
const DefaultSampleInterval uint64 = 2000

// Sampler gates access to a [Driver] so that it is read at most once
// per interval. Failed attempts consume the interval like successful
// ones, which keeps a broken sensor from being hammered every tick.
type Sampler struct {
	driver   Driver
	interval uint64
	last     uint64
	logger   *slog.Logger
}

// NewSampler creates a Sampler. A zero interval selects
// [DefaultSampleInterval].
func NewSampler(driver Driver, interval uint64, logger *slog.Logger) *Sampler {
	if interval == 0 {
		interval = DefaultSampleInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		driver:   driver,
		interval: interval,
		logger:   logger,
	}
}

// Interval returns the configured sample interval in milliseconds.
func (s *Sampler) Interval() uint64 {
	return s.interval
}

// Sample reads the driver if the gate is open and returns the result.
// When the gate is closed it returns the zero Reading, which reports
// Attempted() == false.
func (s *Sampler) Sample(now uint64) Reading {
	if now < s.last || now-s.last < s.interval {
		return Reading{}
	}
	s.last = now

	r := Reading{
		HumidityPct:     s.driver.ReadHumidity(),
		TemperatureC:    s.driver.ReadTemperature(Celsius),
		TemperatureF:    s.driver.ReadTemperature(Fahrenheit),
		SampledAtMillis: now,
	}

	if !finite(r.HumidityPct, r.TemperatureC, r.TemperatureF) {
		s.logger.Warn("sensor read failed", "sampled_at", now, "error", ErrorReadFailed)
		return Reading{SampledAtMillis: now}
	}

	r.HeatIndexF = s.driver.ComputeHeatIndex(r.TemperatureF, r.HumidityPct, Fahrenheit)
	r.HeatIndexC = s.driver.ComputeHeatIndex(r.TemperatureC, r.HumidityPct, Celsius)
	if !finite(r.HeatIndexC, r.HeatIndexF) {
		s.logger.Warn("heat index computation failed", "sampled_at", now, "error", ErrorReadFailed)
		return Reading{SampledAtMillis: now}
	}
	r.Valid = true

	s.logger.Debug("sensor sampled",
		"humidity_pct", r.HumidityPct,
		"temperature_c", r.TemperatureC,
		"temperature_f", r.TemperatureF,
		"heat_index_c", r.HeatIndexC,
		"heat_index_f", r.HeatIndexF,
		"sampled_at", now,
	)
	return r
}

// finite reports whether every value is a usable number. Drivers signal
// read faults with NaN.
func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
