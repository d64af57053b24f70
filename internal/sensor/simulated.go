package sensor

import (
	"math"
	"math/rand/v2"
)

// SimulatedConfig configures a [SimulatedDriver].
type SimulatedConfig struct {
	// BaseTemperatureC and BaseHumidity are the centers of the random walk.
	BaseTemperatureC float64
	BaseHumidity     float64

	// MaxDrift bounds how far the walk may wander from the base values.
	MaxDrift float64

	// Step is the largest change applied per sample.
	Step float64

	// FaultRate is the probability in [0,1] that a sample fails.
	FaultRate float64

	// Seed makes the sequence reproducible.
	Seed uint64

	// FailBegin makes Begin report the hardware as missing.
	FailBegin bool
}

// SimulatedDriver produces plausible DHT11 readings without hardware.
// Each call to ReadHumidity advances the walk, so the temperature reads
// that follow it in the same sample agree with each other. It is not
// safe for concurrent use; the control loop is its only caller.
type SimulatedDriver struct {
	cfg     SimulatedConfig
	rng     *rand.Rand
	tempC   float64
	hum     float64
	faulted bool
}

// NewSimulatedDriver returns a driver positioned at the base values.
func NewSimulatedDriver(cfg SimulatedConfig) *SimulatedDriver {
	return &SimulatedDriver{
		cfg:   cfg,
		rng:   rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		tempC: cfg.BaseTemperatureC,
		hum:   cfg.BaseHumidity,
	}
}

// Begin implements [Starter].
func (d *SimulatedDriver) Begin() error {
	if d.cfg.FailBegin {
		return ErrDriverNotReady
	}
	return nil
}

// ReadHumidity advances the simulation and returns relative humidity in
// percent, or NaN when the sample is faulted.
func (d *SimulatedDriver) ReadHumidity() float64 {
	d.faulted = d.cfg.FaultRate > 0 && d.rng.Float64() < d.cfg.FaultRate
	if d.faulted {
		return math.NaN()
	}

	d.tempC = d.walk(d.tempC, d.cfg.BaseTemperatureC)
	d.hum = clamp(d.walk(d.hum, d.cfg.BaseHumidity), 0, 100)
	return round1(d.hum)
}

// ReadTemperature returns the current temperature, or NaN when the
// sample is faulted.
func (d *SimulatedDriver) ReadTemperature(unit Unit) float64 {
	if d.faulted {
		return math.NaN()
	}
	c := round1(d.tempC)
	if unit == Fahrenheit {
		return CelsiusToFahrenheit(c)
	}
	return c
}

// ComputeHeatIndex implements [Driver] using [HeatIndex].
func (d *SimulatedDriver) ComputeHeatIndex(temperature, humidity float64, unit Unit) float64 {
	return HeatIndex(temperature, humidity, unit)
}

func (d *SimulatedDriver) walk(v, base float64) float64 {
	v += (d.rng.Float64()*2 - 1) * d.cfg.Step
	return clamp(v, base-d.cfg.MaxDrift, base+d.cfg.MaxDrift)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// round1 mirrors the DHT11's one-decimal resolution.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
