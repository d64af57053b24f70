package sensor

import (
	"errors"
	"math"
)

// ErrDriverNotReady is returned by drivers whose hardware could not be
// initialized.
var ErrDriverNotReady = errors.New("sensor driver not ready")

// Unit selects the temperature scale for driver calls.
type Unit int

const (
	Celsius Unit = iota
	Fahrenheit
)

// String returns the unit symbol.
func (u Unit) String() string {
	if u == Fahrenheit {
		return "°F"
	}
	return "°C"
}

// Driver is the capability exposed by a DHT-style sensor. Any method
// may return NaN to signal a read fault.
type Driver interface {
	ReadHumidity() float64
	ReadTemperature(unit Unit) float64
	ComputeHeatIndex(temperature, humidity float64, unit Unit) float64
}

// Starter is implemented by drivers that need one-time hardware setup
// before the first read. A non-nil error is a local fault.
type Starter interface {
	Begin() error
}

// CelsiusToFahrenheit converts °C to °F.
func CelsiusToFahrenheit(c float64) float64 {
	return c*1.8 + 32
}

// FahrenheitToCelsius converts °F to °C.
func FahrenheitToCelsius(f float64) float64 {
	return (f - 32) / 1.8
}

// HeatIndex computes the apparent temperature for the given air
// temperature and relative humidity, returning it in the same unit as
// the input. It uses Steadman's simple formula and switches to the NOAA
// Rothfusz regression (with its low/high humidity adjustments) once the
// simple result exceeds 79°F.
func HeatIndex(temperature, humidity float64, unit Unit) float64 {
	if math.IsNaN(temperature) || math.IsNaN(humidity) {
		return math.NaN()
	}

	t := temperature
	if unit == Celsius {
		t = CelsiusToFahrenheit(temperature)
	}

	hi := 0.5 * (t + 61.0 + ((t - 68.0) * 1.2) + (humidity * 0.094))

	if hi > 79 {
		hi = -42.379 +
			2.04901523*t +
			10.14333127*humidity +
			-0.22475541*t*humidity +
			-0.00683783*t*t +
			-0.05481717*humidity*humidity +
			0.00122874*t*t*humidity +
			0.00085282*t*humidity*humidity +
			-0.00000199*t*t*humidity*humidity

		switch {
		case humidity < 13 && t >= 80 && t <= 112:
			hi -= ((13.0 - humidity) * 0.25) * math.Sqrt((17.0-math.Abs(t-95.0))*0.05882)
		case humidity > 85 && t >= 80 && t <= 87:
			hi += ((humidity - 85.0) * 0.1) * ((87.0 - t) * 0.2)
		}
	}

	if unit == Celsius {
		return FahrenheitToCelsius(hi)
	}
	return hi
}
