package telemetry

import (
	"encoding/json"
	"fmt"

	"github.com/nugget/envnode/internal/sensor"
)

// Payload is the telemetry document published for every publish-gate
// firing. Field order follows the struct and is kept stable for people
// reading raw broker traffic. Numeric fields are present only when
// IsReadingValid is true; Error is present only when it is false.
type Payload struct {
	IsReadingValid bool   `json:"isReadingValid"`
	HasNewReading  bool   `json:"hasNewReading"`
	SampledAt      uint64 `json:"sampledAt"`
	PublishedAt    uint64 `json:"publishedAt"`
	AgeReadings    uint64 `json:"ageReadings"`

	TemperatureCelcius    *float64 `json:"temperatureCelcius,omitempty"`
	TemperatureFahrenheit *float64 `json:"temperatureFahrenheit,omitempty"`
	HumidityPercent       *float64 `json:"humidityPercent,omitempty"`
	HeatIndexCelcius      *float64 `json:"heatIndexCelcius,omitempty"`
	HeatIndexFahrenheit   *float64 `json:"heatIndexFahrenheit,omitempty"`

	Error string `json:"error,omitempty"`
}

// NewPayload builds the document for reading r published at now.
func NewPayload(r sensor.Reading, now, age uint64, novel bool) Payload {
	p := Payload{
		IsReadingValid: r.Valid,
		HasNewReading:  novel,
		SampledAt:      r.SampledAtMillis,
		PublishedAt:    now,
		AgeReadings:    age,
	}
	if !r.Valid {
		p.Error = sensor.ErrorReadFailed
		return p
	}
	p.TemperatureCelcius = ptr(r.TemperatureC)
	p.TemperatureFahrenheit = ptr(r.TemperatureF)
	p.HumidityPercent = ptr(r.HumidityPct)
	p.HeatIndexCelcius = ptr(r.HeatIndexC)
	p.HeatIndexFahrenheit = ptr(r.HeatIndexF)
	return p
}

// Marshal encodes the payload as compact JSON.
func (p Payload) Marshal() ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal telemetry payload: %w", err)
	}
	return b, nil
}

// Decode parses a telemetry document. A payload claiming validity must
// carry all five numeric fields.
func Decode(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("decode telemetry payload: %w", err)
	}
	if p.IsReadingValid && (p.TemperatureCelcius == nil || p.TemperatureFahrenheit == nil ||
		p.HumidityPercent == nil || p.HeatIndexCelcius == nil || p.HeatIndexFahrenheit == nil) {
		return Payload{}, fmt.Errorf("decode telemetry payload: valid reading missing numeric fields")
	}
	return p, nil
}

// Reading reconstructs the sensor reading carried by the payload.
func (p Payload) Reading() sensor.Reading {
	r := sensor.Reading{
		Valid:           p.IsReadingValid,
		SampledAtMillis: p.SampledAt,
	}
	if !p.IsReadingValid {
		return r
	}
	r.TemperatureC = deref(p.TemperatureCelcius)
	r.TemperatureF = deref(p.TemperatureFahrenheit)
	r.HumidityPct = deref(p.HumidityPercent)
	r.HeatIndexC = deref(p.HeatIndexCelcius)
	r.HeatIndexF = deref(p.HeatIndexFahrenheit)
	return r
}

func ptr(v float64) *float64 { return &v }

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
