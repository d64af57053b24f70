// Package collector is the backend side of the telemetry pipeline. It
// subscribes to every node's telemetry topic, records each message in
// SQLite, tracks per-sensor presence and optionally forwards records to
// Kafka for downstream consumers.
package collector

import (
	"errors"
	"fmt"
	"time"

	"github.com/nugget/envnode/internal/mqtt"
	"github.com/nugget/envnode/internal/telemetry"
)

// Value keys, matching the telemetry payload field names.
const (
	KeyTemperatureC = "temperatureCelcius"
	KeyTemperatureF = "temperatureFahrenheit"
	KeyHumidity     = "humidityPercent"
	KeyHeatIndexC   = "heatIndexCelcius"
	KeyHeatIndexF   = "heatIndexFahrenheit"
)

// ErrNoSensorID is returned for topics without a sensor segment.
var ErrNoSensorID = errors.New("topic has no sensor id segment")

// Record is one telemetry message as received by the collector.
type Record struct {
	ID         string    `json:"id"`
	SensorID   string    `json:"sensor_id"`
	Topic      string    `json:"topic"`
	ReceivedAt time.Time `json:"received_at"`

	Valid         bool   `json:"isReadingValid"`
	HasNewReading bool   `json:"hasNewReading"`
	SampledAt     uint64 `json:"sampledAt"`
	PublishedAt   uint64 `json:"publishedAt"`
	AgeReadings   uint64 `json:"ageReadings"`

	TemperatureC *float64 `json:"temperatureCelcius,omitempty"`
	TemperatureF *float64 `json:"temperatureFahrenheit,omitempty"`
	HumidityPct  *float64 `json:"humidityPercent,omitempty"`
	HeatIndexC   *float64 `json:"heatIndexCelcius,omitempty"`
	HeatIndexF   *float64 `json:"heatIndexFahrenheit,omitempty"`

	Error string `json:"error,omitempty"`
	Raw   []byte `json:"-"`
}

// NewRecord decodes a telemetry message received on topic. The record
// ID is left empty for the store to assign.
func NewRecord(topic string, payload []byte, receivedAt time.Time) (Record, error) {
	sensorID := mqtt.SensorIDFromTopic(topic)
	if sensorID == "" {
		return Record{}, fmt.Errorf("record from %q: %w", topic, ErrNoSensorID)
	}
	p, err := telemetry.Decode(payload)
	if err != nil {
		return Record{}, fmt.Errorf("record from %q: %w", topic, err)
	}
	return Record{
		SensorID:      sensorID,
		Topic:         topic,
		ReceivedAt:    receivedAt.UTC(),
		Valid:         p.IsReadingValid,
		HasNewReading: p.HasNewReading,
		SampledAt:     p.SampledAt,
		PublishedAt:   p.PublishedAt,
		AgeReadings:   p.AgeReadings,
		TemperatureC:  p.TemperatureCelcius,
		TemperatureF:  p.TemperatureFahrenheit,
		HumidityPct:   p.HumidityPercent,
		HeatIndexC:    p.HeatIndexCelcius,
		HeatIndexF:    p.HeatIndexFahrenheit,
		Error:         p.Error,
		Raw:           append([]byte(nil), payload...),
	}, nil
}

// Value returns the numeric field named by key, if the record carries
// one.
func (r Record) Value(key string) (float64, bool) {
	var v *float64
	switch key {
	case KeyTemperatureC:
		v = r.TemperatureC
	case KeyTemperatureF:
		v = r.TemperatureF
	case KeyHumidity:
		v = r.HumidityPct
	case KeyHeatIndexC:
		v = r.HeatIndexC
	case KeyHeatIndexF:
		v = r.HeatIndexF
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}
