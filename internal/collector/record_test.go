package collector

import (
	"errors"
	"testing"
	"time"
)

const validPayload = `{"isReadingValid":true,"hasNewReading":true,"sampledAt":4000,"publishedAt":5000,"ageReadings":1000,` +
	`"temperatureCelcius":22.5,"temperatureFahrenheit":72.5,"humidityPercent":45,"heatIndexCelcius":22.1,"heatIndexFahrenheit":71.8}`

const invalidPayload = `{"isReadingValid":false,"hasNewReading":true,"sampledAt":2000,"publishedAt":5000,"ageReadings":3000,"error":"DHT_READ_FAILED"}`

func TestNewRecord(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec, err := NewRecord("iot/home/A01/telemetry", []byte(validPayload), at)
	if err != nil {
		t.Fatalf("NewRecord() error = %v", err)
	}
	if rec.SensorID != "A01" {
		t.Errorf("SensorID = %q, want A01", rec.SensorID)
	}
	if !rec.ReceivedAt.Equal(at) {
		t.Errorf("ReceivedAt = %v, want %v", rec.ReceivedAt, at)
	}
	if !rec.Valid || rec.SampledAt != 4000 || rec.AgeReadings != 1000 {
		t.Errorf("record = %+v", rec)
	}
	if v, ok := rec.Value(KeyHumidity); !ok || v != 45 {
		t.Errorf("Value(humidity) = %v, %v; want 45, true", v, ok)
	}
	if string(rec.Raw) != validPayload {
		t.Errorf("Raw = %q", rec.Raw)
	}
}

func TestNewRecord_InvalidReading(t *testing.T) {
	rec, err := NewRecord("iot/home/B01/telemetry", []byte(invalidPayload), time.Now())
	if err != nil {
		t.Fatalf("NewRecord() error = %v", err)
	}
	if rec.Valid {
		t.Error("Valid = true, want false")
	}
	if rec.Error != "DHT_READ_FAILED" {
		t.Errorf("Error = %q", rec.Error)
	}
	for _, key := range []string{KeyTemperatureC, KeyTemperatureF, KeyHumidity, KeyHeatIndexC, KeyHeatIndexF} {
		if _, ok := rec.Value(key); ok {
			t.Errorf("Value(%s) present on invalid reading", key)
		}
	}
}

func TestNewRecord_Errors(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
		noID    bool
	}{
		{name: "short topic", topic: "iot/home", payload: validPayload, noID: true},
		{name: "not json", topic: "iot/home/A01/telemetry", payload: "hello"},
		{name: "valid without numbers", topic: "iot/home/A01/telemetry", payload: `{"isReadingValid":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRecord(tt.topic, []byte(tt.payload), time.Now())
			if err == nil {
				t.Fatal("NewRecord() error = nil, want error")
			}
			if got := errors.Is(err, ErrNoSensorID); got != tt.noID {
				t.Errorf("errors.Is(err, ErrNoSensorID) = %v, want %v", got, tt.noID)
			}
		})
	}
}

func TestRecord_ValueUnknownKey(t *testing.T) {
	rec, err := NewRecord("iot/home/A01/telemetry", []byte(validPayload), time.Now())
	if err != nil {
		t.Fatalf("NewRecord() error = %v", err)
	}
	if _, ok := rec.Value("pressure"); ok {
		t.Error("Value(pressure) ok = true, want false")
	}
}
