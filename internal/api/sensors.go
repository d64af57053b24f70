package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/nugget/envnode/internal/analyze"
	"github.com/nugget/envnode/internal/collector"
)

// RecordSource reads stored telemetry.
type RecordSource interface {
	SensorIDs(ctx context.Context) ([]string, error)
	Records(ctx context.Context, sensorID string) ([]collector.Record, error)
}

// PresenceSource reports live sensor presence.
type PresenceSource interface {
	Snapshot() []collector.SensorPresence
}

// SensorsConfig backs the collector's /v1/sensors view.
type SensorsConfig struct {
	Records  RecordSource
	Presence PresenceSource
	Counters func() collector.Counters
	Analyze  analyze.Config
	Now      func() time.Time
}

// SensorView is one sensor on the live dashboard. Live is empty for
// sensors that are only known from the database.
type SensorView struct {
	SensorID string                `json:"sensor_id"`
	Live     string                `json:"live,omitempty"`
	LastSeen *time.Time            `json:"last_seen,omitempty"`
	Report   *analyze.SensorReport `json:"report,omitempty"`
}

type sensorsResponse struct {
	Counters *collector.Counters `json:"counters,omitempty"`
	Sensors  []SensorView        `json:"sensors"`
}

// SetSensors enables /v1/sensors.
func (s *Server) SetSensors(cfg SensorsConfig) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s.sensors = &cfg
}

func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	views, err := s.sensorViews(r.Context(), "")
	if err != nil {
		s.logger.Error("sensor overview failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "sensor overview failed"}, s.logger)
		return
	}
	resp := sensorsResponse{Sensors: views}
	if s.sensors.Counters != nil {
		c := s.sensors.Counters()
		resp.Counters = &c
	}
	writeJSON(w, http.StatusOK, resp, s.logger)
}

func (s *Server) handleSensor(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	views, err := s.sensorViews(r.Context(), id)
	if err != nil {
		s.logger.Error("sensor overview failed", "sensor_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "sensor overview failed"}, s.logger)
		return
	}
	if len(views) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown sensor"}, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, views[0], s.logger)
}

// sensorViews merges live presence with the stored history. An empty
// only selects every sensor.
func (s *Server) sensorViews(ctx context.Context, only string) ([]SensorView, error) {
	src := s.sensors
	byID := make(map[string]*SensorView)
	var order []string
	add := func(id string) *SensorView {
		if v, ok := byID[id]; ok {
			return v
		}
		byID[id] = &SensorView{SensorID: id}
		order = append(order, id)
		return byID[id]
	}

	if src.Presence != nil {
		for _, sp := range src.Presence.Snapshot() {
			if only != "" && sp.SensorID != only {
				continue
			}
			v := add(sp.SensorID)
			v.Live = sp.Status
			seen := sp.LastSeen
			v.LastSeen = &seen
		}
	}

	if src.Records != nil {
		ids, err := src.Records.SensorIDs(ctx)
		if err != nil {
			return nil, err
		}
		now := src.Now()
		for _, id := range ids {
			if only != "" && id != only {
				continue
			}
			records, err := src.Records.Records(ctx, id)
			if err != nil {
				return nil, err
			}
			report := analyze.AnalyzeSensor(id, records, now, src.Analyze)
			add(id).Report = &report
		}
	}

	sort.Strings(order)
	out := make([]SensorView, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}
