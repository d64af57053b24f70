// Package analyze computes statistics and detects anomalies over
// recorded telemetry: descriptive statistics per sensor, gaps in the
// message stream, out-of-range values and sudden changes between
// consecutive readings.
package analyze

import (
	"math"
	"slices"
	"sort"
	"time"

	"github.com/nugget/envnode/internal/collector"
)

// Sensor status values.
const (
	StatusOK      = "OK"
	StatusAnomaly = "ANOMALY"
	StatusOffline = "OFFLINE"
)

// Status reasons.
const (
	ReasonOutOfRange   = "OUT_OF_RANGE"
	ReasonSuddenChange = "SUDDEN_CHANGE"
	ReasonNoRecentData = "NO_RECENT_DATA"
)

// Range is an inclusive valid interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies within the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Config tunes the analysis.
type Config struct {
	// ExpectedInterval is the nominal spacing between messages from
	// one sensor.
	ExpectedInterval time.Duration
	// GapTolerance scales ExpectedInterval; a longer delta is a gap.
	GapTolerance float64
	// RecentWindow is how many trailing records Evaluate inspects.
	RecentWindow int
	// OfflineAfter marks a sensor OFFLINE when its newest record is
	// older than this.
	OfflineAfter time.Duration
	Ranges       map[string]Range
	MaxJumps     map[string]float64
}

// DefaultConfig returns the thresholds used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		ExpectedInterval: 10 * time.Second,
		GapTolerance:     1.5,
		RecentWindow:     20,
		OfflineAfter:     collector.DefaultOfflineTimeout,
		Ranges: map[string]Range{
			collector.KeyTemperatureC: {Min: 0, Max: 50},
			collector.KeyTemperatureF: {Min: 32, Max: 122},
			collector.KeyHumidity:     {Min: 0, Max: 100},
		},
		MaxJumps: map[string]float64{
			collector.KeyTemperatureC: 1.5,
			collector.KeyTemperatureF: 3.0,
			collector.KeyHumidity:     5.0,
		},
	}
}

// StatKeys are the fields statistics are reported for.
var StatKeys = []string{
	collector.KeyTemperatureC,
	collector.KeyTemperatureF,
	collector.KeyHumidity,
	collector.KeyHeatIndexC,
}

// Summary holds descriptive statistics for one field.
type Summary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Median float64 `json:"median"`
}

// Summarize computes statistics over values. It returns false for an
// empty slice.
func Summarize(values []float64) (Summary, bool) {
	if len(values) == 0 {
		return Summary{}, false
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	n := len(sorted)
	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return Summary{
		Count:  n,
		Mean:   sum / float64(n),
		Min:    sorted[0],
		Max:    sorted[n-1],
		Median: median,
	}, true
}

// Values extracts key from every record that carries it.
func Values(records []collector.Record, key string) []float64 {
	var out []float64
	for _, r := range records {
		if v, ok := r.Value(key); ok {
			out = append(out, v)
		}
	}
	return out
}

// Stats summarizes every field in keys that has at least one value.
func Stats(records []collector.Record, keys []string) map[string]Summary {
	out := make(map[string]Summary, len(keys))
	for _, key := range keys {
		if s, ok := Summarize(Values(records, key)); ok {
			out[key] = s
		}
	}
	return out
}

// Gap is one interruption in a sensor's message stream.
type Gap struct {
	After   time.Time     `json:"after"`
	Delta   time.Duration `json:"delta"`
	Missing int           `json:"missing"`
}

// GapReport summarizes message loss for one sensor.
type GapReport struct {
	Received int   `json:"received"`
	Missing  int   `json:"missing"`
	Expected int   `json:"expected"`
	Gaps     []Gap `json:"gaps,omitempty"`
}

// DetectGaps finds deltas between consecutive arrivals longer than
// ExpectedInterval*GapTolerance. Each gap is estimated to have lost
// round(delta/expected)-1 messages.
func DetectGaps(records []collector.Record, cfg Config) GapReport {
	report := GapReport{Received: len(records)}
	if cfg.ExpectedInterval <= 0 || len(records) < 2 {
		report.Expected = report.Received
		return report
	}

	times := make([]time.Time, len(records))
	for i, r := range records {
		times[i] = r.ReceivedAt
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	expected := float64(cfg.ExpectedInterval)
	threshold := expected * cfg.GapTolerance
	for i := 1; i < len(times); i++ {
		delta := times[i].Sub(times[i-1])
		if float64(delta) <= threshold {
			continue
		}
		missing := int(math.Round(float64(delta)/expected)) - 1
		report.Gaps = append(report.Gaps, Gap{After: times[i-1], Delta: delta, Missing: missing})
		report.Missing += missing
	}
	report.Expected = report.Received + report.Missing
	return report
}

// Issue kinds.
const (
	IssueOutOfRange   = "out_of_range"
	IssueSuddenChange = "sudden_change"
)

// Issue is one anomalous value.
type Issue struct {
	Kind       string    `json:"kind"`
	SensorID   string    `json:"sensor_id"`
	ReceivedAt time.Time `json:"received_at"`
	Key        string    `json:"key"`
	Value      float64   `json:"value"`
	// Previous and MaxJump are set for sudden changes.
	Previous float64 `json:"previous,omitempty"`
	MaxJump  float64 `json:"max_jump,omitempty"`
	// Range is set for out-of-range values.
	Range *Range `json:"range,omitempty"`
}

// OutOfRange reports every value outside its configured range.
func OutOfRange(records []collector.Record, ranges map[string]Range) []Issue {
	keys := sortedKeys(ranges)
	var issues []Issue
	for _, r := range records {
		for _, key := range keys {
			v, ok := r.Value(key)
			if !ok {
				continue
			}
			rng := ranges[key]
			if rng.Contains(v) {
				continue
			}
			issues = append(issues, Issue{
				Kind:       IssueOutOfRange,
				SensorID:   r.SensorID,
				ReceivedAt: r.ReceivedAt,
				Key:        key,
				Value:      v,
				Range:      &rng,
			})
		}
	}
	return issues
}

// SuddenChanges reports every consecutive pair of records whose values
// differ by more than the configured maximum jump. Records must be in
// arrival order. A pair is skipped for any field either record lacks.
func SuddenChanges(records []collector.Record, maxJumps map[string]float64) []Issue {
	keys := sortedKeys(maxJumps)
	var issues []Issue
	for i := 1; i < len(records); i++ {
		cur, prev := records[i], records[i-1]
		for _, key := range keys {
			v, ok := cur.Value(key)
			if !ok {
				continue
			}
			p, ok := prev.Value(key)
			if !ok {
				continue
			}
			limit := maxJumps[key]
			if math.Abs(v-p) <= limit {
				continue
			}
			issues = append(issues, Issue{
				Kind:       IssueSuddenChange,
				SensorID:   cur.SensorID,
				ReceivedAt: cur.ReceivedAt,
				Key:        key,
				Value:      v,
				Previous:   p,
				MaxJump:    limit,
			})
		}
	}
	return issues
}

// Evaluation is the current health of one sensor judged from its most
// recent records.
type Evaluation struct {
	Status   string             `json:"status"`
	Reasons  []string           `json:"reasons,omitempty"`
	LastSeen time.Time          `json:"last_seen"`
	Age      time.Duration      `json:"age"`
	Recent   map[string]Summary `json:"recent"`
	Issues   []Issue            `json:"issues,omitempty"`
}

// Evaluate judges a sensor from the last RecentWindow records at now.
// A sensor whose newest record is older than OfflineAfter is OFFLINE
// regardless of its values.
func Evaluate(records []collector.Record, now time.Time, cfg Config) Evaluation {
	if len(records) == 0 {
		return Evaluation{Status: StatusOffline, Reasons: []string{ReasonNoRecentData}}
	}
	recent := records
	if cfg.RecentWindow > 0 && len(recent) > cfg.RecentWindow {
		recent = recent[len(recent)-cfg.RecentWindow:]
	}
	last := recent[len(recent)-1]

	ev := Evaluation{
		LastSeen: last.ReceivedAt,
		Age:      now.Sub(last.ReceivedAt),
		Recent:   Stats(recent, []string{collector.KeyTemperatureC, collector.KeyHumidity}),
	}

	outOfRange := OutOfRange(recent, cfg.Ranges)
	sudden := SuddenChanges(recent, cfg.MaxJumps)
	if len(outOfRange) > 0 {
		ev.Reasons = append(ev.Reasons, ReasonOutOfRange)
	}
	if len(sudden) > 0 {
		ev.Reasons = append(ev.Reasons, ReasonSuddenChange)
	}
	ev.Issues = append(outOfRange, sudden...)

	switch {
	case cfg.OfflineAfter > 0 && ev.Age > cfg.OfflineAfter:
		ev.Status = StatusOffline
		ev.Reasons = []string{ReasonNoRecentData}
	case len(ev.Reasons) > 0:
		ev.Status = StatusAnomaly
	default:
		ev.Status = StatusOK
	}
	return ev
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
