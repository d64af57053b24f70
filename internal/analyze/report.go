package analyze

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/nugget/envnode/internal/collector"
)

// SensorReport is the full analysis of one sensor.
type SensorReport struct {
	SensorID      string             `json:"sensor_id"`
	Records       int                `json:"records"`
	Invalid       int                `json:"invalid"`
	Stats         map[string]Summary `json:"stats"`
	Gaps          GapReport          `json:"gaps"`
	OutOfRange    []Issue            `json:"out_of_range,omitempty"`
	SuddenChanges []Issue            `json:"sudden_changes,omitempty"`
	Evaluation    Evaluation         `json:"evaluation"`
}

// Analyze groups records by sensor and analyzes each group at now.
// Reports are sorted by sensor ID; records within a sensor are ordered
// by arrival.
func Analyze(records []collector.Record, now time.Time, cfg Config) []SensorReport {
	bySensor := make(map[string][]collector.Record)
	for _, r := range records {
		if r.SensorID == "" {
			continue
		}
		bySensor[r.SensorID] = append(bySensor[r.SensorID], r)
	}

	reports := make([]SensorReport, 0, len(bySensor))
	for _, id := range sortedKeys(bySensor) {
		recs := bySensor[id]
		sort.SliceStable(recs, func(i, j int) bool { return recs[i].ReceivedAt.Before(recs[j].ReceivedAt) })
		reports = append(reports, AnalyzeSensor(id, recs, now, cfg))
	}
	return reports
}

// AnalyzeSensor analyzes the arrival-ordered records of one sensor.
func AnalyzeSensor(sensorID string, records []collector.Record, now time.Time, cfg Config) SensorReport {
	rep := SensorReport{
		SensorID:      sensorID,
		Records:       len(records),
		Stats:         Stats(records, StatKeys),
		Gaps:          DetectGaps(records, cfg),
		OutOfRange:    OutOfRange(records, cfg.Ranges),
		SuddenChanges: SuddenChanges(records, cfg.MaxJumps),
		Evaluation:    Evaluate(records, now, cfg),
	}
	for _, r := range records {
		if !r.Valid {
			rep.Invalid++
		}
	}
	return rep
}

// maxIssuesShown caps the issue lines printed per kind.
const maxIssuesShown = 3

// WriteText renders reports for a terminal.
func WriteText(w io.Writer, reports []SensorReport) error {
	if len(reports) == 0 {
		_, err := fmt.Fprintln(w, "no telemetry recorded")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for i, rep := range reports {
		if i > 0 {
			fmt.Fprintln(tw)
		}
		ev := rep.Evaluation
		status := ev.Status
		if len(ev.Reasons) > 0 {
			status += " (" + strings.Join(ev.Reasons, ", ") + ")"
		}
		fmt.Fprintf(tw, "Sensor %s\t%s\n", rep.SensorID, status)
		fmt.Fprintf(tw, "  last seen\t%s (%s ago)\n", ev.LastSeen.Format(time.RFC3339), ev.Age.Round(time.Second))
		fmt.Fprintf(tw, "  records\t%d recorded, %d invalid, %d missing, %d expected, %d gaps\n",
			rep.Records, rep.Invalid, rep.Gaps.Missing, rep.Gaps.Expected, len(rep.Gaps.Gaps))

		fmt.Fprintln(tw, "  field\tcount\tmean\tmin\tmax\tmedian")
		for _, key := range StatKeys {
			s, ok := rep.Stats[key]
			if !ok {
				continue
			}
			fmt.Fprintf(tw, "  %s\t%d\t%.2f\t%.2f\t%.2f\t%.2f\n", key, s.Count, s.Mean, s.Min, s.Max, s.Median)
		}

		for _, g := range rep.Gaps.Gaps {
			fmt.Fprintf(tw, "  gap\tafter %s: %s, about %d missing\n", g.After.Format(time.RFC3339), g.Delta.Round(time.Second), g.Missing)
		}
		for _, is := range tail(rep.OutOfRange, maxIssuesShown) {
			fmt.Fprintf(tw, "  out of range\t%s %s=%g (valid %g..%g)\n",
				is.ReceivedAt.Format(time.RFC3339), is.Key, is.Value, is.Range.Min, is.Range.Max)
		}
		for _, is := range tail(rep.SuddenChanges, maxIssuesShown) {
			fmt.Fprintf(tw, "  sudden change\t%s %s: %g -> %g (max %g)\n",
				is.ReceivedAt.Format(time.RFC3339), is.Key, is.Previous, is.Value, is.MaxJump)
		}
	}
	return tw.Flush()
}

func tail(issues []Issue, n int) []Issue {
	if len(issues) > n {
		return issues[len(issues)-n:]
	}
	return issues
}
