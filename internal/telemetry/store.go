package telemetry

import "github.com/nugget/envnode/internal/sensor"

// Store holds the most recent sample attempt. It records attempts, not
// successes: an invalid reading replaces a valid one so that consumers
// can tell "the sensor is failing" apart from "nothing was sampled".
//
// Store is owned by the control loop and is not safe for concurrent use.
type Store struct {
	current sensor.Reading
}

// Update replaces the held reading unconditionally.
func (s *Store) Update(r sensor.Reading) {
	s.current = r
}

// Current returns the held reading.
func (s *Store) Current() sensor.Reading {
	return s.current
}

// AgeMillis returns how long ago the held reading was sampled, or 0 if
// nothing has been sampled yet.
func (s *Store) AgeMillis(now uint64) uint64 {
	at := s.current.SampledAtMillis
	if at == 0 || now < at {
		return 0
	}
	return now - at
}

// IsNovel reports whether the held reading differs from the one last
// announced as published. A reading with the same timestamp is a repeat.
func (s *Store) IsNovel(lastPublished uint64) bool {
	at := s.current.SampledAtMillis
	return at != 0 && at != lastPublished
}
