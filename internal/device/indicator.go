package device

import (
	"log/slog"
	"sync"
)

// Pattern is the on/off state of the three indicator channels.
type Pattern struct {
	Red   bool `json:"red"`
	Green bool `json:"green"`
	Blue  bool `json:"blue"`
}

// String renders the lit channels, e.g. "R+G+B" or "off".
func (p Pattern) String() string {
	s := ""
	for _, c := range []struct {
		on   bool
		name string
	}{{p.Red, "R"}, {p.Green, "G"}, {p.Blue, "B"}} {
		if !c.on {
			continue
		}
		if s != "" {
			s += "+"
		}
		s += c.name
	}
	if s == "" {
		return "off"
	}
	return s
}

// PatternFor maps a device state and broker connectivity to the
// indicator pattern. It is a pure function:
//
//	INIT                    blue
//	RUNNING, connected      green
//	RUNNING, disconnected   red + green + blue (white)
//	ERROR                   red
func PatternFor(s State, connected bool) Pattern {
	switch s {
	case StateInit:
		return Pattern{Blue: true}
	case StateRunning:
		if connected {
			return Pattern{Green: true}
		}
		return Pattern{Red: true, Green: true, Blue: true}
	default:
		return Pattern{Red: true}
	}
}

// Output drives the physical indicator channels and the auxiliary
// on/off output.
type Output interface {
	SetRGB(p Pattern)
	SetAux(on bool)
}

// Indicator applies patterns to an Output on every tick and owns the
// auxiliary output state.
type Indicator struct {
	out     Output
	pattern Pattern
	aux     bool
}

// NewIndicator returns an Indicator with everything off.
func NewIndicator(out Output) *Indicator {
	return &Indicator{out: out}
}

// Apply recomputes the pattern for (s, connected) and writes it to the
// output. Nothing is latched; the output always reflects the inputs of
// the latest call.
func (ind *Indicator) Apply(s State, connected bool) Pattern {
	ind.pattern = PatternFor(s, connected)
	ind.out.SetRGB(ind.pattern)
	return ind.pattern
}

// Pattern returns the last applied pattern.
func (ind *Indicator) Pattern() Pattern {
	return ind.pattern
}

// Aux returns the auxiliary output state.
func (ind *Indicator) Aux() bool {
	return ind.aux
}

// SetAux switches the auxiliary output.
func (ind *Indicator) SetAux(on bool) {
	ind.aux = on
	ind.out.SetAux(on)
}

// LogOutput is an Output that reports changes through slog. It stands in
// for GPIO pins on hosts without an indicator.
type LogOutput struct {
	logger  *slog.Logger
	mu      sync.Mutex
	pattern Pattern
	aux     bool
	started bool
}

// NewLogOutput returns a LogOutput. A nil logger uses slog.Default().
func NewLogOutput(logger *slog.Logger) *LogOutput {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogOutput{logger: logger}
}

// SetRGB logs the pattern when it differs from the previous one.
func (o *LogOutput) SetRGB(p Pattern) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started && p == o.pattern {
		return
	}
	o.started = true
	o.pattern = p
	o.logger.Info("indicator", "pattern", p.String())
}

// SetAux logs the auxiliary output state.
func (o *LogOutput) SetAux(on bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.aux = on
	o.logger.Info("auxiliary output", "on", on)
}

// MemoryOutput records every write. Useful for tests and dry runs.
type MemoryOutput struct {
	mu       sync.Mutex
	Patterns []Pattern
	AuxState bool
	AuxSets  int
}

// SetRGB implements Output.
func (o *MemoryOutput) SetRGB(p Pattern) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Patterns = append(o.Patterns, p)
}

// SetAux implements Output.
func (o *MemoryOutput) SetAux(on bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.AuxState = on
	o.AuxSets++
}

// Last returns the most recent pattern, or the zero Pattern.
func (o *MemoryOutput) Last() Pattern {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.Patterns) == 0 {
		return Pattern{}
	}
	return o.Patterns[len(o.Patterns)-1]
}
