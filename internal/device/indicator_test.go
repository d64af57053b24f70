package device

import "testing"

func TestPatternFor(t *testing.T) {
	tests := []struct {
		name      string
		state     State
		connected bool
		want      Pattern
	}{
		{"init disconnected", StateInit, false, Pattern{Blue: true}},
		{"init connected", StateInit, true, Pattern{Blue: true}},
		{"running connected", StateRunning, true, Pattern{Green: true}},
		{"running disconnected", StateRunning, false, Pattern{Red: true, Green: true, Blue: true}},
		{"error connected", StateError, true, Pattern{Red: true}},
		{"error disconnected", StateError, false, Pattern{Red: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PatternFor(tt.state, tt.connected); got != tt.want {
				t.Errorf("PatternFor(%v, %v) = %v, want %v", tt.state, tt.connected, got, tt.want)
			}
		})
	}
}

func TestIndicator_FollowsConnectivity(t *testing.T) {
	out := &MemoryOutput{}
	ind := NewIndicator(out)

	ind.Apply(StateRunning, true)
	if got := out.Last(); got != (Pattern{Green: true}) {
		t.Fatalf("connected pattern = %v, want G", got)
	}

	// Connectivity loss shows on the very next application.
	ind.Apply(StateRunning, false)
	if got := out.Last(); got.String() != "R+G+B" {
		t.Errorf("disconnected pattern = %v, want R+G+B", got)
	}
	if got := ind.Pattern(); got.String() != "R+G+B" {
		t.Errorf("Pattern() = %v", got)
	}
}

func TestIndicator_Aux(t *testing.T) {
	out := &MemoryOutput{}
	ind := NewIndicator(out)

	ind.SetAux(true)
	if !ind.Aux() || !out.AuxState {
		t.Error("aux should be on")
	}
	ind.SetAux(false)
	if ind.Aux() || out.AuxState {
		t.Error("aux should be off")
	}
	if out.AuxSets != 2 {
		t.Errorf("AuxSets = %d, want 2", out.AuxSets)
	}
}

func TestPattern_String(t *testing.T) {
	if got := (Pattern{}).String(); got != "off" {
		t.Errorf("zero pattern = %q, want off", got)
	}
	if got := (Pattern{Red: true, Blue: true}).String(); got != "R+B" {
		t.Errorf("R+B pattern = %q", got)
	}
}

func TestLogOutput_DoesNotPanic(t *testing.T) {
	out := NewLogOutput(quietLogger())
	out.SetRGB(Pattern{Blue: true})
	out.SetRGB(Pattern{Blue: true})
	out.SetAux(true)
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want Command
	}{
		{"ON", CommandOn},
		{"OFF", CommandOff},
		{"RESET", CommandReset},
		{"on", CommandUnknown},
		{"ON\n", CommandUnknown},
		{"BLINK", CommandUnknown},
		{"", CommandUnknown},
	}
	for _, tt := range tests {
		if got := ParseCommand(tt.in); got != tt.want {
			t.Errorf("ParseCommand(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
