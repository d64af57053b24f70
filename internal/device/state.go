// Package device models the node's lifecycle state and the tri-color
// status indicator derived from it.
package device

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// State is the device lifecycle state.
type State int

const (
	// StateInit is the state after boot, before hardware setup completes.
	StateInit State = iota
	// StateRunning is the steady operating state.
	StateRunning
	// StateError marks an unrecoverable local fault.
	StateError
)

// String returns the upper-case state name used in logs and JSON.
func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateRunning:
		return "RUNNING"
	case StateError:
		return "ERROR"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// RecoveryPolicy decides whether ERROR can be left without a restart.
type RecoveryPolicy string

const (
	// RecoveryLatched keeps ERROR until the device is power cycled.
	RecoveryLatched RecoveryPolicy = "latched"
	// RecoveryManual allows an explicit recover request (the RESET
	// command) to return the device to RUNNING.
	RecoveryManual RecoveryPolicy = "manual"
)

// ParseRecoveryPolicy converts a config string. Empty selects latched.
func ParseRecoveryPolicy(s string) (RecoveryPolicy, error) {
	switch RecoveryPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", RecoveryLatched:
		return RecoveryLatched, nil
	case RecoveryManual:
		return RecoveryManual, nil
	default:
		return RecoveryLatched, fmt.Errorf("unknown recovery policy %q (valid: latched, manual)", s)
	}
}

// ErrLatched is returned when leaving ERROR is not permitted.
var ErrLatched = errors.New("device is latched in ERROR")

// Machine is the device state machine. It is owned by the control loop
// and is not safe for concurrent use.
type Machine struct {
	state       State
	policy      RecoveryPolicy
	faultReason string
	logger      *slog.Logger
}

// NewMachine returns a Machine in StateInit.
func NewMachine(policy RecoveryPolicy, logger *slog.Logger) *Machine {
	if policy == "" {
		policy = RecoveryLatched
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{state: StateInit, policy: policy, logger: logger}
}

// Current returns the current state.
func (m *Machine) Current() State {
	return m.state
}

// FaultReason returns why the machine entered ERROR, if it did.
func (m *Machine) FaultReason() string {
	return m.faultReason
}

// Set moves the machine to s. Leaving ERROR goes through [Machine.Recover]
// rules and fails with ErrLatched under the latched policy.
func (m *Machine) Set(s State) error {
	if s == m.state {
		return nil
	}
	if m.state == StateError && m.policy != RecoveryManual {
		return ErrLatched
	}
	m.logger.Info("device state changed", "from", m.state, "to", s)
	if m.state == StateError {
		m.faultReason = ""
	}
	m.state = s
	return nil
}

// Fault moves the machine to ERROR and records reason.
func (m *Machine) Fault(reason string) {
	if m.state == StateError {
		return
	}
	m.logger.Error("device fault", "from", m.state, "reason", reason)
	m.state = StateError
	m.faultReason = reason
}

// Recover returns ERROR to RUNNING when the policy allows it. It
// reports whether the state changed.
func (m *Machine) Recover() bool {
	if m.state != StateError {
		return false
	}
	if err := m.Set(StateRunning); err != nil {
		m.logger.Warn("recover request ignored", "policy", m.policy, "error", err)
		return false
	}
	return true
}
