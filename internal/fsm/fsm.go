// Package fsm implements the pipeline lifecycle state machine (spec
// §4.4 / component C4): seven states, guarded transitions, and a
// last-N transition ring buffer with reason codes for diagnostics. The
// teacher has no FSM of its own — call sessions there track lifecycle
// with scattered boolean flags — so this package is the "Design Notes"
// re-architecture from spec §9, built fresh in the teacher's idiom of
// small structs, explicit errors, and log/slog diagnostics rather than
// copied from any one teacher file.
package fsm

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is one of the seven pipeline lifecycle states.
type State string

const (
	Idle       State = "idle"
	Starting   State = "starting"
	Listening  State = "listening"
	Processing State = "processing"
	Stopping   State = "stopping"
	Error      State = "error"
	Paused     State = "paused"
)

// allowed enumerates the guarded transition table from spec §4.4.
// Transitions not listed here are rejected with ErrInvalidTransition.
var allowed = map[State]map[State]bool{
	Idle:       {Starting: true},
	Starting:   {Listening: true, Error: true, Idle: true},
	Listening:  {Processing: true, Stopping: true, Error: true, Paused: true},
	Processing: {Listening: true, Stopping: true, Error: true},
	Stopping:   {Idle: true, Error: true},
	Error:      {Idle: true},
	Paused:     {Listening: true, Stopping: true},
}

// Transition records one state change for the diagnostic ring buffer.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// ErrInvalidTransition is returned when a requested transition is not in
// the guarded table above.
type ErrInvalidTransition struct {
	From, To State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("fsm: invalid transition %s -> %s", e.From, e.To)
}

// Machine is the authoritative pipeline lifecycle state. It is safe for
// concurrent use; the Unified Pipeline Orchestrator (C8) is its sole
// owner and caller in production, but tests drive it directly.
type Machine struct {
	mu           sync.Mutex
	state        State
	prevNonTerm  State // state to return to from Paused on resume
	history      []Transition
	historyLimit int
}

// New creates a Machine starting in Idle, retaining up to historyLimit
// past transitions (0 uses a default of 32).
func New(historyLimit int) *Machine {
	if historyLimit <= 0 {
		historyLimit = 32
	}
	return &Machine{state: Idle, historyLimit: historyLimit}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// History returns a copy of the retained transitions, oldest first.
func (m *Machine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// Transition attempts to move the machine from its current state to to,
// recording reason for diagnostics. Disallowed transitions return
// *ErrInvalidTransition and leave the state unchanged.
func (m *Machine) Transition(to State, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to, reason)
}

func (m *Machine) transitionLocked(to State, reason string) error {
	from := m.state
	if !allowed[from][to] {
		return &ErrInvalidTransition{From: from, To: to}
	}
	if from == Listening || from == Processing {
		m.prevNonTerm = from
	}
	m.state = to
	m.record(from, to, reason)
	slog.Info("fsm: transition", "from", from, "to", to, "reason", reason)
	return nil
}

func (m *Machine) record(from, to State, reason string) {
	m.history = append(m.history, Transition{From: from, To: to, Reason: reason, At: time.Now()})
	if len(m.history) > m.historyLimit {
		m.history = m.history[len(m.history)-m.historyLimit:]
	}
}

// Pause is legal only from Listening (spec §4.4).
func (m *Machine) Pause(reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Listening {
		return &ErrInvalidTransition{From: m.state, To: Paused}
	}
	return m.transitionLocked(Paused, reason)
}

// Resume returns to the state Pause was called from (always Listening,
// since Pause only accepts that source state), matching spec §4.4's
// "resume() returns to the previous non-terminal state".
func (m *Machine) Resume(reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Paused {
		return &ErrInvalidTransition{From: m.state, To: Listening}
	}
	target := m.prevNonTerm
	if target == "" {
		target = Listening
	}
	return m.transitionLocked(target, reason)
}
