// Package proctor implements the per-attempt strike tracker that reacts to
// environment deviations (tab hidden, fullscreen exited).
package proctor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// State is the proctoring state of one attempt.
type State string

const (
	StateActive     State = "active"
	StateWarned     State = "warned"
	StateTerminated State = "terminated"
	StateCompleted  State = "completed"
)

// Terminal reports whether no further signals are processed in s.
func (s State) Terminal() bool {
	return s == StateTerminated || s == StateCompleted
}

// Signal is an environment deviation reported by the client.
type Signal string

const (
	SignalTabHidden        Signal = "tab_hidden"
	SignalFullscreenExited Signal = "fullscreen_exited"
)

// ParseSignal validates a client-supplied signal name.
func ParseSignal(s string) (Signal, error) {
	switch Signal(s) {
	case SignalTabHidden, SignalFullscreenExited:
		return Signal(s), nil
	}
	return "", fmt.Errorf("unknown proctoring signal %q", s)
}

// TerminateAt is the strike count that forces submission.
const TerminateAt = 2

// WarningCounter increments and returns the strike count for an attempt,
// creating the record if absent.
type WarningCounter interface {
	IncrementWarning(ctx context.Context, quizID, studentID string) (int, error)
}

// SubmitFunc forces a submission of the answers recorded so far. It is
// called with the attempt's Guard already held.
type SubmitFunc func(ctx context.Context) error

// Guard is the attempt's single in-flight submit flag. Every path that can
// submit calls TryAcquire first; the holder releases only on failure.
type Guard struct {
	busy atomic.Bool
}

// TryAcquire takes the guard, returning false if a submission is underway.
func (g *Guard) TryAcquire() bool { return g.busy.CompareAndSwap(false, true) }

// Release frees the guard after a failed submission.
func (g *Guard) Release() { g.busy.Store(false) }

// Busy reports whether a submission is underway or has succeeded.
func (g *Guard) Busy() bool { return g.busy.Load() }

// Transition describes what a signal did.
type Transition struct {
	From     State `json:"from"`
	To       State `json:"to"`
	Warnings int   `json:"warnings"`
	Dropped  bool  `json:"dropped,omitempty"`
	Forced   bool  `json:"forced,omitempty"`
}

// Machine is the proctoring state machine for one (quiz, student) attempt.
type Machine struct {
	quizID    string
	studentID string
	counter   WarningCounter
	guard     *Guard
	submit    SubmitFunc

	mu       sync.Mutex
	state    State
	inflight bool
	warnings int
}

// NewMachine creates a machine in the ACTIVE state.
func NewMachine(quizID, studentID string, counter WarningCounter, guard *Guard, submit SubmitFunc) *Machine {
	return &Machine{
		quizID:    quizID,
		studentID: studentID,
		counter:   counter,
		guard:     guard,
		submit:    submit,
		state:     StateActive,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Warnings returns the last strike count seen.
func (m *Machine) Warnings() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.warnings
}

// Deviation records one strike. Signals arriving in a terminal state, while
// another deviation is being recorded, or while a submission is underway
// are dropped without touching the counter.
func (m *Machine) Deviation(ctx context.Context, sig Signal) (Transition, error) {
	m.mu.Lock()
	from := m.state
	if from.Terminal() || m.inflight || m.guard.Busy() {
		t := Transition{From: from, To: from, Warnings: m.warnings, Dropped: true}
		m.mu.Unlock()
		slog.Debug("proctoring signal dropped", "quiz_id", m.quizID, "student_id", m.studentID, "signal", sig, "state", from)
		return t, nil
	}
	m.inflight = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inflight = false
		m.mu.Unlock()
	}()

	count, err := m.counter.IncrementWarning(ctx, m.quizID, m.studentID)
	if err != nil {
		return Transition{From: from, To: from}, fmt.Errorf("record strike: %w", err)
	}

	m.mu.Lock()
	m.warnings = count
	if count < TerminateAt {
		if !m.state.Terminal() {
			m.state = StateWarned
		}
		t := Transition{From: from, To: m.state, Warnings: count}
		m.mu.Unlock()
		slog.Info("proctoring warning", "quiz_id", m.quizID, "student_id", m.studentID, "signal", sig, "warnings", count)
		return t, nil
	}

	// A voluntary submit that won the guard meanwhile keeps its outcome.
	if m.state.Terminal() || !m.guard.TryAcquire() {
		t := Transition{From: from, To: m.state, Warnings: count}
		m.mu.Unlock()
		return t, nil
	}
	m.state = StateTerminated
	m.mu.Unlock()

	slog.Warn("proctoring terminated attempt", "quiz_id", m.quizID, "student_id", m.studentID, "signal", sig, "warnings", count)
	t := Transition{From: from, To: StateTerminated, Warnings: count, Forced: true}
	if err := m.submit(ctx); err != nil {
		m.guard.Release()
		return t, fmt.Errorf("forced submission: %w", err)
	}
	return t, nil
}

// Acknowledge dismisses a warning, returning WARNED to ACTIVE.
func (m *Machine) Acknowledge() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateWarned {
		m.state = StateActive
	}
	return m.state
}

// Complete marks a voluntary or timed-out submission as finished. It has no
// effect once the attempt was terminated.
func (m *Machine) Complete() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.Terminal() {
		m.state = StateCompleted
	}
	return m.state
}
