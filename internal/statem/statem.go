// Package statem models the session lifecycle: NOT_CONNECTED, CONNECTED
// (with children SESSION_NOT_READY and SESSION_READY, the latter always
// carrying an implicit ACTIVE child). This is a tagged variant rather
// than a generic state-id table. State is a sum type over the three
// reachable leaves, and every transition is a pattern match the compiler
// can check for exhaustiveness.
package statem

import "sync"

// State is one leaf of the session lifecycle. SessionReady always implies
// an ACTIVE child: there is no observable difference between "ready" and
// "ready and active" in this implementation, so they collapse to one leaf.
type State int

const (
	NotConnected State = iota
	SessionNotReady
	SessionReady
)

func (s State) String() string {
	switch s {
	case NotConnected:
		return "NOT_CONNECTED"
	case SessionNotReady:
		return "SESSION_NOT_READY"
	case SessionReady:
		return "SESSION_READY"
	default:
		return "UNKNOWN"
	}
}

// Machine is a mutex-guarded session state machine. Every state query and
// transition goes through it; a session's state machine is locked by its
// own mutex, independent of the session's other collaborators.
type Machine struct {
	mu    sync.Mutex
	state State
}

// New creates a Machine starting in NOT_CONNECTED.
func New() *Machine {
	return &Machine{state: NotConnected}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsActive reports whether the machine is in a state from which data
// sends are permitted.
func (m *Machine) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == SessionReady
}

// Connect fires the CONNECT event (NOT_CONNECTED -> CONNECTED, which
// implicitly enters SESSION_NOT_READY). Returns false without effect if
// not currently NOT_CONNECTED.
func (m *Machine) Connect() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case NotConnected:
		m.state = SessionNotReady
		return true
	default:
		return false
	}
}

// StartSession fires the START_SESSION event (SESSION_NOT_READY ->
// SESSION_READY, implicitly entering ACTIVE).
func (m *Machine) StartSession() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case SessionNotReady:
		m.state = SessionReady
		return true
	default:
		return false
	}
}

// StopSession fires the STOP_SESSION event (SESSION_READY ->
// SESSION_NOT_READY).
func (m *Machine) StopSession() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case SessionReady:
		m.state = SessionNotReady
		return true
	default:
		return false
	}
}

// Disconnect fires the DISCONNECT event (CONNECTED -> NOT_CONNECTED),
// valid from either SESSION_NOT_READY or SESSION_READY since both are
// children of CONNECTED.
func (m *Machine) Disconnect() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case SessionNotReady, SessionReady:
		m.state = NotConnected
		return true
	default:
		return false
	}
}
