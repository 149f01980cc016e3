package client

import "sync/atomic"

// RunState is the lifecycle state of a Client's connection.
type RunState int32

const (
	StateStopped RunState = iota
	StateStarting
	StateRunning
	StateRestarting
	StateDestroying
	StateDestroyed
)

func (s RunState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateRestarting:
		return "restarting"
	case StateDestroying:
		return "destroying"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// stateMachine holds the single RunState of a client. Every transition goes
// through compare-and-set so concurrent callers never interleave partial
// transitions.
type stateMachine struct {
	v atomic.Int32
}

func (m *stateMachine) Load() RunState {
	return RunState(m.v.Load())
}

// Transition moves to next if the current state is one of from and reports
// the state it observed.
func (m *stateMachine) Transition(next RunState, from ...RunState) (RunState, bool) {
	for {
		cur := RunState(m.v.Load())
		allowed := false
		for _, f := range from {
			if cur == f {
				allowed = true
				break
			}
		}
		if !allowed {
			return cur, false
		}
		if m.v.CompareAndSwap(int32(cur), int32(next)) {
			return cur, true
		}
	}
}

// active reports whether a connection is open or being (re)opened.
func (s RunState) active() bool {
	return s == StateStarting || s == StateRunning || s == StateRestarting
}
