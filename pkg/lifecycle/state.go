// Package lifecycle runs the gateway process: it brings dependencies up in
// order, reports their health while serving, and tears them down in
// reverse order on shutdown.
//
// A [Service] moves through a small state machine:
//
//	Unknown → Starting → Running → Stopping → Stopped
//
// Any non-terminal state may move to Failed. Stopped and Failed may move
// back to Starting, so a process can retry startup without being rebuilt.
//
// Start and Stop create spans under the
// "github.com/StricklySoft/authgate/pkg/lifecycle" tracer scope.
package lifecycle

// State is the lifecycle position of a [Service]. The zero value is not a
// valid state; services begin in [StateUnknown].
type State string

const (
	// StateUnknown is the state of a service that has never been started.
	StateUnknown State = "unknown"

	// StateStarting is held while start hooks run.
	StateStarting State = "starting"

	// StateRunning is the only state in which the service reports healthy.
	StateRunning State = "running"

	// StateStopping is held while stop hooks run.
	StateStopping State = "stopping"

	// StateStopped follows a clean shutdown.
	StateStopped State = "stopped"

	// StateFailed follows a failed start hook or stop hook.
	StateFailed State = "failed"
)

// String implements fmt.Stringer.
func (s State) String() string {
	return string(s)
}

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	switch s {
	case StateUnknown, StateStarting, StateRunning,
		StateStopping, StateStopped, StateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is Stopped or Failed.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

var validTransitions = map[State][]State{
	StateUnknown:  {StateStarting, StateFailed},
	StateStarting: {StateRunning, StateFailed, StateStopping},
	StateRunning:  {StateStopping, StateFailed},
	StateStopping: {StateStopped, StateFailed},
	StateStopped:  {StateStarting},
	StateFailed:   {StateStarting},
}

// ValidTransition reports whether a service may move from one state to
// another. Self-transitions are never valid.
func ValidTransition(from, to State) bool {
	if from == to {
		return false
	}
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
