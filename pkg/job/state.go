package job

import (
	"fmt"

	"github.com/ajitpratap0/datapkg/pkg/errors"
)

// State is a job lifecycle state.
type State string

const (
	StateInit      State = "INIT"
	StateRunning   State = "RUNNING"
	StateStopping  State = "STOPPING"
	StateStopped   State = "STOPPED"
	StateCompleted State = "COMPLETED"
	StateError     State = "ERROR"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateCompleted || s == StateError
}

// Event drives a state transition.
type Event string

const (
	EventStart    Event = "start"
	EventStop     Event = "stop"
	EventComplete Event = "complete"
	EventFail     Event = "fail"
)

// transitions lists every legal (state, event) pair. Anything else is a bug
// in the caller.
var transitions = map[State]map[Event]State{
	StateInit: {
		EventStart: StateRunning,
		EventStop:  StateStopped,
	},
	StateRunning: {
		EventStop:     StateStopping,
		EventComplete: StateCompleted,
		EventFail:     StateError,
	},
	StateStopping: {
		EventComplete: StateStopped,
		EventFail:     StateError,
	},
}

// Next returns the state reached from s on e.
func Next(s State, e Event) (State, error) {
	if next, ok := transitions[s][e]; ok {
		return next, nil
	}
	return s, errors.New(errors.ErrorTypeInternal, fmt.Sprintf("illegal job transition %s on %s", s, e)).
		WithDetail("state", string(s)).
		WithDetail("event", string(e))
}
