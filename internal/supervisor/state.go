package supervisor

import (
	"fmt"
	"time"
)

// State is the lifecycle state of the app-server process.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	// StateCrashed is reported when the process exits while running. It is
	// always followed by StateStopped.
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateCrashed:
		return "crashed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// EventType classifies process events.
type EventType string

const (
	// EventState reports a state transition.
	EventState EventType = "state"
	// EventExited reports that the process is gone, with its exit details.
	EventExited EventType = "exited"
	// EventStartFailed reports a failed spawn or handshake.
	EventStartFailed EventType = "startFailed"
)

// ExitInfo describes how a process ended.
type ExitInfo struct {
	Code       int       `json:"code"`
	Signal     string    `json:"signal,omitempty"`
	Unexpected bool      `json:"unexpected"`
	Stderr     string    `json:"stderr,omitempty"`
	At         time.Time `json:"at"`
}

// Event is published to process subscribers in the order things happened.
type Event struct {
	Type  EventType `json:"type"`
	State State     `json:"state"`
	PID   int       `json:"pid,omitempty"`
	Exit  *ExitInfo `json:"exit,omitempty"`
	Error string    `json:"error,omitempty"`
	Time  time.Time `json:"time"`
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	State         State      `json:"state"`
	PID           int        `json:"pid,omitempty"`
	Binary        string     `json:"binary,omitempty"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	UserAgent     string     `json:"userAgent,omitempty"`
	Pending       int        `json:"pending"`
	LastExit      *ExitInfo  `json:"lastExit,omitempty"`
	Breaker       string     `json:"breaker,omitempty"`
	StartFailures uint32     `json:"startFailures,omitempty"`
}
