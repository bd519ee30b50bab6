package supervisor

import (
	"errors"
	"fmt"

	"github.com/GriffinCanCode/agentshell/internal/jsonrpc"
)

var (
	// ErrBinaryNotFound means no app-server executable could be located.
	ErrBinaryNotFound = errors.New("app-server binary not found")

	// ErrInvalidTransition is returned for a lifecycle call the current state forbids.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
)

// SpawnError reports that the binary could not be located or started.
type SpawnError struct {
	Binary string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Binary, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// HandshakeError reports that initialize/initialized did not complete.
type HandshakeError struct {
	Err    error
	Stderr string
}

func (e *HandshakeError) Error() string {
	msg := "app-server handshake failed: " + e.Err.Error()
	if e.Stderr != "" {
		msg += " (stderr: " + lastLine(e.Stderr) + ")"
	}
	return msg
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// ProcessExitedError is the reason handed to pending calls when the
// process goes away. It matches jsonrpc.ErrTransportClosed.
type ProcessExitedError struct {
	Code   int
	Signal string
}

func (e *ProcessExitedError) Error() string {
	if e.Signal != "" {
		return "app-server terminated by signal " + e.Signal
	}
	return fmt.Sprintf("app-server exited with code %d", e.Code)
}

// Is lets errors.Is(err, jsonrpc.ErrTransportClosed) match.
func (e *ProcessExitedError) Is(target error) bool {
	return target == jsonrpc.ErrTransportClosed
}
