// Package api holds what the REST and websocket surfaces share: how core
// errors are reported to UI code.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/GriffinCanCode/agentshell/internal/appserver"
	"github.com/GriffinCanCode/agentshell/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/agentshell/internal/jsonrpc"
	"github.com/GriffinCanCode/agentshell/internal/preferences"
	"github.com/GriffinCanCode/agentshell/internal/shared/utils"
	"github.com/GriffinCanCode/agentshell/internal/shell"
	"github.com/GriffinCanCode/agentshell/internal/supervisor"
)

// ErrBadRequest marks malformed input from a UI client.
var ErrBadRequest = errors.New("bad request")

// Error codes
const (
	CodeBadRequest       = "bad_request"
	CodeRemote           = "remote_error"
	CodeNotConnected     = "not_connected"
	CodeTransportClosed  = "transport_closed"
	CodeStartSuppressed  = "start_suppressed"
	CodeSpawnFailed      = "spawn_failed"
	CodeHandshakeFailed  = "handshake_failed"
	CodeConflict         = "conflict"
	CodeUnknownOperation = "unknown_operation"
	CodeUnknownRequest   = "unknown_request"
	CodeNotFound         = "not_found"
	CodeTimeout          = "timeout"
	CodeCanceled         = "canceled"
	CodeInternal         = "internal"
)

// Error is the body UI code receives for a failed call.
type Error struct {
	Status  int             `json:"-"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	RPCCode int             `json:"rpcCode,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// FromError classifies err. Remote errors keep the server's code and data
// so the UI can show them verbatim.
func FromError(err error) *Error {
	out := &Error{Message: err.Error()}

	var remote *jsonrpc.RemoteError
	var spawn *supervisor.SpawnError
	var handshake *supervisor.HandshakeError
	switch {
	case errors.As(err, &remote):
		out.Status, out.Code = http.StatusBadGateway, CodeRemote
		out.Message, out.RPCCode, out.Data = remote.Message, remote.Code, remote.Data
	case errors.Is(err, resilience.ErrCircuitOpen):
		out.Status, out.Code = http.StatusServiceUnavailable, CodeStartSuppressed
	case errors.As(err, &spawn):
		out.Status, out.Code = http.StatusServiceUnavailable, CodeSpawnFailed
	case errors.As(err, &handshake):
		out.Status, out.Code = http.StatusBadGateway, CodeHandshakeFailed
	case errors.Is(err, jsonrpc.ErrNotConnected):
		out.Status, out.Code = http.StatusServiceUnavailable, CodeNotConnected
	case errors.Is(err, jsonrpc.ErrTransportClosed):
		out.Status, out.Code = http.StatusServiceUnavailable, CodeTransportClosed
	case errors.Is(err, supervisor.ErrInvalidTransition), errors.Is(err, shell.ErrRequestKind):
		out.Status, out.Code = http.StatusConflict, CodeConflict
	case errors.Is(err, appserver.ErrUnknownOperation):
		out.Status, out.Code = http.StatusNotFound, CodeUnknownOperation
	case errors.Is(err, shell.ErrUnknownRequest):
		out.Status, out.Code = http.StatusNotFound, CodeUnknownRequest
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, utils.ErrInvalid),
		errors.Is(err, shell.ErrInvalidDecision),
		errors.Is(err, preferences.ErrInvalidKey),
		errors.Is(err, preferences.ErrTypeMismatch):
		out.Status, out.Code = http.StatusBadRequest, CodeBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		out.Status, out.Code = http.StatusGatewayTimeout, CodeTimeout
	case errors.Is(err, context.Canceled):
		out.Status, out.Code = 499, CodeCanceled
	default:
		out.Status, out.Code = http.StatusInternalServerError, CodeInternal
	}
	return out
}
