package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

var (
	// ErrTransportClosed is matched by every error that reports the
	// connection ending while a call was outstanding.
	ErrTransportClosed = errors.New("transport closed")

	// ErrNotConnected is returned for calls issued when no live connection exists.
	ErrNotConnected = errors.New("no active app-server connection")

	// ErrAlreadyReplied is returned when a responder is used a second time.
	ErrAlreadyReplied = errors.New("inbound request already answered")
)

// TransportClosedError carries the reason a connection ended.
type TransportClosedError struct {
	Reason error
}

func (e *TransportClosedError) Error() string {
	if e.Reason == nil {
		return ErrTransportClosed.Error()
	}
	return fmt.Sprintf("%s: %v", ErrTransportClosed, e.Reason)
}

// Is lets errors.Is(err, ErrTransportClosed) match.
func (e *TransportClosedError) Is(target error) bool {
	return target == ErrTransportClosed
}

func (e *TransportClosedError) Unwrap() error { return e.Reason }

// RemoteError is an error object reported by the peer for a specific request.
type RemoteError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// IsMethodNotFound reports whether the peer rejected method itself.
// Servers built on serde report an unrecognized method as an invalid request
// naming an "unknown variant"; that shape only counts when the variant is
// method, since enum-valued params fail the same way.
func (e *RemoteError) IsMethodNotFound(method string) bool {
	if e == nil {
		return false
	}
	if e.Code == CodeMethodNotFound {
		return true
	}
	if e.Code != CodeInvalidRequest || method == "" {
		return false
	}
	variant, ok := unknownVariant(e.Message)
	return ok && variant == method
}

// unknownVariant extracts X from "... unknown variant `X`, expected ...".
func unknownVariant(msg string) (string, bool) {
	const marker = "unknown variant `"
	i := strings.Index(msg, marker)
	if i < 0 {
		return "", false
	}
	rest := msg[i+len(marker):]
	j := strings.IndexByte(rest, '`')
	if j < 0 {
		return "", false
	}
	return rest[:j], true
}

// NewRemoteError builds an error object for replying to inbound requests.
func NewRemoteError(code int, message string) *RemoteError {
	return &RemoteError{Code: code, Message: message}
}

// MalformedLineError reports a line that could not be decoded. It is never fatal.
type MalformedLineError struct {
	Line []byte
	Err  error
}

func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("malformed line (%d bytes): %v", len(e.Line), e.Err)
}

func (e *MalformedLineError) Unwrap() error { return e.Err }
