package mux

import (
	"errors"
	"fmt"

	"github.com/progrium/hydna-go/frame"
)

var (
	// Local validation errors. They never change channel or connection state.
	ErrInvalidMode      = errors.New("hydna: invalid channel mode")
	ErrInvalidPriority  = errors.New("hydna: priority must be between 0 and 7")
	ErrBadExpr          = errors.New("hydna: bad channel expression")
	ErrAlreadyConnected = errors.New("hydna: channel already connected")
	ErrNotOpen          = errors.New("hydna: channel not open")
	ErrNotWritable      = errors.New("hydna: channel not opened for writing")
	ErrNotEmitable      = errors.New("hydna: channel not opened for signals")

	// ErrDestroyed is returned by every operation on a destroyed channel.
	ErrDestroyed = errors.New("hydna: channel destroyed")

	ErrOpenPending    = errors.New("hydna: open already pending for channel")
	ErrResolvePending = errors.New("hydna: resolve already pending for path")
	ErrChannelBusy    = errors.New("hydna: channel already open on connection")
	ErrNotHandshaked  = errors.New("hydna: connection has not completed its handshake")
	ErrConnDestroyed  = errors.New("hydna: connection destroyed")

	// ErrClosed is the cause given to channels whose connection was shut
	// down by Registry.Close or Conn.Close.
	ErrClosed = errors.New("hydna: connection closed")

	ErrCloseTimeout     = errors.New("hydna: timed out waiting for close acknowledgment")
	ErrHandshakeTimeout = errors.New("hydna: timed out waiting for handshake response")
)

// HandshakeError is a terminal, connection wide failure reported by the
// server in its handshake response.
type HandshakeError struct {
	Status frame.HandshakeStatus
}

func (e *HandshakeError) Error() string {
	return "hydna: " + e.Status.String()
}

// OpenDeniedError is returned when the server denies an open or resolve.
type OpenDeniedError struct {
	Channel uint32
	Path    string
	Reason  string
}

func (e *OpenDeniedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("hydna: open of channel %d denied", e.Channel)
	}
	return fmt.Sprintf("hydna: open of channel %d denied: %s", e.Channel, e.Reason)
}

// RedirectExceededError is returned when the server redirects an open more
// times than allowed.
type RedirectExceededError struct {
	Channel  uint32
	Attempts int
}

func (e *RedirectExceededError) Error() string {
	return fmt.Sprintf("hydna: open of channel %d redirected more than %d times", e.Channel, e.Attempts)
}

// SignalError is the cause of a channel ended by an ERROR signal.
type SignalError struct {
	Channel uint32
	Reason  string
}

func (e *SignalError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("hydna: channel %d ended with an error", e.Channel)
	}
	return fmt.Sprintf("hydna: channel %d ended with an error: %s", e.Channel, e.Reason)
}

// ProtocolError is a fatal violation of the wire protocol by the server.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string { return "hydna: protocol violation: " + e.Err.Error() }
func (e *ProtocolError) Unwrap() error { return e.Err }

// TransportError wraps a failure of the underlying byte stream.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "hydna: transport: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

func protocolErrorf(format string, args ...interface{}) error {
	return &ProtocolError{Err: fmt.Errorf("%w: "+format, append([]interface{}{frame.ErrMalformed}, args...)...)}
}
