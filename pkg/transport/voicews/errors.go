package voicews

import (
	"fmt"
)

// NegotiationError reports a failed session-creation request. The session
// never reaches Connected when this is returned.
type NegotiationError struct {
	Status int
	Reason string
	Err    error
}

func (e *NegotiationError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("session negotiation failed (status %d): %s", e.Status, e.Reason)
	}
	return fmt.Sprintf("session negotiation failed: %s", e.Reason)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// TransportError reports a failure to open the persistent socket.
type TransportError struct {
	Reason string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("socket transport failed: %s", e.Reason)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NotConnectedError is returned when a send is attempted while the socket is
// not connected or a prior turn's response is still pending. It is a local
// no-op condition, not a fatal one.
type NotConnectedError struct {
	Reason string
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("cannot send: %s", e.Reason)
}

// ConnectionLostError reports an abnormal close after the socket had been
// connected. The session controller schedules a single reconnect attempt
// before surfacing it.
type ConnectionLostError struct {
	Code int
}

func (e *ConnectionLostError) Error() string {
	return fmt.Sprintf("connection lost (close code %d)", e.Code)
}
