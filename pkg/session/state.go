package session

// State is the connection lifecycle state of a session.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

// TransportKind selects which backend carries the session.
type TransportKind string

const (
	// TransportSocket is the persistent bidirectional socket to the
	// voice-agent backend.
	TransportSocket TransportKind = "socket"
	// TransportEventStream is the chunked HTTP event stream from the
	// language-model backend.
	TransportEventStream TransportKind = "event_stream"
)
