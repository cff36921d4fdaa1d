package connection

import "errors"

// Connection errors.
var (
	ErrInvalidState = errors.New("invalid connection state")
	ErrDisabled     = errors.New("connection disabled")
	ErrNotReady     = errors.New("connection not ready")
)

// State represents the transport connection state.
type State uint8

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected State = iota

	// StateConnecting indicates a connect attempt is in progress or
	// scheduled.
	StateConnecting

	// StateConnected indicates an open session with no identity bound.
	StateConnected

	// StateAuthenticated indicates the server acknowledged the identity.
	StateAuthenticated

	// StateSubscribed indicates the session is bound to a mailbox topic.
	StateSubscribed

	// StateDisabled is terminal. No further connect attempts are made.
	StateDisabled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateSubscribed:
		return "SUBSCRIBED"
	case StateDisabled:
		return "DISABLED"
	default:
		return "UNKNOWN"
	}
}

// IsConnected returns true for Connected, Authenticated and Subscribed.
func (s State) IsConnected() bool {
	return s >= StateConnected && s <= StateSubscribed
}

// IsTerminal returns true if no transition out of s is possible.
func (s State) IsTerminal() bool {
	return s == StateDisabled
}
