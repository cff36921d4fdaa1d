package transport

import (
	"errors"

	"github.com/tempinbox/tempinbox-go/pkg/wire"
)

// Transport errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendQueueFull    = errors.New("send queue full")
	ErrHandshake        = errors.New("handshake failed")
	ErrInvalidURL       = errors.New("invalid server url")
)

// DisconnectError reports the end of an established session.
type DisconnectError struct {
	// Reason is one of the wire.Reason* values.
	Reason string

	// Err is the underlying I/O error, if any.
	Err error
}

func (e *DisconnectError) Error() string {
	if e.Err != nil {
		return "disconnected: " + e.Reason + ": " + e.Err.Error()
	}
	return "disconnected: " + e.Reason
}

func (e *DisconnectError) Unwrap() error {
	return e.Err
}

// ConnectError is a connect_error packet from the server.
type ConnectError struct {
	Message string
}

func (e *ConnectError) Error() string {
	return "connect error: " + e.Message
}

// ReasonOf classifies err into a disconnect reason string suitable for
// wire.IsIntentional.
func ReasonOf(err error) string {
	var de *DisconnectError
	if errors.As(err, &de) {
		return de.Reason
	}
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce.Message
	}
	return wire.ReasonTransportError
}
