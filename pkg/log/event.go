package log

import (
	"time"
)

// Event represents a protocol capture event at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the transport connection (UUID). Empty for
	// inbox events that are not tied to a connection.
	ConnectionID string `cbor:"2,keyasint,omitempty"`

	Direction Direction `cbor:"3,keyasint"`
	Layer     Layer     `cbor:"4,keyasint"`
	Category  Category  `cbor:"5,keyasint"`

	// AccountID is the mail account the event belongs to, if known.
	AccountID string `cbor:"6,keyasint,omitempty"`

	// Mailbox is the subscribed topic, if known.
	Mailbox string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Raw text frame
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"` // Decoded socket.io event
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Connection/session state
	ControlMsg  *ControlMsgEvent  `cbor:"13,keyasint,omitempty"` // Ping/pong/close
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
	Sync        *SyncEvent        `cbor:"15,keyasint,omitempty"` // Inbox reconciliation
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
	// DirectionLocal indicates an event without a wire direction.
	DirectionLocal Direction = 2
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	case DirectionLocal:
		return "LOCAL"
	default:
		return "UNKNOWN"
	}
}

// ParseDirection parses a direction name (case-sensitive, as printed by
// String).
func ParseDirection(s string) (Direction, bool) {
	for _, d := range []Direction{DirectionIn, DirectionOut, DirectionLocal} {
		if d.String() == s {
			return d, true
		}
	}
	return 0, false
}

// Layer indicates which component captured the event.
type Layer uint8

const (
	// LayerTransport is the WebSocket/socket.io layer.
	LayerTransport Layer = 0
	// LayerSession is identity and topic binding.
	LayerSession Layer = 1
	// LayerInbox is the reconciliation coordinator.
	LayerInbox Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerSession:
		return "SESSION"
	case LayerInbox:
		return "INBOX"
	default:
		return "UNKNOWN"
	}
}

// ParseLayer parses a layer name.
func ParseLayer(s string) (Layer, bool) {
	for _, l := range []Layer{LayerTransport, LayerSession, LayerInbox} {
		if l.String() == s {
			return l, true
		}
	}
	return 0, false
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates an application event (authenticate,
	// new_email_notification, ...).
	CategoryMessage Category = 0
	// CategoryControl indicates a control message (ping/pong/close).
	CategoryControl Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
	// CategorySync indicates an inbox reconciliation step.
	CategorySync Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	case CategorySync:
		return "SYNC"
	default:
		return "UNKNOWN"
	}
}

// ParseCategory parses a category name.
func ParseCategory(s string) (Category, bool) {
	for _, c := range []Category{CategoryMessage, CategoryControl, CategoryState, CategoryError, CategorySync} {
		if c.String() == s {
			return c, true
		}
	}
	return 0, false
}

// FrameEvent captures a raw WebSocket text frame.
type FrameEvent struct {
	// Size is the frame size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data is the frame text (may be truncated for large frames).
	Data string `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MaxFrameCapture is the number of frame bytes kept in a FrameEvent.
const MaxFrameCapture = 1024

// NewFrameEvent builds a FrameEvent, truncating data to MaxFrameCapture.
func NewFrameEvent(data []byte) *FrameEvent {
	f := &FrameEvent{Size: len(data)}
	if len(data) > MaxFrameCapture {
		f.Data = string(data[:MaxFrameCapture])
		f.Truncated = true
	} else {
		f.Data = string(data)
	}
	return f
}

// MessageEvent captures a decoded socket.io event.
type MessageEvent struct {
	// Event is the socket.io event name.
	Event string `cbor:"1,keyasint"`

	// Payload is the JSON text of the first event argument.
	Payload string `cbor:"2,keyasint,omitempty"`
}

// StateChangeEvent captures connection and session lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a transport state change.
	StateEntityConnection StateEntity = 0
	// StateEntityAuth indicates an identity binding change.
	StateEntityAuth StateEntity = 1
	// StateEntitySubscription indicates a topic binding change.
	StateEntitySubscription StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityAuth:
		return "AUTH"
	case StateEntitySubscription:
		return "SUBSCRIPTION"
	default:
		return "UNKNOWN"
	}
}

// ControlMsgEvent captures transport-level control messages.
type ControlMsgEvent struct {
	Type ControlMsgType `cbor:"1,keyasint"`

	// Reason is the close reason for close messages.
	Reason string `cbor:"2,keyasint,omitempty"`
}

// ControlMsgType indicates the type of control message.
type ControlMsgType uint8

const (
	ControlMsgPing  ControlMsgType = 0
	ControlMsgPong  ControlMsgType = 1
	ControlMsgClose ControlMsgType = 2
)

// String returns the control message type name.
func (c ControlMsgType) String() string {
	switch c {
	case ControlMsgPing:
		return "PING"
	case ControlMsgPong:
		return "PONG"
	case ControlMsgClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}

// SyncEvent captures one step of inbox reconciliation.
type SyncEvent struct {
	// Action is the step taken (see Sync* constants).
	Action string `cbor:"1,keyasint"`

	// Page is the page the step concerns.
	Page int `cbor:"2,keyasint,omitempty"`

	// Items is the number of items a fetch returned.
	Items int `cbor:"3,keyasint,omitempty"`

	// Pending is the new-message badge count after the step.
	Pending int `cbor:"4,keyasint,omitempty"`
}

// Sync actions.
const (
	SyncNotified  = "notified"
	SyncFetch     = "fetch"
	SyncFetched   = "fetched"
	SyncFallback  = "fallback"
	SyncSettled   = "settled"
	SyncAbandoned = "abandoned"
	SyncBadge     = "badge"
	SyncPoll      = "poll"
)
