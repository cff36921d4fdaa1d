package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Errors returned by the codec.
var (
	ErrEmptyFrame     = errors.New("empty frame")
	ErrUnknownPacket  = errors.New("unknown packet type")
	ErrMalformedEvent = errors.New("malformed event packet")
)

// EngineType is the Engine.IO packet type (first byte of every frame).
type EngineType byte

const (
	EngineOpen    EngineType = '0'
	EngineClose   EngineType = '1'
	EnginePing    EngineType = '2'
	EnginePong    EngineType = '3'
	EngineMessage EngineType = '4'
	EngineUpgrade EngineType = '5'
	EngineNoop    EngineType = '6'
)

// String returns the packet type name.
func (t EngineType) String() string {
	switch t {
	case EngineOpen:
		return "OPEN"
	case EngineClose:
		return "CLOSE"
	case EnginePing:
		return "PING"
	case EnginePong:
		return "PONG"
	case EngineMessage:
		return "MESSAGE"
	case EngineUpgrade:
		return "UPGRADE"
	case EngineNoop:
		return "NOOP"
	default:
		return "UNKNOWN"
	}
}

// IsValid returns true if t is a known Engine.IO packet type.
func (t EngineType) IsValid() bool {
	return t >= EngineOpen && t <= EngineNoop
}

// PacketType is the socket.io packet type carried inside an Engine.IO
// message.
type PacketType byte

const (
	PacketConnect      PacketType = '0'
	PacketDisconnect   PacketType = '1'
	PacketEvent        PacketType = '2'
	PacketAck          PacketType = '3'
	PacketConnectError PacketType = '4'
)

// String returns the packet type name.
func (t PacketType) String() string {
	switch t {
	case PacketConnect:
		return "CONNECT"
	case PacketDisconnect:
		return "DISCONNECT"
	case PacketEvent:
		return "EVENT"
	case PacketAck:
		return "ACK"
	case PacketConnectError:
		return "CONNECT_ERROR"
	default:
		return "UNKNOWN"
	}
}

// OpenParams is the payload of the Engine.IO open packet.
type OpenParams struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int64    `json:"pingInterval"`
	PingTimeout  int64    `json:"pingTimeout"`
	MaxPayload   int64    `json:"maxPayload,omitempty"`
}

// HeartbeatInterval returns the server ping interval.
func (p OpenParams) HeartbeatInterval() time.Duration {
	return time.Duration(p.PingInterval) * time.Millisecond
}

// HeartbeatTimeout returns how long the server waits for a pong.
func (p OpenParams) HeartbeatTimeout() time.Duration {
	return time.Duration(p.PingTimeout) * time.Millisecond
}

// Frame is one decoded WebSocket text frame.
type Frame struct {
	Engine EngineType

	// Open is set for EngineOpen frames.
	Open *OpenParams

	// Packet is set for EngineMessage frames.
	Packet *Packet

	// Raw is the payload after the Engine.IO type byte.
	Raw string
}

// Packet is a socket.io packet on the default namespace.
type Packet struct {
	Type PacketType

	// Event is the event name for PacketEvent.
	Event string

	// Data is the first event argument for PacketEvent, or the JSON body of
	// PacketConnect and PacketConnectError. Nil when absent.
	Data json.RawMessage
}

// ErrorMessage extracts the "message" field of a connect error payload.
func (p *Packet) ErrorMessage() string {
	if p == nil || len(p.Data) == 0 {
		return ""
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(p.Data, &body); err != nil {
		return strings.Trim(string(p.Data), `"`)
	}
	return body.Message
}

// DecodeFrame parses a WebSocket text frame.
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, ErrEmptyFrame
	}

	f := Frame{Engine: EngineType(data[0]), Raw: string(data[1:])}
	if !f.Engine.IsValid() {
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownPacket, data[0])
	}

	switch f.Engine {
	case EngineOpen:
		var params OpenParams
		if err := json.Unmarshal(data[1:], &params); err != nil {
			return Frame{}, fmt.Errorf("decode open packet: %w", err)
		}
		f.Open = &params
	case EngineMessage:
		p, err := decodePacket(data[1:])
		if err != nil {
			return Frame{}, err
		}
		f.Packet = p
	}
	return f, nil
}

func decodePacket(data []byte) (*Packet, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}

	p := &Packet{Type: PacketType(data[0])}
	body := data[1:]

	// Namespace prefix ("/admin,") is only present for non-default namespaces.
	if len(body) > 0 && body[0] == '/' {
		if i := strings.IndexByte(string(body), ','); i >= 0 {
			body = body[i+1:]
		} else {
			body = nil
		}
	}
	// Ack id digits precede the payload of events that expect an ack.
	if p.Type == PacketEvent || p.Type == PacketAck {
		for len(body) > 0 && body[0] >= '0' && body[0] <= '9' {
			body = body[1:]
		}
	}

	switch p.Type {
	case PacketConnect, PacketConnectError:
		if len(body) > 0 {
			p.Data = json.RawMessage(body)
		}
	case PacketDisconnect:
	case PacketEvent, PacketAck:
		var args []json.RawMessage
		if err := json.Unmarshal(body, &args); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if p.Type == PacketEvent {
			if len(args) == 0 {
				return nil, fmt.Errorf("%w: missing event name", ErrMalformedEvent)
			}
			if err := json.Unmarshal(args[0], &p.Event); err != nil {
				return nil, fmt.Errorf("%w: event name: %v", ErrMalformedEvent, err)
			}
			args = args[1:]
		}
		if len(args) > 0 {
			p.Data = args[0]
		}
	default:
		return nil, fmt.Errorf("%w: socket.io %q", ErrUnknownPacket, data[0])
	}
	return p, nil
}

// EncodeEvent encodes an event packet: 42["event",payload]. A nil payload
// produces 42["event"].
func EncodeEvent(event string, payload any) ([]byte, error) {
	args := []any{event}
	if payload != nil {
		args = append(args, payload)
	}
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", event, err)
	}
	return append([]byte{byte(EngineMessage), byte(PacketEvent)}, body...), nil
}

// EncodeConnect encodes the namespace connect packet sent after the engine
// open. auth may be nil.
func EncodeConnect(auth any) ([]byte, error) {
	out := []byte{byte(EngineMessage), byte(PacketConnect)}
	if auth == nil {
		return out, nil
	}
	body, err := json.Marshal(auth)
	if err != nil {
		return nil, fmt.Errorf("encode connect: %w", err)
	}
	return append(out, body...), nil
}

// EncodeEngine encodes a bare Engine.IO packet such as a pong.
func EncodeEngine(t EngineType) []byte {
	return []byte{byte(t)}
}
