// Package sessiontest provides an in-memory transport channel for testing
// the session and subscription layers.
package sessiontest

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tempinbox/tempinbox-go/pkg/connection"
)

// Emitted is one recorded outbound event.
type Emitted struct {
	Event   string
	Payload any
}

// Channel is a fake transport. It is not safe for concurrent use; tests
// drive it from a single goroutine the way the loop drives the real one.
type Channel struct {
	state    connection.State
	sessions int

	// EmitErr, when set, is returned by Emit.
	EmitErr error

	emitted        []Emitted
	handlers       map[string][]func(json.RawMessage)
	onConnected    []func()
	onDisconnected []func(string)
}

// NewChannel returns a disconnected channel.
func NewChannel() *Channel {
	return &Channel{handlers: make(map[string][]func(json.RawMessage))}
}

// IsReady implements the channel interface.
func (c *Channel) IsReady() bool { return c.state.IsConnected() }

// State implements the channel interface.
func (c *Channel) State() connection.State { return c.state }

// ConnectionID implements the channel interface.
func (c *Channel) ConnectionID() string {
	if !c.state.IsConnected() {
		return ""
	}
	return fmt.Sprintf("conn-%d", c.sessions)
}

// Emit records the event.
func (c *Channel) Emit(event string, payload any) error {
	if !c.IsReady() {
		return connection.ErrNotReady
	}
	if c.EmitErr != nil {
		return c.EmitErr
	}
	c.emitted = append(c.emitted, Emitted{Event: event, Payload: payload})
	return nil
}

// Handle implements the channel interface.
func (c *Channel) Handle(event string, fn func(json.RawMessage)) {
	c.handlers[event] = append(c.handlers[event], fn)
}

// OnConnected implements the channel interface.
func (c *Channel) OnConnected(fn func()) { c.onConnected = append(c.onConnected, fn) }

// OnDisconnected implements the channel interface.
func (c *Channel) OnDisconnected(fn func(string)) {
	c.onDisconnected = append(c.onDisconnected, fn)
}

// SetSessionState implements the channel interface.
func (c *Channel) SetSessionState(s connection.State) error {
	if !c.IsReady() || !s.IsConnected() {
		return errors.Join(connection.ErrInvalidState, fmt.Errorf("%s -> %s", c.state, s))
	}
	c.state = s
	return nil
}

// Connect opens a new session and runs the connected hooks.
func (c *Channel) Connect() {
	c.sessions++
	c.state = connection.StateConnected
	for _, fn := range c.onConnected {
		fn()
	}
}

// Drop ends the session with reason and runs the disconnected hooks.
func (c *Channel) Drop(reason string) {
	c.state = connection.StateDisconnected
	for _, fn := range c.onDisconnected {
		fn(reason)
	}
}

// Disable ends the session for good.
func (c *Channel) Disable(reason string) {
	c.Drop(reason)
	c.state = connection.StateDisabled
}

// Deliver runs the handlers for an inbound event.
func (c *Channel) Deliver(event string, data string) {
	for _, fn := range c.handlers[event] {
		fn(json.RawMessage(data))
	}
}

// Emitted returns the recorded events.
func (c *Channel) Emitted() []Emitted {
	return append([]Emitted(nil), c.emitted...)
}

// Events returns the names of the recorded events.
func (c *Channel) Events() []string {
	names := make([]string, len(c.emitted))
	for i, e := range c.emitted {
		names[i] = e.Event
	}
	return names
}

// Reset clears the recorded events.
func (c *Channel) Reset() { c.emitted = nil }
