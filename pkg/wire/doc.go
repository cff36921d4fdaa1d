// Package wire defines the realtime wire format used by the notification
// transport.
//
// The server speaks socket.io v4 on top of Engine.IO v4 over a single
// WebSocket. Every WebSocket text frame is one Engine.IO packet whose first
// byte is the packet type. Message packets ('4') carry a socket.io packet
// whose first digit is the socket.io type:
//
//	0{"sid":"...","pingInterval":25000}  engine open
//	2 / 3                                engine ping / pong
//	40{"sid":"..."}                      namespace connect ack
//	41                                   namespace disconnect (server side)
//	42["event",payload]                  event
//	44{"message":"..."}                  connect error
//
// # Events
//
// Application events are named by the Event* constants. Outbound payloads
// are Identity (authenticate) and a plain topic string (join_email_room).
// Inbound new_email_notification payloads decode into Notification and are
// validated against an embedded JSON schema before they reach observers.
package wire
