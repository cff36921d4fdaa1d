// Package transport provides the realtime push transport.
//
// The transport keeps one socket.io session open to the mail server and
// delivers inbound events to handlers registered with Handle. It owns the
// connection state machine from package connection and reconnects with
// exponential backoff after transient failures.
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│   Application events (JSON)    │
//	├────────────────────────────────┤
//	│        socket.io v4            │
//	├────────────────────────────────┤
//	│        Engine.IO v4            │
//	├────────────────────────────────┤
//	│          WebSocket             │
//	└────────────────────────────────┘
//
// # Threading
//
// A Transport is confined to a loop.Loop. All methods must be called from
// the loop; dial, read and write run in their own goroutines and post their
// results back.
//
// # Keep-Alive
//
// Connection liveness is monitored with ping/pong events:
//   - Ping interval: 25 seconds
//   - Max missed pongs: 3
//   - Maximum detection delay: 100 seconds
//
// Engine.IO heartbeats sent by the server are answered by the connection
// itself and are independent of the event level keep-alive.
package transport
