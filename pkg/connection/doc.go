// Package connection provides the connection state machine and reconnect
// policy for the realtime notification transport.
//
// # States
//
//	Disconnected -> Connecting -> Connected -> Authenticated -> Subscribed
//
// Any state may fall back to Disconnected when the transport drops. Disabled
// is terminal: it is entered on an intentional disconnect, on an explicit
// Disconnect call, or once the reconnect budget is exhausted.
//
// # Reconnection Strategy
//
// When a connect attempt fails or an established session drops for a
// transient reason, the transport waits before the next attempt:
//
//  1. Initial delay: 1 second
//  2. Exponential increase: 2s, 4s, 8s, 16s
//  3. Maximum delay: 30 seconds
//  4. After MaxAttempts (5) consecutive failures the next failure disables
//     the transport
//  5. Reset to 1s and zero attempts on a successful connect
//
// Jitter is off by default so the observed delay sequence is exact. It can
// be enabled through PolicyConfig:
//
//	actual_delay = base_delay + random(0, base_delay * jitter)
package connection
