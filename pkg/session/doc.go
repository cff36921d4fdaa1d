// Package session binds an identity and a mailbox topic to the realtime
// transport.
//
// AuthSession emits authenticate once per transport session and replays the
// stored identity after every reconnect. The server acknowledges with
// authenticated, which moves the transport to Authenticated.
//
// Binder drives the whole binding for one account. It never queues calls
// while the transport is down; instead it polls readiness on a fixed
// interval with a bounded number of polls:
//
//	poll IsReady every 500ms ──> Authenticate ──> wait 1s grace ──> Subscribe
//	        │                                                         │
//	        └─ 60 polls without progress: OnGiveUp(ErrBindTimeout) ◄──┘
//
// A reconnect clears the authenticated and subscribed state. The identity is
// replayed by AuthSession and Binder re-runs the subscribe phase.
package session
