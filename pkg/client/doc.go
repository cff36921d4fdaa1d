// Package client assembles the notification core into one facade.
//
// A Client owns one event loop and exactly one of each component:
//
//	Transport ──▶ AuthSession ──▶ RoomSubscription
//	    │              ╲               ╱
//	    │               Binder (account from persistence)
//	    ▼
//	Dispatcher ──▶ Coordinator (inbox view)
//	    └────────▶ Presenter   (OS notification)
//
// Every exported method is safe for concurrent use; work is posted onto
// the loop.
package client
