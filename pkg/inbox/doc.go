// Package inbox reconciles the visible inbox page with new-mail
// notifications.
//
// Every notification increments the new-message badge. On page 1 the
// Coordinator runs a reconciliation cycle:
//
//	notified ── settle 200ms ──> fetch page 1 ──> items? ──yes──> settled
//	                                                 │
//	                                                 no / error
//	                                                 │
//	                                    fallback 1s ──> fetch page 1 ──> settled
//
// Settling clears the refreshing flag and the badge. On any other page no
// fetch happens; the badge grows and the view reports that new messages are
// available. Navigating to page 1 clears the badge at once.
//
// One cycle runs at a time. A notification arriving during a cycle requests
// a single follow-up cycle. A cycle whose view has left page 1 is abandoned
// at its next step and leaves the badge alone. Every timer reads the current
// view when it fires.
//
// All Coordinator methods must be called on the event loop.
package inbox
