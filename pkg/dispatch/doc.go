// Package dispatch fans new-mail notifications out to registered observers.
//
// Observers run synchronously on the event loop in registration order. A
// failing or panicking observer is isolated: the error is logged, counted
// and reported through OnObserverError, and the remaining observers still
// run. After the fan-out the optional Presenter shows an OS notification.
package dispatch
