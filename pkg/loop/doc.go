// Package loop provides the single event loop that serializes all work of
// the notification core.
//
// Transport events, fetch completions and timer firings are posted onto one
// Loop and executed one at a time, so component state owned by the loop
// needs no locking.
//
// # Suspension Points
//
// Blocking work (dialing, reading the socket, HTTP fetches, permission
// prompts) runs in goroutines started with Go. The work function returns a
// continuation that is posted back onto the loop:
//
//	l.Go(func(ctx context.Context) func() {
//	    page, err := fetcher.FetchPage(ctx, account, 1)
//	    return func() { c.applyPage(page, err) }
//	})
//
// # Timers
//
// AfterFunc schedules a callback on the loop. A timer that is stopped before
// its callback runs never executes, even if the underlying clock already
// fired. Tests drive timers with ManualClock and drain the loop with Drain.
package loop
