// Package notify shows new-mail notifications through the desktop
// notification service.
//
// Permission is platform state. The Presenter reads it on every attempt and
// never caches it:
//
//	Granted  show now, auto-dismiss after 5s, focus on click
//	Default  request once; show only if the answer is Granted
//	Denied   never show, never prompt
//
// At most one permission request is in flight. Notifications arriving while
// it is pending are not shown.
package notify
