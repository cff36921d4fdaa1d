// Package subscription joins the mailbox room that carries new-mail
// notifications.
//
// A transport session carries at most one room. Joining requires a ready
// transport and an acknowledged identity; a join attempted earlier is a
// logged no-op so the caller can poll.
//
// Rooms do NOT survive connection loss. On reconnect the room must be
// joined again once the identity has been re-acknowledged.
package subscription
