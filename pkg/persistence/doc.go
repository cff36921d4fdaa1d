// Package persistence reads the current account from the JSON file owned by
// the external account manager, and watches it for changes.
//
// The file records which mailbox the client shows:
//
//	{
//	  "version": 1,
//	  "lastUpdated": "2026-10-18T09:00:00Z",
//	  "currentAccount": {"id": "...", "email": "...", "token": "..."}
//	}
//
// Writes are atomic (temp file and rename) so a watcher never sees a
// partial file.
package persistence
