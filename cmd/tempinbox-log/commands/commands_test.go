package commands

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/tempinbox/tempinbox-go/pkg/log"
)

// createTestLogFile writes events to a capture file in a temp dir.
func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.tlog")

	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("failed to close logger: %v", err)
	}
	return path
}

// sessionEvents is a short capture of one connection binding an account and
// receiving a notification.
func sessionEvents() []log.Event {
	ts := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	conn := "c0ffee00-1111-2222-3333-444455556666"
	return []log.Event{
		{
			Timestamp: ts, ConnectionID: conn,
			Direction: log.DirectionLocal, Layer: log.LayerTransport, Category: log.CategoryState,
			StateChange: &log.StateChangeEvent{Entity: log.StateEntityConnection, OldState: "CONNECTING", NewState: "CONNECTED"},
		},
		{
			Timestamp: ts.Add(100 * time.Millisecond), ConnectionID: conn,
			Direction: log.DirectionOut, Layer: log.LayerTransport, Category: log.CategoryMessage,
			AccountID: "42",
			Message:   &log.MessageEvent{Event: "authenticate", Payload: `{"userId":"42"}`},
		},
		{
			Timestamp: ts.Add(200 * time.Millisecond), ConnectionID: conn,
			Direction: log.DirectionIn, Layer: log.LayerTransport, Category: log.CategoryMessage,
			AccountID: "42", Mailbox: "box@example.com",
			Message: &log.MessageEvent{Event: "new_email_notification", Payload: `{"subject":"hi"}`},
		},
		{
			Timestamp: ts.Add(300 * time.Millisecond),
			Direction: log.DirectionLocal, Layer: log.LayerInbox, Category: log.CategorySync,
			AccountID: "42",
			Sync:      &log.SyncEvent{Action: log.SyncFetched, Page: 1, Items: 10},
		},
		{
			Timestamp: ts.Add(2 * time.Second), ConnectionID: conn,
			Direction: log.DirectionIn, Layer: log.LayerTransport, Category: log.CategoryControl,
			ControlMsg: &log.ControlMsgEvent{Type: log.ControlMsgClose, Reason: "transport close"},
		},
		{
			Timestamp: ts.Add(3 * time.Second),
			Direction: log.DirectionLocal, Layer: log.LayerInbox, Category: log.CategoryError,
			Error: &log.ErrorEventData{Layer: log.LayerInbox, Message: "fetch failed", Context: "page 2"},
		},
	}
}
