package log

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func createTestCapture(t *testing.T, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.tlog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create capture file: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()

	return path
}

func readAll(t *testing.T, r *Reader) []Event {
	t.Helper()
	var events []Event
	for {
		event, err := r.Next()
		if errors.Is(err, io.EOF) {
			return events
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		events = append(events, event)
	}
}

func testEvents(base time.Time) []Event {
	return []Event{
		{Timestamp: base, ConnectionID: "conn-1", Direction: DirectionOut, Layer: LayerTransport, Category: CategoryMessage,
			Message: &MessageEvent{Event: "authenticate"}},
		{Timestamp: base.Add(time.Second), ConnectionID: "conn-1", Direction: DirectionIn, Layer: LayerTransport, Category: CategoryMessage,
			Message: &MessageEvent{Event: "new_email_notification"}, Mailbox: "a@b.c"},
		{Timestamp: base.Add(2 * time.Second), ConnectionID: "conn-2", Direction: DirectionLocal, Layer: LayerSession, Category: CategoryState,
			StateChange: &StateChangeEvent{Entity: StateEntityAuth, NewState: "AUTHENTICATED"}, AccountID: "acc-1"},
		{Timestamp: base.Add(3 * time.Second), Direction: DirectionLocal, Layer: LayerInbox, Category: CategorySync,
			Sync: &SyncEvent{Action: SyncFetched, Page: 1, Items: 3}, AccountID: "acc-1"},
	}
}

func TestReaderIteratesEventsInOrder(t *testing.T) {
	base := time.Now()
	path := createTestCapture(t, testEvents(base))

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	read := readAll(t, reader)
	if len(read) != 4 {
		t.Fatalf("got %d events, want 4", len(read))
	}
	if read[0].Message.Event != "authenticate" || read[3].Sync.Items != 3 {
		t.Errorf("events out of order or corrupted: %+v", read)
	}
}

func TestReaderFilters(t *testing.T) {
	base := time.Now()
	path := createTestCapture(t, testEvents(base))

	in := DirectionIn
	session := LayerSession
	sync := CategorySync
	start := base.Add(500 * time.Millisecond)
	end := base.Add(2500 * time.Millisecond)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"All", Filter{}, 4},
		{"ConnectionID", Filter{ConnectionID: "conn-1"}, 2},
		{"Direction", Filter{Direction: &in}, 1},
		{"Layer", Filter{Layer: &session}, 1},
		{"Category", Filter{Category: &sync}, 1},
		{"TimeRange", Filter{TimeStart: &start, TimeEnd: &end}, 2},
		{"Account", Filter{AccountID: "acc-1"}, 2},
		{"Mailbox", Filter{Mailbox: "a@b.c"}, 1},
		{"EventName", Filter{EventName: "authenticate"}, 1},
		{"Combined", Filter{ConnectionID: "conn-1", Direction: &in}, 1},
		{"NoMatch", Filter{ConnectionID: "missing"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, err := NewFilteredReader(path, tt.filter)
			if err != nil {
				t.Fatalf("NewFilteredReader failed: %v", err)
			}
			defer reader.Close()

			if got := len(readAll(t, reader)); got != tt.want {
				t.Errorf("got %d events, want %d", got, tt.want)
			}
		})
	}
}

func TestReaderMissingFile(t *testing.T) {
	if _, err := NewReader(filepath.Join(t.TempDir(), "missing.tlog")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestReaderTruncatedTail(t *testing.T) {
	path := createTestCapture(t, testEvents(time.Now()))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// Cut the last record in half, as seen while the client is mid-write.
	if err := os.WriteFile(path, data[:len(data)-5], 0644); err != nil {
		t.Fatal(err)
	}

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	if got := len(readAll(t, reader)); got != 3 {
		t.Errorf("got %d events, want 3", got)
	}
	if !reader.Truncated() {
		t.Error("expected Truncated() to report the partial record")
	}
	if reader.Read() != 3 {
		t.Errorf("Read() = %d, want 3", reader.Read())
	}
}

func TestReaderCountsSkippedEvents(t *testing.T) {
	path := createTestCapture(t, testEvents(time.Now()))

	reader, err := NewFilteredReader(path, Filter{EventName: "authenticate"})
	if err != nil {
		t.Fatalf("NewFilteredReader failed: %v", err)
	}
	defer reader.Close()

	if got := len(readAll(t, reader)); got != 1 {
		t.Errorf("got %d events, want 1", got)
	}
	if reader.Read() != 4 {
		t.Errorf("Read() = %d, want 4", reader.Read())
	}
	if reader.Truncated() {
		t.Error("complete file reported as truncated")
	}
}
