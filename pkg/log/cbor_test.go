package log

import (
	"bytes"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestEventCBORRoundTrip(t *testing.T) {
	ts := time.Date(2026, 10, 18, 9, 30, 1, 123456789, time.UTC)
	original := Event{
		Timestamp:    ts,
		ConnectionID: "c0ffee00-0000-4000-8000-000000000001",
		Direction:    DirectionIn,
		Layer:        LayerTransport,
		Category:     CategoryMessage,
		AccountID:    "42",
		Mailbox:      "box@example.com",
		Message:      &MessageEvent{Event: "new_email_notification", Payload: `{"subject":"Hi"}`},
	}

	data, err := EncodeEvent(original)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}

	if !decoded.Timestamp.Equal(ts) {
		t.Errorf("Timestamp: got %v, want %v", decoded.Timestamp, ts)
	}
	if decoded.ConnectionID != original.ConnectionID || decoded.AccountID != "42" || decoded.Mailbox != original.Mailbox {
		t.Errorf("identity fields: got %+v", decoded)
	}
	if decoded.Message == nil || decoded.Message.Event != "new_email_notification" || decoded.Message.Payload != `{"subject":"Hi"}` {
		t.Errorf("Message: got %+v", decoded.Message)
	}
	if decoded.Frame != nil || decoded.Error != nil {
		t.Error("unset payloads should stay nil")
	}
}

func TestEncodeEventDeterministic(t *testing.T) {
	event := Event{
		Timestamp: time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC),
		Direction: DirectionLocal,
		Layer:     LayerInbox,
		Category:  CategorySync,
		Mailbox:   "box@example.com",
	}
	a, err := EncodeEvent(event)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	b, err := EncodeEvent(event)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("identical events should encode to identical bytes")
	}
}

func TestDecodeTruncatedFrameText(t *testing.T) {
	// "é" is two bytes; the cut lands between them.
	frame := []byte(strings.Repeat("a", MaxFrameCapture-1) + "é")
	event := Event{
		Timestamp: time.Now().UTC(),
		Category:  CategoryMessage,
		Frame:     NewFrameEvent(frame),
	}
	if !event.Frame.Truncated || utf8.ValidString(event.Frame.Data) {
		t.Fatal("fixture should hold invalid UTF-8 after truncation")
	}

	data, err := EncodeEvent(event)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	if decoded.Frame == nil || decoded.Frame.Data != event.Frame.Data {
		t.Error("frame text should survive byte for byte")
	}
	if decoded.Frame.Size != len(frame) {
		t.Errorf("Size: got %d, want %d", decoded.Frame.Size, len(frame))
	}
}

func TestDecodeEventRejectsTrailingData(t *testing.T) {
	data, err := EncodeEvent(Event{Timestamp: time.Now().UTC()})
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	if _, err := DecodeEvent(append(data, 0x00)); err == nil {
		t.Error("expected error for trailing bytes")
	}
	if _, err := DecodeEvent(data[:len(data)-1]); err == nil {
		t.Error("expected error for a cut event")
	}
}

func TestStreamDecoderReadsConsecutiveEvents(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, id := range []string{"one", "two"} {
		if err := enc.Encode(Event{Timestamp: time.Now().UTC(), ConnectionID: id}); err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
	}

	dec := NewDecoder(&buf)
	var got []string
	for i := 0; i < 2; i++ {
		var e Event
		if err := dec.Decode(&e); err != nil {
			t.Fatalf("Decode %d failed: %v", i, err)
		}
		got = append(got, e.ConnectionID)
	}
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Errorf("got %v", got)
	}
}
