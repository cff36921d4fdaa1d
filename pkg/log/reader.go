package log

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter specifies criteria for filtering capture events.
// Empty/nil fields match all events for that criterion.
type Filter struct {
	// ConnectionID filters by exact connection ID match.
	ConnectionID string

	Direction *Direction
	Layer     *Layer
	Category  *Category

	// TimeStart filters events at or after this time.
	TimeStart *time.Time

	// TimeEnd filters events before this time.
	TimeEnd *time.Time

	AccountID string
	Mailbox   string

	// EventName filters MessageEvents by socket.io event name.
	EventName string
}

// Matches returns true if the event matches all filter criteria.
func (f *Filter) Matches(event Event) bool {
	if f.ConnectionID != "" && event.ConnectionID != f.ConnectionID {
		return false
	}
	if f.Direction != nil && event.Direction != *f.Direction {
		return false
	}
	if f.Layer != nil && event.Layer != *f.Layer {
		return false
	}
	if f.Category != nil && event.Category != *f.Category {
		return false
	}
	if f.TimeStart != nil && event.Timestamp.Before(*f.TimeStart) {
		return false
	}
	if f.TimeEnd != nil && !event.Timestamp.Before(*f.TimeEnd) {
		return false
	}
	if f.AccountID != "" && event.AccountID != f.AccountID {
		return false
	}
	if f.Mailbox != "" && event.Mailbox != f.Mailbox {
		return false
	}
	if f.EventName != "" && (event.Message == nil || event.Message.Event != f.EventName) {
		return false
	}
	return true
}

// Reader streams capture events from a CBOR-encoded file. The file may
// still be appended to by a running client; a partially written final
// record ends the stream like io.EOF and is reported by Truncated.
type Reader struct {
	file      *os.File
	decoder   *cbor.Decoder
	filter    Filter
	read      int
	truncated bool
}

// NewReader creates a Reader that reads all events from path.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader creates a Reader that returns only events matching
// filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{
		file:    f,
		decoder: NewDecoder(f),
		filter:  filter,
	}, nil
}

// Next returns the next matching event, or io.EOF at the end of the file.
func (r *Reader) Next() (Event, error) {
	for {
		var event Event
		err := r.decoder.Decode(&event)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return Event{}, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			r.truncated = true
			return Event{}, io.EOF
		default:
			return Event{}, fmt.Errorf("decode event %d: %w", r.read+1, err)
		}

		r.read++
		if r.filter.Matches(event) {
			return event, nil
		}
	}
}

// Read returns the number of events decoded so far, including those the
// filter skipped.
func (r *Reader) Read() int {
	return r.read
}

// Truncated reports whether the stream ended in a partial record.
func (r *Reader) Truncated() bool {
	return r.truncated
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
