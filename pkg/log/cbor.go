package log

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// A capture file is a plain sequence of CBOR data items, one Event each,
// with no header or length prefix between them.

// maxEventNesting bounds how deep a decoded event may nest. Events are at
// most three levels deep; anything deeper is a corrupt file.
const maxEventNesting = 16

// captureCodec holds the encode and decode modes for capture files.
type captureCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var capture = mustCaptureCodec()

func newCaptureCodec() (captureCodec, error) {
	// Core deterministic ordering makes identical events byte-identical,
	// which keeps captures diffable.
	enc, err := cbor.EncOptions{
		Sort:          cbor.SortCoreDeterministic,
		ShortestFloat: cbor.ShortestFloat16,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		return captureCodec{}, fmt.Errorf("capture encoder: %w", err)
	}

	// Frame text is cut at MaxFrameCapture bytes and may end inside a
	// UTF-8 sequence, so invalid text must still decode.
	dec, err := cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyQuiet,
		IndefLength:     cbor.IndefLengthAllowed,
		MaxNestedLevels: maxEventNesting,
		UTF8:            cbor.UTF8DecodeInvalid,
	}.DecMode()
	if err != nil {
		return captureCodec{}, fmt.Errorf("capture decoder: %w", err)
	}
	return captureCodec{enc: enc, dec: dec}, nil
}

func mustCaptureCodec() captureCodec {
	c, err := newCaptureCodec()
	if err != nil {
		panic(err)
	}
	return c
}

// EncodeEvent encodes a single capture event.
func EncodeEvent(event Event) ([]byte, error) {
	return capture.enc.Marshal(event)
}

// DecodeEvent decodes a single capture event. Trailing bytes after the
// event are an error.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := capture.dec.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("decode capture event: %w", err)
	}
	return event, nil
}

// NewEncoder returns a streaming encoder appending events to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return capture.enc.NewEncoder(w)
}

// NewDecoder returns a streaming decoder reading consecutive events from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return capture.dec.NewDecoder(r)
}
