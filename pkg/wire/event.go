package wire

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Application event names.
const (
	EventAuthenticate  = "authenticate"
	EventAuthenticated = "authenticated"
	EventJoinEmailRoom = "join_email_room"
	EventNewEmail      = "new_email_notification"
	EventPing          = "ping"
	EventPong          = "pong"
)

// Disconnect reasons. The first two are intentional and must not trigger a
// reconnect.
const (
	ReasonServerDisconnect = "io server disconnect"
	ReasonClientDisconnect = "io client disconnect"
	ReasonTransportClose   = "transport close"
	ReasonTransportError   = "transport error"
	ReasonPingTimeout      = "ping timeout"
)

// IsIntentional reports whether a disconnect or connect error reason means
// the session was ended on purpose. A connect error mentioning websocket
// means the server refuses the transport altogether.
func IsIntentional(reason string) bool {
	switch reason {
	case ReasonServerDisconnect, ReasonClientDisconnect:
		return true
	}
	return strings.Contains(strings.ToLower(reason), "websocket")
}

// Identity binds a user to a transport session.
type Identity struct {
	UserID string `json:"userId"`
	Token  string `json:"token,omitempty"`
}

// IsZero returns true if no user is set.
func (i Identity) IsZero() bool {
	return i.UserID == ""
}

// Notification is the payload of new_email_notification. All fields are
// optional. Integer UIDs are carried in their decimal form.
type Notification struct {
	Subject string `json:"subject,omitempty"`
	From    string `json:"from,omitempty"`
	UID     string `json:"uid,omitempty"`
}

// ErrInvalidNotification is returned when a payload fails schema validation.
var ErrInvalidNotification = errors.New("invalid notification payload")

//go:embed notification.schema.json
var notificationSchemaJSON []byte

var notificationSchema *jsonschema.Schema

func init() {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(notificationSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("failed to parse notification schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("notification.schema.json", doc); err != nil {
		panic(fmt.Sprintf("failed to add notification schema: %v", err))
	}
	notificationSchema, err = c.Compile("notification.schema.json")
	if err != nil {
		panic(fmt.Sprintf("failed to compile notification schema: %v", err))
	}
}

// DecodeNotification validates and decodes a new_email_notification
// payload. A missing payload yields an empty Notification.
func DecodeNotification(data json.RawMessage) (Notification, error) {
	var n Notification
	if len(data) == 0 || string(data) == "null" {
		return n, nil
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	if err := notificationSchema.Validate(inst); err != nil {
		return n, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}

	var raw struct {
		Subject *string `json:"subject"`
		From    *string `json:"from"`
		UID     any     `json:"uid"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return n, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	if raw.Subject != nil {
		n.Subject = *raw.Subject
	}
	if raw.From != nil {
		n.From = *raw.From
	}
	switch uid := raw.UID.(type) {
	case string:
		n.UID = uid
	case json.Number:
		n.UID = uid.String()
	}
	return n, nil
}
