package subscription

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tempinbox/tempinbox-go/pkg/connection"
	"github.com/tempinbox/tempinbox-go/pkg/log"
	"github.com/tempinbox/tempinbox-go/pkg/session"
	"github.com/tempinbox/tempinbox-go/pkg/session/sessiontest"
	"github.com/tempinbox/tempinbox-go/pkg/wire"
)

type captureRecorder struct {
	events []log.Event
}

func (r *captureRecorder) Log(e log.Event) { r.events = append(r.events, e) }

type fixture struct {
	ch   *sessiontest.Channel
	auth *session.AuthSession
	room *RoomSubscription
	rec  *captureRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ch := sessiontest.NewChannel()
	auth := session.NewAuthSession(ch, logger, nil)
	rec := &captureRecorder{}
	return &fixture{ch: ch, auth: auth, room: NewRoomSubscription(ch, auth, logger, rec), rec: rec}
}

// authenticate connects and acknowledges an identity.
func (f *fixture) authenticate(t *testing.T) {
	t.Helper()
	f.ch.Connect()
	require.True(t, f.auth.Authenticate(wire.Identity{UserID: "u1"}))
	f.ch.Deliver(wire.EventAuthenticated, `{}`)
	require.True(t, f.auth.Authenticated())
	f.ch.Reset()
}

func TestSubscribeNotReady(t *testing.T) {
	f := newFixture(t)

	if f.room.Subscribe("a@example.com") {
		t.Error("Subscribe should fail while disconnected")
	}
	if f.room.Topic() != "" {
		t.Errorf("Topic() = %q, want empty", f.room.Topic())
	}
}

func TestSubscribeRequiresAck(t *testing.T) {
	f := newFixture(t)
	f.ch.Connect()
	require.True(t, f.auth.Authenticate(wire.Identity{UserID: "u1"}))
	f.ch.Reset()

	assert.False(t, f.room.Subscribe("a@example.com"))
	assert.Empty(t, f.ch.Emitted())
}

func TestSubscribeJoinsRoom(t *testing.T) {
	f := newFixture(t)
	f.authenticate(t)

	require.True(t, f.room.Subscribe("a@example.com"))

	emitted := f.ch.Emitted()
	require.Len(t, emitted, 1)
	assert.Equal(t, wire.EventJoinEmailRoom, emitted[0].Event)
	assert.Equal(t, "a@example.com", emitted[0].Payload)
	assert.Equal(t, connection.StateSubscribed, f.ch.State())
	assert.Equal(t, "a@example.com", f.room.Topic())

	require.Len(t, f.rec.events, 1)
	assert.Equal(t, log.StateEntitySubscription, f.rec.events[0].StateChange.Entity)
	assert.Equal(t, "a@example.com", f.rec.events[0].Mailbox)
}

func TestSubscribeSameTopicIdempotent(t *testing.T) {
	f := newFixture(t)
	f.authenticate(t)

	require.True(t, f.room.Subscribe("a@example.com"))
	require.True(t, f.room.Subscribe("a@example.com"))
	assert.Len(t, f.ch.Emitted(), 1)
}

func TestSubscribeOneTopicPerSession(t *testing.T) {
	f := newFixture(t)
	f.authenticate(t)
	require.True(t, f.room.Subscribe("a@example.com"))

	assert.False(t, f.room.Subscribe("b@example.com"), "a second topic is refused")
	assert.Equal(t, "a@example.com", f.room.Topic())

	f.room.Unsubscribe()
	assert.Equal(t, connection.StateAuthenticated, f.ch.State())
	assert.True(t, f.room.Subscribe("b@example.com"))
	assert.Equal(t, []string{wire.EventJoinEmailRoom, wire.EventJoinEmailRoom}, f.ch.Events())
}

func TestSubscriptionClearedOnDisconnect(t *testing.T) {
	f := newFixture(t)
	f.authenticate(t)
	require.True(t, f.room.Subscribe("a@example.com"))

	f.ch.Drop(wire.ReasonTransportClose)
	assert.Empty(t, f.room.Topic())

	f.ch.Connect()
	assert.False(t, f.room.Subscribe("a@example.com"), "the room needs a fresh ack")
	f.ch.Deliver(wire.EventAuthenticated, `{}`)
	assert.True(t, f.room.Subscribe("a@example.com"))
}

func TestUnsubscribeWithoutTopic(t *testing.T) {
	f := newFixture(t)
	f.authenticate(t)

	f.room.Unsubscribe()
	assert.Equal(t, connection.StateAuthenticated, f.ch.State())
	assert.Empty(t, f.rec.events)
}

func TestSubscribeEmptyTopic(t *testing.T) {
	f := newFixture(t)
	f.authenticate(t)
	assert.False(t, f.room.Subscribe(""))
}
