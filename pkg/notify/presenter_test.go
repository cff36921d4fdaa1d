package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tempinbox/tempinbox-go/pkg/loop"
	"github.com/tempinbox/tempinbox-go/pkg/wire"
)

type mockPlatform struct {
	mock.Mock
}

func (m *mockPlatform) Permission() Permission {
	return m.Called().Get(0).(Permission)
}

func (m *mockPlatform) RequestPermission(ctx context.Context) (Permission, error) {
	args := m.Called(ctx)
	return args.Get(0).(Permission), args.Error(1)
}

func (m *mockPlatform) Show(ctx context.Context, title, body string, opts ShowOptions) error {
	return m.Called(ctx, title, body, opts).Error(0)
}

func newTestPresenter(t *testing.T, platform Platform) (*Presenter, *loop.Loop, *[]Outcome) {
	t.Helper()
	l := loop.New(loop.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)), nil)
	t.Cleanup(l.Close)
	p := NewPresenter(l, platform, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	var outcomes []Outcome
	p.OnOutcome(func(o Outcome) { outcomes = append(outcomes, o) })
	return p, l, &outcomes
}

var welcome = wire.Notification{Subject: "Welcome", From: "team@example.com", UID: "42"}

func TestTitleAndBody(t *testing.T) {
	tests := []struct {
		n     wire.Notification
		title string
		body  string
	}{
		{welcome, "New Email: Welcome", "From: team@example.com"},
		{wire.Notification{}, "New Email: New Message", "From: Unknown sender"},
	}
	for _, tt := range tests {
		if got := Title(tt.n); got != tt.title {
			t.Errorf("Title(%+v) = %q, want %q", tt.n, got, tt.title)
		}
		if got := Body(tt.n); got != tt.body {
			t.Errorf("Body(%+v) = %q, want %q", tt.n, got, tt.body)
		}
	}
}

func TestEmitGranted(t *testing.T) {
	platform := &mockPlatform{}
	platform.On("Permission").Return(PermissionGranted)
	platform.On("Show", mock.Anything, "New Email: Welcome", "From: team@example.com",
		mock.MatchedBy(func(o ShowOptions) bool {
			return o.Tag == "42" && o.Timeout == 5*time.Second
		})).Return(nil).Once()

	p, l, outcomes := newTestPresenter(t, platform)
	p.Emit(welcome)
	l.Drain()

	platform.AssertExpectations(t)
	platform.AssertNotCalled(t, "RequestPermission", mock.Anything)
	assert.Equal(t, []Outcome{OutcomeShown}, *outcomes)
}

func TestEmitDenied(t *testing.T) {
	platform := &mockPlatform{}
	platform.On("Permission").Return(PermissionDenied)

	p, l, outcomes := newTestPresenter(t, platform)
	p.Emit(welcome)
	p.Emit(welcome)
	l.Drain()

	platform.AssertNotCalled(t, "RequestPermission", mock.Anything)
	platform.AssertNotCalled(t, "Show", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, []Outcome{OutcomeDenied, OutcomeDenied}, *outcomes)
}

func TestEmitDefaultRequestsThenShows(t *testing.T) {
	platform := &mockPlatform{}
	platform.On("Permission").Return(PermissionDefault)
	platform.On("RequestPermission", mock.Anything).Return(PermissionGranted, nil).Once()
	platform.On("Show", mock.Anything, "New Email: Welcome", mock.Anything, mock.Anything).Return(nil).Once()

	p, l, outcomes := newTestPresenter(t, platform)
	p.Emit(welcome)
	l.Drain()

	platform.AssertExpectations(t)
	assert.False(t, p.Requesting())
	assert.Equal(t, []Outcome{OutcomeShown}, *outcomes)
}

func TestEmitDefaultRequestRefused(t *testing.T) {
	platform := &mockPlatform{}
	platform.On("Permission").Return(PermissionDefault)
	platform.On("RequestPermission", mock.Anything).Return(PermissionDenied, nil).Once()

	p, l, outcomes := newTestPresenter(t, platform)
	p.Emit(welcome)
	l.Drain()

	platform.AssertNotCalled(t, "Show", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, []Outcome{OutcomeDenied}, *outcomes)
}

func TestEmitSingleRequestInFlight(t *testing.T) {
	release := make(chan struct{})
	platform := &mockPlatform{}
	platform.On("Permission").Return(PermissionDefault)
	platform.On("RequestPermission", mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(PermissionGranted, nil).Once()
	platform.On("Show", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	p, l, outcomes := newTestPresenter(t, platform)
	p.Emit(welcome)
	require.True(t, p.Requesting())
	p.Emit(wire.Notification{Subject: "second"})
	assert.Equal(t, []Outcome{OutcomeDropped}, *outcomes)

	close(release)
	l.Drain()

	platform.AssertExpectations(t)
	assert.Equal(t, []Outcome{OutcomeDropped, OutcomeShown}, *outcomes)
}

func TestEmitRequestError(t *testing.T) {
	platform := &mockPlatform{}
	platform.On("Permission").Return(PermissionDefault)
	platform.On("RequestPermission", mock.Anything).Return(PermissionDefault, errors.New("no tty")).Once()

	p, l, outcomes := newTestPresenter(t, platform)
	p.Emit(welcome)
	l.Drain()

	assert.False(t, p.Requesting())
	assert.Equal(t, []Outcome{OutcomeFailed}, *outcomes)
}

func TestEmitShowFailure(t *testing.T) {
	platform := &mockPlatform{}
	platform.On("Permission").Return(PermissionGranted)
	platform.On("Show", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(ErrUnavailable)

	p, l, outcomes := newTestPresenter(t, platform)
	p.Emit(welcome)
	l.Drain()

	assert.Equal(t, []Outcome{OutcomeFailed}, *outcomes)
}

func TestEmitClickFocuses(t *testing.T) {
	platform := &mockPlatform{}
	platform.On("Permission").Return(PermissionGranted)
	platform.On("Show", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			opts := args.Get(3).(ShowOptions)
			opts.OnClick()
		}).Return(nil)

	p, l, _ := newTestPresenter(t, platform)
	focused := 0
	p.Focus = func() { focused++ }
	p.Emit(welcome)
	l.Drain()

	assert.Equal(t, 1, focused)
}

func TestPermissionReadPerAttempt(t *testing.T) {
	platform := &mockPlatform{}
	platform.On("Permission").Return(PermissionDenied).Once()
	platform.On("Permission").Return(PermissionGranted).Once()
	platform.On("Show", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	p, l, outcomes := newTestPresenter(t, platform)
	p.Emit(welcome)
	p.Emit(welcome)
	l.Drain()

	platform.AssertExpectations(t)
	assert.Equal(t, []Outcome{OutcomeDenied, OutcomeShown}, *outcomes)
}
