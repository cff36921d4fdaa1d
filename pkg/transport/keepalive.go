package transport

import (
	"time"

	"github.com/tempinbox/tempinbox-go/pkg/loop"
)

// Keep-alive constants.
const (
	// DefaultPingInterval is the default interval between pings.
	DefaultPingInterval = 25 * time.Second

	// DefaultMaxMissedPongs leaves unanswered pings counted but harmless.
	// Engine.IO heartbeats already detect a dead peer.
	DefaultMaxMissedPongs = 0
)

// KeepAliveConfig configures keep-alive behavior.
type KeepAliveConfig struct {
	// PingInterval is the interval between pings. A ping that has not been
	// answered when the next tick fires counts as missed.
	PingInterval time.Duration

	// MaxMissedPongs is the number of consecutive missed pongs before the
	// connection is considered dead. Zero never closes the connection.
	MaxMissedPongs int
}

// DefaultKeepAliveConfig returns the default keep-alive configuration.
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{
		PingInterval:   DefaultPingInterval,
		MaxMissedPongs: DefaultMaxMissedPongs,
	}
}

// DetectionDelay calculates the maximum detection delay for this configuration:
// the first ping goes out one interval after start and each unanswered ping
// is judged one interval later. It is zero when teardown is disabled.
func (c KeepAliveConfig) DetectionDelay() time.Duration {
	if c.MaxMissedPongs <= 0 {
		return 0
	}
	return c.PingInterval * time.Duration(c.MaxMissedPongs+1)
}

// KeepAlive sends periodic pings on the loop. With MaxMissedPongs set it
// reports a timeout after that many consecutive unanswered pings.
type KeepAlive struct {
	loop   *loop.Loop
	config KeepAliveConfig

	sendPing  func() error
	onTimeout func()

	timer        *loop.Timer
	running      bool
	awaiting     bool
	missedPongs  int
	pings        int
	lastPingTime time.Time
	lastPongTime time.Time
	lastLatency  time.Duration
}

// NewKeepAlive creates a keep-alive manager bound to l.
func NewKeepAlive(l *loop.Loop, config KeepAliveConfig, sendPing func() error, onTimeout func()) *KeepAlive {
	if config.PingInterval <= 0 {
		config.PingInterval = DefaultPingInterval
	}
	if config.MaxMissedPongs < 0 {
		config.MaxMissedPongs = 0
	}

	return &KeepAlive{
		loop:      l,
		config:    config,
		sendPing:  sendPing,
		onTimeout: onTimeout,
	}
}

// Start begins monitoring. The first ping is sent after one interval.
func (ka *KeepAlive) Start() {
	if ka.running {
		return
	}
	ka.running = true
	ka.awaiting = false
	ka.missedPongs = 0
	ka.schedule()
}

// Stop stops monitoring.
func (ka *KeepAlive) Stop() {
	if !ka.running {
		return
	}
	ka.running = false
	ka.timer.Stop()
	ka.timer = nil
}

// IsRunning returns true if monitoring is active.
func (ka *KeepAlive) IsRunning() bool {
	return ka.running
}

// PongReceived should be called when a pong event arrives.
func (ka *KeepAlive) PongReceived() {
	now := ka.loop.Clock().Now()
	ka.lastPongTime = now
	if ka.awaiting {
		ka.lastLatency = now.Sub(ka.lastPingTime)
	}
	ka.awaiting = false
	ka.missedPongs = 0
}

// PingNow sends one ping immediately without changing the schedule, even
// while an earlier ping is unanswered. Used when the client returns to the
// foreground.
func (ka *KeepAlive) PingNow() {
	if !ka.running {
		return
	}
	ka.ping()
}

// Stats returns current keep-alive statistics.
func (ka *KeepAlive) Stats() KeepAliveStats {
	return KeepAliveStats{
		LastPingTime: ka.lastPingTime,
		LastPongTime: ka.lastPongTime,
		LastLatency:  ka.lastLatency,
		MissedPongs:  ka.missedPongs,
		Pings:        ka.pings,
	}
}

// KeepAliveStats contains keep-alive statistics.
type KeepAliveStats struct {
	LastPingTime time.Time
	LastPongTime time.Time
	LastLatency  time.Duration
	MissedPongs  int
	Pings        int
}

func (ka *KeepAlive) schedule() {
	ka.timer = ka.loop.AfterFunc(ka.config.PingInterval, ka.tick)
}

func (ka *KeepAlive) tick() {
	if !ka.running {
		return
	}

	if ka.awaiting {
		ka.missedPongs++
		ka.awaiting = false
		if ka.config.MaxMissedPongs > 0 && ka.missedPongs >= ka.config.MaxMissedPongs {
			ka.running = false
			ka.timer = nil
			if ka.onTimeout != nil {
				ka.onTimeout()
			}
			return
		}
	}

	ka.ping()
	ka.schedule()
}

func (ka *KeepAlive) ping() {
	ka.pings++
	ka.lastPingTime = ka.loop.Clock().Now()
	ka.awaiting = true
	// A failed send is caught by the next tick as a missed pong.
	_ = ka.sendPing()
}
