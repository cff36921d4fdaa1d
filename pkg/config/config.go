package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tempinbox/tempinbox-go/pkg/connection"
	"github.com/tempinbox/tempinbox-go/pkg/inbox"
	"github.com/tempinbox/tempinbox-go/pkg/mailapi"
	"github.com/tempinbox/tempinbox-go/pkg/notify"
	"github.com/tempinbox/tempinbox-go/pkg/session"
	"github.com/tempinbox/tempinbox-go/pkg/transport"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TEMPINBOX_"

// ErrInvalid wraps validation failures.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all client settings.
type Config struct {
	// ServerURL is the realtime server. Empty disables notifications.
	ServerURL string `yaml:"server_url"`

	// APIURL is the mail REST API base URL.
	APIURL   string `yaml:"api_url"`
	APIToken string `yaml:"api_token"`

	// AccountFile is the JSON file naming the current account.
	AccountFile string `yaml:"account_file"`

	LogLevel    string `yaml:"log_level"`
	CaptureFile string `yaml:"capture_file"`

	// StatusAddr serves the status endpoints. Empty disables them.
	StatusAddr string `yaml:"status_addr"`

	Transport    TransportSettings    `yaml:"transport"`
	Binding      BindingSettings      `yaml:"binding"`
	Inbox        InboxSettings        `yaml:"inbox"`
	API          APISettings          `yaml:"api"`
	Notification NotificationSettings `yaml:"notification"`
}

// TransportSettings tunes the realtime connection.
type TransportSettings struct {
	HandshakeTimeout  Duration `yaml:"handshake_timeout"`
	ReconnectInitial  Duration `yaml:"reconnect_initial"`
	ReconnectMax      Duration `yaml:"reconnect_max"`
	ReconnectAttempts int      `yaml:"reconnect_attempts"`
	ReconnectJitter   float64  `yaml:"reconnect_jitter"`
	PingInterval      Duration `yaml:"ping_interval"`
	MaxMissedPongs    int      `yaml:"max_missed_pongs"`
}

// BindingSettings tunes readiness polling.
type BindingSettings struct {
	PollInterval   Duration `yaml:"poll_interval"`
	MaxReadyPolls  int      `yaml:"max_ready_polls"`
	SubscribeGrace Duration `yaml:"subscribe_grace"`
}

// InboxSettings tunes the refresh cycle.
type InboxSettings struct {
	SettleDelay   Duration `yaml:"settle_delay"`
	FallbackDelay Duration `yaml:"fallback_delay"`
	FetchTimeout  Duration `yaml:"fetch_timeout"`
	PollInterval  Duration `yaml:"poll_interval"`
}

// APISettings tunes the REST client.
type APISettings struct {
	MaxRetries int      `yaml:"max_retries"`
	BaseDelay  Duration `yaml:"base_delay"`
	MaxDelay   Duration `yaml:"max_delay"`
}

// NotificationSettings configures OS notifications.
type NotificationSettings struct {
	// Permission is the initial permission: default, granted or denied.
	Permission   string   `yaml:"permission"`
	Command      string   `yaml:"command"`
	Icon         string   `yaml:"icon"`
	DismissAfter Duration `yaml:"dismiss_after"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() *Config {
	return &Config{
		AccountFile: defaultAccountFile(),
		LogLevel:    "info",
		Transport: TransportSettings{
			HandshakeTimeout:  Duration(transport.DefaultHandshakeTimeout),
			ReconnectInitial:  Duration(connection.InitialBackoff),
			ReconnectMax:      Duration(connection.MaxBackoff),
			ReconnectAttempts: connection.DefaultMaxAttempts,
			PingInterval:      Duration(transport.DefaultPingInterval),
			MaxMissedPongs:    transport.DefaultMaxMissedPongs,
		},
		Binding: BindingSettings{
			PollInterval:   Duration(session.DefaultPollInterval),
			MaxReadyPolls:  session.DefaultMaxReadyPolls,
			SubscribeGrace: Duration(session.DefaultSubscribeGrace),
		},
		Inbox: InboxSettings{
			SettleDelay:   Duration(inbox.DefaultSettleDelay),
			FallbackDelay: Duration(inbox.DefaultFallbackDelay),
			FetchTimeout:  Duration(inbox.DefaultFetchTimeout),
			PollInterval:  Duration(time.Minute),
		},
		API: APISettings{
			MaxRetries: 3,
			BaseDelay:  Duration(200 * time.Millisecond),
			MaxDelay:   Duration(5 * time.Second),
		},
		Notification: NotificationSettings{
			Permission:   "default",
			DismissAfter: Duration(notify.DefaultDismissAfter),
		},
	}
}

func defaultAccountFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "account.json"
	}
	return filepath.Join(dir, "tempinbox", "account.json")
}

// LoadFile reads a YAML file over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Flags holds the command line overrides.
type Flags struct {
	fs *flag.FlagSet

	ConfigFile string
	values     flagValues
}

type flagValues struct {
	serverURL, apiURL, apiToken, accountFile string
	logLevel, captureFile, statusAddr        string
	permission                               string
	settleDelay, pollInterval                Duration
}

// RegisterFlags defines the override flags on fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	v := &f.values
	fs.StringVar(&f.ConfigFile, "config", "", "Configuration file path")
	fs.StringVar(&v.serverURL, "server", "", "Realtime server URL")
	fs.StringVar(&v.apiURL, "api", "", "Mail API base URL")
	fs.StringVar(&v.apiToken, "token", "", "Mail API bearer token")
	fs.StringVar(&v.accountFile, "account-file", "", "Current account file")
	fs.StringVar(&v.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&v.captureFile, "capture", "", "Protocol capture file")
	fs.StringVar(&v.statusAddr, "status-addr", "", "Status HTTP listen address")
	fs.StringVar(&v.permission, "notify-permission", "", "Initial notification permission: default, granted, denied")
	fs.Var(&v.settleDelay, "settle-delay", "Delay before refreshing after a notification")
	fs.Var(&v.pollInterval, "poll-interval", "Inbox poll interval while notifications are unavailable")
	return f
}

// Load builds the configuration from the config file, the environment and
// the flags set on the command line. getenv is usually os.Getenv.
func (f *Flags) Load(getenv func(string) string) (*Config, error) {
	path := f.ConfigFile
	if path == "" {
		path = getenv(EnvPrefix + "CONFIG")
	}

	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return nil, err
	}

	v := f.values
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "server":
			cfg.ServerURL = v.serverURL
		case "api":
			cfg.APIURL = v.apiURL
		case "token":
			cfg.APIToken = v.apiToken
		case "account-file":
			cfg.AccountFile = v.accountFile
		case "log-level":
			cfg.LogLevel = v.logLevel
		case "capture":
			cfg.CaptureFile = v.captureFile
		case "status-addr":
			cfg.StatusAddr = v.statusAddr
		case "notify-permission":
			cfg.Notification.Permission = v.permission
		case "settle-delay":
			cfg.Inbox.SettleDelay = v.settleDelay
		case "poll-interval":
			cfg.Inbox.PollInterval = v.pollInterval
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from TEMPINBOX_* variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(EnvPrefix + name)); v != "" {
			*dst = v
		}
	}
	str("SERVER_URL", &c.ServerURL)
	str("API_URL", &c.APIURL)
	str("API_TOKEN", &c.APIToken)
	str("ACCOUNT_FILE", &c.AccountFile)
	str("LOG_LEVEL", &c.LogLevel)
	str("CAPTURE_FILE", &c.CaptureFile)
	str("STATUS_ADDR", &c.StatusAddr)
	str("NOTIFY_PERMISSION", &c.Notification.Permission)
	str("NOTIFY_COMMAND", &c.Notification.Command)

	durations := []struct {
		name string
		dst  *Duration
	}{
		{"SETTLE_DELAY", &c.Inbox.SettleDelay},
		{"FALLBACK_DELAY", &c.Inbox.FallbackDelay},
		{"FETCH_TIMEOUT", &c.Inbox.FetchTimeout},
		{"POLL_INTERVAL", &c.Inbox.PollInterval},
		{"READY_POLL_INTERVAL", &c.Binding.PollInterval},
		{"SUBSCRIBE_GRACE", &c.Binding.SubscribeGrace},
	}
	for _, d := range durations {
		if v := strings.TrimSpace(getenv(EnvPrefix + d.name)); v != "" {
			if err := d.dst.Set(v); err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, d.name, err)
			}
		}
	}

	if v := strings.TrimSpace(getenv(EnvPrefix + "RECONNECT_ATTEMPTS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sRECONNECT_ATTEMPTS: %w", EnvPrefix, err)
		}
		c.Transport.ReconnectAttempts = n
	}
	return nil
}

// Validate checks the settings.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIURL) == "" {
		return fmt.Errorf("%w: api_url is required", ErrInvalid)
	}
	if c.AccountFile == "" {
		return fmt.Errorf("%w: account_file is required", ErrInvalid)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, ok := notify.ParsePermission(c.Notification.Permission); !ok {
		return fmt.Errorf("%w: unknown notification permission %q", ErrInvalid, c.Notification.Permission)
	}

	nonNegative := map[string]Duration{
		"transport.handshake_timeout": c.Transport.HandshakeTimeout,
		"transport.reconnect_initial": c.Transport.ReconnectInitial,
		"transport.reconnect_max":     c.Transport.ReconnectMax,
		"transport.ping_interval":     c.Transport.PingInterval,
		"binding.poll_interval":       c.Binding.PollInterval,
		"binding.subscribe_grace":     c.Binding.SubscribeGrace,
		"inbox.settle_delay":          c.Inbox.SettleDelay,
		"inbox.fallback_delay":        c.Inbox.FallbackDelay,
		"inbox.fetch_timeout":         c.Inbox.FetchTimeout,
		"inbox.poll_interval":         c.Inbox.PollInterval,
		"notification.dismiss_after":  c.Notification.DismissAfter,
	}
	for name, d := range nonNegative {
		if d < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalid, name)
		}
	}
	if c.Transport.ReconnectMax > 0 && c.Transport.ReconnectInitial > c.Transport.ReconnectMax {
		return fmt.Errorf("%w: transport.reconnect_initial exceeds reconnect_max", ErrInvalid)
	}
	if c.Transport.ReconnectJitter < 0 || c.Transport.ReconnectJitter > 1 {
		return fmt.Errorf("%w: transport.reconnect_jitter must be within 0..1", ErrInvalid)
	}
	if c.Binding.MaxReadyPolls < 0 || c.Transport.ReconnectAttempts < 0 || c.Transport.MaxMissedPongs < 0 {
		return fmt.Errorf("%w: counts must not be negative", ErrInvalid)
	}
	return nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// TransportConfig returns the transport settings. Capture is left unset.
func (c *Config) TransportConfig() transport.Config {
	t := c.Transport
	return transport.Config{
		ServerURL:        c.ServerURL,
		HandshakeTimeout: t.HandshakeTimeout.D(),
		Reconnect: connection.PolicyConfig{
			Initial:     t.ReconnectInitial.D(),
			Max:         t.ReconnectMax.D(),
			MaxAttempts: t.ReconnectAttempts,
			Jitter:      t.ReconnectJitter,
		},
		KeepAlive: transport.KeepAliveConfig{
			PingInterval:   t.PingInterval.D(),
			MaxMissedPongs: t.MaxMissedPongs,
		},
	}
}

// BinderConfig returns the readiness polling settings.
func (c *Config) BinderConfig() session.Config {
	return session.Config{
		PollInterval:   c.Binding.PollInterval.D(),
		MaxReadyPolls:  c.Binding.MaxReadyPolls,
		SubscribeGrace: c.Binding.SubscribeGrace.D(),
	}
}

// InboxConfig returns the refresh cycle settings.
func (c *Config) InboxConfig() inbox.Config {
	return inbox.Config{
		SettleDelay:   c.Inbox.SettleDelay.D(),
		FallbackDelay: c.Inbox.FallbackDelay.D(),
		FetchTimeout:  c.Inbox.FetchTimeout.D(),
		PollInterval:  c.Inbox.PollInterval.D(),
	}
}

// APIOptions returns the REST client options.
func (c *Config) APIOptions() mailapi.Options {
	return mailapi.Options{
		Token:      c.APIToken,
		MaxRetries: c.API.MaxRetries,
		BaseDelay:  c.API.BaseDelay.D(),
		MaxDelay:   c.API.MaxDelay.D(),
	}
}
