// Command tempinbox shows a temporary mailbox and reports new mail as it
// arrives.
//
// The current account is read from the account file written by the account
// manager; the view follows it when it changes.
//
// Usage:
//
//	tempinbox [flags]
//
// Flags:
//
//	-config string             Configuration file path
//	-server string             Realtime server URL
//	-api string                Mail API base URL
//	-token string              Mail API bearer token
//	-account-file string       Current account file
//	-account-id string         Select this account before starting
//	-email string              Mailbox address of -account-id
//	-log-level string          Log level: debug, info, warn, error
//	-capture string            Protocol capture file
//	-status-addr string        Status HTTP listen address
//	-notify-permission string  Initial notification permission
//	-interactive               Run the interactive shell (default true)
//
// Examples:
//
//	# Watch the account selected by the account manager
//	tempinbox -api https://api.example.com -server https://mail.example.com
//
//	# Select an account and record the protocol for tempinbox-log
//	tempinbox -config tempinbox.yaml -account-id 42 -email box@example.com -capture session.tlog
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tempinbox/tempinbox-go/cmd/tempinbox/interactive"
	"github.com/tempinbox/tempinbox-go/pkg/client"
	"github.com/tempinbox/tempinbox-go/pkg/config"
	"github.com/tempinbox/tempinbox-go/pkg/inbox"
	"github.com/tempinbox/tempinbox-go/pkg/log"
	"github.com/tempinbox/tempinbox-go/pkg/mailapi"
	"github.com/tempinbox/tempinbox-go/pkg/notify"
	"github.com/tempinbox/tempinbox-go/pkg/persistence"
	"github.com/tempinbox/tempinbox-go/pkg/status"
	"github.com/tempinbox/tempinbox-go/pkg/version"
)

var (
	flags           = config.RegisterFlags(flag.CommandLine)
	interactiveMode = flag.Bool("interactive", true, "Run the interactive shell")
	accountID       = flag.String("account-id", "", "Select this account before starting")
	email           = flag.String("email", "", "Mailbox address of -account-id")
	showVersion     = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("tempinbox %s (Engine.IO %d)\n", version.Current, version.EngineIO)
		return
	}

	cfg, err := flags.Load(os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tempinbox: %v\n", err)
		os.Exit(2)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "tempinbox: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var shell *interactive.Shell
	logOut := io.Writer(os.Stderr)
	if *interactiveMode {
		var err error
		if shell, err = interactive.New(); err != nil {
			return err
		}
		logOut = shell.Stderr()
	}

	logger, err := setupLogging(cfg.LogLevel, logOut)
	if err != nil {
		return err
	}

	capture, closeCapture, err := setupCapture(cfg, logger)
	if err != nil {
		return err
	}
	defer closeCapture()

	accounts := persistence.NewAccountStore(cfg.AccountFile)
	if *accountID != "" {
		if err := selectAccount(accounts, *accountID, *email); err != nil {
			return err
		}
	}

	api, err := mailapi.NewClient(cfg.APIURL, cfg.APIOptions())
	if err != nil {
		return err
	}

	platform, err := setupPlatform(cfg, shell)
	if err != nil {
		return err
	}

	deps := client.Deps{
		Fetcher:  api,
		Platform: platform,
		Accounts: accounts,
		Logger:   logger,
	}
	if shell != nil {
		deps.Sink = shell
	} else {
		deps.Sink = logSink(logger)
	}

	c, err := client.New(client.Config{
		Transport:    cfg.TransportConfig(),
		Binding:      cfg.BinderConfig(),
		Inbox:        cfg.InboxConfig(),
		DismissAfter: cfg.Notification.DismissAfter.D(),
		Capture:      capture,
	}, deps)
	if err != nil {
		return err
	}
	defer c.Close()

	if cfg.StatusAddr != "" {
		srv := &http.Server{
			Addr:              cfg.StatusAddr,
			Handler:           status.NewRouter(c, c.Metrics().Handler(), logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("status server listening", slog.String("addr", cfg.StatusAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server failed", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := c.Start(ctx); err != nil {
		return err
	}
	logger.Info("tempinbox started",
		slog.String("version", version.Current),
		slog.String("account_file", cfg.AccountFile))

	if shell != nil {
		shell.Attach(c)
		go shell.Run(ctx, cancel)
	}
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func setupLogging(level string, w io.Writer) (*slog.Logger, error) {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if lvl == slog.LevelDebug {
		opts.AddSource = true
	}
	logger := slog.New(slog.NewTextHandler(w, opts))
	slog.SetDefault(logger)
	return logger, nil
}

// setupCapture opens the protocol capture file. At debug level events are
// also written to the operational log.
func setupCapture(cfg *config.Config, logger *slog.Logger) (log.Logger, func(), error) {
	sinks := log.NewMultiLogger()
	sinks.OnFailure(func(l log.Logger, r any) {
		logger.Error("capture sink removed after panic",
			slog.String("sink", fmt.Sprintf("%T", l)), slog.Any("panic", r))
	})
	closeFn := func() {}

	if cfg.CaptureFile != "" {
		fl, err := log.NewFileLogger(cfg.CaptureFile)
		if err != nil {
			return nil, nil, fmt.Errorf("opening capture file: %w", err)
		}
		sinks.Add(fl)
		closeFn = func() {
			if err := fl.Close(); err != nil {
				logger.Warn("closing capture file", slog.Any("error", err))
			}
			logger.Info("capture closed", slog.Int("events", fl.Count()))
		}
	}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		sinks.Add(log.NewSlogAdapter(logger))
	}

	if sinks.Len() == 0 {
		return nil, closeFn, nil
	}
	return sinks, closeFn, nil
}

func setupPlatform(cfg *config.Config, shell *interactive.Shell) (notify.Platform, error) {
	perm, ok := notify.ParsePermission(cfg.Notification.Permission)
	if !ok {
		return nil, fmt.Errorf("unknown notification permission %q", cfg.Notification.Permission)
	}
	p := notify.NewDesktopPlatform(perm)
	p.Command = cfg.Notification.Command
	p.Icon = cfg.Notification.Icon
	if shell != nil {
		p.Prompt = shell.Prompt
	}
	return p, nil
}

func selectAccount(store *persistence.AccountStore, id, address string) error {
	if address == "" {
		return errors.New("-email is required with -account-id")
	}
	f, err := store.Load()
	if err != nil {
		return err
	}
	if f == nil {
		f = &persistence.AccountFile{}
	}
	f.CurrentAccount = &persistence.StoredAccount{ID: id, Email: address}
	f.LastUpdated = time.Now()
	return store.Save(f)
}

func logSink(logger *slog.Logger) inbox.Sink {
	return inbox.SinkFunc(func(v inbox.ViewState) {
		if v.Loading || v.Refreshing {
			return
		}
		logger.Info("inbox",
			slog.String("mailbox", v.Account.Address),
			slog.Int("page", v.CurrentPage),
			slog.Int("pages", v.TotalPages),
			slog.Int("items", len(v.Items)),
			slog.Int("new", v.PendingNewCount),
			slog.Bool("notifications_unavailable", v.NotificationsUnavailable))
	})
}
