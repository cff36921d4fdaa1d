package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// DefaultCommand is the freedesktop notification client.
const DefaultCommand = "notify-send"

// ErrUnavailable is returned when the notification command is missing.
var ErrUnavailable = errors.New("desktop notifications unavailable")

// DesktopPlatform shows notifications with notify-send. The permission
// starts at the configured value; Default is resolved through Prompt.
type DesktopPlatform struct {
	// Command is the notification client. Empty means DefaultCommand.
	Command string

	// AppName is reported to the notification daemon.
	AppName string

	// Icon is an icon name or path.
	Icon string

	// Prompt asks the user whether notifications may be shown. Nil denies.
	Prompt func(ctx context.Context) (bool, error)

	mu   sync.Mutex
	perm Permission

	lookPath func(string) (string, error)
	run      func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewDesktopPlatform creates a DesktopPlatform starting at perm.
func NewDesktopPlatform(perm Permission) *DesktopPlatform {
	return &DesktopPlatform{
		AppName:  "tempinbox",
		perm:     perm,
		lookPath: exec.LookPath,
		run:      runCommand,
	}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	err := cmd.Run()
	return out.Bytes(), err
}

func (d *DesktopPlatform) command() string {
	if d.Command == "" {
		return DefaultCommand
	}
	return d.Command
}

// Available reports whether the notification command is installed.
func (d *DesktopPlatform) Available() bool {
	_, err := d.lookPath(d.command())
	return err == nil
}

// Permission returns Denied when notifications are unavailable, otherwise
// the stored decision.
func (d *DesktopPlatform) Permission() Permission {
	if !d.Available() {
		return PermissionDenied
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.perm
}

// RequestPermission prompts once. A decided permission is returned as is.
func (d *DesktopPlatform) RequestPermission(ctx context.Context) (Permission, error) {
	d.mu.Lock()
	perm := d.perm
	d.mu.Unlock()
	if perm != PermissionDefault {
		return perm, nil
	}

	answer := PermissionDenied
	if d.Prompt != nil {
		ok, err := d.Prompt(ctx)
		if err != nil {
			return PermissionDefault, fmt.Errorf("prompting for notification permission: %w", err)
		}
		if ok {
			answer = PermissionGranted
		}
	}

	d.mu.Lock()
	d.perm = answer
	d.mu.Unlock()
	return answer, nil
}

// Show runs the notification command. With OnClick set it waits for the
// notification to close and reports a click on the default action.
func (d *DesktopPlatform) Show(ctx context.Context, title, body string, opts ShowOptions) error {
	if !d.Available() {
		return ErrUnavailable
	}

	args := d.args(title, body, opts)
	out, err := d.run(ctx, d.command(), args...)
	if err != nil {
		return fmt.Errorf("%s: %w", d.command(), err)
	}
	if opts.OnClick != nil && strings.TrimSpace(string(out)) == "default" {
		opts.OnClick()
	}
	return nil
}

func (d *DesktopPlatform) args(title, body string, opts ShowOptions) []string {
	var args []string
	if d.AppName != "" {
		args = append(args, "--app-name="+d.AppName)
	}
	if d.Icon != "" {
		args = append(args, "--icon="+d.Icon)
	}
	if opts.Timeout > 0 {
		args = append(args, "--expire-time="+strconv.FormatInt(opts.Timeout.Milliseconds(), 10))
	}
	if opts.Tag != "" {
		args = append(args, "--hint=string:x-canonical-private-synchronous:"+opts.Tag)
	}
	if opts.OnClick != nil {
		args = append(args, "--action=default=Open", "--wait")
	}
	return append(args, "--", title, body)
}
