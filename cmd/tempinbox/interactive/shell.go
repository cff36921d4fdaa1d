// Package interactive provides the interactive command-line interface
// for tempinbox.
package interactive

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/tempinbox/tempinbox-go/pkg/client"
	"github.com/tempinbox/tempinbox-go/pkg/inbox"
)

// Controller is the client surface the shell drives. Implemented by
// *client.Client.
type Controller interface {
	Navigate(page int)
	Next()
	Prev()
	Refresh()
	Foreground()
	Status() (client.Status, error)
	View() (inbox.ViewState, error)
}

var _ Controller = (*client.Client)(nil)

// Shell is the interactive mailbox viewer.
type Shell struct {
	ctrl Controller
	rl   *readline.Instance
	out  io.Writer

	mu      sync.Mutex
	pending chan bool
	last    inbox.ViewState
}

// New creates a Shell reading from the terminal.
func New() (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "inbox> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Shell{rl: rl, out: rl.Stdout()}, nil
}

func newShell(ctrl Controller, out io.Writer) *Shell {
	return &Shell{ctrl: ctrl, out: out}
}

// Attach sets the controller. Must be called before Run.
func (s *Shell) Attach(ctrl Controller) {
	s.ctrl = ctrl
}

// Stdout returns a writer that properly coordinates with the readline input.
func (s *Shell) Stdout() io.Writer {
	return s.out
}

// Stderr returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (s *Shell) Stderr() io.Writer {
	if s.rl == nil {
		return s.out
	}
	return s.rl.Stderr()
}

// Render prints view changes. It implements inbox.Sink.
func (s *Shell) Render(v inbox.ViewState) {
	s.mu.Lock()
	prev := s.last
	s.last = v
	s.mu.Unlock()

	if v.Loading || v.Refreshing {
		fmt.Fprintln(s.out, StatusLine(v))
		return
	}
	if prev.Loading || prev.Refreshing || prev.CurrentPage != v.CurrentPage || !sameItems(prev, v) {
		fmt.Fprint(s.out, FormatView(v))
		return
	}
	if prev.PendingNewCount != v.PendingNewCount || prev.NotificationsUnavailable != v.NotificationsUnavailable {
		fmt.Fprintln(s.out, StatusLine(v))
	}
}

// Prompt asks whether desktop notifications may be shown and waits for an
// allow or deny command.
func (s *Shell) Prompt(ctx context.Context) (bool, error) {
	answer := make(chan bool, 1)
	s.mu.Lock()
	s.pending = answer
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.pending == answer {
			s.pending = nil
		}
		s.mu.Unlock()
	}()

	fmt.Fprintln(s.out, "New mail arrived. Show desktop notifications? Type 'allow' or 'deny'.")
	select {
	case ok := <-answer:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Run starts the interactive command loop.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}

		if s.execute(line) {
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}
	}
}

// execute runs one command line. It returns true when the shell should exit.
func (s *Shell) execute(line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}

	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		s.printHelp()

	case "page", "p":
		s.cmdPage(args)

	case "next", "n":
		s.ctrl.Next()

	case "prev", "b":
		s.ctrl.Prev()

	case "refresh", "r":
		s.ctrl.Refresh()

	case "view", "v":
		s.cmdView()

	case "status", "s":
		s.cmdStatus()

	case "fg":
		s.ctrl.Foreground()

	case "allow", "deny":
		s.cmdAnswer(cmd == "allow")

	case "quit", "exit", "q":
		return true

	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
tempinbox Commands:
  Inbox:
    page <n>           - Show page n (page 1 clears the new-mail badge)
    next / prev        - Show the next or previous page
    refresh            - Reload the current page
    view               - Print the current page again

  Connection:
    status             - Show realtime connection status
    fg                 - Check the connection after being away

  Notifications:
    allow / deny       - Answer a desktop notification prompt

  General:
    help               - Show this help
    quit               - Exit`)
}

func (s *Shell) cmdPage(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "Usage: page <n>")
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		fmt.Fprintf(s.out, "Invalid page: %s\n", args[0])
		return
	}
	s.ctrl.Navigate(n)
}

func (s *Shell) cmdView() {
	v, err := s.ctrl.View()
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	fmt.Fprint(s.out, FormatView(v))
}

func (s *Shell) cmdStatus() {
	st, err := s.ctrl.Status()
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	fmt.Fprint(s.out, FormatStatus(st))
}

func (s *Shell) cmdAnswer(allow bool) {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	if pending == nil {
		fmt.Fprintln(s.out, "No notification prompt is pending")
		return
	}
	pending <- allow
}

func sameItems(a, b inbox.ViewState) bool {
	if len(a.Items) != len(b.Items) {
		return false
	}
	for i := range a.Items {
		if a.Items[i].ID != b.Items[i].ID || a.Items[i].Read != b.Items[i].Read {
			return false
		}
	}
	return true
}
