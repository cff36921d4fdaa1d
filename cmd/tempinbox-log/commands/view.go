package commands

import (
	"fmt"
	"io"

	"github.com/tempinbox/tempinbox-go/pkg/log"
)

const timestampLayout = "2006-01-02T15:04:05.000000Z"

// RunView prints the events of path matching opts in a readable form.
func RunView(path string, opts FilterOptions, w io.Writer) error {
	filter, err := opts.Build()
	if err != nil {
		return err
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open capture file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(w, event)
	}
}

// eventType returns the short label of the event payload.
func eventType(event log.Event) string {
	switch {
	case event.Frame != nil:
		return "Frame"
	case event.Message != nil:
		return event.Message.Event
	case event.StateChange != nil:
		return "State"
	case event.ControlMsg != nil:
		return event.ControlMsg.Type.String()
	case event.Sync != nil:
		return "Sync"
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// formatEvent writes one event as a header line plus indented details.
func formatEvent(w io.Writer, event log.Event) {
	ts := event.Timestamp.UTC().Format(timestampLayout)
	layer := event.Layer.String()
	if event.Category == log.CategoryControl {
		layer = "CTRL"
	}

	fmt.Fprintf(w, "%s [conn:%s] %-5s %s %s\n", ts, shortenConnID(event.ConnectionID),
		event.Direction.String(), layer, eventType(event))

	if event.AccountID != "" || event.Mailbox != "" {
		fmt.Fprintf(w, "  Account: %s  Mailbox: %s\n", orDash(event.AccountID), orDash(event.Mailbox))
	}

	switch {
	case event.Frame != nil:
		fmt.Fprintf(w, "  Size: %d bytes\n", event.Frame.Size)
		if event.Frame.Data != "" {
			fmt.Fprintf(w, "  Data: %s", event.Frame.Data)
			if event.Frame.Truncated {
				fmt.Fprint(w, " (truncated)")
			}
			fmt.Fprintln(w)
		}
	case event.Message != nil:
		if event.Message.Payload != "" {
			fmt.Fprintf(w, "  Payload: %s\n", event.Message.Payload)
		}
	case event.StateChange != nil:
		formatStateChange(w, event.StateChange)
	case event.ControlMsg != nil:
		if event.ControlMsg.Reason != "" {
			fmt.Fprintf(w, "  Reason: %s\n", event.ControlMsg.Reason)
		}
	case event.Sync != nil:
		formatSync(w, event.Sync)
	case event.Error != nil:
		fmt.Fprintf(w, "  Layer: %s\n", event.Error.Layer.String())
		fmt.Fprintf(w, "  Message: %s\n", event.Error.Message)
		if event.Error.Context != "" {
			fmt.Fprintf(w, "  Context: %s\n", event.Error.Context)
		}
	}

	fmt.Fprintln(w)
}

func formatStateChange(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity.String())
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatSync(w io.Writer, s *log.SyncEvent) {
	fmt.Fprintf(w, "  Action: %s", s.Action)
	if s.Page > 0 {
		fmt.Fprintf(w, "  Page: %d", s.Page)
	}
	if s.Action == log.SyncFetched {
		fmt.Fprintf(w, "  Items: %d", s.Items)
	}
	if s.Pending > 0 || s.Action == log.SyncBadge {
		fmt.Fprintf(w, "  Pending: %d", s.Pending)
	}
	fmt.Fprintln(w)
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if id == "" {
		return "-"
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
