package interactive

import (
	"fmt"
	"strings"

	"github.com/tempinbox/tempinbox-go/pkg/client"
	"github.com/tempinbox/tempinbox-go/pkg/inbox"
)

const subjectWidth = 48

// StatusLine summarizes the view in one line.
func StatusLine(v inbox.ViewState) string {
	var b strings.Builder
	if v.Account.Address != "" {
		b.WriteString(v.Account.Address)
		b.WriteString("  ")
	}
	fmt.Fprintf(&b, "page %d/%d (%d messages)", v.CurrentPage, max(v.TotalPages, 1), v.TotalItems)
	if v.PendingNewCount > 0 {
		fmt.Fprintf(&b, "  [%d new]", v.PendingNewCount)
	}
	if v.NewMessagesAvailable && v.CurrentPage != 1 {
		b.WriteString("  (page 1 has new mail)")
	}
	switch {
	case v.Loading:
		b.WriteString("  loading...")
	case v.Refreshing:
		b.WriteString("  refreshing...")
	}
	if v.NotificationsUnavailable {
		b.WriteString("  notifications unavailable")
	}
	return b.String()
}

// FormatView renders the status line and the page items.
func FormatView(v inbox.ViewState) string {
	var b strings.Builder
	b.WriteString(StatusLine(v))
	b.WriteByte('\n')
	if len(v.Items) == 0 {
		b.WriteString("  (no messages)\n")
		return b.String()
	}
	for _, m := range v.Items {
		mark := " "
		if !m.Read {
			mark = "*"
		}
		when := ""
		if t, ok := m.Time(); ok {
			when = t.Local().Format("Jan 02 15:04")
		}
		fmt.Fprintf(&b, "  %s %-12s %-*s  %s\n", mark, when, subjectWidth, truncate(subjectOf(m.Subject), subjectWidth), m.Sender())
	}
	return b.String()
}

// FormatStatus renders the connection status.
func FormatStatus(s client.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "State:       %s\n", s.State)
	fmt.Fprintf(&b, "Connected:   %v\n", s.Connected)
	fmt.Fprintf(&b, "Enabled:     %v\n", s.Enabled)
	fmt.Fprintf(&b, "Attempts:    %d/%d\n", s.Attempts, s.MaxAttempts)
	if s.Mailbox != "" {
		fmt.Fprintf(&b, "Mailbox:     %s (bound: %v)\n", s.Mailbox, s.Bound)
	}
	if s.ConnectionID != "" {
		fmt.Fprintf(&b, "Connection:  %s\n", s.ConnectionID)
	}
	if s.LastReason != "" {
		fmt.Fprintf(&b, "Last reason: %s\n", s.LastReason)
	}
	return b.String()
}

func subjectOf(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(no subject)"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
