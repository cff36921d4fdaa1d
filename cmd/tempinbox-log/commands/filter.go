// Package commands implements the tempinbox-log subcommands.
package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tempinbox/tempinbox-go/pkg/log"
)

// FilterOptions holds the textual filter flags shared by view and filter.
// Empty fields match everything.
type FilterOptions struct {
	ConnID    string
	AccountID string
	Mailbox   string
	EventName string
	TimeStart string
	TimeEnd   string
	Layer     string
	Direction string
	Category  string
}

// Build converts the options into a log.Filter.
func (o FilterOptions) Build() (log.Filter, error) {
	filter := log.Filter{
		ConnectionID: o.ConnID,
		AccountID:    o.AccountID,
		Mailbox:      o.Mailbox,
		EventName:    o.EventName,
	}

	if o.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, o.TimeStart)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}
	if o.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, o.TimeEnd)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}

	if o.Layer != "" {
		l, ok := log.ParseLayer(strings.ToUpper(o.Layer))
		if !ok {
			return log.Filter{}, fmt.Errorf("invalid layer: %s (must be transport, session, or inbox)", o.Layer)
		}
		filter.Layer = &l
	}
	if o.Direction != "" {
		d, ok := log.ParseDirection(strings.ToUpper(o.Direction))
		if !ok {
			return log.Filter{}, fmt.Errorf("invalid direction: %s (must be in, out, or local)", o.Direction)
		}
		filter.Direction = &d
	}
	if o.Category != "" {
		c, ok := log.ParseCategory(strings.ToUpper(o.Category))
		if !ok {
			return log.Filter{}, fmt.Errorf("invalid category: %s (must be message, control, state, error, or sync)", o.Category)
		}
		filter.Category = &c
	}
	return filter, nil
}

// RunFilter copies the events of path that match opts into output and
// returns how many were written.
func RunFilter(path, output string, opts FilterOptions) (int, error) {
	filter, err := opts.Build()
	if err != nil {
		return 0, err
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to open capture file: %w", err)
	}
	defer reader.Close()

	logger, err := log.NewFileLogger(output)
	if err != nil {
		return 0, fmt.Errorf("failed to create output file: %w", err)
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.Close()
			return logger.Count(), fmt.Errorf("failed to read event: %w", err)
		}
		logger.Log(event)
	}

	count := logger.Count()
	if err := logger.Close(); err != nil {
		return count, fmt.Errorf("failed to close output file: %w", err)
	}
	return count, nil
}
