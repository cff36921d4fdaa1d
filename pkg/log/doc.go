// Package log provides structured protocol capture for the notification
// client.
//
// This package defines the Logger interface and Event types for capturing
// protocol-level events at three layers (transport, session, inbox). It is
// separate from operational logging (slog) - protocol capture provides a
// complete machine-readable event trace for debugging and analysis.
//
// # Basic Usage
//
// Components accept a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.Capture = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.Capture, _ = log.NewFileLogger("/var/log/tempinbox/client.tlog")
//
//	// Both: use MultiLogger
//	cfg.Capture = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Events are captured at multiple layers:
//   - Transport: raw text frames (FrameEvent) and socket.io events
//     (MessageEvent)
//   - Session: identity and topic binding state changes (StateChangeEvent)
//   - Inbox: reconciliation cycles and page loads (SyncEvent)
//
// Control messages (ping/pong/close) and errors have dedicated event types.
//
// # File Format
//
// Capture files are concatenated CBOR events with the .tlog extension. The
// tempinbox-log CLI tool provides viewing, filtering, and export.
package log
