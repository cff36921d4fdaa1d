// Command tempinbox-log views and analyzes tempinbox protocol capture files.
//
// Capture files are written by tempinbox when started with -capture.
//
// Usage:
//
//	tempinbox-log <command> [flags] <file.tlog>
//
// Commands:
//
//	view     View capture file in human-readable format
//	export   Export capture file to JSONL or CSV
//	filter   Filter capture file and write to new file
//	stats    Show statistics about the capture file
//
// Examples:
//
//	# Show only inbox reconciliation steps
//	tempinbox-log view -layer inbox session.tlog
//
//	# Show every notification that arrived
//	tempinbox-log view -event new_email_notification session.tlog
//
//	# Keep one account's events
//	tempinbox-log filter -account 42 -o account.tlog session.tlog
//
//	# Export to CSV
//	tempinbox-log export -format csv -o session.csv session.tlog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tempinbox/tempinbox-go/cmd/tempinbox-log/commands"
)

const usage = `tempinbox-log - tempinbox Capture Analyzer

Usage:
  tempinbox-log <command> [flags] <file.tlog>

Commands:
  view     View capture file in human-readable format
  export   Export capture file to JSONL or CSV
  filter   Filter capture file and write to new file
  stats    Show statistics about the capture file

Use "tempinbox-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]

	var err error
	switch cmd {
	case "view":
		err = runView(args)
	case "export":
		err = runExport(args)
	case "filter":
		err = runFilter(args)
	case "stats":
		err = runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newFlagSet creates a subcommand flag set with a usage header.
func newFlagSet(name, summary string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "tempinbox-log %s - %s\n\nUsage:\n  tempinbox-log %s [flags] <file.tlog>\n\nFlags:\n",
			name, summary, name)
		fs.PrintDefaults()
	}
	return fs
}

// filterFlags registers the shared filter flags on fs.
func filterFlags(fs *flag.FlagSet) *commands.FilterOptions {
	opts := &commands.FilterOptions{}
	fs.StringVar(&opts.ConnID, "conn-id", "", "Filter by connection ID")
	fs.StringVar(&opts.AccountID, "account", "", "Filter by account ID")
	fs.StringVar(&opts.Mailbox, "mailbox", "", "Filter by mailbox address")
	fs.StringVar(&opts.EventName, "event", "", "Filter by socket.io event name")
	fs.StringVar(&opts.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	fs.StringVar(&opts.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
	fs.StringVar(&opts.Layer, "layer", "", "Filter by layer (transport, session, inbox)")
	fs.StringVar(&opts.Direction, "direction", "", "Filter by direction (in, out, local)")
	fs.StringVar(&opts.Category, "category", "", "Filter by category (message, control, state, error, sync)")
	return opts
}

// parsePath parses args and returns the capture file argument.
func parsePath(fs *flag.FlagSet, args []string) (string, error) {
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return "", fmt.Errorf("capture file path required")
	}
	return fs.Arg(0), nil
}

func runView(args []string) error {
	fs := newFlagSet("view", "View capture file in human-readable format")
	opts := filterFlags(fs)
	path, err := parsePath(fs, args)
	if err != nil {
		return err
	}
	return commands.RunView(path, *opts, os.Stdout)
}

func runExport(args []string) error {
	fs := newFlagSet("export", "Export capture file to JSONL or CSV")
	format := fs.String("format", commands.FormatJSONL, "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")
	path, err := parsePath(fs, args)
	if err != nil {
		return err
	}
	return commands.RunExport(path, *format, *output)
}

func runFilter(args []string) error {
	fs := newFlagSet("filter", "Filter capture file and write to new file")
	output := fs.String("o", "", "Output file (required)")
	opts := filterFlags(fs)
	path, err := parsePath(fs, args)
	if err != nil {
		return err
	}
	if *output == "" {
		fs.Usage()
		return fmt.Errorf("output file (-o) required")
	}

	n, err := commands.RunFilter(path, *output, *opts)
	if err != nil {
		return err
	}
	fmt.Printf("Filtered %d events to %s\n", n, *output)
	return nil
}

func runStats(args []string) error {
	fs := newFlagSet("stats", "Show statistics about the capture file")
	path, err := parsePath(fs, args)
	if err != nil {
		return err
	}
	return commands.RunStats(path, os.Stdout)
}
