// Package cli parses the command line into the command to run and turns
// usage problems into exit codes.
package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

// Commands understood by resumesync.
const (
	CommandSync     = "sync"
	CommandDispatch = "dispatch"
	CommandServe    = "serve"
	CommandLedger   = "ledger"
)

// ExitError is an error that carries a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Options is the parsed command line. Empty strings mean "use the environment value".
type Options struct {
	Command   string
	LogLevel  string
	LogFormat string
	Port      string
}

const usage = `
resumesync - incremental applicant resume sync.

Usage:
  resumesync [options] COMMAND

Commands:
  sync       download the resumes of new applicants and record them in the ledger
  dispatch   mail every downloaded resume in a single message
  serve      run the HTTP control surface (health, metrics, /sync, /dispatch)
  ledger     print the ledger entries as JSON lines

Configuration is read from the environment (and a .env file when present).

Options:
`

// Parse processes command-line arguments. It returns the Options, whether the
// program should exit cleanly (help), or an ExitError.
func Parse(args []string, output io.Writer) (*Options, bool, error) {
	flagSet := flag.NewFlagSet("resumesync", flag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.Usage = func() {
		fmt.Fprint(output, usage)
		flagSet.PrintDefaults()
	}

	logLevelFlag := flagSet.String("log-level", "", "Override LOG_LEVEL. Options: 'debug', 'info', 'warn', 'error'.")
	logFormatFlag := flagSet.String("log-format", "", "Override LOG_FORMAT. Options: 'text' or 'json'.")
	portFlag := flagSet.String("port", "", "Override PORT for the serve command.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	if flagSet.NArg() == 0 {
		flagSet.Usage()
		return nil, false, &ExitError{Code: 2, Message: "missing command"}
	}
	if flagSet.NArg() > 1 {
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("unexpected arguments: %s", strings.Join(flagSet.Args()[1:], " "))}
	}

	cmd := flagSet.Arg(0)
	switch cmd {
	case CommandSync, CommandDispatch, CommandServe, CommandLedger:
	default:
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("unknown command %q", cmd)}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "" && logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	return &Options{
		Command:   cmd,
		LogLevel:  logLevel,
		LogFormat: logFormat,
		Port:      *portFlag,
	}, false, nil
}
