// Package cli holds the configuration, output and exit-status plumbing
// shared by the cidl commands.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Process exit statuses. Scripts running "cidl migrate" in CI can tell a bad
// schema document apart from an unreachable database or a failed revision.
const (
	ExitSuccess     = 0
	ExitGeneral     = 1 // anything not listed below
	ExitConfig      = 2 // cidl.yaml, flags or environment
	ExitSchemaParse = 3 // the schema document failed to load or analyze
	ExitDBConnect   = 4 // the database could not be opened
	ExitMigration   = 5 // planning, applying or reading a revision failed
)

// ExitError is a command failure carrying the status cidl exits with.
// Message says what the command was doing; Err, when set, is the cause.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode is the status for err: the code of the outermost ExitError in
// its chain, ExitGeneral for any other error, ExitSuccess for nil.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitGeneral
}

// Report writes err to w the way cidl prints a failed command.
func Report(w io.Writer, err error) {
	_, _ = fmt.Fprintln(w, "Error:", err)
}

// ExitWithError reports err on stderr and ends the process with its code.
func ExitWithError(err error) {
	Report(os.Stderr, err)
	os.Exit(ExitCode(err))
}

func exitError(code int) func(string, error) *ExitError {
	return func(msg string, err error) *ExitError {
		return &ExitError{Code: code, Message: msg, Err: err}
	}
}

// Constructors for each exit status.
var (
	ConfigError      = exitError(ExitConfig)
	SchemaParseError = exitError(ExitSchemaParse)
	DBConnectError   = exitError(ExitDBConnect)
	MigrationError   = exitError(ExitMigration)
	GeneralError     = exitError(ExitGeneral)
)
