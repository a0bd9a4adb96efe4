package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/fellowship/internal/domain"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Command rejected or scenarios failed
	ExitCommandError = 2 // Usage error (bad flags, unreadable settings, missing paths)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code      string `json:"code"`                // domain error code, or "ERROR"
	Message   string `json:"message"`             // human-readable message
	Retryable bool   `json:"retryable,omitempty"` // issuing the command again may succeed
	Details   any    `json:"details,omitempty"`   // additional context
}

// Success outputs a successful result. text is the human-readable line
// printed in text mode; data is the JSON payload.
func (f *OutputFormatter) Success(text string, data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}
	_, err := fmt.Fprintln(f.Writer, text)
	return err
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(cliErr CLIError) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &cliErr,
		})
	}

	fmt.Fprintf(f.Writer, "✗ Error [%s]: %s\n", cliErr.Code, cliErr.Message)
	if cliErr.Retryable {
		fmt.Fprintln(f.Writer, "  (retryable)")
	}
	if f.Verbose && cliErr.Details != nil {
		fmt.Fprintf(f.Writer, "  Details: %v\n", cliErr.Details)
	}
	return nil
}

// Fail reports err and returns the ExitError the command should return.
// Typed domain errors keep their code; anything else is reported as ERROR.
func (f *OutputFormatter) Fail(op string, err error) error {
	if writeErr := f.Error(toCLIError(err)); writeErr != nil {
		return WrapExitError(ExitCommandError, "write output", writeErr)
	}
	return WrapExitError(ExitFailure, op, err)
}

func toCLIError(err error) CLIError {
	code := domain.CodeOf(err)
	if code == "" {
		return CLIError{Code: "ERROR", Message: err.Error()}
	}
	cliErr := CLIError{Code: string(code), Message: err.Error(), Retryable: domain.IsRetryable(err)}
	var de *domain.Error
	if errors.As(err, &de) && (de.Kind != "" || de.ID != "") {
		details := map[string]string{}
		if de.Kind != "" {
			details["kind"] = string(de.Kind)
		}
		if de.ID != "" {
			details["id"] = de.ID
		}
		cliErr.Details = details
	}
	return cliErr
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
