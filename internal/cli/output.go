package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/roach88/docstore/internal/canonical"
	"github.com/roach88/docstore/internal/document"
	"github.com/roach88/docstore/internal/storage"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Data-level failure (write conflicts, cleanup not finished)
	ExitCommandError = 2 // Command error (invalid input, schema mismatch, backend failure)
)

// Error codes reported in CLIError.Code.
const (
	ErrCodeInput       = "E002" // Unreadable or malformed input
	ErrCodeSchema      = "E003" // Invalid schema file
	ErrCodeQuery       = "E004" // Invalid query
	ErrCodeStorage     = "E005" // Storage error, details carry the storage code
	ErrCodeWriteFailed = "E007" // Output file could not be written
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code    int // ExitFailure or ExitCommandError
	Message string
	Err     error // optional cause
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

// NewExitError creates an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError creates an ExitError around err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns the exit code carried by err, or ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter renders command results as text or as a JSON envelope.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // verbose output; falls back to Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error part of CLIResponse.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (f *OutputFormatter) isJSON() bool { return f.Format == "json" }

// Success writes data, or its text form in text mode.
func (f *OutputFormatter) Success(data any) error {
	if f.isJSON() {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error writes an error. Details are printed in text mode only when
// verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.isJSON() {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err under code and returns the command's exit error. A
// *storage.Error contributes its code and details.
func (f *OutputFormatter) Fail(code, message string, err error) error {
	var details map[string]any
	var se *storage.Error
	if errors.As(err, &se) {
		details = map[string]any{"code": se.Code}
		for k, v := range se.Details {
			details[k] = v
		}
	}
	text := message
	if err != nil {
		text = fmt.Sprintf("%s: %v", message, err)
	}
	_ = f.Error(code, text, details)
	return WrapExitError(ExitCommandError, message, err)
}

// Documents writes docs as a query result, or as canonical JSON lines
// followed by footer in text mode.
func (f *OutputFormatter) Documents(docs []document.Data, footer string) error {
	if f.isJSON() {
		return f.Success(storage.QueryResult{Documents: docs})
	}
	for _, d := range docs {
		line, err := canonical.Marshal(d)
		if err != nil {
			return err
		}
		fmt.Fprintln(f.Writer, string(line))
	}
	if footer != "" {
		fmt.Fprintln(f.Writer, footer)
	}
	return nil
}

// Changes writes a change feed page. The text footer holds the flags that
// fetch the next page.
func (f *OutputFormatter) Changes(page storage.ChangedDocuments) error {
	if f.isJSON() {
		return f.Success(page)
	}
	return f.Documents(page.Documents, fmt.Sprintf("checkpoint: --since-lwt %s --since-id %q",
		strconv.FormatFloat(page.Checkpoint.LWT, 'f', -1, 64), page.Checkpoint.ID))
}

// WriteOutcome writes the result of a bulk write, one line per conflict
// in text mode.
func (f *OutputFormatter) WriteOutcome(res WriteResult) error {
	if f.isJSON() {
		return f.Success(res)
	}
	for _, c := range res.Conflicts {
		line := fmt.Sprintf("conflict: %s (%s)", c.DocumentID, c.Reason)
		if c.ExistingDocument != nil {
			line += ", stored revision " + c.ExistingDocument.Rev()
		}
		fmt.Fprintln(f.Writer, line)
	}
	return f.Success(fmt.Sprintf("%d document(s) written", len(res.Written)))
}

// VerboseLog writes a diagnostic line when verbose. It goes to ErrWriter
// so JSON output stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}
