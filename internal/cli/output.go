package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/boyhagemann/stratum/internal/eav"
	"github.com/boyhagemann/stratum/internal/record"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Domain failure (not found, invalid data, no-op update)
	ExitCommandError = 2 // Command error (bad paths, unreadable files, bad flags)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
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
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format  string
	Writer  io.Writer
	Verbose bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string `json:"status"`          // "ok" or "error"
	Data   any    `json:"data,omitempty"`  // success payload
	Error  string `json:"error,omitempty"` // error message
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Rows renders resolved records: one JSON document per row, or aligned
// key=value text lines.
func (f *OutputFormatter) Rows(rows []record.Row) error {
	if f.Format == "json" {
		docs := make([]map[string]any, len(rows))
		for i, row := range rows {
			docs[i] = rowDocument(row)
		}
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: docs})
	}

	for _, row := range rows {
		fmt.Fprintln(f.Writer, renderRow(row))
	}
	fmt.Fprintf(f.Writer, "%d row(s)\n", len(rows))
	return nil
}

// rowDocument flattens a row into a JSON-encodable map: _id and _version
// alongside the field values.
func rowDocument(row record.Row) map[string]any {
	doc := make(map[string]any, len(row.Values)+2)
	doc["_id"] = row.ID
	doc["_version"] = row.Version
	for name, value := range row.Values {
		doc[name] = eav.ToAny(value)
	}
	return doc
}

func renderRow(row record.Row) string {
	names := make([]string, 0, len(row.Values))
	for name := range row.Values {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := []string{
		fmt.Sprintf("_id=%s", row.ID),
		fmt.Sprintf("_version=%d", row.Version),
	}
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%v", name, eav.ToAny(row.Values[name])))
	}
	return strings.Join(parts, " ")
}
