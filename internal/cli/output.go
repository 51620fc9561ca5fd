package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/cascadehq/cascade/internal/engine"
	"github.com/cascadehq/cascade/internal/value"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // successful execution
	ExitFailure      = 1 // rejected mutation or failed pass
	ExitCommandError = 2 // command error (bad paths, broken config, lock held)
)

// ExitError carries a specific exit code out of a command.
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

// NewExitError creates an error with a specific exit code.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Non-ExitErrors
// map to ExitFailure.
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

// CLIResponse is the standard JSON response envelope.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error structure for JSON responses.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Success outputs a successful result in the configured format. In
// text mode, data renders with fmt's default formatting; commands
// with richer text output print it themselves and pass JSON-only data
// here.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	if s, ok := data.(string); ok && s != "" {
		fmt.Fprintln(f.Writer, s)
	}
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message},
		})
	}
	fmt.Fprintf(f.Writer, "%s [%s]: %s\n", color.New(color.FgRed).Sprint("error"), code, message)
	return nil
}

// passSummary is the JSON shape of a committed recompute pass.
type passSummary struct {
	Token     string          `json:"token"`
	Sheet     string          `json:"sheet"`
	Trigger   string          `json:"trigger"`
	State     string          `json:"state"`
	Seq       int64           `json:"seq"`
	Nodes     int             `json:"nodes"`
	Evaluated int             `json:"evaluated"`
	Errored   int             `json:"errored"`
	Updates   []updateSummary `json:"updates,omitempty"`
}

// updateSummary is one recomputed cell or aggregate of a pass.
type updateSummary struct {
	Ref   string `json:"ref"`
	Value string `json:"value"`
}

func summarizePass(res engine.PassResult) passSummary {
	s := passSummary{
		Token:     res.Token,
		Sheet:     string(res.Sheet),
		Trigger:   res.Trigger.String(),
		State:     res.State.String(),
		Seq:       res.Seq,
		Nodes:     res.Nodes,
		Evaluated: res.Evaluated,
		Errored:   res.Errored,
	}
	for _, u := range res.Updates {
		s.Updates = append(s.Updates, updateSummary{Ref: u.Ref.String(), Value: value.Display(u.Val)})
	}
	for _, u := range res.AggUpdates {
		s.Updates = append(s.Updates, updateSummary{Ref: u.Ref.String(), Value: value.Display(u.Val)})
	}
	return s
}

// PrintPass renders a pass result. Text mode prints a one-liner with
// the errored count highlighted when non-zero, then each recomputed
// value, so the caller sees what changed without a second show.
func (f *OutputFormatter) PrintPass(res engine.PassResult) error {
	if f.Format == "json" {
		return f.Success(summarizePass(res))
	}
	line := fmt.Sprintf("pass %s: %s seq=%d nodes=%d evaluated=%d",
		res.Token, res.State, res.Seq, res.Nodes, res.Evaluated)
	if res.Errored > 0 {
		line += color.New(color.FgYellow).Sprintf(" errored=%d", res.Errored)
	}
	fmt.Fprintln(f.Writer, line)
	for _, u := range res.Updates {
		f.printUpdate(u.Ref.String(), u.Val)
	}
	for _, u := range res.AggUpdates {
		f.printUpdate(u.Ref.String(), u.Val)
	}
	return nil
}

func (f *OutputFormatter) printUpdate(ref string, v value.Value) {
	display := value.Display(v)
	if _, ok := v.(value.Error); ok {
		display = color.New(color.FgRed).Sprint(display)
	}
	fmt.Fprintf(f.Writer, "  %s = %s\n", ref, display)
}

// PrintPasses renders the results of a whole-workbook recompute, one
// pass per sheet.
func (f *OutputFormatter) PrintPasses(results []engine.PassResult) error {
	if f.Format == "json" {
		summaries := make([]passSummary, len(results))
		for i, res := range results {
			summaries[i] = summarizePass(res)
		}
		return f.Success(map[string]any{"passes": summaries})
	}
	for _, res := range results {
		if res.Err != nil {
			fmt.Fprintf(f.Writer, "%s sheet %s: %v\n",
				color.New(color.FgRed).Sprint("error"), res.Sheet, res.Err)
			continue
		}
		if err := f.PrintPass(res); err != nil {
			return err
		}
	}
	return nil
}

// VerboseLog outputs a message only when verbose mode is enabled.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.Writer, format+"\n", args...)
}
