package toolchain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrToolFailed matches every *ToolError.
	ErrToolFailed = errors.New("external tool failed")

	// ErrToolNotFound indicates a configured tool is not on PATH.
	ErrToolNotFound = errors.New("tool not found")
)

// stderrTailLines bounds how much of a tool's stderr is kept in errors.
const stderrTailLines = 20

// ToolError reports a tool that exited non-zero, could not be started,
// or was killed by context cancellation.
type ToolError struct {
	Command  Command
	ExitCode int
	Stderr   string
	// Err is the underlying cause when the process did not run to completion.
	Err error
}

func (e *ToolError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "error encountered while running: %s", e.Command)
	switch {
	case e.Err != nil:
		fmt.Fprintf(&b, ": %v", e.Err)
	default:
		fmt.Fprintf(&b, " (exit status %d)", e.ExitCode)
	}
	if tail := Tail(e.Stderr, stderrTailLines); tail != "" {
		b.WriteString("\n")
		b.WriteString(tail)
	}
	return b.String()
}

// Is reports ErrToolFailed as a match.
func (e *ToolError) Is(target error) bool {
	return target == ErrToolFailed
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// MissingToolsError lists tools that could not be resolved.
type MissingToolsError struct {
	Names []string
}

func (e *MissingToolsError) Error() string {
	return fmt.Sprintf("%s: %s", ErrToolNotFound, strings.Join(e.Names, ", "))
}

func (e *MissingToolsError) Is(target error) bool {
	return target == ErrToolNotFound
}

// Tail returns the last n non-empty lines of s.
func Tail(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
