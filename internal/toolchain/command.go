// Package toolchain runs the external compiler tools the driver delegates to.
//
// Tools are invoked as processes in one of two modes: Call (fire-and-check,
// a non-zero exit is a ToolError) and Capture (stdout and exit code are
// returned to the caller, only a failure to start is an error).
package toolchain

import (
	"strings"
)

// Command is one external tool invocation.
type Command struct {
	Name string
	Args []string
	// Dir is the process working directory. Empty means the driver's cwd.
	Dir string
}

// New builds a Command from a tool name and its arguments.
func New(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

// InDir returns a copy of c that runs in dir.
func (c Command) InDir(dir string) Command {
	c.Dir = dir
	return c
}

// String renders the command line as a user could paste it into a shell.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, quote(c.Name))
	for _, a := range c.Args {
		parts = append(parts, quote(a))
	}
	return strings.Join(parts, " ")
}

// Output returns the value following the first "-o" argument, or "".
func (c Command) Output() string {
	for i, a := range c.Args {
		if a == "-o" && i+1 < len(c.Args) {
			return c.Args[i+1]
		}
	}
	return ""
}

func quote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`*?[]{}()<>|&;#~!") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
