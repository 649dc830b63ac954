package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/aircc/internal/log"
	"github.com/zjrosen/aircc/internal/tracing"
)

// Output is the result of a captured invocation.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner invokes external tools.
type Runner interface {
	// Call runs cmd and fails with a *ToolError on a non-zero exit.
	Call(ctx context.Context, cmd Command) error
	// Capture runs cmd and returns its output. A non-zero exit is reported
	// in Output.ExitCode, not as an error.
	Capture(ctx context.Context, cmd Command) (Output, error)
}

// CommandFactoryFunc creates an exec.Cmd. Tests use it to substitute processes.
type CommandFactoryFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Compile-time check that ExecRunner implements Runner.
var _ Runner = (*ExecRunner)(nil)

// ExecRunner runs tools with os/exec.
type ExecRunner struct {
	verbose        bool
	stdout         io.Writer
	stderr         io.Writer
	commandFactory CommandFactoryFunc
	tracer         trace.Tracer
}

// Option configures an ExecRunner.
type Option func(*ExecRunner)

// WithVerbose echoes each command line to the stdout writer before it runs
// and tees tool output to the user.
func WithVerbose(verbose bool) Option {
	return func(r *ExecRunner) { r.verbose = verbose }
}

// WithOutput sets the writers used for echo and tee. Defaults are os.Stdout
// and os.Stderr.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(r *ExecRunner) {
		r.stdout = stdout
		r.stderr = stderr
	}
}

// WithCommandFactory sets a custom command factory for testing.
func WithCommandFactory(fn CommandFactoryFunc) Option {
	return func(r *ExecRunner) { r.commandFactory = fn }
}

// WithTracer records a span per invocation.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *ExecRunner) { r.tracer = tracer }
}

// NewExecRunner creates an ExecRunner.
func NewExecRunner(opts ...Option) *ExecRunner {
	r := &ExecRunner{
		stdout:         os.Stdout,
		stderr:         os.Stderr,
		commandFactory: exec.CommandContext,
		tracer:         tracing.Noop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Call implements Runner.
func (r *ExecRunner) Call(ctx context.Context, c Command) error {
	var stdout io.Writer = io.Discard
	if r.verbose {
		stdout = r.stdout
	}
	out, err := r.run(ctx, c, stdout)
	if err != nil {
		return err
	}
	if out.ExitCode != 0 {
		return &ToolError{Command: c, ExitCode: out.ExitCode, Stderr: out.Stderr}
	}
	return nil
}

// Capture implements Runner.
func (r *ExecRunner) Capture(ctx context.Context, c Command) (Output, error) {
	return r.run(ctx, c, nil)
}

// run executes c. Stdout is captured unless passthrough is non-nil.
func (r *ExecRunner) run(ctx context.Context, c Command, passthrough io.Writer) (out Output, err error) {
	ctx, span := tracing.Start(ctx, r.tracer, tracing.SpanPrefixTool+c.Name,
		attribute.String(tracing.AttrToolName, c.Name),
		attribute.String(tracing.AttrToolArgs, strings.Join(c.Args, " ")),
	)
	defer func() {
		span.SetAttributes(attribute.Int(tracing.AttrToolExitCode, out.ExitCode))
		if err == nil && out.ExitCode != 0 {
			tracing.End(span, fmt.Errorf("exit status %d", out.ExitCode))
			return
		}
		tracing.End(span, err)
	}()

	if r.verbose {
		_, _ = fmt.Fprintln(r.stdout, c.String())
	}

	//nolint:gosec // G204: tool names and args come from the build plan
	cmd := r.commandFactory(ctx, c.Name, c.Args...)
	if c.Dir != "" {
		cmd.Dir = c.Dir
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	if passthrough != nil {
		cmd.Stdout = passthrough
	} else {
		cmd.Stdout = &stdoutBuf
	}
	if r.verbose {
		cmd.Stderr = io.MultiWriter(&stderrBuf, r.stderr)
	} else {
		cmd.Stderr = &stderrBuf
	}

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	out = Output{Stdout: stdoutBuf.String(), Stderr: stderrBuf.String()}

	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() != nil:
			out.ExitCode = -1
			log.Warn(log.CatTool, "tool cancelled", "cmd", c.Name, "duration", duration)
			return out, &ToolError{Command: c, ExitCode: -1, Stderr: out.Stderr, Err: ctx.Err()}
		case errors.As(runErr, &exitErr):
			out.ExitCode = exitErr.ExitCode()
		default:
			out.ExitCode = -1
			log.ErrorErr(log.CatTool, "tool failed to start", runErr, "cmd", c.Name)
			return out, &ToolError{Command: c, ExitCode: -1, Err: runErr}
		}
	}

	log.Debug(log.CatTool, "ran tool",
		"cmd", c.String(),
		"exit", out.ExitCode,
		"duration", duration)
	return out, nil
}
