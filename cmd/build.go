package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/muesli/reflow/indent"
	"github.com/spf13/cobra"

	"github.com/zjrosen/aircc/internal/build"
	"github.com/zjrosen/aircc/internal/config"
	"github.com/zjrosen/aircc/internal/history"
	"github.com/zjrosen/aircc/internal/log"
	"github.com/zjrosen/aircc/internal/metadata"
	"github.com/zjrosen/aircc/internal/pubsub"
	"github.com/zjrosen/aircc/internal/toolchain"
	"github.com/zjrosen/aircc/internal/tracing"
	"github.com/zjrosen/aircc/internal/ui/styles"
	"github.com/zjrosen/aircc/internal/watcher"
)

func runBuild(cmd *cobra.Command, args []string) error {
	opts, err := build.NewOptions(applyFlagOverrides(cmd, cfg), args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := newBuildEnv(cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer env.Close()

	if watch, _ := cmd.Flags().GetBool("watch"); watch {
		return env.watch(ctx, opts, cfg.Watch.Debounce)
	}
	_, err = env.build(ctx, opts)
	return err
}

// applyFlagOverrides applies the flags viper cannot bind.
func applyFlagOverrides(cmd *cobra.Command, c config.Config) config.Config {
	if cmd.Flags().Changed("return-elimination") {
		on, _ := cmd.Flags().GetBool("return-elimination")
		c.ReturnElimination = &on
	}
	return c
}

// buildEnv owns the process-wide resources shared by every build.
type buildEnv struct {
	driver  *build.Driver
	events  *pubsub.Broker[build.Progress]
	tracing *tracing.Provider
	history *history.DB
	stdout  io.Writer
	stderr  io.Writer
}

func newBuildEnv(c config.Config, stdout, stderr io.Writer) (*buildEnv, error) {
	tp, err := tracing.NewProvider(c.Tracing)
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}

	env := &buildEnv{
		events:  pubsub.NewBrokerWithBuffer[build.Progress](256),
		tracing: tp,
		stdout:  stdout,
		stderr:  stderr,
	}

	runner := toolchain.NewExecRunner(
		toolchain.WithVerbose(c.Verbose),
		toolchain.WithOutput(stdout, stderr),
		toolchain.WithTracer(tp.Tracer()),
	)
	driverOpts := []build.DriverOption{
		build.WithResolver(toolchain.NewDefaultResolver()),
		build.WithTracer(tp.Tracer()),
		build.WithEvents(env.events),
		build.WithOutput(stdout),
	}

	if c.History.Enabled {
		db, err := history.Open(c.History.Path)
		if err != nil {
			// History is a convenience; a broken ledger never blocks a build.
			log.Warn(log.CatStore, "build history unavailable", "path", c.History.Path, "error", err)
			_, _ = fmt.Fprintln(stderr, styles.WarningStyle.Render("warning: build history unavailable: "+err.Error()))
		} else {
			env.history = db
			driverOpts = append(driverOpts, build.WithRecorder(db.Builds()))
		}
	}

	env.driver = build.NewDriver(runner, driverOpts...)
	return env, nil
}

// Close flushes traces and releases the history database.
func (e *buildEnv) Close() {
	if n := e.events.Dropped(); n > 0 {
		log.Warn(log.CatStage, "progress events dropped for slow subscribers", "dropped", n)
	}
	e.events.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.tracing.Shutdown(ctx); err != nil {
		log.Warn(log.CatConfig, "tracing shutdown failed", "error", err)
	}
	if e.history != nil {
		_ = e.history.Close()
	}
}

// build runs one build and prints its summary.
func (e *buildEnv) build(ctx context.Context, opts build.Options) (*build.Result, error) {
	subCtx, cancel := context.WithCancel(ctx)
	stats := &phaseStats{durations: make(map[string]time.Duration)}
	done := make(chan struct{})
	sub := e.events.Subscribe(subCtx)
	go func() {
		defer close(done)
		for ev := range sub {
			stats.observe(ev)
			if opts.Verbose && ev.Type == pubsub.CompletedEvent && ev.Payload.Phase == build.PhaseHerd {
				_, _ = fmt.Fprintf(e.stdout, "herd %s built (%d/%d) in %s\n",
					ev.Payload.Name, ev.Payload.Index+1, ev.Payload.Total, styles.FormatDuration(ev.Payload.Duration))
			}
		}
	}()

	res, err := e.driver.Build(ctx, opts)
	cancel()
	<-done

	if err != nil {
		return nil, err
	}
	_, _ = fmt.Fprintln(e.stderr, renderSummary(res, stats))
	return res, nil
}

// watch rebuilds whenever the input changes, until ctx is cancelled.
// Failed builds are reported and watching continues.
func (e *buildEnv) watch(ctx context.Context, opts build.Options, debounce time.Duration) error {
	w, err := watcher.New(watcher.Config{Path: opts.Input, DebounceDur: debounce})
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	changes, err := w.Start()
	if err != nil {
		return err
	}

	for {
		if _, err := e.build(ctx, opts); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			reportError(e.stderr, err)
		}
		_, _ = fmt.Fprintln(e.stderr, styles.MutedStyle.Render("watching "+opts.Input+" for changes"))

		select {
		case <-ctx.Done():
			return nil
		case <-changes:
			log.Info(log.CatWatch, "input changed, rebuilding", "path", opts.Input)
		}
	}
}

// phaseStats accumulates time spent per build phase from progress events.
type phaseStats struct {
	mu        sync.Mutex
	durations map[string]time.Duration
}

func (s *phaseStats) observe(ev pubsub.Event[build.Progress]) {
	if ev.Type != pubsub.CompletedEvent {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.durations[ev.Payload.Phase] += ev.Payload.Duration
}

func (s *phaseStats) get(phase string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.durations[phase]
}

func renderSummary(res *build.Result, stats *phaseStats) string {
	herds := strconv.Itoa(len(res.Herds))
	if len(res.Herds) > 0 {
		herds += " (" + strings.Join(res.Herds, ", ") + ")"
	}
	rows := [][2]string{
		{"build", res.BuildID},
		{"herds", herds},
		{"deliverable", res.Deliverable},
	}
	if res.Published != "" {
		rows = append(rows, [2]string{"output", res.Published})
	}
	if stats != nil {
		rows = append(rows,
			[2]string{"lowering", styles.FormatDuration(stats.get(build.PhaseStage))},
			[2]string{"herd builds", styles.FormatDuration(stats.get(build.PhaseHerd)) + " cumulative"},
		)
	}
	rows = append(rows, [2]string{"total", styles.FormatDuration(res.Duration)})

	return styles.RenderPanel(styles.KeyValues(rows), "build succeeded", 0,
		styles.StatusSuccessColor)
}

// reportError prints err and, for tool failures, the command that failed.
func reportError(w io.Writer, err error) {
	msg := err.Error()
	head, rest, _ := strings.Cut(msg, "\n")
	_, _ = fmt.Fprintln(w, styles.ErrorStyle.Render("aircc: ")+head)
	if rest != "" {
		_, _ = fmt.Fprintln(w, indent.String(rest, 4))
	}

	var te *toolchain.ToolError
	if errors.As(err, &te) {
		_, _ = fmt.Fprintln(w, "failed command:")
		_, _ = fmt.Fprintln(w, styles.CommandStyle.Render(te.Command.String()))
	}
	if errors.Is(err, metadata.ErrMetadata) {
		_, _ = fmt.Fprintln(w, styles.MutedStyle.Render("the airrt artifact's herd metadata could not be decoded"))
	}
}
