package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/aircc/internal/config"
	"github.com/zjrosen/aircc/internal/history"
	"github.com/zjrosen/aircc/internal/log"
	"github.com/zjrosen/aircc/internal/metadata"
	"github.com/zjrosen/aircc/internal/passes"
	"github.com/zjrosen/aircc/internal/pubsub"
	"github.com/zjrosen/aircc/internal/toolchain"
	"github.com/zjrosen/aircc/internal/tracing"
)

// Recorder persists finished builds.
type Recorder interface {
	Record(ctx context.Context, rec history.Record) error
}

// Result describes a successful build.
type Result struct {
	BuildID string
	WorkDir string
	Herds   []string
	// Objects are the linked objects: the control object first, then one
	// per herd in discovery order.
	Objects []string
	// Deliverable is where the linked library now lives: the published
	// path when publishing moved it out of the working directory.
	Deliverable string
	// Published is the output path, empty when no output was requested.
	Published string
	Duration  time.Duration
}

// Driver runs builds. A Driver is safe for sequential reuse; each Build
// owns its working directory.
type Driver struct {
	runner   toolchain.Runner
	engine   passes.Engine
	resolver *toolchain.Resolver
	tracer   trace.Tracer
	events   *pubsub.Broker[Progress]
	recorder Recorder
	out      io.Writer
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithEngine replaces the air-opt backed pass engine used by the module flow.
func WithEngine(e passes.Engine) DriverOption {
	return func(d *Driver) { d.engine = e }
}

// WithResolver enables tool preflight checks.
func WithResolver(r *toolchain.Resolver) DriverOption {
	return func(d *Driver) { d.resolver = r }
}

// WithTracer sets the tracer for build spans.
func WithTracer(t trace.Tracer) DriverOption {
	return func(d *Driver) { d.tracer = t }
}

// WithEvents publishes Progress events to b.
func WithEvents(b *pubsub.Broker[Progress]) DriverOption {
	return func(d *Driver) { d.events = b }
}

// WithRecorder records every finished build, successful or not.
func WithRecorder(r Recorder) DriverOption {
	return func(d *Driver) { d.recorder = r }
}

// WithOutput sets where verbose progress lines are written.
func WithOutput(w io.Writer) DriverOption {
	return func(d *Driver) { d.out = w }
}

// NewDriver creates a Driver that runs tools through runner.
func NewDriver(runner toolchain.Runner, opts ...DriverOption) *Driver {
	d := &Driver{runner: runner, out: io.Discard}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// build carries the state of one Build call.
type build struct {
	*Driver
	id     string
	opts   Options
	layout Layout
}

// Build compiles opts.Input into a deliverable and publishes it to
// opts.Output. The first failure aborts the build; nothing is published
// unless every step succeeded.
func (d *Driver) Build(ctx context.Context, opts Options) (res *Result, err error) {
	start := time.Now()
	id := uuid.NewString()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	ctx, span := tracing.Start(ctx, d.tracer, tracing.SpanBuild,
		attribute.String(tracing.AttrBuildID, id),
		attribute.String(tracing.AttrBuildFlow, opts.Flow),
		attribute.String(tracing.AttrInput, opts.Input),
		attribute.Bool(tracing.AttrShared, opts.Shared),
	)

	rec := history.Record{
		ID:        id,
		Input:     opts.Input,
		Flow:      opts.Flow,
		Shared:    opts.Shared,
		Output:    opts.Output,
		StartedAt: start,
	}
	defer func() {
		tracing.End(span, err)
		rec.Duration = time.Since(start)
		if err != nil {
			rec.Status = history.StatusFailed
			// Tool diagnostics may carry colour escapes.
			rec.Error = ansi.Strip(err.Error())
			var te *toolchain.ToolError
			if errors.As(err, &te) {
				rec.FailedCommand = te.Command.String()
			}
			log.ErrorErr(log.CatStage, "build failed", err, "build", id, "input", opts.Input)
		} else {
			rec.Status = history.StatusSucceeded
			res.Duration = rec.Duration
			log.Info(log.CatStage, "build succeeded", "build", id, "deliverable", rec.Deliverable,
				"duration", rec.Duration)
		}
		d.record(ctx, rec)
	}()

	if opts.Shared && opts.Flow == config.FlowTool {
		return nil, ErrUnimplementedMode
	}
	if err := d.preflight(ctx, opts); err != nil {
		return nil, err
	}

	d.printf(opts, "compiling %s\n", opts.Input)
	workDir, cleanup, err := prepareWorkDir(opts.WorkDir)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	if err := checkWorkDir(workDir); err != nil {
		return nil, err
	}
	d.printf(opts, "created temporary directory %s\n", workDir)

	b := &build{Driver: d, id: id, opts: opts, layout: NewLayout(workDir, opts.Stem())}

	if err := b.lower(ctx); err != nil {
		return nil, err
	}
	if err := b.emit(ctx); err != nil {
		return nil, err
	}

	herds, err := b.discover(ctx)
	if err != nil {
		return nil, err
	}
	rec.Herds = metadata.Names(herds)
	span.SetAttributes(attribute.Int(tracing.AttrHerdCount, len(herds)))
	d.printf(opts, "Compiling herds: %s\n", strings.Join(rec.Herds, " "))

	hb := &herdBuilder{
		runner:  d.runner,
		opts:    opts,
		layout:  b.layout,
		events:  d.events,
		buildID: id,
		tracer:  d.tracer,
	}
	herdObjs, err := hb.buildAll(ctx, herds)
	if err != nil {
		return nil, err
	}
	objs := append([]string{b.layout.ControlObject()}, herdObjs...)

	lib, err := b.link(ctx, objs)
	if err != nil {
		return nil, err
	}
	rec.Deliverable = lib

	published, err := b.publishOutput(ctx, lib)
	if err != nil {
		return nil, err
	}
	if published != "" && opts.MovesOutput() {
		lib = published
		rec.Deliverable = lib
	}

	return &Result{
		BuildID:     id,
		WorkDir:     workDir,
		Herds:       rec.Herds,
		Objects:     objs,
		Deliverable: lib,
		Published:   published,
	}, nil
}

func (d *Driver) preflight(ctx context.Context, opts Options) error {
	if !opts.Preflight || d.resolver == nil {
		return nil
	}
	names := append(opts.Tools.Names(), opts.CC)
	if err := d.resolver.Preflight(ctx, names...); err != nil {
		return fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	return nil
}

func (d *Driver) record(ctx context.Context, rec history.Record) {
	if d.recorder == nil {
		return
	}
	// The build context may already be cancelled or timed out.
	if err := d.recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn(log.CatStore, "failed to record build", "build", rec.ID, "error", err)
	}
}

func (d *Driver) printf(opts Options, format string, args ...any) {
	if opts.Verbose {
		_, _ = fmt.Fprintf(d.out, format, args...)
	}
}

// prepareWorkDir returns the build's working directory. An empty dir
// creates a temporary directory that cleanup removes.
func prepareWorkDir(dir string) (string, func(), error) {
	if dir == "" {
		tmp, err := os.MkdirTemp("", "aircc-")
		if err != nil {
			return "", nil, fmt.Errorf("create working directory: %w", err)
		}
		return tmp, func() {
			if err := os.RemoveAll(tmp); err != nil {
				log.Warn(log.CatStage, "failed to remove working directory", "dir", tmp, "error", err)
			}
		}, nil
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", nil, fmt.Errorf("create working directory: %w", err)
	}
	return dir, func() {}, nil
}

// lower runs the lowering stages. The module flow keeps programs in
// memory; the tool flow hands artifacts between standalone air-opt runs.
func (b *build) lower(ctx context.Context) error {
	if b.opts.Flow == config.FlowTool {
		for _, s := range Plan(b.opts, b.layout) {
			err := b.stage(ctx, s, func(ctx context.Context) error {
				return b.runner.Call(ctx, StageCommand(b.opts, s))
			})
			if err != nil {
				return err
			}
		}
		return nil
	}

	snapshot, err := passes.LoadProgram(b.opts.Input)
	if err != nil {
		return err
	}
	engine := b.engine
	if engine == nil {
		engine = passes.NewOptEngine(b.runner, b.opts.Tools.AirOpt, b.layout.Dir)
	}
	pr := passes.NewRunner(engine, b.opts.Verbose, b.out)

	var chain *passes.Program
	for _, s := range Plan(b.opts, b.layout) {
		prog := chain
		if s.Input == b.opts.Input || prog == nil {
			prog = snapshot.Clone()
		}
		err := b.stage(ctx, s, func(ctx context.Context) error {
			return pr.RunPasses(ctx, s.Pipeline, prog, s.Output)
		})
		if err != nil {
			return err
		}
		if !s.Detached {
			chain = prog
		}
	}
	return nil
}

func (b *build) stage(ctx context.Context, s StageSpec, run func(context.Context) error) (err error) {
	ctx, span := tracing.Start(ctx, b.tracer, tracing.SpanPrefixStage+s.Tag,
		attribute.String(tracing.AttrStageTag, s.Tag),
		attribute.String(tracing.AttrStageOutput, s.Output),
		attribute.String(tracing.AttrPipeline, s.Pipeline.String()),
	)
	defer func() { tracing.End(span, err) }()

	return b.step(PhaseStage, s.Tag, func() error {
		if err := run(ctx); err != nil {
			return fmt.Errorf("stage %s: %w", s.Tag, err)
		}
		return nil
	})
}

func (b *build) emit(ctx context.Context) error {
	return b.step(PhaseEmit, b.layout.ControlObject(), func() error {
		for _, c := range EmissionCommands(b.opts, b.layout) {
			if err := b.runner.Call(ctx, c); err != nil {
				return fmt.Errorf("emit control object: %w", err)
			}
		}
		return nil
	})
}

func (b *build) discover(ctx context.Context) ([]metadata.Herd, error) {
	var herds []metadata.Herd
	err := b.step(PhaseDiscover, b.layout.Stage(TagAirrt), func() error {
		var err error
		herds, err = metadata.Discover(ctx, b.runner, b.opts.Tools.AirTranslate, b.layout.Stage(TagAirrt))
		return err
	})
	if err != nil {
		return nil, err
	}
	trace.SpanFromContext(ctx).AddEvent(tracing.EventHerdsDiscovered,
		trace.WithAttributes(attribute.StringSlice(tracing.AttrHerdName, metadata.Names(herds))))
	return herds, nil
}

func (b *build) link(ctx context.Context, objs []string) (lib string, err error) {
	lib = b.layout.Deliverable(b.opts.Shared)
	ctx, span := tracing.Start(ctx, b.tracer, tracing.SpanLink)
	defer func() { tracing.End(span, err) }()

	err = b.step(PhaseLink, lib, func() error {
		if !b.opts.Shared {
			removed, err := removeStale(lib)
			if err != nil {
				return err
			}
			if removed {
				span.AddEvent(tracing.EventStaleArchive)
			}
		}
		if err := b.runner.Call(ctx, LinkCommand(b.opts, b.layout, objs)); err != nil {
			return fmt.Errorf("link %s: %w", lib, err)
		}
		return nil
	})
	return lib, err
}

func (b *build) publishOutput(ctx context.Context, lib string) (dst string, err error) {
	if b.opts.Output == "" {
		return "", nil
	}
	_, span := tracing.Start(ctx, b.tracer, tracing.SpanPublish)
	defer func() { tracing.End(span, err) }()

	err = b.step(PhasePublish, b.opts.Output, func() error {
		return Publish(lib, b.opts.Output, b.opts.MovesOutput())
	})
	if err != nil {
		return "", err
	}
	return b.opts.Output, nil
}

// step runs fn between Started and Completed/Failed progress events.
func (b *build) step(phase, name string, fn func() error) error {
	start := time.Now()
	b.publish(pubsub.StartedEvent, Progress{Phase: phase, Name: name})
	err := fn()
	p := Progress{Phase: phase, Name: name, Duration: time.Since(start), Err: err}
	if err != nil {
		b.publish(pubsub.FailedEvent, p)
		return err
	}
	log.Debug(log.CatStage, "step completed", "phase", phase, "name", name, "duration", p.Duration)
	b.publish(pubsub.CompletedEvent, p)
	return nil
}

func (b *build) publish(t pubsub.EventType, p Progress) {
	if b.events == nil {
		return
	}
	p.BuildID = b.id
	b.events.Publish(t, p)
}
