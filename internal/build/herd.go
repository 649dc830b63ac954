package build

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/zjrosen/aircc/internal/log"
	"github.com/zjrosen/aircc/internal/metadata"
	"github.com/zjrosen/aircc/internal/passes"
	"github.com/zjrosen/aircc/internal/pubsub"
	"github.com/zjrosen/aircc/internal/toolchain"
	"github.com/zjrosen/aircc/internal/tracing"
)

// herdRelower re-lowers a placement fragment before code generation.
var herdRelower = passes.MustParsePipeline("air-lower-linalg-tensors,lower-affine,cse")

// herdRelowerArgs is herdRelower in air-opt flag form.
var herdRelowerArgs = passes.MustArgs(herdRelower)

// RelowerCommand re-lowers one herd's fragment for the code generator.
func RelowerCommand(opts Options, layout Layout, herd string) toolchain.Command {
	all := append([]string{layout.HerdFragment(herd)}, herdRelowerArgs...)
	all = append(all, "-o", layout.HerdLowered(herd))
	return toolchain.New(opts.Tools.AirOpt, all...)
}

// AieccCommand runs the fabric code generator for one herd.
func AieccCommand(opts Options, layout Layout, herd string) toolchain.Command {
	var args []string
	if opts.Verbose {
		args = append(args, "-v")
	}
	if opts.Sysroot != "" {
		args = append(args, "--sysroot", opts.Sysroot)
	}
	args = append(args,
		"--tmpdir", layout.HerdDir(herd),
		"--pathfinder",
		"--no-xbridge", "--no-xchesscc",
		layout.HerdLowered(herd),
	)
	return toolchain.New(opts.Tools.Aiecc, args...)
}

// GlueCompileCommand compiles a herd's glue unit with the host compiler.
func GlueCompileCommand(opts Options, layout Layout, herd string) toolchain.Command {
	args := []string{"-std=c++11", "--target=" + opts.Target, "-g"}
	if opts.Sysroot != "" {
		args = append(args, "--sysroot="+opts.Sysroot)
	}
	args = append(args,
		"-I.",
		"-I"+opts.Sysroot+"/opt/xaiengine/include",
		"-I"+opts.RuntimeLib+"/airhost/include",
		"-I"+opts.RuntimeLib,
		"-DAIE_LIBXAIE_ENABLE", "-fPIC", "-c",
		"-o", layout.HerdObject(herd), layout.HerdSource(herd),
	)
	return toolchain.New(opts.CC, args...)
}

// herdBuilder runs the per-herd sub-toolchains. It holds no mutable state
// shared between herds.
type herdBuilder struct {
	runner  toolchain.Runner
	opts    Options
	layout  Layout
	events  *pubsub.Broker[Progress]
	buildID string
	tracer  trace.Tracer
}

// buildAll builds every herd with at most opts.Jobs running at once and
// returns their objects in discovery order. The first failure cancels the
// remaining herds.
func (b *herdBuilder) buildAll(ctx context.Context, herds []metadata.Herd) ([]string, error) {
	objs := make([]string, len(herds))

	g, gctx := errgroup.WithContext(ctx)
	jobs := b.opts.Jobs
	if jobs < 1 {
		jobs = 1
	}
	g.SetLimit(jobs)

	for i, h := range herds {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error(log.CatHerd, "herd build panicked",
						"herd", h.Name, "panic", r, "stack", string(debug.Stack()))
					err = fmt.Errorf("herd %s: panic: %v", h.Name, r)
				}
			}()

			obj, err := b.build(gctx, i, len(herds), h)
			if err != nil {
				return fmt.Errorf("herd %s: %w", h.Name, err)
			}
			objs[i] = obj
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return objs, nil
}

func (b *herdBuilder) build(ctx context.Context, index, total int, h metadata.Herd) (obj string, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ctx, span := tracing.Start(ctx, b.tracer, tracing.SpanPrefixHerd+h.Name,
		attribute.String(tracing.AttrHerdName, h.Name),
		attribute.Int(tracing.AttrHerdIndex, index),
	)
	start := time.Now()
	b.publish(pubsub.StartedEvent, Progress{Name: h.Name, Index: index, Total: total})
	defer func() {
		tracing.End(span, err)
		p := Progress{Name: h.Name, Index: index, Total: total, Duration: time.Since(start), Err: err}
		if err != nil {
			b.publish(pubsub.FailedEvent, p)
			return
		}
		b.publish(pubsub.CompletedEvent, p)
	}()

	name := h.Name
	if err := b.runner.Call(ctx, RelowerCommand(b.opts, b.layout, name)); err != nil {
		return "", err
	}
	if err := b.runner.Call(ctx, AieccCommand(b.opts, b.layout, name)); err != nil {
		return "", err
	}
	if err := copyFile(b.layout.HerdGenerated(name), b.layout.HerdInclude(name)); err != nil {
		return "", err
	}
	if err := writeWrapper(b.layout.HerdSource(name), name, b.layout.HerdInclude(name)); err != nil {
		return "", err
	}
	if err := b.runner.Call(ctx, GlueCompileCommand(b.opts, b.layout, name)); err != nil {
		return "", err
	}

	log.Debug(log.CatHerd, "herd built", "herd", name, "index", index, "duration", time.Since(start))
	return b.layout.HerdObject(name), nil
}

func (b *herdBuilder) publish(t pubsub.EventType, p Progress) {
	if b.events == nil {
		return
	}
	p.BuildID = b.buildID
	p.Phase = PhaseHerd
	b.events.Publish(t, p)
}

// copyFile copies src to dst, replacing dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // G304: build artifact
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644) //nolint:gosec // G304: build artifact
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
