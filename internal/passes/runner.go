package passes

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/zjrosen/aircc/internal/log"
)

// Runner applies pipelines with an Engine and optionally persists results.
type Runner struct {
	engine  Engine
	verbose bool
	out     io.Writer
}

// NewRunner creates a Runner. When verbose, each pipeline is printed to out
// before it runs.
func NewRunner(engine Engine, verbose bool, out io.Writer) *Runner {
	if out == nil {
		out = io.Discard
	}
	return &Runner{engine: engine, verbose: verbose, out: out}
}

// RunPasses applies pipeline to prog. When outputFile is non-empty the
// resulting text is written there.
func (r *Runner) RunPasses(ctx context.Context, pipeline Pipeline, prog *Program, outputFile string) error {
	text := pipeline.String()
	if r.verbose {
		_, _ = fmt.Fprintln(r.out, "Running:", text)
	}

	start := time.Now()
	if err := r.engine.Run(ctx, pipeline, prog); err != nil {
		log.ErrorErr(log.CatPass, "pipeline failed", err, "program", prog.Name(), "pipeline", text)
		return fmt.Errorf("run passes %s: %w", text, err)
	}
	log.Debug(log.CatPass, "pipeline applied",
		"program", prog.Name(),
		"passes", len(pipeline),
		"duration", time.Since(start))

	if outputFile != "" {
		if err := prog.WriteFile(outputFile); err != nil {
			return err
		}
	}
	return nil
}
