package passes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/zjrosen/aircc/internal/toolchain"
)

// Engine applies a pipeline to a program in place. Implementations report
// unknown passes and malformed pipelines as errors.
type Engine interface {
	Run(ctx context.Context, pipeline Pipeline, prog *Program) error
}

// Compile-time check that OptEngine implements Engine.
var _ Engine = (*OptEngine)(nil)

// OptEngine runs pipelines through the air-opt tool. Programs round-trip
// through scratch files in workDir.
type OptEngine struct {
	runner  toolchain.Runner
	tool    string
	workDir string
}

// NewOptEngine creates an engine that invokes tool (normally "air-opt").
func NewOptEngine(runner toolchain.Runner, tool, workDir string) *OptEngine {
	return &OptEngine{runner: runner, tool: tool, workDir: workDir}
}

// Command returns the air-opt invocation that applies pipeline to in.
func (e *OptEngine) Command(pipeline Pipeline, in, out string) toolchain.Command {
	return toolchain.New(e.tool, in, "--pass-pipeline=builtin.module("+pipeline.String()+")", "-o", out)
}

// Run implements Engine.
func (e *OptEngine) Run(ctx context.Context, pipeline Pipeline, prog *Program) error {
	id := uuid.NewString()
	in := filepath.Join(e.workDir, ".passes-"+id+".in.mlir")
	out := filepath.Join(e.workDir, ".passes-"+id+".out.mlir")
	defer func() {
		_ = os.Remove(in)
		_ = os.Remove(out)
	}()

	if err := prog.WriteFile(in); err != nil {
		return err
	}
	if err := e.runner.Call(ctx, e.Command(pipeline, in, out)); err != nil {
		return err
	}

	data, err := os.ReadFile(out) //nolint:gosec // G304: scratch path built above
	if err != nil {
		return fmt.Errorf("read pass output: %w", err)
	}
	prog.Replace(string(data))
	return nil
}
