package build

import (
	"os"

	"github.com/zjrosen/aircc/internal/config"
	"github.com/zjrosen/aircc/internal/passes"
	"github.com/zjrosen/aircc/internal/toolchain"
)

// Stage tags. Each names the artifact "{tag}.{stem}" the stage produces.
const (
	TagPlacement = "placement"
	TagAirrt     = "airrt"
	TagAieCtrl   = "aie_ctrl"
	TagRefback   = "refback"
	TagLLVM      = "llvm"
)

// StageSpec is one lowering stage.
type StageSpec struct {
	Tag      string
	Pipeline passes.Pipeline
	// Input is the file the stage lowers: the build input or an earlier
	// stage's artifact.
	Input string
	// Output is the artifact path. Empty means the result is discarded.
	Output string
	// Detached stages fork from the input program; their result does not
	// feed later stages.
	Detached bool
}

func airToAie(opts Options, layout Layout, emitWhileLoop bool) passes.Pass {
	return passes.NewPass("air-to-aie").
		With("air-to-aie-emit-while-loop", emitWhileLoop).
		With("air-to-aie-row-offset", opts.RowOffset).
		With("air-to-aie-col-offset", opts.ColOffset).
		With("air-to-aie-output-prefix", layout.OutputPrefix())
}

// toStd lowers vectors and AIR ops to standard dialects and tidies up.
var toStd = passes.Passes(
	"convert-vector-to-llvm",
	"air-to-std",
	"air-lower-linalg-tensors",
	"canonicalize",
	"cse",
)

// Plan returns the lowering stages for opts in execution order.
func Plan(opts Options, layout Layout) []StageSpec {
	airrt := layout.Stage(TagAirrt)
	aieCtrl := layout.Stage(TagAieCtrl)

	stages := []StageSpec{
		{
			Tag: TagPlacement,
			Pipeline: passes.Pipeline{
				airToAie(opts, layout, false),
				passes.Nest("builtin.func", passes.NewPass("convert-linalg-to-loops")),
			},
			Input:    opts.Input,
			Detached: true,
		},
		{
			Tag:      TagAirrt,
			Pipeline: passes.Pipeline{airToAie(opts, layout, true)}.Concat(toStd),
			Input:    opts.Input,
			Output:   airrt,
		},
		{
			Tag: TagAieCtrl,
			Pipeline: passes.Passes("airrt-to-llvm", "func-bufferize").
				Then(passes.Nest("builtin.func", passes.NewPass("finalizing-bufferize"))),
			Input:  airrt,
			Output: aieCtrl,
		},
	}

	if opts.Flow == config.FlowModule {
		stages = append(stages, StageSpec{
			Tag: TagRefback,
			Pipeline: toStd.Concat(passes.Passes(
				"airrt-to-llvm",
				"canonicalize",
				"cse",
			)),
			Input:    opts.Input,
			Output:   layout.Stage(TagRefback),
			Detached: true,
		})
	}

	var llvm passes.Pipeline
	if opts.ReturnElimination {
		llvm = llvm.Then(passes.NewPass("air-return-elimination"))
	}
	llvm = llvm.Concat(passes.Passes(
		"lower-affine",
		"convert-scf-to-std",
		"convert-memref-to-llvm",
		"convert-std-to-llvm",
		"canonicalize",
		"cse",
	))
	stages = append(stages, StageSpec{
		Tag:      TagLLVM,
		Pipeline: llvm,
		Input:    aieCtrl,
		Output:   layout.Stage(TagLLVM),
	})

	for i, s := range stages {
		if extra := opts.ExtraPasses[s.Tag]; len(extra) > 0 {
			stages[i].Pipeline = s.Pipeline.Concat(extra)
		}
	}
	return stages
}

// StageTags lists the stage tags of flow in execution order.
func StageTags(flow string) []string {
	if flow == config.FlowModule {
		return []string{TagPlacement, TagAirrt, TagAieCtrl, TagRefback, TagLLVM}
	}
	return []string{TagPlacement, TagAirrt, TagAieCtrl, TagLLVM}
}

// StageCommand is the standalone air-opt invocation of a stage, used by
// the tool flow.
func StageCommand(opts Options, s StageSpec) toolchain.Command {
	out := s.Output
	if out == "" {
		out = os.DevNull
	}
	return passes.NewOptEngine(nil, opts.Tools.AirOpt, "").Command(s.Pipeline, s.Input, out)
}

// EmissionCommands turn the llvm-stage artifact into the control object.
func EmissionCommands(opts Options, layout Layout) []toolchain.Command {
	return []toolchain.Command{
		toolchain.New(opts.Tools.AieTranslate, "--mlir-to-llvmir", layout.Stage(TagLLVM), "-o", layout.ControlLL()),
		toolchain.New(opts.Tools.Opt, "-O3", layout.ControlLL(), "-o", layout.ControlOptBC()),
		toolchain.New(opts.Tools.LLVMDis, layout.ControlOptBC(), "-o", layout.ControlOptLL()),
		toolchain.New(opts.Tools.Clang, "-Wno-override-module", "-fPIC", "--target="+opts.Target,
			"-c", layout.ControlOptLL(), "-o", layout.ControlObject()),
	}
}

// MetadataCommand queries the airrt artifact for herd records.
func MetadataCommand(opts Options, layout Layout) toolchain.Command {
	return toolchain.New(opts.Tools.AirTranslate, "--airrt-generate-json", layout.Stage(TagAirrt))
}
