package build

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/aircc/internal/config"
	"github.com/zjrosen/aircc/internal/passes"
)

func planOptions(flow string) Options {
	return Options{
		Input:      "/src/matmul.mlir",
		RowOffset:  2,
		ColOffset:  7,
		Target:     config.DefaultTarget,
		CC:         "clang",
		RuntimeLib: "/opt/air/runtime_lib",
		Flow:       flow,
		Jobs:       1,
		Tools:      config.DefaultTools(),
	}
}

func tags(stages []StageSpec) []string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = s.Tag
	}
	return out
}

func TestPlan_ModuleFlowStages(t *testing.T) {
	opts := planOptions(config.FlowModule)
	layout := NewLayout("/w", "matmul.mlir")

	stages := Plan(opts, layout)
	require.Equal(t, []string{TagPlacement, TagAirrt, TagAieCtrl, TagRefback, TagLLVM}, tags(stages))

	placement := stages[0]
	require.True(t, placement.Detached)
	require.Empty(t, placement.Output)
	require.Equal(t, opts.Input, placement.Input)
	require.Equal(t,
		"air-to-aie{air-to-aie-emit-while-loop=false air-to-aie-row-offset=2 air-to-aie-col-offset=7 air-to-aie-output-prefix=/w/},builtin.func(convert-linalg-to-loops)",
		placement.Pipeline.String())

	airrt := stages[1]
	require.Equal(t, "/w/airrt.matmul.mlir", airrt.Output)
	require.Equal(t,
		"air-to-aie{air-to-aie-emit-while-loop=true air-to-aie-row-offset=2 air-to-aie-col-offset=7 air-to-aie-output-prefix=/w/},convert-vector-to-llvm,air-to-std,air-lower-linalg-tensors,canonicalize,cse",
		airrt.Pipeline.String())

	ctrl := stages[2]
	require.Equal(t, airrt.Output, ctrl.Input)
	require.Equal(t, "airrt-to-llvm,func-bufferize,builtin.func(finalizing-bufferize)", ctrl.Pipeline.String())

	refback := stages[3]
	require.True(t, refback.Detached)
	require.Equal(t, opts.Input, refback.Input)
	require.Equal(t, "/w/refback.matmul.mlir", refback.Output)

	llvm := stages[4]
	require.Equal(t, ctrl.Output, llvm.Input)
	require.Equal(t, "/w/llvm.matmul.mlir", llvm.Output)
	require.Equal(t,
		"lower-affine,convert-scf-to-std,convert-memref-to-llvm,convert-std-to-llvm,canonicalize,cse",
		llvm.Pipeline.String())
}

func TestPlan_ToolFlowHasNoRefback(t *testing.T) {
	stages := Plan(planOptions(config.FlowTool), NewLayout("/w", "x.mlir"))
	require.Equal(t, []string{TagPlacement, TagAirrt, TagAieCtrl, TagLLVM}, tags(stages))
}

func TestPlan_ReturnElimination(t *testing.T) {
	opts := planOptions(config.FlowTool)
	opts.ReturnElimination = true
	stages := Plan(opts, NewLayout("/w", "x.mlir"))
	llvm := stages[len(stages)-1]
	require.Equal(t, "air-return-elimination", llvm.Pipeline.Names()[0])

	opts.ReturnElimination = false
	stages = Plan(opts, NewLayout("/w", "x.mlir"))
	require.NotContains(t, stages[len(stages)-1].Pipeline.Names(), "air-return-elimination")
}

func TestStageCommand_DiscardsDetachedOutput(t *testing.T) {
	opts := planOptions(config.FlowTool)
	stages := Plan(opts, NewLayout("/w", "x.mlir"))

	cmd := StageCommand(opts, stages[0])
	require.Equal(t, "air-opt", cmd.Name)
	require.Equal(t, opts.Input, cmd.Args[0])
	require.Equal(t, os.DevNull, cmd.Output())

	cmd = StageCommand(opts, stages[1])
	require.Equal(t, "/w/airrt.x.mlir", cmd.Output())
	require.Equal(t, "--pass-pipeline=builtin.module("+stages[1].Pipeline.String()+")", cmd.Args[1])
}

func TestEmissionCommands(t *testing.T) {
	opts := planOptions(config.FlowModule)
	layout := NewLayout("/w", "x.mlir")

	cmds := EmissionCommands(opts, layout)
	require.Len(t, cmds, 4)
	require.Equal(t, "aie-translate --mlir-to-llvmir /w/llvm.x.mlir -o /w/x.mlir.ll", cmds[0].String())
	require.Equal(t, "opt -O3 /w/x.mlir.ll -o /w/x.mlir.opt.bc", cmds[1].String())
	require.Equal(t, "llvm-dis /w/x.mlir.opt.bc -o /w/x.mlir.opt.ll", cmds[2].String())
	require.Equal(t,
		"clang -Wno-override-module -fPIC --target=aarch64-linux-gnu -c /w/x.mlir.opt.ll -o /w/x.mlir.o",
		cmds[3].String())

	require.Equal(t, "air-translate --airrt-generate-json /w/airrt.x.mlir",
		MetadataCommand(opts, layout).String())
}

func TestHerdCommands(t *testing.T) {
	opts := planOptions(config.FlowModule)
	opts.Sysroot = "/sysroot"
	layout := NewLayout("/w", "x.mlir")

	require.Equal(t,
		"air-opt /w/aie.h0.mlir -air-lower-linalg-tensors -lower-affine -cse -o /w/aiecc.h0.mlir",
		RelowerCommand(opts, layout, "h0").String())

	require.Equal(t,
		"aiecc.py --sysroot /sysroot --tmpdir /w/h0 --pathfinder --no-xbridge --no-xchesscc /w/aiecc.h0.mlir",
		AieccCommand(opts, layout, "h0").String())

	opts.Verbose = true
	require.Equal(t, "-v", AieccCommand(opts, layout, "h0").Args[0])

	cc := GlueCompileCommand(opts, layout, "h0")
	require.Equal(t, "clang", cc.Name)
	require.Equal(t, []string{
		"-std=c++11", "--target=aarch64-linux-gnu", "-g", "--sysroot=/sysroot",
		"-I.", "-I/sysroot/opt/xaiengine/include",
		"-I/opt/air/runtime_lib/airhost/include", "-I/opt/air/runtime_lib",
		"-DAIE_LIBXAIE_ENABLE", "-fPIC", "-c",
		"-o", "/w/x.mlir.h0.o", "/w/x.mlir.h0.cpp",
	}, cc.Args)
}

func TestLayout_Paths(t *testing.T) {
	l := NewLayout("/w", "x.mlir")
	require.Equal(t, "/w/placement.x.mlir", l.Stage(TagPlacement))
	require.Equal(t, "/w/", l.OutputPrefix())
	require.Equal(t, "/w/h/aie_inc.cpp", l.HerdGenerated("h"))
	require.Equal(t, "/w/x.mlir.h.inc", l.HerdInclude("h"))
	require.Equal(t, "/w/x.mlir.a", l.Deliverable(false))
	require.Equal(t, "/w/x.mlir.so", l.Deliverable(true))
}

func TestNewOptions(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "x.mlir")
	require.NoError(t, os.WriteFile(input, []byte("module {}\n"), 0600))

	cfg := config.Defaults()
	cfg.Jobs = 3
	opts, err := NewOptions(cfg, input)
	require.NoError(t, err)
	require.Equal(t, input, opts.Input)
	require.Equal(t, "x.mlir", opts.Stem())
	require.Equal(t, 3, opts.Jobs)
	require.False(t, opts.MovesOutput())

	_, err = NewOptions(cfg, filepath.Join(dir, "missing.mlir"))
	require.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = NewOptions(cfg, dir)
	require.ErrorIs(t, err, config.ErrInvalidConfig)

	cfg.Flow = config.FlowTool
	cfg.Shared = true
	_, err = NewOptions(cfg, input)
	require.ErrorIs(t, err, ErrUnimplementedMode)
}

func TestNewOptions_ExtraPasses(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "x.mlir")
	require.NoError(t, os.WriteFile(input, []byte("module {}\n"), 0600))

	cfg := config.Defaults()
	cfg.Stages = map[string]config.StageConfig{
		TagLLVM:    {ExtraPasses: "canonicalize,builtin.func(cse)"},
		TagRefback: {ExtraPasses: "  "},
	}
	opts, err := NewOptions(cfg, input)
	require.NoError(t, err)
	require.Equal(t, "canonicalize,builtin.func(cse)", opts.ExtraPasses[TagLLVM].String())
	require.NotContains(t, opts.ExtraPasses, TagRefback)

	stages := Plan(opts, NewLayout("/w", opts.Stem()))
	last := stages[len(stages)-1]
	require.Equal(t, TagLLVM, last.Tag)
	require.True(t, strings.HasSuffix(last.Pipeline.String(), "cse,canonicalize,builtin.func(cse)"))
	require.False(t, strings.Contains(stages[0].Pipeline.String(), "builtin.func(cse)"))
}

func TestNewOptions_ExtraPassesRejected(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "x.mlir")
	require.NoError(t, os.WriteFile(input, []byte("module {}\n"), 0600))

	tests := []struct {
		name   string
		flow   string
		stages map[string]config.StageConfig
		syntax bool
	}{
		{name: "malformed", flow: config.FlowModule, stages: map[string]config.StageConfig{TagLLVM: {ExtraPasses: "cse{"}}, syntax: true},
		{name: "unknown stage", flow: config.FlowModule, stages: map[string]config.StageConfig{"bogus": {ExtraPasses: "cse"}}},
		{name: "refback in tool flow", flow: config.FlowTool, stages: map[string]config.StageConfig{TagRefback: {ExtraPasses: "cse"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Defaults()
			cfg.Flow = tt.flow
			cfg.Stages = tt.stages
			_, err := NewOptions(cfg, input)
			require.ErrorIs(t, err, config.ErrInvalidConfig)
			var se *passes.SyntaxError
			require.Equal(t, tt.syntax, errors.As(err, &se))
		})
	}
}

func TestNewOptions_WorkDirMustFitPassOption(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "x.mlir")
	require.NoError(t, os.WriteFile(input, []byte("module {}\n"), 0600))

	for _, bad := range []string{"has space", "tab\tdir", "brace}dir"} {
		cfg := config.Defaults()
		cfg.TmpDir = filepath.Join(dir, bad)
		_, err := NewOptions(cfg, input)
		require.ErrorIs(t, err, config.ErrInvalidConfig, bad)
		require.NoDirExists(t, cfg.TmpDir)
	}
}

func TestStageTags(t *testing.T) {
	for _, flow := range []string{config.FlowModule, config.FlowTool} {
		require.Equal(t, StageTags(flow), tags(Plan(planOptions(flow), NewLayout("/w", "x.mlir"))), flow)
	}
}
