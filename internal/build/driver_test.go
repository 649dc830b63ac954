package build

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/aircc/internal/cachemanager"
	"github.com/zjrosen/aircc/internal/config"
	"github.com/zjrosen/aircc/internal/history"
	"github.com/zjrosen/aircc/internal/metadata"
	"github.com/zjrosen/aircc/internal/passes"
	"github.com/zjrosen/aircc/internal/pubsub"
	"github.com/zjrosen/aircc/internal/toolchain"
	"github.com/zjrosen/aircc/internal/toolchain/mock"
)

func buildOptions(t require.TestingT, dir, flow string) Options {
	input := filepath.Join(dir, "matmul.mlir")
	require.NoError(t, os.WriteFile(input, []byte("module {}\n"), 0600))

	opts := planOptions(flow)
	opts.Input = input
	opts.WorkDir = filepath.Join(dir, "work")
	opts.Jobs = 2
	return opts
}

type recorder struct {
	mu      sync.Mutex
	records []history.Record
}

func (r *recorder) Record(_ context.Context, rec history.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *recorder) last(t *testing.T) history.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.records)
	return r.records[len(r.records)-1]
}

func TestBuild_StaticArchiveTwoHerds(t *testing.T) {
	for _, flow := range []string{config.FlowModule, config.FlowTool} {
		t.Run(flow, func(t *testing.T) {
			dir := t.TempDir()
			opts := buildOptions(t, dir, flow)
			opts.Output = filepath.Join(dir, "libmatmul.a")

			tc := mock.NewToolchain("herd_0", "herd_1")
			rec := &recorder{}
			res, err := NewDriver(tc, WithRecorder(rec)).Build(context.Background(), opts)
			require.NoError(t, err)

			layout := NewLayout(opts.WorkDir, "matmul.mlir")
			require.Equal(t, []string{"herd_0", "herd_1"}, res.Herds)
			require.Equal(t, []string{
				layout.ControlObject(),
				layout.HerdObject("herd_0"),
				layout.HerdObject("herd_1"),
			}, res.Objects)
			require.Equal(t, opts.Output, res.Published)

			members, err := mock.ReadArchive(opts.Output)
			require.NoError(t, err)
			require.Equal(t, []string{"matmul.mlir.o", "matmul.mlir.herd_0.o", "matmul.mlir.herd_1.o"}, members)

			require.Len(t, tc.CallsTo("aiecc.py"), 2)
			require.Len(t, tc.CallsTo("llvm-ar"), 1)

			require.FileExists(t, res.Deliverable)
			if flow == config.FlowTool {
				require.NoFileExists(t, layout.Deliverable(false), "tool flow moves the deliverable")
				require.Equal(t, opts.Output, res.Deliverable)
			} else {
				require.Equal(t, layout.Deliverable(false), res.Deliverable)
				require.FileExists(t, layout.Stage(TagRefback))
			}

			got := rec.last(t)
			require.Equal(t, res.Deliverable, got.Deliverable)
			require.Equal(t, history.StatusSucceeded, got.Status)
			require.Equal(t, res.BuildID, got.ID)
			require.Equal(t, []string{"herd_0", "herd_1"}, got.Herds)
		})
	}
}

func TestBuild_SharedLibrary(t *testing.T) {
	dir := t.TempDir()
	opts := buildOptions(t, dir, config.FlowModule)
	opts.Shared = true
	opts.Output = filepath.Join(dir, "libmatmul.so")

	tc := mock.NewToolchain("h")
	res, err := NewDriver(tc).Build(context.Background(), opts)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(res.Deliverable, ".so"))

	data, err := os.ReadFile(opts.Output)
	require.NoError(t, err)
	require.Equal(t, "matmul.mlir.o\nmatmul.mlir.h.o\n", string(data))
	require.Empty(t, tc.CallsTo("llvm-ar"))
}

func TestBuild_NoHerds(t *testing.T) {
	dir := t.TempDir()
	opts := buildOptions(t, dir, config.FlowModule)

	tc := mock.NewToolchain()
	res, err := NewDriver(tc).Build(context.Background(), opts)
	require.NoError(t, err)
	require.Empty(t, res.Herds)
	require.Equal(t, []string{NewLayout(opts.WorkDir, "matmul.mlir").ControlObject()}, res.Objects)
	require.Empty(t, tc.CallsTo("aiecc.py"))
	require.Empty(t, res.Published)
}

func TestBuild_SharedToolFlowRejectedBeforeAnyTool(t *testing.T) {
	dir := t.TempDir()
	opts := buildOptions(t, dir, config.FlowTool)
	opts.Shared = true

	tc := mock.NewToolchain("h")
	_, err := NewDriver(tc).Build(context.Background(), opts)
	require.ErrorIs(t, err, ErrUnimplementedMode)
	require.Zero(t, tc.CallCount())
}

func TestBuild_FailureAbortsWithoutOutput(t *testing.T) {
	cases := map[string]func(toolchain.Command) bool{
		"placement": func(c toolchain.Command) bool {
			return strings.Contains(c.String(), "emit-while-loop=false")
		},
		"emission": func(c toolchain.Command) bool { return c.Name == "llvm-dis" },
		"herd":     func(c toolchain.Command) bool { return c.Name == "aiecc.py" && strings.HasSuffix(c.Args[len(c.Args)-1], "aiecc.h1.mlir") },
		"glue":     func(c toolchain.Command) bool { return c.Name == "clang" && c.Args[0] == "-std=c++11" },
		"link":     func(c toolchain.Command) bool { return c.Name == "llvm-ar" },
	}

	for name, fail := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			opts := buildOptions(t, dir, config.FlowTool)
			opts.Output = filepath.Join(dir, "lib.a")

			tc := mock.NewToolchain("h0", "h1")
			tc.FailFunc = fail
			rec := &recorder{}

			res, err := NewDriver(tc, WithRecorder(rec)).Build(context.Background(), opts)
			require.Error(t, err)
			require.Nil(t, res)
			require.ErrorIs(t, err, toolchain.ErrToolFailed)
			require.NoFileExists(t, opts.Output)

			got := rec.last(t)
			require.Equal(t, history.StatusFailed, got.Status)
			require.NotEmpty(t, got.FailedCommand)
			require.Contains(t, got.Error, "error encountered while running")

			if name != "link" {
				require.Empty(t, tc.CallsTo("llvm-ar"))
			}
		})
	}
}

func TestBuild_MalformedMetadata(t *testing.T) {
	dir := t.TempDir()
	opts := buildOptions(t, dir, config.FlowModule)

	tc := mock.NewToolchain("h")
	tc.MetadataFunc = func(toolchain.Command) toolchain.Output {
		return toolchain.Output{Stdout: "{not json", ExitCode: 1, Stderr: "boom"}
	}
	_, err := NewDriver(tc).Build(context.Background(), opts)
	require.ErrorIs(t, err, metadata.ErrMetadata)
	require.Empty(t, tc.CallsTo("aiecc.py"))
}

func TestBuild_StaleArchiveIsReplaced(t *testing.T) {
	dir := t.TempDir()
	opts := buildOptions(t, dir, config.FlowModule)
	layout := NewLayout(opts.WorkDir, "matmul.mlir")
	require.NoError(t, os.MkdirAll(opts.WorkDir, 0750))
	require.NoError(t, os.WriteFile(layout.Deliverable(false), []byte("stale.o\n"), 0600))

	_, err := NewDriver(mock.NewToolchain("h")).Build(context.Background(), opts)
	require.NoError(t, err)

	members, err := mock.ReadArchive(layout.Deliverable(false))
	require.NoError(t, err)
	require.Equal(t, []string{"matmul.mlir.o", "matmul.mlir.h.o"}, members)
}

func TestBuild_TemporaryWorkDirRemoved(t *testing.T) {
	dir := t.TempDir()
	opts := buildOptions(t, dir, config.FlowModule)
	opts.WorkDir = ""
	opts.Output = filepath.Join(dir, "lib.a")

	res, err := NewDriver(mock.NewToolchain("h")).Build(context.Background(), opts)
	require.NoError(t, err)
	require.NoDirExists(t, res.WorkDir)
	require.FileExists(t, opts.Output)
}

func TestBuild_TemporaryWorkDirRemovedOnFailure(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)

	dir := t.TempDir()
	opts := buildOptions(t, dir, config.FlowModule)
	opts.WorkDir = ""
	opts.Output = filepath.Join(dir, "lib.a")

	tc := mock.NewToolchain("h")
	tc.FailFunc = func(c toolchain.Command) bool { return c.Name == "aiecc.py" }
	_, err := NewDriver(tc).Build(context.Background(), opts)
	require.ErrorIs(t, err, toolchain.ErrToolFailed)
	require.Len(t, tc.CallsTo("aiecc.py"), 1)

	leftovers, err := filepath.Glob(filepath.Join(tmp, "aircc-*"))
	require.NoError(t, err)
	require.Empty(t, leftovers)
	require.NoFileExists(t, opts.Output)
}

func TestBuild_TemporaryWorkDirWithSpaceRejected(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "has space")
	require.NoError(t, os.MkdirAll(tmp, 0750))
	t.Setenv("TMPDIR", tmp)

	opts := buildOptions(t, t.TempDir(), config.FlowModule)
	opts.WorkDir = ""

	tc := mock.NewToolchain("h")
	_, err := NewDriver(tc).Build(context.Background(), opts)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
	require.Zero(t, tc.CallCount())

	leftovers, err := filepath.Glob(filepath.Join(tmp, "aircc-*"))
	require.NoError(t, err)
	require.Empty(t, leftovers)
}

func TestBuild_ExtraPassesAppendedToStage(t *testing.T) {
	for _, flow := range []string{config.FlowModule, config.FlowTool} {
		t.Run(flow, func(t *testing.T) {
			dir := t.TempDir()
			opts := buildOptions(t, dir, flow)
			opts.ExtraPasses = map[string]passes.Pipeline{
				TagLLVM: passes.MustParsePipeline("canonicalize,builtin.func(cse)"),
			}

			tc := mock.NewToolchain("h")
			_, err := NewDriver(tc).Build(context.Background(), opts)
			require.NoError(t, err)

			var llvmRuns []string
			for _, c := range tc.CallsTo("air-opt") {
				if strings.Contains(c.String(), "convert-std-to-llvm") {
					llvmRuns = append(llvmRuns, c.String())
				}
			}
			require.Len(t, llvmRuns, 1)
			require.Contains(t, llvmRuns[0], "convert-std-to-llvm,canonicalize,cse,canonicalize,builtin.func(cse)")
		})
	}
}

func TestBuild_VerboseOutput(t *testing.T) {
	dir := t.TempDir()
	opts := buildOptions(t, dir, config.FlowModule)
	opts.Verbose = true

	var out bytes.Buffer
	_, err := NewDriver(mock.NewToolchain("a", "b"), WithOutput(&out)).Build(context.Background(), opts)
	require.NoError(t, err)

	require.Contains(t, out.String(), "compiling "+opts.Input)
	require.Contains(t, out.String(), "Running: air-to-aie{")
	require.Contains(t, out.String(), "Compiling herds: a b")
}

func TestBuild_PreflightReportsMissingTools(t *testing.T) {
	dir := t.TempDir()
	opts := buildOptions(t, dir, config.FlowModule)
	opts.Preflight = true

	cache := cachemanager.NewInMemoryCacheManager[string, string]("test",
		cachemanager.DefaultExpiration, cachemanager.DefaultCleanupInterval)
	resolver := toolchain.NewResolver(cache, func(name string) (string, error) {
		if name == "aiecc.py" {
			return "", fmt.Errorf("not found")
		}
		return "/usr/bin/" + name, nil
	})
	tc := mock.NewToolchain("h")
	_, err := NewDriver(tc, WithResolver(resolver)).Build(context.Background(), opts)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
	require.ErrorIs(t, err, toolchain.ErrToolNotFound)
	require.Zero(t, tc.CallCount())
}

func TestBuild_Timeout(t *testing.T) {
	dir := t.TempDir()
	opts := buildOptions(t, dir, config.FlowModule)
	opts.Timeout = 20 * time.Millisecond

	tc := mock.NewToolchain("h")
	tc.DelayFunc = func(toolchain.Command) time.Duration { return time.Second }
	_, err := NewDriver(tc).Build(context.Background(), opts)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBuild_PublishesProgress(t *testing.T) {
	dir := t.TempDir()
	opts := buildOptions(t, dir, config.FlowModule)

	broker := pubsub.NewBrokerWithBuffer[Progress](256)
	defer broker.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := broker.Subscribe(ctx)

	res, err := NewDriver(mock.NewToolchain("h"), WithEvents(broker)).Build(context.Background(), opts)
	require.NoError(t, err)

	var herdDone, linkDone bool
	timeout := time.After(time.Second)
	for !(herdDone && linkDone) {
		select {
		case ev := <-events:
			require.Equal(t, res.BuildID, ev.Payload.BuildID)
			if ev.Type != pubsub.CompletedEvent {
				continue
			}
			switch ev.Payload.Phase {
			case PhaseHerd:
				herdDone = true
			case PhaseLink:
				linkDone = true
			}
		case <-timeout:
			t.Fatal("missing progress events")
		}
	}
}

func TestBuild_ObjectOrderIndependentOfCompletion(t *testing.T) {
	base := t.TempDir()
	iteration := 0

	rapid.Check(t, func(rt *rapid.T) {
		names := rapid.SliceOfNDistinct(
			rapid.StringMatching(`[a-z][a-z0-9_]{0,6}`), 1, 6, rapid.ID[string],
		).Draw(rt, "herds")
		jobs := rapid.IntRange(1, 4).Draw(rt, "jobs")
		delays := make(map[string]time.Duration, len(names))
		for _, n := range names {
			delays["aie."+n+".mlir"] = time.Duration(rapid.IntRange(0, 5).Draw(rt, "delay_"+n)) * time.Millisecond
		}

		iteration++
		dir := filepath.Join(base, fmt.Sprintf("run%d", iteration))
		require.NoError(rt, os.MkdirAll(dir, 0750))
		opts := buildOptions(rt, dir, config.FlowTool)
		opts.Jobs = jobs

		tc := mock.NewToolchain(names...)
		tc.DelayFunc = func(c toolchain.Command) time.Duration {
			if len(c.Args) == 0 {
				return 0
			}
			return delays[filepath.Base(c.Args[0])]
		}

		res, err := NewDriver(tc).Build(context.Background(), opts)
		require.NoError(rt, err)

		layout := NewLayout(opts.WorkDir, "matmul.mlir")
		want := []string{layout.ControlObject()}
		for _, n := range names {
			want = append(want, layout.HerdObject(n))
		}
		require.Equal(rt, want, res.Objects)
		require.Equal(rt, names, res.Herds)
	})
}
