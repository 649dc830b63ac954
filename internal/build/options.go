// Package build drives one compilation: the fixed lowering stages, herd
// discovery, the concurrent per-herd sub-toolchains and the final link.
package build

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/zjrosen/aircc/internal/config"
	"github.com/zjrosen/aircc/internal/passes"
)

// ErrUnimplementedMode is returned for shared libraries in the tool flow.
var ErrUnimplementedMode = errors.New("shared library output is not implemented for the tool flow")

// Options is the resolved, read-only configuration of one build.
type Options struct {
	Input string
	// WorkDir holds every artifact. Empty means a temporary directory that
	// is removed when the build ends.
	WorkDir string

	RowOffset  int
	ColOffset  int
	Target     string
	CC         string
	Sysroot    string
	RuntimeLib string

	Output            string
	Shared            bool
	Verbose           bool
	Flow              string
	ReturnElimination bool
	Jobs              int
	Timeout           time.Duration
	Preflight         bool

	// ExtraPasses are appended to the pipelines of the stages they are keyed by.
	ExtraPasses map[string]passes.Pipeline

	Tools config.ToolsConfig
}

// NewOptions resolves cfg for input. It fails before anything is built
// when the input is unreadable or the mode is unsupported.
func NewOptions(cfg config.Config, input string) (Options, error) {
	if err := config.Validate(cfg); err != nil {
		return Options{}, err
	}
	if input == "" {
		return Options{}, fmt.Errorf("%w: no input file", config.ErrInvalidConfig)
	}
	abs, err := filepath.Abs(input)
	if err != nil {
		return Options{}, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Options{}, fmt.Errorf("%w: input: %w", config.ErrInvalidConfig, err)
	}
	if info.IsDir() {
		return Options{}, fmt.Errorf("%w: input %s is a directory", config.ErrInvalidConfig, input)
	}

	if cfg.Shared && cfg.Flow == config.FlowTool {
		return Options{}, ErrUnimplementedMode
	}

	jobs := cfg.Jobs
	if jobs == 0 {
		jobs = runtime.NumCPU()
	}

	workDir := cfg.TmpDir
	if workDir != "" {
		if workDir, err = filepath.Abs(workDir); err != nil {
			return Options{}, fmt.Errorf("%w: tmpdir: %w", config.ErrInvalidConfig, err)
		}
		if err := checkWorkDir(workDir); err != nil {
			return Options{}, err
		}
	}

	extra, err := extraPasses(cfg)
	if err != nil {
		return Options{}, err
	}

	output := cfg.Output
	if output != "" {
		if output, err = filepath.Abs(output); err != nil {
			return Options{}, fmt.Errorf("%w: output: %w", config.ErrInvalidConfig, err)
		}
	}

	return Options{
		Input:             abs,
		WorkDir:           workDir,
		RowOffset:         cfg.RowOffset,
		ColOffset:         cfg.ColOffset,
		Target:            cfg.Target,
		CC:                cfg.CC,
		Sysroot:           cfg.Sysroot,
		RuntimeLib:        runtimeLib(cfg.RuntimeLib),
		Output:            output,
		Shared:            cfg.Shared,
		Verbose:           cfg.Verbose,
		Flow:              cfg.Flow,
		ReturnElimination: cfg.ReturnEliminationEnabled(),
		Jobs:              jobs,
		Timeout:           cfg.Timeout,
		Preflight:         cfg.Preflight,
		ExtraPasses:       extra,
		Tools:             cfg.Tools,
	}, nil
}

// Stem is the input's base name. Every artifact name is derived from it.
func (o Options) Stem() string {
	return filepath.Base(o.Input)
}

// MovesOutput reports whether the deliverable is moved rather than copied.
func (o Options) MovesOutput() bool {
	return o.Flow == config.FlowTool
}

// runtimeLib defaults to the runtime_lib directory installed beside the binary.
func runtimeLib(configured string) string {
	if configured != "" {
		return configured
	}
	exe, err := os.Executable()
	if err != nil {
		return "runtime_lib"
	}
	return filepath.Join(filepath.Dir(exe), "..", "runtime_lib")
}

// extraPasses parses the configured per-stage pipelines.
func extraPasses(cfg config.Config) (map[string]passes.Pipeline, error) {
	if len(cfg.Stages) == 0 {
		return nil, nil
	}
	tags := StageTags(cfg.Flow)
	out := make(map[string]passes.Pipeline, len(cfg.Stages))
	for tag, sc := range cfg.Stages {
		if !slices.Contains(tags, tag) {
			return nil, fmt.Errorf("%w: stages.%s: no such stage in the %s flow (have %s)",
				config.ErrInvalidConfig, tag, cfg.Flow, strings.Join(tags, ", "))
		}
		p, err := passes.ParsePipeline(strings.TrimSpace(sc.ExtraPasses))
		if err != nil {
			return nil, fmt.Errorf("%w: stages.%s.extra_passes: %w", config.ErrInvalidConfig, tag, err)
		}
		if len(p) > 0 {
			out[tag] = p
		}
	}
	return out, nil
}

// checkWorkDir rejects directories that cannot be carried in a pass option
// value, where whitespace separates options and braces delimit the list.
func checkWorkDir(dir string) error {
	i := strings.IndexFunc(dir, func(r rune) bool {
		return unicode.IsSpace(r) || r == '{' || r == '}'
	})
	if i < 0 {
		return nil
	}
	return fmt.Errorf("%w: working directory %q contains %q, which air-opt cannot parse in a pass option",
		config.ErrInvalidConfig, dir, string([]rune(dir[i:])[0]))
}
