// Package config provides configuration types and defaults for aircc.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zjrosen/aircc/internal/log"
	"github.com/zjrosen/aircc/internal/tracing"
)

// ErrInvalidConfig marks configuration failures detected before any stage runs.
var ErrInvalidConfig = errors.New("invalid configuration")

// Build flows.
const (
	// FlowModule chains an in-memory program through the lowering stages.
	FlowModule = "module"
	// FlowTool runs each lowering stage as a separate air-opt process over
	// the previous stage's artifact.
	FlowTool = "tool"
)

// DefaultTarget is the host triple for the control program and glue objects.
const DefaultTarget = "aarch64-linux-gnu"

// Config holds all configuration options for aircc.
type Config struct {
	TmpDir    string `mapstructure:"tmpdir"`
	RowOffset int    `mapstructure:"row_offset"`
	ColOffset int    `mapstructure:"col_offset"`
	Sysroot   string `mapstructure:"sysroot"`
	CC        string `mapstructure:"cc"`
	Shared    bool   `mapstructure:"shared"`
	Output    string `mapstructure:"output"`
	Verbose   bool   `mapstructure:"verbose"`
	Flow      string `mapstructure:"flow"`

	// ReturnElimination overrides the flow default for the
	// air-return-elimination pass. Nil keeps the default.
	ReturnElimination *bool `mapstructure:"return_elimination"`

	Jobs    int           `mapstructure:"jobs"`    // 0 means one per CPU
	Timeout time.Duration `mapstructure:"timeout"` // 0 means no limit

	Target     string `mapstructure:"target"`
	RuntimeLib string `mapstructure:"runtime_lib"` // directory holding airhost/include
	Preflight  bool   `mapstructure:"preflight"`   // check tools are on PATH before building

	// Stages customises lowering stages, keyed by stage tag.
	Stages map[string]StageConfig `mapstructure:"stages"`

	Tools   ToolsConfig    `mapstructure:"tools"`
	Tracing tracing.Config `mapstructure:"tracing"`
	History HistoryConfig  `mapstructure:"history"`
	Watch   WatchConfig    `mapstructure:"watch"`
}

// ToolsConfig names the external executables. Values may be bare names
// resolved on PATH or absolute paths.
type ToolsConfig struct {
	AirOpt       string `mapstructure:"air_opt" yaml:"air_opt"`
	AirTranslate string `mapstructure:"air_translate" yaml:"air_translate"`
	AieTranslate string `mapstructure:"aie_translate" yaml:"aie_translate"`
	Opt          string `mapstructure:"opt" yaml:"opt"`
	LLVMDis      string `mapstructure:"llvm_dis" yaml:"llvm_dis"`
	Clang        string `mapstructure:"clang" yaml:"clang"`
	Aiecc        string `mapstructure:"aiecc" yaml:"aiecc"`
	Archiver     string `mapstructure:"archiver" yaml:"archiver"`
}

// Names lists every configured tool in pipeline order.
func (t ToolsConfig) Names() []string {
	return []string{t.AirOpt, t.AirTranslate, t.AieTranslate, t.Opt, t.LLVMDis, t.Clang, t.Aiecc, t.Archiver}
}

// StageConfig customises one lowering stage.
type StageConfig struct {
	// ExtraPasses is pipeline text appended after the stage's fixed passes.
	ExtraPasses string `mapstructure:"extra_passes"`
}

// HistoryConfig controls the build history database.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// WatchConfig controls --watch rebuilds.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// ReturnEliminationEnabled resolves the pass toggle for the configured flow.
// The tool flow runs the pass by default, the module flow does not.
func (c Config) ReturnEliminationEnabled() bool {
	if c.ReturnElimination != nil {
		return *c.ReturnElimination
	}
	return c.Flow == FlowTool
}

// DefaultConfigDir returns ~/.config/aircc, or "" if home is unavailable.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "aircc")
}

// DefaultTracesFilePath returns ~/.config/aircc/traces/traces.jsonl.
func DefaultTracesFilePath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "traces", "traces.jsonl")
}

// DefaultHistoryPath returns ~/.config/aircc/history.db.
func DefaultHistoryPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "history.db")
}

// DefaultTools returns the conventional tool names.
func DefaultTools() ToolsConfig {
	return ToolsConfig{
		AirOpt:       "air-opt",
		AirTranslate: "air-translate",
		AieTranslate: "aie-translate",
		Opt:          "opt",
		LLVMDis:      "llvm-dis",
		Clang:        "clang",
		Aiecc:        "aiecc.py",
		Archiver:     "llvm-ar",
	}
}

// Defaults returns a Config with default values.
func Defaults() Config {
	tr := tracing.DefaultConfig()
	tr.FilePath = DefaultTracesFilePath()
	return Config{
		RowOffset: 2,
		ColOffset: 7,
		CC:        "clang",
		Flow:      FlowModule,
		Target:    DefaultTarget,
		Preflight: true,
		Tools:     DefaultTools(),
		Tracing:   tr,
		History: HistoryConfig{
			Enabled: true,
			Path:    DefaultHistoryPath(),
		},
		Watch: WatchConfig{
			Debounce: 200 * time.Millisecond,
		},
	}
}

// Validate checks the whole configuration. Errors match ErrInvalidConfig.
func Validate(c Config) error {
	for _, check := range []func(Config) error{
		validateBuild,
		func(c Config) error { return ValidateTools(c.Tools) },
		func(c Config) error { return ValidateTracing(c.Tracing) },
		func(c Config) error { return ValidateHistory(c.History) },
	} {
		if err := check(c); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}

func validateBuild(c Config) error {
	switch c.Flow {
	case FlowModule, FlowTool:
	default:
		return fmt.Errorf("flow must be %q or %q, got %q", FlowModule, FlowTool, c.Flow)
	}
	if c.Jobs < 0 {
		return fmt.Errorf("jobs must be >= 0, got %d", c.Jobs)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be >= 0, got %s", c.Timeout)
	}
	if c.RowOffset < 0 || c.ColOffset < 0 {
		return fmt.Errorf("row_offset and col_offset must be >= 0, got %d,%d", c.RowOffset, c.ColOffset)
	}
	if c.CC == "" {
		return fmt.Errorf("cc must not be empty")
	}
	if c.Target == "" {
		return fmt.Errorf("target must not be empty")
	}
	return nil
}

// ValidateTools requires every tool to be named.
func ValidateTools(t ToolsConfig) error {
	fields := []struct{ key, value string }{
		{"air_opt", t.AirOpt},
		{"air_translate", t.AirTranslate},
		{"aie_translate", t.AieTranslate},
		{"opt", t.Opt},
		{"llvm_dis", t.LLVMDis},
		{"clang", t.Clang},
		{"aiecc", t.Aiecc},
		{"archiver", t.Archiver},
	}
	for _, f := range fields {
		if f.value == "" {
			return fmt.Errorf("tools.%s must not be empty", f.key)
		}
	}
	return nil
}

// ValidateTracing checks tracing configuration. Empty values use defaults.
func ValidateTracing(tr tracing.Config) error {
	if tr.SampleRate < 0.0 || tr.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tr.SampleRate)
	}

	if tr.Exporter != "" {
		switch tr.Exporter {
		case "none", "file", "stdout", "otlp":
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tr.Exporter)
		}
	}

	if tr.Enabled {
		if tr.Exporter == "file" && tr.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if tr.Exporter == "otlp" && tr.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}
	return nil
}

// ValidateHistory requires a database path when history is enabled.
func ValidateHistory(h HistoryConfig) error {
	if h.Enabled && h.Path == "" {
		return fmt.Errorf("history.path is required when history is enabled")
	}
	return nil
}

// DefaultConfigTemplate returns the default config as YAML with comments.
func DefaultConfigTemplate() string {
	return `# aircc configuration

# Working directory for stage artifacts (default: a temporary directory
# removed after the build)
# tmpdir: build/air

# Placement offsets passed to air-to-aie
row_offset: 2
col_offset: 7

# sysroot: /opt/sysroot
cc: clang
target: aarch64-linux-gnu
# runtime_lib: /opt/air/runtime_lib

# Link a shared library instead of a static archive (module flow only)
shared: false

# Build flow: "module" (in-memory pipeline) or "tool" (one air-opt process per stage)
flow: module

# Run air-return-elimination in the llvm stage (default: on for the tool flow)
# return_elimination: true

# Concurrent herd builds (0 = one per CPU)
jobs: 0

# Abort the build after this long (0 = no limit)
# timeout: 10m

# Check that every tool is on PATH before building
preflight: true

# Extra passes appended to a lowering stage (placement, airrt, aie_ctrl,
# refback, llvm), in air-opt pipeline syntax
# stages:
#   llvm:
#     extra_passes: canonicalize,builtin.func(cse)

tools:
  air_opt: air-opt
  air_translate: air-translate
  aie_translate: aie-translate
  opt: opt
  llvm_dis: llvm-dis
  clang: clang
  aiecc: aiecc.py
  archiver: llvm-ar

history:
  enabled: true
  # path: ~/.config/aircc/history.db

watch:
  debounce: 200ms

# Tracing (OpenTelemetry)
# tracing:
#   enabled: true
#   exporter: file        # none, file, stdout, otlp
#   file_path: ~/.config/aircc/traces/traces.jsonl
#
# Example: send traces to Jaeger via OTLP
# tracing:
#   enabled: true
#   exporter: otlp
#   otlp_endpoint: jaeger.internal:4317
#   sample_rate: 0.1
`
}

// WriteDefaultConfig creates a config file at configPath with default
// settings and comments, creating the parent directory if needed.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
