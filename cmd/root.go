package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/aircc/internal/config"
	"github.com/zjrosen/aircc/internal/log"
	"github.com/zjrosen/aircc/internal/ui/styles"
)

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config
	cfgErr    error
)

var rootCmd = &cobra.Command{
	Use:   "aircc [flags] INPUT",
	Short: "Compile AIR programs into host-loadable libraries",
	Long: `aircc lowers an AIR/MLIR program through the fixed AIR lowering stages,
builds one configuration object per herd with the AIE code generator, and
links the control program and herd objects into a static archive or shared
library.`,
	Version:       version,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if noColor(os.Getenv("NO_COLOR"), isatty.IsTerminal(os.Stderr.Fd())) {
			styles.ApplyNoColor()
		}
		if cfgErr != nil {
			return cfgErr
		}
		return initLogging()
	},
	RunE: runBuild,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .aircc/config.yaml, then ~/.config/aircc/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false,
		"write a debug log (AIRCC_LOG, default aircc-debug.log)")

	defaults := config.Defaults()
	// Build flags are persistent so "aircc plan" sees the same options.
	flags := rootCmd.PersistentFlags()
	flags.String("tmpdir", "", "keep stage artifacts in DIR instead of a temporary directory")
	flags.Int("row-offset", defaults.RowOffset, "placement row offset")
	flags.Int("col-offset", defaults.ColOffset, "placement column offset")
	flags.String("sysroot", "", "target sysroot")
	flags.String("cc", defaults.CC, "host C++ compiler for glue code")
	flags.Bool("shared", false, "link a shared library instead of a static archive")
	flags.StringP("output", "o", "", "publish the deliverable to PATH")
	flags.BoolP("verbose", "v", false, "echo every tool invocation and pipeline")
	flags.String("flow", defaults.Flow, `build flow: "module" or "tool"`)
	flags.Bool("return-elimination", false, "run air-return-elimination before LLVM lowering")
	flags.IntP("jobs", "j", 0, "concurrent herd builds (0 = one per CPU)")
	flags.Duration("timeout", 0, "abort the build after this long")
	rootCmd.Flags().Bool("watch", false, "rebuild whenever INPUT changes")

	for key, flag := range boundFlags {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}
}

// boundFlags maps config keys to the root command flags that override them.
// return-elimination is applied by hand so an unset flag keeps the flow default.
var boundFlags = map[string]string{
	"tmpdir":     "tmpdir",
	"row_offset": "row-offset",
	"col_offset": "col-offset",
	"sysroot":    "sysroot",
	"cc":         "cc",
	"shared":     "shared",
	"output":     "output",
	"verbose":    "verbose",
	"flow":       "flow",
	"jobs":       "jobs",
	"timeout":    "timeout",
}

func initConfig() {
	// A .env in the working directory feeds AIRCC_* variables.
	_ = godotenv.Load()

	cfg, cfgErr = loadConfig(viper.GetViper(), cfgFile)
}

// loadConfig layers defaults, the config file, AIRCC_* environment
// variables and bound flags into a Config.
func loadConfig(v *viper.Viper, file string) (config.Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("AIRCC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("return_elimination")

	if file != "" {
		v.SetConfigFile(file)
	} else if _, err := os.Stat(localConfigPath); err == nil {
		v.SetConfigFile(localConfigPath)
	} else {
		v.AddConfigPath(config.DefaultConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return config.Config{}, fmt.Errorf("reading config: %w", err)
		}
	} else {
		log.Debug(log.CatConfig, "loaded config", "path", v.ConfigFileUsed())
	}

	var c config.Config
	if err := v.Unmarshal(&c); err != nil {
		return config.Config{}, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	return c, nil
}

// localConfigPath is the project-level config file.
var localConfigPath = filepath.Join(".aircc", "config.yaml")

func setDefaults(v *viper.Viper) {
	d := config.Defaults()
	v.SetDefault("row_offset", d.RowOffset)
	v.SetDefault("col_offset", d.ColOffset)
	v.SetDefault("cc", d.CC)
	v.SetDefault("flow", d.Flow)
	v.SetDefault("target", d.Target)
	v.SetDefault("preflight", d.Preflight)
	v.SetDefault("tmpdir", "")
	v.SetDefault("sysroot", "")
	v.SetDefault("runtime_lib", "")
	v.SetDefault("output", "")
	v.SetDefault("shared", false)
	v.SetDefault("verbose", false)
	v.SetDefault("jobs", 0)
	v.SetDefault("timeout", 0)

	v.SetDefault("tools.air_opt", d.Tools.AirOpt)
	v.SetDefault("tools.air_translate", d.Tools.AirTranslate)
	v.SetDefault("tools.aie_translate", d.Tools.AieTranslate)
	v.SetDefault("tools.opt", d.Tools.Opt)
	v.SetDefault("tools.llvm_dis", d.Tools.LLVMDis)
	v.SetDefault("tools.clang", d.Tools.Clang)
	v.SetDefault("tools.aiecc", d.Tools.Aiecc)
	v.SetDefault("tools.archiver", d.Tools.Archiver)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)

	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("history.path", d.History.Path)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
}

// noColor reports whether panels on stderr should be rendered without
// colour. Lip Gloss only inspects stdout on its own.
func noColor(noColorEnv string, stderrTTY bool) bool {
	return noColorEnv != "" || !stderrTTY
}

// initLogging enables the debug log when --debug or AIRCC_DEBUG is set.
// AIRCC_LOG_LEVEL raises the minimum level from debug.
func initLogging() error {
	if os.Getenv("AIRCC_DEBUG") == "" && !debugFlag {
		return nil
	}
	logPath := os.Getenv("AIRCC_LOG")
	if logPath == "" {
		logPath = "aircc-debug.log"
	}
	cleanup, err := log.InitWithTeaLog(logPath, "aircc")
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	logCleanup = cleanup
	if lvl := os.Getenv("AIRCC_LOG_LEVEL"); lvl != "" {
		level, err := log.ParseLevel(lvl)
		if err != nil {
			return fmt.Errorf("AIRCC_LOG_LEVEL: %w", err)
		}
		log.SetMinLevel(level)
	}
	log.Info(log.CatConfig, "aircc starting", "version", version, "logPath", logPath)
	return nil
}

var logCleanup func()

// Execute runs the root command. Failures are reported on stderr.
func Execute() error {
	err := rootCmd.Execute()
	if logCleanup != nil {
		defer logCleanup()
	}
	if err != nil {
		reportError(os.Stderr, err)
	}
	return err
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
