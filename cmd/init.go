package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/zjrosen/aircc/internal/config"
	"github.com/zjrosen/aircc/internal/toolchain"
	"github.com/zjrosen/aircc/internal/ui/styles"
)

var (
	initForce bool
	initPin   bool
)

var initCmd = &cobra.Command{
	Use:   "init [PATH]",
	Short: "Write a default config file",
	Long: `Write a commented default configuration to PATH (default
.aircc/config.yaml). With --pin, every tool is resolved on PATH and its
absolute path is written into the tools section.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing config file")
	initCmd.Flags().BoolVar(&initPin, "pin", false, "pin resolved tool paths into the config")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := localConfigPath
	if len(args) == 1 {
		path = args[0]
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.WriteDefaultConfig(path); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(out, "wrote", path)

	if !initPin {
		return nil
	}
	tools, err := pinTools(cmd.Context(), cmd.ErrOrStderr(), config.DefaultTools(), toolchain.NewDefaultResolver())
	if err != nil {
		return err
	}
	if err := config.SaveTools(path, tools); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, "pinned tool paths in", path)
	return nil
}

// pinTools replaces each tool name with its resolved path. Unresolved tools
// keep their names and are reported.
func pinTools(ctx context.Context, stderr io.Writer, tools config.ToolsConfig, r *toolchain.Resolver) (config.ToolsConfig, error) {
	fields := []*string{
		&tools.AirOpt, &tools.AirTranslate, &tools.AieTranslate, &tools.Opt,
		&tools.LLVMDis, &tools.Clang, &tools.Aiecc, &tools.Archiver,
	}
	for _, f := range fields {
		path, err := r.Resolve(ctx, *f)
		if errors.Is(err, toolchain.ErrToolNotFound) {
			_, _ = fmt.Fprintln(stderr, styles.WarningStyle.Render("not found on PATH: "+*f))
			continue
		}
		if err != nil {
			return tools, err
		}
		*f = path
	}
	return tools, nil
}
