package cmd

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/zjrosen/aircc/internal/build"
	"github.com/zjrosen/aircc/internal/ui/markdown"
)

var planRaw bool

var planCmd = &cobra.Command{
	Use:   "plan INPUT",
	Short: "Show the steps a build of INPUT would run",
	Long: `Render every lowering stage, pass pipeline and tool invocation that
'aircc INPUT' would run with the current configuration. Nothing is executed.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.Flags().BoolVar(&planRaw, "raw", false, "print the markdown source")
}

func runPlan(cmd *cobra.Command, args []string) error {
	opts, err := build.NewOptions(applyFlagOverrides(cmd, cfg), args[0])
	if err != nil {
		return err
	}
	md, err := build.RenderPlan(opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if planRaw {
		_, err = fmt.Fprint(out, md)
		return err
	}

	plain := os.Getenv("NO_COLOR") != "" || !isatty.IsTerminal(os.Stdout.Fd())
	r, err := markdown.New(100, plain)
	if err != nil {
		return fmt.Errorf("creating markdown renderer: %w", err)
	}
	rendered, err := r.Render(md)
	if err != nil {
		return fmt.Errorf("rendering plan: %w", err)
	}
	_, err = fmt.Fprint(out, rendered)
	return err
}
