package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/zjrosen/aircc/internal/history"
	"github.com/zjrosen/aircc/internal/ui/styles"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [BUILD_ID]",
	Short: "List recent builds",
	Long: `List builds recorded in the history database, newest first. With a
build ID, show that build in detail including the command that failed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of builds to list")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if !cfg.History.Enabled {
		return fmt.Errorf("build history is disabled (history.enabled: false)")
	}
	db, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		rec, err := db.Builds().Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, renderRecord(rec))
		return err
	}

	recs, err := db.Builds().Recent(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		_, err = fmt.Fprintln(out, styles.MutedStyle.Render("no builds recorded"))
		return err
	}
	_, err = fmt.Fprintln(out, renderHistory(recs))
	return err
}

func renderHistory(recs []history.Record) string {
	rows := make([][]string, len(recs))
	for i, r := range recs {
		rows[i] = []string{
			shortID(r.ID),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			styles.TruncateString(filepath.Base(r.Input), 32),
			r.Flow,
			fmt.Sprint(len(r.Herds)),
			styles.Status(r.Status),
			styles.FormatDuration(r.Duration),
		}
	}
	return styles.RenderTable([]string{"ID", "Started", "Input", "Flow", "Herds", "Status", "Duration"}, rows)
}

func renderRecord(r history.Record) string {
	rows := [][2]string{
		{"build", r.ID},
		{"started", r.StartedAt.Local().Format("2006-01-02 15:04:05")},
		{"input", r.Input},
		{"flow", r.Flow},
		{"herds", fmt.Sprint(r.Herds)},
		{"status", styles.Status(r.Status)},
		{"duration", styles.FormatDuration(r.Duration)},
	}
	if r.Deliverable != "" {
		rows = append(rows, [2]string{"deliverable", r.Deliverable})
	}
	if r.Output != "" {
		rows = append(rows, [2]string{"output", r.Output})
	}
	if r.Error != "" {
		rows = append(rows, [2]string{"error", firstLine(r.Error)})
	}
	if r.FailedCommand != "" {
		rows = append(rows, [2]string{"failed command", r.FailedCommand})
	}
	return styles.RenderPanel(styles.KeyValues(rows), "build "+shortID(r.ID), 0, styles.BorderDefaultColor)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
