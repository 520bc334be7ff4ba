package main

import (
	"encoding/json"
	"os"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/franz/listen-stats/internal/report"
	"github.com/franz/listen-stats/internal/util"
	"github.com/spf13/cobra"
)

func jsonFlag(cmd *cobra.Command) {
	cmd.Flags().Bool("json", false, "Print JSON instead of a table")
}

func wantJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}

// cellWidth is the widest text column that keeps a table on one terminal line
func cellWidth(columns int) int {
	w := (util.GetTerminalWidth() - 20) / columns
	if w < 12 {
		return 12
	}
	return w
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-1]) + "…"
}

func listeningTime(seconds int) string {
	return report.FormatListeningTime(seconds)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
