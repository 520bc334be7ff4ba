package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/franz/listen-stats/internal/report"
	"github.com/franz/listen-stats/internal/stats"
	"github.com/franz/listen-stats/internal/util"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Write a Markdown listening report",
	Long: `Generate a Markdown report for a date range.

The report includes:
- Total listens in the range
- Top artists, albums and tracks
- The latest import and sync runs

The report is saved to artifacts/reports/<timestamp>/summary.md`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	windowFlags(reportCmd)
	reportCmd.Flags().IntP("nb", "n", stats.DefaultLimit, "Entries per ranking (1-100)")
	reportCmd.Flags().String("out", "", "Output directory for report (default: artifacts/reports/<timestamp>)")
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	w, err := windowFromFlags(cmd)
	if err != nil {
		return err
	}
	nb, _ := cmd.Flags().GetInt("nb")

	util.InfoLog("=== Generating Listening Report ===")
	util.InfoLog("Database: %s", cfg.DBPath)
	util.InfoLog("Range: %s", w)

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.QueryTimeout)
	defer cancel()

	statsReport, err := report.GenerateStatsReport(ctx, db, w, nb)
	if err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}
	statsReport.DatabasePath = cfg.DBPath

	outputDir, _ := cmd.Flags().GetString("out")
	if outputDir == "" {
		timestamp := time.Now().Format("20060102-150405")
		outputDir = filepath.Join("artifacts", "reports", timestamp)
	}
	outputPath := filepath.Join(outputDir, "summary.md")

	util.InfoLog("Writing report to: %s", outputPath)
	if err := report.WriteMarkdownReport(statsReport, outputPath); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	util.SuccessLog("Report generated successfully!")
	util.InfoLog("")
	util.InfoLog("Summary:")
	util.InfoLog("  Listens: %d", statsReport.TotalListens)
	if len(statsReport.TopArtists) > 0 {
		util.InfoLog("  Top artist: %s (%d plays)", statsReport.TopArtists[0].Name, statsReport.TopArtists[0].StreamCount)
	}
	if len(statsReport.TopAlbums) > 0 {
		util.InfoLog("  Top album: %s (%d plays)", statsReport.TopAlbums[0].Title, statsReport.TopAlbums[0].StreamCount)
	}

	return nil
}
