package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/franz/listen-stats/internal/ingest"
	"github.com/franz/listen-stats/internal/store"
	"github.com/franz/listen-stats/internal/util"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Import listening history from a CSV export",
	Long: `Import a CSV export of your listening history.

The header row decides which column holds what. Deezer exports work as-is
("Song Title", "Artist", "Album Title", "Listening Time", "Date"), as do
simple headers like track, artist, album, duration, played_at.

Rows are written in chunks. Invalid rows are reported and skipped; they never
stop the import. Importing the same file twice changes nothing.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().Int("chunk-size", util.DefaultChunkSize, "Rows written per chunk (1-10000)")
	importCmd.Flags().Int("concurrency", util.DefaultConcurrency, "Chunks written in parallel")
	importCmd.Flags().Int("show-errors", 10, "Number of row errors to print (0 = none)")
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	path := args[0]

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	rows, err := ingest.ReadCSV(f)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	db, err := openImportStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	logger := openEventLogger(cfg)
	defer logger.Close()

	util.InfoLog("=== Import ===")
	util.InfoLog("Source: %s (%d rows)", path, len(rows))
	util.InfoLog("Chunk size: %d, concurrency: %d", cfg.ChunkSize, cfg.Concurrency)

	bar := newRowBar(len(rows), "Importing")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	reconciler := ingest.New(ingest.Config{
		Store:       db,
		Concurrency: cfg.Concurrency,
		Logger:      logger,
		Progress: func(n int) {
			if bar != nil {
				bar.Add(n)
			}
		},
	})

	source := "csv:" + filepath.Base(path)
	started := time.Now()

	result, importErr := reconciler.ImportFrom(ctx, source, rows, cfg.ChunkSize)
	if bar != nil {
		bar.Finish()
	}
	if result == nil {
		return fmt.Errorf("import failed: %w", importErr)
	}

	recordImportRun(db, source, started, result)

	showErrors, _ := cmd.Flags().GetInt("show-errors")
	printImportResult(result, showErrors)

	if importErr != nil {
		return importErr
	}
	return nil
}

// newRowBar returns a progress bar over total rows, or nil when output is not interactive
func newRowBar(total int, description string) *progressbar.ProgressBar {
	if !util.ShowProgress() || total == 0 {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("rows"),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// recordImportRun stores the run for doctor and report; failures only warn
func recordImportRun(db *store.Store, source string, started time.Time, result *ingest.ImportResult) {
	run := &store.ImportRun{
		Source:      source,
		StartedAt:   started,
		CompletedAt: time.Now(),
		TotalRows:   result.TotalRows,
		Imported:    result.Imported,
		Skipped:     result.Skipped,
		ErrorCount:  len(result.Errors),
	}
	if err := db.InsertImportRun(context.Background(), run); err != nil {
		util.WarnLog("Failed to record import run: %v", err)
	}
}

func printImportResult(result *ingest.ImportResult, showErrors int) {
	util.SuccessLog("Import complete in %v", result.ProcessingTime.Round(time.Millisecond))
	util.InfoLog("  Rows: %d", result.TotalRows)
	util.InfoLog("  Imported: %d (%d new, %d already known)", result.Imported, result.Inserted, result.Updated)
	if result.Skipped > 0 {
		util.WarnLog("  Skipped: %d", result.Skipped)
	}
	util.InfoLog("  Success rate: %.1f%%", result.SuccessRate())

	if showErrors <= 0 || len(result.Errors) == 0 {
		return
	}
	util.InfoLog("")
	util.WarnLog("Errors:")
	for i, e := range result.Errors {
		if i == showErrors {
			util.WarnLog("  ... and %d more (see the event log)", len(result.Errors)-showErrors)
			break
		}
		util.WarnLog("  %s", e)
	}
}

