package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/franz/listen-stats/internal/ingest"
	"github.com/franz/listen-stats/internal/util"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull new plays from Last.fm",
	Long: `Fetch every Last.fm scrobble newer than the latest stored listen and
import it. Requires lastfm.api_key and lastfm.user in the config file or the
LSTATS_LASTFM_API_KEY and LSTATS_LASTFM_USER environment variables.`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().Int("chunk-size", util.DefaultChunkSize, "Rows written per chunk (1-10000)")
	syncCmd.Flags().Int("concurrency", util.DefaultConcurrency, "Chunks written in parallel")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	client, err := newLastFMClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	db, err := openImportStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	logger := openEventLogger(cfg)
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	reconciler := ingest.New(ingest.Config{
		Store:       db,
		Concurrency: cfg.Concurrency,
		Logger:      logger,
	})

	util.InfoLog("=== Sync ===")
	util.InfoLog("Source: %s", client.Name())

	started := time.Now()
	result, err := reconciler.Sync(ctx, client, cfg.ChunkSize)
	if result != nil && result.Import != nil {
		recordImportRun(db, client.Name(), started, result.Import)
	}
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	if result.Since.IsZero() {
		util.InfoLog("Fetched full history: %d plays", result.Fetched)
	} else {
		util.InfoLog("Fetched %d plays since %s", result.Fetched, result.Since.Local().Format(time.DateTime))
	}
	if result.Fetched == 0 {
		util.SuccessLog("Already up to date")
		return nil
	}
	printImportResult(result.Import, 10)
	return nil
}
