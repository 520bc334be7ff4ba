package main

import (
	"fmt"

	"github.com/franz/listen-stats/internal/ingest"
	"github.com/franz/listen-stats/internal/lastfm"
	"github.com/franz/listen-stats/internal/report"
	"github.com/franz/listen-stats/internal/store"
	"github.com/franz/listen-stats/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// loadConfig resolves the configuration and applies command-level overrides
// for the import tuning flags when the command defines them.
func loadConfig(cmd *cobra.Command) (*util.Config, error) {
	cfg, err := util.LoadConfig()
	if err != nil {
		return nil, err
	}

	if f := cmd.Flags().Lookup("chunk-size"); f != nil && f.Changed {
		n, _ := cmd.Flags().GetInt("chunk-size")
		if n < ingest.MinChunkSize || n > ingest.MaxChunkSize {
			return nil, fmt.Errorf("%w: --chunk-size must be between %d and %d, got %d",
				util.ErrInvalidConfig, ingest.MinChunkSize, ingest.MaxChunkSize, n)
		}
		cfg.ChunkSize = n
	}
	if f := cmd.Flags().Lookup("concurrency"); f != nil && f.Changed {
		n, _ := cmd.Flags().GetInt("concurrency")
		if n > 0 {
			cfg.Concurrency = n
		}
	}

	return cfg, nil
}

func openStore(cfg *util.Config) (*store.Store, error) {
	util.DebugLog("Opening database: %s", cfg.DBPath)

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// openImportStore opens the database with the bulk-write pragmas used by
// import and sync
func openImportStore(cfg *util.Config) (*store.Store, error) {
	util.DebugLog("Opening database for import: %s", cfg.DBPath)

	db, err := store.OpenWithOptions(cfg.DBPath, &store.OpenOptions{BulkWrites: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// openEventLogger returns a JSONL event logger, or a no-op one when the log
// directory cannot be created
func openEventLogger(cfg *util.Config) *report.EventLogger {
	level := report.ParseLevel(cfg.EventLogLevel)
	if viper.GetBool("quiet") {
		level = report.LevelWarning
	} else if viper.GetBool("verbose") {
		level = report.LevelDebug
	}

	logger, err := report.NewEventLogger(cfg.EventLogDir, level)
	if err != nil {
		util.WarnLog("Failed to create event logger: %v", err)
		return report.NullLogger()
	}
	util.DebugLog("Event log: %s", logger.Path())
	return logger
}

// newLastFMClient builds the Last.fm history source from the configuration
func newLastFMClient(cfg *util.Config) (*lastfm.Client, error) {
	if !cfg.HasLastFM() {
		return nil, fmt.Errorf("%w: set lastfm.api_key and lastfm.user (or LSTATS_LASTFM_API_KEY / LSTATS_LASTFM_USER)",
			util.ErrInvalidConfig)
	}
	return lastfm.NewClient(lastfm.Options{
		APIKey:  cfg.LastFMAPIKey,
		User:    cfg.LastFMUser,
		BaseURL: cfg.LastFMBaseURL,
	})
}

// windowFlags registers --from and --to on cmd
func windowFlags(cmd *cobra.Command) {
	cmd.Flags().String("from", "", "Start date, inclusive (YYYY-MM-DD or RFC3339)")
	cmd.Flags().String("to", "", "End date, inclusive (YYYY-MM-DD covers the whole day)")
}

func windowFromFlags(cmd *cobra.Command) (store.Window, error) {
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	return store.ParseWindow(from, to)
}
