package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/franz/listen-stats/internal/api"
	"github.com/franz/listen-stats/internal/ingest"
	"github.com/franz/listen-stats/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the listening stats over HTTP",
	Long: `Start the HTTP API.

Endpoints:
  GET  /health
  GET  /api/listening/top-albums|top-artists|top-tracks?from&to&nb
  GET  /api/listening/album?identifier=title|artist&from&to
  GET  /api/listening/artist?identifier=name&from&to
  GET  /api/listening/recent?limit&sync
  GET  /api/search?q&nb
  POST /api/upload/import?batchSize  (JSON array or text/csv body)

With Last.fm configured, recent?sync=true pulls new plays before answering.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen", util.DefaultListenAddr, "Address to listen on")
	serveCmd.Flags().Int("concurrency", util.DefaultConcurrency, "Upload chunks written in parallel")
	viper.BindPFlag("server.listen", serveCmd.Flags().Lookup("listen"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	logger := openEventLogger(cfg)
	defer logger.Close()

	deps := api.Deps{
		Store: db,
		Reconciler: ingest.New(ingest.Config{
			Store:       db,
			Concurrency: cfg.Concurrency,
			Logger:      logger,
		}),
		Events: logger,
	}

	if cfg.HasLastFM() {
		client, err := newLastFMClient(cfg)
		if err != nil {
			return err
		}
		defer client.Close()
		deps.History = client
		util.InfoLog("Last.fm sync enabled for %s", client.Name())
	}

	server := api.New(api.Config{
		Debug:        viper.GetBool("verbose"),
		ListenAddr:   cfg.ListenAddr,
		QueryTimeout: cfg.QueryTimeout,
		ChunkSize:    cfg.ChunkSize,
		ReadTimeout:  time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}, deps)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		util.InfoLog("Received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
