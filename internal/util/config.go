package util

import (
	"fmt"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Config is the resolved runtime configuration.
// Values come from flags, LSTATS_* environment variables and the config file, in that order.
type Config struct {
	DBPath string

	// Last.fm history sync
	LastFMAPIKey  string
	LastFMUser    string
	LastFMBaseURL string

	// Import tuning
	ChunkSize   int
	Concurrency int

	// Event log
	EventLogDir   string
	EventLogLevel string

	// HTTP API
	ListenAddr   string
	QueryTimeout time.Duration
}

// Defaults applied when a key is absent
const (
	DefaultChunkSize    = 500
	DefaultConcurrency  = 1
	DefaultListenAddr   = ":8080"
	DefaultEventLogDir  = "artifacts"
	DefaultQueryTimeout = 30 * time.Second

	MaxChunkSize = 10000
)

// LoadConfig reads the configuration from viper and validates it
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DBPath:        viper.GetString("db"),
		LastFMAPIKey:  viper.GetString("lastfm.api_key"),
		LastFMUser:    viper.GetString("lastfm.user"),
		LastFMBaseURL: viper.GetString("lastfm.base_url"),
		ChunkSize:     cast.ToInt(viper.Get("import.chunk_size")),
		Concurrency:   cast.ToInt(viper.Get("import.concurrency")),
		EventLogDir:   viper.GetString("events.dir"),
		EventLogLevel: viper.GetString("events.level"),
		ListenAddr:    viper.GetString("server.listen"),
		QueryTimeout:  cast.ToDuration(viper.Get("server.query_timeout")),
	}

	if cfg.DBPath == "" {
		return nil, fmt.Errorf("%w: database path is empty", ErrInvalidConfig)
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkSize < 1 || cfg.ChunkSize > MaxChunkSize {
		return nil, fmt.Errorf("%w: import.chunk_size must be between 1 and %d, got %d",
			ErrInvalidConfig, MaxChunkSize, cfg.ChunkSize)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.EventLogDir == "" {
		cfg.EventLogDir = DefaultEventLogDir
	}
	if cfg.EventLogLevel == "" {
		cfg.EventLogLevel = "info"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}

	return cfg, nil
}

// HasLastFM reports whether enough Last.fm settings are present to sync history
func (c *Config) HasLastFM() bool {
	return c.LastFMAPIKey != "" && c.LastFMUser != ""
}
