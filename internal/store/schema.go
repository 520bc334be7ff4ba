package store

// Schema v1 - listening history
//
// played_at is stored as unix milliseconds (UTC). track_key, artist_key and
// album_key hold the normalized forms used for matching; the displayed
// columns keep the casing the source provided.
const schemaV1 = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- One row per play
CREATE TABLE IF NOT EXISTS listens (
  id TEXT PRIMARY KEY,
  track TEXT NOT NULL,
  artist TEXT NOT NULL,
  album TEXT NOT NULL DEFAULT '',
  duration_s INTEGER NOT NULL DEFAULT 0 CHECK (duration_s >= 0),
  played_at INTEGER NOT NULL,
  track_key TEXT NOT NULL,
  artist_key TEXT NOT NULL,
  album_key TEXT NOT NULL DEFAULT '',
  first_seen_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  last_update_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Upsert match key: normalized track, normalized artist field, album, played_at
CREATE UNIQUE INDEX IF NOT EXISTS idx_listens_match_key
  ON listens(track_key, artist_key, album, played_at);

CREATE INDEX IF NOT EXISTS idx_listens_played_at ON listens(played_at);
CREATE INDEX IF NOT EXISTS idx_listens_pair ON listens(artist_key, track_key);
`

// Schema v2 - import audit trail and search indexes
const schemaV2 = `
CREATE TABLE IF NOT EXISTS import_runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  source TEXT NOT NULL,
  started_at INTEGER NOT NULL,
  completed_at INTEGER NOT NULL,
  total_rows INTEGER NOT NULL DEFAULT 0,
  imported INTEGER NOT NULL DEFAULT 0,
  skipped INTEGER NOT NULL DEFAULT 0,
  error_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_import_runs_completed ON import_runs(completed_at);

-- Album lookups and suggestions scan by normalized album
CREATE INDEX IF NOT EXISTS idx_listens_album_key ON listens(album_key, artist_key);
`
