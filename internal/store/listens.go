package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/franz/listen-stats/internal/meta"
)

// Recent limits
const (
	DefaultRecentLimit = 100
	MaxRecentLimit     = 1000
)

// countChunkSize bounds the number of (artist, track) pairs per count query
// (two bind variables each)
const countChunkSize = 400

// Listen is one play of a track
type Listen struct {
	ID              string
	Track           string
	Artist          string // May credit several artists joined by ',' or '&'
	Album           string
	DurationSeconds int
	PlayedAt        time.Time
}

// UpsertFailure describes a record of a batch that could not be written
type UpsertFailure struct {
	Index int // Position of the record in the batch
	Err   error
}

// UpsertResult summarizes one UpsertBatch call
type UpsertResult struct {
	Inserted int
	Updated  int
	Failures []UpsertFailure
}

// Written returns the number of records inserted or updated
func (r *UpsertResult) Written() int {
	return r.Inserted + r.Updated
}

// Pair identifies a track by its artist field and title
type Pair struct {
	Artist string
	Track  string
}

const listenColumns = `id, track, artist, album, duration_s, played_at`

const upsertListenSQL = `
	INSERT INTO listens
	(id, track, artist, album, duration_s, played_at, track_key, artist_key, album_key)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(track_key, artist_key, album, played_at) DO UPDATE SET
		track = excluded.track,
		artist = excluded.artist,
		duration_s = excluded.duration_s,
		last_update_at = CURRENT_TIMESTAMP
	RETURNING id
`

// UpsertBatch inserts or refreshes every listen of the batch, keyed by
// (normalized track, normalized artist, album, played_at).
//
// Each record is a single atomic upsert, so overlapping concurrent batches
// never produce duplicates. A failing record is reported in the result and
// does not abort the others. The returned error is reserved for failures of
// the batch as a whole. When ctx is canceled mid-batch the records already
// written are committed and the remainder are reported as failures.
//
// On success the ID of every written listen is set.
func (s *Store) UpsertBatch(ctx context.Context, listens []*Listen) (*UpsertResult, error) {
	result := &UpsertResult{}
	if len(listens) == 0 {
		return result, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, storageError("upsert batch", err)
	}

	// Applied upserts survive cancellation, so the transaction itself ignores it
	txCtx := context.WithoutCancel(ctx)

	tx, err := s.db.BeginTx(txCtx, nil)
	if err != nil {
		return nil, storageError("begin upsert transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(txCtx, upsertListenSQL)
	if err != nil {
		return nil, storageError("prepare upsert", err)
	}
	defer stmt.Close()

	for i, l := range listens {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(listens); j++ {
				result.Failures = append(result.Failures, UpsertFailure{Index: j, Err: err})
			}
			break
		}

		if err := validateListen(l); err != nil {
			result.Failures = append(result.Failures, UpsertFailure{Index: i, Err: err})
			continue
		}

		newID := uuid.NewString()
		var id string
		err := stmt.QueryRowContext(txCtx,
			newID,
			l.Track,
			l.Artist,
			l.Album,
			l.DurationSeconds,
			l.PlayedAt.UnixMilli(),
			meta.Normalize(l.Track),
			meta.Normalize(l.Artist),
			meta.Normalize(l.Album),
		).Scan(&id)
		if err != nil {
			result.Failures = append(result.Failures, UpsertFailure{Index: i, Err: fmt.Errorf("upsert listen: %w", err)})
			continue
		}

		l.ID = id
		if id == newID {
			result.Inserted++
		} else {
			result.Updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, storageError("commit upsert", err)
	}

	return result, nil
}

func validateListen(l *Listen) error {
	switch {
	case l == nil:
		return errors.New("nil listen")
	case meta.Normalize(l.Track) == "":
		return errors.New("missing track")
	case meta.Normalize(l.Artist) == "":
		return errors.New("missing artist")
	case l.DurationSeconds < 0:
		return fmt.Errorf("negative duration %d", l.DurationSeconds)
	case l.PlayedAt.IsZero():
		return errors.New("missing played_at")
	}
	return nil
}

// LastListen returns the listen with the latest played_at, or nil if the store is empty
func (s *Store) LastListen(ctx context.Context) (*Listen, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+listenColumns+`
		FROM listens
		ORDER BY played_at DESC, rowid DESC
		LIMIT 1
	`)

	l, err := scanListen(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("last listen", err)
	}
	return l, nil
}

// ClampRecentLimit maps non-positive or oversized limits to DefaultRecentLimit
func ClampRecentLimit(limit int) int {
	if limit <= 0 || limit > MaxRecentLimit {
		return DefaultRecentLimit
	}
	return limit
}

// Recent returns the latest listens, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]*Listen, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+listenColumns+`
		FROM listens
		ORDER BY played_at DESC, rowid DESC
		LIMIT ?
	`, ClampRecentLimit(limit))
	if err != nil {
		return nil, storageError("recent listens", err)
	}
	defer rows.Close()

	return collectListens(rows, "recent listens")
}

// Listens returns every listen inside the window in scan order:
// played_at ascending, then insertion order
func (s *Store) Listens(ctx context.Context, w Window) ([]*Listen, error) {
	where, args := w.where()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+listenColumns+`
		FROM listens
		`+where+`
		ORDER BY played_at ASC, rowid ASC
	`, args...)
	if err != nil {
		return nil, storageError("filter listens", err)
	}
	defer rows.Close()

	return collectListens(rows, "filter listens")
}

// ListensByAlbum returns the listens of one album inside the window, in scan
// order. The album is matched on its normalized title through album_key.
func (s *Store) ListensByAlbum(ctx context.Context, album string, w Window) ([]*Listen, error) {
	key := meta.Normalize(album)
	if key == "" {
		return nil, nil
	}

	where, args := w.where()
	if where == "" {
		where = "WHERE album_key = ?"
	} else {
		where += " AND album_key = ?"
	}
	args = append(args, key)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+listenColumns+`
		FROM listens
		`+where+`
		ORDER BY played_at ASC, rowid ASC
	`, args...)
	if err != nil {
		return nil, storageError("album listens", err)
	}
	defer rows.Close()

	return collectListens(rows, "album listens")
}

// Count returns the number of stored listens
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM listens`).Scan(&count); err != nil {
		return 0, storageError("count listens", err)
	}
	return count, nil
}

// CountByNormalizedKey returns the all-time play count of each pair, keyed by
// meta.PairKey ("normalizedArtist|normalizedTrack"). Every requested key is
// present in the result, with 0 when never played. Pairs are looked up in
// bulk rather than one query per pair.
func (s *Store) CountByNormalizedKey(ctx context.Context, pairs []Pair) (map[string]int, error) {
	counts := make(map[string]int, len(pairs))

	type key struct{ artist, track string }
	var keys []key
	for _, p := range pairs {
		k := key{meta.Normalize(p.Artist), meta.Normalize(p.Track)}
		pk := k.artist + "|" + k.track
		if _, seen := counts[pk]; seen {
			continue
		}
		counts[pk] = 0
		keys = append(keys, k)
	}

	for start := 0; start < len(keys); start += countChunkSize {
		end := min(start+countChunkSize, len(keys))
		chunk := keys[start:end]

		placeholders := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)*2)
		for i, k := range chunk {
			placeholders[i] = "(?, ?)"
			args = append(args, k.artist, k.track)
		}

		rows, err := s.db.QueryContext(ctx, `
			SELECT artist_key, track_key, COUNT(*)
			FROM listens
			WHERE (artist_key, track_key) IN (VALUES `+strings.Join(placeholders, ", ")+`)
			GROUP BY artist_key, track_key
		`, args...)
		if err != nil {
			return nil, storageError("count by key", err)
		}

		for rows.Next() {
			var artistKey, trackKey string
			var count int
			if err := rows.Scan(&artistKey, &trackKey, &count); err != nil {
				rows.Close()
				return nil, storageError("count by key", err)
			}
			counts[artistKey+"|"+trackKey] = count
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, storageError("count by key", err)
		}
	}

	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListen(row rowScanner) (*Listen, error) {
	var l Listen
	var playedAt int64
	if err := row.Scan(&l.ID, &l.Track, &l.Artist, &l.Album, &l.DurationSeconds, &playedAt); err != nil {
		return nil, err
	}
	l.PlayedAt = time.UnixMilli(playedAt).UTC()
	return &l, nil
}

func collectListens(rows *sql.Rows, op string) ([]*Listen, error) {
	var listens []*Listen
	for rows.Next() {
		l, err := scanListen(rows)
		if err != nil {
			return nil, storageError(op, err)
		}
		listens = append(listens, l)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(op, err)
	}
	return listens, nil
}
