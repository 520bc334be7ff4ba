package store

import (
	"context"
	"time"
)

// ImportRun records the outcome of one import or sync
type ImportRun struct {
	ID          int64
	Source      string // e.g. "csv:history.csv", "lastfm:user", "api"
	StartedAt   time.Time
	CompletedAt time.Time
	TotalRows   int
	Imported    int
	Skipped     int
	ErrorCount  int
}

// InsertImportRun stores an import run and sets its ID
func (s *Store) InsertImportRun(ctx context.Context, run *ImportRun) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO import_runs
		(source, started_at, completed_at, total_rows, imported, skipped, error_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.Source, run.StartedAt.UnixMilli(), run.CompletedAt.UnixMilli(),
		run.TotalRows, run.Imported, run.Skipped, run.ErrorCount)
	if err != nil {
		return storageError("insert import run", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return storageError("insert import run", err)
	}
	run.ID = id
	return nil
}

// RecentImportRuns returns the latest import runs, newest first
func (s *Store) RecentImportRuns(ctx context.Context, limit int) ([]*ImportRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, started_at, completed_at, total_rows, imported, skipped, error_count
		FROM import_runs
		ORDER BY completed_at DESC, id DESC
		LIMIT ?
	`, ClampRecentLimit(limit))
	if err != nil {
		return nil, storageError("list import runs", err)
	}
	defer rows.Close()

	var runs []*ImportRun
	for rows.Next() {
		var run ImportRun
		var started, completed int64

		err := rows.Scan(&run.ID, &run.Source, &started, &completed,
			&run.TotalRows, &run.Imported, &run.Skipped, &run.ErrorCount)
		if err != nil {
			return nil, storageError("list import runs", err)
		}

		run.StartedAt = time.UnixMilli(started).UTC()
		run.CompletedAt = time.UnixMilli(completed).UTC()
		runs = append(runs, &run)
	}

	if err := rows.Err(); err != nil {
		return nil, storageError("list import runs", err)
	}
	return runs, nil
}
