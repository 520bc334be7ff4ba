package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/franz/listen-stats/internal/util"
)

// HistorySource fetches listening history from an external service
type HistorySource interface {
	Name() string
	// RecentTracks returns plays strictly newer than since (zero since means all)
	RecentTracks(ctx context.Context, since time.Time) ([]RawListen, error)
}

// SyncResult is the outcome of a Sync
type SyncResult struct {
	Since   time.Time     `json:"since"`
	Fetched int           `json:"fetched"`
	Import  *ImportResult `json:"import"`
}

// Sync imports every play the source has after the latest stored listen
func (r *Reconciler) Sync(ctx context.Context, src HistorySource, chunkSize int) (*SyncResult, error) {
	if chunkSize < MinChunkSize || chunkSize > MaxChunkSize {
		return nil, util.InvalidArgumentf("chunk size %d must be between %d and %d", chunkSize, MinChunkSize, MaxChunkSize)
	}

	result := &SyncResult{}

	last, err := r.store.LastListen(ctx)
	if err != nil {
		return nil, fmt.Errorf("read last listen: %w", err)
	}
	if last != nil {
		result.Since = last.PlayedAt
	}

	util.DebugLog("sync: fetching %s history since %v", src.Name(), result.Since)

	rows, err := src.RecentTracks(ctx, result.Since)
	r.logger.LogSync(src.Name(), result.Since, len(rows), err)
	if err != nil {
		return nil, fmt.Errorf("fetch %s history: %w", src.Name(), err)
	}
	result.Fetched = len(rows)

	if len(rows) == 0 {
		result.Import = &ImportResult{Errors: make([]string, 0)}
		return result, nil
	}

	result.Import, err = r.ImportFrom(ctx, src.Name(), rows, chunkSize)
	if err != nil {
		return result, err
	}
	return result, nil
}
