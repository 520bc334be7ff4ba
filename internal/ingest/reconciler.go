package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/franz/listen-stats/internal/report"
	"github.com/franz/listen-stats/internal/store"
	"github.com/franz/listen-stats/internal/util"
)

// Chunk size bounds accepted by ImportBatch
const (
	MinChunkSize = 1
	MaxChunkSize = util.MaxChunkSize
)

// RawListen is one unparsed record from a file, an upload or an external history
type RawListen struct {
	Row      int    `json:"row,omitempty"` // 1-based source row, 0 uses the position in the batch
	Track    string `json:"track"`
	Artist   string `json:"artist"`
	Album    string `json:"album"`
	Duration string `json:"duration"`
	PlayedAt string `json:"playedAt"`
}

// ImportResult summarizes an import. Imported and Skipped are counted
// separately and always add up to TotalRows.
type ImportResult struct {
	TotalRows      int           `json:"totalRows"`
	Imported       int           `json:"imported"`
	Inserted       int           `json:"inserted"`
	Updated        int           `json:"updated"`
	Skipped        int           `json:"skipped"`
	Errors         []string      `json:"errors"`
	ProcessingTime time.Duration `json:"processingTime"`
}

// SuccessRate returns the imported share of all rows, in percent
func (r *ImportResult) SuccessRate() float64 {
	if r.TotalRows == 0 {
		return 0
	}
	return float64(r.Imported) / float64(r.TotalRows) * 100
}

// Store is the write side of the listening store
type Store interface {
	UpsertBatch(ctx context.Context, listens []*store.Listen) (*store.UpsertResult, error)
	LastListen(ctx context.Context) (*store.Listen, error)
}

// Config configures a Reconciler
type Config struct {
	Store       Store
	Concurrency int                 // Chunks submitted in parallel (default 1)
	Logger      *report.EventLogger // Optional JSONL audit log
	Progress    func(rows int)      // Optional, called from worker goroutines after each chunk
}

// Reconciler turns raw records into stored listens in bounded chunks
type Reconciler struct {
	store       Store
	concurrency int
	logger      *report.EventLogger
	progress    func(int)
}

// New creates a Reconciler
func New(cfg Config) *Reconciler {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	return &Reconciler{
		store:       cfg.Store,
		concurrency: concurrency,
		logger:      cfg.Logger,
		progress:    cfg.Progress,
	}
}

type parsedRow struct {
	row    int
	listen *store.Listen
}

type chunkOutcome struct {
	inserted int
	updated  int
	skipped  int
	errors   []string
}

// ImportBatch parses rows and upserts the valid ones in chunks of chunkSize.
//
// A chunkSize outside [MinChunkSize, MaxChunkSize] fails the whole call with
// util.ErrInvalidArgument. Invalid rows, failed records and failed chunks are
// reported in ImportResult.Errors and never fail the call. A failed chunk is
// not retried. If ctx is canceled the partial result is returned together
// with the context error.
func (r *Reconciler) ImportBatch(ctx context.Context, rows []RawListen, chunkSize int) (*ImportResult, error) {
	return r.ImportFrom(ctx, "batch", rows, chunkSize)
}

// ImportFrom is ImportBatch with the source label written to the import event
// ("csv:history.csv", "api", "lastfm:user").
func (r *Reconciler) ImportFrom(ctx context.Context, source string, rows []RawListen, chunkSize int) (*ImportResult, error) {
	if chunkSize < MinChunkSize || chunkSize > MaxChunkSize {
		return nil, util.InvalidArgumentf("chunk size %d must be between %d and %d", chunkSize, MinChunkSize, MaxChunkSize)
	}

	start := time.Now()
	result := &ImportResult{
		TotalRows: len(rows),
		Errors:    make([]string, 0),
	}

	valid := make([]parsedRow, 0, len(rows))
	for i, raw := range rows {
		rowNum := raw.Row
		if rowNum <= 0 {
			rowNum = i + 1
		}

		listen, err := ParseRow(raw)
		if err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", rowNum, err))
			r.logger.LogRowSkipped(rowNum, raw.Track, raw.Artist, err.Error())
			continue
		}
		valid = append(valid, parsedRow{row: rowNum, listen: listen})
	}

	if skipped := result.Skipped; skipped > 0 {
		util.DebugLog("ingest: %d of %d rows rejected during parsing", skipped, len(rows))
		if r.progress != nil {
			r.progress(skipped)
		}
	}

	chunks := splitChunks(valid, chunkSize)
	outcomes := make([]chunkOutcome, len(chunks))

	p := pool.New().WithMaxGoroutines(r.concurrency)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		p.Go(func() {
			outcomes[i] = r.submitChunk(ctx, i+1, chunk)
			if r.progress != nil {
				r.progress(len(chunk))
			}
		})
	}
	p.Wait()

	for _, o := range outcomes {
		result.Inserted += o.inserted
		result.Updated += o.updated
		result.Imported += o.inserted + o.updated
		result.Skipped += o.skipped
		result.Errors = append(result.Errors, o.errors...)
	}

	result.ProcessingTime = time.Since(start)
	r.logger.LogImport(source, result.TotalRows, result.Imported, result.Skipped, result.ProcessingTime)

	util.DebugLog("ingest: %d rows, %d imported (%d new, %d updated), %d skipped in %v",
		result.TotalRows, result.Imported, result.Inserted, result.Updated, result.Skipped, result.ProcessingTime)

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("import interrupted: %w", err)
	}
	return result, nil
}

// submitChunk upserts one chunk. Chunk-level failures skip every row of the
// chunk with a single error.
func (r *Reconciler) submitChunk(ctx context.Context, n int, chunk []parsedRow) chunkOutcome {
	start := time.Now()
	listens := make([]*store.Listen, len(chunk))
	for i, row := range chunk {
		listens[i] = row.listen
	}

	res, err := r.store.UpsertBatch(ctx, listens)
	if err != nil {
		r.logger.LogChunk(n, len(chunk), 0, time.Since(start), err)
		util.WarnLog("Chunk %d (rows %d-%d) failed: %v", n, chunk[0].row, chunk[len(chunk)-1].row, err)
		return chunkOutcome{
			skipped: len(chunk),
			errors:  []string{fmt.Sprintf("chunk %d (rows %d-%d): %v", n, chunk[0].row, chunk[len(chunk)-1].row, err)},
		}
	}

	out := chunkOutcome{
		inserted: res.Inserted,
		updated:  res.Updated,
		skipped:  len(res.Failures),
	}
	for _, f := range res.Failures {
		row := chunk[f.Index]
		out.errors = append(out.errors, fmt.Sprintf("row %d: %v", row.row, f.Err))
		r.logger.LogRowSkipped(row.row, row.listen.Track, row.listen.Artist, f.Err.Error())
	}

	r.logger.LogChunk(n, len(chunk), res.Written(), time.Since(start), nil)
	return out
}

func splitChunks(rows []parsedRow, size int) [][]parsedRow {
	var chunks [][]parsedRow
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		chunks = append(chunks, rows[start:end])
	}
	return chunks
}

// ParseRow validates and converts a raw record. Text fields are trimmed;
// track, artist and date are required.
func ParseRow(raw RawListen) (*store.Listen, error) {
	track := strings.TrimSpace(raw.Track)
	artist := strings.TrimSpace(raw.Artist)

	if track == "" && artist == "" && strings.TrimSpace(raw.PlayedAt) == "" {
		return nil, errors.New("empty row")
	}
	if track == "" {
		return nil, errors.New("missing track")
	}
	if artist == "" {
		return nil, errors.New("missing artist")
	}

	playedAt, err := ParsePlayedAt(raw.PlayedAt)
	if err != nil {
		return nil, err
	}

	duration, err := ParseDuration(raw.Duration)
	if err != nil {
		return nil, err
	}

	return &store.Listen{
		Track:           track,
		Artist:          artist,
		Album:           strings.TrimSpace(raw.Album),
		DurationSeconds: duration,
		PlayedAt:        playedAt,
	}, nil
}
