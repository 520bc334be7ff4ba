package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/franz/listen-stats/internal/ingest"
	"github.com/franz/listen-stats/internal/report"
	"github.com/franz/listen-stats/internal/stats"
	"github.com/franz/listen-stats/internal/store"
	"github.com/franz/listen-stats/internal/util"
)

// maxUploadBytes caps the body of an import upload
const maxUploadBytes = 32 << 20

type handler struct {
	store        *store.Store
	engine       *stats.Engine
	reconciler   *ingest.Reconciler
	history      ingest.HistorySource
	events       *report.EventLogger
	queryTimeout time.Duration
	chunkSize    int
}

func (h *handler) queryContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.queryTimeout)
}

func (h *handler) health(c *gin.Context) {
	ctx, cancel := h.queryContext(c)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		respondError(c, err)
		return
	}
	count, err := h.store.Count(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "listens": count})
}

func (h *handler) topAlbums(c *gin.Context) {
	w, nb, err := windowAndLimit(c)
	if err != nil {
		respondError(c, err)
		return
	}

	ctx, cancel := h.queryContext(c)
	defer cancel()

	start := time.Now()
	albums, err := h.engine.TopAlbums(ctx, w, nb)
	if err != nil {
		respondError(c, err)
		return
	}
	h.events.LogQuery("top-albums", len(albums), time.Since(start))

	c.JSON(http.StatusOK, nonNil(albums))
}

func (h *handler) topArtists(c *gin.Context) {
	w, nb, err := windowAndLimit(c)
	if err != nil {
		respondError(c, err)
		return
	}

	ctx, cancel := h.queryContext(c)
	defer cancel()

	start := time.Now()
	artists, err := h.engine.TopArtists(ctx, w, nb)
	if err != nil {
		respondError(c, err)
		return
	}
	h.events.LogQuery("top-artists", len(artists), time.Since(start))

	c.JSON(http.StatusOK, nonNil(artists))
}

func (h *handler) topTracks(c *gin.Context) {
	w, nb, err := windowAndLimit(c)
	if err != nil {
		respondError(c, err)
		return
	}

	ctx, cancel := h.queryContext(c)
	defer cancel()

	start := time.Now()
	tracks, err := h.engine.TopTracks(ctx, w, nb)
	if err != nil {
		respondError(c, err)
		return
	}
	h.events.LogQuery("top-tracks", len(tracks), time.Since(start))

	c.JSON(http.StatusOK, nonNil(tracks))
}

func (h *handler) albumDetail(c *gin.Context) {
	title, artist, err := stats.ParseAlbumIdentifier(c.Query("identifier"))
	if err != nil {
		respondError(c, err)
		return
	}
	w, err := store.ParseWindow(c.Query("from"), c.Query("to"))
	if err != nil {
		respondError(c, err)
		return
	}

	ctx, cancel := h.queryContext(c)
	defer cancel()

	detail, err := h.engine.AlbumDetail(ctx, title, artist, w)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *handler) artistDetail(c *gin.Context) {
	artist := strings.TrimSpace(c.Query("identifier"))
	if artist == "" {
		respondBadRequest(c, "Invalid request", "identifier is required")
		return
	}
	w, err := store.ParseWindow(c.Query("from"), c.Query("to"))
	if err != nil {
		respondError(c, err)
		return
	}

	ctx, cancel := h.queryContext(c)
	defer cancel()

	detail, err := h.engine.ArtistDetail(ctx, artist, w)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// recent serves the latest listens. With sync=true it first pulls new plays
// from the configured history source; a failed sync is logged and the local
// data is served anyway. The X-Sync-Status header reports what happened.
func (h *handler) recent(c *gin.Context) {
	limit, err := intQuery(c, "limit")
	if err != nil {
		respondError(c, err)
		return
	}
	doSync := false
	if raw := c.Query("sync"); raw != "" {
		if doSync, err = cast.ToBoolE(raw); err != nil {
			respondBadRequest(c, "Invalid request", fmt.Sprintf("sync must be a boolean, got %q", raw))
			return
		}
	}

	syncStatus := "skipped"
	if doSync && h.history != nil {
		syncStatus = h.syncHistory(c.Request.Context())
	}
	c.Header("X-Sync-Status", syncStatus)

	ctx, cancel := h.queryContext(c)
	defer cancel()

	listens, err := h.engine.RecentWithCounts(ctx, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(listens))
}

func (h *handler) syncHistory(ctx context.Context) string {
	started := time.Now()
	res, err := h.reconciler.Sync(ctx, h.history, h.chunkSize)
	if err != nil {
		util.Logger().Warn("history sync failed, serving local data",
			zap.String("source", h.history.Name()), zap.Error(err))
		return "failed"
	}
	h.recordRun(ctx, h.history.Name(), started, res.Import)
	return "ok"
}

func (h *handler) search(c *gin.Context) {
	nb, err := intQuery(c, "nb")
	if err != nil {
		respondError(c, err)
		return
	}

	ctx, cancel := h.queryContext(c)
	defer cancel()

	suggestions, err := h.engine.Search(ctx, c.Query("q"), nb)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, suggestions)
}

// uploadRow is one JSON upload record. Values may be strings or numbers.
type uploadRow struct {
	Track    any `json:"track"`
	Artist   any `json:"artist"`
	Album    any `json:"album"`
	Duration any `json:"duration"`
	PlayedAt any `json:"playedAt"`
}

// importUpload imports a JSON array of rows, or a CSV body when the
// content type is text/csv. batchSize sets the chunk size.
func (h *handler) importUpload(c *gin.Context) {
	chunkSize := h.chunkSize
	if raw := c.Query("batchSize"); raw != "" {
		n, err := cast.ToIntE(raw)
		if err != nil {
			respondBadRequest(c, "Invalid request", fmt.Sprintf("batchSize must be an integer, got %q", raw))
			return
		}
		chunkSize = n
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

	var rows []ingest.RawListen
	if strings.HasPrefix(c.ContentType(), "text/csv") {
		parsed, err := ingest.ReadCSV(c.Request.Body)
		if err != nil {
			respondBadRequest(c, "Invalid CSV upload", err.Error())
			return
		}
		rows = parsed
	} else {
		var body []uploadRow
		if err := c.ShouldBindJSON(&body); err != nil {
			respondBadRequest(c, "Invalid JSON upload", err.Error())
			return
		}
		rows = make([]ingest.RawListen, len(body))
		for i, r := range body {
			rows[i] = ingest.RawListen{
				Row:      i + 1,
				Track:    cast.ToString(r.Track),
				Artist:   cast.ToString(r.Artist),
				Album:    cast.ToString(r.Album),
				Duration: cast.ToString(r.Duration),
				PlayedAt: cast.ToString(r.PlayedAt),
			}
		}
	}

	started := time.Now()
	result, err := h.reconciler.ImportFrom(c.Request.Context(), "api", rows, chunkSize)
	if err != nil {
		if errors.Is(err, util.ErrInvalidArgument) {
			respondError(c, err)
			return
		}
		if result == nil {
			respondInternalError(c, err, "Import failed")
			return
		}
		// Interrupted: what was applied stays applied, report it
		util.Logger().Warn("import interrupted", zap.Error(err), zap.Int("imported", result.Imported))
	}

	h.recordRun(c.Request.Context(), "api", started, result)

	c.JSON(http.StatusOK, result)
}

func (h *handler) recordRun(ctx context.Context, source string, started time.Time, res *ingest.ImportResult) {
	if res == nil {
		return
	}
	run := &store.ImportRun{
		Source:      source,
		StartedAt:   started,
		CompletedAt: time.Now(),
		TotalRows:   res.TotalRows,
		Imported:    res.Imported,
		Skipped:     res.Skipped,
		ErrorCount:  len(res.Errors),
	}
	if err := h.store.InsertImportRun(context.WithoutCancel(ctx), run); err != nil {
		util.Logger().Warn("failed to record import run", zap.String("source", source), zap.Error(err))
	}
}

func windowAndLimit(c *gin.Context) (store.Window, int, error) {
	w, err := store.ParseWindow(c.Query("from"), c.Query("to"))
	if err != nil {
		return store.Window{}, 0, err
	}
	nb, err := intQuery(c, "nb")
	if err != nil {
		return store.Window{}, 0, err
	}
	return w, nb, nil
}

// intQuery reads an optional integer parameter; absent means 0
func intQuery(c *gin.Context, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	n, err := cast.ToIntE(raw)
	if err != nil {
		return 0, util.InvalidArgumentf("%s must be an integer, got %q", key, raw)
	}
	return n, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
