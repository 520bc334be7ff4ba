package stats

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/franz/listen-stats/internal/meta"
	"github.com/franz/listen-stats/internal/store"
	"github.com/franz/listen-stats/internal/util"
)

// Ranking limits
const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Source is the read side of the listening store used by the engine
type Source interface {
	Listens(ctx context.Context, w store.Window) ([]*store.Listen, error)
	ListensByAlbum(ctx context.Context, album string, w store.Window) ([]*store.Listen, error)
	Recent(ctx context.Context, limit int) ([]*store.Listen, error)
	CountByNormalizedKey(ctx context.Context, pairs []store.Pair) (map[string]int, error)
	SearchArtists(ctx context.Context, query string, limit int) ([]store.ArtistCredit, error)
	SearchAlbums(ctx context.Context, query string, limit int) ([]store.AlbumCredit, error)
}

// Engine computes rankings and detail views over stored listens.
// It never writes to the store.
type Engine struct {
	src Source
}

// New creates an engine reading from src
func New(src Source) *Engine {
	return &Engine{src: src}
}

// ClampLimit maps nb <= 0 or nb > MaxLimit to DefaultLimit
func ClampLimit(nb int) int {
	if nb <= 0 || nb > MaxLimit {
		return DefaultLimit
	}
	return nb
}

// fetch loads the listens of a validated window
func (e *Engine) fetch(ctx context.Context, w store.Window) ([]*store.Listen, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	listens, err := e.src.Listens(ctx, w)
	if err != nil {
		return nil, asStorageError("fetch listens", err)
	}
	util.DebugLog("stats: fetched %d listens for %s in %v", len(listens), w, time.Since(start))
	return listens, nil
}

// asStorageError guarantees source failures surface as ErrStorageUnavailable
func asStorageError(op string, err error) error {
	if errors.Is(err, util.ErrStorageUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, util.ErrStorageUnavailable, err)
}

func hasText(s string) bool {
	return strings.TrimSpace(s) != ""
}

// TopAlbums ranks albums by play count. An album is identified by its
// normalized title and normalized primary artist.
func (e *Engine) TopAlbums(ctx context.Context, w store.Window, nb int) ([]AlbumStat, error) {
	listens, err := e.fetch(ctx, w)
	if err != nil {
		return nil, err
	}

	p := NewPipeline().
		Window(w).
		Filter("album and track present", func(l *store.Listen) bool {
			return hasText(l.Album) && hasText(l.Track)
		}).
		Normalize(func(l *store.Listen) (Identity, bool) {
			primary := meta.PrimaryArtist(l.Artist)
			if primary == "" {
				return Identity{}, false
			}
			album := strings.TrimSpace(l.Album)
			return Identity{
				Key:    compositeKey(meta.Normalize(album), meta.Normalize(primary)),
				Name:   album,
				Artist: primary,
			}, true
		}).
		Limit(ClampLimit(nb))

	util.DebugLog("stats: top albums %s", p)

	return Run(p, listens, func(g *Group) AlbumStat {
		return AlbumStat{
			Title:                g.Name,
			Artist:               g.Artist,
			StreamCount:          g.StreamCount,
			ListeningTimeSeconds: g.ListeningTime,
		}
	}), nil
}

// TopArtists ranks artists by play count. Only the primary artist of a
// credit is ranked; featured artists do not gain a slot.
func (e *Engine) TopArtists(ctx context.Context, w store.Window, nb int) ([]ArtistStat, error) {
	listens, err := e.fetch(ctx, w)
	if err != nil {
		return nil, err
	}

	p := NewPipeline().
		Window(w).
		Normalize(func(l *store.Listen) (Identity, bool) {
			primary := meta.PrimaryArtist(l.Artist)
			if primary == "" {
				return Identity{}, false
			}
			return Identity{Key: meta.Normalize(primary), Name: primary, Artist: primary}, true
		}).
		Limit(ClampLimit(nb))

	util.DebugLog("stats: top artists %s", p)

	return Run(p, listens, func(g *Group) ArtistStat {
		return ArtistStat{
			Name:                 g.Name,
			StreamCount:          g.StreamCount,
			ListeningTimeSeconds: g.ListeningTime,
		}
	}), nil
}

// TopTracks ranks tracks by play count. A track is identified by its
// normalized title and normalized primary artist; LastListening is its most
// recent play.
func (e *Engine) TopTracks(ctx context.Context, w store.Window, nb int) ([]TrackStat, error) {
	listens, err := e.fetch(ctx, w)
	if err != nil {
		return nil, err
	}

	p := NewPipeline().
		Window(w).
		Filter("track present", func(l *store.Listen) bool {
			return hasText(l.Track)
		}).
		Normalize(func(l *store.Listen) (Identity, bool) {
			primary := meta.PrimaryArtist(l.Artist)
			if primary == "" {
				return Identity{}, false
			}
			track := strings.TrimSpace(l.Track)
			return Identity{
				Key:    compositeKey(meta.Normalize(track), meta.Normalize(primary)),
				Name:   track,
				Artist: primary,
				Album:  strings.TrimSpace(l.Album),
			}, true
		}).
		Limit(ClampLimit(nb))

	util.DebugLog("stats: top tracks %s", p)

	return Run(p, listens, func(g *Group) TrackStat {
		return TrackStat{
			Title:                g.Name,
			Artist:               g.Artist,
			Album:                g.Album,
			StreamCount:          g.StreamCount,
			ListeningTimeSeconds: g.ListeningTime,
			LastListening:        g.LastPlayed,
		}
	}), nil
}

// AlbumDetail aggregates one album: its title must match case-insensitively
// and artist must be credited, as primary or featured. Zero matching listens
// is ErrNotFound.
func (e *Engine) AlbumDetail(ctx context.Context, title, artist string, w store.Window) (*AlbumDetail, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if !hasText(title) {
		return nil, util.InvalidArgumentf("album title is empty")
	}
	if !hasText(artist) {
		return nil, util.InvalidArgumentf("album artist is empty")
	}

	start := time.Now()
	listens, err := e.src.ListensByAlbum(ctx, title, w)
	if err != nil {
		return nil, asStorageError("fetch album listens", err)
	}
	util.DebugLog("stats: fetched %d listens of album %q for %s in %v", len(listens), title, w, time.Since(start))

	wantTitle := meta.Normalize(title)
	p := NewPipeline().
		Window(w).
		Filter("album "+title, func(l *store.Listen) bool {
			return meta.Normalize(l.Album) == wantTitle
		}).
		Filter("track present", func(l *store.Listen) bool {
			return hasText(l.Track)
		}).
		Normalize(func(l *store.Listen) (Identity, bool) {
			credit, ok := meta.MatchCredit(l.Artist, artist)
			if !ok {
				return Identity{}, false
			}
			return Identity{Key: wantTitle, Name: strings.TrimSpace(l.Album), Artist: credit}, true
		}).
		GroupBy(GroupByStage{PerTrack: true})

	groups := p.Groups(listens)
	if len(groups) == 0 {
		return nil, fmt.Errorf("%w: album %q by %q", util.ErrNotFound, title, artist)
	}

	g := groups[0]
	return &AlbumDetail{
		AlbumStat: AlbumStat{
			Title:                g.Name,
			Artist:               g.Artist,
			StreamCount:          g.StreamCount,
			ListeningTimeSeconds: g.ListeningTime,
		},
		TotalDurationSeconds: g.ListeningTime,
		FirstListening:       g.FirstPlayed,
		LastListening:        g.LastPlayed,
		TrackCounts:          g.TrackCounts(),
		Tracks:               breakdown(g),
	}, nil
}

// ArtistDetail aggregates every listen crediting artist, whether as primary
// or featured artist. Zero matching listens is ErrNotFound.
func (e *Engine) ArtistDetail(ctx context.Context, artist string, w store.Window) (*ArtistDetail, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if !hasText(artist) {
		return nil, util.InvalidArgumentf("artist name is empty")
	}

	listens, err := e.fetch(ctx, w)
	if err != nil {
		return nil, err
	}

	wantArtist := meta.Normalize(artist)
	p := NewPipeline().
		Window(w).
		Filter("track present", func(l *store.Listen) bool {
			return hasText(l.Track)
		}).
		Normalize(func(l *store.Listen) (Identity, bool) {
			credit, ok := meta.MatchCredit(l.Artist, artist)
			if !ok {
				return Identity{}, false
			}
			return Identity{Key: wantArtist, Name: credit, Artist: credit}, true
		}).
		GroupBy(GroupByStage{PerTrack: true})

	groups := p.Groups(listens)
	if len(groups) == 0 {
		return nil, fmt.Errorf("%w: artist %q", util.ErrNotFound, artist)
	}

	g := groups[0]
	return &ArtistDetail{
		ArtistStat: ArtistStat{
			Name:                 g.Name,
			StreamCount:          g.StreamCount,
			ListeningTimeSeconds: g.ListeningTime,
		},
		TotalDurationSeconds: g.ListeningTime,
		FirstListening:       g.FirstPlayed,
		LastListening:        g.LastPlayed,
		TrackCounts:          g.TrackCounts(),
		Tracks:               breakdown(g),
	}, nil
}

func breakdown(g *Group) []TrackBreakdown {
	tracks := make([]TrackBreakdown, 0, len(g.Tracks))
	for _, t := range g.Tracks {
		tracks = append(tracks, TrackBreakdown{
			Title:                t.Name,
			StreamCount:          t.StreamCount,
			ListeningTimeSeconds: t.ListeningTime,
			LastListening:        t.LastPlayed,
		})
	}
	return tracks
}

// RecentWithCounts returns the latest listens, each with the all-time play
// count of its (artist, track) pair. Counts come from one batched lookup.
func (e *Engine) RecentWithCounts(ctx context.Context, limit int) ([]RecentListen, error) {
	listens, err := e.src.Recent(ctx, limit)
	if err != nil {
		return nil, asStorageError("recent listens", err)
	}

	pairs := make([]store.Pair, 0, len(listens))
	for _, l := range listens {
		pairs = append(pairs, store.Pair{Artist: l.Artist, Track: l.Track})
	}

	counts, err := e.src.CountByNormalizedKey(ctx, pairs)
	if err != nil {
		return nil, asStorageError("count recent listens", err)
	}

	recent := make([]RecentListen, 0, len(listens))
	for _, l := range listens {
		recent = append(recent, RecentListen{
			ID:              l.ID,
			Track:           l.Track,
			Artist:          l.Artist,
			Album:           l.Album,
			DurationSeconds: l.DurationSeconds,
			PlayedAt:        l.PlayedAt,
			PlayCount:       counts[meta.PairKey(l.Artist, l.Track)],
		})
	}
	return recent, nil
}

// Search suggests artists and albums whose names contain query
func (e *Engine) Search(ctx context.Context, query string, nb int) (*Suggestions, error) {
	if !hasText(query) {
		return nil, util.InvalidArgumentf("search query is empty")
	}
	limit := ClampLimit(nb)

	artists, err := e.src.SearchArtists(ctx, query, limit)
	if err != nil {
		return nil, asStorageError("search artists", err)
	}
	albums, err := e.src.SearchAlbums(ctx, query, limit)
	if err != nil {
		return nil, asStorageError("search albums", err)
	}

	s := &Suggestions{
		Artists: make([]ArtistSuggestion, 0, len(artists)),
		Albums:  make([]AlbumSuggestion, 0, len(albums)),
	}
	for _, a := range artists {
		s.Artists = append(s.Artists, ArtistSuggestion{Name: a.Artist, Plays: a.Plays})
	}
	for _, a := range albums {
		primary := meta.PrimaryArtist(a.Artist)
		s.Albums = append(s.Albums, AlbumSuggestion{
			Title:      a.Album,
			Artist:     primary,
			Identifier: AlbumIdentifier(a.Album, primary),
			Plays:      a.Plays,
		})
	}
	return s, nil
}

// AlbumIdentifier builds the "title|artist" form accepted by ParseAlbumIdentifier
func AlbumIdentifier(title, artist string) string {
	return strings.TrimSpace(title) + "|" + strings.TrimSpace(artist)
}

// ParseAlbumIdentifier splits a (possibly URL-escaped) "title|artist" identifier
func ParseAlbumIdentifier(identifier string) (title, artist string, err error) {
	decoded, err := url.PathUnescape(identifier)
	if err != nil {
		decoded = identifier
	}

	parts := strings.Split(decoded, "|")
	if len(parts) != 2 {
		return "", "", util.InvalidArgumentf("album identifier %q must look like 'title|artist'", identifier)
	}

	title = strings.TrimSpace(parts[0])
	artist = strings.TrimSpace(parts[1])
	if title == "" || artist == "" {
		return "", "", util.InvalidArgumentf("album identifier %q has an empty title or artist", identifier)
	}
	return title, artist, nil
}
