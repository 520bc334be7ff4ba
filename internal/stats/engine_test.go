package stats

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/franz/listen-stats/internal/store"
	"github.com/franz/listen-stats/internal/util"
)

func newTestEngine(t *testing.T, listens ...*store.Listen) (*Engine, *store.Store) {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "stats.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if len(listens) > 0 {
		res, err := s.UpsertBatch(context.Background(), listens)
		if err != nil {
			t.Fatalf("UpsertBatch failed: %v", err)
		}
		if len(res.Failures) > 0 {
			t.Fatalf("unexpected upsert failure: %v", res.Failures[0].Err)
		}
	}

	return New(s), s
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestTopArtists_NormalizationEquivalence(t *testing.T) {
	e, _ := newTestEngine(t,
		play("Around the World", "Daft Punk", "Homework", 100, 0),
		play("Da Funk", " daft punk ", "Homework", 100, 1),
		play("One More Time", "DAFT PUNK", "Discovery", 100, 2),
		play("Teardrop", "Massive Attack", "Mezzanine", 100, 3),
		play("Angel", "Massive Attack", "Mezzanine", 100, 4),
	)

	top, err := e.TopArtists(context.Background(), store.Window{}, 10)
	if err != nil {
		t.Fatalf("TopArtists failed: %v", err)
	}

	if len(top) != 2 {
		t.Fatalf("expected 2 artists, got %d: %+v", len(top), top)
	}
	if top[0].Name != "Daft Punk" || top[0].StreamCount != 3 || top[0].ListeningTimeSeconds != 300 {
		t.Errorf("expected Daft Punk with 3 plays / 300s, got %+v", top[0])
	}
	if top[1].Name != "Massive Attack" || top[1].StreamCount != 2 {
		t.Errorf("expected Massive Attack with 2 plays, got %+v", top[1])
	}
}

func TestCollaborationAttribution(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t,
		play("Together", "A, B & C", "Joint", 120, 0),
		play("Solo B", "B", "Bee", 60, 1),
	)

	top, err := e.TopArtists(ctx, store.Window{}, 10)
	if err != nil {
		t.Fatalf("TopArtists failed: %v", err)
	}
	// Only primary artists are ranked; equal counts order by key
	if len(top) != 2 || top[0].Name != "A" || top[1].Name != "B" {
		t.Fatalf("expected [A B] ranked, got %+v", top)
	}
	if top[0].StreamCount != 1 || top[1].StreamCount != 1 {
		t.Errorf("expected one play each, got %+v", top)
	}

	tests := []struct {
		artist string
		count  int
		tracks int
	}{
		{"A", 1, 1},
		{"b", 2, 2},
		{" C ", 1, 1},
	}
	for _, tt := range tests {
		detail, err := e.ArtistDetail(ctx, tt.artist, store.Window{})
		if err != nil {
			t.Errorf("ArtistDetail(%q) failed: %v", tt.artist, err)
			continue
		}
		if detail.StreamCount != tt.count {
			t.Errorf("ArtistDetail(%q).StreamCount = %d, expected %d", tt.artist, detail.StreamCount, tt.count)
		}
		if len(detail.Tracks) != tt.tracks || len(detail.TrackCounts) != tt.tracks {
			t.Errorf("ArtistDetail(%q) has %d tracks, expected %d", tt.artist, len(detail.Tracks), tt.tracks)
		}
	}

	c, err := e.ArtistDetail(ctx, "c", store.Window{})
	if err != nil {
		t.Fatalf("ArtistDetail failed: %v", err)
	}
	if c.Name != "C" {
		t.Errorf("expected display name from the credit 'C', got %q", c.Name)
	}
	if c.TrackCounts["Together"] != 1 {
		t.Errorf("expected Together counted for C, got %v", c.TrackCounts)
	}
}

func TestNbClamping(t *testing.T) {
	var listens []*store.Listen
	for i := 0; i < 15; i++ {
		artist := fmt.Sprintf("Artist %02d", i)
		listens = append(listens, play("Track", artist, "Album "+artist, 10, i))
	}
	e, _ := newTestEngine(t, listens...)
	ctx := context.Background()

	tests := []struct {
		nb       int
		expected int
	}{
		{0, 10},
		{-5, 10},
		{500, 10},
		{101, 10},
		{37, 15},
		{3, 3},
		{100, 15},
	}

	for _, tt := range tests {
		albums, err := e.TopAlbums(ctx, store.Window{}, tt.nb)
		if err != nil {
			t.Fatalf("TopAlbums(nb=%d) failed: %v", tt.nb, err)
		}
		artists, err := e.TopArtists(ctx, store.Window{}, tt.nb)
		if err != nil {
			t.Fatalf("TopArtists(nb=%d) failed: %v", tt.nb, err)
		}
		tracks, err := e.TopTracks(ctx, store.Window{}, tt.nb)
		if err != nil {
			t.Fatalf("TopTracks(nb=%d) failed: %v", tt.nb, err)
		}

		if len(albums) != tt.expected {
			t.Errorf("TopAlbums(nb=%d) returned %d rows, expected %d", tt.nb, len(albums), tt.expected)
		}
		if len(artists) != tt.expected {
			t.Errorf("TopArtists(nb=%d) returned %d rows, expected %d", tt.nb, len(artists), tt.expected)
		}
		if len(tracks) != tt.expected {
			t.Errorf("TopTracks(nb=%d) returned %d rows, expected %d", tt.nb, len(tracks), tt.expected)
		}
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		input    int
		expected int
	}{
		{0, 10}, {-5, 10}, {500, 10}, {1, 1}, {37, 37}, {100, 100}, {101, 10},
	}
	for _, tt := range tests {
		if got := ClampLimit(tt.input); got != tt.expected {
			t.Errorf("ClampLimit(%d) = %d, expected %d", tt.input, got, tt.expected)
		}
	}
}

func TestInvalidRangeRejected(t *testing.T) {
	e, _ := newTestEngine(t, play("T", "A", "Alb", 10, 0))
	ctx := context.Background()
	w := store.Between(date(2024, 6, 1), date(2024, 1, 1))

	ops := map[string]func() error{
		"TopAlbums": func() error {
			_, err := e.TopAlbums(ctx, w, 10)
			return err
		},
		"TopArtists": func() error {
			_, err := e.TopArtists(ctx, w, 10)
			return err
		},
		"TopTracks": func() error {
			_, err := e.TopTracks(ctx, w, 10)
			return err
		},
		"AlbumDetail": func() error {
			_, err := e.AlbumDetail(ctx, "Alb", "A", w)
			return err
		},
		"ArtistDetail": func() error {
			_, err := e.ArtistDetail(ctx, "A", w)
			return err
		},
	}

	for name, op := range ops {
		err := op()
		if !errors.Is(err, util.ErrInvalidRange) {
			t.Errorf("%s: expected ErrInvalidRange, got %v", name, err)
		}
		if !errors.Is(err, util.ErrInvalidArgument) {
			t.Errorf("%s: expected ErrInvalidArgument family, got %v", name, err)
		}
	}
}

func TestArtistDetail_NotFound(t *testing.T) {
	e, _ := newTestEngine(t,
		play("Teardrop", "Massive Attack", "Mezzanine", 330, 0),
		play("Da Funk", "Daft Punk", "Homework", 328, 1),
	)

	detail, err := e.ArtistDetail(context.Background(), "NoSuchArtist", store.Window{})
	if !errors.Is(err, util.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if detail != nil {
		t.Errorf("expected no detail, got %+v", detail)
	}
}

func TestDetail_InvalidArguments(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.ArtistDetail(ctx, "   ", store.Window{}); !errors.Is(err, util.ErrInvalidArgument) {
		t.Errorf("ArtistDetail(blank): expected ErrInvalidArgument, got %v", err)
	}
	if _, err := e.AlbumDetail(ctx, "", "A", store.Window{}); !errors.Is(err, util.ErrInvalidArgument) {
		t.Errorf("AlbumDetail(blank title): expected ErrInvalidArgument, got %v", err)
	}
	if _, err := e.AlbumDetail(ctx, "Alb", " ", store.Window{}); !errors.Is(err, util.ErrInvalidArgument) {
		t.Errorf("AlbumDetail(blank artist): expected ErrInvalidArgument, got %v", err)
	}
	if _, err := e.Search(ctx, "", 10); !errors.Is(err, util.ErrInvalidArgument) {
		t.Errorf("Search(blank): expected ErrInvalidArgument, got %v", err)
	}
}

func TestTopAlbums_WindowOnlyCountsInWindowPlays(t *testing.T) {
	var listens []*store.Listen
	in := date(2023, 3, 1)
	for i, album := range []string{"In One", "In Two", "In Three"} {
		for j := 0; j <= i; j++ {
			listens = append(listens, &store.Listen{
				Track: fmt.Sprintf("Track %d", j), Artist: "Inside", Album: album,
				DurationSeconds: 100, PlayedAt: in.Add(time.Duration(i*24+j) * time.Hour),
			})
		}
	}
	for i := 0; i < 10; i++ {
		playedAt := date(2022, 6, 1).Add(time.Duration(i) * time.Hour)
		if i%2 == 1 {
			playedAt = date(2024, 2, 1).Add(time.Duration(i) * time.Hour)
		}
		listens = append(listens, &store.Listen{
			Track: "Outside Track", Artist: "Outside", Album: fmt.Sprintf("Out %d", i),
			DurationSeconds: 100, PlayedAt: playedAt,
		})
	}
	// Same album also played out of window: must not inflate the count
	listens = append(listens, &store.Listen{
		Track: "Track 0", Artist: "Inside", Album: "In One",
		DurationSeconds: 100, PlayedAt: date(2024, 1, 1),
	})

	e, _ := newTestEngine(t, listens...)

	top, err := e.TopAlbums(context.Background(), store.Between(date(2023, 1, 1), date(2023, 12, 31)), 5)
	if err != nil {
		t.Fatalf("TopAlbums failed: %v", err)
	}

	if len(top) != 3 {
		t.Fatalf("expected 3 albums, got %d: %+v", len(top), top)
	}
	expected := []struct {
		title string
		count int
	}{
		{"In Three", 3},
		{"In Two", 2},
		{"In One", 1},
	}
	for i, want := range expected {
		if top[i].Title != want.title || top[i].StreamCount != want.count {
			t.Errorf("position %d: expected %s x%d, got %s x%d", i, want.title, want.count, top[i].Title, top[i].StreamCount)
		}
		if top[i].Artist != "Inside" {
			t.Errorf("position %d: expected artist Inside, got %s", i, top[i].Artist)
		}
	}
}

func TestTopAlbums_GroupsByPrimaryArtistAndSkipsMissingFields(t *testing.T) {
	e, _ := newTestEngine(t,
		play("One", "Orelsan", "Civilisation", 100, 0),
		play("Two", "orelsan & Thomas Bangalter", "civilisation ", 100, 1),
		play("Three", "Other", "Civilisation", 100, 2),
		play("Four", "Orelsan", "", 100, 3),
	)

	top, err := e.TopAlbums(context.Background(), store.Window{}, 10)
	if err != nil {
		t.Fatalf("TopAlbums failed: %v", err)
	}

	if len(top) != 2 {
		t.Fatalf("expected 2 albums, got %+v", top)
	}
	if top[0].Title != "Civilisation" || top[0].Artist != "Orelsan" || top[0].StreamCount != 2 {
		t.Errorf("expected Civilisation by Orelsan x2, got %+v", top[0])
	}
	if top[1].Artist != "Other" || top[1].StreamCount != 1 {
		t.Errorf("expected Civilisation by Other x1, got %+v", top[1])
	}
}

func TestTopTracks_LastListeningIsMostRecent(t *testing.T) {
	e, _ := newTestEngine(t,
		play("Digital Love", "Daft Punk", "Discovery", 301, 30),
		play("digital love", "daft punk", "Discovery", 301, 90),
		play("DIGITAL LOVE", "Daft Punk", "Discovery", 301, 60),
		play("Aerodynamic", "Daft Punk", "Discovery", 212, 10),
	)

	top, err := e.TopTracks(context.Background(), store.Window{}, 10)
	if err != nil {
		t.Fatalf("TopTracks failed: %v", err)
	}

	if len(top) != 2 {
		t.Fatalf("expected 2 tracks, got %+v", top)
	}
	first := top[0]
	if first.Title != "Digital Love" {
		t.Errorf("expected first-encountered display 'Digital Love', got %q", first.Title)
	}
	if first.StreamCount != 3 || first.ListeningTimeSeconds != 903 {
		t.Errorf("expected 3 plays / 903s, got %d / %d", first.StreamCount, first.ListeningTimeSeconds)
	}
	if want := base.Add(90 * time.Minute); !first.LastListening.Equal(want) {
		t.Errorf("expected last listening %v, got %v", want, first.LastListening)
	}
	if first.Album != "Discovery" {
		t.Errorf("expected album Discovery, got %q", first.Album)
	}
}

func TestTopArtists_TieBreakIsDeterministic(t *testing.T) {
	e, _ := newTestEngine(t,
		play("x", "Charlie", "", 10, 0),
		play("x", "alpha", "", 10, 1),
		play("x", "Bravo", "", 10, 2),
	)

	for i := 0; i < 3; i++ {
		top, err := e.TopArtists(context.Background(), store.Window{}, 10)
		if err != nil {
			t.Fatalf("TopArtists failed: %v", err)
		}
		got := []string{top[0].Name, top[1].Name, top[2].Name}
		want := []string{"alpha", "Bravo", "Charlie"}
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("run %d: expected order %v, got %v", i, want, got)
			}
		}
	}
}

func TestAlbumDetail(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t,
		play("Intro", "Orelsan", "Civilisation", 90, 0),
		play("L'odeur de l'essence", "Orelsan", "Civilisation", 300, 1),
		play("l'odeur de l'essence", "ORELSAN", "CIVILISATION", 300, 2),
		play("Manifeste", "Orelsan & Thomas Bangalter", "Civilisation", 240, 3),
		play("Elsewhere", "Orelsan", "Other Album", 100, 4),
	)

	detail, err := e.AlbumDetail(ctx, "civilisation", "Orelsan", store.Window{})
	if err != nil {
		t.Fatalf("AlbumDetail failed: %v", err)
	}

	if detail.Title != "Civilisation" || detail.Artist != "Orelsan" {
		t.Errorf("expected Civilisation by Orelsan, got %q by %q", detail.Title, detail.Artist)
	}
	if detail.StreamCount != 4 {
		t.Errorf("expected 4 plays, got %d", detail.StreamCount)
	}
	if detail.TotalDurationSeconds != 930 || detail.ListeningTimeSeconds != 930 {
		t.Errorf("expected 930s total, got %d / %d", detail.TotalDurationSeconds, detail.ListeningTimeSeconds)
	}
	if detail.TrackCounts["L'odeur de l'essence"] != 2 || detail.TrackCounts["Intro"] != 1 || detail.TrackCounts["Manifeste"] != 1 {
		t.Errorf("unexpected track counts: %v", detail.TrackCounts)
	}
	if len(detail.Tracks) != 3 || detail.Tracks[0].Title != "L'odeur de l'essence" {
		t.Errorf("expected most played track first, got %+v", detail.Tracks)
	}
	if !detail.FirstListening.Equal(base) || !detail.LastListening.Equal(base.Add(3*time.Minute)) {
		t.Errorf("unexpected first/last listening %v / %v", detail.FirstListening, detail.LastListening)
	}

	// Featured artist matches the same album
	featured, err := e.AlbumDetail(ctx, "Civilisation", "thomas bangalter", store.Window{})
	if err != nil {
		t.Fatalf("AlbumDetail(featured) failed: %v", err)
	}
	if featured.StreamCount != 1 || featured.Artist != "Thomas Bangalter" {
		t.Errorf("expected 1 play credited to Thomas Bangalter, got %+v", featured.AlbumStat)
	}

	// Windowed lookup that excludes everything is NotFound
	w := store.Between(base.Add(time.Hour), base.Add(2*time.Hour))
	if _, err := e.AlbumDetail(ctx, "Civilisation", "Orelsan", w); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("expected ErrNotFound outside window, got %v", err)
	}

	if _, err := e.AlbumDetail(ctx, "Civil", "Orelsan", store.Window{}); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("expected ErrNotFound for partial title, got %v", err)
	}
}

// scanCountingSource records which read path the engine takes
type scanCountingSource struct {
	*store.Store
	fullScans  int
	albumReads int
}

func (s *scanCountingSource) Listens(ctx context.Context, w store.Window) ([]*store.Listen, error) {
	s.fullScans++
	return s.Store.Listens(ctx, w)
}

func (s *scanCountingSource) ListensByAlbum(ctx context.Context, album string, w store.Window) ([]*store.Listen, error) {
	s.albumReads++
	return s.Store.ListensByAlbum(ctx, album, w)
}

func TestAlbumDetail_ReadsOnlyTheAlbum(t *testing.T) {
	_, s := newTestEngine(t,
		play("Intro", "Orelsan", "Civilisation", 90, 0),
		play("Manifeste", "Orelsan", " civilisation ", 240, 1),
		play("Elsewhere", "Orelsan", "Other Album", 100, 2),
	)
	src := &scanCountingSource{Store: s}

	detail, err := New(src).AlbumDetail(context.Background(), "CIVILISATION", "orelsan", store.Window{})
	if err != nil {
		t.Fatalf("AlbumDetail failed: %v", err)
	}
	if detail.StreamCount != 2 {
		t.Errorf("expected 2 plays, got %d", detail.StreamCount)
	}
	if src.fullScans != 0 {
		t.Errorf("expected no full window scan, got %d", src.fullScans)
	}
	if src.albumReads != 1 {
		t.Errorf("expected 1 album read, got %d", src.albumReads)
	}
}

func TestRecentWithCounts(t *testing.T) {
	e, _ := newTestEngine(t,
		play("Teardrop", "Massive Attack", "Mezzanine", 330, 0),
		play("teardrop", "massive attack", "Mezzanine", 330, 10),
		play("Angel", "Massive Attack", "Mezzanine", 380, 20),
	)

	recent, err := e.RecentWithCounts(context.Background(), 2)
	if err != nil {
		t.Fatalf("RecentWithCounts failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent listens, got %d", len(recent))
	}
	if recent[0].Track != "Angel" || recent[0].PlayCount != 1 {
		t.Errorf("expected Angel with 1 play, got %+v", recent[0])
	}
	if recent[1].Track != "teardrop" || recent[1].PlayCount != 2 {
		t.Errorf("expected teardrop with 2 plays, got %+v", recent[1])
	}
}

func TestSearch(t *testing.T) {
	e, _ := newTestEngine(t,
		play("Da Funk", "Daft Punk", "Homework", 1, 0),
		play("Digital Love", "Daft Punk & Friends", "Discovery", 1, 1),
	)

	s, err := e.Search(context.Background(), "daft", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(s.Artists) != 2 {
		t.Errorf("expected 2 artist suggestions, got %+v", s.Artists)
	}

	s, err = e.Search(context.Background(), "disco", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(s.Albums) != 1 {
		t.Fatalf("expected 1 album suggestion, got %+v", s.Albums)
	}
	if s.Albums[0].Identifier != "Discovery|Daft Punk" {
		t.Errorf("expected identifier 'Discovery|Daft Punk', got %q", s.Albums[0].Identifier)
	}
}

type failingSource struct{}

var errDiskGone = errors.New("disk I/O error")

func (failingSource) Listens(context.Context, store.Window) ([]*store.Listen, error) {
	return nil, errDiskGone
}
func (failingSource) ListensByAlbum(context.Context, string, store.Window) ([]*store.Listen, error) {
	return nil, errDiskGone
}
func (failingSource) Recent(context.Context, int) ([]*store.Listen, error) {
	return nil, errDiskGone
}
func (failingSource) CountByNormalizedKey(context.Context, []store.Pair) (map[string]int, error) {
	return nil, errDiskGone
}
func (failingSource) SearchArtists(context.Context, string, int) ([]store.ArtistCredit, error) {
	return nil, errDiskGone
}
func (failingSource) SearchAlbums(context.Context, string, int) ([]store.AlbumCredit, error) {
	return nil, errDiskGone
}

func TestStorageFailuresPropagate(t *testing.T) {
	e := New(failingSource{})
	ctx := context.Background()

	errs := []error{}
	_, err := e.TopAlbums(ctx, store.Window{}, 10)
	errs = append(errs, err)
	_, err = e.TopArtists(ctx, store.Window{}, 10)
	errs = append(errs, err)
	_, err = e.TopTracks(ctx, store.Window{}, 10)
	errs = append(errs, err)
	_, err = e.AlbumDetail(ctx, "Alb", "A", store.Window{})
	errs = append(errs, err)
	_, err = e.ArtistDetail(ctx, "A", store.Window{})
	errs = append(errs, err)
	_, err = e.RecentWithCounts(ctx, 10)
	errs = append(errs, err)
	_, err = e.Search(ctx, "a", 10)
	errs = append(errs, err)

	for i, err := range errs {
		if !errors.Is(err, util.ErrStorageUnavailable) {
			t.Errorf("op %d: expected ErrStorageUnavailable, got %v", i, err)
		}
		if !errors.Is(err, errDiskGone) {
			t.Errorf("op %d: expected underlying error preserved, got %v", i, err)
		}
	}
}

func TestParseAlbumIdentifier(t *testing.T) {
	tests := []struct {
		input   string
		title   string
		artist  string
		wantErr bool
	}{
		{"Discovery|Daft Punk", "Discovery", "Daft Punk", false},
		{"Random%20Access%20Memories%7CDaft%20Punk", "Random Access Memories", "Daft Punk", false},
		{" Homework | Daft Punk ", "Homework", "Daft Punk", false},
		{"Rock+Roll|Artist", "Rock+Roll", "Artist", false},
		{"NoSeparator", "", "", true},
		{"a|b|c", "", "", true},
		{"|Daft Punk", "", "", true},
	}

	for _, tt := range tests {
		title, artist, err := ParseAlbumIdentifier(tt.input)
		if tt.wantErr {
			if !errors.Is(err, util.ErrInvalidArgument) {
				t.Errorf("ParseAlbumIdentifier(%q): expected ErrInvalidArgument, got %v", tt.input, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAlbumIdentifier(%q) failed: %v", tt.input, err)
			continue
		}
		if title != tt.title || artist != tt.artist {
			t.Errorf("ParseAlbumIdentifier(%q) = (%q, %q), expected (%q, %q)", tt.input, title, artist, tt.title, tt.artist)
		}
	}
}
