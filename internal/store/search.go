package store

import (
	"context"
	"strings"

	"github.com/franz/listen-stats/internal/meta"
)

// AlbumCredit is an album title with the artist field it was played under
type AlbumCredit struct {
	Album  string
	Artist string
	Plays  int
}

// ArtistCredit is an artist field with its play count
type ArtistCredit struct {
	Artist string
	Plays  int
}

// escapeLike escapes LIKE wildcards in a user query
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// SearchArtists returns artist fields whose normalized form contains query,
// most played first
func (s *Store) SearchArtists(ctx context.Context, query string, limit int) ([]ArtistCredit, error) {
	q := meta.Normalize(query)
	if q == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT MIN(artist), COUNT(*) AS plays
		FROM listens
		WHERE artist_key LIKE ? ESCAPE '\'
		GROUP BY artist_key
		ORDER BY plays DESC, artist_key ASC
		LIMIT ?
	`, "%"+escapeLike(q)+"%", ClampRecentLimit(limit))
	if err != nil {
		return nil, storageError("search artists", err)
	}
	defer rows.Close()

	var results []ArtistCredit
	for rows.Next() {
		var c ArtistCredit
		if err := rows.Scan(&c.Artist, &c.Plays); err != nil {
			return nil, storageError("search artists", err)
		}
		results = append(results, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("search artists", err)
	}
	return results, nil
}

// SearchAlbums returns albums whose normalized title contains query,
// most played first
func (s *Store) SearchAlbums(ctx context.Context, query string, limit int) ([]AlbumCredit, error) {
	q := meta.Normalize(query)
	if q == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT MIN(album), MIN(artist), COUNT(*) AS plays
		FROM listens
		WHERE album_key != '' AND album_key LIKE ? ESCAPE '\'
		GROUP BY album_key, artist_key
		ORDER BY plays DESC, album_key ASC, artist_key ASC
		LIMIT ?
	`, "%"+escapeLike(q)+"%", ClampRecentLimit(limit))
	if err != nil {
		return nil, storageError("search albums", err)
	}
	defer rows.Close()

	var results []AlbumCredit
	for rows.Next() {
		var c AlbumCredit
		if err := rows.Scan(&c.Album, &c.Artist, &c.Plays); err != nil {
			return nil, storageError("search albums", err)
		}
		results = append(results, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("search albums", err)
	}
	return results, nil
}
