package stats

import "time"

// AlbumStat is one row of the top albums ranking
type AlbumStat struct {
	Title                string `json:"title"`
	Artist               string `json:"artist"`
	StreamCount          int    `json:"streamCount"`
	ListeningTimeSeconds int    `json:"listeningTimeSeconds"`
}

// ArtistStat is one row of the top artists ranking
type ArtistStat struct {
	Name                 string `json:"name"`
	StreamCount          int    `json:"streamCount"`
	ListeningTimeSeconds int    `json:"listeningTimeSeconds"`
}

// TrackStat is one row of the top tracks ranking
type TrackStat struct {
	Title                string    `json:"title"`
	Artist               string    `json:"artist"`
	Album                string    `json:"album"`
	StreamCount          int       `json:"streamCount"`
	ListeningTimeSeconds int       `json:"listeningTimeSeconds"`
	LastListening        time.Time `json:"lastListening"`
}

// TrackBreakdown is the per-track part of a detail view
type TrackBreakdown struct {
	Title                string    `json:"title"`
	StreamCount          int       `json:"streamCount"`
	ListeningTimeSeconds int       `json:"listeningTimeSeconds"`
	LastListening        time.Time `json:"lastListening"`
}

// AlbumDetail aggregates every listen of one album
type AlbumDetail struct {
	AlbumStat
	TotalDurationSeconds int              `json:"totalDurationSeconds"`
	FirstListening       time.Time        `json:"firstListening"`
	LastListening        time.Time        `json:"lastListening"`
	TrackCounts          map[string]int   `json:"trackCounts"`
	Tracks               []TrackBreakdown `json:"tracks"`
}

// ArtistDetail aggregates every listen crediting one artist, as primary or featured
type ArtistDetail struct {
	ArtistStat
	TotalDurationSeconds int              `json:"totalDurationSeconds"`
	FirstListening       time.Time        `json:"firstListening"`
	LastListening        time.Time        `json:"lastListening"`
	TrackCounts          map[string]int   `json:"trackCounts"`
	Tracks               []TrackBreakdown `json:"tracks"`
}

// RecentListen is a recent play with its all-time play count
type RecentListen struct {
	ID              string    `json:"id"`
	Track           string    `json:"track"`
	Artist          string    `json:"artist"`
	Album           string    `json:"album"`
	DurationSeconds int       `json:"durationSeconds"`
	PlayedAt        time.Time `json:"playedAt"`
	PlayCount       int       `json:"playCount"`
}

// Suggestions are search results for artists and albums
type Suggestions struct {
	Artists []ArtistSuggestion `json:"artists"`
	Albums  []AlbumSuggestion  `json:"albums"`
}

// ArtistSuggestion is an artist matching a search
type ArtistSuggestion struct {
	Name  string `json:"name"`
	Plays int    `json:"plays"`
}

// AlbumSuggestion is an album matching a search; Identifier feeds AlbumDetail lookups
type AlbumSuggestion struct {
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Identifier string `json:"identifier"`
	Plays      int    `json:"plays"`
}
