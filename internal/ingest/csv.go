package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/franz/listen-stats/internal/meta"
)

// Header names recognized by ReadCSV, keyed by normalized header text.
// The Deezer listening history export uses the first name of each group.
var csvColumns = map[string]string{
	"song title":     "track",
	"track":          "track",
	"title":          "track",
	"artist":         "artist",
	"album title":    "album",
	"album":          "album",
	"listening time": "duration",
	"duration":       "duration",
	"duration_s":     "duration",
	"date":           "played_at",
	"played_at":      "played_at",
	"playedat":       "played_at",
	"timestamp":      "played_at",
}

// ReadCSV reads a listening history export. The first record is the header;
// unknown columns are ignored. Track, artist and date columns are required.
func ReadCSV(r io.Reader) ([]RawListen, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty csv")
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	index := make(map[string]int)
	for i, name := range header {
		name = strings.TrimPrefix(name, "\ufeff")
		if field, ok := csvColumns[meta.Normalize(name)]; ok {
			if _, seen := index[field]; !seen {
				index[field] = i
			}
		}
	}
	for _, required := range []string{"track", "artist", "played_at"} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("csv header has no %s column", required)
		}
	}

	get := func(record []string, field string) string {
		i, ok := index[field]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	var rows []RawListen
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}

		rows = append(rows, RawListen{
			Row:      line,
			Track:    get(record, "track"),
			Artist:   get(record, "artist"),
			Album:    get(record, "album"),
			Duration: get(record, "duration"),
			PlayedAt: get(record, "played_at"),
		})
	}

	return rows, nil
}
