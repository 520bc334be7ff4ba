package lastfm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/franz/listen-stats/internal/util"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Options{
		APIKey:    "key",
		User:      "franz",
		BaseURL:   srv.URL + "/2.0/",
		RateLimit: time.Millisecond,
		Retry:     &util.RetryConfig{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func trackJSON(name, artist, album string, uts int64) string {
	return fmt.Sprintf(`{"name":%q,"artist":{"name":%q},"album":{"#text":%q},"date":{"uts":"%d","#text":"x"}}`,
		name, artist, album, uts)
}

func pageJSON(totalPages int, tracks ...string) string {
	return fmt.Sprintf(`{"recenttracks":{"track":[%s],"@attr":{"user":"franz","page":"1","totalPages":"%d"}}}`,
		strings.Join(tracks, ","), totalPages)
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	tests := []Options{
		{User: "franz"},
		{APIKey: "key"},
		{},
	}
	for _, opts := range tests {
		if _, err := NewClient(opts); !errors.Is(err, util.ErrInvalidConfig) {
			t.Errorf("NewClient(%+v): expected ErrInvalidConfig, got %v", opts, err)
		}
	}
}

func TestRecentTracks_Paginates(t *testing.T) {
	pages := map[string]string{
		"1": pageJSON(2,
			`{"name":"Now","artist":{"name":"A"},"album":{"#text":""},"@attr":{"nowplaying":"true"}}`,
			trackJSON("Teardrop", "Massive Attack", "Mezzanine", 1700000300),
			trackJSON("Angel", "Massive Attack", "", 1700000200),
		),
		"2": pageJSON(2,
			trackJSON("", "", "Homework", 1700000100),
		),
	}

	var requests atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		q := r.URL.Query()
		if q.Get("method") != "user.getrecenttracks" || q.Get("user") != "franz" || q.Get("api_key") != "key" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		if q.Get("limit") != "200" || q.Get("extended") != "1" || q.Get("format") != "json" {
			t.Errorf("unexpected paging params: %s", r.URL.RawQuery)
		}
		if q.Has("from") {
			t.Errorf("no from parameter expected without since, got %s", q.Get("from"))
		}
		if r.Header.Get("User-Agent") != UserAgent {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		fmt.Fprint(w, pages[q.Get("page")])
	})

	rows, err := client.RecentTracks(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("RecentTracks failed: %v", err)
	}

	if requests.Load() != 2 {
		t.Errorf("expected 2 requests, got %d", requests.Load())
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows (now playing skipped), got %d: %+v", len(rows), rows)
	}

	if rows[0].Track != "Teardrop" || rows[0].Artist != "Massive Attack" || rows[0].Album != "Mezzanine" || rows[0].PlayedAt != "1700000300" {
		t.Errorf("unexpected first row: %+v", rows[0])
	}
	if rows[1].Album != UnknownAlbum {
		t.Errorf("expected placeholder album, got %q", rows[1].Album)
	}
	if rows[2].Track != UnknownTrack || rows[2].Artist != UnknownArtist {
		t.Errorf("expected placeholders, got %+v", rows[2])
	}
}

func TestRecentTracks_StopsAtSince(t *testing.T) {
	var requests atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if got := r.URL.Query().Get("from"); got != "1700000150" {
			t.Errorf("expected from=1700000150, got %q", got)
		}
		fmt.Fprint(w, pageJSON(5,
			trackJSON("New", "A", "X", 1700000200),
			trackJSON("Boundary", "A", "X", 1700000150),
			trackJSON("Old", "A", "X", 1700000100),
		))
	})

	rows, err := client.RecentTracks(context.Background(), time.Unix(1700000150, 0))
	if err != nil {
		t.Fatalf("RecentTracks failed: %v", err)
	}

	if len(rows) != 1 || rows[0].Track != "New" {
		t.Errorf("expected only the play newer than since, got %+v", rows)
	}
	if requests.Load() != 1 {
		t.Errorf("expected to stop after the first page, got %d requests", requests.Load())
	}
}

func TestRecentTracks_SingleTrackObject(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"recenttracks":{"track":%s,"@attr":{"totalPages":"1"}}}`,
			trackJSON("Only", "Solo", "One", 1700000000))
	})

	rows, err := client.RecentTracks(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("RecentTracks failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Track != "Only" {
		t.Errorf("expected the single track, got %+v", rows)
	}
}

func TestRecentTracks_RetriesTransientFailures(t *testing.T) {
	var requests atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, "maintenance")
			return
		}
		fmt.Fprint(w, pageJSON(1, trackJSON("Ok", "A", "B", 1700000000)))
	})

	rows, err := client.RecentTracks(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("RecentTracks failed: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("expected 1 row, got %d", len(rows))
	}
	if requests.Load() != 2 {
		t.Errorf("expected one retry, got %d requests", requests.Load())
	}
}

func TestRecentTracks_APIErrorIsNotRetried(t *testing.T) {
	var requests atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":10,"message":"Invalid API key - You must be granted a valid key by last.fm"}`)
	})

	_, err := client.RecentTracks(context.Background(), time.Time{})

	var statusErr *util.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusForbidden || !strings.Contains(statusErr.Body, "Invalid API key") {
		t.Errorf("unexpected status error: %+v", statusErr)
	}
	if requests.Load() != 1 {
		t.Errorf("expected no retry for an invalid key, got %d requests", requests.Load())
	}
}

func TestRecentTracks_RateLimitCodeIsRetried(t *testing.T) {
	var requests atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, `{"error":29,"message":"Rate limit exceeded"}`)
	})

	_, err := client.RecentTracks(context.Background(), time.Time{})
	if err == nil || !strings.Contains(err.Error(), "max retries exceeded") {
		t.Errorf("expected retries to be exhausted, got %v", err)
	}
	if requests.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", requests.Load())
	}
}

func TestRecentTracks_CanceledContext(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, pageJSON(1))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.RecentTracks(ctx, time.Time{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestName(t *testing.T) {
	client, err := NewClient(Options{APIKey: "k", User: "franz"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	if client.Name() != "lastfm:franz" {
		t.Errorf("expected lastfm:franz, got %s", client.Name())
	}
}
