package lastfm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/franz/listen-stats/internal/ingest"
	"github.com/franz/listen-stats/internal/util"
)

const (
	// BaseURL is the Last.fm API endpoint
	BaseURL = "https://ws.audioscrobbler.com/2.0/"

	// UserAgent identifies this application to Last.fm
	UserAgent = "lstats/1.0 (https://github.com/franz/listen-stats)"

	// RateLimit is the minimum interval between requests
	RateLimit = 250 * time.Millisecond

	// PageSize is the largest page user.getrecenttracks serves
	PageSize = 200

	// Placeholders for fields Last.fm leaves empty
	UnknownTrack  = "Unknown Track"
	UnknownArtist = "Unknown Artist"
	UnknownAlbum  = "Unknown Album"
)

// Options configures a Client
type Options struct {
	APIKey     string
	User       string
	BaseURL    string            // Defaults to BaseURL
	RateLimit  time.Duration     // Defaults to RateLimit
	Retry      *util.RetryConfig // Defaults to util.DefaultRetryConfig()
	HTTPClient *http.Client
}

// Client reads a user's scrobble history with rate limiting
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	user        string
	userAgent   string
	retry       *util.RetryConfig
	rateLimiter *time.Ticker
}

// NewClient creates a new Last.fm API client
func NewClient(opts Options) (*Client, error) {
	if opts.APIKey == "" || opts.User == "" {
		return nil, fmt.Errorf("%w: last.fm api key and user are required", util.ErrInvalidConfig)
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = BaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("%w: last.fm base url: %v", util.ErrInvalidConfig, err)
	}

	rate := opts.RateLimit
	if rate <= 0 {
		rate = RateLimit
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	retry := opts.Retry
	if retry == nil {
		retry = util.DefaultRetryConfig()
	}

	return &Client{
		httpClient:  httpClient,
		baseURL:     baseURL,
		apiKey:      opts.APIKey,
		user:        opts.User,
		userAgent:   UserAgent,
		retry:       retry,
		rateLimiter: time.NewTicker(rate),
	}, nil
}

// Close releases resources used by the client
func (c *Client) Close() {
	if c.rateLimiter != nil {
		c.rateLimiter.Stop()
	}
}

// Name identifies the history source in logs and import runs
func (c *Client) Name() string {
	return "lastfm:" + c.user
}

// RecentTracks returns the plays strictly newer than since, newest first.
// Pages are read until a play at or before since shows up or the last page
// is reached. The track being played right now is skipped.
func (c *Client) RecentTracks(ctx context.Context, since time.Time) ([]ingest.RawListen, error) {
	var rows []ingest.RawListen

	for page := 1; ; page++ {
		resp, err := util.RetryWithBackoff(ctx, c.retry, func() (*recentTracksResponse, error) {
			return c.fetchPage(ctx, page, since)
		}, fmt.Sprintf("last.fm recent tracks page %d", page))
		if err != nil {
			return nil, err
		}

		tracks := resp.RecentTracks.Tracks
		if len(tracks) == 0 {
			break
		}

		reachedSince := false
		for _, t := range tracks {
			if t.Attr.NowPlaying == "true" || t.Date.UTS == "" {
				continue
			}

			uts, err := cast.ToInt64E(t.Date.UTS)
			if err != nil {
				util.WarnLog("Last.fm: skipping %q with unreadable date %q", t.Name, t.Date.UTS)
				continue
			}
			playedAt := time.Unix(uts, 0).UTC()
			if !playedAt.After(since) {
				reachedSince = true
				break
			}

			rows = append(rows, ingest.RawListen{
				Track:    orDefault(t.Name, UnknownTrack),
				Artist:   orDefault(t.Artist.name(), UnknownArtist),
				Album:    orDefault(t.Album.Text, UnknownAlbum),
				Duration: t.Duration.String(),
				PlayedAt: strconv.FormatInt(uts, 10),
			})
		}

		totalPages, _ := cast.ToIntE(resp.RecentTracks.Attr.TotalPages)
		util.DebugLog("Last.fm: page %d/%d, %d plays so far", page, totalPages, len(rows))

		if reachedSince || page >= totalPages {
			break
		}
	}

	return rows, nil
}

func (c *Client) fetchPage(ctx context.Context, page int, since time.Time) (*recentTracksResponse, error) {
	if err := c.waitForRateLimit(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("method", "user.getrecenttracks")
	params.Set("user", c.user)
	params.Set("api_key", c.apiKey)
	params.Set("format", "json")
	params.Set("extended", "1")
	params.Set("limit", strconv.Itoa(PageSize))
	params.Set("page", strconv.Itoa(page))
	if !since.IsZero() {
		params.Set("from", strconv.FormatInt(since.Unix(), 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var apiErr errorResponse
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != 0 {
		status := resp.StatusCode
		if status == http.StatusOK {
			status = http.StatusBadRequest
		}
		// Code 29 is Last.fm's rate limit, code 11/16 are temporary failures
		if apiErr.Code == 29 {
			status = http.StatusTooManyRequests
		} else if apiErr.Code == 11 || apiErr.Code == 16 {
			status = http.StatusServiceUnavailable
		}
		return nil, &util.StatusError{StatusCode: status, Body: fmt.Sprintf("last.fm error %d: %s", apiErr.Code, apiErr.Message)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &util.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var result recentTracksResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

// waitForRateLimit blocks until the next request slot or ctx ends
func (c *Client) waitForRateLimit(ctx context.Context) error {
	select {
	case <-c.rateLimiter.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

type errorResponse struct {
	Code    int    `json:"error"`
	Message string `json:"message"`
}

type recentTracksResponse struct {
	RecentTracks struct {
		Tracks trackList `json:"track"`
		Attr   struct {
			TotalPages string `json:"totalPages"`
		} `json:"@attr"`
	} `json:"recenttracks"`
}

type track struct {
	Name     string     `json:"name"`
	Artist   artistRef  `json:"artist"`
	Album    textRef    `json:"album"`
	Date     dateRef    `json:"date"`
	Attr     trackAttr  `json:"@attr"`
	Duration flexString `json:"duration"`
}

type trackAttr struct {
	NowPlaying string `json:"nowplaying"`
}

type textRef struct {
	Text string `json:"#text"`
}

type dateRef struct {
	UTS string `json:"uts"`
}

// artistRef carries "name" with extended=1 and "#text" without
type artistRef struct {
	Name string `json:"name"`
	Text string `json:"#text"`
}

func (a artistRef) name() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Text
}

// trackList accepts both an array and the single object Last.fm sends for one track
type trackList []track

func (l *trackList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var t track
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		*l = trackList{t}
		return nil
	}

	var tracks []track
	if err := json.Unmarshal(data, &tracks); err != nil {
		return err
	}
	*l = tracks
	return nil
}

// flexString accepts a JSON string or number
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v == nil {
		*f = ""
		return nil
	}
	*f = flexString(cast.ToString(v))
	return nil
}

func (f flexString) String() string {
	return string(f)
}
