// Package lyrics finds time-synchronised lyrics for songs and tracks which
// line is being sung at a given playback position.
package lyrics

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"songbird/pkg/logger"

	"github.com/pkg/errors"
)

const (
	DefaultSearchURL = "http://music.163.com/api/search/get"
	DefaultLyricsURL = "https://api.paugram.com/netease/"

	userAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	referer     = "http://music.163.com"
	searchLimit = 5
	maxBodySize = 4 << 20
)

var (
	ErrNoResults  = errors.New("no search results")
	ErrNotServed  = errors.New("lyrics not served")
	ErrEmptyBody  = errors.New("empty response body")
	ErrEmptyQuery = errors.New("empty search query")
)

// Artist is an artist entry in a search result.
type Artist struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// SearchSong is one song returned by the search endpoint.
type SearchSong struct {
	ID         int64    `json:"id"`
	Name       string   `json:"name"`
	Artists    []Artist `json:"artists"`
	Popularity float64  `json:"popularity"`
}

type searchResponse struct {
	Result *struct {
		Songs []SearchSong `json:"songs"`
	} `json:"result"`
}

// Data is the payload of the lyrics endpoint.
type Data struct {
	ID       json.RawMessage `json:"id"`
	Title    string          `json:"title"`
	Artist   string          `json:"artist"`
	Album    string          `json:"album"`
	Cover    string          `json:"cover"`
	Lyric    string          `json:"lyric"`
	SubLyric string          `json:"sub_lyric"`
	Link     string          `json:"link"`
	Cached   bool            `json:"cached"`
	Served   bool            `json:"served"`
}

// Client talks to the song search and lyrics endpoints.
type Client struct {
	searchURL string
	lyricsURL string
	http      *http.Client
	log       *logger.Logger
}

func NewClient(searchURL, lyricsURL string, timeout time.Duration, log *logger.Logger) *Client {
	if searchURL == "" {
		searchURL = DefaultSearchURL
	}
	if lyricsURL == "" {
		lyricsURL = DefaultLyricsURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = logger.Default()
	}
	return &Client{
		searchURL: searchURL,
		lyricsURL: lyricsURL,
		http:      &http.Client{Timeout: timeout},
		log:       log.WithComponent("lyrics-client"),
	}
}

// SearchSongID looks up title (and artist, when known) and returns the id of
// the best matching song.
func (c *Client) SearchSongID(ctx context.Context, title, artist string) (int64, error) {
	query := CleanTitle(title)
	if artist != "" {
		query = ConstructQuery(query, artist)
	}
	if query == "" {
		return 0, ErrEmptyQuery
	}

	params := url.Values{}
	params.Set("s", query)
	params.Set("type", "1")
	params.Set("limit", strconv.Itoa(searchLimit))

	var resp searchResponse
	if err := c.getJSON(ctx, c.searchURL+"?"+params.Encode(), true, &resp); err != nil {
		return 0, errors.Wrapf(err, "search %q", query)
	}
	if resp.Result == nil || len(resp.Result.Songs) == 0 {
		return 0, errors.Wrapf(ErrNoResults, "search %q", query)
	}

	best, ok := FindBestMatch(resp.Result.Songs, title, artist)
	if !ok {
		return 0, errors.Wrapf(ErrNoResults, "search %q", query)
	}
	c.log.Debug("Found song id", logger.Fields{"query": query, "song_id": best.ID, "name": best.Name})
	return best.ID, nil
}

// FetchLyrics returns the lyrics payload for a song id.
func (c *Client) FetchLyrics(ctx context.Context, songID int64) (*Data, error) {
	u := c.lyricsURL + "?id=" + strconv.FormatInt(songID, 10)

	var data Data
	if err := c.getJSON(ctx, u, false, &data); err != nil {
		return nil, errors.Wrapf(err, "lyrics for song %d", songID)
	}
	if !data.Served {
		return nil, errors.Wrapf(ErrNotServed, "lyrics for song %d", songID)
	}
	return &data, nil
}

// SearchAndFetch combines SearchSongID and FetchLyrics.
func (c *Client) SearchAndFetch(ctx context.Context, title, artist string) (*Data, error) {
	id, err := c.SearchSongID(ctx, title, artist)
	if err != nil {
		return nil, err
	}
	return c.FetchLyrics(ctx, id)
}

// getJSON decodes a JSON body regardless of its declared content type. Error
// pages, empty bodies and mis-typed fields all come back as errors.
func (c *Client) getJSON(ctx context.Context, u string, searchHeaders bool, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if searchHeaders {
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Referer", referer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if strings.TrimSpace(string(body)) == "" {
		return ErrEmptyBody
	}
	if err := json.Unmarshal(body, v); err != nil {
		preview := string(body)
		if len(preview) > 300 {
			preview = preview[:300]
		}
		c.log.Debug("Response is not valid JSON", logger.Fields{
			"content_type": resp.Header.Get("Content-Type"),
			"preview":      preview,
		})
		return errors.Wrap(err, "decode response")
	}
	return nil
}
