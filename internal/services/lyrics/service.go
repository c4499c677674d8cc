package lyrics

import (
	"context"
	"time"

	"songbird/internal/boterr"
	"songbird/pkg/logger"
	"songbird/pkg/metrics"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Source fetches raw lyrics for a title and artist.
type Source interface {
	SearchAndFetch(ctx context.Context, title, artist string) (*Data, error)
}

// Service resolves songs to lyric tracks and remembers the answer, including
// the absence of one, for the life of the process.
type Service struct {
	source  Source
	cache   *lru.Cache[string, *Track]
	log     *logger.Logger
	metrics *metrics.Metrics
}

func NewService(source Source, cacheSize int, log *logger.Logger, m *metrics.Metrics) (*Service, error) {
	if cacheSize <= 0 {
		cacheSize = 512
	}
	cache, err := lru.New[string, *Track](cacheSize)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Default()
	}
	if m == nil {
		m = metrics.Global()
	}
	return &Service{source: source, cache: cache, log: log.WithComponent("lyrics"), metrics: m}, nil
}

func cacheKey(title, uploader string) string {
	return title + "|" + uploader
}

// Lookup returns the lyrics for a song, or nil when none could be found.
// Instrumental tracks are returned with Instrumental set. Lookup never fails:
// every problem downgrades to nil.
func (s *Service) Lookup(ctx context.Context, title, uploader string) *Track {
	key := cacheKey(title, uploader)
	if track, ok := s.cache.Get(key); ok {
		s.metrics.RecordLyricsEvent("cache_hit")
		return track
	}

	start := time.Now()
	track, err := s.fetch(ctx, title, uploader)
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled lookups say nothing about the song.
			return nil
		}
		s.log.Debug("No lyrics", logger.Fields{"title": title, "uploader": uploader, "error": err.Error()})
		s.metrics.RecordLyricsEvent("not_found")
		s.cache.Add(key, nil)
		return nil
	}

	s.cache.Add(key, track)
	s.metrics.RecordLyricsEvent("found")
	s.log.Info("Loaded lyrics", logger.Fields{
		"title":        title,
		"lines":        len(track.Lines),
		"instrumental": track.Instrumental,
		"duration_ms":  time.Since(start).Milliseconds(),
	})
	return track
}

func (s *Service) fetch(ctx context.Context, title, uploader string) (*Track, error) {
	data, err := s.source.SearchAndFetch(ctx, title, uploader)
	if err != nil {
		return nil, boterr.NewLyricsUnavailableError("lyrics lookup failed", err)
	}

	lines := Parse(data.Lyric, data.SubLyric)
	if len(lines) == 0 {
		return nil, boterr.NewLyricsUnavailableError("lyrics payload has no timed lines", boterr.ErrLyricsUnavailable)
	}
	return NewTrack(lines), nil
}

// Cached reports whether a lookup result, positive or negative, is cached.
func (s *Service) Cached(title, uploader string) bool {
	return s.cache.Contains(cacheKey(title, uploader))
}

// Purge drops every cached result.
func (s *Service) Purge() {
	s.cache.Purge()
}
