package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"songbird/pkg/logger"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

var youtubeIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:youtube\.com/watch\?(?:.*&)?v=)([\w-]+)`),
	regexp.MustCompile(`(?:youtu\.be/)([\w-]+)`),
	regexp.MustCompile(`(?:youtube\.com/embed/)([\w-]+)`),
	regexp.MustCompile(`(?:youtube\.com/v/)([\w-]+)`),
}

// ExtractVideoID returns the video id embedded in a YouTube URL.
func ExtractVideoID(rawURL string) (string, bool) {
	for _, re := range youtubeIDPatterns {
		if m := re.FindStringSubmatch(rawURL); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// YouTubeConfig configures the YouTube resolver.
type YouTubeConfig struct {
	TempDir        string
	APIKey         string
	APIEndpoint    string
	RequestTimeout time.Duration
	EnableYtDlp    bool
	AudioQuality   string
}

// metadataFetcher is one way of learning about a video.
type metadataFetcher interface {
	name() string
	fetch(ctx context.Context, videoID, rawURL string) (*Metadata, error)
}

// downloader writes the audio for rawURL next to destBase and returns the
// final path.
type downloader interface {
	name() string
	download(ctx context.Context, rawURL, destBase string, progress ProgressFunc) (string, error)
}

// YouTubeResolver downloads the full audio file before playback.
type YouTubeResolver struct {
	config      YouTubeConfig
	fetchers    []metadataFetcher
	downloaders []downloader
	log         *logger.Logger
}

// NewYouTubeResolver builds the metadata and download chains. The Data API
// is tried first when a key is configured; yt-dlp is the last resort for both.
func NewYouTubeResolver(ctx context.Context, config YouTubeConfig, log *logger.Logger) (*YouTubeResolver, error) {
	if log == nil {
		log = logger.Default()
	}
	if config.TempDir == "" {
		config.TempDir = os.TempDir()
	}
	if config.AudioQuality == "" {
		config.AudioQuality = "256K"
	}

	var fetchers []metadataFetcher
	if config.APIKey != "" {
		api, err := newDataAPIFetcher(ctx, config.APIKey, config.APIEndpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to create YouTube Data API client: %w", err)
		}
		fetchers = append(fetchers, api)
	}
	fetchers = append(fetchers, newKkdaiClient())

	downloaders := []downloader{newKkdaiClient()}
	if config.EnableYtDlp {
		yd := &ytdlpClient{quality: config.AudioQuality}
		fetchers = append(fetchers, yd)
		downloaders = append(downloaders, yd)
	}

	return newYouTubeResolver(config, log, fetchers, downloaders), nil
}

func newYouTubeResolver(config YouTubeConfig, log *logger.Logger, fetchers []metadataFetcher, downloaders []downloader) *YouTubeResolver {
	return &YouTubeResolver{
		config:      config,
		fetchers:    fetchers,
		downloaders: downloaders,
		log:         log.WithComponent("youtube"),
	}
}

func (r *YouTubeResolver) Kind() Kind { return KindYouTube }

func (r *YouTubeResolver) IsSupported(rawURL string) bool {
	_, ok := ExtractVideoID(rawURL)
	return ok
}

func (r *YouTubeResolver) Resolve(ctx context.Context, rawURL string) (*Metadata, error) {
	videoID, ok := ExtractVideoID(rawURL)
	if !ok {
		return nil, fmt.Errorf("not a YouTube URL: %s", rawURL)
	}

	if r.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.RequestTimeout)
		defer cancel()
	}

	var errs []error
	for _, f := range r.fetchers {
		meta, err := f.fetch(ctx, videoID, rawURL)
		if err == nil {
			return normalizeYouTubeMetadata(meta, rawURL), nil
		}
		r.log.Warn("Metadata fetch failed", logger.Fields{"fetcher": f.name(), "video_id": videoID, "error": err.Error()})
		errs = append(errs, fmt.Errorf("%s: %w", f.name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return nil, errors.New("no metadata fetchers configured")
	}
	return nil, errors.Join(errs...)
}

func normalizeYouTubeMetadata(meta *Metadata, rawURL string) *Metadata {
	out := *meta
	out.URL = rawURL
	out.Kind = KindYouTube
	if strings.TrimSpace(out.Title) == "" {
		out.Title = "Unknown Title"
	}
	if strings.TrimSpace(out.Uploader) == "" {
		out.Uploader = "Unknown"
	}
	if out.Duration < 0 {
		out.Duration = 0
	}
	return &out
}

// Materialize downloads the audio into the temp directory. known skips the
// metadata lookup when the song was already resolved. Every call writes its
// own file, which the returned handle removes on cleanup.
func (r *YouTubeResolver) Materialize(ctx context.Context, rawURL string, known *Metadata, progress ProgressFunc) (*Handle, error) {
	videoID, ok := ExtractVideoID(rawURL)
	if !ok {
		return nil, fmt.Errorf("not a YouTube URL: %s", rawURL)
	}

	var meta *Metadata
	if known != nil {
		meta = normalizeYouTubeMetadata(known, rawURL)
	} else {
		progress.Report(StageMetadata, "Fetching video information...", 0)
		var err error
		if meta, err = r.Resolve(ctx, rawURL); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(r.config.TempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	destBase := filepath.Join(r.config.TempDir, tempFileBase(videoID, meta.Title))

	progress.Report(StageDownload, "Downloading audio", 0)
	path, err := r.download(ctx, rawURL, destBase, progress)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("downloaded file is missing: %w", err)
	}
	if info.Size() == 0 {
		_ = os.Remove(path)
		return nil, fmt.Errorf("downloaded file is empty: %s", path)
	}
	meta.FileSize = info.Size()
	meta.Format = strings.TrimPrefix(filepath.Ext(path), ".")

	progress.Report(StageComplete, fmt.Sprintf("Downloaded: %s (%s)", meta.Title, FormatFileSize(meta.FileSize)), 1)
	r.log.Debug("Audio downloaded", logger.Fields{"video_id": videoID, "path": path, "size": meta.FileSize})

	return NewHandle(path, *meta, false, func() error {
		return removeIfExists(path)
	}), nil
}

// tempFileBase names one download. The random suffix keeps guilds playing
// the same video from sharing a file.
func tempFileBase(videoID, title string) string {
	return videoID + "_" + SanitizeFilename(title) + "_" + uuid.NewString()
}

func (r *YouTubeResolver) download(ctx context.Context, rawURL, destBase string, progress ProgressFunc) (string, error) {
	var errs []error
	for _, d := range r.downloaders {
		path, err := d.download(ctx, rawURL, destBase, progress)
		if err == nil {
			return path, nil
		}
		r.log.Warn("Download attempt failed", logger.Fields{"downloader": d.name(), "url": rawURL, "error": err.Error()})
		errs = append(errs, fmt.Errorf("%s: %w", d.name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return "", errors.New("no downloaders configured")
	}
	return "", errors.Join(errs...)
}

// CleanupTempFiles removes regular files in the temp directory older than
// maxAge and returns how many were removed.
func (r *YouTubeResolver) CleanupTempFiles(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(r.config.TempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	stale := lo.Filter(entries, func(e os.DirEntry, _ int) bool {
		if !e.Type().IsRegular() {
			return false
		}
		info, err := e.Info()
		return err == nil && info.ModTime().Before(cutoff)
	})

	removed := 0
	for _, e := range stale {
		if err := os.Remove(filepath.Join(r.config.TempDir, e.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		r.log.Info("Removed stale temp files", logger.Fields{"count": removed, "dir": r.config.TempDir})
	}
	return removed, nil
}

const maxFilenameLength = 100

// SanitizeFilename replaces characters that are invalid in file names and
// truncates the result.
func SanitizeFilename(name string) string {
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`<>:"/\|?*`, r) {
			return '_'
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > maxFilenameLength {
		name = string([]rune(name)[:maxFilenameLength])
	}
	if name == "" {
		return "audio"
	}
	return name
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
