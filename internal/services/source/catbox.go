package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"songbird/pkg/logger"

	"github.com/samber/lo"
)

// CatboxFormats are the file extensions accepted from Catbox.
var CatboxFormats = []string{"mp3", "wav", "ogg", "m4a", "flac", "aac", "opus", "wma"}

// CatboxConfig configures the Catbox resolver.
type CatboxConfig struct {
	Host          string
	Timeout       time.Duration
	ProbeMetadata bool
	ProbeBytes    int64
}

// CatboxResolver streams audio files hosted on Catbox directly from their
// URL. Nothing is written to disk.
type CatboxResolver struct {
	config CatboxConfig
	client *http.Client
	log    *logger.Logger
}

func NewCatboxResolver(config CatboxConfig, client *http.Client, log *logger.Logger) *CatboxResolver {
	if config.Host == "" {
		config.Host = "files.catbox.moe"
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.ProbeBytes <= 0 {
		config.ProbeBytes = 256 << 10
	}
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	if log == nil {
		log = logger.Default()
	}
	return &CatboxResolver{config: config, client: client, log: log.WithComponent("catbox")}
}

func (r *CatboxResolver) Kind() Kind { return KindCatbox }

func (r *CatboxResolver) IsSupported(rawURL string) bool {
	_, _, ok := r.parse(rawURL)
	return ok
}

// parse returns the file name without extension and the lowercased extension.
func (r *CatboxResolver) parse(rawURL string) (name, format string, ok bool) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", "", false
	}
	if !strings.EqualFold(u.Host, r.config.Host) {
		return "", "", false
	}

	file := path.Base(u.Path)
	dot := strings.LastIndex(file, ".")
	if dot <= 0 || dot == len(file)-1 {
		return "", "", false
	}
	format = strings.ToLower(file[dot+1:])
	if !lo.Contains(CatboxFormats, format) {
		return "", "", false
	}
	return file[:dot], format, true
}

func (r *CatboxResolver) Resolve(ctx context.Context, rawURL string) (*Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	meta, err := r.head(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if r.config.ProbeMetadata {
		r.probe(ctx, rawURL, meta)
	}
	return meta, nil
}

// head checks the file exists and builds metadata from the URL and the
// reported size.
func (r *CatboxResolver) head(ctx context.Context, rawURL string) (*Metadata, error) {
	name, format, ok := r.parse(rawURL)
	if !ok {
		return nil, fmt.Errorf("not a supported Catbox audio URL: %s", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error accessing Catbox file: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Catbox file not accessible (HTTP %d)", resp.StatusCode)
	}

	meta := &Metadata{
		Title:    "Catbox - " + name,
		URL:      rawURL,
		Uploader: "Catbox",
		Kind:     KindCatbox,
		Format:   format,
	}
	if resp.ContentLength > 0 {
		meta.FileSize = resp.ContentLength
	}
	return meta, nil
}

// probe fills duration, title and artist from the start of the file. Any
// failure leaves meta as it was.
func (r *CatboxResolver) probe(ctx context.Context, rawURL string, meta *Metadata) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", r.config.ProbeBytes-1))

	resp, err := r.client.Do(req)
	if err != nil {
		r.log.Debug("Metadata probe failed", logger.Fields{"url": rawURL, "error": err.Error()})
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return
	}

	head, err := readPrefix(resp.Body, r.config.ProbeBytes)
	if err != nil || len(head) == 0 {
		return
	}

	res := probeAudio(head, meta.Format, meta.FileSize)
	if res.Duration > 0 {
		meta.Duration = int(res.Duration.Round(time.Second) / time.Second)
	}
	if res.Title != "" {
		meta.Title = res.Title
		if res.Artist != "" {
			meta.Uploader = res.Artist
		}
	}
	r.log.Debug("Probed Catbox metadata", logger.Fields{
		"url":      rawURL,
		"duration": meta.Duration,
		"title":    meta.Title,
	})
}

// Materialize validates the file and returns a streaming handle that points
// at the URL itself. With known metadata only the existence check runs again.
func (r *CatboxResolver) Materialize(ctx context.Context, rawURL string, known *Metadata, progress ProgressFunc) (*Handle, error) {
	progress.Report(StageValidate, "Validating Catbox URL...", 0.25)
	if !r.IsSupported(rawURL) {
		return nil, fmt.Errorf("not a supported Catbox audio URL: %s", rawURL)
	}

	progress.Report(StageValidate, "Checking file accessibility...", 0.75)
	var meta *Metadata
	if known == nil {
		var err error
		if meta, err = r.Resolve(ctx, rawURL); err != nil {
			return nil, err
		}
	} else {
		ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
		checked, err := r.head(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		meta = new(Metadata)
		*meta = *known
		if checked.FileSize > 0 {
			meta.FileSize = checked.FileSize
		}
	}

	progress.Report(StageComplete,
		fmt.Sprintf("Catbox audio file validated: %s (%s)", meta.Title, FormatFileSize(meta.FileSize)), 1)
	return NewHandle(rawURL, *meta, true, nil), nil
}

// FormatFileSize renders a byte count using binary units.
func FormatFileSize(size int64) string {
	switch {
	case size <= 0:
		return "Unknown size"
	case size < 1<<10:
		return fmt.Sprintf("%d B", size)
	case size < 1<<20:
		return fmt.Sprintf("%.1f KB", float64(size)/(1<<10))
	case size < 1<<30:
		return fmt.Sprintf("%.1f MB", float64(size)/(1<<20))
	default:
		return fmt.Sprintf("%.1f GB", float64(size)/(1<<30))
	}
}
