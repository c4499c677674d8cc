// Package source resolves song URLs into metadata and playable audio handles.
package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"songbird/internal/boterr"
	"songbird/pkg/logger"
	"songbird/pkg/metrics"

	"github.com/samber/lo"
)

// Kind names a resolver variant.
type Kind string

const (
	KindYouTube Kind = "youtube"
	KindCatbox  Kind = "catbox"
)

// Progress stages reported through ProgressFunc.
const (
	StageMetadata = "metadata"
	StageValidate = "validate"
	StageDownload = "download"
	StageComplete = "complete"
)

// Metadata is what a resolver learns about a song without downloading it.
type Metadata struct {
	Title        string `json:"title"`
	Duration     int    `json:"duration"` // seconds, 0 when unknown
	URL          string `json:"url"`
	Uploader     string `json:"uploader"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Kind         Kind   `json:"kind"`
	FileSize     int64  `json:"file_size,omitempty"`
	Format       string `json:"format,omitempty"`
}

// FormattedDuration returns the duration as a clock string, or "Unknown".
func (m Metadata) FormattedDuration() string {
	if m.Duration <= 0 {
		return "Unknown"
	}
	return FormatSeconds(m.Duration)
}

// FormatSeconds renders s as MM:SS, or HH:MM:SS from one hour up.
func FormatSeconds(s int) string {
	if s < 0 {
		s = 0
	}
	h, m, sec := s/3600, (s%3600)/60, s%60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%02d:%02d", m, sec)
}

// ProgressFunc receives (stage, human message, fraction in [0,1]) during
// network-bound work. It must not block.
type ProgressFunc func(stage, message string, fraction float64)

// Report calls p if it is set.
func (p ProgressFunc) Report(stage, message string, fraction float64) {
	if p != nil {
		p(stage, message, fraction)
	}
}

// Handle is a playable audio source: a local file path or a stream URL.
type Handle struct {
	Source    string
	Metadata  Metadata
	Streaming bool

	cleanupOnce sync.Once
	cleanup     func() error
	cleanupErr  error
}

// NewHandle builds a handle; cleanup may be nil.
func NewHandle(src string, meta Metadata, streaming bool, cleanup func() error) *Handle {
	return &Handle{Source: src, Metadata: meta, Streaming: streaming, cleanup: cleanup}
}

// Cleanup releases the handle's resources. Later calls return the first result.
func (h *Handle) Cleanup() error {
	if h == nil {
		return nil
	}
	h.cleanupOnce.Do(func() {
		if h.cleanup != nil {
			h.cleanupErr = h.cleanup()
		}
	})
	return h.cleanupErr
}

// Resolver is one source variant.
type Resolver interface {
	Kind() Kind
	IsSupported(rawURL string) bool
	// Resolve fetches metadata without downloading the audio.
	Resolve(ctx context.Context, rawURL string) (*Metadata, error)
	// Materialize produces a playable handle, downloading if needed. known is
	// the metadata from an earlier Resolve, or nil.
	Materialize(ctx context.Context, rawURL string, known *Metadata, progress ProgressFunc) (*Handle, error)
}

// Registry dispatches URLs to resolvers in priority order.
type Registry struct {
	resolvers []Resolver
	log       *logger.Logger
	metrics   *metrics.Metrics
}

func NewRegistry(log *logger.Logger, m *metrics.Metrics, resolvers ...Resolver) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.Global()
	}
	return &Registry{resolvers: resolvers, log: log.WithComponent("sources"), metrics: m}
}

// Find returns the first resolver that supports rawURL.
func (r *Registry) Find(rawURL string) (Resolver, bool) {
	return lo.Find(r.resolvers, func(res Resolver) bool {
		return res.IsSupported(rawURL)
	})
}

func (r *Registry) IsSupported(rawURL string) bool {
	_, ok := r.Find(rawURL)
	return ok
}

// Kinds lists the registered resolver kinds in priority order.
func (r *Registry) Kinds() []Kind {
	return lo.Map(r.resolvers, func(res Resolver, _ int) Kind { return res.Kind() })
}

// Resolve returns metadata or a ResolutionError.
func (r *Registry) Resolve(ctx context.Context, rawURL string) (*Metadata, error) {
	res, ok := r.Find(rawURL)
	if !ok {
		return nil, boterr.New(boterr.TypeResolution, "no resolver for url",
			"Unsupported link. Send a YouTube or Catbox audio URL.", boterr.ErrUnsupportedURL).
			WithContext("url", rawURL)
	}

	start := time.Now()
	meta, err := res.Resolve(ctx, rawURL)
	r.record(res.Kind(), "resolve", rawURL, time.Since(start), err)
	if err != nil {
		return nil, boterr.NewResolutionError("resolve failed", err).
			WithContext("url", rawURL).
			WithContext("kind", string(res.Kind()))
	}
	return meta, nil
}

// Materialize returns a playable handle or a ResolutionError. known may be
// nil, in which case the resolver looks the metadata up again.
func (r *Registry) Materialize(ctx context.Context, rawURL string, known *Metadata, progress ProgressFunc) (*Handle, error) {
	res, ok := r.Find(rawURL)
	if !ok {
		return nil, boterr.NewResolutionError("no resolver for url", boterr.ErrUnsupportedURL).
			WithContext("url", rawURL)
	}

	start := time.Now()
	h, err := res.Materialize(ctx, rawURL, known, progress)
	r.record(res.Kind(), "materialize", rawURL, time.Since(start), err)
	if err != nil {
		return nil, boterr.NewResolutionError("materialize failed", err).
			WithContext("url", rawURL).
			WithContext("kind", string(res.Kind()))
	}
	return h, nil
}

func (r *Registry) record(kind Kind, event, rawURL string, elapsed time.Duration, err error) {
	fields := logger.Fields{"kind": string(kind), "url": rawURL, "duration_ms": elapsed.Milliseconds()}
	if err != nil {
		event += "_failed"
		fields["error"] = err.Error()
	}
	r.metrics.RecordResolverEvent(string(kind), event, elapsed)
	r.log.LogResolverEvent(event, fields)
}
