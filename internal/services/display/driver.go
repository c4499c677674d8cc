// Package display drives the "now playing" message: a progress bar and the
// current lyric lines, edited in place while a song plays.
package display

import (
	"context"
	"errors"
	"time"

	"songbird/internal/services/lyrics"
	"songbird/internal/services/queue"
	"songbird/pkg/logger"
	"songbird/pkg/metrics"

	"golang.org/x/time/rate"
)

var (
	// ErrRateLimited is returned by an Editor when the transport asks it to
	// slow down. The driver backs off and keeps going.
	ErrRateLimited = errors.New("display: rate limited")
	// ErrMessageGone is returned by an Editor when the message was deleted.
	ErrMessageGone = errors.New("display: message gone")
)

const (
	FrameTitle = "🎵 Now Playing"

	FieldTrack     = "Track"
	FieldProgress  = "Progress"
	FieldLyrics    = "🎤 Lyrics"
	FieldArtist    = "Artist"
	FieldRequester = "Requested by"

	// maxBackoffSteps caps how far repeated rate limits stretch the interval.
	maxBackoffSteps = 3
)

// Host exposes the playback state the driver polls.
type Host interface {
	CurrentSong(guildID string) (*queue.Song, bool)
	CurrentPosition(guildID string) (time.Duration, bool)
	IsPaused(guildID string) bool
	IsConnected(guildID string) bool
}

// Lyrics looks up a song's lyric track. A nil track means none was found.
type Lyrics interface {
	Lookup(ctx context.Context, title, uploader string) *lyrics.Track
}

// Frame is one rendered state of the message. Lyrics is empty when lyrics
// are disabled.
type Frame struct {
	Title        string
	Track        string
	Progress     string
	Lyrics       string
	Artist       string
	Requester    string
	ThumbnailURL string
}

// Editor pushes a frame to the message it owns.
type Editor interface {
	Edit(ctx context.Context, frame Frame) error
}

type Config struct {
	UpdateInterval   time.Duration
	MaxUpdates       int
	BarLength        int
	RateLimitBackoff time.Duration
	MaxLyricLength   int
	MissedLines      int
}

func (c Config) withDefaults() Config {
	if c.UpdateInterval <= 0 {
		c.UpdateInterval = 5 * time.Second
	}
	if c.MaxUpdates <= 0 {
		c.MaxUpdates = 120
	}
	if c.BarLength <= 0 {
		c.BarLength = 12
	}
	if c.RateLimitBackoff <= 0 {
		c.RateLimitBackoff = 10 * time.Second
	}
	if c.MaxLyricLength <= 0 {
		c.MaxLyricLength = 200
	}
	if c.MissedLines < 0 {
		c.MissedLines = 0
	}
	return c
}

type Driver struct {
	config  Config
	host    Host
	lyrics  Lyrics
	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewDriver creates a driver. lyrics may be nil to show progress only.
func NewDriver(config Config, host Host, lyrics Lyrics, log *logger.Logger, m *metrics.Metrics) *Driver {
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.NewMetrics()
		m.Disable()
	}
	return &Driver{
		config:  config.withDefaults(),
		host:    host,
		lyrics:  lyrics,
		log:     log.WithComponent("display"),
		metrics: m,
	}
}

// Render builds the frame for song at pos. last is the position shown by the
// previous frame, or zero for the first one.
func (d *Driver) Render(song *queue.Song, track *lyrics.Track, status Status, pos, last time.Duration) Frame {
	total := time.Duration(song.Duration()) * time.Second

	frame := Frame{
		Title:        FrameTitle,
		Track:        "**" + song.Title() + "**",
		Progress:     ProgressText(status, pos, total, d.config.BarLength),
		Artist:       song.Uploader(),
		Requester:    song.Requester.DisplayName,
		ThumbnailURL: song.Metadata.ThumbnailURL,
	}
	if frame.Artist == "" {
		frame.Artist = "Unknown"
	}
	if frame.Requester == "" {
		frame.Requester = "Unknown"
	}
	if d.lyrics != nil {
		frame.Lyrics = LyricsText(track, pos, last, LyricsOptions{
			MaxLength:   d.config.MaxLyricLength,
			MissedLines: d.config.MissedLines,
		})
	}
	return frame
}

// Run edits the message until the song changes, voice disconnects, the
// message disappears, ctx is cancelled or the update limit is reached. Only
// an unexpected edit failure is returned.
func (d *Driver) Run(ctx context.Context, guildID string, song *queue.Song, editor Editor) error {
	log := d.log.WithGuild(guildID).WithSong(song.ID.String(), song.Title())

	var track *lyrics.Track
	if d.lyrics != nil {
		track = d.lyrics.Lookup(ctx, song.Title(), song.Uploader())
	}

	pace := newPacer(d.config.UpdateInterval, d.config.RateLimitBackoff)
	var last time.Duration

	d.metrics.RecordDisplayEvent("started")
	for updates := 0; updates < d.config.MaxUpdates; updates++ {
		if err := pace.wait(ctx); err != nil {
			return d.stopped(log, "cancelled", updates)
		}

		current, ok := d.host.CurrentSong(guildID)
		if !ok || current.ID != song.ID {
			return d.stopped(log, "song_changed", updates)
		}
		if !d.host.IsConnected(guildID) {
			return d.stopped(log, "disconnected", updates)
		}
		pos, ok := d.host.CurrentPosition(guildID)
		if !ok {
			return d.stopped(log, "no_position", updates)
		}

		status := StatusPlaying
		if d.host.IsPaused(guildID) {
			status = StatusPaused
		}
		frame := d.Render(song, track, status, pos, last)
		last = pos

		err := editor.Edit(ctx, frame)
		switch {
		case err == nil:
			pace.success()
			d.metrics.RecordDisplayEvent("updated")
		case errors.Is(err, ErrMessageGone):
			return d.stopped(log, "message_gone", updates)
		case errors.Is(err, ErrRateLimited):
			pace.rateLimited()
			d.metrics.RecordDisplayEvent("rate_limited")
			log.Warn("Display rate limited, backing off", logger.Fields{"interval": pace.interval.String()})
		case ctx.Err() != nil:
			return d.stopped(log, "cancelled", updates)
		default:
			d.metrics.RecordDisplayEvent("failed")
			log.Error("Failed to update now playing message", err, logger.Fields{"updates": updates})
			return err
		}
	}
	return d.stopped(log, "max_updates", d.config.MaxUpdates)
}

func (d *Driver) stopped(log *logger.Logger, reason string, updates int) error {
	d.metrics.RecordDisplayEvent(reason)
	log.Debug("Display stopped", logger.Fields{"reason": reason, "updates": updates})
	return nil
}

// pacer spaces edits at interval, stretching it by backoff on every rate
// limit and easing back on success.
type pacer struct {
	limiter  *rate.Limiter
	base     time.Duration
	backoff  time.Duration
	interval time.Duration
}

func newPacer(interval, backoff time.Duration) *pacer {
	return &pacer{
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		base:     interval,
		backoff:  backoff,
		interval: interval,
	}
}

func (p *pacer) wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

func (p *pacer) rateLimited() {
	p.set(min(p.interval+p.backoff, p.base+maxBackoffSteps*p.backoff))
}

func (p *pacer) success() {
	if p.interval > p.base {
		p.set(max(p.base, p.interval-p.backoff/2))
	}
}

func (p *pacer) set(interval time.Duration) {
	p.interval = interval
	p.limiter.SetLimit(rate.Every(interval))
}
