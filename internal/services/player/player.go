// Package player runs the per-guild playback loop: it pulls songs from the
// queue, materializes them, plays them through the voice manager and tracks
// the playback position.
package player

import (
	"context"
	"errors"
	"sync"
	"time"

	"songbird/internal/boterr"
	"songbird/internal/services/audio"
	"songbird/internal/services/queue"
	"songbird/internal/services/source"
	"songbird/pkg/logger"
	"songbird/pkg/metrics"

	"github.com/google/uuid"
)

// Voice is the subset of the voice manager the player drives.
type Voice interface {
	Connect(ctx context.Context, guildID, channelID string) error
	Play(guildID, source string, onFinished func(error)) error
	Stop(guildID string) bool
	Pause(guildID string) bool
	Resume(guildID string) bool
	Disconnect(guildID string) bool
	IsConnected(guildID string) bool
	ConnectionInfo(guildID string) audio.ConnectionInfo
}

// Sources resolves and materializes song URLs.
type Sources interface {
	IsSupported(rawURL string) bool
	Resolve(ctx context.Context, rawURL string) (*source.Metadata, error)
	Materialize(ctx context.Context, rawURL string, known *source.Metadata, progress source.ProgressFunc) (*source.Handle, error)
}

// Events are optional callbacks run on the guild's playback loop goroutine.
type Events struct {
	OnSongStart  func(guildID string, song *queue.Song)
	OnSongFailed func(guildID string, song *queue.Song, err error)
	OnIdle       func(guildID string)
}

type Config struct {
	QueueMaxSize int
	Clock        Clock
}

// Request is an enqueue request from the command layer.
type Request struct {
	GuildID        string
	VoiceChannelID string
	TextChannelID  string
	URL            string
	Requester      queue.Requester
	Progress       source.ProgressFunc
}

// Snapshot is a read-only view of a guild. Queue and voice state are read
// one after the other, so they may be slightly out of step.
type Snapshot struct {
	Current       *queue.Song          `json:"current,omitempty"`
	Pending       []queue.Entry        `json:"pending"`
	Length        int                  `json:"length"`
	TotalDuration int                  `json:"total_duration"`
	Summary       string               `json:"summary"`
	Position      time.Duration        `json:"position"`
	HasPosition   bool                 `json:"has_position"`
	Paused        bool                 `json:"paused"`
	Connection    audio.ConnectionInfo `json:"connection"`
}

// Player owns one guild entry per guild with queued or playing music.
type Player struct {
	mu     sync.RWMutex
	guilds map[string]*guild

	config  Config
	voice   Voice
	sources Sources
	events  Events
	log     *logger.Logger
	metrics *metrics.Metrics
}

// guild bundles a guild's queue, timing and task handles. mu guards every
// field below it and is always taken before the queue's own lock.
type guild struct {
	id    string
	queue *queue.Queue

	mu            sync.Mutex
	closed        bool
	timing        *Timing
	loopCancel    context.CancelFunc
	loopDone      chan struct{}
	songCancel    context.CancelFunc
	songID        uuid.UUID
	displayCancel context.CancelFunc
	displayDone   chan struct{}
}

func New(config Config, voice Voice, sources Sources, log *logger.Logger, m *metrics.Metrics) *Player {
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.Global()
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &Player{
		guilds:  make(map[string]*guild),
		config:  config,
		voice:   voice,
		sources: sources,
		log:     log.WithComponent("player"),
		metrics: m,
	}
}

// SetEvents installs callbacks. It must be called before the first Enqueue.
func (p *Player) SetEvents(e Events) {
	p.events = e
}

func (p *Player) guild(guildID string, create bool) *guild {
	p.mu.RLock()
	g, ok := p.guilds[guildID]
	p.mu.RUnlock()
	if ok || !create {
		return g
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if g, ok := p.guilds[guildID]; ok {
		return g
	}
	g = &guild{id: guildID, queue: queue.New(guildID, p.config.QueueMaxSize)}
	p.guilds[guildID] = g
	return g
}

// forget drops g from the registry if it is still the registered entry.
func (p *Player) forget(g *guild) {
	p.mu.Lock()
	if p.guilds[g.id] == g {
		delete(p.guilds, g.id)
	}
	p.mu.Unlock()
}

func (p *Player) IsSupported(rawURL string) bool {
	return p.sources.IsSupported(rawURL)
}

// Enqueue connects to the requester's voice channel, resolves the URL and
// queues the song, starting the guild's playback loop if none is running.
// It returns the song's position in play order, where the current song is 1.
// Nothing is queued when connecting or resolving fails.
func (p *Player) Enqueue(ctx context.Context, req Request) (int, *queue.Song, error) {
	log := p.log.WithGuild(req.GuildID)

	if err := p.voice.Connect(ctx, req.GuildID, req.VoiceChannelID); err != nil {
		return 0, nil, err
	}

	meta, err := p.sources.Resolve(ctx, req.URL)
	if err != nil {
		log.Warn("Resolve failed", logger.Fields{"url": req.URL, "error": err.Error()})
		return 0, nil, err
	}
	song := queue.NewSong(*meta, req.Requester, req.TextChannelID, req.Progress)

	for {
		g := p.guild(req.GuildID, true)

		g.mu.Lock()
		if g.closed {
			// Stopped between lookup and lock; the next lookup creates a fresh entry.
			g.mu.Unlock()
			continue
		}
		position, err := g.queue.Add(song)
		if err != nil {
			g.mu.Unlock()
			return 0, nil, err
		}
		started := p.ensureLoopLocked(g)
		length := g.queue.Len()
		g.mu.Unlock()

		p.metrics.RecordQueueEvent("added", length)
		log.LogQueueEvent("song_added", logger.Fields{
			"title":        song.Title(),
			"position":     position,
			"loop_started": started,
			"requester_id": req.Requester.ID,
		})
		return position, song, nil
	}
}

// ensureLoopLocked starts the playback loop unless one is running. g.mu must
// be held.
func (p *Player) ensureLoopLocked(g *guild) bool {
	if g.loopDone != nil {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	g.loopCancel = cancel
	g.loopDone = done
	go p.run(ctx, g, done)
	return true
}

// Skip stops the current song; the loop moves on to the next one. The loop
// stops the voice stream itself once the song's context is cancelled.
func (p *Player) Skip(guildID string) (string, error) {
	g := p.guild(guildID, false)
	if g == nil {
		return "", boterr.NewNothingPlayingError()
	}

	g.mu.Lock()
	song, ok := g.queue.CurrentSong()
	if ok {
		ok = g.cancelSongLocked(song.ID)
	}
	g.mu.Unlock()
	if !ok {
		return "", boterr.NewNothingPlayingError()
	}

	p.metrics.RecordSongEvent("skipped")
	p.log.WithGuild(guildID).LogPlaybackEvent("skipped", logger.Fields{"title": song.Title()})
	return song.Title(), nil
}

// JumpTo drops the pending songs before position and stops the current song
// so the loop plays the song at position next. Positions count pending songs
// from 1.
func (p *Player) JumpTo(guildID string, position int) (string, error) {
	g := p.guild(guildID, false)
	if g == nil {
		return "", boterr.NewInvalidPositionError(position, 0)
	}

	g.mu.Lock()
	current, playing := g.queue.CurrentSong()
	song, err := g.queue.JumpTo(position)
	if err == nil && playing {
		g.cancelSongLocked(current.ID)
	}
	length := g.queue.Len()
	g.mu.Unlock()
	if err != nil {
		return "", err
	}

	p.metrics.RecordQueueEvent("jump", length)
	p.log.WithGuild(guildID).LogQueueEvent("jump", logger.Fields{"position": position, "title": song.Title()})
	return song.Title(), nil
}

// Remove drops the pending song at position without touching playback.
func (p *Player) Remove(guildID string, position int) (string, error) {
	g := p.guild(guildID, false)
	if g == nil {
		return "", boterr.NewInvalidPositionError(position, 0)
	}

	song, err := g.queue.RemoveAt(position)
	if err != nil {
		return "", err
	}

	p.metrics.RecordQueueEvent("removed", g.queue.Len())
	p.log.WithGuild(guildID).LogQueueEvent("removed", logger.Fields{"position": position, "title": song.Title()})
	return song.Title(), nil
}

// Pause freezes playback and the position. It returns false when the guild
// is not playing.
func (p *Player) Pause(guildID string) (bool, error) {
	g := p.guild(guildID, false)
	if g == nil {
		return false, boterr.NewNothingPlayingError()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.timing == nil {
		return false, boterr.NewNothingPlayingError()
	}
	if !p.voice.Pause(guildID) {
		return false, nil
	}
	g.timing.Pause()
	return true, nil
}

// Resume continues a paused song. It returns false when nothing is paused.
func (p *Player) Resume(guildID string) (bool, error) {
	g := p.guild(guildID, false)
	if g == nil {
		return false, boterr.NewNothingPlayingError()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.timing == nil {
		return false, boterr.NewNothingPlayingError()
	}
	if !p.voice.Resume(guildID) {
		return false, nil
	}
	g.timing.Resume()
	return true, nil
}

// Stop stops playback, clears the queue, waits for the loop and any display
// task to exit, and disconnects voice. It returns NothingPlaying when the
// guild had neither music nor a voice connection.
func (p *Player) Stop(guildID string) error {
	g := p.guild(guildID, false)
	if g == nil {
		if p.voice.Disconnect(guildID) {
			return nil
		}
		return boterr.NewNothingPlayingError()
	}

	cleared := p.teardown(g)
	p.voice.Disconnect(guildID)
	p.metrics.RecordQueueEvent("cleared", 0)
	p.log.WithGuild(guildID).LogPlaybackEvent("stopped", logger.Fields{"cleared": cleared})
	return nil
}

// teardown closes g, cancels its tasks and waits for them. It returns the
// number of pending songs dropped.
func (p *Player) teardown(g *guild) int {
	g.mu.Lock()
	g.closed = true
	cleared := g.queue.Clear()
	loopCancel, loopDone := g.loopCancel, g.loopDone
	songCancel := g.songCancel
	g.mu.Unlock()

	p.forget(g)

	if songCancel != nil {
		songCancel()
	}
	if loopCancel != nil {
		loopCancel()
	}
	p.voice.Stop(g.id)
	if loopDone != nil {
		<-loopDone
	}
	g.stopDisplay()
	p.metrics.SetActiveGuilds(p.ActiveGuilds())
	return cleared
}

// Shutdown stops every guild.
func (p *Player) Shutdown() {
	p.mu.RLock()
	guilds := make([]*guild, 0, len(p.guilds))
	for _, g := range p.guilds {
		guilds = append(guilds, g)
	}
	p.mu.RUnlock()

	for _, g := range guilds {
		p.teardown(g)
		p.voice.Disconnect(g.id)
	}
	p.log.Info("Player shut down", logger.Fields{"guilds": len(guilds)})
}

// CurrentPosition returns the playback position of the current song.
func (p *Player) CurrentPosition(guildID string) (time.Duration, bool) {
	g := p.guild(guildID, false)
	if g == nil {
		return 0, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timing == nil {
		return 0, false
	}
	return g.timing.Position(), true
}

func (p *Player) CurrentSong(guildID string) (*queue.Song, bool) {
	g := p.guild(guildID, false)
	if g == nil {
		return nil, false
	}
	return g.queue.CurrentSong()
}

// IsPaused reports whether the current song's timing is frozen.
func (p *Player) IsPaused(guildID string) bool {
	g := p.guild(guildID, false)
	if g == nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.timing != nil && g.timing.Paused()
}

func (p *Player) IsConnected(guildID string) bool {
	return p.voice.IsConnected(guildID)
}

// Snapshot returns the guild's queue with up to limit pending songs.
func (p *Player) Snapshot(guildID string, limit int) Snapshot {
	var snap Snapshot
	if g := p.guild(guildID, false); g != nil {
		info := g.queue.Info()
		snap.Current = info.Current
		snap.Pending = info.Pending
		if limit > 0 && len(snap.Pending) > limit {
			snap.Pending = snap.Pending[:limit]
		}
		snap.Length = info.Length
		snap.TotalDuration = info.TotalDuration
		snap.Summary = info.Summary()

		g.mu.Lock()
		if g.timing != nil {
			snap.Position = g.timing.Position()
			snap.HasPosition = true
			snap.Paused = g.timing.Paused()
		}
		g.mu.Unlock()
	}
	snap.Connection = p.voice.ConnectionInfo(guildID)
	return snap
}

// RunDisplay runs fn as the guild's display task, first cancelling and
// waiting for the previous one. fn must return once its context is done.
func (p *Player) RunDisplay(guildID string, fn func(ctx context.Context)) bool {
	g := p.guild(guildID, false)
	if g == nil {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for g.displayDone != nil {
		g.mu.Unlock()
		g.stopDisplay()
		g.mu.Lock()
	}
	if g.closed {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	g.displayCancel = cancel
	g.displayDone = done
	go func() {
		defer close(done)
		defer func() {
			g.mu.Lock()
			if g.displayDone == done {
				g.displayCancel, g.displayDone = nil, nil
			}
			g.mu.Unlock()
		}()
		fn(ctx)
	}()
	return true
}

// ActiveGuilds returns the number of guilds with a running playback loop.
func (p *Player) ActiveGuilds() int {
	p.mu.RLock()
	guilds := make([]*guild, 0, len(p.guilds))
	for _, g := range p.guilds {
		guilds = append(guilds, g)
	}
	p.mu.RUnlock()

	n := 0
	for _, g := range guilds {
		g.mu.Lock()
		if g.loopDone != nil {
			n++
		}
		g.mu.Unlock()
	}
	return n
}

// cancelSongLocked cancels the song the loop is on if it is still id. g.mu
// must be held.
func (g *guild) cancelSongLocked(id uuid.UUID) bool {
	if g.songCancel == nil || g.songID != id {
		return false
	}
	g.songCancel()
	return true
}

func (g *guild) stopDisplay() {
	g.mu.Lock()
	cancel, done := g.displayCancel, g.displayDone
	g.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// isConnectionLoss reports errors after which no further song can play.
func isConnectionLoss(err error) bool {
	return errors.Is(err, boterr.ErrNotConnected)
}
