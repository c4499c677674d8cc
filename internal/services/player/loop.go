package player

import (
	"context"
	"fmt"
	"time"

	"songbird/internal/services/queue"
	"songbird/pkg/logger"

	"github.com/google/uuid"
)

// run is the guild's playback loop. It exits when the queue is empty, when
// ctx is cancelled or when the voice connection is lost.
func (p *Player) run(ctx context.Context, g *guild, done chan struct{}) {
	defer close(done)
	log := p.log.WithGuild(g.id)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Playback loop panicked", fmt.Errorf("panic: %v", r))
			g.mu.Lock()
			g.timing = nil
			g.songCancel, g.songID = nil, uuid.Nil
			g.queue.FinishCurrent()
			if g.loopDone == done {
				g.loopCancel, g.loopDone = nil, nil
			}
			g.mu.Unlock()
		}
	}()

	p.metrics.SetActiveGuilds(p.ActiveGuilds())
	log.LogPlaybackEvent("loop_started", nil)

	for {
		song, songCtx, ok := p.next(ctx, g, done)
		if !ok {
			break
		}
		if !p.playSong(songCtx, g, song) {
			p.drain(g, done)
			break
		}
	}

	log.LogPlaybackEvent("loop_finished", nil)
	if ctx.Err() == nil && p.events.OnIdle != nil {
		p.events.OnIdle(g.id)
	}
}

// next pops the next song and installs its cancel func under the same lock,
// so Skip and JumpTo always see the song and its cancel func together. When
// there is none, or the loop was cancelled, it unregisters the loop under the
// lock Enqueue holds, so a song added concurrently either is popped here or
// starts a new loop.
func (p *Player) next(ctx context.Context, g *guild, done chan struct{}) (*queue.Song, context.Context, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if ctx.Err() == nil {
		if song, ok := g.queue.NextSong(); ok {
			songCtx, cancel := context.WithCancel(ctx)
			g.songCancel, g.songID = cancel, song.ID
			return song, songCtx, true
		}
	} else {
		g.queue.FinishCurrent()
	}
	if g.loopDone == done {
		g.loopCancel, g.loopDone = nil, nil
	}
	return nil, nil, false
}

// drain unregisters the loop after a connection loss, dropping what is left.
func (p *Player) drain(g *guild, done chan struct{}) {
	g.mu.Lock()
	dropped := g.queue.Clear()
	g.queue.FinishCurrent()
	if g.loopDone == done {
		g.loopCancel, g.loopDone = nil, nil
	}
	g.mu.Unlock()

	p.metrics.RecordQueueEvent("cleared", 0)
	p.log.WithGuild(g.id).Warn("Voice connection lost, queue dropped", logger.Fields{"dropped": dropped})
}

// playSong materializes, plays and waits for one song. songCtx is cancelled
// by Skip, JumpTo and Stop. It returns false when the loop must stop because
// voice is gone.
func (p *Player) playSong(songCtx context.Context, g *guild, song *queue.Song) bool {
	log := p.log.WithGuild(g.id).WithSong(song.ID.String(), song.Title())

	defer func() {
		g.mu.Lock()
		cancel := g.songCancel
		g.songCancel, g.songID = nil, uuid.Nil
		g.timing = nil
		g.queue.FinishCurrent()
		g.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}()

	start := time.Now()
	known := song.Metadata
	handle, err := p.sources.Materialize(songCtx, song.URL(), &known, song.Progress)
	if err != nil {
		if songCtx.Err() != nil {
			log.LogPlaybackEvent("materialize_cancelled", nil)
			return true
		}
		p.metrics.RecordSongEvent("failed")
		log.Error("Failed to prepare song, skipping", err, logger.Fields{"url": song.URL()})
		p.songFailed(g.id, song, err)
		return true
	}
	defer func() {
		if err := handle.Cleanup(); err != nil {
			log.Warn("Failed to release audio", logger.Fields{"source": handle.Source, "error": err.Error()})
		}
	}()
	log.Debug("Song materialized", logger.Fields{
		"source":      handle.Source,
		"streaming":   handle.Streaming,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	finished := make(chan error, 1)
	g.mu.Lock()
	if songCtx.Err() != nil {
		// Skipped after the download finished.
		g.mu.Unlock()
		return true
	}
	err = p.voice.Play(g.id, handle.Source, func(err error) { finished <- err })
	if err == nil {
		g.timing = NewTiming(p.config.Clock, time.Duration(song.Duration())*time.Second)
	}
	g.mu.Unlock()
	if err != nil {
		p.metrics.RecordSongEvent("failed")
		log.Error("Failed to start playback", err)
		p.songFailed(g.id, song, err)
		return !isConnectionLoss(err)
	}

	p.metrics.RecordSongEvent("started")
	log.LogPlaybackEvent("started", logger.Fields{"duration": song.Duration(), "uploader": song.Uploader()})
	if p.events.OnSongStart != nil {
		p.events.OnSongStart(g.id, song)
	}

	select {
	case err = <-finished:
	case <-songCtx.Done():
		p.voice.Stop(g.id)
		err = <-finished
	}

	if err != nil {
		// A failed stream counts as finished; the loop moves on.
		p.metrics.RecordSongEvent("errored")
		log.Warn("Playback ended with error", logger.Fields{"error": err.Error()})
	} else {
		p.metrics.RecordSongEvent("finished")
		log.LogPlaybackEvent("finished", logger.Fields{"elapsed_ms": time.Since(start).Milliseconds()})
	}
	return true
}

func (p *Player) songFailed(guildID string, song *queue.Song, err error) {
	if p.events.OnSongFailed != nil {
		p.events.OnSongFailed(guildID, song, err)
	}
}
