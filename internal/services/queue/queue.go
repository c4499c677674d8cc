// Package queue holds the per-guild ordered song queue and its current-song slot.
package queue

import (
	"fmt"
	"sync"
	"time"

	"songbird/internal/boterr"
	"songbird/internal/services/source"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Requester identifies the user who asked for a song.
type Requester struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Song is immutable after creation.
type Song struct {
	ID        uuid.UUID       `json:"id"`
	Metadata  source.Metadata `json:"metadata"`
	Requester Requester       `json:"requester"`
	AddedAt   time.Time       `json:"added_at"`
	// ChannelID is the text channel the request came from.
	ChannelID string `json:"channel_id"`
	// Progress receives materialization progress for this song.
	Progress source.ProgressFunc `json:"-"`
}

func NewSong(meta source.Metadata, requester Requester, channelID string, progress source.ProgressFunc) *Song {
	return &Song{
		ID:        uuid.New(),
		Metadata:  meta,
		Requester: requester,
		AddedAt:   time.Now(),
		ChannelID: channelID,
		Progress:  progress,
	}
}

func (s *Song) Title() string    { return s.Metadata.Title }
func (s *Song) Duration() int    { return s.Metadata.Duration }
func (s *Song) URL() string      { return s.Metadata.URL }
func (s *Song) Uploader() string { return s.Metadata.Uploader }

// Entry is a pending song with its 1-based position.
type Entry struct {
	Position int   `json:"position"`
	Song     *Song `json:"song"`
}

// Info is a consistent copy of the queue taken under one lock.
type Info struct {
	Current       *Song   `json:"current,omitempty"`
	Pending       []Entry `json:"pending"`
	Length        int     `json:"length"`
	TotalDuration int     `json:"total_duration"`
	Empty         bool    `json:"empty"`
}

// Queue is a FIFO of pending songs plus an optional current song. Every
// operation, read or write, runs under the same mutex. The current song is
// never also pending.
type Queue struct {
	mu      sync.Mutex
	guildID string
	maxSize int
	pending []*Song
	current *Song
}

// New creates a queue. maxSize <= 0 means unbounded.
func New(guildID string, maxSize int) *Queue {
	return &Queue{guildID: guildID, maxSize: maxSize}
}

func (q *Queue) GuildID() string {
	return q.guildID
}

// Add appends song and returns its place in play order, where the current
// song (if any) is 1.
func (q *Queue) Add(song *Song) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxSize > 0 && len(q.pending) >= q.maxSize {
		return 0, boterr.New(boterr.TypeValidation, "queue full",
			fmt.Sprintf("The queue is full (%d songs).", q.maxSize), boterr.ErrQueueFull)
	}

	q.pending = append(q.pending, song)
	position := len(q.pending)
	if q.current != nil {
		position++
	}
	return position, nil
}

// NextSong removes the head of the queue and makes it current. It returns
// false without blocking when nothing is pending.
func (q *Queue) NextSong() (*Song, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		q.current = nil
		return nil, false
	}

	song := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.current = song
	return song, true
}

// FinishCurrent clears the current slot and returns the song that was there.
func (q *Queue) FinishCurrent() *Song {
	q.mu.Lock()
	defer q.mu.Unlock()

	song := q.current
	q.current = nil
	return song
}

// JumpTo drops the first position-1 pending songs and returns the song at
// position, which is left at the head of the queue for the playback loop to
// pick up. An out-of-range position leaves the queue unchanged.
func (q *Queue) JumpTo(position int) (*Song, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if position < 1 || position > len(q.pending) {
		return nil, boterr.NewInvalidPositionError(position, len(q.pending))
	}

	q.pending = append([]*Song(nil), q.pending[position-1:]...)
	return q.pending[0], nil
}

// RemoveAt removes the pending song at a 1-based position.
func (q *Queue) RemoveAt(position int) (*Song, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if position < 1 || position > len(q.pending) {
		return nil, boterr.NewInvalidPositionError(position, len(q.pending))
	}

	song := q.pending[position-1]
	q.pending = append(q.pending[:position-1], q.pending[position:]...)
	return song, nil
}

// Clear removes all pending songs and returns how many were removed. The
// current slot belongs to the playback loop and is left alone.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.pending)
	q.pending = nil
	return n
}

func (q *Queue) CurrentSong() (*Song, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current, q.current != nil
}

// Len returns the number of pending songs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Idle reports whether there is neither a current nor a pending song.
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current == nil && len(q.pending) == 0
}

// Snapshot returns up to limit pending songs with positions. limit <= 0
// returns all of them.
func (q *Queue) Snapshot(limit int) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.entriesLocked(limit)
}

func (q *Queue) entriesLocked(limit int) []Entry {
	songs := q.pending
	if limit > 0 && len(songs) > limit {
		songs = songs[:limit]
	}
	return lo.Map(songs, func(s *Song, i int) Entry {
		return Entry{Position: i + 1, Song: s}
	})
}

func (q *Queue) Info() Info {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Info{
		Current:       q.current,
		Pending:       q.entriesLocked(0),
		Length:        len(q.pending),
		TotalDuration: totalDuration(q.pending),
		Empty:         len(q.pending) == 0,
	}
}

// Summary returns a one-line description of the pending songs.
func (i Info) Summary() string {
	if i.Length == 0 {
		return "Queue is empty"
	}
	return fmt.Sprintf("%d songs in queue • %s total", i.Length, FormatDuration(i.TotalDuration))
}

func totalDuration(songs []*Song) int {
	return lo.SumBy(songs, func(s *Song) int { return s.Metadata.Duration })
}

// FormatDuration renders seconds as MM:SS, or HH:MM:SS from one hour up.
func FormatDuration(seconds int) string {
	return source.FormatSeconds(seconds)
}
