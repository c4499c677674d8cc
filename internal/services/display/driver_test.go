package display

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"songbird/internal/services/lyrics"
	"songbird/internal/services/queue"
	"songbird/internal/services/source"
	"songbird/pkg/logger"
	"songbird/pkg/metrics"
)

type fakeHost struct {
	mu        sync.Mutex
	song      *queue.Song
	pos       time.Duration
	paused    bool
	connected bool
}

func (h *fakeHost) CurrentSong(string) (*queue.Song, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.song, h.song != nil
}

func (h *fakeHost) CurrentPosition(string) (time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos, h.song != nil
}

func (h *fakeHost) IsPaused(string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paused
}

func (h *fakeHost) IsConnected(string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

func (h *fakeHost) update(fn func(h *fakeHost)) {
	h.mu.Lock()
	fn(h)
	h.mu.Unlock()
}

// fakeEditor returns errs in order, then nil. after runs once per edit with
// the 1-based edit number.
type fakeEditor struct {
	mu     sync.Mutex
	frames []Frame
	errs   []error
	after  func(n int)
}

func (e *fakeEditor) Edit(_ context.Context, frame Frame) error {
	e.mu.Lock()
	e.frames = append(e.frames, frame)
	n := len(e.frames)
	var err error
	if n <= len(e.errs) {
		err = e.errs[n-1]
	}
	after := e.after
	e.mu.Unlock()

	if after != nil {
		after(n)
	}
	return err
}

func (e *fakeEditor) edits() []Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Frame(nil), e.frames...)
}

type fakeLyrics struct {
	track *lyrics.Track
	calls int
}

func (l *fakeLyrics) Lookup(context.Context, string, string) *lyrics.Track {
	l.calls++
	return l.track
}

func testSong(title string) *queue.Song {
	return queue.NewSong(source.Metadata{
		Title:        title,
		Duration:     180,
		URL:          "https://files.catbox.moe/" + title + ".mp3",
		Uploader:     "Catbox",
		ThumbnailURL: "https://img.example/" + title + ".jpg",
	}, queue.Requester{ID: "u1", DisplayName: "alice"}, "text-1", nil)
}

func fastConfig(maxUpdates int) Config {
	return Config{
		UpdateInterval:   time.Millisecond,
		MaxUpdates:       maxUpdates,
		RateLimitBackoff: time.Millisecond,
		MissedLines:      2,
	}
}

func newTestDriver(config Config, host Host, lyr Lyrics) (*Driver, *metrics.Metrics) {
	m := metrics.NewMetrics()
	return NewDriver(config, host, lyr, logger.Nop(), m), m
}

func TestRunStopsAtMaxUpdates(t *testing.T) {
	song := testSong("a")
	host := &fakeHost{song: song, connected: true, pos: 10 * time.Second}
	d, m := newTestDriver(fastConfig(5), host, nil)
	editor := &fakeEditor{}

	if err := d.Run(context.Background(), "g1", song, editor); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := len(editor.edits()); got != 5 {
		t.Errorf("edits = %d, want 5", got)
	}
	if got := m.Counter("display_event_max_updates"); got != 1 {
		t.Errorf("max_updates counter = %d, want 1", got)
	}
	if got := m.Counter("display_event_updated"); got != 5 {
		t.Errorf("updated counter = %d, want 5", got)
	}
}

func TestRunStopOnStateChange(t *testing.T) {
	tests := []struct {
		name   string
		change func(h *fakeHost)
		reason string
	}{
		{"song changed", func(h *fakeHost) { h.song = testSong("b") }, "song_changed"},
		{"queue empty", func(h *fakeHost) { h.song = nil }, "song_changed"},
		{"disconnected", func(h *fakeHost) { h.connected = false }, "disconnected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			song := testSong("a")
			host := &fakeHost{song: song, connected: true}
			d, m := newTestDriver(fastConfig(50), host, nil)
			editor := &fakeEditor{after: func(n int) {
				if n == 2 {
					host.update(tt.change)
				}
			}}

			if err := d.Run(context.Background(), "g1", song, editor); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if got := len(editor.edits()); got != 2 {
				t.Errorf("edits = %d, want 2", got)
			}
			if got := m.Counter("display_event_" + tt.reason); got != 1 {
				t.Errorf("%s counter = %d, want 1", tt.reason, got)
			}
		})
	}
}

func TestRunStopsWhenMessageGone(t *testing.T) {
	song := testSong("a")
	host := &fakeHost{song: song, connected: true}
	d, m := newTestDriver(fastConfig(50), host, nil)
	editor := &fakeEditor{errs: []error{nil, ErrMessageGone}}

	if err := d.Run(context.Background(), "g1", song, editor); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := len(editor.edits()); got != 2 {
		t.Errorf("edits = %d, want 2", got)
	}
	if got := m.Counter("display_event_message_gone"); got != 1 {
		t.Errorf("message_gone counter = %d, want 1", got)
	}
}

func TestRunBacksOffOnRateLimit(t *testing.T) {
	song := testSong("a")
	host := &fakeHost{song: song, connected: true}
	d, m := newTestDriver(fastConfig(4), host, nil)
	editor := &fakeEditor{errs: []error{
		ErrRateLimited,
		errors.Join(errors.New("429"), ErrRateLimited),
	}}

	if err := d.Run(context.Background(), "g1", song, editor); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := len(editor.edits()); got != 4 {
		t.Errorf("edits = %d, want 4", got)
	}
	if got := m.Counter("display_event_rate_limited"); got != 2 {
		t.Errorf("rate_limited counter = %d, want 2", got)
	}
	if got := m.Counter("display_event_updated"); got != 2 {
		t.Errorf("updated counter = %d, want 2", got)
	}
}

func TestRunReturnsUnexpectedEditError(t *testing.T) {
	song := testSong("a")
	host := &fakeHost{song: song, connected: true}
	d, m := newTestDriver(fastConfig(50), host, nil)
	boom := errors.New("boom")
	editor := &fakeEditor{errs: []error{boom}}

	err := d.Run(context.Background(), "g1", song, editor)
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want boom", err)
	}
	if got := m.Counter("display_event_failed"); got != 1 {
		t.Errorf("failed counter = %d, want 1", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	song := testSong("a")
	host := &fakeHost{song: song, connected: true}
	config := fastConfig(50)
	config.UpdateInterval = time.Hour
	d, _ := newTestDriver(config, host, nil)

	ctx, cancel := context.WithCancel(context.Background())
	editor := &fakeEditor{after: func(int) { cancel() }}

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, "g1", song, editor) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if got := len(editor.edits()); got != 1 {
		t.Errorf("edits = %d, want 1", got)
	}
}

func TestRunFrames(t *testing.T) {
	song := testSong("a")
	host := &fakeHost{song: song, connected: true, pos: 16 * time.Second}
	lyr := &fakeLyrics{track: sampleTrack()}
	d, _ := newTestDriver(fastConfig(3), host, lyr)
	editor := &fakeEditor{after: func(n int) {
		host.update(func(h *fakeHost) {
			switch n {
			case 1:
				h.pos = 26 * time.Second
			case 2:
				h.pos = 27 * time.Second
				h.paused = true
			}
		})
	}}

	if err := d.Run(context.Background(), "g1", song, editor); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if lyr.calls != 1 {
		t.Errorf("lyrics lookups = %d, want 1", lyr.calls)
	}

	frames := editor.edits()
	if len(frames) != 3 {
		t.Fatalf("edits = %d, want 3", len(frames))
	}

	first := frames[0]
	if first.Title != FrameTitle {
		t.Errorf("Title = %q", first.Title)
	}
	if first.Track != "**a**" {
		t.Errorf("Track = %q", first.Track)
	}
	if !strings.HasPrefix(first.Progress, "▶ ") || !strings.Contains(first.Progress, "[00:16/03:00]") {
		t.Errorf("Progress = %q", first.Progress)
	}
	if first.Lyrics != "**two**\n*three*" {
		t.Errorf("first Lyrics = %q", first.Lyrics)
	}
	if first.Artist != "Catbox" || first.Requester != "alice" {
		t.Errorf("Artist/Requester = %q/%q", first.Artist, first.Requester)
	}
	if first.ThumbnailURL != "https://img.example/a.jpg" {
		t.Errorf("ThumbnailURL = %q", first.ThumbnailURL)
	}

	if got := frames[1].Lyrics; got != "~~three~~\n**four**\n*five*" {
		t.Errorf("second Lyrics = %q", got)
	}
	if got := frames[2].Lyrics; got != "**four**\n*five*" {
		t.Errorf("third Lyrics = %q", got)
	}
	if !strings.HasPrefix(frames[2].Progress, "⏸ ") {
		t.Errorf("paused Progress = %q", frames[2].Progress)
	}
}

func TestRenderWithoutLyrics(t *testing.T) {
	song := queue.NewSong(source.Metadata{Title: "x", Duration: 0}, queue.Requester{}, "c", nil)
	d, _ := newTestDriver(Config{}, &fakeHost{}, nil)

	frame := d.Render(song, nil, StatusPlaying, 5*time.Second, 0)
	if frame.Lyrics != "" {
		t.Errorf("Lyrics = %q, want empty with lyrics disabled", frame.Lyrics)
	}
	if frame.Artist != "Unknown" || frame.Requester != "Unknown" {
		t.Errorf("Artist/Requester = %q/%q, want Unknown", frame.Artist, frame.Requester)
	}
	if !strings.Contains(frame.Progress, strings.Repeat(barSegment, 12)) {
		t.Errorf("Progress = %q, want an empty bar for unknown duration", frame.Progress)
	}

	d, _ = newTestDriver(Config{}, &fakeHost{}, &fakeLyrics{})
	if got := d.Render(song, nil, StatusPlaying, 5*time.Second, 0).Lyrics; got != NoLyricsText {
		t.Errorf("Lyrics = %q, want %q", got, NoLyricsText)
	}
}

func TestPacer(t *testing.T) {
	p := newPacer(5*time.Second, 10*time.Second)

	want := []time.Duration{15 * time.Second, 25 * time.Second, 35 * time.Second, 35 * time.Second}
	for i, w := range want {
		p.rateLimited()
		if p.interval != w {
			t.Fatalf("after %d rate limits interval = %v, want %v", i+1, p.interval, w)
		}
	}

	want = []time.Duration{30 * time.Second, 25 * time.Second}
	for i, w := range want {
		p.success()
		if p.interval != w {
			t.Fatalf("after %d successes interval = %v, want %v", i+1, p.interval, w)
		}
	}
	for i := 0; i < 10; i++ {
		p.success()
	}
	if p.interval != 5*time.Second {
		t.Errorf("interval = %v, want base 5s", p.interval)
	}
}
