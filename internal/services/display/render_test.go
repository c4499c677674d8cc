package display

import (
	"strings"
	"testing"
	"time"

	"songbird/internal/services/lyrics"
)

func TestProgressBar(t *testing.T) {
	knobAt := func(i, length int) string {
		return strings.Repeat(barSegment, i) + barKnob + strings.Repeat(barSegment, length-i-1)
	}

	tests := []struct {
		name           string
		current, total time.Duration
		want           string
	}{
		{"unknown total", 30 * time.Second, 0, strings.Repeat(barSegment, 12)},
		{"start", 0, 100 * time.Second, knobAt(0, 12)},
		{"under one segment", 5 * time.Second, 100 * time.Second, knobAt(0, 12)},
		{"half", 50 * time.Second, 100 * time.Second, knobAt(6, 12)},
		{"almost done", 99 * time.Second, 100 * time.Second, knobAt(11, 12)},
		{"done", 100 * time.Second, 100 * time.Second, knobAt(11, 12)},
		{"past the end", 200 * time.Second, 100 * time.Second, knobAt(11, 12)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ProgressBar(tt.current, tt.total, 12)
			if got != tt.want {
				t.Errorf("ProgressBar(%v, %v) = %q, want %q", tt.current, tt.total, got, tt.want)
			}
			if n := strings.Count(got, barSegment) + strings.Count(got, barKnob); n != 12 {
				t.Errorf("bar has %d cells, want 12", n)
			}
		})
	}
}

func TestFormatTime(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00"},
		{65 * time.Second, "01:05"},
		{65*time.Second + 900*time.Millisecond, "01:05"},
		{3725 * time.Second, "01:02:05"},
	}
	for _, tt := range tests {
		if got := FormatTime(tt.in); got != tt.want {
			t.Errorf("FormatTime(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestProgressText(t *testing.T) {
	got := ProgressText(StatusPaused, 30*time.Second, 3*time.Minute, 12)
	want := "⏸ " + ProgressBar(30*time.Second, 3*time.Minute, 12) + " [00:30/03:00] 🔊"
	if got != want {
		t.Errorf("ProgressText = %q, want %q", got, want)
	}

	for status, icon := range map[Status]string{StatusPlaying: "▶", StatusPaused: "⏸", StatusStopped: "⏹"} {
		if status.Icon() != icon {
			t.Errorf("Status(%d).Icon() = %q, want %q", status, status.Icon(), icon)
		}
	}
}

func sampleTrack() *lyrics.Track {
	return lyrics.NewTrack([]lyrics.Line{
		{Timestamp: 10 * time.Second, Text: "one", Translation: "uno"},
		{Timestamp: 15 * time.Second, Text: "two"},
		{Timestamp: 20 * time.Second, Text: "three"},
		{Timestamp: 25 * time.Second, Text: "four"},
		{Timestamp: 30 * time.Second, Text: "five"},
	})
}

func TestLyricsText(t *testing.T) {
	opts := LyricsOptions{MaxLength: 200, MissedLines: 2}

	tests := []struct {
		name      string
		track     *lyrics.Track
		pos, last time.Duration
		opts      LyricsOptions
		want      string
	}{
		{
			name:  "no track",
			track: nil,
			pos:   5 * time.Second,
			opts:  opts,
			want:  NoLyricsText,
		},
		{
			name:  "empty track",
			track: lyrics.NewTrack(nil),
			pos:   5 * time.Second,
			opts:  opts,
			want:  NoLyricsText,
		},
		{
			name: "instrumental",
			track: lyrics.NewTrack([]lyrics.Line{
				{Timestamp: time.Second, Text: "作词 : someone"},
				{Timestamp: 2 * time.Second, Text: "la"},
			}),
			pos:  5 * time.Second,
			opts: opts,
			want: InstrumentalText,
		},
		{
			name:  "before the first line",
			track: sampleTrack(),
			pos:   5 * time.Second,
			opts:  opts,
			want:  "*Coming up:*\none\n*uno*",
		},
		{
			name:  "current with translation",
			track: sampleTrack(),
			pos:   12 * time.Second,
			opts:  opts,
			want:  "**one\n*uno***\n*two*",
		},
		{
			name:  "current and next",
			track: sampleTrack(),
			pos:   16 * time.Second,
			opts:  opts,
			want:  "**two**\n*three*",
		},
		{
			name:  "missed lines",
			track: sampleTrack(),
			pos:   26 * time.Second,
			last:  11 * time.Second,
			opts:  opts,
			want:  "~~two~~\n~~three~~\n**four**\n*five*",
		},
		{
			name:  "missed lines keep the newest",
			track: sampleTrack(),
			pos:   26 * time.Second,
			last:  11 * time.Second,
			opts:  LyricsOptions{MaxLength: 200, MissedLines: 1},
			want:  "~~three~~\n**four**\n*five*",
		},
		{
			name:  "last line",
			track: sampleTrack(),
			pos:   31 * time.Second,
			last:  16 * time.Second,
			opts:  opts,
			want:  "~~three~~\n~~four~~\n**five**",
		},
		{
			name:  "no missed lines going backwards",
			track: sampleTrack(),
			pos:   16 * time.Second,
			last:  26 * time.Second,
			opts:  opts,
			want:  "**two**\n*three*",
		},
		{
			name:  "truncated",
			track: sampleTrack(),
			pos:   16 * time.Second,
			opts:  LyricsOptions{MaxLength: 10},
			want:  "**two**...",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LyricsText(tt.track, tt.pos, tt.last, tt.opts)
			if got != tt.want {
				t.Errorf("LyricsText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTruncateCountsRunes(t *testing.T) {
	s := strings.Repeat("夜", 250)
	got := truncate(s, 200)
	if n := len([]rune(got)); n != 200 {
		t.Errorf("truncated to %d runes, want 200", n)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("missing ellipsis: %q", got[len(got)-6:])
	}
	if got := truncate("short", 200); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
}
