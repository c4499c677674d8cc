package display

import (
	"strings"
	"time"
	"unicode/utf8"

	"songbird/internal/services/lyrics"
	"songbird/internal/services/source"

	"github.com/samber/lo"
)

const (
	barSegment = "▬"
	barKnob    = "🔘"

	NoLyricsText     = "*No lyrics available at this time*"
	InstrumentalText = "*♪ Instrumental ♪*"
)

// Status is the playback state shown next to the progress bar.
type Status int

const (
	StatusStopped Status = iota
	StatusPlaying
	StatusPaused
)

func (s Status) Icon() string {
	switch s {
	case StatusPlaying:
		return "▶"
	case StatusPaused:
		return "⏸"
	default:
		return "⏹"
	}
}

// ProgressBar draws a bar of length segments with a knob at the current
// position. An unknown total draws the bar without a knob.
func ProgressBar(current, total time.Duration, length int) string {
	if total <= 0 {
		return strings.Repeat(barSegment, length)
	}

	progress := min(float64(current)/float64(total), 1)
	filled := int(progress * float64(length))

	switch {
	case filled <= 0:
		return barKnob + strings.Repeat(barSegment, length-1)
	case filled >= length:
		return strings.Repeat(barSegment, length-1) + barKnob
	default:
		return strings.Repeat(barSegment, filled) + barKnob + strings.Repeat(barSegment, length-filled-1)
	}
}

// FormatTime renders d as MM:SS, or HH:MM:SS from one hour up.
func FormatTime(d time.Duration) string {
	return source.FormatSeconds(int(d / time.Second))
}

// ProgressText is the status line: icon, bar and elapsed/total time.
func ProgressText(status Status, current, total time.Duration, length int) string {
	return status.Icon() + " " + ProgressBar(current, total, length) +
		" [" + FormatTime(current) + "/" + FormatTime(total) + "] 🔊"
}

// LyricsOptions bound the lyric block.
type LyricsOptions struct {
	MaxLength   int
	MissedLines int
}

// LyricsText renders the lyric block for pos. Lines sung since last, other
// than the current one, are struck through so fast passages are not lost
// between updates. last <= 0 means there was no earlier update.
func LyricsText(track *lyrics.Track, pos, last time.Duration, opts LyricsOptions) string {
	if track == nil || len(track.Lines) == 0 {
		return NoLyricsText
	}
	if track.Instrumental {
		return InstrumentalText
	}

	lc := track.Context(pos, 1)
	var parts []string

	if last > 0 && pos > last {
		missed := track.LinesBetween(last, pos, 0)
		if lc.Current != nil {
			missed = lo.Reject(missed, func(l lyrics.Line, _ int) bool {
				return l.Timestamp == lc.Current.Timestamp
			})
		}
		if opts.MissedLines > 0 && len(missed) > opts.MissedLines {
			missed = missed[len(missed)-opts.MissedLines:]
		}
		for _, l := range missed {
			if text := lyrics.FormatLine(l, false); text != "" {
				parts = append(parts, "~~"+text+"~~")
			}
		}
	}

	if lc.Current == nil {
		if len(lc.Next) > 0 {
			parts = append(parts, "*Coming up:*\n"+lyrics.FormatLine(lc.Next[0], true))
		} else if len(parts) == 0 {
			return NoLyricsText
		}
	} else {
		if text := lyrics.FormatLine(*lc.Current, true); text != "" {
			parts = append(parts, "**"+text+"**")
		}
		if len(lc.Next) > 0 {
			if text := lyrics.FormatLine(lc.Next[0], false); text != "" {
				parts = append(parts, "*"+text+"*")
			}
		}
	}

	if len(parts) == 0 {
		return InstrumentalText
	}
	return truncate(strings.Join(parts, "\n"), opts.MaxLength)
}

// truncate shortens s to limit runes, ending in "...".
func truncate(s string, limit int) string {
	if limit <= 3 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-3]) + "..."
}
