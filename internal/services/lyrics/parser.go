package lyrics

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Line is one timed lyric line.
type Line struct {
	Timestamp   time.Duration `json:"timestamp"`
	Text        string        `json:"text"`
	Translation string        `json:"translation,omitempty"`
}

var (
	timestampPattern  = regexp.MustCompile(`\[(\d{1,2}):(\d{2})(?:\.(\d{1,3}))?\]`)
	zeroMarkerPattern = regexp.MustCompile(`\[00:00\.000\]`)
	creditWords       = []string{"作词", "作曲", "编曲", "制作"}
)

const minLyricalLines = 3

// Parse reads LRC text and an optional translation in the same format. A
// line carrying several timestamps yields one Line per timestamp.
// Translations are attached by exact timestamp. The result is sorted.
func Parse(lrc, translated string) []Line {
	if strings.TrimSpace(lrc) == "" {
		return nil
	}

	lines := parseLRC(lrc)
	if strings.TrimSpace(translated) != "" {
		translations := make(map[time.Duration]string)
		for _, l := range parseLRC(translated) {
			translations[l.Timestamp] = l.Text
		}
		for i := range lines {
			lines[i].Translation = translations[lines[i].Timestamp]
		}
	}

	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].Timestamp < lines[j].Timestamp
	})
	return lines
}

func parseLRC(content string) []Line {
	var lines []Line
	for _, raw := range strings.Split(content, "\n") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		stamps := timestampPattern.FindAllStringSubmatch(raw, -1)
		if len(stamps) == 0 {
			continue
		}

		text := strings.TrimSpace(timestampPattern.ReplaceAllString(raw, ""))
		if text == "" && !isMarker(raw) {
			continue
		}
		for _, m := range stamps {
			lines = append(lines, Line{Timestamp: parseTimestamp(m[1], m[2], m[3]), Text: text})
		}
	}
	return lines
}

// parseTimestamp converts mm, ss and an optional 1-3 digit fraction. The
// fraction is right-padded to milliseconds, so ".5" is 500ms.
func parseTimestamp(mm, ss, frac string) time.Duration {
	m, _ := strconv.Atoi(mm)
	s, _ := strconv.Atoi(ss)
	d := time.Duration(m)*time.Minute + time.Duration(s)*time.Second
	if frac != "" {
		ms, _ := strconv.Atoi((frac + "00")[:3])
		d += time.Duration(ms) * time.Millisecond
	}
	return d
}

func isMarker(line string) bool {
	return zeroMarkerPattern.MatchString(line) || hasCredit(line)
}

func hasCredit(s string) bool {
	return lo.SomeBy(creditWords, func(w string) bool { return strings.Contains(s, w) })
}

// IsInstrumental reports whether lines has fewer than three lines of real
// lyrics once credits are ignored.
func IsInstrumental(lines []Line) bool {
	lyrical := lo.CountBy(lines, func(l Line) bool {
		return strings.TrimSpace(l.Text) != "" && !hasCredit(l.Text)
	})
	return lyrical < minLyricalLines
}

// Track is a parsed set of lyrics for one song.
type Track struct {
	Lines        []Line `json:"lines"`
	Instrumental bool   `json:"instrumental"`
}

// NewTrack classifies lines. The slice must be sorted by timestamp.
func NewTrack(lines []Line) *Track {
	return &Track{Lines: lines, Instrumental: IsInstrumental(lines)}
}

// currentIndex returns the index of the last line whose timestamp is at or
// before pos, or -1.
func (t *Track) currentIndex(pos time.Duration) int {
	return sort.Search(len(t.Lines), func(i int) bool {
		return t.Lines[i].Timestamp > pos
	}) - 1
}

// CurrentLine returns the line being sung at pos.
func (t *Track) CurrentLine(pos time.Duration) (Line, bool) {
	if t == nil {
		return Line{}, false
	}
	i := t.currentIndex(pos)
	if i < 0 {
		return Line{}, false
	}
	return t.Lines[i], true
}

// NextLine returns the first line starting after pos.
func (t *Track) NextLine(pos time.Duration) (Line, bool) {
	if t == nil {
		return Line{}, false
	}
	i := t.currentIndex(pos) + 1
	if i >= len(t.Lines) {
		return Line{}, false
	}
	return t.Lines[i], true
}

// LinesBetween returns the lines with last < timestamp <= cur, keeping only
// the newest limit of them. It is empty when cur <= last.
func (t *Track) LinesBetween(last, cur time.Duration, limit int) []Line {
	if t == nil || cur <= last {
		return nil
	}
	between := lo.Filter(t.Lines, func(l Line, _ int) bool {
		return l.Timestamp > last && l.Timestamp <= cur
	})
	if limit > 0 && len(between) > limit {
		between = between[len(between)-limit:]
	}
	return between
}

// Context describes the lyric neighbourhood of a playback position.
type Context struct {
	Current  *Line
	Previous []Line
	Next     []Line
	// Progress is how far pos is between the current and next line, in [0,1].
	Progress float64
	Index    int
	Total    int
}

// Context returns the current line with up to n lines either side. Next is
// filled even before the first line starts.
func (t *Track) Context(pos time.Duration, n int) Context {
	if t == nil || len(t.Lines) == 0 {
		return Context{Index: -1}
	}

	i := t.currentIndex(pos)
	ctx := Context{Index: i, Total: len(t.Lines)}

	if i >= 0 {
		cur := t.Lines[i]
		ctx.Current = &cur
		ctx.Previous = t.Lines[max(0, i-n):i]
	}
	if i+1 < len(t.Lines) {
		ctx.Next = t.Lines[i+1 : min(len(t.Lines), i+1+n)]
		if ctx.Current != nil {
			span := t.Lines[i+1].Timestamp - ctx.Current.Timestamp
			if span > 0 {
				p := float64(pos-ctx.Current.Timestamp) / float64(span)
				ctx.Progress = min(1, max(0, p))
			}
		}
	}
	return ctx
}

// FormatLine renders a line, optionally with its translation in italics on
// the following row.
func FormatLine(l Line, withTranslation bool) string {
	if l.Text == "" {
		return ""
	}
	if withTranslation && l.Translation != "" {
		return l.Text + "\n*" + l.Translation + "*"
	}
	return l.Text
}
