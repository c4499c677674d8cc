package lyrics

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"
)

// titleNoise matches decorations that video titles carry but song databases
// do not. Order matters: bracketed tags go before bare separators.
var titleNoise = lo.Map([]string{
	`\s*[\(\[\{]\s*official\s+(?:music\s+)?video\s*[\)\]\}]\s*`,
	`\s*[\(\[\{]\s*official\s+audio\s*[\)\]\}]\s*`,
	`\s*[\(\[\{]\s*official\s*[\)\]\}]\s*`,
	`\s*-\s*official\s+(?:music\s+)?video\s*`,
	`\s*-\s*official\s+audio\s*`,
	`\s*-\s*official\s*`,

	`\s*[\(\[\{]\s*lyric\s+video\s*[\)\]\}]\s*`,
	`\s*[\(\[\{]\s*lyrics?\s*[\)\]\}]\s*`,
	`\s*[\(\[\{]\s*with\s+lyrics?\s*[\)\]\}]\s*`,

	`\s*[\(\[\{]\s*live\s+(?:performance|version|at)[^)]*[\)\]\}]\s*`,
	`\s*[\(\[\{]\s*live\s*[\)\]\}]\s*`,

	`\s*[\(\[\{]\s*(?:remix|extended|radio|clean|explicit)(?:\s+(?:version|edit))?\s*[\)\]\}]\s*`,
	`\s*[\(\[\{]\s*remaster(?:ed)?(?:\s*\d{4})?\s*[\)\]\}]\s*`,

	`\s*[\(\[\{]\s*feat\.?\s+[^)]*[\)\]\}]\s*`,
	`\s*[\(\[\{]\s*ft\.?\s+[^)]*[\)\]\}]\s*`,
	`\s*[\(\[\{]\s*featuring\s+[^)]*[\)\]\}]\s*`,

	`\s*[\(\[\{]\s*(?:hd|hq|4k|1080p|720p)\s*[\)\]\}]\s*`,
	`\s*[\(\[\{]\s*(?:19|20)\d{2}\s*[\)\]\}]\s*`,
	`\s*[\(\[\{]\s*(?:records?|music|entertainment)\s*[\)\]\}]\s*`,

	`\s*-\s*topic\s*$`,

	`【[^】]*】`,
	`「[^」]*」`,
	`『[^』]*』`,

	`\s*[-–—]+\s*$`,
	`^\s*[-–—]+\s*`,
}, func(p string, _ int) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + p)
})

var (
	whitespace   = regexp.MustCompile(`\s+`)
	edgeNonWord  = regexp.MustCompile(`^[^\p{L}\p{N}_]+|[^\p{L}\p{N}_]+$`)
	nonWordChars = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
)

var stopWords = []string{"the", "and", "or", "of"}

// CleanTitle strips video-title decorations so the remainder can be used as
// a song search query.
func CleanTitle(title string) string {
	cleaned := strings.TrimSpace(title)
	if cleaned == "" {
		return ""
	}
	for _, re := range titleNoise {
		cleaned = re.ReplaceAllString(cleaned, " ")
	}
	cleaned = strings.TrimSpace(whitespace.ReplaceAllString(cleaned, " "))
	return edgeNonWord.ReplaceAllString(cleaned, "")
}

func normalize(s string) string {
	s = nonWordChars.ReplaceAllString(strings.ToLower(s), " ")
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// ConstructQuery appends the artist to an already cleaned title unless the
// title already names them.
func ConstructQuery(title, artist string) string {
	artist = strings.TrimSpace(artist)
	title = strings.TrimSpace(title)
	if artist == "" {
		return title
	}
	if title == "" {
		return artist
	}
	if artistInTitle(normalize(title), normalize(artist)) {
		return title
	}
	return title + " - " + artist
}

func artistInTitle(title, artist string) bool {
	if strings.Contains(title, artist) {
		return true
	}

	artistWords := strings.Fields(artist)
	if len(artistWords) > 1 {
		significant := lo.Filter(artistWords, func(w string, _ int) bool {
			return utf8.RuneCountInString(w) > 2 && !lo.Contains(stopWords, w)
		})
		return len(significant) > 0 && lo.EveryBy(significant, func(w string) bool {
			return strings.Contains(title, w)
		})
	}
	return lo.Contains(strings.Fields(title), artist)
}
