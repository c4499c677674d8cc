package lyrics

import (
	"strings"

	"github.com/samber/lo"
)

// Match scores.
const (
	scoreTitleContains  = 10
	scoreTitleWord      = 5
	scoreArtistContains = 8
	scoreArtistWord     = 3
	scorePopular        = 1

	popularityThreshold = 50
	minMatchScore       = 5
)

// FindBestMatch picks the search result closest to the requested title and
// artist. When nothing scores at least minMatchScore the first result wins.
func FindBestMatch(songs []SearchSong, title, artist string) (SearchSong, bool) {
	if len(songs) == 0 {
		return SearchSong{}, false
	}
	if len(songs) == 1 {
		return songs[0], true
	}

	title = strings.ToLower(title)
	artist = strings.ToLower(artist)

	best, bestScore := songs[0], 0
	for _, song := range songs {
		if score := matchScore(song, title, artist); score > bestScore {
			best, bestScore = song, score
		}
	}
	if bestScore >= minMatchScore {
		return best, true
	}
	return songs[0], true
}

func matchScore(song SearchSong, title, artist string) int {
	score := 0
	name := strings.ToLower(song.Name)

	switch {
	case strings.Contains(name, title) || strings.Contains(title, name):
		score += scoreTitleContains
	case containsAnyWord(name, title):
		score += scoreTitleWord
	}

	if artist != "" {
		for _, a := range song.Artists {
			an := strings.ToLower(a.Name)
			if strings.Contains(an, artist) || strings.Contains(artist, an) {
				score += scoreArtistContains
				break
			}
			if containsAnyWord(an, artist) {
				score += scoreArtistWord
				break
			}
		}
	}

	if song.Popularity > popularityThreshold {
		score += scorePopular
	}
	return score
}

// containsAnyWord reports whether any whitespace-separated word of words is
// a substring of s.
func containsAnyWord(s, words string) bool {
	return lo.SomeBy(strings.Fields(words), func(w string) bool {
		return strings.Contains(s, w)
	})
}
