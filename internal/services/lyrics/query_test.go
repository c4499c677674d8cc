package lyrics

import "testing"

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Never Gonna Give You Up (Official Music Video)", "Never Gonna Give You Up"},
		{"Song Name [Official Audio]", "Song Name"},
		{"Track - Official Video", "Track"},
		{"Hello (Lyrics)", "Hello"},
		{"Hello [Lyric Video]", "Hello"},
		{"Tune (feat. Someone Else)", "Tune"},
		{"Tune (ft. Other)", "Tune"},
		{"Classic (Remastered 2011)", "Classic"},
		{"Clip (HD)", "Clip"},
		{"Anthem (Live)", "Anthem"},
		{"Artist - Topic", "Artist"},
		{"【MV】夜に駆ける", "夜に駆ける"},
		{"  spaced    out   ", "spaced out"},
		{"", ""},
		{"Plain Title", "Plain Title"},
	}
	for _, tt := range tests {
		if got := CleanTitle(tt.in); got != tt.want {
			t.Errorf("CleanTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConstructQuery(t *testing.T) {
	tests := []struct {
		title, artist, want string
	}{
		{"Shape of You", "Ed Sheeran", "Shape of You - Ed Sheeran"},
		{"Ed Sheeran - Shape of You", "Ed Sheeran", "Ed Sheeran - Shape of You"},
		{"Adele Hello", "adele", "Adele Hello"},
		{"Hello", "", "Hello"},
		{"", "Adele", "Adele"},
		{"Sheeran Shape of You", "Ed Sheeran", "Sheeran Shape of You"},
		{"Thunderstruck by AC/DC", "AC/DC", "Thunderstruck by AC/DC"},
	}
	for _, tt := range tests {
		if got := ConstructQuery(tt.title, tt.artist); got != tt.want {
			t.Errorf("ConstructQuery(%q, %q) = %q, want %q", tt.title, tt.artist, got, tt.want)
		}
	}
}

func TestArtistInTitleIgnoresShortAndStopWords(t *testing.T) {
	if !artistInTitle("roots live with the band", "the roots") {
		t.Error("significant words present should match")
	}
	if artistInTitle("b c a", "a b") {
		t.Error("artist with no significant words should not match by word")
	}
}
