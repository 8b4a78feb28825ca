package textnorm

import "testing"

func TestNormalizeForMatch(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercases", "Midnight City", "midnight city"},
		{"strips feat parenthetical", "Peaches (feat. Daniel Caesar)", "peaches"},
		{"strips ft parenthetical", "Sunflower (ft. Swae Lee)", "sunflower"},
		{"strips featuring parenthetical", "Sorry (featuring Nicki Minaj)", "sorry"},
		{"strips trailing feat", "Love Me feat. Lil Wayne", "love me"},
		{"strips explicit marker", "HUMBLE. (Explicit)", "humble"},
		{"strips radio edit marker", "One More Time (Radio Edit)", "one more time"},
		{"preserves extended marker", "Levels (Extended Mix)", "levels extended mix"},
		{"preserves live marker", "Alive (Live)", "alive live"},
		{"preserves remix marker", "Around the World (Daft Punk Remix)", "around the world daft punk remix"},
		{"folds diacritics", "Beyoncé", "beyonce"},
		{"collapses punctuation", "Don't Stop Me Now!!", "don t stop me now"},
		{"collapses whitespace", "a   b\t c", "a b c"},
		{"empty result falls back", "!!!", "!!!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeForMatch(tt.input); got != tt.want {
				t.Errorf("NormalizeForMatch(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeForPathCheck(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"collapses everything", "The Beatles - Help!/07 Yesterday.flac", "thebeatleshelp07yesterdayflac"},
		{"lowercases", "M83", "m83"},
		{"folds diacritics", "Björk", "bjork"},
		{"empty input", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeForPathCheck(tt.input); got != tt.want {
				t.Errorf("NormalizeForPathCheck(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCleanYouTubeTitle(t *testing.T) {
	tests := []struct {
		name     string
		title    string
		uploader string
		want     string
	}{
		{"strips official video bracket", "Midnight City (Official Music Video)", "", "Midnight City"},
		{"strips square brackets", "Midnight City [HD]", "", "Midnight City"},
		{"strips cjk brackets", "Plastic Love【MV】", "", "Plastic Love"},
		{"strips after pipe", "Midnight City | Visualizer", "", "Midnight City"},
		{"strips after dash", "Midnight City - Official Audio", "", "Midnight City"},
		{"strips leading uploader prefix", "M83 - Midnight City", "M83", "Midnight City"},
		{"strips bare noise token", "Midnight City Official Audio", "", "Midnight City"},
		{"strips trailing feat", "Sunflower feat. Swae Lee", "", "Sunflower"},
		{"reverts when too short", "(Official Video)", "", "(Official Video)"},
		{"keeps plain title", "Midnight City", "", "Midnight City"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanYouTubeTitle(tt.title, tt.uploader); got != tt.want {
				t.Errorf("CleanYouTubeTitle(%q, %q) = %q, want %q", tt.title, tt.uploader, got, tt.want)
			}
		})
	}
}

func TestCleanUploader(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"strips vevo suffix", "M83VEVO", "M83"},
		{"strips topic suffix", "M83 - Topic", "M83"},
		{"keeps plain name", "M83", "M83"},
		{"all noise falls back", "  ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanUploader(tt.input); got != tt.want {
				t.Errorf("CleanUploader(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestStripParentheticals(t *testing.T) {
	if got := StripParentheticals("Levels (Extended Mix) [2011]"); got != "Levels" {
		t.Errorf("expected Levels, got %q", got)
	}
}
