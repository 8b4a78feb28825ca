package matching

import (
	"testing"

	"github.com/mkdw/soulsync/internal/models"
)

func TestScore(t *testing.T) {
	t.Run("exact match", func(t *testing.T) {
		r := Score(
			TrackMeta{Title: "Midnight City", Artist: "M83"},
			TrackMeta{Title: "Midnight City", Artist: "M83"},
			ScoreOptions{},
		)
		if r.Confidence < ThresholdExact {
			t.Errorf("expected exact confidence, got %f", r.Confidence)
		}
		if r.Type != models.MatchExact {
			t.Errorf("expected exact match type, got %s", r.Type)
		}
	})

	t.Run("featuring credit is ignored", func(t *testing.T) {
		r := Score(
			TrackMeta{Title: "Sunflower", Artist: "Post Malone"},
			TrackMeta{Title: "Sunflower (feat. Swae Lee)", Artist: "Post Malone"},
			ScoreOptions{},
		)
		if r.Type != models.MatchExact {
			t.Errorf("expected exact after feat strip, got %s (%f)", r.Type, r.Confidence)
		}
	})

	t.Run("different track scores none", func(t *testing.T) {
		r := Score(
			TrackMeta{Title: "Target Song", Artist: "Target Artist"},
			TrackMeta{Title: "Different Song", Artist: "Other Artist"},
			ScoreOptions{},
		)
		if r.Type == models.MatchExact || r.Type == models.MatchHigh {
			t.Errorf("unrelated tracks should not score high, got %s (%f)", r.Type, r.Confidence)
		}
	})

	t.Run("remix penalized against original", func(t *testing.T) {
		original := Score(
			TrackMeta{Title: "Around the World", Artist: "Daft Punk"},
			TrackMeta{Title: "Around the World", Artist: "Daft Punk"},
			ScoreOptions{VersionAware: true},
		)
		remix := Score(
			TrackMeta{Title: "Around the World", Artist: "Daft Punk"},
			TrackMeta{Title: "Around the World (Club Remix)", Artist: "Daft Punk"},
			ScoreOptions{VersionAware: true},
		)
		if remix.VersionType != models.VersionRemix {
			t.Errorf("expected remix version type, got %s", remix.VersionType)
		}
		if remix.VersionPenalty != 0.35 {
			t.Errorf("expected 0.35 remix penalty, got %f", remix.VersionPenalty)
		}
		if remix.Effective() >= original.Effective() {
			t.Error("remix should score below original")
		}
	})

	t.Run("matching versions carry no penalty", func(t *testing.T) {
		r := Score(
			TrackMeta{Title: "One More Time (Remix)", Artist: "Daft Punk"},
			TrackMeta{Title: "One More Time (Remix)", Artist: "Daft Punk"},
			ScoreOptions{VersionAware: true},
		)
		if r.VersionPenalty != 0 {
			t.Errorf("expected no penalty for matching versions, got %f", r.VersionPenalty)
		}
	})

	t.Run("extended vs original penalty is small", func(t *testing.T) {
		r := Score(
			TrackMeta{Title: "Levels", Artist: "Avicii"},
			TrackMeta{Title: "Levels (Extended Mix)", Artist: "Avicii"},
			ScoreOptions{VersionAware: true},
		)
		if r.VersionPenalty != 0.05 {
			t.Errorf("expected 0.05 extended penalty, got %f", r.VersionPenalty)
		}
	})

	t.Run("duration bonus when close", func(t *testing.T) {
		base := Score(
			TrackMeta{Title: "Song A B C", Artist: "Artist"},
			TrackMeta{Title: "Song A B", Artist: "Artist"},
			ScoreOptions{},
		)
		bonused := Score(
			TrackMeta{Title: "Song A B C", Artist: "Artist", DurationMS: 240_000},
			TrackMeta{Title: "Song A B", Artist: "Artist", DurationMS: 241_000},
			ScoreOptions{},
		)
		if bonused.Confidence <= base.Confidence {
			t.Error("close durations should add a bonus")
		}
	})

	t.Run("missing duration applies nothing", func(t *testing.T) {
		with := Score(
			TrackMeta{Title: "Song A B C", Artist: "Artist", DurationMS: 240_000},
			TrackMeta{Title: "Song A B", Artist: "Artist"},
			ScoreOptions{},
		)
		without := Score(
			TrackMeta{Title: "Song A B C", Artist: "Artist"},
			TrackMeta{Title: "Song A B", Artist: "Artist"},
			ScoreOptions{},
		)
		if with.Confidence != without.Confidence {
			t.Error("absent duration must not apply a bonus or penalty")
		}
	})

	t.Run("empty expected artist compares title only", func(t *testing.T) {
		r := Score(
			TrackMeta{Title: "Midnight City"},
			TrackMeta{Title: "Midnight City", Artist: "Somebody"},
			ScoreOptions{},
		)
		if r.Confidence != 1.0 {
			t.Errorf("expected title-only 1.0, got %f", r.Confidence)
		}
	})
}

func TestArtistSimilaritySymmetry(t *testing.T) {
	a := ArtistSimilarity("The Beatles", "Beatles")
	b := ArtistSimilarity("Beatles", "The Beatles")
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	if diff > 0.15 {
		t.Errorf("artist similarity should be near-symmetric: %f vs %f", a, b)
	}
}

func TestArtistSimilarityMultipleArtists(t *testing.T) {
	sim := ArtistSimilarity("Swae Lee", "Post Malone, Swae Lee")
	if sim < 0.99 {
		t.Errorf("expected artist token match, got %f", sim)
	}

	sim = ArtistSimilarity("Daniel Caesar", "Justin Bieber feat. Daniel Caesar & Giveon")
	if sim < 0.99 {
		t.Errorf("expected feat-split token match, got %f", sim)
	}
}

func TestDetectVersion(t *testing.T) {
	tests := []struct {
		title string
		want  models.VersionType
	}{
		{"Midnight City", models.VersionOriginal},
		{"Midnight City (Eric Prydz Remix)", models.VersionRemix},
		{"Levels (Extended Mix)", models.VersionExtended},
		{"Alive (Live at Wembley)", models.VersionLive},
		{"Yesterday (Acoustic)", models.VersionAcoustic},
		{"Harder Better (Instrumental)", models.VersionInstrumental},
		{"One More Time (Radio Edit)", models.VersionRadioEdit},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			if got := DetectVersion(tt.title); got != tt.want {
				t.Errorf("DetectVersion(%q) = %s, want %s", tt.title, got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		confidence float64
		want       models.MatchType
	}{
		{0.97, models.MatchExact},
		{0.95, models.MatchExact},
		{0.85, models.MatchHigh},
		{0.70, models.MatchMedium},
		{0.55, models.MatchLow},
		{0.40, models.MatchNone},
	}
	for _, tt := range tests {
		if got := Classify(tt.confidence); got != tt.want {
			t.Errorf("Classify(%f) = %s, want %s", tt.confidence, got, tt.want)
		}
	}
}
