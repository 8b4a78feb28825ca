package matching

import (
	"testing"

	"github.com/mkdw/soulsync/internal/models"
)

func TestVerifyCandidates(t *testing.T) {
	t.Run("wrong artist dropped by path check", func(t *testing.T) {
		results := []models.Candidate{
			{Filename: "Boyz II Men/Covers/Yesterday.mp3", Username: "bob", Quality: models.QualityMP3, BitrateKbps: 320},
			{Filename: "Beatles/Help/Yesterday.flac", Username: "alice", Quality: models.QualityFLAC},
		}

		verified := VerifyCandidates(results, "Yesterday", "The Beatles", PreferAny)
		if len(verified) != 1 {
			t.Fatalf("expected 1 candidate, got %d: %+v", len(verified), verified)
		}
		if verified[0].Username != "alice" {
			t.Errorf("expected alice's file to survive, got %s", verified[0].Username)
		}
	})

	t.Run("leading article not required in path", func(t *testing.T) {
		// Shares commonly file "The Beatles" under "Beatles" and vice versa;
		// neither spelling may defeat the artist-in-path guard.
		tests := []struct {
			artist   string
			filename string
		}{
			{"The Beatles", "Beatles/Help/Yesterday.flac"},
			{"Beatles", "The Beatles/Help/Yesterday.flac"},
		}
		for _, tt := range tests {
			verified := VerifyCandidates(
				[]models.Candidate{{Filename: tt.filename, Username: "alice"}},
				"Yesterday", tt.artist, PreferAny)
			if len(verified) != 1 {
				t.Errorf("artist %q vs path %q: expected 1 candidate, got %d",
					tt.artist, tt.filename, len(verified))
			}
		}
	})

	t.Run("low confidence dropped", func(t *testing.T) {
		results := []models.Candidate{
			{Filename: "M83/Hurry Up/01 Midnight City.flac", Username: "alice"},
			{Filename: "M83/Other/Zzz.flac", Username: "carol"},
		}

		verified := VerifyCandidates(results, "Midnight City", "M83", PreferAny)
		if len(verified) != 1 {
			t.Fatalf("expected 1 candidate, got %d", len(verified))
		}
		if verified[0].Username != "alice" {
			t.Errorf("expected alice's file, got %s", verified[0].Username)
		}
	})

	t.Run("sorted by effective confidence", func(t *testing.T) {
		results := []models.Candidate{
			{Filename: "M83/Remixes/Midnight City (Eric Prydz Remix).mp3", Username: "bob", BitrateKbps: 320},
			{Filename: "M83/Hurry Up/01 Midnight City.flac", Username: "alice"},
		}

		verified := VerifyCandidates(results, "Midnight City", "M83", PreferAny)
		if len(verified) != 2 {
			t.Fatalf("expected 2 candidates, got %d", len(verified))
		}
		if verified[0].Username != "alice" {
			t.Errorf("original should sort ahead of remix, got %s first", verified[0].Username)
		}
		if verified[1].VersionType != models.VersionRemix {
			t.Errorf("expected remix version tag, got %s", verified[1].VersionType)
		}
	})

	t.Run("quality preference filters", func(t *testing.T) {
		results := []models.Candidate{
			{Filename: "M83/rips/Midnight City.mp3", Username: "bob", BitrateKbps: 320},
			{Filename: "M83/Hurry Up/Midnight City.flac", Username: "alice"},
		}

		verified := VerifyCandidates(results, "Midnight City", "M83", PreferFLAC)
		if len(verified) != 1 {
			t.Fatalf("expected 1 flac candidate, got %d", len(verified))
		}
		if verified[0].Quality != models.QualityFLAC {
			t.Errorf("expected flac, got %s", verified[0].Quality)
		}
	})

	t.Run("quality fallback never drops to zero", func(t *testing.T) {
		results := []models.Candidate{
			{Filename: "M83/rips/Midnight City.mp3", Username: "bob", BitrateKbps: 192},
		}

		verified := VerifyCandidates(results, "Midnight City", "M83", PreferFLAC)
		if len(verified) != 1 {
			t.Fatalf("preferred tier empty should fall back to full list, got %d", len(verified))
		}
	})

	t.Run("quality derived from extension", func(t *testing.T) {
		results := []models.Candidate{
			{Filename: "M83/Hurry Up/Midnight City.flac", Username: "alice"},
		}
		verified := VerifyCandidates(results, "Midnight City", "M83", PreferAny)
		if len(verified) != 1 || verified[0].Quality != models.QualityFLAC {
			t.Fatalf("expected flac derived from extension: %+v", verified)
		}
	})
}

func TestCandidateTitle(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"M83/Hurry Up/01 Midnight City.flac", "Midnight City"},
		{`Music\M83\01 - Midnight City.mp3`, "Midnight City"},
		{"a/b/Midnight_City.ogg", "Midnight City"},
		{"Midnight City.flac", "Midnight City"},
	}
	for _, tt := range tests {
		if got := CandidateTitle(tt.filename); got != tt.want {
			t.Errorf("CandidateTitle(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}

func TestParseQualityPreference(t *testing.T) {
	if ParseQualityPreference("FLAC") != PreferFLAC {
		t.Error("expected flac preference")
	}
	if ParseQualityPreference("bogus") != PreferAny {
		t.Error("unknown preference should default to any")
	}
}
