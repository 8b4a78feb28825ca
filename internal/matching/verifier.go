package matching

import (
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/mkdw/soulsync/internal/models"
	"github.com/mkdw/soulsync/internal/textnorm"
)

// QualityPreference selects which quality tier the verifier prefers.
type QualityPreference string

const (
	PreferFLAC   QualityPreference = "flac"
	PreferMP3320 QualityPreference = "mp3_320"
	PreferMP3256 QualityPreference = "mp3_256"
	PreferAny    QualityPreference = "any"
)

// ParseQualityPreference maps a config string to a QualityPreference, defaulting to any.
func ParseQualityPreference(s string) QualityPreference {
	switch QualityPreference(strings.ToLower(strings.TrimSpace(s))) {
	case PreferFLAC:
		return PreferFLAC
	case PreferMP3320:
		return PreferMP3320
	case PreferMP3256:
		return PreferMP3256
	default:
		return PreferAny
	}
}

var leadingTrackNumberRe = regexp.MustCompile(`^\d{1,3}[\s._-]+`)

// CandidateTitle derives a comparable title from a peer-reported file path:
// basename without extension, leading track numbers removed, underscores
// replaced with spaces.
func CandidateTitle(filename string) string {
	name := strings.ReplaceAll(filename, "\\", "/")
	base := path.Base(name)
	base = strings.TrimSuffix(base, path.Ext(base))
	base = leadingTrackNumberRe.ReplaceAllString(base, "")
	base = strings.ReplaceAll(base, "_", " ")
	return strings.TrimSpace(base)
}

// VerifyCandidates scores, filters, and orders raw search results for one query.
//
// Results below the low-confidence floor are dropped, survivors are sorted by
// effective confidence, then reduced by the strict artist-in-path check and the
// configured quality preference. The quality filter never drops to zero: when
// the preferred tier is empty the full verified list is returned. The head of
// the returned slice is the next candidate to try.
func VerifyCandidates(results []models.Candidate, expectedTitle, expectedArtist string, pref QualityPreference) []models.Candidate {
	expected := TrackMeta{Title: expectedTitle, Artist: expectedArtist}

	scored := make([]models.Candidate, 0, len(results))
	for _, c := range results {
		candidate := TrackMeta{
			Title:  CandidateTitle(c.Filename),
			Artist: candidateArtist(c.Filename),
		}
		r := Score(expected, candidate, ScoreOptions{VersionAware: true})
		c.Confidence = r.Confidence
		c.VersionType = r.VersionType
		c.VersionPenalty = r.VersionPenalty
		if c.Quality == "" || c.Quality == models.QualityUnknown {
			c.Quality = models.QualityFromFilename(c.Filename)
		}
		if c.Confidence-c.VersionPenalty < ThresholdLow {
			continue
		}
		scored = append(scored, c)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Confidence-scored[i].VersionPenalty > scored[j].Confidence-scored[j].VersionPenalty
	})

	verified := filterArtistInPath(scored, expectedArtist)
	return filterQuality(verified, pref)
}

// candidateArtist folds the directory part of a peer-reported path into a
// comparable artist string; peers usually share "Artist/Album/NN Track.ext".
func candidateArtist(filename string) string {
	name := strings.ReplaceAll(filename, "\\", "/")
	dir := path.Dir(name)
	if dir == "." || dir == "/" {
		return ""
	}
	return strings.TrimSpace(strings.ReplaceAll(dir, "/", " "))
}

// filterArtistInPath keeps only candidates whose peer-reported path contains
// the expected artist under aggressive normalization. This is the primary
// guard against the daemon returning the right song by a different artist.
func filterArtistInPath(candidates []models.Candidate, expectedArtist string) []models.Candidate {
	needle := textnorm.NormalizeForPathCheck(expectedArtist)
	// Peers routinely file "The Beatles" under "Beatles"; a path containing
	// the full needle also contains the article-free one, so the shorter
	// needle covers both spellings.
	if trimmed := strings.TrimPrefix(needle, "the"); trimmed != "" {
		needle = trimmed
	}
	if needle == "" {
		return candidates
	}

	kept := make([]models.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if strings.Contains(textnorm.NormalizeForPathCheck(c.Filename), needle) {
			kept = append(kept, c)
		}
	}
	return kept
}

// filterQuality keeps the tier matching the preference, falling back to the
// full list when the preferred tier is empty.
func filterQuality(candidates []models.Candidate, pref QualityPreference) []models.Candidate {
	if pref == PreferAny || pref == "" {
		return candidates
	}

	matches := func(c models.Candidate) bool {
		switch pref {
		case PreferFLAC:
			return c.Quality == models.QualityFLAC
		case PreferMP3320:
			return c.Quality == models.QualityMP3 && c.BitrateKbps >= 320
		case PreferMP3256:
			return c.Quality == models.QualityMP3 && c.BitrateKbps >= 256
		default:
			return true
		}
	}

	preferred := make([]models.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if matches(c) {
			preferred = append(preferred, c)
		}
	}
	if len(preferred) == 0 {
		return candidates
	}
	return preferred
}
