// package matching scores track similarity and builds search queries for the
// acquisition pipeline.
//
// The scorer weighs normalized title similarity (0.6) against artist similarity
// (0.4), corroborated by small album and duration bonuses, and penalizes
// cross-version matches (expected original vs. candidate remix, etc).
package matching

import (
	"regexp"
	"sort"
	"strings"

	"github.com/mkdw/soulsync/internal/models"
	"github.com/mkdw/soulsync/internal/textnorm"
	"github.com/pmezard/go-difflib/difflib"
)

// Classification thresholds reused by downstream gates; MatchHigh is the
// library-existence threshold.
const (
	ThresholdExact  = 0.95
	ThresholdHigh   = 0.80
	ThresholdMedium = 0.65
	ThresholdLow    = 0.50
)

// TrackMeta is one side of a similarity comparison.
type TrackMeta struct {
	Title      string
	Artist     string
	Album      string
	DurationMS int
}

// ScoreOptions controls scorer behavior.
type ScoreOptions struct {
	// VersionAware enables version detection and the cross-version penalty.
	VersionAware bool
}

// MatchResult is the scorer's output. Confidence excludes the version penalty;
// Effective subtracts it, and classification is computed on the effective value.
type MatchResult struct {
	Confidence     float64
	Type           models.MatchType
	VersionType    models.VersionType
	VersionPenalty float64
}

// Effective returns the confidence with the version penalty applied, floored at 0.
func (r MatchResult) Effective() float64 {
	e := r.Confidence - r.VersionPenalty
	if e < 0 {
		return 0
	}
	return e
}

// versionPenalties maps (expected, candidate) version pairs to score penalties.
// Lookups fall back to the transposed pair, then to a flat mismatch penalty.
var versionPenalties = map[[2]models.VersionType]float64{
	{models.VersionOriginal, models.VersionExtended}:     0.05,
	{models.VersionOriginal, models.VersionRemix}:        0.35,
	{models.VersionOriginal, models.VersionLive}:         0.25,
	{models.VersionOriginal, models.VersionAcoustic}:     0.20,
	{models.VersionOriginal, models.VersionInstrumental}: 0.30,
	{models.VersionExtended, models.VersionRemix}:        0.35,
	{models.VersionExtended, models.VersionLive}:         0.30,
	{models.VersionExtended, models.VersionAcoustic}:     0.25,
	{models.VersionExtended, models.VersionInstrumental}: 0.30,
	{models.VersionRemix, models.VersionLive}:            0.35,
	{models.VersionRemix, models.VersionAcoustic}:        0.30,
	{models.VersionRemix, models.VersionInstrumental}:    0.30,
}

const defaultVersionPenalty = 0.30

var (
	remixRe        = regexp.MustCompile(`(?i)\b(remix|rmx|bootleg|rework|edit)\b`)
	instrumentalRe = regexp.MustCompile(`(?i)\binstrumental\b`)
	acousticRe     = regexp.MustCompile(`(?i)\b(acoustic|unplugged)\b`)
	extendedRe     = regexp.MustCompile(`(?i)\b(extended|club mix)\b`)
	liveRe         = regexp.MustCompile(`(?i)\blive\b`)
	radioEditRe    = regexp.MustCompile(`(?i)\bradio (edit|version|mix)\b`)

	artistSplitRe = regexp.MustCompile(`(?i)\s*(?:,|&|\+|\bfeat\.?\b|\bft\.?\b|\bfeaturing\b|\bvs\.?\b|\bx\b)\s*`)
)

// DetectVersion classifies a raw title by its version markers.
//
// Scanned on the raw title, not the normalized one, because match normalization
// strips radio-edit markers. A radio edit counts as original for penalties.
func DetectVersion(rawTitle string) models.VersionType {
	switch {
	case radioEditRe.MatchString(rawTitle):
		return models.VersionRadioEdit
	case remixRe.MatchString(rawTitle):
		return models.VersionRemix
	case instrumentalRe.MatchString(rawTitle):
		return models.VersionInstrumental
	case acousticRe.MatchString(rawTitle):
		return models.VersionAcoustic
	case extendedRe.MatchString(rawTitle):
		return models.VersionExtended
	case liveRe.MatchString(rawTitle):
		return models.VersionLive
	default:
		return models.VersionOriginal
	}
}

// versionPenalty returns the penalty for a candidate of version c against an expected version e.
func versionPenalty(e, c models.VersionType) float64 {
	if e == models.VersionRadioEdit || e == models.VersionUnknown {
		e = models.VersionOriginal
	}
	if c == models.VersionRadioEdit || c == models.VersionUnknown {
		c = models.VersionOriginal
	}
	if e == c {
		return 0
	}
	if p, ok := versionPenalties[[2]models.VersionType{e, c}]; ok {
		return p
	}
	if p, ok := versionPenalties[[2]models.VersionType{c, e}]; ok {
		return p
	}
	return defaultVersionPenalty
}

// Score compares two (title, artist, album, duration) tuples and returns a
// similarity in [0,1] with a match-type tag.
func Score(expected, candidate TrackMeta, opts ScoreOptions) MatchResult {
	titleSim := TitleSimilarity(expected.Title, candidate.Title)
	artistSim := ArtistSimilarity(expected.Artist, candidate.Artist)

	var confidence float64
	if strings.TrimSpace(expected.Artist) == "" {
		// Title-only comparison when the expected artist is unknown.
		confidence = titleSim
	} else {
		confidence = 0.6*titleSim + 0.4*artistSim
	}

	if expected.Album != "" && candidate.Album != "" {
		confidence += 0.05 * stringSimilarity(
			textnorm.NormalizeForMatch(expected.Album),
			textnorm.NormalizeForMatch(candidate.Album),
		)
	}
	if expected.DurationMS > 0 && candidate.DurationMS > 0 {
		confidence += durationBonus(expected.DurationMS, candidate.DurationMS)
	}

	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}

	result := MatchResult{Confidence: confidence, VersionType: models.VersionOriginal}
	if opts.VersionAware {
		expectedVersion := DetectVersion(expected.Title)
		result.VersionType = DetectVersion(candidate.Title)
		result.VersionPenalty = versionPenalty(expectedVersion, result.VersionType)
	}
	result.Type = Classify(result.Effective())
	return result
}

// Classify buckets a confidence into the match-type tiers.
func Classify(confidence float64) models.MatchType {
	switch {
	case confidence >= ThresholdExact:
		return models.MatchExact
	case confidence >= ThresholdHigh:
		return models.MatchHigh
	case confidence >= ThresholdMedium:
		return models.MatchMedium
	case confidence >= ThresholdLow:
		return models.MatchLow
	default:
		return models.MatchNone
	}
}

// TitleSimilarity returns the maximum of normalized equality, token-set ratio,
// and sequence-matcher ratio for two titles. Exact normalized match is 1.0.
func TitleSimilarity(a, b string) float64 {
	na := textnorm.NormalizeForMatch(a)
	nb := textnorm.NormalizeForMatch(b)
	if na == nb && na != "" {
		return 1.0
	}
	return stringSimilarity(na, nb)
}

// ArtistSimilarity compares the expected primary artist against every artist
// token in the candidate string and takes the maximum.
func ArtistSimilarity(expected, candidate string) float64 {
	ne := textnorm.NormalizeForMatch(expected)
	if ne == "" {
		return 0
	}

	best := 0.0
	for _, token := range SplitArtists(candidate) {
		nt := textnorm.NormalizeForMatch(token)
		if nt == "" {
			continue
		}
		var sim float64
		if nt == ne {
			sim = 1.0
		} else {
			sim = stringSimilarity(ne, nt)
		}
		if sim > best {
			best = sim
		}
	}

	// Whole-string comparison catches joint artist credits the splitter misses.
	if whole := stringSimilarity(ne, textnorm.NormalizeForMatch(candidate)); whole > best {
		best = whole
	}
	return best
}

// SplitArtists breaks a combined artist credit on the common separators
// (comma, ampersand, feat/ft, vs, x).
func SplitArtists(s string) []string {
	parts := artistSplitRe.Split(s, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 && strings.TrimSpace(s) != "" {
		out = append(out, strings.TrimSpace(s))
	}
	return out
}

// stringSimilarity is max(token-set ratio, sequence ratio) over two normalized strings.
func stringSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1.0
	}
	ts := tokenSetRatio(a, b)
	sr := sequenceRatio(a, b)
	if ts > sr {
		return ts
	}
	return sr
}

// sequenceRatio is difflib's SequenceMatcher ratio over characters.
func sequenceRatio(a, b string) float64 {
	return difflib.NewMatcher(splitChars(a), splitChars(b)).Ratio()
}

func splitChars(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// tokenSetRatio compares the sorted token intersection against each side's full
// sorted token string and takes the best ratio, so word order and extra tokens
// on one side cost little.
func tokenSetRatio(a, b string) float64 {
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	var inter []string
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			inter = append(inter, tok)
		}
	}
	if len(inter) == 0 {
		return 0
	}

	sortedA := sortedTokens(ta)
	sortedB := sortedTokens(tb)
	sort.Strings(inter)
	interStr := strings.Join(inter, " ")

	best := sequenceRatio(interStr, sortedA)
	if r := sequenceRatio(interStr, sortedB); r > best {
		best = r
	}
	if r := sequenceRatio(sortedA, sortedB); r > best {
		best = r
	}
	return best
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(s) {
		set[tok] = struct{}{}
	}
	return set
}

func sortedTokens(set map[string]struct{}) string {
	toks := make([]string, 0, len(set))
	for tok := range set {
		toks = append(toks, tok)
	}
	sort.Strings(toks)
	return strings.Join(toks, " ")
}

// durationBonus awards +0.03 within 3 seconds and slides linearly to -0.03 at 30 seconds.
func durationBonus(expectedMS, candidateMS int) float64 {
	deltaSec := float64(expectedMS-candidateMS) / 1000.0
	if deltaSec < 0 {
		deltaSec = -deltaSec
	}
	switch {
	case deltaSec <= 3:
		return 0.03
	case deltaSec >= 30:
		return -0.03
	default:
		// linear from +0.03 at 3s to -0.03 at 30s
		return 0.03 - 0.06*(deltaSec-3)/27.0
	}
}
