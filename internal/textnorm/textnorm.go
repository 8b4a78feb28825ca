// package textnorm produces comparable forms of titles, artists, and uploader strings.
//
// Three normalizers with distinct contracts are exposed; callers pick by intent:
//
//   - [NormalizeForMatch] keeps meaningful version parentheticals for title/artist scoring
//   - [NormalizeForPathCheck] collapses maximally for artist-in-path containment tests
//   - [CleanYouTubeTitle] aggressively strips video noise from YouTube inputs
package textnorm

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed noise.yaml
var noiseYAML []byte

type noiseList struct {
	Tokens           []string `yaml:"tokens"`
	UploaderSuffixes []string `yaml:"uploader_suffixes"`
}

var (
	noiseTokenRes    []*regexp.Regexp
	uploaderSuffixes []string
)

func init() {
	var nl noiseList
	if err := yaml.Unmarshal(noiseYAML, &nl); err != nil {
		panic(fmt.Sprintf("failed to parse embedded noise token list: %v", err))
	}
	for _, tok := range nl.Tokens {
		noiseTokenRes = append(noiseTokenRes, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(tok)+`\b`))
	}
	uploaderSuffixes = nl.UploaderSuffixes
}

var (
	// featuring credits, parenthesized or trailing
	featParenRe    = regexp.MustCompile(`(?i)[(\[](?:feat\.?|ft\.?|featuring)\s[^)\]]*[)\]]`)
	trailingFeatRe = regexp.MustCompile(`(?i)\s+(?:feat\.?|ft\.?|featuring)\s+.*$`)

	// markers that never affect identity
	droppedMarkerRe = regexp.MustCompile(`(?i)[(\[](?:explicit|clean|radio edit|radio version)[)\]]`)

	nonAlnumSpaceRe = regexp.MustCompile(`[^a-z0-9 ]+`)
	whitespaceRe    = regexp.MustCompile(`\s+`)

	bracketRes = []*regexp.Regexp{
		regexp.MustCompile(`\([^)]*\)`),
		regexp.MustCompile(`\[[^\]]*\]`),
		regexp.MustCompile(`\{[^}]*\}`),
		regexp.MustCompile(`<[^>]*>`),
		regexp.MustCompile(`【[^】]*】`),
	}

	pipeOrDashRe = regexp.MustCompile(`\s*[|｜–—-]\s.*$`)
)

var diacriticFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldDiacritics strips combining marks so "Beyoncé" compares equal to "Beyonce".
func foldDiacritics(s string) string {
	out, _, err := transform.String(diacriticFolder, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeForMatch lowercases, removes featuring credits and non-identity markers,
// preserves version parentheticals (extended/live/acoustic/remix/instrumental), strips
// punctuation, and collapses whitespace. An empty result falls back to the input.
func NormalizeForMatch(s string) string {
	orig := s
	s = featParenRe.ReplaceAllString(s, " ")
	s = trailingFeatRe.ReplaceAllString(s, " ")
	s = droppedMarkerRe.ReplaceAllString(s, " ")
	s = strings.ToLower(foldDiacritics(s))
	s = nonAlnumSpaceRe.ReplaceAllString(s, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return strings.TrimSpace(strings.ToLower(orig))
	}
	return s
}

// NormalizeForPathCheck is the strictest form: fold diacritics, lowercase, and drop
// every non-alphanumeric character. Used only to test whether an expected artist
// appears anywhere in a peer-reported file path.
func NormalizeForPathCheck(s string) string {
	s = strings.ToLower(foldDiacritics(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// StripParentheticals removes every bracketed segment and collapses whitespace.
func StripParentheticals(s string) string {
	for _, re := range bracketRes {
		s = re.ReplaceAllString(s, " ")
	}
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// CleanYouTubeTitle reduces a raw YouTube title to something a catalog search can use.
//
// Strips a leading "<uploader> - " prefix, all bracketed content, everything after a
// pipe or remaining dash, known video-noise tokens, and trailing featuring credits.
// Reverts to the original when the result shrinks below 2 characters.
func CleanYouTubeTitle(title, uploader string) string {
	orig := title
	s := strings.TrimSpace(title)

	if uploader != "" {
		lower := strings.ToLower(s)
		up := strings.ToLower(strings.TrimSpace(uploader))
		if up != "" && strings.HasPrefix(lower, up) {
			rest := strings.TrimSpace(s[len(up):])
			trimmed := strings.TrimLeft(rest, "-–—:|• ")
			if trimmed != rest && trimmed != "" {
				s = trimmed
			}
		}
	}

	for _, re := range bracketRes {
		s = re.ReplaceAllString(s, " ")
	}
	s = pipeOrDashRe.ReplaceAllString(s, " ")
	for _, re := range noiseTokenRes {
		s = re.ReplaceAllString(s, " ")
	}
	s = trailingFeatRe.ReplaceAllString(s, " ")
	s = strings.Trim(whitespaceRe.ReplaceAllString(s, " "), " -–—|:•\"'")

	if len([]rune(s)) < 2 {
		return orig
	}
	return s
}

// CleanUploader strips channel-name noise ("VEVO", " - Topic", ...) from an uploader string.
func CleanUploader(uploader string) string {
	orig := uploader
	s := strings.TrimSpace(uploader)
	s = strings.TrimSuffix(s, " - Topic")

	for _, suffix := range uploaderSuffixes {
		lower := strings.ToLower(s)
		if strings.HasSuffix(lower, suffix) && len(s) > len(suffix) {
			s = strings.TrimSpace(s[:len(s)-len(suffix)])
		}
	}

	if s == "" {
		return strings.TrimSpace(orig)
	}
	return s
}
