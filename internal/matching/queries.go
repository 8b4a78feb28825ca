package matching

import (
	"strings"

	"github.com/mkdw/soulsync/internal/textnorm"
)

// BuildQueries generates the ordered sequence of P2P search queries for a
// track, most specific first. The result is deduplicated, every query is
// non-empty after trimming, and there is always at least one query.
func BuildQueries(title, artist, album string) []string {
	title = strings.TrimSpace(title)
	artist = strings.TrimSpace(artist)
	album = strings.TrimSpace(album)

	var queries []string
	add := func(q string) {
		q = strings.Join(strings.Fields(q), " ")
		if q == "" {
			return
		}
		for _, existing := range queries {
			if strings.EqualFold(existing, q) {
				return
			}
		}
		queries = append(queries, q)
	}

	add(artist + " " + title)

	if stripped := textnorm.StripParentheticals(title); stripped != "" && !strings.EqualFold(stripped, title) {
		add(artist + " " + stripped)
	}

	if word := firstMeaningfulWord(artist); word != "" {
		add(title + " " + word)
	}

	add(title)

	// Album-aware variants when the album name is embedded in the title with
	// different delimiters ("Album - Track", "Track (Album)", ...).
	if album != "" {
		if remainder, ok := stripAlbumFromTitle(title, album); ok {
			add(artist + " " + remainder)
			add(remainder)
		}
	}

	if len(queries) == 0 {
		add(title)
		add(artist)
	}
	return queries
}

// firstMeaningfulWord returns the artist's first word, skipping a leading "The"
// when another word follows.
func firstMeaningfulWord(artist string) string {
	words := strings.Fields(artist)
	if len(words) == 0 {
		return ""
	}
	if strings.EqualFold(words[0], "the") && len(words) > 1 {
		return words[1]
	}
	return words[0]
}

// stripAlbumFromTitle removes an embedded album name from the title, returning
// the remainder and whether the album was found.
func stripAlbumFromTitle(title, album string) (string, bool) {
	normTitle := textnorm.NormalizeForMatch(title)
	normAlbum := textnorm.NormalizeForMatch(album)
	if normAlbum == "" || !strings.Contains(normTitle, normAlbum) {
		return "", false
	}

	idx := strings.Index(strings.ToLower(title), strings.ToLower(album))
	if idx < 0 {
		// Present only under normalization; punctuation differs too much to cut cleanly.
		return "", false
	}

	remainder := title[:idx] + title[idx+len(album):]
	remainder = strings.Trim(remainder, " -–—|:([{)]}•")
	remainder = strings.Join(strings.Fields(remainder), " ")
	if remainder == "" || strings.EqualFold(remainder, title) {
		return "", false
	}
	return remainder, true
}
