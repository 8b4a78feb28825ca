// package verify checks completed downloads against the expected track by
// acoustic fingerprint.
//
// The verifier is fail-open: infrastructure trouble, ambiguous fingerprints,
// and unexpected errors all map to SKIP so a download is never quarantined on
// uncertainty. Only a confident mismatch produces FAIL.
package verify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/dhowden/tag"
	"github.com/mkdw/soulsync/internal/matching"
	"github.com/mkdw/soulsync/internal/models"
	"github.com/mkdw/soulsync/internal/services"
	"github.com/mkdw/soulsync/internal/shared"
)

// Decision thresholds.
const (
	minBestScore = 0.80
	minTitleSim  = 0.70
	minArtistSim = 0.60
)

// QuarantineDirName is the sibling directory that receives rejected files.
const QuarantineDirName = "quarantine"

// Lookuper resolves a fingerprint to scored recordings. Implemented by
// [services.AcoustIDClient].
type Lookuper interface {
	Lookup(ctx context.Context, fingerprint string, durationSec int) (*services.LookupResult, error)
}

// FingerprintFunc produces a chromaprint fingerprint and duration for a file.
type FingerprintFunc func(ctx context.Context, path string) (fingerprint string, durationSec int, err error)

// TagReadFunc extracts the embedded title and artist tags from a file.
type TagReadFunc func(path string) (title, artist string, err error)

// Verifier implements fingerprint verification over an AcoustID-style lookup
// service and a local fpcalc binary.
type Verifier struct {
	lookup      Lookuper
	fingerprint FingerprintFunc
	tags        TagReadFunc
	enabled     bool
	downloadDir string
	logger      *log.Logger
}

// Opts configures a Verifier.
type Opts struct {
	// Enabled gates the whole feature; disabled verifiers return DISABLED.
	Enabled bool

	// FpcalcPath is the fingerprint binary; resolved via EnsureFpcalc when empty.
	FpcalcPath string

	// DownloadDir anchors the quarantine directory (created as a sibling).
	DownloadDir string

	// Fingerprint overrides the fpcalc invocation; used by tests.
	Fingerprint FingerprintFunc

	// Tags overrides embedded-tag reading; used by tests.
	Tags TagReadFunc

	Logger *log.Logger
}

// New creates a Verifier. lookup may be nil when the feature is disabled.
func New(lookup Lookuper, opts Opts) *Verifier {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	v := &Verifier{
		lookup:      lookup,
		enabled:     opts.Enabled,
		downloadDir: opts.DownloadDir,
		logger:      opts.Logger,
	}
	if opts.Fingerprint != nil {
		v.fingerprint = opts.Fingerprint
	} else {
		v.fingerprint = fpcalcFingerprinter(opts.FpcalcPath)
	}
	if opts.Tags != nil {
		v.tags = opts.Tags
	} else {
		v.tags = readFileTags
	}
	return v
}

// Verify fingerprints the file and decides whether it is the expected track.
func (v *Verifier) Verify(ctx context.Context, filePath, expectedTitle, expectedArtist string) models.VerificationResult {
	if !v.enabled || v.lookup == nil {
		return models.VerificationResult{Status: models.VerifyDisabled, Reason: "fingerprint verification disabled"}
	}

	fp, durationSec, err := v.fingerprint(ctx, filePath)
	if err != nil {
		v.logger.Warn("fingerprinting failed", "file", filePath, "error", err)
		return models.VerificationResult{Status: models.VerifySkip, Reason: "verification error: " + err.Error()}
	}
	if durationSec <= 0 {
		return models.VerificationResult{Status: models.VerifySkip, Reason: "file has no duration"}
	}

	result, err := v.lookup.Lookup(ctx, fp, durationSec)
	if err != nil {
		reason := "verification error: " + err.Error()
		if strings.Contains(err.Error(), shared.ErrInvalidAPIKey.Error()) {
			reason = "invalid fingerprint API key"
		}
		v.logger.Warn("fingerprint lookup failed", "file", filePath, "error", err)
		return models.VerificationResult{Status: models.VerifySkip, Reason: reason}
	}

	if result.BestScore < minBestScore {
		return models.VerificationResult{
			Status: models.VerifySkip,
			Reason: fmt.Sprintf("fingerprint too uncertain (%.2f)", result.BestScore),
		}
	}
	if len(result.Recordings) == 0 {
		return models.VerificationResult{Status: models.VerifySkip, Reason: "no recordings identified"}
	}

	return v.decide(filePath, expectedTitle, expectedArtist, result.Recordings)
}

// decide applies the similarity decision table over every identified recording.
func (v *Verifier) decide(filePath, expectedTitle, expectedArtist string, recordings []services.Recording) models.VerificationResult {
	type simPair struct {
		title, artist float64
	}
	sims := make([]simPair, len(recordings))

	best := simPair{}
	bestWeighted := -1.0
	top := recordings[0]
	topScore := -1.0

	for i, rec := range recordings {
		titleSim := matching.TitleSimilarity(expectedTitle, rec.Title)
		artistSim := matching.ArtistSimilarity(expectedArtist, rec.Artist)
		sims[i] = simPair{title: titleSim, artist: artistSim}

		if weighted := 0.6*titleSim + 0.4*artistSim; weighted > bestWeighted {
			bestWeighted = weighted
			best = sims[i]
		}
		if rec.Score > topScore {
			topScore = rec.Score
			top = rec
		}
	}

	switch {
	case best.title >= minTitleSim && best.artist >= minArtistSim:
		return models.VerificationResult{Status: models.VerifyPass}

	case best.title >= minTitleSim:
		// Right song, uncertain artist. Any recording crediting a close-enough
		// artist rescues it; otherwise covers and collabs stay ambiguous.
		for _, s := range sims {
			if s.artist >= minArtistSim {
				return models.VerificationResult{Status: models.VerifyPass}
			}
		}
		return models.VerificationResult{Status: models.VerifySkip, Reason: "cover/collab ambiguity"}

	default:
		for _, s := range sims {
			if s.title >= minTitleSim && s.artist >= minArtistSim {
				return models.VerificationResult{Status: models.VerifyPass}
			}
		}
		if v.tagsCorroborate(filePath, expectedTitle, expectedArtist) {
			return models.VerificationResult{Status: models.VerifySkip, Reason: "embedded tags agree with expected track"}
		}
		return models.VerificationResult{
			Status:           models.VerifyFail,
			Reason:           "identified as a different recording",
			IdentifiedTitle:  top.Title,
			IdentifiedArtist: top.Artist,
		}
	}
}

// tagsCorroborate reads the file's embedded metadata and reports whether it
// matches the expected track. A fingerprint can resolve to the wrong release
// while the tags are right; that case is ambiguity, not a confident mismatch.
func (v *Verifier) tagsCorroborate(filePath, expectedTitle, expectedArtist string) bool {
	title, artist, err := v.tags(filePath)
	if err != nil {
		return false
	}

	titleSim := matching.TitleSimilarity(expectedTitle, title)
	artistSim := matching.ArtistSimilarity(expectedArtist, artist)
	return titleSim >= minTitleSim && artistSim >= minArtistSim
}

// readFileTags pulls title and artist out of the file's embedded metadata.
func readFileTags(path string) (string, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if err != nil {
		return "", "", err
	}
	return meta.Title(), meta.Artist(), nil
}

// Quarantine moves a rejected file into the quarantine directory next to the
// download root, returning the file's new path.
func (v *Verifier) Quarantine(filePath string) (string, error) {
	base := filepath.Dir(v.downloadDir)
	if v.downloadDir == "" {
		base = filepath.Dir(filePath)
	}
	dir := filepath.Join(base, QuarantineDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create quarantine dir: %w", err)
	}

	dest := filepath.Join(dir, filepath.Base(filePath))
	if err := os.Rename(filePath, dest); err != nil {
		return "", fmt.Errorf("failed to quarantine %s: %w", filePath, err)
	}
	return dest, nil
}
