package models

import (
	"path"
	"strings"
	"time"
)

// ServerSource identifies which media server a library track came from.
type ServerSource string

const (
	SourcePlex      ServerSource = "plex"
	SourceJellyfin  ServerSource = "jellyfin"
	SourceNavidrome ServerSource = "navidrome"
)

// Quality is the audio format of a search candidate, derived from its file extension.
type Quality string

const (
	QualityFLAC    Quality = "flac"
	QualityMP3     Quality = "mp3"
	QualityAAC     Quality = "aac"
	QualityOGG     Quality = "ogg"
	QualityUnknown Quality = "unknown"
)

// QualityFromFilename derives a Quality from the candidate's file extension.
func QualityFromFilename(filename string) Quality {
	switch strings.ToLower(strings.TrimPrefix(path.Ext(filename), ".")) {
	case "flac":
		return QualityFLAC
	case "mp3":
		return QualityMP3
	case "aac", "m4a", "mp4":
		return QualityAAC
	case "ogg", "oga", "opus":
		return QualityOGG
	default:
		return QualityUnknown
	}
}

// VersionType classifies a title by the release version its markers indicate.
type VersionType string

const (
	VersionOriginal     VersionType = "original"
	VersionExtended     VersionType = "extended"
	VersionRemix        VersionType = "remix"
	VersionLive         VersionType = "live"
	VersionAcoustic     VersionType = "acoustic"
	VersionInstrumental VersionType = "instrumental"
	VersionRadioEdit    VersionType = "radio_edit"
	VersionUnknown      VersionType = "unknown"
)

// MatchType buckets a similarity score into the classification tiers used by downstream gates.
type MatchType string

const (
	MatchExact  MatchType = "exact"
	MatchHigh   MatchType = "high"
	MatchMedium MatchType = "medium"
	MatchLow    MatchType = "low"
	MatchNone   MatchType = "none"
)

// Track is a source-playlist entity. Artists is non-empty; Artists[0] is the primary artist.
//
// RawTitle and RawUploader are only present for YouTube-ingested tracks and are
// preserved verbatim for fallback catalog queries.
type Track struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Artists      []string          `json:"artists"`
	Album        string            `json:"album,omitempty"`
	DurationMS   int               `json:"duration_ms,omitempty"`
	RawTitle     string            `json:"raw_title,omitempty"`
	RawUploader  string            `json:"raw_uploader,omitempty"`
	ExternalURLs map[string]string `json:"external_urls,omitempty"`
}

// PrimaryArtist returns the first artist, or "" when the list is empty.
func (t Track) PrimaryArtist() string {
	if len(t.Artists) == 0 {
		return ""
	}
	return t.Artists[0]
}

// Playlist is a source playlist. SnapshotID is an opaque version token from the
// catalog that changes iff the playlist changes.
type Playlist struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	SnapshotID string  `json:"snapshot_id,omitempty"`
	Owner      string  `json:"owner,omitempty"`
	Tracks     []Track `json:"tracks"`
}

// LibraryTrack is a canonical identity in the local media library.
// (ServerSource, ID) is unique.
type LibraryTrack struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	ArtistName   string       `json:"artist_name"`
	AlbumTitle   string       `json:"album_title,omitempty"`
	TrackNumber  int          `json:"track_number,omitempty"`
	DurationMS   int          `json:"duration_ms,omitempty"`
	FilePath     string       `json:"file_path,omitempty"`
	ServerSource ServerSource `json:"server_source"`
}

// Candidate is a single peer-offered file returned by the transfer daemon's search.
//
// Confidence and the version fields are defined only after scoring has run.
type Candidate struct {
	Filename       string      `json:"filename"` // full path as reported by the peer, forward-slash normalized
	Username       string      `json:"username"`
	SizeBytes      int64       `json:"size_bytes"`
	Quality        Quality     `json:"quality"`
	BitrateKbps    int         `json:"bitrate_kbps,omitempty"`
	Confidence     float64     `json:"confidence"`
	VersionType    VersionType `json:"version_type"`
	VersionPenalty float64     `json:"version_penalty"`
}

// BaseName returns the final path segment of the peer-reported filename.
func (c Candidate) BaseName() string {
	name := strings.ReplaceAll(c.Filename, "\\", "/")
	return path.Base(name)
}

// SourceKey identifies a peer/file pair that has been tried for a track.
type SourceKey struct {
	Username string
	Filename string
}

// DownloadState is the acquisition controller's per-track state.
type DownloadState int

const (
	StateIdle DownloadState = iota
	StateSearching
	StateDispatching
	StateQueued
	StateDownloading
	StateCompleted
	StateRetrying
	StateFailed
	StateCancelled
)

func (s DownloadState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSearching:
		return "searching"
	case StateDispatching:
		return "dispatching"
	case StateQueued:
		return "queued"
	case StateDownloading:
		return "downloading"
	case StateCompleted:
		return "completed"
	case StateRetrying:
		return "retrying"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the state ends the track's lifecycle.
func (s DownloadState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// ActiveDownload is the per-track state record tracked by the acquisition controller.
//
// It holds exactly one Candidate at a time and at most one outstanding transfer id.
type ActiveDownload struct {
	DownloadIndex   int
	Track           Track
	Candidate       Candidate
	TransferID      string // assigned by the daemon; may be adopted later via filename match
	UsedSources     map[SourceKey]struct{}
	CandidatesCache []Candidate // remaining alternates from the successful search query
	RetryCount      int
	QueuedStart     time.Time
	DownloadingStart time.Time
	APIMissingCount int
	State           DownloadState
}

// NewActiveDownload creates an ActiveDownload in the idle state.
func NewActiveDownload(index int, track Track) *ActiveDownload {
	return &ActiveDownload{
		DownloadIndex: index,
		Track:         track,
		UsedSources:   make(map[SourceKey]struct{}),
		State:         StateIdle,
	}
}

// MarkUsed records a peer/file pair so it is never re-dispatched.
func (d *ActiveDownload) MarkUsed(c Candidate) {
	d.UsedSources[SourceKey{Username: c.Username, Filename: c.Filename}] = struct{}{}
}

// Used reports whether a peer/file pair has already been tried.
func (d *ActiveDownload) Used(c Candidate) bool {
	_, ok := d.UsedSources[SourceKey{Username: c.Username, Filename: c.Filename}]
	return ok
}

// NextCandidate pops the first cached candidate not yet in UsedSources.
// Returns false when the cache is exhausted.
func (d *ActiveDownload) NextCandidate() (Candidate, bool) {
	for len(d.CandidatesCache) > 0 {
		c := d.CandidatesCache[0]
		d.CandidatesCache = d.CandidatesCache[1:]
		if !d.Used(c) {
			return c, true
		}
	}
	return Candidate{}, false
}

// VerificationStatus is the outcome class of fingerprint verification.
type VerificationStatus string

const (
	VerifyPass     VerificationStatus = "pass"
	VerifyFail     VerificationStatus = "fail"
	VerifySkip     VerificationStatus = "skip"
	VerifyDisabled VerificationStatus = "disabled"
)

// VerificationResult pairs a status with its human-readable reason.
type VerificationResult struct {
	Status VerificationStatus `json:"status"`
	Reason string             `json:"reason,omitempty"`

	// IdentifiedTitle/IdentifiedArtist describe what the file actually is when
	// verification failed; empty otherwise.
	IdentifiedTitle  string `json:"identified_title,omitempty"`
	IdentifiedArtist string `json:"identified_artist,omitempty"`
}

// WishlistSourceType records where a failed track was being acquired from.
type WishlistSourceType string

const (
	WishlistFromPlaylist WishlistSourceType = "playlist"
	WishlistFromAlbum    WishlistSourceType = "album"
	WishlistFromArtist   WishlistSourceType = "artist"
)

// WishlistSourceContext preserves where and when the failed track entered the wishlist.
type WishlistSourceContext struct {
	Name      string    `json:"name"`
	ID        string    `json:"id"`
	AddedFrom string    `json:"added_from,omitempty"`
	AddedAt   time.Time `json:"added_at"`
}

// WishlistEntry is the durable record of a permanently-failed track.
type WishlistEntry struct {
	Track         Track                 `json:"track"`
	SourceType    WishlistSourceType    `json:"source_type"`
	SourceContext WishlistSourceContext `json:"source_context"`
	RetryCount    int                   `json:"retry_count"`
	LastAttemptAt *time.Time            `json:"last_attempt_at,omitempty"`
}

// SyncState is the display status of a playlist relative to its last sync.
type SyncState int

const (
	SyncNever SyncState = iota
	SyncStale
	SyncFresh
)

func (s SyncState) String() string {
	switch s {
	case SyncNever:
		return "never_synced"
	case SyncStale:
		return "needs_sync"
	case SyncFresh:
		return "synced"
	default:
		return "unknown"
	}
}

// SyncRecord is the per-playlist record rewritten after every sync attempt.
type SyncRecord struct {
	Name       string `json:"name"`
	Owner      string `json:"owner,omitempty"`
	SnapshotID string `json:"snapshot_id,omitempty"`
	LastSynced string `json:"last_synced_iso"`
}
