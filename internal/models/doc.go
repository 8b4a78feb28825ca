// Package models defines the domain entities shared by the missing-track acquisition pipeline.
//
// The package contains three categories of types:
//
// 1. Source entities, immutable within a run:
//   - [Playlist] : A source playlist with its opaque snapshot id
//   - [Track] : A source track; YouTube-ingested tracks carry RawTitle/RawUploader verbatim
//
// 2. Library and search entities:
//   - [LibraryTrack] : Canonical identity in the local media library, tagged with [ServerSource]
//   - [Candidate] : A single peer-offered file returned by the transfer daemon's search
//
// 3. Pipeline state:
//   - [ActiveDownload] : Per-track record tracked by the acquisition controller
//   - [VerificationResult] : Outcome of post-acquisition fingerprint verification
//   - [WishlistEntry] : Durable record of a permanently-failed track
//   - [SyncRecord] : Per-playlist snapshot/timestamp record behind sync state display
package models
