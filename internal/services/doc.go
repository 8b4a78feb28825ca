// Package services contains the HTTP clients the acquisition engine talks to.
//
// Five external surfaces are wrapped:
//
//   - [Catalog] : the streaming catalog (playlists, track search)
//   - [YouTubeIngest] : the YouTube playlist ingestion proxy
//   - [MediaServer] : one uniform interface over Plex, Jellyfin, and Navidrome
//   - [SlskdClient] : the slskd transfer daemon (search, dispatch, transfer table)
//   - [AcoustIDClient] : the AcoustID fingerprint lookup service
//
// All clients use a 15 second HTTP timeout. Catalog and media-server calls
// retry transient failures (5xx, 429, timeouts) up to twice inline with
// 250ms -> 1s backoff; transfer-level retries are left to the daemon.
package services
