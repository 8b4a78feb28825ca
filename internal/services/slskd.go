// slskd transfer-daemon implementation
//
// Wraps the slskd REST surface the engine uses: search, search responses,
// download dispatch, the transfer table, and transfer cancellation. All
// requests authenticate with the X-API-Key header.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/mkdw/soulsync/internal/models"
	"github.com/mkdw/soulsync/internal/shared"
)

const slskdAPIPrefix = "/api/v0"

// SearchFile is one file offered by a peer in a search response.
type SearchFile struct {
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	BitRate   int    `json:"bitRate"`
	Extension string `json:"extension"`
}

// SearchResponse groups a peer's files for one search.
type SearchResponse struct {
	Username string       `json:"username"`
	Files    []SearchFile `json:"files"`
}

// TransferRow is one flattened row of the daemon's transfer table.
type TransferRow struct {
	ID               string  `json:"id"`
	Username         string  `json:"username"`
	Filename         string  `json:"filename"`
	State            string  `json:"state"`
	PercentComplete  float64 `json:"percentComplete"`
	BytesTransferred int64   `json:"bytesTransferred"`
	Size             int64   `json:"size"`
}

// slskdDownloadsEntry is one user's subtree of the transfer table. Both the
// directories->files layout and the flat files layout occur in practice, for
// different terminal states, so both are decoded.
type slskdDownloadsEntry struct {
	Username    string `json:"username"`
	Directories []struct {
		Directory string        `json:"directory"`
		Files     []TransferRow `json:"files"`
	} `json:"directories"`
	Files []TransferRow `json:"files"`
}

// SlskdClient talks to the slskd daemon's REST API.
type SlskdClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *log.Logger
}

// NewSlskdClient creates a client from config. The HTTP client defaults to one
// with the standard timeout.
func NewSlskdClient(cfg shared.SlskdConfig, client *http.Client, logger *log.Logger) *SlskdClient {
	if client == nil {
		client = NewHTTPClient()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &SlskdClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: client,
		logger:     logger,
	}
}

func (s *SlskdClient) doRequest(ctx context.Context, method, path string, body, target any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+slskdAPIPrefix+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-API-Key", s.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrDaemonUnreachable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return fmt.Errorf("%w: daemon returned %d for %s %s", shared.ErrAPIRequest, resp.StatusCode, method, path)
	}

	if target == nil {
		resp.Body.Close()
		return nil
	}
	return decodeJSON(resp, target)
}

// Healthy reports whether the daemon answers its application endpoint.
func (s *SlskdClient) Healthy(ctx context.Context) error {
	return s.doRequest(ctx, http.MethodGet, "/application", nil, nil)
}

// Search starts a new file search and returns its id.
func (s *SlskdClient) Search(ctx context.Context, query string) (string, error) {
	req := map[string]any{
		"id":         shared.GenerateID(),
		"searchText": query,
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := s.doRequest(ctx, http.MethodPost, "/searches", req, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		resp.ID = req["id"].(string)
	}
	return resp.ID, nil
}

// SearchResponses fetches the peer responses accumulated for a search.
func (s *SlskdClient) SearchResponses(ctx context.Context, searchID string) ([]SearchResponse, error) {
	var resp []SearchResponse
	if err := s.doRequest(ctx, http.MethodGet, "/searches/"+url.PathEscape(searchID)+"/responses", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Candidates converts the raw search responses into scoring candidates, with
// peer paths forward-slash normalized.
func Candidates(responses []SearchResponse) []models.Candidate {
	var out []models.Candidate
	for _, r := range responses {
		for _, f := range r.Files {
			filename := strings.ReplaceAll(f.Filename, "\\", "/")
			out = append(out, models.Candidate{
				Filename:    filename,
				Username:    r.Username,
				SizeBytes:   f.Size,
				Quality:     models.QualityFromFilename(filename),
				BitrateKbps: f.BitRate,
			})
		}
	}
	return out
}

// EnqueueDownload asks the daemon to download one file from a peer.
func (s *SlskdClient) EnqueueDownload(ctx context.Context, username, filename string, size int64) error {
	body := []map[string]any{{
		"filename": filename,
		"size":     size,
	}}
	return s.doRequest(ctx, http.MethodPost, "/transfers/downloads/"+url.PathEscape(username), body, nil)
}

// Downloads snapshots the daemon's transfer table, flattening both the
// user->directories->files tree and the user->files tree.
func (s *SlskdClient) Downloads(ctx context.Context) ([]TransferRow, error) {
	var entries []slskdDownloadsEntry
	if err := s.doRequest(ctx, http.MethodGet, "/transfers/downloads", nil, &entries); err != nil {
		return nil, err
	}

	var rows []TransferRow
	for _, entry := range entries {
		for _, dir := range entry.Directories {
			for _, row := range dir.Files {
				if row.Username == "" {
					row.Username = entry.Username
				}
				row.Filename = strings.ReplaceAll(row.Filename, "\\", "/")
				rows = append(rows, row)
			}
		}
		for _, row := range entry.Files {
			if row.Username == "" {
				row.Username = entry.Username
			}
			row.Filename = strings.ReplaceAll(row.Filename, "\\", "/")
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// CancelDownload cancels a transfer. remove additionally deletes the daemon's
// record; retry paths pass remove=false so completions stay attributable.
func (s *SlskdClient) CancelDownload(ctx context.Context, username, transferID string, remove bool) error {
	path := fmt.Sprintf("/transfers/downloads/%s/%s?remove=%t",
		url.PathEscape(username), url.PathEscape(transferID), remove)
	return s.doRequest(ctx, http.MethodDelete, path, nil, nil)
}

// ClassifyTransferState maps a daemon state string onto the engine's download
// states. Priority matters: some daemon builds emit completion and
// cancellation strings together, so cancellation is tested first.
func ClassifyTransferState(state string) models.DownloadState {
	lower := strings.ToLower(state)
	switch {
	case strings.Contains(lower, "cancelled"), strings.Contains(lower, "canceled"):
		return models.StateCancelled
	case strings.Contains(lower, "failed"), strings.Contains(lower, "errored"), strings.Contains(lower, "rejected"):
		return models.StateFailed
	case strings.Contains(lower, "completed"), strings.Contains(lower, "succeeded"):
		return models.StateCompleted
	case strings.Contains(lower, "inprogress"), strings.Contains(lower, "in progress"), strings.Contains(lower, "transferring"):
		return models.StateDownloading
	default:
		return models.StateQueued
	}
}
