// AcoustID fingerprint lookup client
package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mkdw/soulsync/internal/shared"
)

const defaultAcoustIDBaseURL = "https://api.acoustid.org/v2"

// acoustIDErrInvalidKey is the service's documented error code for a bad client key.
const acoustIDErrInvalidKey = 4

// Recording is one identified recording from a fingerprint lookup.
type Recording struct {
	MBID   string
	Title  string
	Artist string
	Score  float64
}

// LookupResult carries the best overall score and every recording returned.
type LookupResult struct {
	BestScore  float64
	Recordings []Recording
}

type acoustIDResponse struct {
	Status string `json:"status"`
	Error  struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Results []struct {
		ID         string  `json:"id"`
		Score      float64 `json:"score"`
		Recordings []struct {
			ID      string `json:"id"`
			Title   string `json:"title"`
			Artists []struct {
				Name string `json:"name"`
			} `json:"artists"`
		} `json:"recordings"`
	} `json:"results"`
}

// AcoustIDClient queries the AcoustID lookup service.
type AcoustIDClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewAcoustIDClient creates a lookup client. baseURL defaults to the public service.
func NewAcoustIDClient(apiKey, baseURL string, client *http.Client) *AcoustIDClient {
	if baseURL == "" {
		baseURL = defaultAcoustIDBaseURL
	}
	if client == nil {
		client = NewHTTPClient()
	}
	return &AcoustIDClient{baseURL: baseURL, apiKey: apiKey, httpClient: client}
}

// Lookup resolves a chromaprint fingerprint to scored recordings.
//
// A bad client key maps to [shared.ErrInvalidAPIKey] so callers can surface a
// distinct message; HTTP 429 maps to [shared.ErrRateLimited].
func (a *AcoustIDClient) Lookup(ctx context.Context, fingerprint string, durationSec int) (*LookupResult, error) {
	form := url.Values{}
	form.Set("client", a.apiKey)
	form.Set("duration", strconv.Itoa(durationSec))
	form.Set("fingerprint", fingerprint)
	form.Set("meta", "recordings")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/lookup",
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: fingerprint service", shared.ErrRateLimited)
	}

	var payload acoustIDResponse
	if err := decodeJSON(resp, &payload); err != nil {
		return nil, err
	}

	if payload.Status != "ok" {
		if payload.Error.Code == acoustIDErrInvalidKey {
			return nil, fmt.Errorf("%w: %s", shared.ErrInvalidAPIKey, payload.Error.Message)
		}
		return nil, fmt.Errorf("%w: fingerprint lookup: %s", shared.ErrAPIRequest, payload.Error.Message)
	}

	result := &LookupResult{}
	for _, res := range payload.Results {
		if res.Score > result.BestScore {
			result.BestScore = res.Score
		}
		for _, rec := range res.Recordings {
			artist := ""
			if len(rec.Artists) > 0 {
				artist = rec.Artists[0].Name
			}
			result.Recordings = append(result.Recordings, Recording{
				MBID:   rec.ID,
				Title:  rec.Title,
				Artist: artist,
				Score:  res.Score,
			})
		}
	}
	return result, nil
}
