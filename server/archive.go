// server/archive.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"github.com/airsports-no/livetracking/calc"
)

// ArchiveTimeout bounds a back-fill fetch; the loader treats a failed
// fetch as a gap it cannot fill, so a slow archive must not stall
// scoring for longer than this.
const ArchiveTimeout = 15 * time.Second

// HTTPArchive implements calc.Archive against the position history
// service: GET /positions?deviceId=&from=&to= returning a JSON array of
// positions in device-time order.
type HTTPArchive struct {
	endpoint string
	token    string
	client   *http.Client
}

func NewHTTPArchive(endpoint, token string) *HTTPArchive {
	return &HTTPArchive{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: ArchiveTimeout},
	}
}

func (a *HTTPArchive) GetPositions(deviceID string, from, to time.Time) ([]calc.Position, error) {
	query := url.Values{}
	query.Set("deviceId", deviceID)
	query.Set("from", from.UTC().Format(time.RFC3339))
	query.Set("to", to.UTC().Format(time.RFC3339))

	req, err := http.NewRequest("GET", a.endpoint+"/positions?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", calc.ErrArchiveUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", calc.ErrArchiveUnavailable, resp.StatusCode)
	}

	var positions []calc.Position
	if err := json.NewDecoder(resp.Body).Decode(&positions); err != nil {
		return nil, fmt.Errorf("%w: %v", calc.ErrArchiveUnavailable, err)
	}
	return positions, nil
}
