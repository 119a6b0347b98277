// Package enrich performs the satellite imagery lookup that augments
// successful detection results, fronted by a small FIFO cache.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client queries the satellite enrichment service over a bounding box.
type Client struct {
	baseURL   string
	http      *http.Client
	bboxDelta float64
	lookback  time.Duration
}

// NewClient creates an enrichment client. bboxDelta is the half-width of the
// query box in degrees; lookback bounds the imagery date range.
func NewClient(baseURL string, timeout time.Duration, bboxDelta float64, lookback time.Duration) *Client {
	return &Client{
		baseURL:   baseURL,
		http:      &http.Client{Timeout: timeout},
		bboxDelta: bboxDelta,
		lookback:  lookback,
	}
}

type enrichResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

// FetchBoundingBox queries imagery for a box centered on the coordinate,
// covering the trailing lookback window. The data payload is opaque to the
// pipeline.
func (c *Client) FetchBoundingBox(ctx context.Context, lat, lon float64) (json.RawMessage, error) {
	end := time.Now().UTC()
	start := end.Add(-c.lookback)

	q := url.Values{}
	q.Set("min_lat", fmt.Sprintf("%f", lat-c.bboxDelta))
	q.Set("max_lat", fmt.Sprintf("%f", lat+c.bboxDelta))
	q.Set("min_lon", fmt.Sprintf("%f", lon-c.bboxDelta))
	q.Set("max_lon", fmt.Sprintf("%f", lon+c.bboxDelta))
	q.Set("start_date", start.Format("2006-01-02"))
	q.Set("end_date", end.Format("2006-01-02"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/imagery?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("enrichment request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("enrichment service returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var parsed enrichResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("malformed enrichment response: %w", err)
	}
	if !parsed.Success {
		return nil, fmt.Errorf("enrichment service reported failure")
	}

	return parsed.Data, nil
}
