// Package detect submits media files to the remote violation detection service.
package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/ecowatch/backend/internal/models"
)

// ProgressFunc receives the number of request-body bytes sent so far.
type ProgressFunc func(sent, total int64)

// Client talks to the detection service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a detection client for the given base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Submit uploads one file as a multipart request with an optional free-text
// location hint. onProgress, if non-nil, is called as the body is transmitted.
func (c *Client) Submit(ctx context.Context, file io.Reader, fileName, locationHint string, onProgress ProgressFunc) (*models.DetectionResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("buffering file: %w", err)
	}
	if locationHint != "" {
		if err := mw.WriteField("location_hint", locationHint); err != nil {
			return nil, fmt.Errorf("writing location hint: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart writer: %w", err)
	}

	total := int64(body.Len())
	var reader io.Reader = &body
	if onProgress != nil {
		reader = &progressReader{r: &body, total: total, report: onProgress}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/detect", reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.ContentLength = total

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, networkFailure(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, serverError(resp.StatusCode, string(bytes.TrimSpace(snippet)))
	}

	var result models.DetectionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, parseError(err)
	}

	return &result, nil
}

// progressReader reports cumulative bytes read as the HTTP client drains
// the request body.
type progressReader struct {
	r      io.Reader
	total  int64
	sent   int64
	report ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.report(p.sent, p.total)
	}
	return n, err
}
