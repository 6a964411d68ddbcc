package rendermodule

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/modelbay/modelbay/internal/config"
	"github.com/modelbay/modelbay/internal/modules/importmodule/importer"
	"github.com/modelbay/modelbay/internal/services"
	"github.com/modelbay/modelbay/internal/types"
)

// Client talks to the external render service over HTTP. The service
// owns all format-specific mesh parsing; this side only ships bytes and
// decodes results. Render failures are degradable upstream, so errors
// returned here never need to carry retry hints.
type Client struct {
	baseURL string
	views   int
	http    *http.Client
}

var (
	_ importer.PreviewRenderer  = (*Client)(nil)
	_ importer.GeometryAnalyzer = (*Client)(nil)
	_ services.RenderService    = (*Client)(nil)
)

// NewClient creates a render client from configuration
func NewClient(cfg config.RenderConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		views:   cfg.MultiViewCount,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// previewResponse is the render service's preview envelope. The image
// arrives base64-encoded; the perceptual hash as a 16-digit hex string
// because JSON numbers cannot carry a full 64-bit value.
type previewResponse struct {
	Image  []byte `json:"image"`
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	PHash  string `json:"phash"`
}

// RenderPreview produces a single-angle preview image plus the
// perceptual hash the render service computed from it.
func (c *Client) RenderPreview(ctx context.Context, data []byte, fileType string) (*types.PreviewResult, error) {
	q := url.Values{"type": {fileType}}
	resp, err := c.post(ctx, "/v1/preview", q, data)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body previewResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode preview response: %w", err)
	}
	if len(body.Image) == 0 {
		return nil, errors.New("render service returned an empty preview image")
	}

	result := &types.PreviewResult{
		Image:  body.Image,
		Format: body.Format,
		Width:  body.Width,
		Height: body.Height,
	}
	if body.PHash != "" {
		hash, err := strconv.ParseUint(body.PHash, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("render service returned malformed perceptual hash %q: %w", body.PHash, err)
		}
		result.PerceptualHash = hash
	}
	return result, nil
}

// RenderMultiView produces the multi-angle composite used as AI input
// for 3D formats. The angle count comes from configuration.
func (c *Client) RenderMultiView(ctx context.Context, data []byte, fileType string) ([]byte, error) {
	q := url.Values{
		"type":  {fileType},
		"views": {strconv.Itoa(c.views)},
	}
	resp, err := c.post(ctx, "/v1/multiview", q, data)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Image []byte `json:"image"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode multiview response: %w", err)
	}
	if len(body.Image) == 0 {
		return nil, errors.New("render service returned an empty multiview image")
	}
	return body.Image, nil
}

// AnalyzeGeometry extracts mesh statistics from a 3D design file
func (c *Client) AnalyzeGeometry(ctx context.Context, data []byte, fileType string) (*types.GeometryStats, error) {
	q := url.Values{"type": {fileType}}
	resp, err := c.post(ctx, "/v1/geometry", q, data)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var stats types.GeometryStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("decode geometry response: %w", err)
	}
	return &stats, nil
}

// Healthy probes the render service health endpoint. Used only for
// startup diagnostics; the pipeline degrades per item when the service
// goes away later.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/health", nil)
	if err != nil {
		return fmt.Errorf("build render health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("render service unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("render service health returned status %d", resp.StatusCode)
	}
	return nil
}

// post ships raw design bytes to a render endpoint and returns the
// response when the status is 200. Callers own the response body.
func (c *Client) post(ctx context.Context, path string, query url.Values, data []byte) (*http.Response, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render service request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if msg := strings.TrimSpace(string(detail)); msg != "" {
			return nil, fmt.Errorf("render service returned status %d: %s", resp.StatusCode, msg)
		}
		return nil, fmt.Errorf("render service returned status %d", resp.StatusCode)
	}
	return resp, nil
}
