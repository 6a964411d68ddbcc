package aimodule

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/modelbay/modelbay/internal/config"
	"github.com/modelbay/modelbay/internal/logger"
	"github.com/modelbay/modelbay/internal/modules/importmodule/importer"
	"github.com/modelbay/modelbay/internal/services"
	"github.com/modelbay/modelbay/internal/types"
)

// Client talks to the AI metadata backend over HTTP. GenerateMetadata
// is the strict form that reports failures; Extract is the pipeline
// form that never fails and falls back to a title derived from the
// filename.
type Client struct {
	baseURL  string
	apiKey   string
	model    string
	maxTags  int
	pdfPages int
	http     *http.Client
}

var (
	_ importer.MetadataExtractor = (*Client)(nil)
	_ importer.TextHintExtractor = (*Client)(nil)
	_ services.AIService         = (*Client)(nil)
)

// NewClient creates an AI metadata client from configuration
func NewClient(cfg config.AIConfig) *Client {
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		maxTags:  cfg.MaxTags,
		pdfPages: cfg.PDFHintPages,
		http:     &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// describeRequest is the wire form of a metadata request. The preview
// image rides along base64-encoded.
type describeRequest struct {
	Model        string `json:"model"`
	Image        []byte `json:"image,omitempty"`
	ImageFormat  string `json:"image_format,omitempty"`
	FilenameHint string `json:"filename_hint"`
	FolderHint   string `json:"folder_hint,omitempty"`
	TextHint     string `json:"text_hint,omitempty"`
	FileType     string `json:"file_type"`
	MaxTags      int    `json:"max_tags"`
}

type describeResponse struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Category    string   `json:"category"`
	Confidence  float64  `json:"confidence"`
}

// GenerateMetadata asks the backend to describe a design and validates
// the response against the embedded schema before trusting it.
func (c *Client) GenerateMetadata(ctx context.Context, req types.AIMetadataRequest) (*types.AIMetadataResult, error) {
	payload, err := json.Marshal(describeRequest{
		Model:        c.model,
		Image:        req.PreviewImage,
		ImageFormat:  req.ImageFormat,
		FilenameHint: req.FilenameHint,
		FolderHint:   req.FolderHint,
		TextHint:     req.TextHint,
		FileType:     req.FileType,
		MaxTags:      c.maxTags,
	})
	if err != nil {
		return nil, fmt.Errorf("encode metadata request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/describe", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build metadata request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("AI service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if msg := strings.TrimSpace(string(detail)); msg != "" {
			return nil, fmt.Errorf("AI service returned status %d: %s", resp.StatusCode, msg)
		}
		return nil, fmt.Errorf("AI service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read metadata response: %w", err)
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal metadata response: %w", err)
	}
	if err := metadataSchema.Validate(raw); err != nil {
		return nil, fmt.Errorf("metadata response failed schema validation: %w", err)
	}

	var decoded describeResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode metadata response: %w", err)
	}

	title := strings.TrimSpace(decoded.Title)
	if title == "" {
		return nil, errors.New("AI service returned a blank title")
	}

	return &types.AIMetadataResult{
		Title:       title,
		Description: strings.TrimSpace(decoded.Description),
		Tags:        normalizeTags(decoded.Tags, c.maxTags),
		Category:    strings.TrimSpace(decoded.Category),
		Confidence:  decoded.Confidence,
		Generated:   true,
	}, nil
}

// Extract is the never-fails form used by the import pipeline. On any
// backend problem it degrades to a title derived from the filename.
func (c *Client) Extract(ctx context.Context, image []byte, req types.AIMetadataRequest) *types.AIMetadataResult {
	req.PreviewImage = image

	result, err := c.GenerateMetadata(ctx, req)
	if err != nil {
		logger.Debug("AI metadata extraction failed for %s: %v (using derived title)", req.FilenameHint, err)
		return &types.AIMetadataResult{
			Title:     importer.DeriveTitle(req.FilenameHint),
			Generated: false,
		}
	}
	return result
}

// normalizeTags trims, deduplicates case-insensitively (first spelling
// wins), and clamps to the configured maximum.
func normalizeTags(raw []string, max int) []string {
	if max <= 0 {
		max = len(raw)
	}
	seen := make(map[string]struct{}, len(raw))
	tags := make([]string, 0, len(raw))
	for _, tag := range raw {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		tags = append(tags, tag)
		if len(tags) == max {
			break
		}
	}
	return tags
}
