package aimodule

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelbay/modelbay/internal/config"
	"github.com/modelbay/modelbay/internal/types"
)

func testClient(t *testing.T, maxTags int, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.AIConfig{
		BaseURL:        srv.URL,
		APIKey:         "test-key",
		Model:          "gpt-4o-mini",
		RequestTimeout: 5 * time.Second,
		MaxTags:        maxTags,
		PDFHintPages:   2,
	})
}

func TestGenerateMetadata(t *testing.T) {
	client := testClient(t, 8, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/describe", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req describeRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		assert.Equal(t, []byte("preview-bytes"), req.Image)
		assert.Equal(t, "webp", req.ImageFormat)
		assert.Equal(t, "dragon_knight.stl", req.FilenameHint)
		assert.Equal(t, "fantasy/dragons", req.FolderHint)
		assert.Equal(t, "stl", req.FileType)
		assert.Equal(t, 8, req.MaxTags)

		json.NewEncoder(w).Encode(describeResponse{
			Title:       "Dragon Knight",
			Description: "An armored dragon-riding knight.",
			Tags:        []string{"fantasy", "dragon", "knight"},
			Category:    "miniatures",
			Confidence:  0.92,
		})
	}))

	result, err := client.GenerateMetadata(context.Background(), types.AIMetadataRequest{
		PreviewImage: []byte("preview-bytes"),
		ImageFormat:  "webp",
		FilenameHint: "dragon_knight.stl",
		FolderHint:   "fantasy/dragons",
		FileType:     "stl",
	})
	require.NoError(t, err)
	assert.Equal(t, "Dragon Knight", result.Title)
	assert.Equal(t, "An armored dragon-riding knight.", result.Description)
	assert.Equal(t, []string{"fantasy", "dragon", "knight"}, result.Tags)
	assert.Equal(t, "miniatures", result.Category)
	assert.InDelta(t, 0.92, result.Confidence, 0.001)
	assert.True(t, result.Generated)
}

func TestGenerateMetadataNormalizesTags(t *testing.T) {
	client := testClient(t, 3, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(describeResponse{
			Title: "Benchy",
			Tags:  []string{" boat ", "Boat", "", "calibration", "benchy", "extra"},
		})
	}))

	result, err := client.GenerateMetadata(context.Background(), types.AIMetadataRequest{FilenameHint: "benchy.stl"})
	require.NoError(t, err)

	// Trimmed, case-insensitive dedupe with the first spelling kept,
	// clamped to the configured maximum.
	assert.Equal(t, []string{"boat", "calibration", "benchy"}, result.Tags)
}

func TestGenerateMetadataRejectsSchemaViolation(t *testing.T) {
	client := testClient(t, 8, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Missing the required title field.
		w.Write([]byte(`{"description": "no title here"}`))
	}))

	_, err := client.GenerateMetadata(context.Background(), types.AIMetadataRequest{FilenameHint: "x.stl"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema validation")
}

func TestGenerateMetadataRejectsBlankTitle(t *testing.T) {
	client := testClient(t, 8, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"title": "   "}`))
	}))

	_, err := client.GenerateMetadata(context.Background(), types.AIMetadataRequest{FilenameHint: "x.stl"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blank title")
}

func TestGenerateMetadataServerError(t *testing.T) {
	client := testClient(t, 8, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusTooManyRequests)
	}))

	_, err := client.GenerateMetadata(context.Background(), types.AIMetadataRequest{FilenameHint: "x.stl"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestExtractFallsBackToDerivedTitle(t *testing.T) {
	client := testClient(t, 8, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusServiceUnavailable)
	}))

	result := client.Extract(context.Background(), []byte("img"), types.AIMetadataRequest{
		FilenameHint: "dragon_knight-v2.stl",
		FileType:     "stl",
	})
	require.NotNil(t, result)
	assert.Equal(t, "Dragon Knight V2", result.Title)
	assert.False(t, result.Generated)
	assert.Empty(t, result.Tags)
	assert.Empty(t, result.Description)
}

func TestExtractPassesBackendResult(t *testing.T) {
	client := testClient(t, 8, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req describeRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []byte("composite"), req.Image)

		json.NewEncoder(w).Encode(describeResponse{Title: "Low Poly Fox", Confidence: 0.8})
	}))

	result := client.Extract(context.Background(), []byte("composite"), types.AIMetadataRequest{
		FilenameHint: "low.poly.fox.obj",
	})
	require.NotNil(t, result)
	assert.Equal(t, "Low Poly Fox", result.Title)
	assert.True(t, result.Generated)
}

func TestTextHintMissingFile(t *testing.T) {
	client := NewClient(config.AIConfig{PDFHintPages: 2, RequestTimeout: time.Second})
	assert.Equal(t, "", client.TextHint(filepath.Join(t.TempDir(), "nope.pdf")))
}

func TestCollapseWhitespace(t *testing.T) {
	in := "Print at  0.2mm\nlayer height.\n\n  Supports: yes"
	assert.Equal(t, "Print at 0.2mm layer height. Supports: yes", collapseWhitespace(in))
}

func TestClampHint(t *testing.T) {
	short := "brim recommended"
	assert.Equal(t, short, clampHint(short))

	long := strings.Repeat("ü", maxHintRunes+50)
	clamped := clampHint(long)
	assert.Equal(t, maxHintRunes, len([]rune(clamped)))
	assert.True(t, strings.HasPrefix(long, clamped))
}
