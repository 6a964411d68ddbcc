package rendermodule

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelbay/modelbay/internal/config"
	"github.com/modelbay/modelbay/internal/types"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.RenderConfig{
		BaseURL:        srv.URL,
		RequestTimeout: 5 * time.Second,
		MultiViewCount: 4,
	})
}

func TestRenderPreview(t *testing.T) {
	design := []byte("solid cube\nendsolid cube\n")

	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/preview", r.URL.Path)
		assert.Equal(t, "stl", r.URL.Query().Get("type"))
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Equal(t, design, body)

		json.NewEncoder(w).Encode(previewResponse{
			Image:  []byte("fake-webp-bytes"),
			Format: "webp",
			Width:  1024,
			Height: 768,
			PHash:  "00000000000000ff",
		})
	}))

	result, err := client.RenderPreview(context.Background(), design, "stl")
	require.NoError(t, err)
	assert.Equal(t, []byte("fake-webp-bytes"), result.Image)
	assert.Equal(t, "webp", result.Format)
	assert.Equal(t, 1024, result.Width)
	assert.Equal(t, 768, result.Height)
	assert.Equal(t, uint64(255), result.PerceptualHash)
}

func TestRenderPreviewWithoutHash(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(previewResponse{Image: []byte("img"), Format: "png"})
	}))

	result, err := client.RenderPreview(context.Background(), []byte("data"), "obj")
	require.NoError(t, err)
	assert.Zero(t, result.PerceptualHash)
}

func TestRenderPreviewMalformedHash(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(previewResponse{Image: []byte("img"), PHash: "not-hex"})
	}))

	_, err := client.RenderPreview(context.Background(), []byte("data"), "stl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "perceptual hash")
}

func TestRenderPreviewEmptyImage(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(previewResponse{Format: "png"})
	}))

	_, err := client.RenderPreview(context.Background(), []byte("data"), "stl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty preview image")
}

func TestRenderPreviewServerError(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "mesh parse failed", http.StatusServiceUnavailable)
	}))

	_, err := client.RenderPreview(context.Background(), []byte("data"), "stl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
	assert.Contains(t, err.Error(), "mesh parse failed")
}

func TestRenderMultiView(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/multiview", r.URL.Path)
		assert.Equal(t, "3mf", r.URL.Query().Get("type"))
		assert.Equal(t, "4", r.URL.Query().Get("views"))

		json.NewEncoder(w).Encode(map[string][]byte{"image": []byte("composite")})
	}))

	image, err := client.RenderMultiView(context.Background(), []byte("data"), "3mf")
	require.NoError(t, err)
	assert.Equal(t, []byte("composite"), image)
}

func TestAnalyzeGeometry(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/geometry", r.URL.Path)
		assert.Equal(t, "stl", r.URL.Query().Get("type"))

		json.NewEncoder(w).Encode(types.GeometryStats{
			TriangleCount: 5120,
			VertexCount:   2562,
			WidthMM:       42.5,
			HeightMM:      30,
			DepthMM:       18.25,
			VolumeCM3:     12.7,
			SurfaceCM2:    88.4,
			Watertight:    true,
			Units:         "mm",
		})
	}))

	stats, err := client.AnalyzeGeometry(context.Background(), []byte("data"), "stl")
	require.NoError(t, err)
	assert.Equal(t, 5120, stats.TriangleCount)
	assert.Equal(t, 2562, stats.VertexCount)
	assert.InDelta(t, 42.5, stats.WidthMM, 0.001)
	assert.True(t, stats.Watertight)
	assert.Equal(t, "mm", stats.Units)
}

func TestHealthy(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))

	assert.NoError(t, client.Healthy(context.Background()))
}

func TestHealthyDown(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	err := client.Healthy(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}
