package importer

import (
	"context"

	"github.com/modelbay/modelbay/internal/types"
)

// The import engine consumes its collaborators through these interfaces.
// The render, AI, and storage modules provide the production
// implementations; tests substitute fakes.

// PreviewRenderer produces preview images from design file bytes. The
// preview result carries the 64-bit perceptual hash computed by the
// render service from the canonical angle.
type PreviewRenderer interface {
	RenderPreview(ctx context.Context, data []byte, fileType string) (*types.PreviewResult, error)

	// RenderMultiView returns a richer multi-angle composite used as
	// the AI extraction input for 3D formats.
	RenderMultiView(ctx context.Context, data []byte, fileType string) ([]byte, error)
}

// GeometryAnalyzer extracts mesh statistics from 3D formats. Analysis
// failures are never fatal to an item.
type GeometryAnalyzer interface {
	AnalyzeGeometry(ctx context.Context, data []byte, fileType string) (*types.GeometryStats, error)
}

// MetadataExtractor asks the AI backend to describe a design. Extract
// never fails: on any backend problem it returns a fallback result with
// a derived title, empty metadata, and Generated=false.
type MetadataExtractor interface {
	Extract(ctx context.Context, image []byte, req types.AIMetadataRequest) *types.AIMetadataResult
}

// ObjectStore persists original files and previews
type ObjectStore interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
	Get(ctx context.Context, path string) ([]byte, error)
	PublicURL(path string) string
	Delete(ctx context.Context, path string) error
}
