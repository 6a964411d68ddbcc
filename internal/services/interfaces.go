package services

import (
	"context"

	"github.com/modelbay/modelbay/internal/database"
	"github.com/modelbay/modelbay/internal/types"
)

// Standard service interface pattern for all modules
//
// Each module should define a clean interface following this pattern:
// - Clear, focused functionality
// - Context-aware operations
// - Proper error handling
// - No internal types exposed

// ImportService defines the interface for bulk import operations
type ImportService interface {
	// StartImport creates and starts a new import job for a source path
	StartImport(ctx context.Context, sourceType, sourcePath string, opts map[string]interface{}) (*types.ImportJobSummary, error)

	// GetImportProgress returns the live progress of an import job
	GetImportProgress(ctx context.Context, jobID uint) (*types.ImportProgress, error)

	// PauseImport pauses a running import job between batches
	PauseImport(ctx context.Context, jobID uint) error

	// ResumeImport resumes a paused import job
	ResumeImport(ctx context.Context, jobID uint) error

	// CancelImport cancels a pending, running, or paused import job
	CancelImport(ctx context.Context, jobID uint) error

	// GetActiveImportJobs lists jobs that are not in a terminal state
	GetActiveImportJobs(ctx context.Context) ([]*types.ImportJobSummary, error)
}

// DesignService defines the interface for design catalog access
type DesignService interface {
	GetDesign(ctx context.Context, id string) (*database.Design, error)
	GetDesignBySlug(ctx context.Context, slug string) (*database.Design, error)
	ListDesigns(ctx context.Context, filter types.DesignFilter) ([]*database.Design, error)
	DeleteDesign(ctx context.Context, id string) error

	// File-level access
	GetDesignFiles(ctx context.Context, designID string) ([]*database.DesignFile, error)
	FindFileByContentHash(ctx context.Context, hash string) (*database.DesignFile, error)
}

// StorageService defines the interface for object storage. It matches
// the import engine's ObjectStore so one implementation serves both.
type StorageService interface {
	// Put stores a blob at the given store path
	Put(ctx context.Context, path string, data []byte, contentType string) error

	// Get retrieves a blob by store path
	Get(ctx context.Context, path string) ([]byte, error)

	// PublicURL returns the URL a client can fetch the blob from
	PublicURL(path string) string

	// Delete removes a blob by store path
	Delete(ctx context.Context, path string) error
}

// RenderService defines the interface to the preview rendering backend
type RenderService interface {
	// RenderPreview produces a preview image plus its 64-bit perceptual hash
	RenderPreview(ctx context.Context, data []byte, fileType string) (*types.PreviewResult, error)

	// RenderMultiView produces a richer multi-angle composite for 3D formats
	RenderMultiView(ctx context.Context, data []byte, fileType string) ([]byte, error)

	// AnalyzeGeometry extracts mesh statistics from a 3D design file
	AnalyzeGeometry(ctx context.Context, data []byte, fileType string) (*types.GeometryStats, error)
}

// AIService defines the interface to the AI metadata backend
type AIService interface {
	// GenerateMetadata produces a title, description, and tags for a design
	// from its preview image plus filename and folder hints.
	GenerateMetadata(ctx context.Context, req types.AIMetadataRequest) (*types.AIMetadataResult, error)
}
