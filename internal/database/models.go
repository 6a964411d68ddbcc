package database

import (
	"database/sql/driver"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ProjectRole enum for import_items.project_role and design_files.role
type ProjectRole string

const (
	RolePrimary   ProjectRole = "primary"
	RoleVariant   ProjectRole = "variant"
	RoleComponent ProjectRole = "component"
)

func (r ProjectRole) Value() (driver.Value, error) {
	return string(r), nil
}

func (r *ProjectRole) Scan(value interface{}) error {
	if value == nil {
		*r = ""
		return nil
	}
	switch s := value.(type) {
	case string:
		*r = ProjectRole(s)
	case []byte:
		*r = ProjectRole(s)
	default:
		return fmt.Errorf("cannot scan %T into ProjectRole", value)
	}
	return nil
}

// =============================================================================
// IMPORT TABLES
// =============================================================================

// ImportJob represents one import run over a folder, archive, or retry set
type ImportJob struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	Status     string `gorm:"not null;default:'pending';index" json:"status"` // pending, scanning, processing, paused, completed, failed, cancelled
	SourceType string `gorm:"not null" json:"source_type"`                    // folder, archive, watch, retry
	SourcePath string `gorm:"not null" json:"source_path"`

	// Per-job options, flattened and validated at create time
	Concurrency         int    `gorm:"default:5" json:"concurrency"`
	CheckpointInterval  int    `gorm:"default:25" json:"checkpoint_interval"`
	// Boolean options carry no column default: gorm omits zero values
	// for defaulted columns, which would turn an explicit false back
	// into true. The API layer defaults absent fields instead.
	GeneratePreviews    bool   `json:"generate_previews"`
	GenerateAIMetadata  bool   `json:"generate_ai_metadata"`
	DetectDuplicates    bool   `json:"detect_duplicates"`
	ExactDuplicatesOnly bool   `json:"exact_duplicates_only"`
	AutoPublish         bool   `json:"auto_publish"`
	SimilarityThreshold int    `gorm:"default:85" json:"similarity_threshold"`
	PreviewTypePriority string `json:"preview_type_priority"` // comma-separated file types, most preferred first
	AdaptiveThrottle    bool   `json:"adaptive_throttle"`

	// Counters are monotonic; processed = succeeded + failed + skipped
	TotalFiles     int `gorm:"default:0" json:"total_files"`
	ProcessedFiles int `gorm:"default:0" json:"processed_files"`
	SucceededFiles int `gorm:"default:0" json:"succeeded_files"`
	FailedFiles    int `gorm:"default:0" json:"failed_files"`
	SkippedFiles   int `gorm:"default:0" json:"skipped_files"`

	ErrorMessage  string `json:"error_message,omitempty"`  // job-level fatal errors only
	StatusMessage string `json:"status_message,omitempty"` // human-readable activity line

	StartedAt   *time.Time `json:"started_at,omitempty"`
	ResumedAt   *time.Time `json:"resumed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ImportItem represents one discovered source file inside a job
type ImportItem struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	JobID      uint   `gorm:"not null;index:idx_import_items_job_id" json:"job_id"`
	SourcePath string `gorm:"not null" json:"source_path"`
	Filename   string `gorm:"not null" json:"filename"`
	FileType   string `gorm:"index" json:"file_type"` // stl, obj, 3mf, gltf, glb, ply, image, pdf, ...
	FileSize   int64  `gorm:"default:0" json:"file_size"`

	ContentHash string `gorm:"index" json:"content_hash"`                      // empty until computed
	Status      string `gorm:"not null;default:'pending';index" json:"status"` // pending, processing, completed, failed, skipped, duplicate

	DetectedProjectID *uint       `gorm:"index" json:"detected_project_id,omitempty"`
	ProjectRole       ProjectRole `gorm:"type:text" json:"project_role,omitempty"` // empty until the bundler assigns it

	RetryCount int `gorm:"default:0" json:"retry_count"`

	// Outcome references, set when the item completes
	DesignID        *string  `gorm:"type:varchar(36)" json:"design_id,omitempty"`
	DesignFileID    *string  `gorm:"type:varchar(36)" json:"design_file_id,omitempty"`
	DuplicateOfID   *string  `gorm:"type:varchar(36)" json:"duplicate_of_id,omitempty"`
	SimilarityScore *float64 `json:"similarity_score,omitempty"`

	AIMetadataRequested bool `gorm:"default:false" json:"ai_metadata_requested"`
	AIMetadataGenerated bool `gorm:"default:false" json:"ai_metadata_generated"`

	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// DetectedProject groups items that were discovered together during the
// scanning phase. Read-only once processing starts.
type DetectedProject struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	JobID     uint      `gorm:"not null;index" json:"job_id"`
	Name      string    `gorm:"not null" json:"name"`
	MergeHint string    `json:"merge_hint"` // stem or directory
	CreatedAt time.Time `json:"created_at"`
}

// WatchFolder is a directory monitored for auto-import
type WatchFolder struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Path      string    `gorm:"uniqueIndex;not null" json:"path"`
	Enabled   bool      `json:"enabled"`
	LastJobID *uint     `json:"last_job_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// =============================================================================
// DESIGN LIBRARY TABLES
// =============================================================================

// Design is a logical design in the library, created by the import pipeline
type Design struct {
	ID          string `gorm:"type:varchar(36);primaryKey" json:"id"`
	Title       string `gorm:"not null;index" json:"title"`
	Slug        string `gorm:"uniqueIndex;not null" json:"slug"`
	Description string `gorm:"type:text" json:"description"`
	Category    string `gorm:"index" json:"category"`
	PreviewPath string `json:"preview_path"`
	Published   bool   `gorm:"default:false" json:"published"`
	AIGenerated bool   `gorm:"default:false" json:"ai_generated"`

	// Geometry stats from the render service, nullable when analysis failed
	WidthMM       *float64 `json:"width_mm,omitempty"`
	HeightMM      *float64 `json:"height_mm,omitempty"`
	DepthMM       *float64 `json:"depth_mm,omitempty"`
	VolumeCm3     *float64 `json:"volume_cm3,omitempty"`
	SurfaceCm2    *float64 `json:"surface_cm2,omitempty"`
	TriangleCount *int     `json:"triangle_count,omitempty"`
	Complexity    string   `json:"complexity,omitempty"` // low, medium, high

	Tags []Tag `gorm:"many2many:design_tags" json:"tags,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// DesignFile is a stored file belonging to a design
type DesignFile struct {
	ID             string      `gorm:"type:varchar(36);primaryKey" json:"id"`
	DesignID       string      `gorm:"type:varchar(36);not null;index" json:"design_id"`
	Role           ProjectRole `gorm:"type:text;not null" json:"role"`
	OriginalName   string      `gorm:"not null" json:"original_name"`
	FileType       string      `gorm:"index" json:"file_type"`
	SizeBytes      int64       `gorm:"not null" json:"size_bytes"`
	ContentHash    string      `gorm:"not null;index:idx_design_files_content_hash" json:"content_hash"`
	PerceptualHash string      `json:"perceptual_hash,omitempty"` // 64-bit hash as hex, empty when none
	StoragePath    string      `gorm:"not null" json:"storage_path"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Tag is a simple label attached to designs
type Tag struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"uniqueIndex;not null" json:"name"`
}
