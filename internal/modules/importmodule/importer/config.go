package importer

import (
	"strings"

	"github.com/modelbay/modelbay/internal/database"
)

// Engine-wide constants. These are deliberately not per-job options.
const (
	// DefaultMaxRetries bounds automatic retry resets per item
	DefaultMaxRetries = 3

	// DefaultConcurrency is the per-batch parallelism when unset
	DefaultConcurrency = 5

	// DefaultCheckpointInterval is the processed-item cadence for
	// checkpoint events
	DefaultCheckpointInterval = 25

	// DefaultSimilarityThreshold is the near-duplicate cutoff (0-100)
	DefaultSimilarityThreshold = 85

	// DefaultPreviewTypePriority orders file types for bundle fronting
	// and preview source selection, most preferred first.
	DefaultPreviewTypePriority = "stl,3mf,obj,gltf,glb,ply,image"
)

// SourceType values accepted on job creation
const (
	SourceTypeFolder  = "folder"
	SourceTypeArchive = "archive"
	SourceTypeWatch   = "watch"
	SourceTypeRetry   = "retry"
)

var validSourceTypes = map[string]bool{
	SourceTypeFolder:  true,
	SourceTypeArchive: true,
	SourceTypeWatch:   true,
	SourceTypeRetry:   true,
}

// ApplyJobDefaults fills unset option fields in place. Zero values are
// treated as unset for numeric options.
func ApplyJobDefaults(job *database.ImportJob) {
	if job.Concurrency == 0 {
		job.Concurrency = DefaultConcurrency
	}
	if job.CheckpointInterval == 0 {
		job.CheckpointInterval = DefaultCheckpointInterval
	}
	if job.SimilarityThreshold == 0 {
		job.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if job.PreviewTypePriority == "" {
		job.PreviewTypePriority = DefaultPreviewTypePriority
	}
}

// ValidateJob rejects malformed job options before any state change
func ValidateJob(job *database.ImportJob) error {
	if job.Concurrency < 1 {
		return NewValidationError("concurrency", "must be at least 1")
	}
	if job.SimilarityThreshold < 0 || job.SimilarityThreshold > 100 {
		return NewValidationError("similarity_threshold", "must be between 0 and 100")
	}
	if job.CheckpointInterval < 1 {
		return NewValidationError("checkpoint_interval", "must be at least 1")
	}
	if strings.TrimSpace(job.SourcePath) == "" {
		return NewValidationError("source_path", "must not be empty")
	}
	if !validSourceTypes[job.SourceType] {
		return NewValidationError("source_type", "must be one of folder, archive, watch, retry")
	}
	return nil
}

// PreviewPriority parses the job's comma-separated preview type list
// into an ordered slice, lowercased and trimmed.
func PreviewPriority(job *database.ImportJob) []string {
	if job.PreviewTypePriority == "" {
		return nil
	}
	parts := strings.Split(job.PreviewTypePriority, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
