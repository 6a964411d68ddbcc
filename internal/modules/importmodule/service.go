package importmodule

import (
	"context"
	"time"

	"github.com/modelbay/modelbay/internal/database"
	"github.com/modelbay/modelbay/internal/modules/importmodule/importer"
	"github.com/modelbay/modelbay/internal/types"
)

// ServiceAdapter exposes the manager through the cross-module
// ImportService contract. Other modules (watch folders aside, which
// live in this package) never see the manager directly.
type ServiceAdapter struct {
	manager *Manager
}

// NewServiceAdapter wraps a manager for service-registry consumers
func NewServiceAdapter(manager *Manager) *ServiceAdapter {
	return &ServiceAdapter{manager: manager}
}

// StartImport creates and launches a job from a generic options map.
// Recognized keys: concurrency, checkpoint_interval, generate_previews,
// generate_ai_metadata, detect_duplicates, exact_duplicates_only,
// auto_publish, similarity_threshold, preview_type_priority,
// adaptive_throttle. Unknown keys are ignored.
func (s *ServiceAdapter) StartImport(ctx context.Context, sourceType, sourcePath string, opts map[string]interface{}) (*types.ImportJobSummary, error) {
	job := &database.ImportJob{
		SourceType: sourceType,
		SourcePath: sourcePath,

		GeneratePreviews:   true,
		GenerateAIMetadata: true,
		DetectDuplicates:   true,
	}

	if v, ok := optInt(opts, "concurrency"); ok {
		job.Concurrency = v
	}
	if v, ok := optInt(opts, "checkpoint_interval"); ok {
		job.CheckpointInterval = v
	}
	if v, ok := optBool(opts, "generate_previews"); ok {
		job.GeneratePreviews = v
	}
	if v, ok := optBool(opts, "generate_ai_metadata"); ok {
		job.GenerateAIMetadata = v
	}
	if v, ok := optBool(opts, "detect_duplicates"); ok {
		job.DetectDuplicates = v
	}
	if v, ok := optBool(opts, "exact_duplicates_only"); ok {
		job.ExactDuplicatesOnly = v
	}
	if v, ok := optBool(opts, "auto_publish"); ok {
		job.AutoPublish = v
	}
	if v, ok := optInt(opts, "similarity_threshold"); ok {
		job.SimilarityThreshold = v
	}
	if v, ok := optString(opts, "preview_type_priority"); ok {
		job.PreviewTypePriority = v
	}
	if v, ok := optBool(opts, "adaptive_throttle"); ok {
		job.AdaptiveThrottle = v
	}

	if err := s.manager.StartJob(job); err != nil {
		return nil, err
	}
	return jobSummary(job), nil
}

// GetImportProgress returns a live progress snapshot for one job
func (s *ServiceAdapter) GetImportProgress(ctx context.Context, jobID uint) (*types.ImportProgress, error) {
	job, err := s.manager.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	progress := &types.ImportProgress{
		JobID:     job.ID,
		Progress:  importer.Progress(job),
		Processed: job.ProcessedFiles,
		Total:     job.TotalFiles,
		Message:   job.StatusMessage,
	}
	if eta := importer.ComputeETA(job); eta != nil {
		progress.Rate = eta.ItemsPerMinute / 60
		progress.ETA = time.Now().Add(time.Duration(eta.SecondsRemaining) * time.Second)
	}
	return progress, nil
}

// PauseImport pauses a running import job between batches
func (s *ServiceAdapter) PauseImport(ctx context.Context, jobID uint) error {
	return s.manager.Pause(jobID)
}

// ResumeImport resumes a paused import job
func (s *ServiceAdapter) ResumeImport(ctx context.Context, jobID uint) error {
	return s.manager.Resume(jobID)
}

// CancelImport cancels a running or paused import job
func (s *ServiceAdapter) CancelImport(ctx context.Context, jobID uint) error {
	return s.manager.Cancel(jobID)
}

// GetActiveImportJobs lists jobs with a live control loop
func (s *ServiceAdapter) GetActiveImportJobs(ctx context.Context) ([]*types.ImportJobSummary, error) {
	jobs, err := s.manager.ActiveJobs()
	if err != nil {
		return nil, err
	}
	summaries := make([]*types.ImportJobSummary, 0, len(jobs))
	for _, job := range jobs {
		summaries = append(summaries, jobSummary(job))
	}
	return summaries, nil
}

// jobSummary flattens a job row into the cross-module summary shape
func jobSummary(job *database.ImportJob) *types.ImportJobSummary {
	return &types.ImportJobSummary{
		ID:          job.ID,
		Status:      job.Status,
		SourceType:  job.SourceType,
		SourcePath:  job.SourcePath,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		Progress:    importer.Progress(job),
		TotalFiles:  job.TotalFiles,
		Processed:   job.ProcessedFiles,
		Succeeded:   job.SucceededFiles,
		Failed:      job.FailedFiles,
		Skipped:     job.SkippedFiles,
	}
}

// Option map coercions. Values arrive either native or JSON-decoded,
// so numerics may be float64.

func optInt(opts map[string]interface{}, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func optBool(opts map[string]interface{}, key string) (bool, bool) {
	v, ok := opts[key].(bool)
	return v, ok
}

func optString(opts map[string]interface{}, key string) (string, bool) {
	v, ok := opts[key].(string)
	return v, ok
}
