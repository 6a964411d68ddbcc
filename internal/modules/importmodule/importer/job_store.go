package importer

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/modelbay/modelbay/internal/database"
)

// JobStatus represents the lifecycle state of an import job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusScanning   JobStatus = "scanning"
	JobStatusProcessing JobStatus = "processing"
	JobStatusPaused     JobStatus = "paused"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// jobTransitions is the allowed-edge table of the job state machine.
// Terminal states have no outgoing edges.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusScanning},
	JobStatusScanning:   {JobStatusProcessing, JobStatusFailed, JobStatusCancelled},
	JobStatusProcessing: {JobStatusPaused, JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
	JobStatusPaused:     {JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
	JobStatusCompleted:  {},
	JobStatusFailed:     {},
	JobStatusCancelled:  {},
}

// IsTerminal reports whether the status has no outgoing transitions
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

func (s JobStatus) canTransitionTo(to JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Counters is a cumulative counter snapshot merged into the job row.
// Merges are monotonic per field; processed never decreases.
type Counters struct {
	Processed int
	Succeeded int
	Failed    int
	Skipped   int
}

// ETA is the derived completion estimate for a processing job
type ETA struct {
	ItemsPerMinute   float64 `json:"items_per_minute"`
	SecondsRemaining int64   `json:"seconds_remaining"`
}

// JobStore owns all reads and writes of import_jobs rows
type JobStore struct {
	db *gorm.DB
}

// NewJobStore creates a job store bound to the given database
func NewJobStore(db *gorm.DB) *JobStore {
	return &JobStore{db: db}
}

// Create validates the job options, applies defaults, and inserts the
// job in pending state.
func (s *JobStore) Create(job *database.ImportJob) error {
	ApplyJobDefaults(job)
	if err := ValidateJob(job); err != nil {
		return err
	}
	job.Status = string(JobStatusPending)
	if err := s.db.Create(job).Error; err != nil {
		return &DatabaseError{Op: "create job", Err: err}
	}
	return nil
}

// Get fetches a single job by id
func (s *JobStore) Get(jobID uint) (*database.ImportJob, error) {
	var job database.ImportJob
	if err := s.db.First(&job, jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, &DatabaseError{Op: "get job", Err: err}
	}
	return &job, nil
}

// List returns jobs ordered newest first, optionally filtered by status
func (s *JobStore) List(status string, limit, offset int) ([]database.ImportJob, int64, error) {
	query := s.db.Model(&database.ImportJob{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, &DatabaseError{Op: "count jobs", Err: err}
	}

	var jobs []database.ImportJob
	if limit <= 0 {
		limit = 50
	}
	err := query.Order("id DESC").Limit(limit).Offset(offset).Find(&jobs).Error
	if err != nil {
		return nil, 0, &DatabaseError{Op: "list jobs", Err: err}
	}
	return jobs, total, nil
}

// FindInterrupted returns jobs left in a non-terminal working state,
// which only happens after a process crash.
func (s *JobStore) FindInterrupted() ([]database.ImportJob, error) {
	var jobs []database.ImportJob
	err := s.db.Where("status IN ?", []string{
		string(JobStatusScanning),
		string(JobStatusProcessing),
		string(JobStatusPaused),
	}).Find(&jobs).Error
	if err != nil {
		return nil, &DatabaseError{Op: "find interrupted jobs", Err: err}
	}
	return jobs, nil
}

// ProjectsByJob returns the detected projects of a job in scan order
func (s *JobStore) ProjectsByJob(jobID uint) ([]database.DetectedProject, error) {
	var projects []database.DetectedProject
	err := s.db.Where("job_id = ?", jobID).Order("id ASC").Find(&projects).Error
	if err != nil {
		return nil, &DatabaseError{Op: "list detected projects", Err: err}
	}
	return projects, nil
}

// Transition moves a job along an allowed edge of the state machine.
// Side effects: StartedAt on first entry into processing, ResumedAt on
// re-entry from paused, CompletedAt on entry into any terminal state.
func (s *JobStore) Transition(jobID uint, to JobStatus) error {
	return s.TransitionWithMessage(jobID, to, "")
}

// TransitionWithMessage is Transition plus a job-level error message,
// used when moving to failed.
func (s *JobStore) TransitionWithMessage(jobID uint, to JobStatus, errorMsg string) error {
	job, err := s.Get(jobID)
	if err != nil {
		return err
	}
	from := JobStatus(job.Status)
	if !from.canTransitionTo(to) {
		return &InvalidTransitionError{JobID: jobID, From: from, To: to}
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status": string(to),
	}
	if to == JobStatusProcessing {
		if job.StartedAt == nil {
			updates["started_at"] = &now
		}
		if from == JobStatusPaused {
			updates["resumed_at"] = &now
		}
	}
	if to.IsTerminal() {
		updates["completed_at"] = &now
	}
	if errorMsg != "" {
		updates["error_message"] = errorMsg
	}

	// Status-guarded update so a concurrent transition loses cleanly
	// instead of clobbering.
	tx := s.db.Model(&database.ImportJob{}).
		Where("id = ? AND status = ?", jobID, string(from)).
		Updates(updates)
	if tx.Error != nil {
		return &DatabaseError{Op: "transition job", Err: tx.Error}
	}
	if tx.RowsAffected == 0 {
		current, err := s.Get(jobID)
		if err != nil {
			return err
		}
		return &InvalidTransitionError{JobID: jobID, From: JobStatus(current.Status), To: to}
	}
	return nil
}

// UpdateProgress merges cumulative counters into the job row. Each
// field only ever moves up, so a stale writer cannot roll progress back.
func (s *JobStore) UpdateProgress(jobID uint, c Counters) error {
	job, err := s.Get(jobID)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{}
	if c.Processed > job.ProcessedFiles {
		updates["processed_files"] = c.Processed
	}
	if c.Succeeded > job.SucceededFiles {
		updates["succeeded_files"] = c.Succeeded
	}
	if c.Failed > job.FailedFiles {
		updates["failed_files"] = c.Failed
	}
	if c.Skipped > job.SkippedFiles {
		updates["skipped_files"] = c.Skipped
	}
	if len(updates) == 0 {
		return nil
	}

	err = s.db.Model(&database.ImportJob{}).Where("id = ?", jobID).Updates(updates).Error
	if err != nil {
		return &DatabaseError{Op: "update progress", Err: err}
	}
	return nil
}

// SetTotalFiles records the scan result on the job
func (s *JobStore) SetTotalFiles(jobID uint, total int) error {
	err := s.db.Model(&database.ImportJob{}).Where("id = ?", jobID).
		Update("total_files", total).Error
	if err != nil {
		return &DatabaseError{Op: "set total files", Err: err}
	}
	return nil
}

// SetStatusMessage updates the human-readable activity line
func (s *JobStore) SetStatusMessage(jobID uint, message string) error {
	err := s.db.Model(&database.ImportJob{}).Where("id = ?", jobID).
		Update("status_message", message).Error
	if err != nil {
		return &DatabaseError{Op: "set status message", Err: err}
	}
	return nil
}

// JobCleanupDays defines how long terminal jobs are kept before the
// periodic cleanup removes them and their items.
const JobCleanupDays = 30

// CleanupOldJobs removes terminal jobs older than JobCleanupDays along
// with their items and detected projects. Returns the number of jobs
// removed.
func (s *JobStore) CleanupOldJobs() (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -JobCleanupDays)

	var old []database.ImportJob
	err := s.db.Where("status IN ? AND completed_at < ?", []string{
		string(JobStatusCompleted),
		string(JobStatusFailed),
		string(JobStatusCancelled),
	}, cutoff).Find(&old).Error
	if err != nil {
		return 0, &DatabaseError{Op: "find old jobs", Err: err}
	}
	if len(old) == 0 {
		return 0, nil
	}

	ids := make([]uint, 0, len(old))
	for _, job := range old {
		ids = append(ids, job.ID)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id IN ?", ids).Delete(&database.ImportItem{}).Error; err != nil {
			return err
		}
		if err := tx.Where("job_id IN ?", ids).Delete(&database.DetectedProject{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&database.ImportJob{}).Error
	})
	if err != nil {
		return 0, &DatabaseError{Op: "cleanup old jobs", Err: err}
	}
	return int64(len(ids)), nil
}

// ComputeETA derives the completion estimate from elapsed time and the
// processed count. Returns nil when the job is not processing or the
// rate is zero.
func ComputeETA(job *database.ImportJob) *ETA {
	if JobStatus(job.Status) != JobStatusProcessing || job.StartedAt == nil {
		return nil
	}
	elapsed := time.Since(*job.StartedAt)
	if elapsed <= 0 || job.ProcessedFiles <= 0 {
		return nil
	}
	rate := float64(job.ProcessedFiles) / elapsed.Minutes()
	if rate <= 0 {
		return nil
	}
	remaining := job.TotalFiles - job.ProcessedFiles
	if remaining < 0 {
		remaining = 0
	}
	seconds := int64(float64(remaining) / rate * 60)
	return &ETA{
		ItemsPerMinute:   rate,
		SecondsRemaining: seconds,
	}
}

// Progress returns the completion percentage for a job, clamped to 0-100
func Progress(job *database.ImportJob) float64 {
	if job.TotalFiles <= 0 {
		if JobStatus(job.Status).IsTerminal() {
			return 100
		}
		return 0
	}
	pct := float64(job.ProcessedFiles) / float64(job.TotalFiles) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Summarize renders a one-line progress summary for logs and the
// job's status message.
func Summarize(job *database.ImportJob) string {
	return fmt.Sprintf("job %d [%s] %d/%d processed (%d ok, %d failed, %d skipped)",
		job.ID, job.Status, job.ProcessedFiles, job.TotalFiles,
		job.SucceededFiles, job.FailedFiles, job.SkippedFiles)
}
