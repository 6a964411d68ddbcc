package types

import (
	"time"
)

// DesignFilter defines criteria for filtering designs
type DesignFilter struct {
	Tags        []string          `json:"tags,omitempty"`
	FileType    string            `json:"file_type,omitempty"`
	MinSize     int64             `json:"min_size,omitempty"`
	MaxSize     int64             `json:"max_size,omitempty"`
	AddedAfter  *time.Time        `json:"added_after,omitempty"`
	AddedBefore *time.Time        `json:"added_before,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Limit       int               `json:"limit,omitempty"`
	Offset      int               `json:"offset,omitempty"`
	SortBy      string            `json:"sort_by,omitempty"`
	SortOrder   string            `json:"sort_order,omitempty"`
}

// ImportJobSummary represents an active or completed import job as exposed
// to other modules through the service registry.
type ImportJobSummary struct {
	ID          uint       `json:"id"`
	Status      string     `json:"status"` // pending, scanning, processing, paused, completed, failed, cancelled
	SourceType  string     `json:"source_type"`
	SourcePath  string     `json:"source_path"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Progress    float64    `json:"progress"` // 0.0 to 100.0
	TotalFiles  int        `json:"total_files"`
	Processed   int        `json:"processed_files"`
	Succeeded   int        `json:"succeeded_files"`
	Failed      int        `json:"failed_files"`
	Skipped     int        `json:"skipped_files"`
}

// ImportProgress represents the live progress of an import job
type ImportProgress struct {
	JobID     uint      `json:"job_id"`
	Progress  float64   `json:"progress"`
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
	Rate      float64   `json:"rate"` // files per second
	ETA       time.Time `json:"eta"`
	Message   string    `json:"message,omitempty"`
}

