// Package events provides the in-process event distribution system.
// Events are transient: they fan out to live subscribers and a small
// recent-events buffer, but are never persisted.
package events

import (
	"time"
)

// EventType represents the type of an event
type EventType string

// Import job lifecycle events
const (
	EventJobStarted    EventType = "import.job.started"
	EventJobProgress   EventType = "import.job.progress"
	EventJobPaused     EventType = "import.job.paused"
	EventJobResumed    EventType = "import.job.resumed"
	EventJobCompleted  EventType = "import.job.completed"
	EventJobFailed     EventType = "import.job.failed"
	EventJobCancelled  EventType = "import.job.cancelled"
	EventJobCheckpoint EventType = "import.job.checkpoint"
	EventJobActivity   EventType = "import.job.activity"

	EventItemStarted EventType = "import.item.started"
	EventItemStep    EventType = "import.item.step"
	EventItemFailed  EventType = "import.item.failed"
)

// System events outside the import lifecycle
const (
	EventSystemStarted  EventType = "system.started"
	EventSystemShutdown EventType = "system.shutdown"
	EventWatchTriggered EventType = "watch.triggered"
)

// Payload is the closed set of event payload types. Each payload knows
// its own event type and schema version; consumers switch on the
// concrete type and must ignore kinds they do not recognize.
type Payload interface {
	Kind() EventType
	SchemaVersion() int
}

// JobStartedPayload reports that a job left the pending state
type JobStartedPayload struct {
	SourceType string `json:"source_type"`
	SourcePath string `json:"source_path"`
	TotalFiles int    `json:"total_files"`
}

func (JobStartedPayload) Kind() EventType    { return EventJobStarted }
func (JobStartedPayload) SchemaVersion() int { return 1 }

// JobProgressPayload carries counter updates published after each batch
type JobProgressPayload struct {
	Total      int     `json:"total"`
	Processed  int     `json:"processed"`
	Succeeded  int     `json:"succeeded"`
	Failed     int     `json:"failed"`
	Skipped    int     `json:"skipped"`
	Percent    float64 `json:"percent"`
	Rate       float64 `json:"rate,omitempty"`
	ETASeconds int64   `json:"eta_seconds,omitempty"`
	Message    string  `json:"message,omitempty"`
}

func (JobProgressPayload) Kind() EventType    { return EventJobProgress }
func (JobProgressPayload) SchemaVersion() int { return 1 }

// JobPausedPayload reports that the job settled into the paused state
type JobPausedPayload struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
}

func (JobPausedPayload) Kind() EventType    { return EventJobPaused }
func (JobPausedPayload) SchemaVersion() int { return 1 }

// JobResumedPayload reports a paused job returning to processing
type JobResumedPayload struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
}

func (JobResumedPayload) Kind() EventType    { return EventJobResumed }
func (JobResumedPayload) SchemaVersion() int { return 1 }

// JobCompletedPayload carries the final counters of a finished job
type JobCompletedPayload struct {
	Total           int   `json:"total"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	Skipped         int   `json:"skipped"`
	Duplicates      int   `json:"duplicates"`
	DurationSeconds int64 `json:"duration_seconds"`
}

func (JobCompletedPayload) Kind() EventType    { return EventJobCompleted }
func (JobCompletedPayload) SchemaVersion() int { return 1 }

// JobFailedPayload reports a job-level failure
type JobFailedPayload struct {
	Reason    string `json:"reason"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
}

func (JobFailedPayload) Kind() EventType    { return EventJobFailed }
func (JobFailedPayload) SchemaVersion() int { return 1 }

// JobCancelledPayload reports operator cancellation
type JobCancelledPayload struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
}

func (JobCancelledPayload) Kind() EventType    { return EventJobCancelled }
func (JobCancelledPayload) SchemaVersion() int { return 1 }

// JobCheckpointPayload reports that progress was durably persisted
type JobCheckpointPayload struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
}

func (JobCheckpointPayload) Kind() EventType    { return EventJobCheckpoint }
func (JobCheckpointPayload) SchemaVersion() int { return 1 }

// JobActivityPayload carries a human-readable status line for dashboards
type JobActivityPayload struct {
	Message string `json:"message"`
}

func (JobActivityPayload) Kind() EventType    { return EventJobActivity }
func (JobActivityPayload) SchemaVersion() int { return 1 }

// ItemStartedPayload reports that an item was claimed for processing
type ItemStartedPayload struct {
	ItemID   uint   `json:"item_id"`
	Filename string `json:"filename"`
}

func (ItemStartedPayload) Kind() EventType    { return EventItemStarted }
func (ItemStartedPayload) SchemaVersion() int { return 1 }

// ItemStepPayload reports pipeline step transitions for a single item
type ItemStepPayload struct {
	ItemID   uint   `json:"item_id"`
	Filename string `json:"filename"`
	Step     string `json:"step"`
}

func (ItemStepPayload) Kind() EventType    { return EventItemStep }
func (ItemStepPayload) SchemaVersion() int { return 1 }

// ItemFailedPayload reports a single item failure with its reason
type ItemFailedPayload struct {
	ItemID   uint   `json:"item_id"`
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
	Retry    int    `json:"retry"`
}

func (ItemFailedPayload) Kind() EventType    { return EventItemFailed }
func (ItemFailedPayload) SchemaVersion() int { return 1 }

// WatchTriggeredPayload reports that a watched folder went quiet and
// spawned an import job
type WatchTriggeredPayload struct {
	FolderID uint   `json:"folder_id"`
	Path     string `json:"path"`
}

func (WatchTriggeredPayload) Kind() EventType    { return EventWatchTriggered }
func (WatchTriggeredPayload) SchemaVersion() int { return 1 }

// SystemPayload is a general-purpose payload for non-job events
type SystemPayload struct {
	Type    EventType `json:"-"`
	Title   string    `json:"title"`
	Message string    `json:"message,omitempty"`
}

func (p SystemPayload) Kind() EventType  { return p.Type }
func (SystemPayload) SchemaVersion() int { return 1 }

// Event is the envelope delivered to subscribers
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Source    string    `json:"source,omitempty"`
	JobID     uint      `json:"job_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Version   int       `json:"version"`
	Payload   Payload   `json:"payload"`
}

// EventHandler is a function that processes events
type EventHandler func(event Event) error

// EventFilter selects which events a subscription receives. Zero-value
// fields match everything.
type EventFilter struct {
	Types []EventType
	JobID *uint
}

// Matches reports whether an event passes the filter
func (f EventFilter) Matches(event Event) bool {
	if f.JobID != nil && event.JobID != *f.JobID {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == event.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Subscription represents an active event subscription
type Subscription struct {
	ID           string
	Filter       EventFilter
	Handler      EventHandler
	Created      time.Time
	TriggerCount int64
}

// EventStats provides counters describing bus activity
type EventStats struct {
	TotalEvents   int64               `json:"total_events"`
	EventsByType  map[EventType]int64 `json:"events_by_type"`
	DroppedEvents int64               `json:"dropped_events"`
	Subscriptions int                 `json:"subscriptions"`
}

// BusConfig holds configuration for the event bus
type BusConfig struct {
	BufferSize      int
	MaxRecentEvents int
}

// DefaultBusConfig returns sensible defaults for the bus
func DefaultBusConfig() BusConfig {
	return BusConfig{
		BufferSize:      1000,
		MaxRecentEvents: 100,
	}
}

// NewEvent builds an envelope from a payload, stamping the type and
// schema version from the payload itself.
func NewEvent(jobID uint, payload Payload) Event {
	return Event{
		Type:      payload.Kind(),
		JobID:     jobID,
		Timestamp: time.Now().UTC(),
		Version:   payload.SchemaVersion(),
		Payload:   payload,
	}
}

// NewSystemEvent builds a non-job event with a title and message
func NewSystemEvent(eventType EventType, title, message string) Event {
	return NewEvent(0, SystemPayload{Type: eventType, Title: title, Message: message})
}
