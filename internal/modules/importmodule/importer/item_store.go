package importer

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/modelbay/modelbay/internal/database"
)

// ItemStatus represents the lifecycle state of a single import item
type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusFailed     ItemStatus = "failed"
	ItemStatusSkipped    ItemStatus = "skipped"
	ItemStatusDuplicate  ItemStatus = "duplicate"
)

// IsTerminal reports whether the item status is final. The only way
// back out of a terminal state is ResetForRetry on failed items.
func (s ItemStatus) IsTerminal() bool {
	switch s {
	case ItemStatusCompleted, ItemStatusFailed, ItemStatusSkipped, ItemStatusDuplicate:
		return true
	}
	return false
}

// CompletedResult carries the outcome references recorded on success
type CompletedResult struct {
	DesignID            string
	DesignFileID        string
	AIMetadataRequested bool
	AIMetadataGenerated bool
}

// ItemStore owns all reads and writes of import_items rows. Terminal
// transitions are idempotent on re-application of the same state and
// reject everything else with IllegalTransitionError.
type ItemStore struct {
	db *gorm.DB
}

// NewItemStore creates an item store bound to the given database
func NewItemStore(db *gorm.DB) *ItemStore {
	return &ItemStore{db: db}
}

// CreateBatch inserts items discovered by the scan in chunks
func (s *ItemStore) CreateBatch(items []database.ImportItem) error {
	if len(items) == 0 {
		return nil
	}
	if err := s.db.CreateInBatches(items, 100).Error; err != nil {
		return &DatabaseError{Op: "create items", Err: err}
	}
	return nil
}

// Get fetches a single item by id
func (s *ItemStore) Get(itemID uint) (*database.ImportItem, error) {
	var item database.ImportItem
	if err := s.db.First(&item, itemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, &DatabaseError{Op: "get item", Err: err}
	}
	return &item, nil
}

// ListByJob returns a job's items, optionally filtered by status
func (s *ItemStore) ListByJob(jobID uint, status string, limit, offset int) ([]database.ImportItem, int64, error) {
	query := s.db.Model(&database.ImportItem{}).Where("job_id = ?", jobID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, &DatabaseError{Op: "count items", Err: err}
	}

	var items []database.ImportItem
	if limit <= 0 {
		limit = 100
	}
	err := query.Order("id ASC").Limit(limit).Offset(offset).Find(&items).Error
	if err != nil {
		return nil, 0, &DatabaseError{Op: "list items", Err: err}
	}
	return items, total, nil
}

// FailedByJob returns every failed item of a job with its error message
func (s *ItemStore) FailedByJob(jobID uint) ([]database.ImportItem, error) {
	var items []database.ImportItem
	err := s.db.Where("job_id = ? AND status = ?", jobID, string(ItemStatusFailed)).
		Order("id ASC").Find(&items).Error
	if err != nil {
		return nil, &DatabaseError{Op: "list failed items", Err: err}
	}
	return items, nil
}

// CountByStatus returns the item status distribution for a job
func (s *ItemStore) CountByStatus(jobID uint) (map[ItemStatus]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := s.db.Model(&database.ImportItem{}).
		Where("job_id = ?", jobID).
		Select("status, COUNT(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, &DatabaseError{Op: "count items by status", Err: err}
	}
	counts := make(map[ItemStatus]int64, len(rows))
	for _, r := range rows {
		counts[ItemStatus(r.Status)] = r.N
	}
	return counts, nil
}

// NextPending returns the next window of unclaimed items in id order
func (s *ItemStore) NextPending(jobID uint, limit int) ([]database.ImportItem, error) {
	var items []database.ImportItem
	err := s.db.Where("job_id = ? AND status = ?", jobID, string(ItemStatusPending)).
		Order("id ASC").Limit(limit).Find(&items).Error
	if err != nil {
		return nil, &DatabaseError{Op: "fetch pending items", Err: err}
	}
	return items, nil
}

// PendingForProject returns every pending item of one detected project
func (s *ItemStore) PendingForProject(jobID, projectID uint) ([]database.ImportItem, error) {
	var items []database.ImportItem
	err := s.db.Where("job_id = ? AND detected_project_id = ? AND status = ?",
		jobID, projectID, string(ItemStatusPending)).
		Order("id ASC").Find(&items).Error
	if err != nil {
		return nil, &DatabaseError{Op: "fetch project items", Err: err}
	}
	return items, nil
}

// AssignRole persists the bundler's role decision for an item
func (s *ItemStore) AssignRole(itemID uint, role database.ProjectRole) error {
	err := s.db.Model(&database.ImportItem{}).Where("id = ?", itemID).
		Update("project_role", string(role)).Error
	if err != nil {
		return &DatabaseError{Op: "assign role", Err: err}
	}
	return nil
}

// Claim moves a pending item to processing. The status-guarded update
// guarantees exactly one concurrent worker wins; losers get
// ErrItemNotClaimed.
func (s *ItemStore) Claim(itemID uint) error {
	now := time.Now()
	tx := s.db.Model(&database.ImportItem{}).
		Where("id = ? AND status = ?", itemID, string(ItemStatusPending)).
		Updates(map[string]interface{}{
			"status":     string(ItemStatusProcessing),
			"started_at": &now,
		})
	if tx.Error != nil {
		return &DatabaseError{Op: "claim item", Err: tx.Error}
	}
	if tx.RowsAffected == 0 {
		if _, err := s.Get(itemID); err != nil {
			return err
		}
		return ErrItemNotClaimed
	}
	return nil
}

// SetContentHash records the computed hash as soon as it is known, so
// partially processed items keep it across retries.
func (s *ItemStore) SetContentHash(itemID uint, hash string, size int64) error {
	err := s.db.Model(&database.ImportItem{}).Where("id = ?", itemID).
		Updates(map[string]interface{}{
			"content_hash": hash,
			"file_size":    size,
		}).Error
	if err != nil {
		return &DatabaseError{Op: "set content hash", Err: err}
	}
	return nil
}

// MarkCompleted finishes an item successfully, recording the created
// design and file plus whether AI metadata was generated vs. requested.
func (s *ItemStore) MarkCompleted(itemID uint, result CompletedResult) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":                string(ItemStatusCompleted),
		"design_id":             nullableString(result.DesignID),
		"design_file_id":        nullableString(result.DesignFileID),
		"ai_metadata_requested": result.AIMetadataRequested,
		"ai_metadata_generated": result.AIMetadataGenerated,
		"error_message":         "",
		"completed_at":          &now,
	}
	return s.markTerminal(itemID, ItemStatusCompleted, updates,
		[]string{string(ItemStatusProcessing)})
}

// MarkFailed finishes an item with an error. incrementRetry is false
// for derivative failures (bundle members failed because of their
// primary) so they never consume their own retry budget.
func (s *ItemStore) MarkFailed(itemID uint, reason string, incrementRetry bool) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":        string(ItemStatusFailed),
		"error_message": reason,
		"completed_at":  &now,
	}
	if incrementRetry {
		updates["retry_count"] = gorm.Expr("retry_count + 1")
	}
	return s.markTerminal(itemID, ItemStatusFailed, updates,
		[]string{string(ItemStatusPending), string(ItemStatusProcessing)})
}

// MarkSkipped finishes an item without importing it
func (s *ItemStore) MarkSkipped(itemID uint, reason string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":        string(ItemStatusSkipped),
		"error_message": reason,
		"completed_at":  &now,
	}
	return s.markTerminal(itemID, ItemStatusSkipped, updates,
		[]string{string(ItemStatusPending), string(ItemStatusProcessing)})
}

// MarkDuplicate finishes an item as a duplicate of an existing design
func (s *ItemStore) MarkDuplicate(itemID uint, existingDesignID string, similarity float64) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":           string(ItemStatusDuplicate),
		"duplicate_of_id":  nullableString(existingDesignID),
		"similarity_score": similarity,
		"completed_at":     &now,
	}
	return s.markTerminal(itemID, ItemStatusDuplicate, updates,
		[]string{string(ItemStatusPending), string(ItemStatusProcessing)})
}

// markTerminal applies a terminal transition with a status guard.
// Re-applying the same terminal state is a no-op; any other attempt to
// leave a terminal state is an IllegalTransitionError.
func (s *ItemStore) markTerminal(itemID uint, to ItemStatus, updates map[string]interface{}, fromStatuses []string) error {
	tx := s.db.Model(&database.ImportItem{}).
		Where("id = ? AND status IN ?", itemID, fromStatuses).
		Updates(updates)
	if tx.Error != nil {
		return &DatabaseError{Op: "mark " + string(to), Err: tx.Error}
	}
	if tx.RowsAffected > 0 {
		return nil
	}

	item, err := s.Get(itemID)
	if err != nil {
		return err
	}
	current := ItemStatus(item.Status)
	if current == to {
		return nil // idempotent re-application
	}
	return &IllegalTransitionError{ItemID: itemID, From: current, To: to}
}

// ResetForRetry moves a failed item back to pending, the single
// backward edge of the item state machine. Bounded by maxRetries;
// exhausted items stay failed.
func (s *ItemStore) ResetForRetry(itemID uint, maxRetries int) error {
	tx := s.db.Model(&database.ImportItem{}).
		Where("id = ? AND status = ? AND retry_count < ?",
			itemID, string(ItemStatusFailed), maxRetries).
		Updates(map[string]interface{}{
			"status":       string(ItemStatusPending),
			"started_at":   nil,
			"completed_at": nil,
		})
	if tx.Error != nil {
		return &DatabaseError{Op: "reset for retry", Err: tx.Error}
	}
	if tx.RowsAffected > 0 {
		return nil
	}

	item, err := s.Get(itemID)
	if err != nil {
		return err
	}
	if ItemStatus(item.Status) != ItemStatusFailed {
		return &IllegalTransitionError{ItemID: itemID, From: ItemStatus(item.Status), To: ItemStatusPending}
	}
	return ErrRetriesExhausted
}

// ResetRetryable sweeps every failed item of the job with retry budget
// left back to pending. The control loop calls this when pending work
// drains; the returned count is how many items go around again.
func (s *ItemStore) ResetRetryable(jobID uint, maxRetries int) (int64, error) {
	tx := s.db.Model(&database.ImportItem{}).
		Where("job_id = ? AND status = ? AND retry_count < ?",
			jobID, string(ItemStatusFailed), maxRetries).
		Updates(map[string]interface{}{
			"status":       string(ItemStatusPending),
			"started_at":   nil,
			"completed_at": nil,
		})
	if tx.Error != nil {
		return 0, &DatabaseError{Op: "reset retryable items", Err: tx.Error}
	}
	return tx.RowsAffected, nil
}

// ExhaustRetries pins failed items so the retry sweep never returns
// them to pending. Used when a bundle primary burns its last attempt:
// the members' inherited failures are final regardless of their own
// attempt counts.
func (s *ItemStore) ExhaustRetries(itemIDs []uint, maxRetries int) error {
	if len(itemIDs) == 0 {
		return nil
	}
	err := s.db.Model(&database.ImportItem{}).
		Where("id IN ? AND status = ? AND retry_count < ?",
			itemIDs, string(ItemStatusFailed), maxRetries).
		Update("retry_count", maxRetries).Error
	if err != nil {
		return &DatabaseError{Op: "exhaust retries", Err: err}
	}
	return nil
}

// ResetProcessingToPending returns items stranded in processing back to
// pending. Used by startup recovery after a crash.
func (s *ItemStore) ResetProcessingToPending(jobID uint) (int64, error) {
	tx := s.db.Model(&database.ImportItem{}).
		Where("job_id = ? AND status = ?", jobID, string(ItemStatusProcessing)).
		Updates(map[string]interface{}{
			"status":     string(ItemStatusPending),
			"started_at": nil,
		})
	if tx.Error != nil {
		return 0, &DatabaseError{Op: "reset processing items", Err: tx.Error}
	}
	return tx.RowsAffected, nil
}

// HasPending reports whether any item of the job still awaits work
func (s *ItemStore) HasPending(jobID uint) (bool, error) {
	var n int64
	err := s.db.Model(&database.ImportItem{}).
		Where("job_id = ? AND status = ?", jobID, string(ItemStatusPending)).
		Count(&n).Error
	if err != nil {
		return false, &DatabaseError{Op: "count pending items", Err: err}
	}
	return n > 0, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
