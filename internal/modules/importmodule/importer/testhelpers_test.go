package importer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/modelbay/modelbay/internal/database"
	"github.com/modelbay/modelbay/internal/events"
)

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A single connection keeps the in-memory database alive and
	// serializes concurrent workers, which sqlite cannot do itself.
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&database.ImportJob{},
		&database.ImportItem{},
		&database.DetectedProject{},
		&database.WatchFolder{},
		&database.Design{},
		&database.DesignFile{},
		&database.Tag{},
	))
	return db
}

// createTestJob inserts a job with defaults applied
func createTestJob(t *testing.T, db *gorm.DB, mutate func(*database.ImportJob)) *database.ImportJob {
	t.Helper()

	job := &database.ImportJob{
		SourceType: SourceTypeFolder,
		SourcePath: "/tmp/import",
	}
	ApplyJobDefaults(job)
	if mutate != nil {
		mutate(job)
	}
	require.NoError(t, db.Create(job).Error)
	return job
}

// createTestItem inserts a pending item for the job
func createTestItem(t *testing.T, db *gorm.DB, jobID uint, filename string, mutate func(*database.ImportItem)) *database.ImportItem {
	t.Helper()

	item := &database.ImportItem{
		JobID:      jobID,
		SourcePath: filepath.Join("/tmp/import", filename),
		Filename:   filename,
		FileType:   "stl",
		FileSize:   64,
		Status:     string(ItemStatusPending),
	}
	if mutate != nil {
		mutate(item)
	}
	require.NoError(t, db.Create(item).Error)
	return item
}

// createTestProject inserts a detected project and attaches the given
// items to it
func createTestProject(t *testing.T, db *gorm.DB, jobID uint, name string, items ...*database.ImportItem) *database.DetectedProject {
	t.Helper()

	project := &database.DetectedProject{JobID: jobID, Name: name, MergeHint: "directory"}
	require.NoError(t, db.Create(project).Error)
	for _, item := range items {
		require.NoError(t, db.Model(item).Update("detected_project_id", project.ID).Error)
		item.DetectedProjectID = &project.ID
	}
	return project
}

// writeSourceFile materializes item content on disk inside dir and
// points the item's source path at it
func writeSourceFile(t *testing.T, db *gorm.DB, dir string, item *database.ImportItem, content []byte) {
	t.Helper()

	path := filepath.Join(dir, item.Filename)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
	require.NoError(t, db.Model(item).Updates(map[string]interface{}{
		"source_path": path,
		"file_size":   int64(len(content)),
	}).Error)
	item.SourcePath = path
	item.FileSize = int64(len(content))
}

// recorderBus implements events.EventBus and records everything
type recorderBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recorderBus) Start(ctx context.Context) error { return nil }
func (b *recorderBus) Stop(ctx context.Context) error  { return nil }

func (b *recorderBus) Publish(event events.Event) error {
	b.PublishAsync(event)
	return nil
}

func (b *recorderBus) PublishAsync(event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recorderBus) Subscribe(filter events.EventFilter, handler events.EventHandler) (func(), error) {
	return func() {}, nil
}

func (b *recorderBus) SubscribeJob(jobID uint, handler events.EventHandler) (func(), error) {
	return func() {}, nil
}

func (b *recorderBus) GetRecentEvents(limit int) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]events.Event{}, b.events...)
}

func (b *recorderBus) GetStats() events.EventStats { return events.EventStats{} }

// byType returns recorded events of one kind, in publish order
func (b *recorderBus) byType(kind events.EventType) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.Event
	for _, e := range b.events {
		if e.Type == kind {
			out = append(out, e)
		}
	}
	return out
}

// itemStatus reads the current status of an item straight from the DB
func itemStatus(t *testing.T, db *gorm.DB, itemID uint) ItemStatus {
	t.Helper()
	var item database.ImportItem
	require.NoError(t, db.First(&item, itemID).Error)
	return ItemStatus(item.Status)
}

// jobRow re-reads a job
func jobRow(t *testing.T, db *gorm.DB, jobID uint) *database.ImportJob {
	t.Helper()
	var job database.ImportJob
	require.NoError(t, db.First(&job, jobID).Error)
	return &job
}
