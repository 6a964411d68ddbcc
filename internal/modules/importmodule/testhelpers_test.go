package importmodule

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/modelbay/modelbay/internal/config"
	"github.com/modelbay/modelbay/internal/database"
	"github.com/modelbay/modelbay/internal/events"
	"github.com/modelbay/modelbay/internal/modules/importmodule/importer"
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

// stubStore is a map-backed object store
type stubStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newStubStore() *stubStore {
	return &stubStore{objects: make(map[string][]byte)}
}

func (s *stubStore) Put(ctx context.Context, path string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = data
	return nil
}

func (s *stubStore) Get(ctx context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func (s *stubStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, path)
	return nil
}

func (s *stubStore) PublicURL(path string) string { return "/files/" + path }

func (s *stubStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// stubBus implements events.EventBus and records everything
type stubBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *stubBus) Start(ctx context.Context) error { return nil }
func (b *stubBus) Stop(ctx context.Context) error  { return nil }

func (b *stubBus) Publish(event events.Event) error {
	b.PublishAsync(event)
	return nil
}

func (b *stubBus) PublishAsync(event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *stubBus) Subscribe(filter events.EventFilter, handler events.EventHandler) (func(), error) {
	return func() {}, nil
}

func (b *stubBus) SubscribeJob(jobID uint, handler events.EventHandler) (func(), error) {
	return func() {}, nil
}

func (b *stubBus) GetRecentEvents(limit int) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]events.Event{}, b.events...)
}

func (b *stubBus) GetStats() events.EventStats { return events.EventStats{} }

// byType returns recorded events of one kind, in publish order
func (b *stubBus) byType(kind events.EventType) []events.Event {
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

// managerFixture runs the real manager over a real database with stub
// storage and bus. Render and AI stay nil, so their pipeline steps are
// skipped; lifecycle tests only need originals to reach storage.
type managerFixture struct {
	db      *gorm.DB
	cfg     *config.Config
	store   *stubStore
	bus     *stubBus
	manager *Manager
	srcDir  string
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	db := setupTestDB(t)
	f := &managerFixture{
		db:     db,
		store:  newStubStore(),
		bus:    &stubBus{},
		srcDir: t.TempDir(),
		cfg: &config.Config{
			Import: config.ImportConfig{
				StagingDir: t.TempDir(),
				MaxRetries: 1,
			},
			Performance: config.PerformanceConfig{
				MaxConcurrentJobs: 2,
			},
		},
	}
	f.manager = NewManager(db, f.cfg, ManagerDeps{Store: f.store, Bus: f.bus})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = f.manager.Stop(ctx)
	})
	return f
}

func (f *managerFixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.manager.Start())
}

// writeFile materializes a source file under srcDir and returns its path
func (f *managerFixture) writeFile(t *testing.T, rel string, content []byte) string {
	t.Helper()
	path := filepath.Join(f.srcDir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

// seedJob inserts a job row directly, bypassing the manager, for
// recovery and retry scenarios that need pre-existing state.
func (f *managerFixture) seedJob(t *testing.T, status importer.JobStatus, mutate func(*database.ImportJob)) *database.ImportJob {
	t.Helper()
	job := &database.ImportJob{
		SourceType: importer.SourceTypeFolder,
		SourcePath: f.srcDir,
	}
	importer.ApplyJobDefaults(job)
	job.Status = string(status)
	if mutate != nil {
		mutate(job)
	}
	require.NoError(t, f.db.Create(job).Error)
	return job
}

// seedItem inserts an item row directly in the given status
func (f *managerFixture) seedItem(t *testing.T, jobID uint, filename string, status importer.ItemStatus, mutate func(*database.ImportItem)) *database.ImportItem {
	t.Helper()
	item := &database.ImportItem{
		JobID:      jobID,
		SourcePath: filepath.Join(f.srcDir, filename),
		Filename:   filename,
		FileType:   "stl",
		FileSize:   64,
		Status:     string(status),
	}
	if mutate != nil {
		mutate(item)
	}
	require.NoError(t, f.db.Create(item).Error)
	return item
}

// job re-reads one job through the manager
func (f *managerFixture) job(t *testing.T, jobID uint) *database.ImportJob {
	t.Helper()
	job, err := f.manager.GetJob(jobID)
	require.NoError(t, err)
	return job
}

// item re-reads one item straight from the database
func (f *managerFixture) item(t *testing.T, itemID uint) *database.ImportItem {
	t.Helper()
	var item database.ImportItem
	require.NoError(t, f.db.First(&item, itemID).Error)
	return &item
}

// waitForStatus polls until the job reaches the wanted status
func (f *managerFixture) waitForStatus(t *testing.T, jobID uint, want importer.JobStatus) *database.ImportJob {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := f.manager.GetJob(jobID)
		return err == nil && job.Status == string(want)
	}, 10*time.Second, 20*time.Millisecond, "job %d did not reach %s", jobID, want)
	return f.job(t, jobID)
}

// waitForSettled polls until the job has no live control loop left
func (f *managerFixture) waitForSettled(t *testing.T, jobID uint) {
	t.Helper()
	require.Eventually(t, func() bool {
		return !f.manager.Running(jobID)
	}, 10*time.Second, 20*time.Millisecond, "job %d control loop did not settle", jobID)
}

// fillCapacity occupies every job slot with a synthetic control loop
// and returns the release function.
func (f *managerFixture) fillCapacity() func() {
	f.manager.mu.Lock()
	ids := make([]uint, 0, f.manager.maxJobs)
	for i := 0; i < f.manager.maxJobs; i++ {
		id := uint(90000 + i)
		f.manager.running[id] = importer.NewJobControl()
		ids = append(ids, id)
	}
	f.manager.mu.Unlock()

	return func() {
		f.manager.mu.Lock()
		for _, id := range ids {
			delete(f.manager.running, id)
		}
		f.manager.mu.Unlock()
	}
}
