package importmodule

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/modelbay/modelbay/internal/config"
	"github.com/modelbay/modelbay/internal/database"
	"github.com/modelbay/modelbay/internal/events"
	"github.com/modelbay/modelbay/internal/logger"
	"github.com/modelbay/modelbay/internal/modules/importmodule/importer"
)

// Manager errors surfaced to the API layer
var (
	// ErrJobNotRunning means the job has no live control loop in this
	// process; pause and resume only apply to running jobs.
	ErrJobNotRunning = errors.New("job is not running")

	// ErrTooManyJobs means the configured concurrent-job ceiling is hit
	ErrTooManyJobs = errors.New("maximum concurrent import jobs reached")
)

// interruptedMessage is stamped on jobs found mid-flight at startup
const interruptedMessage = "import interrupted by service restart"

// ManagerDeps bundles the cross-module services the import engine
// consumes. All of them come from the service registry at init time.
type ManagerDeps struct {
	Renderer importer.PreviewRenderer
	Geometry importer.GeometryAnalyzer
	Metadata importer.MetadataExtractor
	Hints    importer.TextHintExtractor
	Store    importer.ObjectStore
	Bus      events.EventBus
}

// Manager owns the set of running import jobs. Each started job gets a
// control-loop goroutine and a JobControl; pause, resume, and cancel
// are flag flips observed by the loop at batch boundaries.
type Manager struct {
	db        *gorm.DB
	jobs      *importer.JobStore
	items     *importer.ItemStore
	scheduler *importer.Scheduler
	throttler *importer.AdaptiveThrottler
	bus       events.EventBus

	maxJobs int

	mu      sync.Mutex
	running map[uint]*importer.JobControl
	started bool

	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup
}

// NewManager wires the import engine from its dependencies and config
func NewManager(db *gorm.DB, cfg *config.Config, deps ManagerDeps) *Manager {
	jobs := importer.NewJobStore(db)
	items := importer.NewItemStore(db)
	scanner := importer.NewScanner(db, jobs, items, cfg.Import.StagingDir)
	bundler := importer.NewBundler(db, items, cfg.Import.MaxRetries)
	pipeline := importer.NewPipeline(db, items, deps.Store, deps.Renderer,
		deps.Geometry, deps.Metadata, deps.Hints, deps.Bus)

	var throttler *importer.AdaptiveThrottler
	if cfg.Performance.EnableAdaptiveThrottling {
		throttler = importer.NewAdaptiveThrottler(importer.ThrottleConfig{
			TargetCPUPercent:    cfg.Performance.CPUThreshold,
			TargetMemoryPercent: cfg.Performance.MemoryThreshold,
			SampleInterval:      cfg.Performance.MonitorInterval,
		})
	}

	scheduler := importer.NewScheduler(db, importer.SchedulerDeps{
		Jobs:       jobs,
		Items:      items,
		Scanner:    scanner,
		Bundler:    bundler,
		Pipeline:   pipeline,
		Throttler:  throttler,
		Bus:        deps.Bus,
		MaxRetries: cfg.Import.MaxRetries,
	})

	maxJobs := cfg.Performance.MaxConcurrentJobs
	if maxJobs < 1 {
		maxJobs = 1
	}

	return &Manager{
		db:        db,
		jobs:      jobs,
		items:     items,
		scheduler: scheduler,
		throttler: throttler,
		bus:       deps.Bus,
		maxJobs:   maxJobs,
		running:   make(map[uint]*importer.JobControl),
	}
}

// Start performs crash recovery and opens the manager for new jobs.
// Jobs found mid-flight are failed with an interruption message; jobs
// that never left pending are launched now.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	// Job runs outlive the caller; shutdown cancels them explicitly.
	m.baseCtx, m.cancelAll = context.WithCancel(context.Background())
	m.mu.Unlock()

	if err := m.recoverInterrupted(); err != nil {
		return err
	}

	// Retention sweep; job history is an audit trail, not an archive.
	if removed, err := m.jobs.CleanupOldJobs(); err != nil {
		logger.Warn("Old import job cleanup failed: %v", err)
	} else if removed > 0 {
		logger.Info("🧹 Removed %d import jobs past retention", removed)
	}

	return m.launchLeftoverPending()
}

// Stop cancels every running job and waits for the control loops to
// settle, bounded by the context.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	active := len(m.running)
	m.mu.Unlock()

	if active > 0 {
		logger.Info("🛑 Shutting down import manager with %d running jobs", active)
	}
	m.cancelAll()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("import jobs did not settle before shutdown deadline: %w", ctx.Err())
	}
	if m.throttler != nil {
		m.throttler.Stop()
	}
	return err
}

// recoverInterrupted fails jobs a previous process left mid-flight.
// Their stranded processing items return to pending first, so a later
// retry job adopts a consistent picture.
func (m *Manager) recoverInterrupted() error {
	interrupted, err := m.jobs.FindInterrupted()
	if err != nil {
		return err
	}
	for _, job := range interrupted {
		if _, err := m.items.ResetProcessingToPending(job.ID); err != nil {
			logger.Error("Could not release stranded items of job %d: %v", job.ID, err)
		}
		if err := m.jobs.TransitionWithMessage(job.ID, importer.JobStatusFailed, interruptedMessage); err != nil {
			logger.Error("Could not mark interrupted job %d failed: %v", job.ID, err)
			continue
		}
		logger.Warn("⚠️ Import job %d was interrupted at %d/%d, marked failed",
			job.ID, job.ProcessedFiles, job.TotalFiles)
	}
	if len(interrupted) > 0 {
		logger.Info("Recovered %d interrupted import jobs", len(interrupted))
	}
	return nil
}

// launchLeftoverPending starts jobs that were created but never ran,
// which happens when the process dies between create and launch.
func (m *Manager) launchLeftoverPending() error {
	pending, _, err := m.jobs.List(string(importer.JobStatusPending), 1000, 0)
	if err != nil {
		return err
	}
	// List is newest first; start them in creation order.
	for i := len(pending) - 1; i >= 0; i-- {
		logger.Info("▶️ Launching leftover pending import job %d", pending[i].ID)
		m.launch(pending[i].ID)
	}
	return nil
}

// StartJob validates, persists, and launches a new import job. The
// returned job carries its assigned ID and applied defaults.
func (m *Manager) StartJob(job *database.ImportJob) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return errors.New("import manager is not started")
	}
	if len(m.running) >= m.maxJobs {
		m.mu.Unlock()
		return ErrTooManyJobs
	}
	m.mu.Unlock()

	if err := m.jobs.Create(job); err != nil {
		return err
	}
	m.launch(job.ID)
	return nil
}

// launch spins up the control loop for one job
func (m *Manager) launch(jobID uint) {
	control := importer.NewJobControl()
	m.mu.Lock()
	m.running[jobID] = control
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.running, jobID)
			m.mu.Unlock()
		}()
		if err := m.scheduler.Run(m.baseCtx, jobID, control); err != nil {
			logger.Error("Import job %d ended with error: %v", jobID, err)
		}
	}()
}

// control returns the live control for a job, or nil
func (m *Manager) control(jobID uint) *importer.JobControl {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running[jobID]
}

// Running reports whether the job has a live control loop here
func (m *Manager) Running(jobID uint) bool {
	return m.control(jobID) != nil
}

// Pause requests suspension of a running job at the next batch
// boundary. In-flight items always settle first.
func (m *Manager) Pause(jobID uint) error {
	if _, err := m.jobs.Get(jobID); err != nil {
		return err
	}
	control := m.control(jobID)
	if control == nil {
		return ErrJobNotRunning
	}
	control.Pause()
	return nil
}

// Resume clears a pause request; the parked loop picks it up within a
// second.
func (m *Manager) Resume(jobID uint) error {
	if _, err := m.jobs.Get(jobID); err != nil {
		return err
	}
	control := m.control(jobID)
	if control == nil {
		return ErrJobNotRunning
	}
	control.Resume()
	return nil
}

// Cancel requests termination. Running jobs stop at the next batch
// boundary; jobs without a live loop are transitioned directly, which
// the state machine guards.
func (m *Manager) Cancel(jobID uint) error {
	if _, err := m.jobs.Get(jobID); err != nil {
		return err
	}
	if control := m.control(jobID); control != nil {
		control.Cancel()
		return nil
	}
	return m.jobs.Transition(jobID, importer.JobStatusCancelled)
}

// Retry creates and launches a retry job adopting the failed items of
// a terminal source job.
func (m *Manager) Retry(jobID uint) (*database.ImportJob, error) {
	source, err := m.jobs.Get(jobID)
	if err != nil {
		return nil, err
	}
	if !importer.JobStatus(source.Status).IsTerminal() {
		return nil, importer.NewValidationError("job",
			fmt.Sprintf("job %d is still %s; only finished jobs can be retried", source.ID, source.Status))
	}
	failed, err := m.items.FailedByJob(source.ID)
	if err != nil {
		return nil, err
	}
	if len(failed) == 0 {
		return nil, importer.NewValidationError("job", "job has no failed items to retry")
	}

	retry := &database.ImportJob{
		SourceType: importer.SourceTypeRetry,
		SourcePath: fmt.Sprint(source.ID),

		Concurrency:         source.Concurrency,
		CheckpointInterval:  source.CheckpointInterval,
		GeneratePreviews:    source.GeneratePreviews,
		GenerateAIMetadata:  source.GenerateAIMetadata,
		DetectDuplicates:    source.DetectDuplicates,
		ExactDuplicatesOnly: source.ExactDuplicatesOnly,
		AutoPublish:         source.AutoPublish,
		SimilarityThreshold: source.SimilarityThreshold,
		PreviewTypePriority: source.PreviewTypePriority,
		AdaptiveThrottle:    source.AdaptiveThrottle,
	}
	if err := m.StartJob(retry); err != nil {
		return nil, err
	}
	logger.Info("🔁 Retry job %d created for job %d (%d failed items)", retry.ID, source.ID, len(failed))
	return retry, nil
}

// Subscribe attaches a handler to one job's event stream and returns
// the unsubscribe handle.
func (m *Manager) Subscribe(jobID uint, handler events.EventHandler) (func(), error) {
	if m.bus == nil {
		return nil, errors.New("event bus is not available")
	}
	return m.bus.SubscribeJob(jobID, handler)
}

// Read accessors. The manager is the only surface the API layer talks
// to; it never reaches into the stores directly.

// GetJob returns one job by id
func (m *Manager) GetJob(jobID uint) (*database.ImportJob, error) {
	return m.jobs.Get(jobID)
}

// ListJobs returns jobs newest first with the total match count
func (m *Manager) ListJobs(status string, limit, offset int) ([]database.ImportJob, int64, error) {
	return m.jobs.List(status, limit, offset)
}

// ListItems returns a job's items, optionally filtered by status
func (m *Manager) ListItems(jobID uint, status string, limit, offset int) ([]database.ImportItem, int64, error) {
	if _, err := m.jobs.Get(jobID); err != nil {
		return nil, 0, err
	}
	return m.items.ListByJob(jobID, status, limit, offset)
}

// FailedItems returns a job's failed items with their reasons
func (m *Manager) FailedItems(jobID uint) ([]database.ImportItem, error) {
	if _, err := m.jobs.Get(jobID); err != nil {
		return nil, err
	}
	return m.items.FailedByJob(jobID)
}

// Projects returns the detected projects of a job
func (m *Manager) Projects(jobID uint) ([]database.DetectedProject, error) {
	if _, err := m.jobs.Get(jobID); err != nil {
		return nil, err
	}
	return m.jobs.ProjectsByJob(jobID)
}

// ItemCounts returns the job's item status distribution
func (m *Manager) ItemCounts(jobID uint) (map[importer.ItemStatus]int64, error) {
	return m.items.CountByStatus(jobID)
}

// ActiveJobs returns the jobs with a live control loop in this process
func (m *Manager) ActiveJobs() ([]*database.ImportJob, error) {
	m.mu.Lock()
	ids := make([]uint, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	jobs := make([]*database.ImportJob, 0, len(ids))
	for _, id := range ids {
		job, err := m.jobs.Get(id)
		if err != nil {
			if errors.Is(err, importer.ErrJobNotFound) {
				continue
			}
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
