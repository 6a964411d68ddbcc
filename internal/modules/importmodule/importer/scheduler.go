package importer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"github.com/modelbay/modelbay/internal/database"
	"github.com/modelbay/modelbay/internal/events"
	"github.com/modelbay/modelbay/internal/logger"
)

// pollTick is the granularity of the pause wait and the retry wait.
const pollTick = time.Second

// JobControl is the cooperative flag pair for one running job. The
// control loop observes it at the top of every batch and inside the
// pause wait; in-flight items always run to completion.
type JobControl struct {
	pause  atomic.Bool
	cancel atomic.Bool
}

// NewJobControl returns a control with both flags clear
func NewJobControl() *JobControl {
	return &JobControl{}
}

// Pause requests suspension before the next batch
func (c *JobControl) Pause() { c.pause.Store(true) }

// Resume clears a pause request
func (c *JobControl) Resume() { c.pause.Store(false) }

// Cancel requests termination before the next batch. Irreversible.
func (c *JobControl) Cancel() { c.cancel.Store(true) }

// Paused reports whether a pause is requested
func (c *JobControl) Paused() bool { return c.pause.Load() }

// Cancelled reports whether cancellation is requested
func (c *JobControl) Cancelled() bool { return c.cancel.Load() }

// SchedulerDeps bundles the collaborators a scheduler drives.
type SchedulerDeps struct {
	Jobs     *JobStore
	Items    *ItemStore
	Scanner  *Scanner
	Bundler  *Bundler
	Pipeline *Pipeline
	// Throttler is optional; jobs opt in via AdaptiveThrottle.
	Throttler *AdaptiveThrottler
	// Bus is optional; a nil bus drops events.
	Bus events.EventBus
	// MaxRetries defaults to DefaultMaxRetries when zero.
	MaxRetries int
}

// Scheduler drives import jobs from pending through scanning, batched
// processing, and into a terminal state. One Run call owns one job.
// Batches fan out to at most the job's concurrency and settle fully
// before counters move, so progress accounting is race-free without
// cross-item locking.
type Scheduler struct {
	db         *gorm.DB
	jobs       *JobStore
	items      *ItemStore
	scanner    *Scanner
	bundler    *Bundler
	pipeline   *Pipeline
	throttler  *AdaptiveThrottler
	bus        events.EventBus
	maxRetries int
}

// NewScheduler wires a scheduler from its dependencies
func NewScheduler(db *gorm.DB, deps SchedulerDeps) *Scheduler {
	maxRetries := deps.MaxRetries
	if maxRetries < 1 {
		maxRetries = DefaultMaxRetries
	}
	return &Scheduler{
		db:         db,
		jobs:       deps.Jobs,
		items:      deps.Items,
		scanner:    deps.Scanner,
		bundler:    deps.Bundler,
		pipeline:   deps.Pipeline,
		throttler:  deps.Throttler,
		bus:        deps.Bus,
		maxRetries: maxRetries,
	}
}

// unitResult pairs a dispatched bundle with its settled outcomes
type unitResult struct {
	bundle   Bundle
	outcomes []ItemOutcome
}

// Run drives one job to a terminal state and returns once it gets
// there. The returned error is the job-level fatal cause; completed
// and cancelled jobs return nil. The hash registry is scoped to this
// run and mutated only between batches, on this goroutine.
func (s *Scheduler) Run(ctx context.Context, jobID uint, control *JobControl) error {
	job, err := s.jobs.Get(jobID)
	if err != nil {
		return err
	}
	var tally Counters

	if err := s.jobs.Transition(job.ID, JobStatusScanning); err != nil {
		return s.failJob(job, tally, err)
	}
	s.publish(job.ID, events.JobStartedPayload{
		SourceType: job.SourceType,
		SourcePath: job.SourcePath,
	})
	logger.Info("🚀 Import job %d started (%s: %s)", job.ID, job.SourceType, job.SourcePath)

	registry := NewHashRegistry()
	if job.DetectDuplicates {
		if err := registry.Rebuild(s.db); err != nil {
			return s.failJob(job, tally, fmt.Errorf("rebuild hash registry: %w", err))
		}
		exact, perceptual := registry.Size()
		logger.Info("🔎 Hash registry for job %d loaded: %d exact, %d perceptual", job.ID, exact, perceptual)
	}

	total, err := s.scanner.Scan(ctx, job)
	if err != nil {
		if canceled(ctx, control) {
			return s.cancelJob(job, tally)
		}
		return s.failJob(job, tally, err)
	}
	if err := s.jobs.SetTotalFiles(job.ID, total); err != nil {
		return s.failJob(job, tally, err)
	}
	job.TotalFiles = total

	if canceled(ctx, control) {
		return s.cancelJob(job, tally)
	}

	if err := s.jobs.Transition(job.ID, JobStatusProcessing); err != nil {
		return s.failJob(job, tally, err)
	}

	// Re-read for the freshly stamped StartedAt
	fresh, err := s.jobs.Get(job.ID)
	if err != nil {
		return s.failJob(job, tally, err)
	}
	job = fresh

	tally = Counters{
		Processed: job.ProcessedFiles,
		Succeeded: job.SucceededFiles,
		Failed:    job.FailedFiles,
		Skipped:   job.SkippedFiles,
	}
	duplicates := 0

	estimator := NewProgressEstimator()
	estimator.SetTotal(int64(total))
	estimator.Update(int64(tally.Processed))

	s.setActivity(job.ID, fmt.Sprintf("Discovered %d files", total))
	s.publish(job.ID, events.JobProgressPayload{
		Total:   total,
		Percent: estimator.Percent(),
		Message: fmt.Sprintf("Scan complete: %d files discovered", total),
	})

	detector := NewDetector(registry, job)
	sinceCheckpoint := 0

	for {
		if canceled(ctx, control) {
			return s.cancelJob(job, tally)
		}
		if control.Paused() {
			if err := s.waitWhilePaused(ctx, job, control, tally); err != nil {
				return s.failJob(job, tally, err)
			}
			if canceled(ctx, control) {
				return s.cancelJob(job, tally)
			}
		}

		concurrency := job.Concurrency
		if s.throttler != nil && job.AdaptiveThrottle {
			concurrency = s.throttler.EffectiveConcurrency(job.Concurrency)
			if delay := s.throttler.InterBatchDelay(); delay > 0 {
				if !sleepInterruptible(ctx, delay) {
					return s.cancelJob(job, tally)
				}
			}
		}

		units, err := s.bundler.NextUnits(job, concurrency)
		if err != nil {
			return s.failJob(job, tally, err)
		}
		if len(units) == 0 {
			// Pending work drained. Failed items with retry budget
			// left go around again after a one-tick breather.
			reset, err := s.items.ResetRetryable(job.ID, s.maxRetries)
			if err != nil {
				return s.failJob(job, tally, err)
			}
			if reset == 0 {
				break
			}
			logger.Info("🔁 Job %d returning %d failed items to pending", job.ID, reset)
			if !sleepInterruptible(ctx, pollTick) {
				return s.cancelJob(job, tally)
			}
			continue
		}

		results := s.dispatch(ctx, job, units, detector)

		finals, err := s.settleBatch(results)
		if err != nil {
			return s.failJob(job, tally, err)
		}

		if job.DetectDuplicates {
			registerOutcomes(registry, finals)
		}

		for _, o := range finals {
			tally.Processed++
			switch o.Status {
			case ItemStatusCompleted:
				tally.Succeeded++
			case ItemStatusFailed:
				tally.Failed++
			case ItemStatusDuplicate:
				duplicates++
				tally.Skipped++
			case ItemStatusSkipped:
				tally.Skipped++
			}
		}

		if err := s.jobs.UpdateProgress(job.ID, tally); err != nil {
			return s.failJob(job, tally, err)
		}
		estimator.Update(int64(tally.Processed))

		s.publish(job.ID, events.JobProgressPayload{
			Total:      total,
			Processed:  tally.Processed,
			Succeeded:  tally.Succeeded,
			Failed:     tally.Failed,
			Skipped:    tally.Skipped,
			Percent:    estimator.Percent(),
			Rate:       estimator.Rate(),
			ETASeconds: estimator.ETASeconds(),
		})

		sinceCheckpoint += len(finals)
		if sinceCheckpoint >= job.CheckpointInterval {
			sinceCheckpoint = 0
			s.checkpoint(job, tally)
		}
	}

	return s.completeJob(job, tally, duplicates)
}

// dispatch fans one batch out, one goroutine per unit, and waits for
// all of them. A panicking worker fails its whole unit so batch
// accounting stays whole.
func (s *Scheduler) dispatch(ctx context.Context, job *database.ImportJob, units []Bundle, detector *Detector) []unitResult {
	results := make([]unitResult, len(units))
	var wg sync.WaitGroup
	for i := range units {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Import worker panicked on job %d: %v", job.ID, r)
					results[i] = unitResult{
						bundle:   units[i],
						outcomes: s.failUnit(units[i], fmt.Errorf("internal error: %v", r)),
					}
				}
			}()
			results[i] = unitResult{
				bundle:   units[i],
				outcomes: s.pipeline.ProcessBundle(ctx, job, units[i], detector),
			}
		}(i)
	}
	wg.Wait()
	return results
}

// failUnit records a unit-wide failure on every item, consuming one
// retry attempt each.
func (s *Scheduler) failUnit(bundle Bundle, cause error) []ItemOutcome {
	outcomes := make([]ItemOutcome, 0, bundle.Size())
	for i := range bundle.Items {
		item := &bundle.Items[i]
		if err := s.items.Claim(item.ID); err != nil && !errors.Is(err, ErrItemNotClaimed) {
			outcomes = append(outcomes, ItemOutcome{ItemID: item.ID, Filename: item.Filename, Err: err})
			continue
		}
		if err := s.items.MarkFailed(item.ID, cause.Error(), true); err != nil {
			outcomes = append(outcomes, ItemOutcome{ItemID: item.ID, Filename: item.Filename, Err: err})
			continue
		}
		outcomes = append(outcomes, ItemOutcome{
			ItemID:     item.ID,
			Filename:   item.Filename,
			Status:     ItemStatusFailed,
			Err:        cause,
			RetryCount: item.RetryCount + 1,
		})
	}
	return outcomes
}

// settleBatch decides which outcomes are final for counter purposes.
// Failed items with retry budget left stay failed until the retry
// sweep returns them to pending; they are not counted yet.
func (s *Scheduler) settleBatch(results []unitResult) ([]ItemOutcome, error) {
	finals := make([]ItemOutcome, 0)
	for _, unit := range results {
		settled, err := s.settleUnit(unit)
		if err != nil {
			return nil, err
		}
		finals = append(finals, settled...)
	}
	return finals, nil
}

// settleUnit applies the retry policy to one unit's outcomes. A fresh
// bundle settles around its primary: while the primary has budget the
// whole bundle goes around again; once it burns out every member's
// failure is final and sealed against the retry sweep.
func (s *Scheduler) settleUnit(unit unitResult) ([]ItemOutcome, error) {
	outcomes := unit.outcomes

	if unit.bundle.Resume == nil && unit.bundle.Size() > 1 &&
		len(outcomes) > 0 && outcomes[0].Status == ItemStatusFailed {
		return s.settleFailedBundle(outcomes)
	}

	finals := make([]ItemOutcome, 0, len(outcomes))
	var seal []uint
	for _, o := range outcomes {
		if err := s.checkUnsettled(o); err != nil {
			return nil, err
		}
		if o.Status == "" {
			continue
		}
		if o.Status == ItemStatusFailed {
			if o.Derivative {
				// Inherited from a primary that already burned out.
				finals = append(finals, o)
				seal = append(seal, o.ItemID)
				continue
			}
			if o.RetryCount < s.maxRetries {
				continue
			}
		}
		finals = append(finals, o)
	}
	if err := s.items.ExhaustRetries(seal, s.maxRetries); err != nil {
		return nil, err
	}
	return finals, nil
}

// settleFailedBundle handles a fresh bundle whose primary failed this
// batch. Nothing is final while the primary can retry; on exhaustion
// the whole unit settles failed together.
func (s *Scheduler) settleFailedBundle(outcomes []ItemOutcome) ([]ItemOutcome, error) {
	for _, o := range outcomes {
		if err := s.checkUnsettled(o); err != nil {
			return nil, err
		}
	}

	primary := outcomes[0]
	if primary.RetryCount < s.maxRetries {
		return nil, nil
	}

	finals := make([]ItemOutcome, 0, len(outcomes))
	var seal []uint
	for _, o := range outcomes {
		if o.Status == "" {
			continue
		}
		finals = append(finals, o)
		if o.Derivative {
			seal = append(seal, o.ItemID)
		}
	}
	if err := s.items.ExhaustRetries(seal, s.maxRetries); err != nil {
		return nil, err
	}
	return finals, nil
}

// checkUnsettled surfaces outcomes the pipeline could not record at
// all. Database problems fail the job; anything else means the item
// already left the pending pool and is only logged.
func (s *Scheduler) checkUnsettled(o ItemOutcome) error {
	if o.Status != "" || o.Err == nil {
		return nil
	}
	var dbErr *DatabaseError
	if errors.As(o.Err, &dbErr) {
		return o.Err
	}
	logger.Warn("⚠️ Item %d (%s) left unsettled: %v", o.ItemID, o.Filename, o.Err)
	return nil
}

// registerOutcomes adds the batch's completed files to the job's hash
// registry, in outcome order. Only the control loop calls this, after
// the batch settles, so the registry sees no concurrent writers.
func registerOutcomes(registry *HashRegistry, finals []ItemOutcome) {
	for _, o := range finals {
		if o.Status != ItemStatusCompleted || o.ContentHash == "" {
			continue
		}
		registry.RegisterExact(o.ContentHash, o.DesignID)
		if o.HasPerceptual {
			registry.RegisterPerceptual(o.PerceptualHash, o.DesignID, o.DesignTitle)
		}
	}
}

// waitWhilePaused parks the loop while the pause flag is set, checking
// once per second. Cancellation mid-pause returns without resuming and
// is left for the caller to observe.
func (s *Scheduler) waitWhilePaused(ctx context.Context, job *database.ImportJob, control *JobControl, tally Counters) error {
	if err := s.jobs.Transition(job.ID, JobStatusPaused); err != nil {
		return err
	}
	s.publish(job.ID, events.JobPausedPayload{Processed: tally.Processed, Total: job.TotalFiles})
	logger.Info("⏸️ Import job %d paused at %d/%d", job.ID, tally.Processed, job.TotalFiles)

	ticker := time.NewTicker(pollTick)
	defer ticker.Stop()
	for control.Paused() && !control.Cancelled() {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	if control.Cancelled() || ctx.Err() != nil {
		return nil
	}

	if err := s.jobs.Transition(job.ID, JobStatusProcessing); err != nil {
		return err
	}
	s.publish(job.ID, events.JobResumedPayload{Processed: tally.Processed, Total: job.TotalFiles})
	logger.Info("▶️ Import job %d resumed", job.ID)
	return nil
}

// checkpoint is the reporting-cadence contract: counters are already
// persisted per batch, the checkpoint signals durability to observers.
func (s *Scheduler) checkpoint(job *database.ImportJob, tally Counters) {
	s.publish(job.ID, events.JobCheckpointPayload{Processed: tally.Processed, Total: job.TotalFiles})
	s.setActivity(job.ID, fmt.Sprintf("Processed %d/%d (%d imported, %d failed, %d skipped)",
		tally.Processed, job.TotalFiles, tally.Succeeded, tally.Failed, tally.Skipped))
	logger.Debug("💾 Job %d checkpoint: %d/%d processed", job.ID, tally.Processed, job.TotalFiles)
}

func (s *Scheduler) completeJob(job *database.ImportJob, tally Counters, duplicates int) error {
	s.setActivity(job.ID, fmt.Sprintf("Import finished: %d imported, %d skipped (%d duplicates), %d failed",
		tally.Succeeded, tally.Skipped, duplicates, tally.Failed))
	if err := s.jobs.Transition(job.ID, JobStatusCompleted); err != nil {
		return s.failJob(job, tally, err)
	}

	var duration int64
	if job.StartedAt != nil {
		duration = int64(time.Since(*job.StartedAt).Seconds())
	}
	s.publish(job.ID, events.JobCompletedPayload{
		Total:           job.TotalFiles,
		Succeeded:       tally.Succeeded,
		Failed:          tally.Failed,
		Skipped:         tally.Skipped,
		Duplicates:      duplicates,
		DurationSeconds: duration,
	})
	logger.Info("✅ Import job %d completed in %ds: %d/%d imported, %d duplicates, %d failed",
		job.ID, duration, tally.Succeeded, job.TotalFiles, duplicates, tally.Failed)
	return nil
}

// failJob records a control-loop failure. Item-level errors never land
// here; only the loop's own infrastructure failures do.
func (s *Scheduler) failJob(job *database.ImportJob, tally Counters, cause error) error {
	logger.Error("💥 Import job %d failed: %v", job.ID, cause)
	if err := s.jobs.TransitionWithMessage(job.ID, JobStatusFailed, cause.Error()); err != nil {
		logger.Error("Could not mark job %d failed: %v", job.ID, err)
	}
	s.publish(job.ID, events.JobFailedPayload{
		Reason:    cause.Error(),
		Processed: tally.Processed,
		Total:     job.TotalFiles,
	})
	return cause
}

func (s *Scheduler) cancelJob(job *database.ImportJob, tally Counters) error {
	if err := s.jobs.Transition(job.ID, JobStatusCancelled); err != nil {
		logger.Error("Could not mark job %d cancelled: %v", job.ID, err)
		return err
	}
	s.publish(job.ID, events.JobCancelledPayload{Processed: tally.Processed, Total: job.TotalFiles})
	logger.Info("🛑 Import job %d cancelled at %d/%d", job.ID, tally.Processed, job.TotalFiles)
	return nil
}

// setActivity persists the job's human-readable status line and
// mirrors it to observers as an activity event.
func (s *Scheduler) setActivity(jobID uint, msg string) {
	if err := s.jobs.SetStatusMessage(jobID, msg); err != nil {
		logger.Warn("⚠️ Status message for job %d not persisted: %v", jobID, err)
	}
	s.publish(jobID, events.JobActivityPayload{Message: msg})
}

func (s *Scheduler) publish(jobID uint, payload events.Payload) {
	if s.bus == nil {
		return
	}
	s.bus.PublishAsync(events.NewEvent(jobID, payload))
}

// sleepInterruptible waits d unless the context ends first. Reports
// false when interrupted.
func sleepInterruptible(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func canceled(ctx context.Context, control *JobControl) bool {
	return control.Cancelled() || ctx.Err() != nil
}
