package importer

import (
	"sync"
	"time"
)

// ProgressEstimator smooths the processing rate over a sliding window of
// recent samples so progress events report a stable items-per-minute figure
// instead of jumping with every batch.
type ProgressEstimator struct {
	mu        sync.RWMutex
	startTime time.Time

	total     int64
	processed int64

	samples    []rateSample
	maxSamples int
}

type rateSample struct {
	timestamp time.Time
	processed int64
}

// NewProgressEstimator creates an estimator anchored at the current time.
func NewProgressEstimator() *ProgressEstimator {
	return &ProgressEstimator{
		startTime:  time.Now(),
		maxSamples: 5,
		samples:    make([]rateSample, 0, 5),
	}
}

// SetTotal records the total number of items the job will process.
func (pe *ProgressEstimator) SetTotal(total int64) {
	pe.mu.Lock()
	defer pe.mu.Unlock()
	pe.total = total
}

// Update records the cumulative processed count after a batch settles.
func (pe *ProgressEstimator) Update(processed int64) {
	pe.mu.Lock()
	defer pe.mu.Unlock()

	pe.processed = processed
	pe.samples = append(pe.samples, rateSample{timestamp: time.Now(), processed: processed})
	if len(pe.samples) > pe.maxSamples {
		pe.samples = pe.samples[1:]
	}
}

// Rate returns the smoothed processing rate in items per minute. Falls back
// to the overall average when the sample window is too sparse.
func (pe *ProgressEstimator) Rate() float64 {
	pe.mu.RLock()
	defer pe.mu.RUnlock()
	return pe.rateLocked()
}

func (pe *ProgressEstimator) rateLocked() float64 {
	if rate := pe.windowRate(); rate > 0 {
		return rate
	}

	elapsed := time.Since(pe.startTime).Minutes()
	if elapsed <= 0 || pe.processed <= 0 {
		return 0
	}
	return float64(pe.processed) / elapsed
}

// windowRate computes the rate across the oldest and newest samples in the
// window. Returns 0 when fewer than two samples exist or no progress was
// made between them.
func (pe *ProgressEstimator) windowRate() float64 {
	if len(pe.samples) < 2 {
		return 0
	}

	oldest := pe.samples[0]
	newest := pe.samples[len(pe.samples)-1]

	minutes := newest.timestamp.Sub(oldest.timestamp).Minutes()
	if minutes <= 0 {
		return 0
	}

	done := newest.processed - oldest.processed
	if done <= 0 {
		return 0
	}
	return float64(done) / minutes
}

// ETASeconds estimates the seconds remaining at the current rate. Returns 0
// when no estimate is possible (nothing processed yet, or already done).
func (pe *ProgressEstimator) ETASeconds() int64 {
	pe.mu.RLock()
	defer pe.mu.RUnlock()

	remaining := pe.total - pe.processed
	if remaining <= 0 || pe.total <= 0 {
		return 0
	}

	rate := pe.rateLocked()
	if rate <= 0 {
		return 0
	}

	seconds := float64(remaining) / rate * 60
	if seconds < 0 {
		return 0
	}
	return int64(seconds)
}

// Percent returns completion as 0-100, capped at 100.
func (pe *ProgressEstimator) Percent() float64 {
	pe.mu.RLock()
	defer pe.mu.RUnlock()

	if pe.total <= 0 {
		return 0
	}
	percent := float64(pe.processed) / float64(pe.total) * 100
	if percent > 100 {
		percent = 100
	}
	return percent
}
