package importer

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/modelbay/modelbay/internal/logger"
)

// ThrottleConfig tunes the adaptive throttler. Zero values fall back
// to the defaults.
type ThrottleConfig struct {
	TargetCPUPercent    float64       // scale down starts above this
	MaxCPUPercent       float64       // concurrency floor above this
	TargetMemoryPercent float64       // scale down starts above this
	MaxMemoryPercent    float64       // concurrency floor above this
	EmergencyThreshold  float64       // either resource above this trips the brake
	EmergencyHold       time.Duration // how long the brake stays on
	SampleInterval      time.Duration // monitor cadence
	MaxInterBatchDelay  time.Duration // delay cap under pressure
}

// DefaultThrottleConfig returns the tuning used when a job enables
// adaptive throttling without overrides.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		TargetCPUPercent:    70,
		MaxCPUPercent:       85,
		TargetMemoryPercent: 75,
		MaxMemoryPercent:    90,
		EmergencyThreshold:  95,
		EmergencyHold:       10 * time.Second,
		SampleInterval:      2 * time.Second,
		MaxInterBatchDelay:  2 * time.Second,
	}
}

func (c ThrottleConfig) withDefaults() ThrottleConfig {
	d := DefaultThrottleConfig()
	if c.TargetCPUPercent <= 0 {
		c.TargetCPUPercent = d.TargetCPUPercent
	}
	if c.MaxCPUPercent <= 0 {
		c.MaxCPUPercent = d.MaxCPUPercent
	}
	if c.TargetMemoryPercent <= 0 {
		c.TargetMemoryPercent = d.TargetMemoryPercent
	}
	if c.MaxMemoryPercent <= 0 {
		c.MaxMemoryPercent = d.MaxMemoryPercent
	}
	if c.EmergencyThreshold <= 0 {
		c.EmergencyThreshold = d.EmergencyThreshold
	}
	if c.EmergencyHold <= 0 {
		c.EmergencyHold = d.EmergencyHold
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = d.SampleInterval
	}
	if c.MaxInterBatchDelay <= 0 {
		c.MaxInterBatchDelay = d.MaxInterBatchDelay
	}
	return c
}

// SystemMetrics is one sample of host resource usage
type SystemMetrics struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	LoadAverage   float64   `json:"load_average"`
	SampledAt     time.Time `json:"sampled_at"`
}

// AdaptiveThrottler samples system load in the background and tells
// the control loop how much of its configured concurrency to use and
// how long to rest between batches. The effective concurrency never
// exceeds the configured level and never drops below 1.
type AdaptiveThrottler struct {
	config ThrottleConfig

	mu         sync.RWMutex
	latest     SystemMetrics
	scale      float64 // 0..1 fraction of configured concurrency
	delay      time.Duration
	brakeUntil time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewAdaptiveThrottler starts the background monitor immediately
func NewAdaptiveThrottler(config ThrottleConfig) *AdaptiveThrottler {
	t := &AdaptiveThrottler{
		config: config.withDefaults(),
		scale:  1,
		stop:   make(chan struct{}),
	}
	go t.monitor()
	return t
}

// Stop shuts down the background monitor
func (t *AdaptiveThrottler) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

// EffectiveConcurrency scales the job's configured concurrency by the
// current resource pressure.
func (t *AdaptiveThrottler) EffectiveConcurrency(configured int) int {
	if configured < 1 {
		configured = 1
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	if time.Now().Before(t.brakeUntil) {
		return 1
	}
	effective := int(float64(configured) * t.scale)
	if effective < 1 {
		effective = 1
	}
	if effective > configured {
		effective = configured
	}
	return effective
}

// InterBatchDelay returns the rest period the loop should take before
// the next batch. Zero when the system is comfortable.
func (t *AdaptiveThrottler) InterBatchDelay() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if time.Now().Before(t.brakeUntil) {
		return t.config.MaxInterBatchDelay
	}
	return t.delay
}

// Metrics returns the most recent sample
func (t *AdaptiveThrottler) Metrics() SystemMetrics {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest
}

func (t *AdaptiveThrottler) monitor() {
	ticker := time.NewTicker(t.config.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			metrics := t.sample()
			t.evaluate(metrics)
		}
	}
}

// sample gathers one resource snapshot. Collection failures leave the
// affected metric at zero rather than aborting the sample.
func (t *AdaptiveThrottler) sample() SystemMetrics {
	ctx, cancel := context.WithTimeout(context.Background(), t.config.SampleInterval)
	defer cancel()

	metrics := SystemMetrics{SampledAt: time.Now().UTC()}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		metrics.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		metrics.MemoryPercent = vm.UsedPercent
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		metrics.LoadAverage = avg.Load1
	}
	return metrics
}

// evaluate converts a sample into the scale/delay the loop reads
func (t *AdaptiveThrottler) evaluate(m SystemMetrics) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latest = m

	if m.CPUPercent >= t.config.EmergencyThreshold || m.MemoryPercent >= t.config.EmergencyThreshold {
		if time.Now().After(t.brakeUntil) {
			logger.Warn("🛑 Emergency brake: cpu=%.1f%% mem=%.1f%%, holding imports at minimum for %s",
				m.CPUPercent, m.MemoryPercent, t.config.EmergencyHold)
		}
		t.brakeUntil = time.Now().Add(t.config.EmergencyHold)
		t.scale = 0
		t.delay = t.config.MaxInterBatchDelay
		return
	}

	cpuScale := pressureScale(m.CPUPercent, t.config.TargetCPUPercent, t.config.MaxCPUPercent)
	memScale := pressureScale(m.MemoryPercent, t.config.TargetMemoryPercent, t.config.MaxMemoryPercent)
	scale := cpuScale
	if memScale < scale {
		scale = memScale
	}
	t.scale = scale

	// Delay grows linearly as the scale collapses
	t.delay = time.Duration((1 - scale) * float64(t.config.MaxInterBatchDelay))
}

// pressureScale maps usage onto a 0..1 concurrency fraction: full
// speed at or below target, floor at or above max, linear in between.
func pressureScale(usage, target, max float64) float64 {
	if usage <= target {
		return 1
	}
	if usage >= max {
		return 0
	}
	return (max - usage) / (max - target)
}
