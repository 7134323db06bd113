package ui

import (
	"sync"
	"time"
)

const (
	// speedInterval is the minimum gap between throughput samples.
	speedInterval = 500 * time.Millisecond
	// speedSmoothing weights a new sample in the running average.
	speedSmoothing = 0.2
	// etaSmoothing weights a new ETA against the previous one.
	etaSmoothing = 0.3
)

// Throughput holds items/sec figures for the current stage.
type Throughput struct {
	Current float64
	Avg     float64
	Peak    float64
}

// ProgressSnapshot is a point-in-time copy of a ProgressTracker.
type ProgressSnapshot struct {
	Stage       Stage
	Current     int
	Total       int
	Fraction    float64
	ETA         time.Duration
	CurrentFile string
	Errors      int
	Warnings    int
	Speed       Throughput
}

// ProgressTracker accumulates progress events for the TUI. Safe for
// concurrent use.
type ProgressTracker struct {
	mu sync.Mutex

	stage       Stage
	current     int
	total       int
	currentFile string
	stageStart  time.Time
	errors      int
	warnings    int

	lastETA    time.Duration
	lastCount  int
	lastSample time.Time
	speed      Throughput
	samples    int
	history    *Sparkline
}

// NewProgressTracker starts in StageScanning.
func NewProgressTracker() *ProgressTracker {
	now := time.Now()
	return &ProgressTracker{
		stage:      StageScanning,
		stageStart: now,
		lastSample: now,
		history:    NewSparkline(60),
	}
}

// SetStage moves to stage and resets the per-stage counters.
func (p *ProgressTracker) SetStage(stage Stage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	p.stage = stage
	p.total = total
	p.current = 0
	p.currentFile = ""
	p.stageStart = now
	p.lastETA = 0
	p.lastCount = 0
	p.lastSample = now
	p.speed = Throughput{}
	p.samples = 0
	p.history.Clear()
}

// Observe applies one progress event, switching stage when it differs.
func (p *ProgressTracker) Observe(ev ProgressEvent) {
	p.mu.Lock()
	stage, total := p.stage, p.total
	p.mu.Unlock()
	if ev.Stage != stage {
		p.SetStage(ev.Stage, ev.Total)
	} else if ev.Total != total {
		p.mu.Lock()
		p.total = ev.Total
		p.mu.Unlock()
	}
	p.update(ev.Current, ev.CurrentFile, time.Now())
}

func (p *ProgressTracker) update(current int, file string, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = current
	if file != "" {
		p.currentFile = file
	}

	elapsed := now.Sub(p.lastSample)
	if elapsed < speedInterval {
		return
	}
	if delta := current - p.lastCount; delta > 0 {
		rate := float64(delta) / elapsed.Seconds()
		p.speed.Current = rate
		p.samples++
		if p.samples == 1 {
			p.speed.Avg = rate
		} else {
			p.speed.Avg = speedSmoothing*rate + (1-speedSmoothing)*p.speed.Avg
		}
		p.speed.Peak = max(p.speed.Peak, rate)
		p.history.Add(rate)
	}
	p.lastCount = current
	p.lastSample = now
}

// AddError counts an error event.
func (p *ProgressTracker) AddError(ev ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev.IsWarn {
		p.warnings++
	} else {
		p.errors++
	}
}

// Snapshot returns the current state.
func (p *ProgressTracker) Snapshot() ProgressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	frac := 0.0
	if p.total > 0 {
		frac = min(float64(p.current)/float64(p.total), 1)
	}
	return ProgressSnapshot{
		Stage:       p.stage,
		Current:     p.current,
		Total:       p.total,
		Fraction:    frac,
		ETA:         p.eta(frac),
		CurrentFile: p.currentFile,
		Errors:      p.errors,
		Warnings:    p.warnings,
		Speed:       p.speed,
	}
}

// eta extrapolates the stage time from frac, smoothed against the last
// estimate. Caller holds mu.
func (p *ProgressTracker) eta(frac float64) time.Duration {
	if frac <= 0 || frac >= 1 {
		return 0
	}
	elapsed := time.Since(p.stageStart)
	remaining := time.Duration(float64(elapsed)/frac) - elapsed
	if remaining < 0 {
		return 0
	}
	if p.lastETA > 0 {
		remaining = time.Duration(etaSmoothing*float64(remaining) + (1-etaSmoothing)*float64(p.lastETA))
	}
	p.lastETA = remaining
	return remaining
}

// Sparkline renders the throughput history at width.
func (p *ProgressTracker) Sparkline(width int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.history.Render(width)
}
