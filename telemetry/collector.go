package telemetry

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ProgressReporter periodically logs a heartbeat for every running scan so
// long scans stay visible between per-page lines at Info level.
type ProgressReporter struct {
	tracker  *ProgressTracker
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewProgressReporter creates a new reporter
func NewProgressReporter(tracker *ProgressTracker, interval time.Duration) *ProgressReporter {
	return &ProgressReporter{
		tracker:  tracker,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic reporting
func (pr *ProgressReporter) Start() {
	pr.wg.Add(1)
	go pr.reportLoop()
}

// Stop stops the reporter
func (pr *ProgressReporter) Stop() {
	close(pr.stopCh)
	pr.wg.Wait()
}

func (pr *ProgressReporter) reportLoop() {
	defer pr.wg.Done()

	ticker := time.NewTicker(pr.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pr.report()
		case <-pr.stopCh:
			return
		}
	}
}

func (pr *ProgressReporter) report() {
	for _, p := range pr.tracker.Running() {
		log.Info().
			Str("run_id", p.RunID).
			Str("table", p.Table).
			Uint64("processed", p.Processed).
			Uint64("total", p.Total).
			Int("pages", p.Pages).
			Int("retries", p.Retries).
			Float64("ratio", p.Ratio()).
			Dur("elapsed", time.Since(p.StartedAt)).
			Msg("Scan progress")
	}
}
