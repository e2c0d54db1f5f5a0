package telemetry

import (
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// ScanState is the lifecycle state of a tracked scan
type ScanState string

const (
	ScanRunning ScanState = "running"
	ScanDone    ScanState = "done"
	ScanFailed  ScanState = "failed"
)

// ScanProgress is a point-in-time snapshot of one scan
type ScanProgress struct {
	RunID     string    `json:"run_id"`
	Table     string    `json:"table"`
	State     ScanState `json:"state"`
	Total     uint64    `json:"total"`
	Processed uint64    `json:"processed"`
	Pages     int       `json:"pages"`
	Retries   int       `json:"retries"`
	PageSize  int       `json:"page_size"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ratio returns processed/total, 1 for empty tables
func (p ScanProgress) Ratio() float64 {
	if p.Total == 0 {
		return 1
	}
	return float64(p.Processed) / float64(p.Total)
}

// ProgressTracker holds progress of every scan in the process.
// Each scan is written only by its driving loop; readers (HTTP handler,
// reporter) take snapshots concurrently.
type ProgressTracker struct {
	scans *xsync.MapOf[string, ScanProgress]
}

// NewProgressTracker creates an empty tracker
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{scans: xsync.NewMapOf[string, ScanProgress]()}
}

// Progress is the process-wide tracker used by scans and the HTTP server
var Progress = NewProgressTracker()

// Update stores the latest snapshot for a scan and refreshes its gauge
func (t *ProgressTracker) Update(p ScanProgress) {
	p.UpdatedAt = time.Now()
	t.scans.Store(p.RunID, p)
	ScanProgressRatio.With(p.Table).Set(p.Ratio())
}

// Get returns the snapshot for a run
func (t *ProgressTracker) Get(runID string) (ScanProgress, bool) {
	return t.scans.Load(runID)
}

// Snapshot returns all scans ordered by start time
func (t *ProgressTracker) Snapshot() []ScanProgress {
	out := make([]ScanProgress, 0, t.scans.Size())
	t.scans.Range(func(_ string, p ScanProgress) bool {
		out = append(out, p)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].RunID < out[j].RunID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Running returns only scans still in progress
func (t *ProgressTracker) Running() []ScanProgress {
	all := t.Snapshot()
	out := all[:0]
	for _, p := range all {
		if p.State == ScanRunning {
			out = append(out, p)
		}
	}
	return out
}
