package scan

import (
	"sort"

	"github.com/maxpert/tablescan/encoding"
	"github.com/maxpert/tablescan/tables"
	"github.com/maxpert/tablescan/telemetry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Aggregator folds one page of tuples into running state. Fold is only
// ever called from the scan loop, never concurrently.
type Aggregator[T Tuple] interface {
	Fold(page *Page, tuples []T)
}

// Measured is a tuple with a size
type Measured interface {
	Tuple
	Measure() int
}

// MaxByCategory tracks the largest measure seen per category
type MaxByCategory[T Measured] struct {
	max map[string]int

	Logger zerolog.Logger
}

// NewMaxByCategory creates an empty reducer
func NewMaxByCategory[T Measured]() *MaxByCategory[T] {
	return &MaxByCategory[T]{max: make(map[string]int), Logger: log.Logger}
}

func (m *MaxByCategory[T]) Fold(page *Page, tuples []T) {
	pageMax := make(map[string]int)
	for _, t := range tuples {
		cat, size := t.Category(), t.Measure()
		if cur, ok := pageMax[cat]; !ok || size > cur {
			pageMax[cat] = size
		}
		if cur, ok := m.max[cat]; !ok || size > cur {
			m.max[cat] = size
		}
	}

	maxima := zerolog.Dict()
	for cat, size := range pageMax {
		maxima.Int(cat, size)
	}
	m.Logger.Info().
		Int("page", page.Index).
		Str("first_key", encoding.KeyString(page.FirstKey())).
		Dict("max", maxima).
		Msg("Max size in page")
}

// Result returns a copy of the category maxima
func (m *MaxByCategory[T]) Result() map[string]int {
	out := make(map[string]int, len(m.max))
	for k, v := range m.max {
		out[k] = v
	}
	return out
}

// Categories returns the seen categories, sorted
func (m *MaxByCategory[T]) Categories() []string {
	out := make([]string, 0, len(m.max))
	for k := range m.max {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DepthSample is one trie node reduced to what the depth scan needs
type DepthSample struct {
	Path     tables.Nibbles
	Depth    int
	Children int
	Node     tables.BranchNode
}

// Anomalous reports a node with at most one child. Branch nodes normally
// have two or more; this is a diagnostic, not a validity check.
func (s DepthSample) Anomalous() bool {
	return s.Children <= 1
}

func (s DepthSample) Category() string {
	if s.Anomalous() {
		return "anomaly"
	}
	return "branch"
}

func (s DepthSample) Measure() int {
	return s.Depth
}

// DepthTracker keeps the per-page and global maximum depth and collects
// anomalous nodes
type DepthTracker struct {
	PageMax   []int // max depth of every folded page, in scan order
	GlobalMax int

	Anomalies    []DepthSample // capped at MaxAnomalies
	AnomalyCount int
	MaxAnomalies int

	Logger zerolog.Logger
}

// NewDepthTracker creates a tracker retaining at most maxAnomalies samples
func NewDepthTracker(maxAnomalies int) *DepthTracker {
	return &DepthTracker{MaxAnomalies: maxAnomalies, Logger: log.Logger}
}

func (d *DepthTracker) Fold(page *Page, tuples []DepthSample) {
	pageMax := 0
	for _, s := range tuples {
		if s.Depth > pageMax {
			pageMax = s.Depth
		}
		if s.Anomalous() {
			d.AnomalyCount++
			telemetry.AnomaliesTotal.With(tables.AccountsTrie.Name).Inc()
			if len(d.Anomalies) < d.MaxAnomalies {
				d.Anomalies = append(d.Anomalies, s)
			}
			d.Logger.Warn().
				Str("path", s.Path.String()).
				Int("children", s.Children).
				Str("state_mask", formatMask(s.Node.StateMask)).
				Str("tree_mask", formatMask(s.Node.TreeMask)).
				Str("hash_mask", formatMask(s.Node.HashMask)).
				Int("hashes", len(s.Node.Hashes)).
				Msg("Anomalous branch node")
		}
	}

	d.PageMax = append(d.PageMax, pageMax)
	if pageMax > d.GlobalMax {
		d.GlobalMax = pageMax
	}

	d.Logger.Info().
		Int("page", page.Index).
		Str("first_key", encoding.KeyString(page.FirstKey())).
		Int("max_depth", pageMax).
		Msg("Max depth in page")
}

func formatMask(m uint16) string {
	const digits = "01"
	out := make([]byte, 16)
	for i := 0; i < 16; i++ {
		out[15-i] = digits[(m>>i)&1]
	}
	return string(out)
}
