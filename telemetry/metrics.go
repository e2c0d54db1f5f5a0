package telemetry

// Histogram bucket definitions
var (
	// PageFetchBuckets for a single page fetch + decode + transform attempt
	PageFetchBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

	// PageSizeBuckets for records per page
	PageSizeBuckets = []float64{1, 10, 50, 100, 250, 500, 1000, 2500, 5000, 10000}
)

// Scan Metrics
var (
	// PagesTotal counts pages consumed by table
	PagesTotal CounterVec = noopCounterVec{}

	// RecordsTotal counts records consumed by table
	RecordsTotal CounterVec = noopCounterVec{}

	// PageRecords measures records per page by table
	PageRecords HistogramVec = noopHistogramVec{}

	// PageRetriesTotal counts failed page attempts that were retried
	PageRetriesTotal CounterVec = noopCounterVec{}

	// PageFetchSeconds measures page attempt latency by table
	PageFetchSeconds HistogramVec = noopHistogramVec{}

	// ScanAbortsTotal counts fatal scan aborts by table and reason (retries, duplicate, export, cardinality, canceled)
	ScanAbortsTotal CounterVec = noopCounterVec{}

	// AnomaliesTotal counts records flagged by structural heuristics
	AnomaliesTotal CounterVec = noopCounterVec{}

	// DuplicateKeysTotal counts keys the exactly-once verifier saw twice
	DuplicateKeysTotal CounterVec = noopCounterVec{}

	// ScanProgressRatio tracks processed/total records for running scans
	ScanProgressRatio GaugeVec = noopGaugeVec{}

	// ExportedPagesTotal counts pages written to an export sink by sink type
	ExportedPagesTotal CounterVec = noopCounterVec{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	PagesTotal = NewCounterVec(
		"pages_total",
		"Pages consumed by table",
		[]string{"table"},
	)
	RecordsTotal = NewCounterVec(
		"records_total",
		"Records consumed by table",
		[]string{"table"},
	)
	PageRecords = NewHistogramVec(
		"page_records",
		"Records per page",
		[]string{"table"},
		PageSizeBuckets,
	)
	PageRetriesTotal = NewCounterVec(
		"page_retries_total",
		"Page attempts that failed and were retried",
		[]string{"table"},
	)
	PageFetchSeconds = NewHistogramVec(
		"page_fetch_seconds",
		"Page fetch, decode and transform duration in seconds",
		[]string{"table"},
		PageFetchBuckets,
	)
	ScanAbortsTotal = NewCounterVec(
		"aborts_total",
		"Fatal scan aborts by reason",
		[]string{"table", "reason"},
	)
	AnomaliesTotal = NewCounterVec(
		"anomalies_total",
		"Records flagged as structurally unusual",
		[]string{"table"},
	)
	DuplicateKeysTotal = NewCounterVec(
		"duplicate_keys_total",
		"Keys observed in more than one page",
		[]string{"table"},
	)
	ScanProgressRatio = NewGaugeVec(
		"progress_ratio",
		"Processed records over table cardinality",
		[]string{"table"},
	)
	ExportedPagesTotal = NewCounterVec(
		"exported_pages_total",
		"Pages written to an export sink",
		[]string{"sink"},
	)
}
