// Package metrics provides Prometheus metrics for the geo refresh pipeline
// and the lookup services.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for geotime.
type Metrics struct {
	// Refresh metrics
	RefreshRuns       *prometheus.CounterVec
	LastRefresh       prometheus.Gauge
	RefreshDuration   prometheus.Histogram
	RowsGenerated     *prometheus.CounterVec
	StatementsEmitted *prometheus.CounterVec
	RangeViolations   *prometheus.CounterVec

	// Import metrics
	Artifacts      *prometheus.CounterVec
	ImportDuration prometheus.Histogram
	UploadBytes    prometheus.Counter
	RetryAttempts  *prometheus.CounterVec

	// Lookup metrics
	Lookups          *prometheus.CounterVec
	CalendarRequests *prometheus.CounterVec

	// Error metrics
	SourceErrors   *prometheus.CounterVec
	StorageErrors  *prometheus.CounterVec
	MetadataErrors prometheus.Counter
	AuditErrors    prometheus.Counter
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics.
// Call this once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "geotime"
	}

	m := &Metrics{
		RefreshRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_runs_total",
				Help:      "Refresh runs by outcome (committed, skipped, dumped, failed)",
			},
			[]string{"outcome"},
		),
		LastRefresh: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_refresh_timestamp_seconds",
				Help:      "Unix time of the last committed refresh",
			},
		),
		RefreshDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "refresh_duration_seconds",
				Help:      "Wall time of a full refresh run",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~2h
			},
		),
		RowsGenerated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_generated_total",
				Help:      "Source rows rendered into upsert statements",
			},
			[]string{"table"},
		),
		StatementsEmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "statements_generated_total",
				Help:      "Upsert statements written to artifacts",
			},
			[]string{"table"},
		),
		RangeViolations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "range_violations_total",
				Help:      "Network ranges that overlap or are out of order in the source",
			},
			[]string{"table"},
		),
		Artifacts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifacts_total",
				Help:      "Artifacts by outcome (imported, already_imported, checkpointed, dumped)",
			},
			[]string{"outcome"},
		),
		ImportDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "import_duration_seconds",
				Help:      "Time to import one artifact including retries",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17m
			},
		),
		UploadBytes: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upload_bytes_total",
				Help:      "Artifact bytes uploaded to the store",
			},
		),
		RetryAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts",
			},
			[]string{"operation"},
		),
		Lookups: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ip_lookups_total",
				Help:      "IP lookups by outcome (found, not_found, invalid_address, error)",
			},
			[]string{"outcome"},
		),
		CalendarRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calendar_requests_total",
				Help:      "Zone time computations by outcome (ok, zone_not_found)",
			},
			[]string{"outcome"},
		),
		SourceErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_errors_total",
				Help:      "Total number of source dataset fetch errors",
			},
			[]string{"provider"},
		),
		StorageErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_errors_total",
				Help:      "Total number of artifact archive write errors",
			},
			[]string{"backend"},
		),
		MetadataErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "metadata_errors_total",
				Help:      "Total number of lineage catalog errors",
			},
		),
		AuditErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_errors_total",
				Help:      "Total number of audit event emission errors",
			},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// Serve runs an HTTP server for Prometheus scraping until ctx is done.
func Serve(ctx context.Context, address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: address, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

// Labels is a convenience type for metric labels.
type Labels struct {
	Table     string
	Outcome   string
	Operation string
	Provider  string
	Backend   string
}

// IncRefreshRuns counts a finished refresh run.
func (m *Metrics) IncRefreshRuns(l Labels) {
	m.RefreshRuns.WithLabelValues(l.Outcome).Inc()
}

// SetLastRefresh records the commit time of the last refresh.
func (m *Metrics) SetLastRefresh(unix float64) {
	m.LastRefresh.Set(unix)
}

// ObserveRefreshDuration records the wall time of a run.
func (m *Metrics) ObserveRefreshDuration(seconds float64) {
	m.RefreshDuration.Observe(seconds)
}

// AddRowsGenerated adds mapped rows for a table.
func (m *Metrics) AddRowsGenerated(l Labels, rows float64) {
	m.RowsGenerated.WithLabelValues(l.Table).Add(rows)
}

// AddStatementsGenerated adds generated statements for a table.
func (m *Metrics) AddStatementsGenerated(l Labels, stmts float64) {
	m.StatementsEmitted.WithLabelValues(l.Table).Add(stmts)
}

// IncRangeViolations counts an overlapping or unsorted source range.
func (m *Metrics) IncRangeViolations(l Labels) {
	m.RangeViolations.WithLabelValues(l.Table).Inc()
}

// IncArtifacts counts an artifact by outcome.
func (m *Metrics) IncArtifacts(l Labels) {
	m.Artifacts.WithLabelValues(l.Outcome).Inc()
}

// ObserveImportDuration records the import time of one artifact.
func (m *Metrics) ObserveImportDuration(seconds float64) {
	m.ImportDuration.Observe(seconds)
}

// AddUploadBytes adds uploaded artifact bytes.
func (m *Metrics) AddUploadBytes(bytes float64) {
	m.UploadBytes.Add(bytes)
}

// IncRetryAttempts increments the retry attempts counter.
func (m *Metrics) IncRetryAttempts(l Labels) {
	m.RetryAttempts.WithLabelValues(l.Operation).Inc()
}

// IncLookups counts an IP lookup by outcome.
func (m *Metrics) IncLookups(l Labels) {
	m.Lookups.WithLabelValues(l.Outcome).Inc()
}

// IncCalendarRequests counts a zone time computation by outcome.
func (m *Metrics) IncCalendarRequests(l Labels) {
	m.CalendarRequests.WithLabelValues(l.Outcome).Inc()
}

// IncSourceErrors increments the source errors counter.
func (m *Metrics) IncSourceErrors(l Labels) {
	m.SourceErrors.WithLabelValues(l.Provider).Inc()
}

// IncStorageErrors increments the storage errors counter.
func (m *Metrics) IncStorageErrors(l Labels) {
	m.StorageErrors.WithLabelValues(l.Backend).Inc()
}

// IncMetadataErrors increments the metadata errors counter.
func (m *Metrics) IncMetadataErrors() {
	m.MetadataErrors.Inc()
}

// IncAuditErrors increments the audit errors counter.
func (m *Metrics) IncAuditErrors() {
	m.AuditErrors.Inc()
}
