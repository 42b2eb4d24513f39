// Package metrics records pipeline counters in a Prometheus registry.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wphunter"

// Recorder holds the scan metrics of one process. A nil *Recorder discards
// everything, so callers never need to check.
type Recorder struct {
	registry *prometheus.Registry

	pagesFetched     prometheus.Counter
	targetsFetched   prometheus.Counter
	targetsSkipped   *prometheus.CounterVec
	resultsEmitted   prometheus.Counter
	downloadsFailed  prometheus.Counter
	analysisDuration prometheus.Histogram
	scoreHistogram   prometheus.Histogram
	runsTotal        *prometheus.CounterVec
}

// New creates a Recorder with its own registry
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		pagesFetched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Catalog pages fetched from the metadata source.",
		}),
		targetsFetched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "targets_fetched_total",
			Help:      "Targets returned by the metadata source.",
		}),
		targetsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "targets_skipped_total",
			Help:      "Targets dropped by a filter, by filter name.",
		}, []string{"filter"}),
		resultsEmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_emitted_total",
			Help:      "Scored results persisted and delivered.",
		}),
		downloadsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_failed_total",
			Help:      "Deep analyses that fell back to metadata-only scoring.",
		}),
		analysisDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Time to download and analyze one target.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		scoreHistogram: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "result_score",
			Help:      "Distribution of emitted scores.",
			Buckets:   []float64{10, 20, 35, 50, 75, 100, 150},
		}),
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by final status.",
		}, []string{"status"}),
	}
}

// PageFetched records one fetched page and its target count
func (r *Recorder) PageFetched(targets int) {
	if r == nil {
		return
	}
	r.pagesFetched.Inc()
	r.targetsFetched.Add(float64(targets))
}

// TargetSkipped records a target rejected by filter
func (r *Recorder) TargetSkipped(filter string) {
	if r == nil {
		return
	}
	r.targetsSkipped.WithLabelValues(filter).Inc()
}

// ResultEmitted records an emitted result
func (r *Recorder) ResultEmitted(score int) {
	if r == nil {
		return
	}
	r.resultsEmitted.Inc()
	r.scoreHistogram.Observe(float64(score))
}

// DownloadFailed records a deep analysis that could not run
func (r *Recorder) DownloadFailed() {
	if r == nil {
		return
	}
	r.downloadsFailed.Inc()
}

// AnalysisDone records how long one deep analysis took
func (r *Recorder) AnalysisDone(d time.Duration) {
	if r == nil {
		return
	}
	r.analysisDuration.Observe(d.Seconds())
}

// RunFinished records the final status of a run
func (r *Recorder) RunFinished(status string) {
	if r == nil {
		return
	}
	r.runsTotal.WithLabelValues(status).Inc()
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the registry to path for the node_exporter textfile collector
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
