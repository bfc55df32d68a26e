// Package metrics holds the Prometheus collectors for both passes. Batch
// runs are short-lived, so collectors live on a private registry that is
// pushed to a Pushgateway when the pass ends.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Site and job outcomes used as label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultRetry   = "retry"
)

// Recorder groups the collectors. A nil *Recorder records nothing.
type Recorder struct {
	registry       *prometheus.Registry
	siteAttempts   *prometheus.CounterVec
	siteResults    *prometheus.CounterVec
	listings       *prometheus.CounterVec
	jobs           *prometheus.CounterVec
	activeSessions prometheus.Gauge
	batches        prometheus.Counter
	passDuration   *prometheus.GaugeVec
	lastSuccess    *prometheus.GaugeVec
}

// New registers every collector on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		siteAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_site_attempts_total",
				Help: "Site visits attempted by the listing pass, including retries.",
			},
			[]string{"site"},
		),
		siteResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_site_results_total",
				Help: "Final per-site outcome of the listing pass.",
			},
			[]string{"site", "result"},
		),
		listings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_listings_total",
				Help: "Listings extracted, labeled by source.",
			},
			[]string{"source"},
		),
		jobs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_enrich_jobs_total",
				Help: "Detail pages processed by the enrichment pass, labeled by source and result.",
			},
			[]string{"source", "result"},
		),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "jobcrawler_enrich_active_sessions",
				Help: "Browser contexts currently open in the enrichment pass.",
			},
		),
		batches: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "jobcrawler_enrich_batches_total",
				Help: "Enrichment batches completed.",
			},
		),
		passDuration: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "jobcrawler_pass_duration_seconds",
				Help: "Wall time of the last run of each pass.",
			},
			[]string{"pass"},
		),
		lastSuccess: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "jobcrawler_pass_last_success_timestamp_seconds",
				Help: "Unix time the pass last completed without a fatal error.",
			},
			[]string{"pass"},
		),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveSiteAttempt counts one visit attempt for site.
func (r *Recorder) ObserveSiteAttempt(site string) {
	if r == nil {
		return
	}
	r.siteAttempts.WithLabelValues(site).Inc()
}

// ObserveSite records the final outcome of a site and its listing count.
func (r *Recorder) ObserveSite(site, result string, listings int) {
	if r == nil {
		return
	}
	r.siteResults.WithLabelValues(site, result).Inc()
	if listings > 0 {
		r.listings.WithLabelValues(site).Add(float64(listings))
	}
}

// ObserveJob records one enrichment job outcome.
func (r *Recorder) ObserveJob(source, result string) {
	if r == nil {
		return
	}
	r.jobs.WithLabelValues(source, result).Inc()
}

// IncActiveSessions increments the open-context gauge.
func (r *Recorder) IncActiveSessions() {
	if r == nil {
		return
	}
	r.activeSessions.Inc()
}

// DecActiveSessions decrements the open-context gauge.
func (r *Recorder) DecActiveSessions() {
	if r == nil {
		return
	}
	r.activeSessions.Dec()
}

// ObserveBatch counts a completed enrichment batch.
func (r *Recorder) ObserveBatch() {
	if r == nil {
		return
	}
	r.batches.Inc()
}

// ObservePass records the duration of a pass and, when it succeeded, the
// completion time.
func (r *Recorder) ObservePass(pass string, took time.Duration, finished time.Time, ok bool) {
	if r == nil {
		return
	}
	r.passDuration.WithLabelValues(pass).Set(took.Seconds())
	if ok {
		r.lastSuccess.WithLabelValues(pass).Set(float64(finished.Unix()))
	}
}

// Push sends the registry to the Pushgateway at url under job, grouped by
// run ID. An empty url disables pushing.
func (r *Recorder) Push(ctx context.Context, url, job, runID string) error {
	if r == nil || url == "" {
		return nil
	}
	pusher := push.New(url, job).Gatherer(r.registry)
	if runID != "" {
		pusher = pusher.Grouping("run_id", runID)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
