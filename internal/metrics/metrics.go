// Package metrics holds the Prometheus collectors of the sync and dispatch pipelines.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Run outcomes.
const (
	OutcomeDone    = "done"
	OutcomeAborted = "aborted"
)

// Record results.
const (
	ResultFetched = "fetched"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"
)

// Dispatch outcomes.
const (
	DispatchSent   = "sent"
	DispatchEmpty  = "empty"
	DispatchFailed = "failed"
)

// Metrics groups the pipeline collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs        *prometheus.CounterVec
	records     *prometheus.CounterVec
	dispatches  *prometheus.CounterVec
	attachments prometheus.Counter
	runDuration prometheus.Histogram
	lastSuccess prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resumesync_runs_total",
				Help: "Total number of sync runs by final state.",
			},
			[]string{"outcome"},
		),
		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resumesync_records_total",
				Help: "Total number of applicant records processed by result.",
			},
			[]string{"result"},
		),
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resumesync_dispatches_total",
				Help: "Total number of dispatch invocations by outcome.",
			},
			[]string{"outcome"},
		),
		attachments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "resumesync_dispatched_attachments_total",
			Help: "Total number of artifacts attached to delivered messages.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "resumesync_run_duration_seconds",
			Help:    "Duration of sync runs.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "resumesync_last_success_timestamp_seconds",
			Help: "Unix time of the last sync run that reached Done.",
		}),
	}

	for _, c := range []prometheus.Collector{m.runs, m.records, m.dispatches, m.attachments, m.runDuration, m.lastSuccess} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveRun records the final state and duration of a sync run.
func (m *Metrics) ObserveRun(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(d.Seconds())
	if outcome == OutcomeDone {
		m.lastSuccess.SetToCurrentTime()
	}
}

// ObserveRecord counts one processed applicant record.
func (m *Metrics) ObserveRecord(result string) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(result).Inc()
}

// ObserveDispatch counts one dispatch invocation and its attachments.
func (m *Metrics) ObserveDispatch(outcome string, attachments int) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(outcome).Inc()
	if outcome == DispatchSent {
		m.attachments.Add(float64(attachments))
	}
}

// Push sends everything gathered by g to a Pushgateway. An empty url is a no-op.
func Push(ctx context.Context, url, job string, g prometheus.Gatherer) error {
	if url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(g).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
