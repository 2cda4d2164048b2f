package metrics

import (
	"time"

	"github.com/guardiavault-oss/Paradexx-sub007/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	classifyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "guardiavault",
		Subsystem: "pipeline",
		Name:      "classify_duration_seconds",
		Help:      "Duration of per-transaction classification.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"network"})

	classifyDetections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guardiavault",
		Subsystem: "pipeline",
		Name:      "detections_total",
		Help:      "Count of threat detections by type.",
	}, []string{"network", "type", "severity"})

	protectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guardiavault",
		Subsystem: "pipeline",
		Name:      "protect_total",
		Help:      "Count of protection attempts by strategy.",
	}, []string{"network", "strategy", "status"})

	protectDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "guardiavault",
		Subsystem: "pipeline",
		Name:      "protect_duration_seconds",
		Help:      "Duration of protection application.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"network", "strategy", "status"})

	relaySubmitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guardiavault",
		Subsystem: "relay",
		Name:      "submit_total",
		Help:      "Count of private relay submissions.",
	}, []string{"network", "status"})

	relaySubmitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "guardiavault",
		Subsystem: "relay",
		Name:      "submit_duration_seconds",
		Help:      "Duration of private relay submissions including the retry.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"network", "status"})
)

// Pipeline tracks classification and protection metrics.
type Pipeline struct{}

// NewPipeline constructs a Pipeline metrics recorder.
func NewPipeline() *Pipeline { return &Pipeline{} }

// ObserveClassify records one classification pass.
func (Pipeline) ObserveClassify(network model.Network, detections []model.ThreatDetection, started time.Time) {
	classifyDuration.WithLabelValues(string(network)).Observe(time.Since(started).Seconds())
	for _, d := range detections {
		classifyDetections.WithLabelValues(string(network), string(d.Type), string(d.Severity)).Inc()
	}
}

// ObserveProtect records one protection attempt.
func (Pipeline) ObserveProtect(network model.Network, strategy model.Strategy, err error, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	protectTotal.WithLabelValues(string(network), string(strategy), status).Inc()
	protectDuration.WithLabelValues(string(network), string(strategy), status).
		Observe(time.Since(started).Seconds())
}

// Relay tracks private relay submission metrics.
type Relay struct{}

// NewRelay constructs a Relay metrics recorder.
func NewRelay() *Relay { return &Relay{} }

// ObserveSubmit records one relay submission outcome.
func (Relay) ObserveSubmit(network model.Network, err error, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	relaySubmitTotal.WithLabelValues(string(network), status).Inc()
	relaySubmitDuration.WithLabelValues(string(network), status).
		Observe(time.Since(started).Seconds())
}
