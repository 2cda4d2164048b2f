// Package metrics exposes prometheus instrumentation for the engine.
package metrics

import (
	"time"

	"github.com/guardiavault-oss/Paradexx-sub007/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectorPollTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guardiavault",
		Subsystem: "connector",
		Name:      "poll_total",
		Help:      "Count of pending-transaction poll attempts.",
	}, []string{"network", "status"})

	connectorPollDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "guardiavault",
		Subsystem: "connector",
		Name:      "poll_duration_seconds",
		Help:      "Duration of pending-transaction polls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"network", "status"})

	connectorPollBatchSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "guardiavault",
		Subsystem: "connector",
		Name:      "poll_batch_size",
		Help:      "Number of pending transactions returned per poll.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	}, []string{"network"})

	connectorMalformedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guardiavault",
		Subsystem: "connector",
		Name:      "malformed_dropped_total",
		Help:      "Count of unparseable transactions dropped before classification.",
	}, []string{"network"})

	connectorStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "guardiavault",
		Subsystem: "connector",
		Name:      "connection_status",
		Help:      "Connection status per network (1 for the active status label).",
	}, []string{"network", "status"})
)

// Connector tracks metrics for one network's chain connector.
type Connector struct{}

// NewConnector constructs a Connector metrics recorder.
func NewConnector() *Connector { return &Connector{} }

// ObservePoll records a poll attempt's outcome, size and duration.
func (Connector) ObservePoll(network model.Network, txs int, err error, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	connectorPollTotal.WithLabelValues(string(network), status).Inc()
	connectorPollDuration.WithLabelValues(string(network), status).
		Observe(time.Since(started).Seconds())
	if err == nil {
		connectorPollBatchSize.WithLabelValues(string(network)).Observe(float64(txs))
	}
}

// ObserveMalformed records one dropped unparseable transaction.
func (Connector) ObserveMalformed(network model.Network) {
	connectorMalformedTotal.WithLabelValues(string(network)).Inc()
}

// ObserveStatus flips the status gauge for a network.
func (Connector) ObserveStatus(network model.Network, status model.ConnectionStatus) {
	for _, s := range []model.ConnectionStatus{model.StatusConnected, model.StatusDegraded, model.StatusDisconnected} {
		v := 0.0
		if s == status {
			v = 1
		}
		connectorStatus.WithLabelValues(string(network), string(s)).Set(v)
	}
}
