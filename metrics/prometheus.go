// Package metrics publishes per-item outcomes. The status series is 1 for a
// successful item and 0 otherwise, labelled by file and source, and is written
// to a node_exporter textfile.
package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"czdsfetch/internal"
)

const namespace = "czds"

// PrometheusSink collects outcomes into a private registry
type PrometheusSink struct {
	registry *prometheus.Registry
	source   string
	path     string
	mutex    sync.Mutex

	status       *prometheus.GaugeVec
	outcomes     *prometheus.CounterVec
	bytesWritten prometheus.Counter
	duration     *prometheus.GaugeVec
	lastRun      prometheus.Gauge
}

// NewPrometheusSink creates a sink labelling every series with source. When
// path is non-empty Flush writes the registry to it in the text exposition format.
func NewPrometheusSink(source, path string) *PrometheusSink {
	s := &PrometheusSink{
		registry: prometheus.NewRegistry(),
		source:   source,
		path:     path,
	}

	s.status = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "status",
		Help:      "1 if the item succeeded in the last run, 0 otherwise.",
	}, []string{"file", "source"})

	s.outcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outcomes_total",
		Help:      "Processed items by outcome.",
	}, []string{"status", "source"})

	s.bytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "bytes_written_total",
		Help:        "Zone file bytes committed to storage.",
		ConstLabels: prometheus.Labels{"source": source},
	})

	s.duration = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "item_duration_seconds",
		Help:      "Time spent on the item in the last run.",
	}, []string{"file", "source"})

	s.lastRun = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "last_run_timestamp_seconds",
		Help:        "Unix time of the last flush.",
		ConstLabels: prometheus.Labels{"source": source},
	})

	s.registry.MustRegister(s.status, s.outcomes, s.bytesWritten, s.duration, s.lastRun)
	return s
}

var _ internal.MetricsSink = (*PrometheusSink)(nil)

// Record implements internal.MetricsSink
func (s *PrometheusSink) Record(outcome internal.FetchOutcome) {
	value := 0.0
	if outcome.Status == internal.StatusSuccess {
		value = 1
	}

	file := outcome.Item.ID
	s.status.WithLabelValues(file, s.source).Set(value)
	s.outcomes.WithLabelValues(outcome.Status.String(), s.source).Inc()
	s.duration.WithLabelValues(file, s.source).Set(outcome.Duration.Seconds())
	if outcome.BytesWritten > 0 {
		s.bytesWritten.Add(float64(outcome.BytesWritten))
	}
}

// Flush writes the textfile, if one is configured
func (s *PrometheusSink) Flush() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.lastRun.SetToCurrentTime()
	if s.path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(s.path, s.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", s.path, err)
	}
	internal.LogDebug("Metrics written to %s", s.path)
	return nil
}
