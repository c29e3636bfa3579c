package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sells-group/takeoff/internal/model"
)

// Metrics are the prometheus collectors updated by every run.
type Metrics struct {
	Runs          *prometheus.CounterVec
	Results       *prometheus.CounterVec
	Confidence    prometheus.Histogram
	StageDuration *prometheus.HistogramVec
	Items         prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "takeoff",
			Name:      "runs_total",
			Help:      "Finished takeoff runs by final status.",
		}, []string{"status"}),
		Results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "takeoff",
			Name:      "match_results_total",
			Help:      "Match results by review status.",
		}, []string{"status"}),
		Confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "takeoff",
			Name:      "match_confidence",
			Help:      "Confidence of measured match results.",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "takeoff",
			Name:      "stage_duration_seconds",
			Help:      "Duration of run stages.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		Items: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "takeoff",
			Name:      "measurable_items_total",
			Help:      "Measurable items produced by normalization.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Runs, m.Results, m.Confidence, m.StageDuration, m.Items)
	}
	return m
}

func (m *Metrics) observe(out *Output) {
	if m == nil || out == nil {
		return
	}
	m.Runs.WithLabelValues(string(out.Status)).Inc()
	m.Items.Add(float64(len(out.Items)))
	for _, r := range out.Results {
		m.Results.WithLabelValues(string(r.Status)).Inc()
		if r.QtyFinal != nil && r.Status != model.StatusTitle {
			m.Confidence.Observe(r.Confidence)
		}
	}
}

func (m *Metrics) stage(name string, seconds float64) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(name).Observe(seconds)
}
