package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors of the sync subsystem. A nil
// *Metrics records nothing.
type Metrics struct {
	tasks         *prometheus.CounterVec
	attempts      *prometheus.CounterVec
	activeUploads prometheus.Gauge
	retryDelay    prometheus.Histogram
	restores      *prometheus.CounterVec
	candidates    *prometheus.CounterVec
}

// NewMetrics builds and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "persona_upload_tasks_total",
			Help: "Upload tasks by terminal state.",
		}, []string{"state"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "persona_upload_attempts_total",
			Help: "Upload attempts by result kind.",
		}, []string{"result"}),
		activeUploads: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "persona_upload_active",
			Help: "Uploads currently being attempted.",
		}),
		retryDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "persona_upload_retry_delay_seconds",
			Help:    "Backoff delays before upload retries.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
		}),
		restores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "persona_restore_total",
			Help: "Restore runs by outcome.",
		}, []string{"outcome"}),
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "persona_restore_candidates_total",
			Help: "Restore candidates examined by result.",
		}, []string{"result"}),
	}

	for _, c := range []prometheus.Collector{m.tasks, m.attempts, m.activeUploads, m.retryDelay, m.restores, m.candidates} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) taskFinished(state TaskState) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(state.String()).Inc()
}

func (m *Metrics) attempt(result string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(result).Inc()
}

func (m *Metrics) active(delta float64) {
	if m == nil {
		return
	}
	m.activeUploads.Add(delta)
}

func (m *Metrics) backoff(seconds float64) {
	if m == nil {
		return
	}
	m.retryDelay.Observe(seconds)
}

func (m *Metrics) restore(outcome string) {
	if m == nil {
		return
	}
	m.restores.WithLabelValues(outcome).Inc()
}

func (m *Metrics) candidate(result string) {
	if m == nil {
		return
	}
	m.candidates.WithLabelValues(result).Inc()
}
