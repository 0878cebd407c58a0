// Package metrics exposes generation counters in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Nabil-E-projet/MediNLP/internal/cohort"
)

// Recorder owns a private registry so tests and multiple servers do not
// collide on the default one.
type Recorder struct {
	registry *prometheus.Registry

	runs        *prometheus.CounterVec
	records     *prometheus.CounterVec
	sideEffects *prometheus.CounterVec
	duration    prometheus.Histogram
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cohort",
			Name:      "runs_total",
			Help:      "Generation runs by outcome.",
		}, []string{"outcome"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cohort",
			Name:      "records_generated_total",
			Help:      "Generated cohort records by disease type and treatment.",
		}, []string{"disease_type", "treatment"}),
		sideEffects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cohort",
			Name:      "side_effects_total",
			Help:      "Side effects attached to generated consultations.",
		}, []string{"treatment"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cohort",
			Name:      "generation_duration_seconds",
			Help:      "Wall time of a generation run.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
	r.registry.MustRegister(
		r.runs, r.records, r.sideEffects, r.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveRun records a successful run.
func (r *Recorder) ObserveRun(run *cohort.Run, elapsed time.Duration) {
	r.runs.WithLabelValues("success").Inc()
	r.duration.Observe(elapsed.Seconds())
	for _, rec := range run.Records {
		r.records.WithLabelValues(string(rec.DiseaseType), string(rec.Treatment)).Inc()
		if n := len(rec.SideEffects); n > 0 {
			r.sideEffects.WithLabelValues(string(rec.Treatment)).Add(float64(n))
		}
	}
}

func (r *Recorder) ObserveFailure() {
	r.runs.WithLabelValues("failure").Inc()
}

// Handler serves the registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
