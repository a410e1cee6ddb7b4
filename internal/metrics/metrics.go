// Package metrics provides Prometheus metrics for the transcription pipeline.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// stageTransitionsTotal counts stage state changes.
	// Labels:
	//   - stage: acquire, transcribe, diarize
	//   - status: processing, completed, failed
	stageTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcribe_stage_transitions_total",
			Help: "Total number of pipeline stage transitions",
		},
		[]string{"stage", "status"},
	)

	// stageDuration records how long a stage's collaborator call took.
	// Buckets reach 30 minutes for long media on CPU inference.
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transcribe_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 300, 900, 1800},
		},
		[]string{"stage"},
	)

	segmentsEmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "transcribe_segments_emitted_total",
			Help: "Total number of transcript segments produced by resegmentation",
		},
	)
)

func init() {
	prometheus.MustRegister(stageTransitionsTotal)
	prometheus.MustRegister(stageDuration)
	prometheus.MustRegister(segmentsEmittedTotal)
}

// RecordStageTransition records a stage entering status
func RecordStageTransition(stage, status string) {
	stageTransitionsTotal.WithLabelValues(stage, status).Inc()
}

// RecordStageDuration records the wall time of a stage
func RecordStageDuration(stage string, durationSeconds float64) {
	stageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordSegments adds n freshly emitted segments
func RecordSegments(n int) {
	segmentsEmittedTotal.Add(float64(n))
}
