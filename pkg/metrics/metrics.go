// Package metrics declares the prometheus collectors of the mix pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TracksTotal counts tracks by pipeline outcome.
	// Labels: status (analyzed/failed/empty)
	TracksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "segmix_tracks_total",
			Help: "Total number of tracks processed by outcome",
		},
		[]string{"status"},
	)

	// SegmentsTotal counts timeline segments at render time.
	// Labels: status (rendered/skipped)
	SegmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "segmix_segments_total",
			Help: "Total number of timeline segments by render outcome",
		},
		[]string{"status"},
	)

	// StageDuration observes stage wall time in seconds.
	// Labels: stage (analyze/segment/sequence/render)
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "segmix_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	// MixesTotal counts finished pipeline runs.
	// Labels: status (success/error)
	MixesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "segmix_mixes_total",
			Help: "Total number of mix runs by outcome",
		},
		[]string{"status"},
	)
)

// RecordTrack records a track outcome.
func RecordTrack(status string) {
	TracksTotal.WithLabelValues(status).Inc()
}

// RecordSegment records whether a timeline segment made it into the mix.
func RecordSegment(rendered bool) {
	status := "rendered"
	if !rendered {
		status = "skipped"
	}
	SegmentsTotal.WithLabelValues(status).Inc()
}

// RecordDuration records a stage duration in seconds.
func RecordDuration(stage string, seconds float64) {
	StageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordMix records a finished run.
func RecordMix(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	MixesTotal.WithLabelValues(status).Inc()
}
