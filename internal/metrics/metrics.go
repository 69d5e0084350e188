package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Verifications counts verification outcomes by kind and status.
	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campusattend",
		Name:      "verifications_total",
		Help:      "Verification outcomes by kind (location, face) and status.",
	}, []string{"kind", "status"})

	// Marks counts mark attempts by result.
	Marks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campusattend",
		Name:      "marks_total",
		Help:      "Attendance mark attempts by result.",
	}, []string{"result"})

	// FaceSimilarity observes similarity scores of face comparisons.
	FaceSimilarity = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "campusattend",
		Name:      "face_similarity",
		Help:      "Similarity between captured and enrolled embeddings.",
		Buckets:   []float64{0, 0.2, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
	})

	// StatsCache counts stats cache lookups by result (hit, miss).
	StatsCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campusattend",
		Name:      "stats_cache_total",
		Help:      "Stats cache lookups by result.",
	}, []string{"result"})
)
