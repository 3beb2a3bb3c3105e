package grading

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quizgrader",
		Name:      "submissions_total",
		Help:      "Finalized submissions by score provenance.",
	}, []string{"provenance"})

	authorityFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quizgrader",
		Name:      "authority_failures_total",
		Help:      "Remote scoring attempts that fell back to local grading.",
	}, []string{"reason"})

	authorityDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "quizgrader",
		Name:      "authority_duration_seconds",
		Help:      "Latency of remote scoring calls, including failures.",
		Buckets:   prometheus.DefBuckets,
	})
)
