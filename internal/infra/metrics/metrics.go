package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_jobs_total",
			Help: "Jobs finished by type and status (completed/rescheduled/dead).",
		},
		[]string{"type", "status"},
	)

	jobDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_job_duration_seconds",
			Help:    "Wall-clock job duration by type.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		},
		[]string{"type"},
	)

	deploysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_deploys_total",
			Help: "Deploy outcomes (success/failed/timeout).",
		},
		[]string{"outcome"},
	)

	codegenTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_codegen_tokens",
			Help: "Estimated prompt/completion tokens per provider/model.",
		},
		[]string{"provider", "model", "kind"},
	)

	fixRounds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orchestrator_autofix_rounds",
			Help:    "Auto-fix rounds spent per iteration job.",
			Buckets: []float64{0, 1, 2, 3, 4, 5},
		},
	)

	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_breaker_state",
			Help: "Circuit breaker state per platform (0 closed, 1 half-open, 2 open).",
		},
		[]string{"platform"},
	)

	progressDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_progress_events_dropped",
			Help: "Progress events dropped because a subscriber buffer was full.",
		},
	)
)

// MustRegister registers collectors with the default registry (idempotent).
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(
			jobsTotal, jobDurationSeconds, deploysTotal,
			codegenTokens, fixRounds, breakerState, progressDropped,
		)
	})
}

func IncJob(jobType, status string) { jobsTotal.WithLabelValues(jobType, status).Inc() }

func ObserveJobDuration(jobType string, seconds float64) {
	jobDurationSeconds.WithLabelValues(jobType).Observe(seconds)
}

func IncDeploy(outcome string) { deploysTotal.WithLabelValues(outcome).Inc() }

func AddCodegenTokens(provider, model, kind string, n int) {
	if n > 0 {
		codegenTokens.WithLabelValues(provider, model, kind).Add(float64(n))
	}
}

func ObserveFixRounds(n int) { fixRounds.Observe(float64(n)) }

func SetBreakerState(platform string, state int) {
	breakerState.WithLabelValues(platform).Set(float64(state))
}

func IncProgressDropped() { progressDropped.Inc() }
