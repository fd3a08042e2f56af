package observer

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "judgecore"

// OutcomeInfraError labels runs the engine could not complete.
const OutcomeInfraError = "InfrastructureError"

// PrometheusRecorder exports sandbox metrics.
type PrometheusRecorder struct {
	compiles        *prometheus.CounterVec
	compileDuration *prometheus.HistogramVec
	runs            *prometheus.CounterVec
	runWallTime     *prometheus.HistogramVec
	runMaxRSS       *prometheus.HistogramVec
}

// NewPrometheusRecorder creates the collectors and registers them with reg.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	r := &PrometheusRecorder{
		compiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compiles_total",
			Help:      "Compilations by language and result.",
		}, []string{"language", "ok"}),
		compileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compile_duration_seconds",
			Help:      "Compilation wall time.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"language"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Sandboxed executions by language and outcome.",
		}, []string{"language", "outcome"}),
		runWallTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_wall_seconds",
			Help:      "Wall time of sandboxed executions.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"language"}),
		runMaxRSS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_max_rss_bytes",
			Help:      "Peak resident set size of sandboxed executions.",
			Buckets:   prometheus.ExponentialBuckets(1<<20, 2, 12),
		}, []string{"language"}),
	}
	for _, c := range []prometheus.Collector{r.compiles, r.compileDuration, r.runs, r.runWallTime, r.runMaxRSS} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *PrometheusRecorder) ObserveCompile(ctx context.Context, languageID string, ok bool, elapsed time.Duration) {
	r.compiles.WithLabelValues(languageID, strconv.FormatBool(ok)).Inc()
	r.compileDuration.WithLabelValues(languageID).Observe(elapsed.Seconds())
}

func (r *PrometheusRecorder) ObserveRun(ctx context.Context, languageID string, outcome string, wallTime time.Duration, maxRSSBytes int64) {
	r.runs.WithLabelValues(languageID, outcome).Inc()
	if outcome == OutcomeInfraError {
		return
	}
	r.runWallTime.WithLabelValues(languageID).Observe(wallTime.Seconds())
	r.runMaxRSS.WithLabelValues(languageID).Observe(float64(maxRSSBytes))
}
