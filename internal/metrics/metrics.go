package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	jobsTotal      *prometheus.CounterVec
	followUpsTotal *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
)

// Init registers the collectors on the default registry. Safe to call more
// than once; packages that skip Init (tests) simply record nothing.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webagent",
			Name:      "jobs_total",
			Help:      "Job outcomes by queue.",
		}, []string{"queue", "outcome"})

		followUpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webagent",
			Name:      "follow_ups_total",
			Help:      "Follow-up jobs produced by chaining, by target queue.",
		}, []string{"queue", "outcome"})

		stepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "webagent",
			Name:      "step_duration_seconds",
			Help:      "Wall-clock duration of one step handler invocation.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"queue"})
	})
}

func CountJob(queue, outcome string) {
	if jobsTotal != nil {
		jobsTotal.WithLabelValues(queue, outcome).Inc()
	}
}

func CountFollowUp(queue, outcome string) {
	if followUpsTotal != nil {
		followUpsTotal.WithLabelValues(queue, outcome).Inc()
	}
}

func ObserveStep(queue string, d time.Duration) {
	if stepDuration != nil {
		stepDuration.WithLabelValues(queue).Observe(d.Seconds())
	}
}

func Handler() http.Handler { return promhttp.Handler() }
