package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erateestimator_requests_total",
			Help: "Total number of API requests per endpoint",
		},
		[]string{"endpoint"},
	)

	RequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "erateestimator_request_duration_seconds",
			Help:    "Request duration in seconds per endpoint",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	RequestErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erateestimator_request_errors_total",
			Help: "Total number of error responses per endpoint and status code",
		},
		[]string{"endpoint", "code"},
	)
)

var (
	SolverIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "erateestimator_solver_iterations",
			Help:    "Forward evaluations used by the reverse usage solver",
			Buckets: []float64{5, 10, 15, 20, 25, 30, 40, 50, 75, 100},
		},
	)

	SolverNotConvergedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "erateestimator_solver_not_converged_total",
			Help: "Reverse solves that exhausted the iteration cap",
		},
	)

	EstimateCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erateestimator_estimate_cache_total",
			Help: "Estimate cache lookups by result (hit, miss, error)",
		},
		[]string{"result"},
	)
)

var (
	RegistryReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erateestimator_registry_reloads_total",
			Help: "Rate registry reloads by result",
		},
		[]string{"result"},
	)

	RegistryVersions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "erateestimator_registry_versions",
			Help: "Number of rate versions in the active registry",
		},
	)

	RegistryLastReload = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "erateestimator_registry_last_reload_timestamp",
			Help: "Unix timestamp of the last successful registry reload",
		},
	)
)

// ObserveReload records the outcome of a registry reload.
func ObserveReload(versions int, err error) {
	if err != nil {
		RegistryReloadsTotal.WithLabelValues("error").Inc()
		return
	}
	RegistryReloadsTotal.WithLabelValues("ok").Inc()
	RegistryVersions.Set(float64(versions))
	RegistryLastReload.Set(float64(time.Now().Unix()))
}

// ObserveSolve records solver effort.
func ObserveSolve(iterations int, converged bool) {
	SolverIterations.Observe(float64(iterations))
	if !converged {
		SolverNotConvergedTotal.Inc()
	}
}

var (
	DBPoolTotalConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "erateestimator_db_pool_total_conns",
			Help: "Total number of connections in the DB pool per driver",
		},
		[]string{"driver"},
	)

	DBPoolIdleConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "erateestimator_db_pool_idle_conns",
			Help: "Idle connections in the DB pool per driver",
		},
		[]string{"driver"},
	)

	DBPoolAcquiredConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "erateestimator_db_pool_acquired_conns",
			Help: "Currently acquired (in-use) connections per driver",
		},
		[]string{"driver"},
	)

	DBPoolAcquiresTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "erateestimator_db_pool_acquires_total",
			Help: "Cumulative number of connection acquires per driver",
		},
		[]string{"driver"},
	)
)

// UpdateDBPoolMetrics publishes a pool stat snapshot.
func UpdateDBPoolMetrics(driver string, total, idle, acquired float64, acquires int64) {
	DBPoolTotalConns.WithLabelValues(driver).Set(total)
	DBPoolIdleConns.WithLabelValues(driver).Set(idle)
	DBPoolAcquiredConns.WithLabelValues(driver).Set(acquired)
	DBPoolAcquiresTotal.WithLabelValues(driver).Set(float64(acquires))
}

var (
	ScheduledJobLastRun = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "erateestimator_job_last_run_timestamp",
			Help: "Unix timestamp of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobLastDurationSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "erateestimator_job_last_duration_seconds",
			Help: "Duration of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erateestimator_job_failures_total",
			Help: "Total number of failed executions per job",
		},
		[]string{"job"},
	)
)

func UpdateJobMetrics(job string, startedAt time.Time, err error) {
	dur := time.Since(startedAt).Seconds()
	ScheduledJobLastDurationSeconds.WithLabelValues(job).Set(dur)
	ScheduledJobLastRun.WithLabelValues(job).Set(float64(time.Now().Unix()))
	if err != nil {
		ScheduledJobFailuresTotal.WithLabelValues(job).Inc()
	}
}
