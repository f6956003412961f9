package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Service name for metrics
	ServiceName = "matsimcal"
)

var (
	// Trial metrics
	TrialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matsimcal_trials_total",
			Help: "Total number of calibration trials",
		},
		[]string{"status"},
	)

	TrialDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "matsimcal_trial_duration_seconds",
			Help:    "Wall time of one calibration trial",
			Buckets: []float64{60, 300, 600, 1800, 3600, 7200, 14400, 28800, 57600},
		},
	)

	Objective = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "matsimcal_objective",
			Help: "Objective of the last completed trial (sum of absolute share errors)",
		},
	)

	ModeShare = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "matsimcal_mode_share",
			Help: "Simulated mode share of the last completed trial",
		},
		[]string{"mode"},
	)

	ModeTarget = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "matsimcal_mode_target",
			Help: "Target mode share",
		},
		[]string{"mode"},
	)

	ModeConstant = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "matsimcal_mode_constant",
			Help: "Alternative-specific constant used in the last trial",
		},
		[]string{"mode"},
	)

	// Simulator metrics
	SimulatorRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matsimcal_simulator_runs_total",
			Help: "Total number of simulator processes",
		},
		[]string{"status"},
	)

	SimulatorDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "matsimcal_simulator_duration_seconds",
			Help:    "Simulator process wall time",
			Buckets: []float64{60, 300, 600, 1800, 3600, 7200, 14400, 28800, 57600},
		},
	)

	// Filter metrics
	FilteredRows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "matsimcal_filtered_rows",
			Help: "Rows before and after the last filter pass",
		},
		[]string{"filter", "stage"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "matsimcal_share_cache_hits_total",
			Help: "Total number of share cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "matsimcal_share_cache_misses_total",
			Help: "Total number of share cache misses",
		},
	)

	// Error metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matsimcal_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	// System metrics
	SystemInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "matsimcal_system_info",
			Help: "System information",
		},
		[]string{"version", "go_version", "build_commit", "build_date"},
	)

	GoRoutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "matsimcal_goroutines",
			Help: "Number of goroutines",
		},
	)

	MemoryUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "matsimcal_memory_usage_bytes",
			Help: "Memory usage in bytes",
		},
	)
)

// ServiceHealth is the health document served on /health
type ServiceHealth struct {
	Service       string                     `json:"service"`
	Version       string                     `json:"version"`
	Status        string                     `json:"status"` // "healthy", "degraded", "unhealthy"
	Uptime        time.Duration              `json:"uptime"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	StartTime     time.Time                  `json:"start_time,omitempty"`
	Components    map[string]ComponentStatus `json:"components"`
	Metrics       map[string]interface{}     `json:"metrics,omitempty"`
	Study         *StudyProgress             `json:"study,omitempty"`
}

// ComponentStatus is the last known state of a run dependency
type ComponentStatus struct {
	Status    string `json:"status"` // "ok", "running", "degraded", "error"
	Latency   int64  `json:"latency_ms,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// StudyProgress summarizes the optimizer's position
type StudyProgress struct {
	Name      string  `json:"name"`
	Trial     int     `json:"trial"`
	Planned   int     `json:"planned"`
	Objective float64 `json:"objective"`
	Best      float64 `json:"best_objective"`
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordTrial counts a finished trial
func RecordTrial(duration time.Duration, success bool) {
	TrialsTotal.WithLabelValues(status(success)).Inc()
	TrialDuration.Observe(duration.Seconds())
}

// RecordTrialResult publishes the outcome of a completed trial
func RecordTrialResult(objective float64, shares, constants map[string]float64) {
	Objective.Set(objective)
	for m, v := range shares {
		ModeShare.WithLabelValues(m).Set(v)
	}
	for m, v := range constants {
		ModeConstant.WithLabelValues(m).Set(v)
	}
}

// SetTargets publishes the target shares
func SetTargets(targets map[string]float64) {
	for m, v := range targets {
		ModeTarget.WithLabelValues(m).Set(v)
	}
}

// RecordSimulatorRun counts a finished simulator process
func RecordSimulatorRun(duration time.Duration, success bool) {
	SimulatorRunsTotal.WithLabelValues(status(success)).Inc()
	SimulatorDuration.Observe(duration.Seconds())
}

// RecordFilter publishes the row counts of a filter pass
func RecordFilter(name string, in, out int) {
	FilteredRows.WithLabelValues(name, "in").Set(float64(in))
	FilteredRows.WithLabelValues(name, "out").Set(float64(out))
}

func RecordCacheHit() {
	CacheHits.Inc()
}

func RecordCacheMiss() {
	CacheMisses.Inc()
}

func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
