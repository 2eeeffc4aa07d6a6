package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	PipelineJobReasonDeadlineExceeded = "deadline_exceeded"
	PipelineJobReasonBudgetDenied     = "budget_denied"
	PipelineJobReasonProviderFatal    = "provider_fatal"
	PipelineJobReasonProviderRetry    = "provider_retryable"
	PipelineJobReasonDB               = "db"
	PipelineJobReasonUnknown          = "unknown"
)

const (
	BudgetDenialScopeOrgDaily   = "org_daily"
	BudgetDenialScopePerEpisode = "per_episode"
)

const (
	LockResourceDueProjects     = "due_projects"
	LockResourcePendingEpisodes = "pending_episodes"
	LockResourceEpisodeByID     = "episode_by_id"
)

// Config identifies the emitting service on every series.
type Config struct {
	ServiceName string
	Environment string
}

// PipelineMetrics captures generation pipeline health signals.
type PipelineMetrics struct {
	cfg Config

	jobRuns            *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	jobTimeouts        *prometheus.CounterVec
	jobErrors          *prometheus.CounterVec
	batchProcessed     *prometheus.CounterVec
	episodeTransitions *prometheus.CounterVec
	budgetDenials      *prometheus.CounterVec
	providerTokens     *prometheus.CounterVec
	providerCalls      *prometheus.CounterVec
	dbLockWait         *prometheus.HistogramVec
	runLoopLag         prometheus.Histogram
}

var (
	pipelineMetricsOnce sync.Once
	pipelineMetrics     *PipelineMetrics
	pipelineMetricsMu   sync.Mutex
)

// Pipeline returns the singleton pipeline metrics registry.
func Pipeline() *PipelineMetrics {
	return PipelineWithConfig(Config{ServiceName: "foresight"})
}

// PipelineWithConfig initializes the singleton with service labels on first
// use; later calls return the existing instance.
func PipelineWithConfig(cfg Config) *PipelineMetrics {
	pipelineMetricsOnce.Do(func() {
		pipelineMetrics = newPipelineMetrics(cfg)
	})
	return pipelineMetrics
}

// ResetPipelineMetricsForTest clears the singleton so tests can install a
// fresh registry.
func ResetPipelineMetricsForTest() {
	pipelineMetricsMu.Lock()
	defer pipelineMetricsMu.Unlock()
	pipelineMetricsOnce = sync.Once{}
	pipelineMetrics = nil
}

func newPipelineMetrics(cfg Config) *PipelineMetrics {
	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = "foresight"
	}
	constLabels := prometheus.Labels{
		"service": service,
		"env":     strings.TrimSpace(cfg.Environment),
	}

	return &PipelineMetrics{
		cfg: cfg,
		jobRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "foresight_pipeline_job_runs_total",
			Help:        "Number of pipeline job executions.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "foresight_pipeline_job_duration_seconds",
			Help:        "Pipeline job wall-clock duration.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobTimeouts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "foresight_pipeline_job_timeouts_total",
			Help:        "Pipeline jobs cut short by their deadline.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "foresight_pipeline_job_errors_total",
			Help:        "Pipeline job errors by reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		batchProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "foresight_pipeline_batch_processed_total",
			Help:        "Items processed per pipeline job.",
			ConstLabels: constLabels,
		}, []string{"job", "kind"}),
		episodeTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "foresight_episode_transitions_total",
			Help:        "Episode lifecycle transitions.",
			ConstLabels: constLabels,
		}, []string{"from", "to"}),
		budgetDenials: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "foresight_budget_denials_total",
			Help:        "Budget guard denials by ceiling scope and phase.",
			ConstLabels: constLabels,
		}, []string{"scope", "phase"}),
		providerTokens: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "foresight_provider_tokens_total",
			Help:        "Tokens billed by the content provider.",
			ConstLabels: constLabels,
		}, []string{"model", "kind"}),
		providerCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "foresight_provider_calls_total",
			Help:        "Content provider calls by outcome.",
			ConstLabels: constLabels,
		}, []string{"model", "outcome"}),
		dbLockWait: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "foresight_pipeline_db_lock_wait_seconds",
			Help:        "Time spent acquiring row claims.",
			Buckets:     []float64{.001, .005, .01, .05, .1, .5, 1, 5},
			ConstLabels: constLabels,
		}, []string{"resource"}),
		runLoopLag: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:        "foresight_pipeline_run_loop_lag_seconds",
			Help:        "Lag between the intended and actual tick start.",
			Buckets:     []float64{.1, .5, 1, 5, 15, 60, 300},
			ConstLabels: constLabels,
		}),
	}
}

func (m *PipelineMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *PipelineMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *PipelineMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *PipelineMetrics) IncJobError(job string, err error) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyPipelineJobReason(err)).Inc()
}

func (m *PipelineMetrics) AddBatchProcessed(job, kind string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.batchProcessed.WithLabelValues(job, kind).Add(float64(count))
}

func (m *PipelineMetrics) IncEpisodeTransition(from, to string) {
	if m == nil {
		return
	}
	m.episodeTransitions.WithLabelValues(from, to).Inc()
}

func (m *PipelineMetrics) IncBudgetDenial(scope, phase string) {
	if m == nil {
		return
	}
	m.budgetDenials.WithLabelValues(scope, phase).Inc()
}

func (m *PipelineMetrics) AddProviderTokens(model string, promptTokens, completionTokens int64) {
	if m == nil {
		return
	}
	if promptTokens > 0 {
		m.providerTokens.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.providerTokens.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
}

func (m *PipelineMetrics) IncProviderCall(model, outcome string) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(model, outcome).Inc()
}

func (m *PipelineMetrics) ObserveDBLockWait(resource string, d time.Duration) {
	if m == nil {
		return
	}
	m.dbLockWait.WithLabelValues(resource).Observe(d.Seconds())
}

func (m *PipelineMetrics) ObserveRunLoopLag(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.runLoopLag.Observe(d.Seconds())
}

// ClassifyPipelineJobReason maps an error to a low-cardinality reason label.
func ClassifyPipelineJobReason(err error) string {
	if err == nil {
		return PipelineJobReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return PipelineJobReasonDeadlineExceeded
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "budget"):
		return PipelineJobReasonBudgetDenied
	case strings.Contains(msg, "content_policy"), strings.Contains(msg, "malformed"):
		return PipelineJobReasonProviderFatal
	case strings.Contains(msg, "rate_limit"), strings.Contains(msg, "timeout"), strings.Contains(msg, "unavailable"):
		return PipelineJobReasonProviderRetry
	case strings.Contains(msg, "sqlstate"), strings.Contains(msg, "constraint"), strings.Contains(msg, "database"):
		return PipelineJobReasonDB
	default:
		return PipelineJobReasonUnknown
	}
}
