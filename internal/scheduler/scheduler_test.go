package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/manyfutures/foresight/internal/clock"
	obsmetrics "github.com/manyfutures/foresight/internal/observability/metrics"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
)

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	obsmetrics.ResetPipelineMetricsForTest()
	obsmetrics.PipelineWithConfig(obsmetrics.Config{
		ServiceName: "foresight",
		Environment: "test",
	})

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	s := &Scheduler{log: zap.NewNop(), genID: node, clock: clock.NewFakeClock(time.Time{})}
	err = s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{
		"service": "foresight",
		"env":     "test",
		"job":     "timeout_job",
	}
	if got := getCounterValue(t, registry, "foresight_pipeline_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := map[string]string{
		"service": "foresight",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.PipelineJobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, registry, "foresight_pipeline_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestRunJobPropagatesNonTimeoutErrors(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	obsmetrics.ResetPipelineMetricsForTest()
	obsmetrics.PipelineWithConfig(obsmetrics.Config{
		ServiceName: "foresight",
		Environment: "test",
	})

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	jobErr := errors.New("fetch failed")
	s := &Scheduler{log: zap.NewNop(), genID: node, clock: clock.NewFakeClock(time.Time{})}
	err = s.runJob(context.Background(), "broken_job", 0, time.Second, func(ctx context.Context) error {
		return jobErr
	})
	if !errors.Is(err, jobErr) {
		t.Fatalf("expected wrapped job error, got %v", err)
	}

	labels := map[string]string{
		"service": "foresight",
		"env":     "test",
		"job":     "broken_job",
		"reason":  obsmetrics.PipelineJobReasonUnknown,
	}
	if got := getCounterValue(t, registry, "foresight_pipeline_job_errors_total", labels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetPipelineMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
