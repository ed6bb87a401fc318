package prometheus

import (
	"errors"
	"fmt"
	"time"

	"github.com/Swind/go-job-system/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	jobDurationSeconds *prom.HistogramVec
	jobPanicTotal      *prom.CounterVec
	jobRejectedTotal   *prom.CounterVec
	jobHelpedTotal     *prom.CounterVec
	triggerFiredTotal  *prom.CounterVec
	queueDepth         *prom.GaugeVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "jobsystem"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.ExponentialBuckets(0.00001, 4, 10)
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "job_duration_seconds",
		Help:      "Job body execution duration in seconds.",
		Buckets:   buckets,
	}, []string{"system", "priority"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "job_panic_total",
		Help:      "Total number of job bodies that panicked.",
	}, []string{"system"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "job_rejected_total",
		Help:      "Total number of refused submissions.",
	}, []string{"system", "reason"})
	helpedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "job_helped_total",
		Help:      "Total number of jobs run by a waiting thread.",
	}, []string{"system"})
	firedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "trigger_fired_total",
		Help:      "Total number of trigger fires.",
	}, []string{"trigger"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Jobs waiting in queues after the last submission.",
	}, []string{"system"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if helpedVec, err = registerCollector(reg, helpedVec); err != nil {
		return nil, err
	}
	if firedVec, err = registerCollector(reg, firedVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		jobDurationSeconds: durationVec,
		jobPanicTotal:      panicVec,
		jobRejectedTotal:   rejectedVec,
		jobHelpedTotal:     helpedVec,
		triggerFiredTotal:  firedVec,
		queueDepth:         queueDepthVec,
	}, nil
}

// RecordJobDuration records job body duration.
func (m *MetricsExporter) RecordJobDuration(systemName string, priority core.Priority, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDurationSeconds.WithLabelValues(normalizeLabel(systemName, "unknown"), priority.String()).Observe(duration.Seconds())
}

// RecordJobPanic records job panic events.
func (m *MetricsExporter) RecordJobPanic(systemName string, panicInfo any) {
	if m == nil {
		return
	}
	m.jobPanicTotal.WithLabelValues(normalizeLabel(systemName, "unknown")).Inc()
}

// RecordQueueDepth records queue depth.
func (m *MetricsExporter) RecordQueueDepth(systemName string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(systemName, "unknown")).Set(float64(depth))
}

// RecordJobRejected records refused submissions.
func (m *MetricsExporter) RecordJobRejected(systemName string, reason string) {
	if m == nil {
		return
	}
	m.jobRejectedTotal.WithLabelValues(normalizeLabel(systemName, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

// RecordTriggerFired counts trigger fires by trigger name.
func (m *MetricsExporter) RecordTriggerFired(triggerName string) {
	if m == nil {
		return
	}
	m.triggerFiredTotal.WithLabelValues(normalizeLabel(triggerName, "unnamed")).Inc()
}

// RecordJobHelped counts jobs executed by a waiting thread.
func (m *MetricsExporter) RecordJobHelped(systemName string) {
	if m == nil {
		return
	}
	m.jobHelpedTotal.WithLabelValues(normalizeLabel(systemName, "unknown")).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
