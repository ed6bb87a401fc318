package core

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling job panics
// =============================================================================

// PanicHandler is called when a job body panics. The panic never escapes the
// worker: the job still counts as completed and its triggers are notified.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called when a job panics.
	//
	// Parameters:
	// - ctx: The context the job ran with (carries the worker binding)
	// - systemName: The name of the job system
	// - workerID: The worker that ran the job (0 is the main worker)
	// - panicInfo: The panic value recovered from the job
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, systemName string, workerID int, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler prints panic information to stdout.
type DefaultPanicHandler struct{}

func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, systemName string, workerID int, panicInfo any, stackTrace []byte) {
	fmt.Printf("[Worker %d @ %s] Panic: %v\nStack trace:\n%s", workerID, systemName, panicInfo, stackTrace)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics collects job system measurements. Methods are called on the hot
// path and must be non-blocking.
type Metrics interface {
	// RecordJobDuration records how long a job body took.
	RecordJobDuration(systemName string, priority Priority, duration time.Duration)

	// RecordJobPanic records that a job body panicked.
	RecordJobPanic(systemName string, panicInfo any)

	// RecordQueueDepth records the number of jobs waiting in queues.
	RecordQueueDepth(systemName string, depth int)

	// RecordJobRejected records a submission the system refused.
	RecordJobRejected(systemName string, reason string)

	// RecordTriggerFired records one fire of the named trigger.
	RecordTriggerFired(triggerName string)

	// RecordJobHelped records a job run by a thread that was waiting on a
	// trigger, or blocked by backpressure, instead of by its own worker loop.
	RecordJobHelped(systemName string)
}

// NilMetrics is the default no-op Metrics.
type NilMetrics struct{}

func (m *NilMetrics) RecordJobDuration(systemName string, priority Priority, duration time.Duration) {
}
func (m *NilMetrics) RecordJobPanic(systemName string, panicInfo any)    {}
func (m *NilMetrics) RecordQueueDepth(systemName string, depth int)      {}
func (m *NilMetrics) RecordJobRejected(systemName string, reason string) {}
func (m *NilMetrics) RecordTriggerFired(triggerName string)              {}
func (m *NilMetrics) RecordJobHelped(systemName string)                  {}

// =============================================================================
// RejectedJobHandler: Interface for handling rejected submissions
// =============================================================================

// RejectedJobHandler is called when Submit refuses a job, either because the
// system was never initialized or because it is shutting down.
type RejectedJobHandler interface {
	// HandleRejectedJob is called when a job is rejected.
	//
	// Parameters:
	// - systemName: The name of the job system
	// - jobName: The name of the rejected job
	// - reason: Why the job was rejected (e.g., "exiting", "not initialized")
	HandleRejectedJob(systemName string, jobName string, reason string)
}

// DefaultRejectedJobHandler prints rejected jobs to stdout.
type DefaultRejectedJobHandler struct{}

func (h *DefaultRejectedJobHandler) HandleRejectedJob(systemName string, jobName string, reason string) {
	fmt.Printf("[System %s] Job %q rejected: %s\n", systemName, jobName, reason)
}

// =============================================================================
// SystemConfig: Configuration for System
// =============================================================================

const (
	DefaultQueueCapacity      = 1024
	DefaultLightJobsPerWorker = 256
	DefaultLightQueueCapacity = 1024
	DefaultHistoryCapacity    = 100
)

// SystemConfig holds configuration options for System.
// Zero fields fall back to their defaults; handlers default as in
// DefaultSystemConfig.
type SystemConfig struct {
	// Name labels logs and metrics. Defaults to "jobsystem".
	Name string

	// QueueCapacity is the capacity of each affinity/priority queue.
	QueueCapacity int

	// LightJobsPerWorker is the size of each worker's light job pool.
	LightJobsPerWorker int

	// LightQueueCapacity is the capacity of each worker's light job queue.
	LightQueueCapacity int

	// HistoryCapacity bounds the execution history. Negative disables it.
	HistoryCapacity int

	Logger             Logger
	Metrics            Metrics
	PanicHandler       PanicHandler
	RejectedJobHandler RejectedJobHandler
}

// DefaultSystemConfig returns a config with default sizes and handlers.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		Name:               "jobsystem",
		QueueCapacity:      DefaultQueueCapacity,
		LightJobsPerWorker: DefaultLightJobsPerWorker,
		LightQueueCapacity: DefaultLightQueueCapacity,
		HistoryCapacity:    DefaultHistoryCapacity,
		Logger:             NewDefaultLogger(),
		Metrics:            &NilMetrics{},
		PanicHandler:       &DefaultPanicHandler{},
		RejectedJobHandler: &DefaultRejectedJobHandler{},
	}
}

// withDefaults returns a copy of c with every unset field filled in.
func (c *SystemConfig) withDefaults() SystemConfig {
	def := DefaultSystemConfig()
	if c == nil {
		return *def
	}
	out := *c
	if out.Name == "" {
		out.Name = def.Name
	}
	if out.QueueCapacity <= 0 {
		out.QueueCapacity = def.QueueCapacity
	}
	if out.LightJobsPerWorker <= 0 {
		out.LightJobsPerWorker = def.LightJobsPerWorker
	}
	if out.LightQueueCapacity <= 0 {
		out.LightQueueCapacity = def.LightQueueCapacity
	}
	if out.HistoryCapacity == 0 {
		out.HistoryCapacity = def.HistoryCapacity
	}
	if out.Logger == nil {
		out.Logger = def.Logger
	}
	if out.Metrics == nil {
		out.Metrics = def.Metrics
	}
	if out.PanicHandler == nil {
		out.PanicHandler = def.PanicHandler
	}
	if out.RejectedJobHandler == nil {
		out.RejectedJobHandler = def.RejectedJobHandler
	}
	return out
}
