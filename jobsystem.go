package jobsystem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Swind/go-job-system/core"
)

// Option configures New.
type Option func(*options)

type options struct {
	workers int
	config  *core.SystemConfig
}

// WithWorkers sets the number of background workers. Negative (the default)
// picks GOMAXPROCS-1.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithName names the system in logs, metrics and execution records.
func WithName(name string) Option {
	return func(o *options) { o.config.Name = name }
}

// WithQueueCapacity sets the capacity of each affinity/priority queue.
func WithQueueCapacity(n int) Option {
	return func(o *options) { o.config.QueueCapacity = n }
}

// WithLightJobsPerWorker sizes each worker's pool of channel closures.
func WithLightJobsPerWorker(n int) Option {
	return func(o *options) { o.config.LightJobsPerWorker = n }
}

// WithLogger sets the system logger.
func WithLogger(l core.Logger) Option {
	return func(o *options) { o.config.Logger = l }
}

// WithSlog logs through l.
func WithSlog(l *slog.Logger) Option {
	return func(o *options) { o.config.Logger = core.NewSlogLogger(l) }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m core.Metrics) Option {
	return func(o *options) { o.config.Metrics = m }
}

// WithPanicHandler sets the handler for panicking job bodies.
func WithPanicHandler(h core.PanicHandler) Option {
	return func(o *options) { o.config.PanicHandler = h }
}

// WithRejectedJobHandler sets the handler for refused submissions.
func WithRejectedJobHandler(h core.RejectedJobHandler) Option {
	return func(o *options) { o.config.RejectedJobHandler = h }
}

// New creates and starts a System.
func New(opts ...Option) (*System, error) {
	o := options{workers: -1, config: core.DefaultSystemConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	sys := core.NewSystem(o.config)
	if err := sys.Init(o.workers); err != nil {
		return nil, err
	}
	return sys, nil
}

// Run starts a System, calls fn with it and shuts it down, waiting for
// everything fn left queued. The system never outlives the call.
func Run(ctx context.Context, fn func(ctx context.Context, sys *System) error, opts ...Option) (err error) {
	sys, err := New(opts...)
	if err != nil {
		return err
	}
	defer func() {
		if shutdownErr := sys.Shutdown(ctx); shutdownErr != nil {
			err = errors.Join(err, fmt.Errorf("run: %w", shutdownErr))
		}
	}()
	return fn(ctx, sys)
}
