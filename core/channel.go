package core

import (
	"context"
	"runtime"
	"sync/atomic"
)

// ChannelState tracks a channel's batch lifecycle.
type ChannelState int32

const (
	ChannelNotReady ChannelState = iota
	ChannelReady
	ChannelDone
)

func (s ChannelState) String() string {
	switch s {
	case ChannelNotReady:
		return "not_ready"
	case ChannelReady:
		return "ready"
	case ChannelDone:
		return "done"
	default:
		return "unknown"
	}
}

// inFlightPerWorker sets the default in-flight cap relative to worker count.
const inFlightPerWorker = 3

// Channel is a trigger that batches closures. Each Submit runs one closure as
// a pooled light job registered as a producer of the channel; Join consumes
// the channel's bias and helps until every submitted closure has finished.
// A joined channel is reusable: the next Submit re-arms it.
//
// A channel is driven by one goroutine at a time.
type Channel struct {
	Trigger

	maxInFlight int
	priority    Priority
	affinity    Affinity

	inFlight  atomic.Int64
	submitted atomic.Uint64
	completed atomic.Uint64
	state     atomic.Int32
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithMaxInFlight caps the number of closures queued or running at once.
func WithMaxInFlight(n int) ChannelOption {
	return func(c *Channel) {
		if n > 0 {
			c.maxInFlight = n
		}
	}
}

// WithPriority sets the priority stamped onto submitted closures.
func WithPriority(p Priority) ChannelOption {
	return func(c *Channel) { c.priority = p }
}

// WithAffinity sets the affinity stamped onto submitted closures.
func WithAffinity(a Affinity) ChannelOption {
	return func(c *Channel) { c.affinity = a }
}

// WithChannelLifetime sets the channel trigger's lifetime. A DeleteAfterRun
// channel disposes itself on fire and cannot be joined.
func WithChannelLifetime(l Lifetime) ChannelOption {
	return func(c *Channel) { c.def = c.def.WithLifetime(l) }
}

// NewChannel creates a Ready channel on sys. The in-flight cap defaults to
// three closures per worker.
func NewChannel(sys *System, name string, opts ...ChannelOption) *Channel {
	if sys == nil {
		violation("NewChannel", name, "nil system")
	}
	c := &Channel{
		maxInFlight: inFlightPerWorker * max(sys.WorkerCount(), 1),
		priority:    PriorityNormal,
		affinity:    AffinityAny,
	}
	c.Trigger.init(sys, name, 0)
	c.Trigger.onFired = c.onFired
	for _, opt := range opts {
		opt(c)
	}
	c.PrepareForWork()
	c.state.Store(int32(ChannelReady))
	return c
}

func (c *Channel) State() ChannelState { return ChannelState(c.state.Load()) }

func (c *Channel) MaxInFlight() int { return c.maxInFlight }

func (c *Channel) InFlight() int { return int(c.inFlight.Load()) }

func (c *Channel) onFired(ctx context.Context) {
	c.state.Store(int32(ChannelDone))
	c.releaseDependents(ctx)
}

func (c *Channel) jobFinished() {
	c.inFlight.Add(-1)
	c.completed.Add(1)
}

// Submit queues fn as one job of the current batch. While the in-flight cap
// is reached or the caller's light pool is empty, the caller runs ready jobs
// itself instead of blocking.
func (c *Channel) Submit(ctx context.Context, fn JobFunc) error {
	if fn == nil {
		violation("Submit", c.name, "nil closure")
	}
	c.requireLive("Submit")
	sys := c.sys
	switch sys.State() {
	case StateUninitialized:
		return ErrNotInitialized
	case StateExiting:
		return ErrSystemExiting
	}

	sys.requireRunnable("Submit", c.name, c.affinity)

	if c.State() == ChannelDone {
		c.PrepareForWork()
		c.state.Store(int32(ChannelReady))
	}

	st := sys.seatFor(ctx)
	pool := sys.lightPools[st.w.id]
	var lj *lightJob
	for {
		if c.inFlight.Load() < int64(c.maxInFlight) {
			if j, ok := pool.acquire(); ok {
				lj = j
				break
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !sys.helpOne(ctx, st) {
			runtime.Gosched()
		}
	}

	lj.fn = fn
	lj.channel = c
	lj.name = c.name
	lj.def = lightJobDefinition.WithPriority(c.priority).WithAffinity(c.affinity)
	lj.triggers = append(lj.triggers, &c.Trigger)
	c.inFlight.Add(1)
	c.count.Add(1)

	if err := sys.Submit(ctx, lj); err != nil {
		c.count.Add(-1)
		c.inFlight.Add(-1)
		lj.pool.release(lj)
		return err
	}
	c.submitted.Add(1)
	return nil
}

// Join waits until every closure submitted since the last Join has finished.
// Joining a channel with nothing submitted returns at once.
func (c *Channel) Join(ctx context.Context) error {
	if c.def.Lifetime() == LifetimeDeleteAfterRun {
		violation("Join", c.name, "cannot join a channel that deletes itself on fire")
	}
	if c.State() == ChannelDone {
		return nil
	}
	return c.Trigger.ReleaseAndJoin(ctx)
}

// Release consumes the bias without waiting. The channel fires once its
// in-flight closures finish; a DeleteAfterRun channel is then disposed.
func (c *Channel) Release(ctx context.Context) {
	if c.State() == ChannelDone {
		return
	}
	c.Notify(ctx)
}

// Stats returns a snapshot of the channel's counters.
func (c *Channel) Stats() ChannelStats {
	return ChannelStats{
		Name:        c.name,
		State:       c.State(),
		InFlight:    int(c.inFlight.Load()),
		MaxInFlight: c.maxInFlight,
		Submitted:   c.submitted.Load(),
		Completed:   c.completed.Load(),
	}
}
