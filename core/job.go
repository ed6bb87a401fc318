package core

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
)

// JobFunc is the body of a closure job.
type JobFunc func(ctx context.Context)

// DefaultJobTriggerCapacity is the trigger-list capacity of a job whose
// capacity was never set explicitly.
const DefaultJobTriggerCapacity = 4

// Job is a unit of schedulable work. Implementations embed JobBase, which
// carries the definition, trigger list and lifecycle state; only the body
// differs between variants.
type Job interface {
	Run(ctx context.Context)
	jobBase() *JobBase
}

// CompletionHook is implemented by jobs that want a callback after their body
// returns and before their triggers are notified.
type CompletionHook interface {
	OnCompletion(ctx context.Context)
}

type jobState uint32

const (
	jobIdle jobState = iota
	jobSubmitted
	jobRunning
	jobDisposed
)

func (s jobState) String() string {
	switch s {
	case jobIdle:
		return "idle"
	case jobSubmitted:
		return "submitted"
	case jobRunning:
		return "running"
	case jobDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// JobBase holds everything the system needs to know about a job. Setters are
// linear-phase only: they panic with a ContractViolation once the job has been
// submitted and until it has finished running.
type JobBase struct {
	id        uuid.UUID
	name      string
	def       Definition
	triggers  []*Trigger
	state     atomic.Uint32
	onDispose func()
}

func (b *JobBase) jobBase() *JobBase { return b }

func (b *JobBase) lifecycle() jobState { return jobState(b.state.Load()) }

func (b *JobBase) requireIdle(op string) {
	if s := b.lifecycle(); s != jobIdle {
		violation(op, b.name, "job is "+s.String())
	}
}

// ID returns the job identity. Jobs built by embedding JobBase get one on
// their first submission.
func (b *JobBase) ID() uuid.UUID { return b.id }

func (b *JobBase) Name() string           { return b.name }
func (b *JobBase) Definition() Definition { return b.def }

// Disposed reports whether the system has released this job.
func (b *JobBase) Disposed() bool { return b.lifecycle() == jobDisposed }

// Submitted reports whether the job is queued or running.
func (b *JobBase) Submitted() bool {
	s := b.lifecycle()
	return s == jobSubmitted || s == jobRunning
}

func (b *JobBase) SetName(name string) {
	b.requireIdle("SetName")
	b.name = name
}

func (b *JobBase) SetDefinition(def Definition) {
	b.requireIdle("SetDefinition")
	b.def = def
}

func (b *JobBase) SetPriority(p Priority) {
	b.requireIdle("SetPriority")
	b.def = b.def.WithPriority(p)
}

func (b *JobBase) SetAffinity(a Affinity) {
	b.requireIdle("SetAffinity")
	b.def = b.def.WithAffinity(a)
}

func (b *JobBase) SetLifetime(l Lifetime) {
	b.requireIdle("SetLifetime")
	b.def = b.def.WithLifetime(l)
}

// SetResetPolicy decides whether the trigger list survives a run.
// ResetClearCountOnFire (the default) empties it after every run.
func (b *JobBase) SetResetPolicy(r ResetPolicy) {
	b.requireIdle("SetResetPolicy")
	b.def = b.def.WithResetPolicy(r)
}

// SetTriggerCapacity fixes how many triggers this job can notify. It may only
// be called before any trigger is registered.
func (b *JobBase) SetTriggerCapacity(n int) {
	b.requireIdle("SetTriggerCapacity")
	if len(b.triggers) > 0 {
		violation("SetTriggerCapacity", b.name, "triggers already registered")
	}
	if n < 1 {
		n = 1
	}
	b.triggers = make([]*Trigger, 0, n)
}

// OnDispose registers fn to run once when the system releases a
// DeleteAfterRun job.
func (b *JobBase) OnDispose(fn func()) {
	b.requireIdle("OnDispose")
	b.onDispose = fn
}

// TriggerCount returns the number of filled trigger slots.
func (b *JobBase) TriggerCount() int { return len(b.triggers) }

// TriggerCapacity returns the fixed size of the trigger list.
func (b *JobBase) TriggerCapacity() int {
	if b.triggers == nil {
		return DefaultJobTriggerCapacity
	}
	return cap(b.triggers)
}

// RegisterTrigger appends t to the triggers notified when this job completes.
// The list never grows past its capacity.
func (b *JobBase) RegisterTrigger(t *Trigger) error {
	b.requireIdle("RegisterTrigger")
	if t == nil {
		violation("RegisterTrigger", b.name, "nil trigger")
	}
	if b.triggers == nil {
		b.triggers = make([]*Trigger, 0, DefaultJobTriggerCapacity)
	}
	if len(b.triggers) == cap(b.triggers) {
		return ErrTriggerListFull
	}
	for _, existing := range b.triggers {
		if existing == t {
			violation("RegisterTrigger", b.name, "trigger "+t.Name()+" registered twice")
		}
	}
	b.triggers = append(b.triggers, t)
	return nil
}

func (b *JobBase) markSubmitted() {
	if !b.state.CompareAndSwap(uint32(jobIdle), uint32(jobSubmitted)) {
		violation("Submit", b.name, "job is "+b.lifecycle().String())
	}
	if b.id == uuid.Nil {
		b.id = uuid.New()
	}
}

// unmarkSubmitted rolls back a submission that the system refused.
func (b *JobBase) unmarkSubmitted() {
	b.state.CompareAndSwap(uint32(jobSubmitted), uint32(jobIdle))
}

func (b *JobBase) beginRun() {
	if !b.state.CompareAndSwap(uint32(jobSubmitted), uint32(jobRunning)) {
		violation("Run", b.name, "job is "+b.lifecycle().String())
	}
}

// =============================================================================
// FuncJob: caller-owned closure job
// =============================================================================

// FuncJob wraps a closure. It is owned by its creator unless its lifetime is
// set to LifetimeDeleteAfterRun.
type FuncJob struct {
	JobBase
	fn JobFunc
}

// NewFuncJob creates a closure job with the default trigger capacity.
func NewFuncJob(name string, fn JobFunc) *FuncJob {
	j := &FuncJob{fn: fn}
	j.id = uuid.New()
	j.name = name
	return j
}

// NewFuncJobWithCapacity creates a closure job able to notify up to
// triggerCapacity triggers.
func NewFuncJobWithCapacity(name string, triggerCapacity int, fn JobFunc) *FuncJob {
	j := NewFuncJob(name, fn)
	j.SetTriggerCapacity(triggerCapacity)
	return j
}

func (j *FuncJob) Run(ctx context.Context) {
	if j.fn != nil {
		j.fn(ctx)
	}
}

// =============================================================================
// lightJob: pooled closure job used by channels
// =============================================================================

type lightJob struct {
	JobBase
	fn      JobFunc
	channel *Channel
	pool    *lightJobPool
}

func (j *lightJob) Run(ctx context.Context) {
	if j.channel != nil {
		defer j.channel.jobFinished()
	}
	if j.fn != nil {
		j.fn(ctx)
	}
}

// lightJobDefinition is what every pooled job carries between uses; channels
// stamp their own priority and affinity onto it at submission.
var lightJobDefinition = NewDefinition(LifetimeDeleteAfterRun, WeightLight, AffinityAny, PriorityNormal, ResetClearCountOnFire)

// reset makes the job reusable under a new identity; called by the pool on
// release.
func (j *lightJob) reset() {
	j.id = uuid.New()
	j.fn = nil
	j.channel = nil
	j.name = "light"
	j.def = lightJobDefinition
	clear(j.triggers)
	j.triggers = j.triggers[:0]
	j.state.Store(uint32(jobIdle))
}

// lightJobPool is a bounded free list of light jobs owned by one worker.
type lightJobPool struct {
	free *BoundedQueue[*lightJob]
	size int
}

func newLightJobPool(size int) *lightJobPool {
	p := &lightJobPool{
		free: NewBoundedQueue[*lightJob](size),
		size: size,
	}
	for i := 0; i < size; i++ {
		j := &lightJob{pool: p}
		j.id = uuid.New()
		j.name = "light"
		j.def = lightJobDefinition
		j.triggers = make([]*Trigger, 0, 1)
		p.free.TryPush(j)
	}
	return p
}

func (p *lightJobPool) acquire() (*lightJob, bool) {
	return p.free.TryPop()
}

func (p *lightJobPool) release(j *lightJob) {
	j.reset()
	p.free.TryPush(j)
}

// Available is approximate under concurrent use.
func (p *lightJobPool) Available() int { return p.free.Len() }
