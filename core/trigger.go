package core

import (
	"context"
	"sync/atomic"
)

// DefaultTriggerDependentCapacity is the dependent-list capacity used by
// NewTrigger.
const DefaultTriggerDependentCapacity = 8

// inlineFanout is how many triggers or dependents are copied onto the stack
// before notifying; larger lists spill to the heap.
const inlineFanout = 8

// Trigger is an atomic down-counter. Every producer registered with
// RegisterProducer notifies it once on completion; when the count reaches
// zero the trigger fires, releasing its dependent jobs into the system and
// waking a synchronous joiner.
//
// Wiring (PrepareForWork, RegisterProducer, AddDependent, setters) belongs to
// the linear phase. Notify may be called from any goroutine.
type Trigger struct {
	name string
	def  Definition
	sys  *System

	count      atomic.Int64
	resetValue atomic.Int64
	fires      atomic.Uint64

	dependents []Job
	joinFlag   atomic.Pointer[atomic.Bool]

	onFired   func(ctx context.Context)
	onDispose func()
	disposed  atomic.Bool
}

// NewTrigger creates a one-shot trigger that can release up to
// DefaultTriggerDependentCapacity dependent jobs into sys.
func NewTrigger(sys *System, name string) *Trigger {
	return NewTriggerWithCapacity(sys, name, DefaultTriggerDependentCapacity)
}

// NewTriggerWithCapacity creates a trigger with a fixed dependent capacity.
func NewTriggerWithCapacity(sys *System, name string, dependentCapacity int) *Trigger {
	t := &Trigger{}
	t.init(sys, name, dependentCapacity)
	return t
}

func (t *Trigger) init(sys *System, name string, dependentCapacity int) {
	t.sys = sys
	t.name = name
	if dependentCapacity > 0 {
		t.dependents = make([]Job, 0, dependentCapacity)
	}
	t.onFired = t.releaseDependents
}

func (t *Trigger) Name() string           { return t.name }
func (t *Trigger) Definition() Definition { return t.def }

// Count returns the current notification counter.
func (t *Trigger) Count() int64 { return t.count.Load() }

// ResetValue returns the count restored after firing under
// ResetKeepCountOnFire.
func (t *Trigger) ResetValue() int64 { return t.resetValue.Load() }

// FireCount returns how many times the trigger has fired.
func (t *Trigger) FireCount() uint64 { return t.fires.Load() }

// Disposed reports whether the system has released this trigger.
func (t *Trigger) Disposed() bool { return t.disposed.Load() }

func (t *Trigger) requireLive(op string) {
	if t.disposed.Load() {
		violation(op, t.name, "trigger already disposed")
	}
}

func (t *Trigger) SetDefinition(def Definition) {
	t.requireLive("SetDefinition")
	t.def = def
}

func (t *Trigger) SetLifetime(l Lifetime) {
	t.requireLive("SetLifetime")
	t.def = t.def.WithLifetime(l)
}

func (t *Trigger) SetResetPolicy(r ResetPolicy) {
	t.requireLive("SetResetPolicy")
	t.def = t.def.WithResetPolicy(r)
}

// OnDispose registers fn to run once when a DeleteAfterRun trigger is
// released after firing.
func (t *Trigger) OnDispose(fn func()) {
	t.requireLive("OnDispose")
	t.onDispose = fn
}

// PrepareForWork biases the counter by one so that wiring producers cannot
// fire the trigger early. The bias is consumed by one extra Notify, or by
// ReleaseAndJoin.
func (t *Trigger) PrepareForWork() {
	t.requireLive("PrepareForWork")
	t.count.Add(1)
}

// RegisterProducer makes job a producer of this trigger: the counter grows by
// one, the new value becomes the reset value, and the trigger is appended to
// the job's trigger list.
func (t *Trigger) RegisterProducer(job Job) error {
	t.requireLive("RegisterProducer")
	if job == nil {
		violation("RegisterProducer", t.name, "nil job")
	}
	n := t.count.Add(1)
	if err := job.jobBase().RegisterTrigger(t); err != nil {
		t.count.Add(-1)
		return err
	}
	t.resetValue.Store(n)
	return nil
}

// AddDependent appends job to the jobs submitted when this trigger fires.
func (t *Trigger) AddDependent(job Job) error {
	t.requireLive("AddDependent")
	if job == nil {
		violation("AddDependent", t.name, "nil job")
	}
	if t.sys == nil {
		violation("AddDependent", t.name, "trigger has no system to release dependents into")
	}
	if t.dependents == nil {
		t.dependents = make([]Job, 0, DefaultTriggerDependentCapacity)
	}
	if len(t.dependents) == cap(t.dependents) {
		return ErrDependentListFull
	}
	t.dependents = append(t.dependents, job)
	return nil
}

// DependentCount returns the number of registered dependents.
func (t *Trigger) DependentCount() int { return len(t.dependents) }

// Notify decrements the counter and fires the trigger when it reaches zero.
func (t *Trigger) Notify(ctx context.Context) {
	if d := t.notify(ctx); d != nil {
		d.dispose()
	}
}

// notify returns the trigger itself when it fired and must now be disposed by
// the caller. Nothing in here touches t after the join flag is cleared except
// through that token.
func (t *Trigger) notify(ctx context.Context) *Trigger {
	n := t.count.Add(-1)
	if n > 0 {
		return nil
	}
	if n < 0 {
		violation("Notify", t.name, "notified more times than producers were registered")
	}

	flag := t.joinFlag.Swap(nil)
	deleteAfter := t.def.Lifetime() == LifetimeDeleteAfterRun
	if t.def.ResetPolicy() == ResetKeepCountOnFire {
		t.count.Store(t.resetValue.Load())
	}
	fires := t.fires.Add(1)

	if t.sys != nil {
		t.sys.logger.Debug("trigger fired", F("trigger", t.name), F("fires", fires))
		t.sys.metrics.RecordTriggerFired(t.name)
	}
	t.onFired(ctx)

	if flag != nil {
		flag.Store(false)
	}
	if deleteAfter {
		return t
	}
	return nil
}

func (t *Trigger) releaseDependents(ctx context.Context) {
	if len(t.dependents) == 0 {
		return
	}
	var buf [inlineFanout]Job
	deps := append(buf[:0], t.dependents...)
	for _, job := range deps {
		if err := t.sys.Submit(ctx, job); err != nil {
			t.sys.logger.Warn("dependent not released",
				F("trigger", t.name), F("job", job.jobBase().Name()), F("error", err))
		}
	}
}

func (t *Trigger) dispose() {
	if t.disposed.Swap(true) {
		return
	}
	if t.onDispose != nil {
		t.onDispose()
	}
}

// Join waits, by helping the system run ready jobs, until the trigger fires.
// A one-shot trigger whose counter is already zero returns immediately. A
// reusable trigger must still hold a bias when Join is called; see
// ReleaseAndJoin.
func (t *Trigger) Join(ctx context.Context) error {
	flag, err := t.armJoin("Join")
	if err != nil {
		return err
	}
	if t.def.ResetPolicy() == ResetClearCountOnFire && t.count.Load() == 0 {
		if t.joinFlag.CompareAndSwap(flag, nil) {
			return nil
		}
		// A concurrent fire took the flag and is about to clear it.
	}
	return t.wait(ctx, flag)
}

// ReleaseAndJoin consumes the PrepareForWork bias and waits for the fire that
// follows.
func (t *Trigger) ReleaseAndJoin(ctx context.Context) error {
	flag, err := t.armJoin("ReleaseAndJoin")
	if err != nil {
		return err
	}
	t.Notify(ctx)
	return t.wait(ctx, flag)
}

func (t *Trigger) armJoin(op string) (*atomic.Bool, error) {
	t.requireLive(op)
	if t.def.Lifetime() == LifetimeDeleteAfterRun {
		violation(op, t.name, "cannot join a trigger that deletes itself on fire")
	}
	if t.sys == nil {
		violation(op, t.name, "trigger has no system to help while waiting")
	}
	flag := new(atomic.Bool)
	flag.Store(true)
	if !t.joinFlag.CompareAndSwap(nil, flag) {
		violation(op, t.name, "trigger already has a joiner")
	}
	return flag, nil
}

func (t *Trigger) wait(ctx context.Context, flag *atomic.Bool) error {
	if err := t.sys.ProcessWhileWaiting(ctx, flag); err != nil {
		t.joinFlag.CompareAndSwap(flag, nil)
		return err
	}
	return nil
}
