package core

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// SystemState is the lifecycle of a System.
type SystemState int32

const (
	StateUninitialized SystemState = iota
	StateWorking
	StateExiting
)

func (s SystemState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateWorking:
		return "working"
	case StateExiting:
		return "exiting"
	default:
		return "unknown"
	}
}

const (
	// idleSpins is how many empty polls a waiting thread yields before it
	// starts sleeping between polls.
	idleSpins = 64
	idleSleep = 50 * time.Microsecond

	// mainIdleWait bounds how long RunMain sleeps without a signal.
	mainIdleWait = time.Millisecond
)

// popOrder is the priority scan order used by every worker.
var popOrder = [numPriorities]Priority{PriorityAboveNormal, PriorityNormal, PriorityBelowNormal}

// System owns the worker goroutines, the affinity x priority queue matrix,
// the per-worker light job pools and queues, and the admission barrier.
//
// Worker 0 is the main worker. It has no goroutine of its own: it is the
// caller of RunMain, ProcessWhileWaiting or Shutdown, and any goroutine that
// reaches the system without a worker binding in its context.
type System struct {
	config SystemConfig
	name   string

	logger             Logger
	metrics            Metrics
	panicHandler       PanicHandler
	rejectedJobHandler RejectedJobHandler

	lifecycleMu sync.Mutex
	state       atomic.Int32

	workers     []*worker
	queues      [numAffinities][numPriorities]*BoundedQueue[Job]
	lightQueues []*BoundedQueue[Job]
	lightPools  []*lightJobPool

	barrier Barrier

	signal     chan struct{}
	mainSignal chan struct{}
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mainStop   atomic.Bool
	mainHeld   atomic.Bool
	mainLoop   atomic.Bool

	queued          atomic.Int64
	executed        atomic.Uint64
	helped          atomic.Uint64
	rejected        atomic.Uint64
	exceptionRaised atomic.Bool

	history *executionHistory
	delays  *delayManager
}

// NewSystem creates an uninitialized system. A nil config uses
// DefaultSystemConfig.
func NewSystem(config *SystemConfig) *System {
	cfg := config.withDefaults()
	return &System{
		config:             cfg,
		name:               cfg.Name,
		logger:             cfg.Logger,
		metrics:            cfg.Metrics,
		panicHandler:       cfg.PanicHandler,
		rejectedJobHandler: cfg.RejectedJobHandler,
		history:            newExecutionHistory(cfg.HistoryCapacity),
	}
}

// Init starts workerCount background workers next to the main worker. A
// negative workerCount picks GOMAXPROCS-1. A system that has been shut down
// may be initialized again.
func (s *System) Init(workerCount int) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.State() == StateWorking {
		return ErrAlreadyInitialized
	}
	if workerCount < 0 {
		workerCount = max(runtime.GOMAXPROCS(0)-1, 0)
	}
	total := workerCount + 1

	s.workers = make([]*worker, total)
	s.lightQueues = make([]*BoundedQueue[Job], total)
	s.lightPools = make([]*lightJobPool, total)
	for i := 0; i < total; i++ {
		s.workers[i] = &worker{id: i, main: i == MainWorkerID}
		s.lightQueues[i] = NewBoundedQueue[Job](s.config.LightQueueCapacity)
		s.lightPools[i] = newLightJobPool(s.config.LightJobsPerWorker)
	}
	for a := 0; a < numAffinities; a++ {
		for p := 0; p < numPriorities; p++ {
			s.queues[a][p] = NewBoundedQueue[Job](s.config.QueueCapacity)
		}
	}

	s.signal = make(chan struct{}, max(workerCount*2, 1))
	s.mainSignal = make(chan struct{}, 1)
	s.stopCh = make(chan struct{})
	s.queued.Store(0)
	s.mainStop.Store(false)
	s.mainHeld.Store(false)
	s.exceptionRaised.Store(false)
	s.delays = newDelayManager(s)
	s.state.Store(int32(StateWorking))

	for _, w := range s.workers[1:] {
		s.wg.Add(1)
		go s.workerLoop(s.bind(context.Background(), seat{w: w}), w, s.signal, s.stopCh)
	}

	s.logger.Info("job system initialized",
		F("system", s.name), F("workers", total), F("queue_capacity", s.config.QueueCapacity))
	return nil
}

// Shutdown helps run every queued job until the system is idle, then stops
// the workers and releases the queues. If ctx ends first, the remaining jobs
// are dropped and ctx's error is returned.
//
// Shutdown must not be called from inside a job.
func (s *System) Shutdown(ctx context.Context) error {
	if GetCurrentSystem(ctx) == s {
		violation("Shutdown", s.name, "called from inside a job")
	}

	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	switch s.State() {
	case StateUninitialized:
		return ErrNotInitialized
	case StateExiting:
		return nil
	}

	pending := s.delays.stop()
	for _, job := range pending {
		s.discard(job)
	}

	drainErr := s.drain(ctx)

	s.state.Store(int32(StateExiting))
	close(s.stopCh)
	s.wakeMain()
	s.wg.Wait()

	dropped := s.clearQueues() + len(pending)
	if dropped > 0 {
		s.logger.Warn("jobs dropped at shutdown", F("system", s.name), F("dropped", dropped))
	}
	s.logger.Info("job system shut down", F("system", s.name), F("executed", s.executed.Load()))

	if drainErr != nil {
		return fmt.Errorf("shutdown %s: %w", s.name, drainErr)
	}
	return nil
}

func (s *System) drain(ctx context.Context) error {
	st := s.seatFor(ctx)
	idle := 0
	for s.queued.Load() > 0 || s.barrier.RunningJobCount() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.runNext(ctx, st, true, false) {
			idle = 0
			continue
		}
		idle = backoff(idle)
	}
	return nil
}

func (s *System) clearQueues() int {
	dropped := 0
	drop := func(q *BoundedQueue[Job]) {
		for {
			job, ok := q.TryPop()
			if !ok {
				return
			}
			s.discard(job)
			dropped++
		}
	}
	for a := 0; a < numAffinities; a++ {
		for p := 0; p < numPriorities; p++ {
			drop(s.queues[a][p])
		}
	}
	for _, q := range s.lightQueues {
		drop(q)
	}
	s.queued.Store(0)
	return dropped
}

// discard releases a job that will never run: DeleteAfterRun jobs are
// disposed, the rest go back to idle for their owner.
func (s *System) discard(job Job) {
	b := job.jobBase()
	if b.def.Lifetime() == LifetimeDeleteAfterRun {
		s.dispose(job, b.onDispose)
		return
	}
	b.unmarkSubmitted()
}

// =============================================================================
// Submission
// =============================================================================

// Submit hands job to the system. A full queue is backpressure: the caller
// runs ready jobs itself until there is room. Submit fails only when the
// system is not working, after reporting the job to the RejectedJobHandler.
func (s *System) Submit(ctx context.Context, job Job) error {
	if job == nil {
		violation("Submit", s.name, "nil job")
	}
	switch s.State() {
	case StateUninitialized:
		return s.reject(job, ErrNotInitialized)
	case StateExiting:
		return s.reject(job, ErrSystemExiting)
	}

	b := job.jobBase()
	s.requireRunnable("Submit", b.name, b.def.Affinity())
	b.markSubmitted()
	s.enqueue(ctx, job)
	return nil
}

// SubmitAfter hands job to the system once delay has passed. The job counts
// as submitted from the call on. A system shut down before the delay expires
// drops it: a DeleteAfterRun job is disposed, any other returns to idle. A
// non-positive delay submits at once.
func (s *System) SubmitAfter(ctx context.Context, job Job, delay time.Duration) error {
	if delay <= 0 {
		return s.Submit(ctx, job)
	}
	if job == nil {
		violation("SubmitAfter", s.name, "nil job")
	}
	switch s.State() {
	case StateUninitialized:
		return s.reject(job, ErrNotInitialized)
	case StateExiting:
		return s.reject(job, ErrSystemExiting)
	}

	b := job.jobBase()
	s.requireRunnable("SubmitAfter", b.name, b.def.Affinity())
	b.markSubmitted()
	if !s.delays.add(job, delay) {
		b.unmarkSubmitted()
		return s.reject(job, ErrSystemExiting)
	}
	return nil
}

// requireRunnable panics for work no seat may ever pop: NotMainThread jobs
// need a background worker.
func (s *System) requireRunnable(op, name string, a Affinity) {
	if a == AffinityNotMainThread && len(s.workers) < 2 {
		violation(op, name, "NotMainThread job on a system without background workers")
	}
}

// DelayedJobCount returns the number of SubmitAfter jobs not yet due.
func (s *System) DelayedJobCount() int {
	if s.State() != StateWorking {
		return 0
	}
	return s.delays.Len()
}

// enqueue pushes an already submitted job, helping while its queue is full.
func (s *System) enqueue(ctx context.Context, job Job) {
	st := s.seatFor(ctx)
	q := s.route(st.w, job.jobBase().def)
	s.queued.Add(1)
	if !q.TryPush(job) {
		nested := GetCurrentSystem(ctx) == s
		for !q.TryPush(job) {
			if !s.runNext(ctx, st, true, nested) {
				runtime.Gosched()
			}
		}
	}

	s.metrics.RecordQueueDepth(s.name, int(s.queued.Load()))
	s.wake()
}

func (s *System) route(w *worker, def Definition) *BoundedQueue[Job] {
	if def.Weight() == WeightLight && def.Affinity() == AffinityAny {
		return s.lightQueues[w.id]
	}
	return s.queues[def.Affinity()][def.Priority()]
}

func (s *System) reject(job Job, err error) error {
	s.rejected.Add(1)
	reason := err.Error()
	s.rejectedJobHandler.HandleRejectedJob(s.name, job.jobBase().Name(), reason)
	s.metrics.RecordJobRejected(s.name, reason)
	return err
}

func (s *System) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
		// Signal channel full; enough workers are already awake.
	}
	s.wakeMain()
}

func (s *System) wakeMain() {
	select {
	case s.mainSignal <- struct{}{}:
	default:
	}
}

// =============================================================================
// Execution
// =============================================================================

// pop takes the next job for st: its own light queue first, then for each
// priority from high to low the queue of its restricted affinity followed by
// the Any queue, and finally the other workers' light queues. Background
// workers take NotMainThread jobs. Only the main identity takes
// MainThreadOnly jobs; a helper on worker 0 claims it for the one job it
// pops, and claimed reports that the caller must hand the claim back.
func (s *System) pop(st seat) (Job, bool, bool) {
	if job, ok := s.tryPop(s.lightQueues[st.w.id]); ok {
		return job, false, true
	}

	for _, p := range popOrder {
		switch {
		case st.main:
			if job, ok := s.tryPop(s.queues[AffinityMainThreadOnly][p]); ok {
				return job, false, true
			}
		case !st.w.main:
			if job, ok := s.tryPop(s.queues[AffinityNotMainThread][p]); ok {
				return job, false, true
			}
		default:
			if job, ok := s.popClaimingMain(p); ok {
				return job, true, true
			}
		}
		if job, ok := s.tryPop(s.queues[AffinityAny][p]); ok {
			return job, false, true
		}
	}

	n := len(s.lightQueues)
	start := int(st.w.stealCursor.Add(1))
	for i := 0; i < n; i++ {
		victim := (start + i) % n
		if victim == st.w.id {
			continue
		}
		if job, ok := s.tryPop(s.lightQueues[victim]); ok {
			return job, false, true
		}
	}
	return nil, false, false
}

// popClaimingMain takes a MainThreadOnly job of priority p under a fresh main
// claim. The claim is kept only when a job was taken.
func (s *System) popClaimingMain(p Priority) (Job, bool) {
	q := s.queues[AffinityMainThreadOnly][p]
	if q.Len() == 0 || !s.mainHeld.CompareAndSwap(false, true) {
		return nil, false
	}
	if job, ok := s.tryPop(q); ok {
		return job, true
	}
	s.mainHeld.Store(false)
	return nil, false
}

func (s *System) tryPop(q *BoundedQueue[Job]) (Job, bool) {
	job, ok := q.TryPop()
	if ok {
		s.queued.Add(-1)
	}
	return job, ok
}

// popLight is pop restricted to light queues, own first.
func (s *System) popLight(w *worker) (Job, bool) {
	n := len(s.lightQueues)
	for i := 0; i < n; i++ {
		if job, ok := s.tryPop(s.lightQueues[(w.id+i)%n]); ok {
			return job, true
		}
	}
	return nil, false
}

// runNext pops one job for st and runs it. It reports whether anything ran.
func (s *System) runNext(ctx context.Context, st seat, helped, nested bool) bool {
	job, claimed, ok := s.pop(st)
	if !ok {
		return false
	}
	s.run(ctx, st, job, claimed, helped, nested)
	return true
}

func (s *System) run(ctx context.Context, st seat, job Job, claimed, helped, nested bool) {
	if claimed {
		st.main = true
		defer s.mainHeld.Store(false)
	}
	s.execute(s.bind(ctx, st), st.w, job, helped, nested)
}

func (s *System) workerLoop(ctx context.Context, w *worker, signal <-chan struct{}, stopCh <-chan struct{}) {
	defer s.wg.Done()

	st := seat{w: w}
	for {
		if s.runNext(ctx, st, false, false) {
			continue
		}
		select {
		case <-signal:
		case <-stopCh:
			return
		}
	}
}

// execute runs one job on w and completes it: notify its triggers from last
// to first, then dispose of it if the system owns it. Everything needed after
// the first notify is copied out of the job beforehand, because a notify may
// release the owner, who is then free to resubmit or drop the job.
//
// nested is set when the caller is itself inside a job. Such a caller already
// holds an admission, so it is admitted past a blocked barrier; otherwise an
// exclusive holder would wait on it forever.
func (s *System) execute(ctx context.Context, w *worker, job Job, helped, nested bool) {
	b := job.jobBase()
	b.beginRun()
	if nested {
		s.barrier.incNested(1)
	} else {
		s.barrier.IncSystemProcessing(1)
	}

	id, name, def := b.id, b.name, b.def
	startedAt := time.Now()
	panicked := s.runBody(ctx, w, job, name)
	finishedAt := time.Now()

	w.executed.Add(1)
	s.executed.Add(1)
	s.metrics.RecordJobDuration(s.name, def.Priority(), finishedAt.Sub(startedAt))
	if helped {
		s.helped.Add(1)
		s.metrics.RecordJobHelped(s.name)
	}
	s.history.Add(JobExecutionRecord{
		JobID:      id,
		Name:       name,
		SystemName: s.name,
		WorkerID:   w.id,
		Helped:     helped,
		Priority:   def.Priority(),
		Affinity:   def.Affinity(),
		Weight:     def.Weight(),
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Duration:   finishedAt.Sub(startedAt),
		Panicked:   panicked,
	})

	var buf [inlineFanout]*Trigger
	triggers := append(buf[:0], b.triggers...)
	deleteAfter := def.Lifetime() == LifetimeDeleteAfterRun
	onDispose := b.onDispose
	if def.ResetPolicy() == ResetClearCountOnFire {
		clear(b.triggers)
		b.triggers = b.triggers[:0]
	}
	if !deleteAfter {
		b.state.Store(uint32(jobIdle))
	}

	for i := len(triggers) - 1; i >= 0; i-- {
		if fired := triggers[i].notify(ctx); fired != nil {
			fired.dispose()
		}
	}
	s.barrier.DecSystemProcessing(1)

	if deleteAfter {
		s.dispose(job, onDispose)
	}
}

func (s *System) runBody(ctx context.Context, w *worker, job Job, name string) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			w.recordException(name, r)
			s.exceptionRaised.Store(true)
			s.logger.Debug("job panicked", F("system", s.name), F("worker", w.id), F("job", name), F("panic", r))
			s.metrics.RecordJobPanic(s.name, r)
			s.panicHandler.HandlePanic(ctx, s.name, w.id, r, debug.Stack())
		}
	}()

	job.Run(ctx)
	if hook, ok := job.(CompletionHook); ok {
		hook.OnCompletion(ctx)
	}
	return false
}

func (s *System) dispose(job Job, onDispose func()) {
	if lj, ok := job.(*lightJob); ok {
		lj.pool.release(lj)
		return
	}
	job.jobBase().state.Store(uint32(jobDisposed))
	if onDispose != nil {
		onDispose()
	}
}

// =============================================================================
// Cooperative waiting
// =============================================================================

// ProcessWhileWaiting runs ready jobs on the calling goroutine until pending
// reads false. When nothing is ready it yields, then sleeps briefly; it never
// takes wake-up signals meant for workers.
//
// A goroutine holding the exclusive lock must not wait here: every job it
// picked up would spin on the barrier it holds.
func (s *System) ProcessWhileWaiting(ctx context.Context, pending *atomic.Bool) error {
	if s.State() == StateUninitialized {
		return ErrNotInitialized
	}
	st := s.seatFor(ctx)
	nested := GetCurrentSystem(ctx) == s
	idle := 0
	for pending.Load() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.runNext(ctx, st, true, nested) {
			idle = 0
			continue
		}
		if s.State() == StateExiting {
			return ErrSystemExiting
		}
		idle = backoff(idle)
	}
	return nil
}

// helpOne runs a single ready job on the caller, light jobs first. It reports
// whether anything ran.
func (s *System) helpOne(ctx context.Context, st seat) bool {
	nested := GetCurrentSystem(ctx) == s
	if job, ok := s.popLight(st.w); ok {
		s.run(ctx, st, job, false, true, nested)
		return true
	}
	return s.runNext(ctx, st, true, nested)
}

func backoff(idle int) int {
	if idle < idleSpins {
		runtime.Gosched()
	} else {
		time.Sleep(idleSleep)
	}
	return idle + 1
}

// =============================================================================
// Main worker
// =============================================================================

// RunMain turns the caller into the main worker until MainThreadStopsWorking
// is called, the system shuts down, or ctx ends. It holds the main identity
// for its whole run, so MainThreadOnly jobs run nowhere else meanwhile. Only
// one RunMain may be active per system, and never from inside a job.
func (s *System) RunMain(ctx context.Context) error {
	if GetCurrentSystem(ctx) == s {
		violation("RunMain", s.name, "called from inside a job")
	}
	switch s.State() {
	case StateUninitialized:
		return ErrNotInitialized
	case StateExiting:
		return ErrSystemExiting
	}
	if !s.mainLoop.CompareAndSwap(false, true) {
		violation("RunMain", s.name, "already running on another goroutine")
	}
	defer s.mainLoop.Store(false)

	stopCh := s.stopCh
	if err := s.claimMain(ctx, stopCh); err != nil {
		return err
	}
	defer s.mainHeld.Store(false)

	st := seat{w: s.workers[MainWorkerID], main: true}
	wctx := s.bind(ctx, st)
	timer := time.NewTimer(mainIdleWait)
	defer timer.Stop()

	for {
		if s.mainStop.CompareAndSwap(true, false) {
			return nil
		}
		if s.runNext(wctx, st, false, false) {
			continue
		}
		timer.Reset(mainIdleWait)
		select {
		case <-s.mainSignal:
		case <-timer.C:
		case <-stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// claimMain waits for a helper running a MainThreadOnly job to hand the main
// identity back.
func (s *System) claimMain(ctx context.Context, stopCh <-chan struct{}) error {
	idle := 0
	for !s.mainHeld.CompareAndSwap(false, true) {
		select {
		case <-stopCh:
			return ErrSystemExiting
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		idle = backoff(idle)
	}
	return nil
}

// MainThreadStopsWorking asks RunMain to return once its current job is done.
func (s *System) MainThreadStopsWorking() {
	s.mainStop.Store(true)
	s.wakeMain()
}

// =============================================================================
// Barrier
// =============================================================================

func (s *System) IncSystemProcessing(n int) { s.barrier.IncSystemProcessing(n) }
func (s *System) DecSystemProcessing(n int) { s.barrier.DecSystemProcessing(n) }
func (s *System) LockExclusive()            { s.barrier.LockExclusive() }
func (s *System) ReleaseExclusive()         { s.barrier.ReleaseExclusive() }
func (s *System) RunningJobCount() int      { return s.barrier.RunningJobCount() }
func (s *System) IsBlocked() bool           { return s.barrier.IsBlocked() }

// Exclusive blocks new job admissions, waits for running jobs to finish, and
// runs fn while nothing else executes. It must not be called from a job.
func (s *System) Exclusive(ctx context.Context, fn func()) error {
	if GetCurrentSystem(ctx) == s {
		violation("Exclusive", s.name, "called from inside a job")
	}
	s.barrier.LockExclusive()
	defer s.barrier.ReleaseExclusive()

	for s.barrier.RunningJobCount() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		runtime.Gosched()
	}
	fn()
	return nil
}

// =============================================================================
// Exceptions
// =============================================================================

// GetExceptionRaised reports whether any job body has panicked since Init or
// the last ClearExceptions.
func (s *System) GetExceptionRaised() bool { return s.exceptionRaised.Load() }

// GetWorkerExceptionInfo returns the last panic recorded on workerID.
func (s *System) GetWorkerExceptionInfo(workerID int) (WorkerException, bool) {
	if workerID < 0 || workerID >= len(s.workers) {
		return WorkerException{}, false
	}
	if e := s.workers[workerID].lastPanic.Load(); e != nil {
		return *e, true
	}
	return WorkerException{}, false
}

// ClearExceptions resets the raised flag and every worker's diagnostic.
func (s *System) ClearExceptions() {
	for _, w := range s.workers {
		w.lastPanic.Store(nil)
		w.exceptions.Store(0)
	}
	s.exceptionRaised.Store(false)
}

// =============================================================================
// Accessors
// =============================================================================

func (s *System) Name() string { return s.name }

func (s *System) State() SystemState { return SystemState(s.state.Load()) }

// WorkerCount returns the number of workers including the main worker.
func (s *System) WorkerCount() int { return len(s.workers) }

func (s *System) QueuedJobCount() int { return int(s.queued.Load()) }

// GetLogger returns the logger for this system
func (s *System) GetLogger() Logger { return s.logger }

// GetPanicHandler returns the panic handler for this system
func (s *System) GetPanicHandler() PanicHandler { return s.panicHandler }

// GetMetrics returns the metrics collector for this system
func (s *System) GetMetrics() Metrics { return s.metrics }

// RecentJobs returns up to limit execution records, newest first.
func (s *System) RecentJobs(limit int) []JobExecutionRecord {
	return s.history.Recent(limit)
}

// Stats returns a snapshot of the system's counters.
func (s *System) Stats() SystemStats {
	stats := SystemStats{
		Name:            s.name,
		Workers:         len(s.workers),
		State:           s.State(),
		Queued:          int(s.queued.Load()),
		Running:         s.barrier.RunningJobCount(),
		Blocked:         s.barrier.IsBlocked(),
		ExceptionRaised: s.exceptionRaised.Load(),
		Executed:        s.executed.Load(),
		Helped:          s.helped.Load(),
		Rejected:        s.rejected.Load(),
	}
	if stats.State == StateWorking {
		stats.Delayed = s.delays.Len()
		for _, q := range s.lightQueues {
			stats.LightQueued += q.Len()
		}
	}
	if last, ok := s.history.Last(); ok {
		stats.LastJobName = last.Name
		stats.LastJobAt = last.FinishedAt
	}
	return stats
}
