package core

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
	"unicode/utf8"
)

// MainWorkerID is worker 0. The holder of the main identity and every
// goroutine that calls into the system without a worker binding run there.
const MainWorkerID = 0

// maxExceptionInfo bounds the diagnostic text kept per worker.
const maxExceptionInfo = 512

// WorkerException describes the last panic caught on a worker.
type WorkerException struct {
	WorkerID int
	JobName  string
	Message  string
	At       time.Time
	Count    uint64
}

func (e WorkerException) String() string {
	return fmt.Sprintf("worker %d: job %q panicked (%d total): %s", e.WorkerID, e.JobName, e.Count, e.Message)
}

type worker struct {
	id   int
	main bool // worker 0, shared by the main identity and helpers

	stealCursor atomic.Uint32
	executed    atomic.Uint64

	exceptions atomic.Uint64
	lastPanic  atomic.Pointer[WorkerException]
}

func (w *worker) recordException(jobName string, panicInfo any) {
	msg := fmt.Sprint(panicInfo)
	if len(msg) > maxExceptionInfo {
		cut := maxExceptionInfo
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	n := w.exceptions.Add(1)
	w.lastPanic.Store(&WorkerException{
		WorkerID: w.id,
		JobName:  jobName,
		Message:  msg,
		At:       time.Now(),
		Count:    n,
	})
}

// =============================================================================
// Context Helper
// =============================================================================

type workerKeyType struct{}

var workerKey workerKeyType

type workerBinding struct {
	sys  *System
	w    *worker
	main bool
}

// seat is the identity a caller pops and runs jobs under. Background workers
// sit at their own worker with main unset. Every other goroutine shares
// worker 0's queues and pool, and holds the main identity only while it owns
// the system's main claim.
type seat struct {
	w    *worker
	main bool
}

// GetCurrentSystem returns the system whose worker is running the caller, or
// nil outside of a job.
func GetCurrentSystem(ctx context.Context) *System {
	if b, ok := ctx.Value(workerKey).(workerBinding); ok {
		return b.sys
	}
	return nil
}

// IsMainThread reports whether the caller runs under its system's main
// identity. At most one goroutine per system holds it at a time.
func IsMainThread(ctx context.Context) bool {
	if b, ok := ctx.Value(workerKey).(workerBinding); ok {
		return b.main
	}
	return false
}

// WorkerID returns the worker identity bound to ctx, or MainWorkerID.
func WorkerID(ctx context.Context) int {
	if b, ok := ctx.Value(workerKey).(workerBinding); ok {
		return b.w.id
	}
	return MainWorkerID
}

// seatFor resolves the calling seat. Goroutines without a binding to this
// system help from worker 0 without the main identity.
func (s *System) seatFor(ctx context.Context) seat {
	if b, ok := ctx.Value(workerKey).(workerBinding); ok && b.sys == s {
		return seat{w: b.w, main: b.main}
	}
	return seat{w: s.workers[MainWorkerID]}
}

func (s *System) bind(ctx context.Context, st seat) context.Context {
	if b, ok := ctx.Value(workerKey).(workerBinding); ok && b.sys == s && b.w == st.w && b.main == st.main {
		return ctx
	}
	return context.WithValue(ctx, workerKey, workerBinding{sys: s, w: st.w, main: st.main})
}
