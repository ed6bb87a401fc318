package core

import (
	"runtime"
	"sync/atomic"
)

// Barrier word layout:
//
//	bits  0-31  running job count
//	bits 32-62  unique counter, bumped by every admission
//	bit  63     blocked (exclusive lock held)
const (
	barrierRunningMask = uint64(1)<<32 - 1
	barrierUniqueShift = 32
	barrierUniqueMask  = (uint64(1)<<31 - 1) << barrierUniqueShift
	barrierBlockedBit  = uint64(1) << 63
)

// Barrier is the admission gate in front of job execution. Workers announce
// themselves with IncSystemProcessing before running a job and leave with
// DecSystemProcessing; LockExclusive stops new admissions so the holder can
// wait for the running count to reach zero.
type Barrier struct {
	word atomic.Uint64
}

func barrierRunning(w uint64) int   { return int(w & barrierRunningMask) }
func barrierUnique(w uint64) uint32 { return uint32((w & barrierUniqueMask) >> barrierUniqueShift) }
func barrierBlocked(w uint64) bool  { return w&barrierBlockedBit != 0 }
func barrierWord(running int, unique uint32, blocked bool) uint64 {
	w := uint64(running)&barrierRunningMask | (uint64(unique)<<barrierUniqueShift)&barrierUniqueMask
	if blocked {
		w |= barrierBlockedBit
	}
	return w
}

// IncSystemProcessing admits n jobs. It spins while the barrier is blocked.
func (b *Barrier) IncSystemProcessing(n int) {
	for {
		old := b.word.Load()
		if barrierBlocked(old) {
			runtime.Gosched()
			continue
		}
		next := barrierWord(barrierRunning(old)+n, barrierUnique(old)+1, false)
		if b.word.CompareAndSwap(old, next) {
			return
		}
	}
}

// incNested admits n jobs on behalf of a caller that is already admitted,
// ignoring the blocked bit.
func (b *Barrier) incNested(n int) {
	for {
		old := b.word.Load()
		next := barrierWord(barrierRunning(old)+n, barrierUnique(old)+1, barrierBlocked(old))
		if b.word.CompareAndSwap(old, next) {
			return
		}
	}
}

// DecSystemProcessing releases n admissions. It is never blocked.
func (b *Barrier) DecSystemProcessing(n int) {
	for {
		old := b.word.Load()
		running := barrierRunning(old) - n
		if running < 0 {
			violation("DecSystemProcessing", "", "running count would go negative")
		}
		next := barrierWord(running, barrierUnique(old), barrierBlocked(old))
		if b.word.CompareAndSwap(old, next) {
			return
		}
	}
}

// LockExclusive sets the blocked bit, waiting for any other holder to
// release first. Jobs already admitted keep running.
func (b *Barrier) LockExclusive() {
	for {
		old := b.word.Load()
		if barrierBlocked(old) {
			runtime.Gosched()
			continue
		}
		if b.word.CompareAndSwap(old, old|barrierBlockedBit) {
			return
		}
	}
}

// ReleaseExclusive clears the blocked bit.
func (b *Barrier) ReleaseExclusive() {
	for {
		old := b.word.Load()
		if !barrierBlocked(old) {
			violation("ReleaseExclusive", "", "barrier is not locked")
		}
		if b.word.CompareAndSwap(old, old&^barrierBlockedBit) {
			return
		}
	}
}

func (b *Barrier) RunningJobCount() int { return barrierRunning(b.word.Load()) }
func (b *Barrier) IsBlocked() bool      { return barrierBlocked(b.word.Load()) }

// Admissions returns the unique counter. It wraps at 2^31.
func (b *Barrier) Admissions() uint32 { return barrierUnique(b.word.Load()) }
