package core

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestBarrier_Counts verifies running and unique counters
func TestBarrier_Counts(t *testing.T) {
	var b Barrier

	b.IncSystemProcessing(1)
	b.IncSystemProcessing(2)

	if b.RunningJobCount() != 3 {
		t.Errorf("RunningJobCount = %d, want 3", b.RunningJobCount())
	}
	if b.Admissions() != 2 {
		t.Errorf("Admissions = %d, want 2", b.Admissions())
	}

	b.DecSystemProcessing(3)
	if b.RunningJobCount() != 0 {
		t.Errorf("RunningJobCount = %d, want 0", b.RunningJobCount())
	}
	if b.Admissions() != 2 {
		t.Errorf("Dec must not change Admissions, got %d", b.Admissions())
	}
}

// TestBarrier_LockExclusiveBlocksAdmission verifies the blocked bit
// Given: A locked barrier
// When: Another goroutine tries to admit a job
// Then: It waits until the lock is released
func TestBarrier_LockExclusiveBlocksAdmission(t *testing.T) {
	var b Barrier
	b.LockExclusive()
	if !b.IsBlocked() {
		t.Fatal("IsBlocked should be true after LockExclusive")
	}

	var admitted atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.IncSystemProcessing(1)
		admitted.Store(true)
	}()

	time.Sleep(20 * time.Millisecond)
	if admitted.Load() {
		t.Fatal("admission passed a locked barrier")
	}

	b.ReleaseExclusive()
	wg.Wait()
	if !admitted.Load() || b.RunningJobCount() != 1 {
		t.Errorf("after release: admitted=%v running=%d", admitted.Load(), b.RunningJobCount())
	}
}

// TestBarrier_DecWhileBlocked verifies leaving is never blocked
func TestBarrier_DecWhileBlocked(t *testing.T) {
	var b Barrier
	b.IncSystemProcessing(1)
	b.LockExclusive()

	b.DecSystemProcessing(1)

	if b.RunningJobCount() != 0 || !b.IsBlocked() {
		t.Errorf("running=%d blocked=%v, want 0 and true", b.RunningJobCount(), b.IsBlocked())
	}
	b.incNested(1)
	if b.RunningJobCount() != 1 || !b.IsBlocked() {
		t.Errorf("nested admission: running=%d blocked=%v", b.RunningJobCount(), b.IsBlocked())
	}
}

// TestBarrier_ExclusiveIsMutual verifies only one holder at a time
func TestBarrier_ExclusiveIsMutual(t *testing.T) {
	var b Barrier
	var holders, maxHolders atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.LockExclusive()
				n := holders.Add(1)
				if n > maxHolders.Load() {
					maxHolders.Store(n)
				}
				holders.Add(-1)
				b.ReleaseExclusive()
			}
		}()
	}
	wg.Wait()

	if maxHolders.Load() != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxHolders.Load())
	}
}

// TestBarrier_Violations verifies misuse panics
func TestBarrier_Violations(t *testing.T) {
	t.Run("release unlocked", func(t *testing.T) {
		var b Barrier
		expectViolation(t, func() { b.ReleaseExclusive() })
	})
	t.Run("dec below zero", func(t *testing.T) {
		var b Barrier
		expectViolation(t, func() { b.DecSystemProcessing(1) })
	})
}

// TestBarrier_UniqueWraps verifies the unique counter stays in its bits
func TestBarrier_UniqueWraps(t *testing.T) {
	var b Barrier
	b.word.Store(barrierWord(5, uint32(barrierUniqueMask>>barrierUniqueShift), false))

	b.IncSystemProcessing(1)

	if b.Admissions() != 0 {
		t.Errorf("Admissions = %d, want wrap to 0", b.Admissions())
	}
	if b.RunningJobCount() != 6 || b.IsBlocked() {
		t.Errorf("running=%d blocked=%v, want 6 and false", b.RunningJobCount(), b.IsBlocked())
	}
}
