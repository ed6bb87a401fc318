package core

import "fmt"

// =============================================================================
// Definition: packed job/trigger attributes
// =============================================================================

// Lifetime says who releases a job or trigger once it has run or fired.
type Lifetime uint8

const (
	// LifetimeKeepAfterRun leaves the object with its creator for reuse.
	LifetimeKeepAfterRun Lifetime = iota
	// LifetimeDeleteAfterRun hands the object to the system, which releases it
	// right after its completion callbacks.
	LifetimeDeleteAfterRun
)

// Weight selects between regular jobs and pooled closure-only jobs.
type Weight uint8

const (
	WeightNormal Weight = iota
	// WeightLight jobs come from a per-worker pool and carry a single closure.
	WeightLight
)

// Affinity restricts which worker class may run a job.
type Affinity uint8

const (
	AffinityAny Affinity = iota
	AffinityMainThreadOnly
	AffinityNotMainThread

	numAffinities = 3
)

// Priority is a scheduling preference among ready jobs of the same affinity.
type Priority uint8

const (
	PriorityBelowNormal Priority = iota
	PriorityNormal
	PriorityAboveNormal

	numPriorities = 3
)

// ResetPolicy controls what a trigger (or a job's trigger list) does after firing.
type ResetPolicy uint8

const (
	// ResetClearCountOnFire makes a trigger one-shot.
	ResetClearCountOnFire ResetPolicy = iota
	// ResetKeepCountOnFire restores the counter so the next wave fires again
	// without re-registering producers.
	ResetKeepCountOnFire
)

// Bit layout of a Definition. Priority is stored xor PriorityNormal so the zero
// Definition means Normal priority.
const (
	defLifetimeShift = 0
	defWeightShift   = 1
	defAffinityShift = 2
	defPriorityShift = 4
	defResetShift    = 6

	defOneBit  = 0x1
	defTwoBits = 0x3
)

// Definition packs lifetime, weight, affinity, priority and reset policy into
// one byte. The zero value is KeepAfterRun, Normal weight, Any affinity,
// Normal priority, ClearCountOnFire.
type Definition uint8

// DefaultDefinition returns the zero Definition.
func DefaultDefinition() Definition { return 0 }

// NewDefinition builds a Definition from its parts.
func NewDefinition(lifetime Lifetime, weight Weight, affinity Affinity, priority Priority, reset ResetPolicy) Definition {
	return DefaultDefinition().
		WithLifetime(lifetime).
		WithWeight(weight).
		WithAffinity(affinity).
		WithPriority(priority).
		WithResetPolicy(reset)
}

func (d Definition) get(shift, mask uint8) uint8 { return (uint8(d) >> shift) & mask }

func (d Definition) set(shift, mask, v uint8) Definition {
	cleared := uint8(d) &^ (mask << shift)
	return Definition(cleared | (v&mask)<<shift)
}

func (d Definition) Lifetime() Lifetime { return Lifetime(d.get(defLifetimeShift, defOneBit)) }
func (d Definition) Weight() Weight     { return Weight(d.get(defWeightShift, defOneBit)) }
func (d Definition) Affinity() Affinity { return Affinity(d.get(defAffinityShift, defTwoBits)) }

func (d Definition) Priority() Priority {
	return Priority(d.get(defPriorityShift, defTwoBits) ^ uint8(PriorityNormal))
}

func (d Definition) ResetPolicy() ResetPolicy {
	return ResetPolicy(d.get(defResetShift, defOneBit))
}

func (d Definition) WithLifetime(l Lifetime) Definition {
	return d.set(defLifetimeShift, defOneBit, uint8(l))
}

func (d Definition) WithWeight(w Weight) Definition {
	return d.set(defWeightShift, defOneBit, uint8(w))
}

func (d Definition) WithAffinity(a Affinity) Definition {
	if a >= numAffinities {
		a = AffinityAny
	}
	return d.set(defAffinityShift, defTwoBits, uint8(a))
}

func (d Definition) WithPriority(p Priority) Definition {
	if p >= numPriorities {
		p = PriorityNormal
	}
	return d.set(defPriorityShift, defTwoBits, uint8(p)^uint8(PriorityNormal))
}

func (d Definition) WithResetPolicy(r ResetPolicy) Definition {
	return d.set(defResetShift, defOneBit, uint8(r))
}

func (d Definition) String() string {
	return fmt.Sprintf("{lifetime:%s weight:%s affinity:%s priority:%s reset:%s}",
		d.Lifetime(), d.Weight(), d.Affinity(), d.Priority(), d.ResetPolicy())
}

func (l Lifetime) String() string {
	switch l {
	case LifetimeKeepAfterRun:
		return "keep_after_run"
	case LifetimeDeleteAfterRun:
		return "delete_after_run"
	default:
		return "unknown"
	}
}

func (w Weight) String() string {
	switch w {
	case WeightNormal:
		return "normal"
	case WeightLight:
		return "light"
	default:
		return "unknown"
	}
}

func (a Affinity) String() string {
	switch a {
	case AffinityAny:
		return "any"
	case AffinityMainThreadOnly:
		return "main_thread_only"
	case AffinityNotMainThread:
		return "not_main_thread"
	default:
		return "unknown"
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityBelowNormal:
		return "below_normal"
	case PriorityNormal:
		return "normal"
	case PriorityAboveNormal:
		return "above_normal"
	default:
		return "unknown"
	}
}

func (r ResetPolicy) String() string {
	switch r {
	case ResetClearCountOnFire:
		return "clear_count_on_fire"
	case ResetKeepCountOnFire:
		return "keep_count_on_fire"
	default:
		return "unknown"
	}
}
