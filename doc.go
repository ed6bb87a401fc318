// Package jobsystem provides a fork-join job scheduler for Go.
//
// Work is expressed as jobs wired together with triggers. A trigger counts
// down once per producer job that completes and, when it reaches zero,
// releases its dependent jobs into the scheduler. Channels are triggers
// specialized for bursts of small closures, such as the slices of a
// parallel-for, with an in-flight cap that pushes back on the submitter.
//
// Every blocking call (Join, Submit under backpressure, Shutdown) runs other
// ready jobs on the calling goroutine instead of sleeping, so a single
// goroutine can drive a whole graph to completion.
//
// # Quick Start
//
//	sys, err := jobsystem.New(jobsystem.WithWorkers(4))
//	if err != nil {
//		return err
//	}
//	defer sys.Shutdown(ctx)
//
//	ch := jobsystem.NewChannel(sys, "resize")
//	for _, img := range images {
//		ch.Submit(ctx, func(ctx context.Context) { resize(img) })
//	}
//	ch.Join(ctx)
//
// # Key Concepts
//
// Job: a unit of work with a Definition (lifetime, weight, affinity,
// priority, reset policy) and a bounded list of triggers to notify when it
// finishes.
//
// Trigger: an atomic down-counter. PrepareForWork adds a bias of one so the
// trigger cannot fire while producers are still being registered; Notify,
// Join or ReleaseAndJoin consumes it.
//
// Channel: a reusable trigger whose producers are pooled closures.
//
// System: the worker pool, the queue matrix and the admission barrier. The
// goroutine that calls New is not special. AffinityMainThreadOnly jobs run
// only under the main identity, which one goroutine holds at a time: RunMain
// for as long as it runs, or a helping goroutine for the one job it took.
// AffinityNotMainThread jobs run only on background workers.
//
// # Exclusive Sections
//
// Exclusive stops new admissions, waits for running jobs to finish and runs
// a function with the system quiescent.
package jobsystem
