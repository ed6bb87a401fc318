package jobsystem_test

import (
	"context"
	"errors"
	"testing"
	"time"

	jobsystem "github.com/Swind/go-job-system"
	"github.com/Swind/go-job-system/core"
)

// TestNew_Options verifies options reach the system
// Given: New with a name, two workers and a small queue
// When: The system is inspected
// Then: It is working with three participants and the given name
func TestNew_Options(t *testing.T) {
	// Arrange & Act
	sys, err := jobsystem.New(
		jobsystem.WithName("opts"),
		jobsystem.WithWorkers(2),
		jobsystem.WithQueueCapacity(8),
		jobsystem.WithLightJobsPerWorker(4),
		jobsystem.WithLogger(core.NewNoOpLogger()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sys.Shutdown(context.Background())

	// Assert
	if sys.Name() != "opts" {
		t.Errorf("Name = %q, want opts", sys.Name())
	}
	if sys.WorkerCount() != 3 {
		t.Errorf("WorkerCount = %d, want 3", sys.WorkerCount())
	}
	if sys.State() != core.StateWorking {
		t.Errorf("State = %v, want working", sys.State())
	}
}

// TestRun_ShutsDown verifies Run drains and stops the system
func TestRun_ShutsDown(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var captured *jobsystem.System
	ran := make(chan struct{}, 1)

	err := jobsystem.Run(ctx, func(ctx context.Context, sys *jobsystem.System) error {
		captured = sys
		// Left queued on purpose; Run's shutdown must drain it.
		return sys.Submit(ctx, jobsystem.NewFuncJob("tail", func(context.Context) { ran <- struct{}{} }))
	}, jobsystem.WithWorkers(0), jobsystem.WithLogger(core.NewNoOpLogger()))

	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	select {
	case <-ran:
	default:
		t.Fatal("queued job did not run before Run returned")
	}
	if captured.State() != core.StateExiting {
		t.Errorf("State = %v, want exiting", captured.State())
	}
}

// TestRun_PropagatesError verifies fn's error is returned
func TestRun_PropagatesError(t *testing.T) {
	boom := errors.New("boom")

	err := jobsystem.Run(context.Background(), func(context.Context, *jobsystem.System) error {
		return boom
	}, jobsystem.WithWorkers(1), jobsystem.WithLogger(core.NewNoOpLogger()))

	if !errors.Is(err, boom) {
		t.Fatalf("Run = %v, want boom", err)
	}
}
