package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Test doubles
// =============================================================================

// TestPanicHandler is a mock panic handler for testing
type TestPanicHandler struct {
	mu    sync.Mutex
	calls []PanicCall
}

type PanicCall struct {
	SystemName string
	WorkerID   int
	PanicInfo  any
	HasStack   bool
}

func NewTestPanicHandler() *TestPanicHandler {
	return &TestPanicHandler{}
}

func (h *TestPanicHandler) HandlePanic(ctx context.Context, systemName string, workerID int, panicInfo any, stackTrace []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, PanicCall{
		SystemName: systemName,
		WorkerID:   workerID,
		PanicInfo:  panicInfo,
		HasStack:   len(stackTrace) > 0,
	})
}

func (h *TestPanicHandler) Calls() []PanicCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]PanicCall(nil), h.calls...)
}

// TestMetrics is a mock metrics collector for testing
type TestMetrics struct {
	mu             sync.Mutex
	durations      int
	panics         int
	queueDepths    []int
	rejections     []string
	triggersFired  map[string]int
	helped         int
	lastPriorities []Priority
}

func NewTestMetrics() *TestMetrics {
	return &TestMetrics{triggersFired: make(map[string]int)}
}

func (m *TestMetrics) RecordJobDuration(systemName string, priority Priority, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations++
	m.lastPriorities = append(m.lastPriorities, priority)
}

func (m *TestMetrics) RecordJobPanic(systemName string, panicInfo any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panics++
}

func (m *TestMetrics) RecordQueueDepth(systemName string, depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueDepths = append(m.queueDepths, depth)
}

func (m *TestMetrics) RecordJobRejected(systemName string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejections = append(m.rejections, reason)
}

func (m *TestMetrics) RecordTriggerFired(triggerName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggersFired[triggerName]++
}

func (m *TestMetrics) RecordJobHelped(systemName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.helped++
}

func (m *TestMetrics) snapshot() (durations, panics, helped int, rejections []string, fired map[string]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fired = make(map[string]int, len(m.triggersFired))
	for k, v := range m.triggersFired {
		fired[k] = v
	}
	return m.durations, m.panics, m.helped, append([]string(nil), m.rejections...), fired
}

// TestRejectedJobHandler is a mock rejected job handler for testing
type TestRejectedJobHandler struct {
	mu    sync.Mutex
	calls []RejectionCall
}

type RejectionCall struct {
	SystemName string
	JobName    string
	Reason     string
}

func NewTestRejectedJobHandler() *TestRejectedJobHandler {
	return &TestRejectedJobHandler{}
}

func (h *TestRejectedJobHandler) HandleRejectedJob(systemName string, jobName string, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, RejectionCall{SystemName: systemName, JobName: jobName, Reason: reason})
}

func (h *TestRejectedJobHandler) Calls() []RejectionCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]RejectionCall(nil), h.calls...)
}

// =============================================================================
// Helpers
// =============================================================================

const defaultWait = 5 * time.Second

// newTestSystem initializes a quiet system with the given number of
// background workers and shuts it down when the test ends.
func newTestSystem(t *testing.T, workers int, configure ...func(*SystemConfig)) *System {
	t.Helper()
	cfg := DefaultSystemConfig()
	cfg.Name = t.Name()
	cfg.Logger = NewNoOpLogger()
	cfg.PanicHandler = NewTestPanicHandler()
	cfg.RejectedJobHandler = NewTestRejectedJobHandler()
	for _, fn := range configure {
		fn(cfg)
	}

	s := NewSystem(cfg)
	if err := s.Init(workers); err != nil {
		t.Fatalf("Init(%d) failed: %v", workers, err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// expectViolation runs fn and returns the ContractViolation it panicked with.
func expectViolation(t *testing.T, fn func()) (cv *ContractViolation) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected a contract violation, got none")
		}
		var ok bool
		if cv, ok = r.(*ContractViolation); !ok {
			t.Fatalf("expected *ContractViolation, got %T: %v", r, r)
		}
	}()
	fn()
	return nil
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %v", timeout)
		}
		time.Sleep(time.Millisecond)
	}
}

// =============================================================================
// Config and handler tests
// =============================================================================

// TestDefaultSystemConfig verifies default sizes and handlers
// Given: DefaultSystemConfig
// When: Its fields are inspected
// Then: Every size and handler is set
func TestDefaultSystemConfig(t *testing.T) {
	cfg := DefaultSystemConfig()

	if cfg.Name != "jobsystem" {
		t.Errorf("Name = %q, want jobsystem", cfg.Name)
	}
	if cfg.QueueCapacity != DefaultQueueCapacity {
		t.Errorf("QueueCapacity = %d, want %d", cfg.QueueCapacity, DefaultQueueCapacity)
	}
	if cfg.LightJobsPerWorker != DefaultLightJobsPerWorker {
		t.Errorf("LightJobsPerWorker = %d, want %d", cfg.LightJobsPerWorker, DefaultLightJobsPerWorker)
	}
	if cfg.Logger == nil || cfg.Metrics == nil || cfg.PanicHandler == nil || cfg.RejectedJobHandler == nil {
		t.Error("default config must set every handler")
	}
}

// TestSystemConfig_WithDefaults verifies partial configs are completed
// Given: A config with only a name and a queue capacity
// When: NewSystem is built from it
// Then: Missing fields take their defaults and set fields are kept
func TestSystemConfig_WithDefaults(t *testing.T) {
	s := NewSystem(&SystemConfig{Name: "partial", QueueCapacity: 16})

	if s.Name() != "partial" {
		t.Errorf("Name = %q, want partial", s.Name())
	}
	if s.config.QueueCapacity != 16 {
		t.Errorf("QueueCapacity = %d, want 16", s.config.QueueCapacity)
	}
	if s.config.LightJobsPerWorker != DefaultLightJobsPerWorker {
		t.Errorf("LightJobsPerWorker = %d, want default", s.config.LightJobsPerWorker)
	}
	if s.GetLogger() == nil || s.GetMetrics() == nil || s.GetPanicHandler() == nil {
		t.Error("handlers must default when unset")
	}

	nilCfg := NewSystem(nil)
	if nilCfg.Name() != "jobsystem" {
		t.Errorf("nil config name = %q, want jobsystem", nilCfg.Name())
	}
}

// TestDefaultPanicHandler verifies the default handler does not crash
func TestDefaultPanicHandler(t *testing.T) {
	handler := &DefaultPanicHandler{}
	handler.HandlePanic(context.Background(), "test-system", 3, "test panic", []byte("stack trace"))
}

// TestDefaultRejectedJobHandler verifies the default handler does not crash
func TestDefaultRejectedJobHandler(t *testing.T) {
	handler := &DefaultRejectedJobHandler{}
	handler.HandleRejectedJob("test-system", "job", "exiting")
}

// TestNilMetrics verifies NilMetrics accepts every call
func TestNilMetrics(t *testing.T) {
	var m Metrics = &NilMetrics{}
	m.RecordJobDuration("s", PriorityNormal, time.Millisecond)
	m.RecordJobPanic("s", "boom")
	m.RecordQueueDepth("s", 1)
	m.RecordJobRejected("s", "exiting")
	m.RecordTriggerFired("t")
	m.RecordJobHelped("s")
}

// TestSystem_MetricsRecorded verifies the system reports to its Metrics
// Given: A system with a test metrics collector and no background workers
// When: Three jobs run through a joined trigger and one of them panics
// Then: Durations, the panic, the trigger fire and helped runs are recorded
func TestSystem_MetricsRecorded(t *testing.T) {
	metrics := NewTestMetrics()
	s := newTestSystem(t, 0, func(c *SystemConfig) { c.Metrics = metrics })
	ctx := testContext(t)

	done := NewTrigger(s, "metrics-done")
	for i := 0; i < 3; i++ {
		i := i
		job := NewFuncJob("metrics-job", func(ctx context.Context) {
			if i == 1 {
				panic("boom")
			}
		})
		if err := done.RegisterProducer(job); err != nil {
			t.Fatalf("RegisterProducer: %v", err)
		}
		if err := s.Submit(ctx, job); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	if err := done.Join(ctx); err != nil {
		t.Fatalf("Join: %v", err)
	}

	durations, panics, helped, _, fired := metrics.snapshot()
	if durations != 3 {
		t.Errorf("durations recorded = %d, want 3", durations)
	}
	if panics != 1 {
		t.Errorf("panics recorded = %d, want 1", panics)
	}
	if helped != 3 {
		t.Errorf("helped runs recorded = %d, want 3", helped)
	}
	if fired["metrics-done"] != 1 {
		t.Errorf("trigger fires recorded = %d, want 1", fired["metrics-done"])
	}
}

// TestSystem_RejectedJobHandler verifies rejected submissions are reported
// Given: A system that was never initialized, and one that has shut down
// When: A job is submitted to each
// Then: Submit returns the matching error and the handler and metrics see it
func TestSystem_RejectedJobHandler(t *testing.T) {
	handler := NewTestRejectedJobHandler()
	metrics := NewTestMetrics()
	s := NewSystem(&SystemConfig{
		Name:               "rejecting",
		Logger:             NewNoOpLogger(),
		Metrics:            metrics,
		RejectedJobHandler: handler,
	})
	ctx := context.Background()

	if err := s.Submit(ctx, NewFuncJob("early", func(context.Context) {})); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Submit before Init = %v, want ErrNotInitialized", err)
	}

	if err := s.Init(0); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := s.Submit(ctx, NewFuncJob("late", func(context.Context) {})); !errors.Is(err, ErrSystemExiting) {
		t.Fatalf("Submit after Shutdown = %v, want ErrSystemExiting", err)
	}

	calls := handler.Calls()
	if len(calls) != 2 {
		t.Fatalf("rejections = %d, want 2", len(calls))
	}
	if calls[0].JobName != "early" || calls[1].JobName != "late" {
		t.Errorf("rejected jobs = %q, %q; want early, late", calls[0].JobName, calls[1].JobName)
	}
	if _, _, _, rejections, _ := metrics.snapshot(); len(rejections) != 2 {
		t.Errorf("rejections in metrics = %d, want 2", len(rejections))
	}
	if got := s.Stats().Rejected; got != 2 {
		t.Errorf("Stats().Rejected = %d, want 2", got)
	}
}
