package prometheus

import (
	"context"
	"testing"
	"time"

	"github.com/Swind/go-job-system/core"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type systemStub struct {
	stats core.SystemStats
}

func (s systemStub) Stats() core.SystemStats { return s.stats }

type channelStub struct {
	stats core.ChannelStats
}

func (s channelStub) Stats() core.ChannelStats { return s.stats }

func TestSnapshotPoller_CollectsSystemAndChannelStats(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	poller.AddSystem("sys-a", systemStub{stats: core.SystemStats{
		Workers:     4,
		State:       core.StateWorking,
		Queued:      5,
		LightQueued: 2,
		Running:     3,
		Blocked:     true,
		Executed:    42,
	}})
	poller.AddChannel("chan-a", channelStub{stats: core.ChannelStats{
		State:     core.ChannelDone,
		InFlight:  2,
		Submitted: 9,
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.Start(ctx)
	defer poller.Stop()

	assertEventually(t, 2*time.Second, func() bool {
		running := testutil.ToFloat64(poller.systemRunning.WithLabelValues("sys-a"))
		inFlight := testutil.ToFloat64(poller.channelInFlight.WithLabelValues("chan-a"))
		return running == 3 && inFlight == 2
	})

	if got := testutil.ToFloat64(poller.systemQueued.WithLabelValues("sys-a", "regular")); got != 3 {
		t.Fatalf("regular queued gauge = %v, want 3", got)
	}
	if got := testutil.ToFloat64(poller.systemQueued.WithLabelValues("sys-a", "light")); got != 2 {
		t.Fatalf("light queued gauge = %v, want 2", got)
	}
	if got := testutil.ToFloat64(poller.systemBlocked.WithLabelValues("sys-a")); got != 1 {
		t.Fatalf("blocked gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(poller.systemState.WithLabelValues("sys-a")); got != float64(core.StateWorking) {
		t.Fatalf("state gauge = %v, want %d", got, core.StateWorking)
	}
	if got := testutil.ToFloat64(poller.channelDone.WithLabelValues("chan-a")); got != 1 {
		t.Fatalf("channel done gauge = %v, want 1", got)
	}
}

func TestSnapshotPoller_LiveSystem(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, time.Hour)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}
	cfg := core.DefaultSystemConfig()
	cfg.Logger = core.NewNoOpLogger()
	sys := core.NewSystem(cfg)
	if err := sys.Init(2); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	defer sys.Shutdown(ctx)

	ch := core.NewChannel(sys, "batch")
	for i := 0; i < 16; i++ {
		if err := ch.Submit(ctx, func(context.Context) {}); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	if err := ch.Join(ctx); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	poller.AddSystem(sys.Name(), sys)
	poller.AddChannel("batch", ch)
	poller.CollectOnce()

	if got := testutil.ToFloat64(poller.systemWorkers.WithLabelValues(sys.Name())); got != 3 {
		t.Fatalf("workers gauge = %v, want 3", got)
	}
	if got := testutil.ToFloat64(poller.systemExecuted.WithLabelValues(sys.Name())); got != 16 {
		t.Fatalf("executed gauge = %v, want 16", got)
	}
	if got := testutil.ToFloat64(poller.channelSubmitted.WithLabelValues("batch")); got != 16 {
		t.Fatalf("submitted gauge = %v, want 16", got)
	}

	poller.RemoveChannel("batch")
	if n := testutil.CollectAndCount(poller.channelSubmitted); n != 0 {
		t.Fatalf("channel series after remove = %d, want 0", n)
	}
}

func TestSnapshotPoller_StartStop_Idempotent(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller.Start(ctx)
	poller.Start(ctx)
	poller.Stop()
	poller.Stop()
}

func assertEventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
