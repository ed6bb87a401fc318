package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-job-system/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// SystemSnapshotProvider provides current system stats snapshots.
type SystemSnapshotProvider interface {
	Stats() core.SystemStats
}

// ChannelSnapshotProvider provides current channel stats snapshots.
type ChannelSnapshotProvider interface {
	Stats() core.ChannelStats
}

// SnapshotPoller periodically exports system/channel Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	systemsMu sync.RWMutex
	systems   map[string]SystemSnapshotProvider

	channelsMu sync.RWMutex
	channels   map[string]ChannelSnapshotProvider

	systemQueued   *prom.GaugeVec
	systemRunning  *prom.GaugeVec
	systemWorkers  *prom.GaugeVec
	systemExecuted *prom.GaugeVec
	systemBlocked  *prom.GaugeVec
	systemState    *prom.GaugeVec

	channelInFlight  *prom.GaugeVec
	channelSubmitted *prom.GaugeVec
	channelDone      *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	systemQueued := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "jobsystem",
		Name:      "system_queued",
		Help:      "Jobs waiting in queues, including light queues.",
	}, []string{"system", "kind"})
	systemRunning := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "jobsystem",
		Name:      "system_running",
		Help:      "Jobs admitted by the barrier and not yet finished.",
	}, []string{"system"})
	systemWorkers := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "jobsystem",
		Name:      "system_workers",
		Help:      "Worker count including the main participant.",
	}, []string{"system"})
	systemExecuted := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "jobsystem",
		Name:      "system_executed_total",
		Help:      "Executed job count snapshot.",
	}, []string{"system"})
	systemBlocked := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "jobsystem",
		Name:      "system_blocked",
		Help:      "Exclusive lock state (1=held, 0=free).",
	}, []string{"system"})
	systemState := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "jobsystem",
		Name:      "system_state",
		Help:      "Lifecycle state (0=uninitialized, 1=working, 2=exiting).",
	}, []string{"system"})

	channelInFlight := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "jobsystem",
		Name:      "channel_in_flight",
		Help:      "Closures submitted through a channel and not yet finished.",
	}, []string{"channel"})
	channelSubmitted := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "jobsystem",
		Name:      "channel_submitted_total",
		Help:      "Closures submitted through a channel.",
	}, []string{"channel"})
	channelDone := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "jobsystem",
		Name:      "channel_done",
		Help:      "Channel batch state (1=done, 0=pending).",
	}, []string{"channel"})

	var err error
	if systemQueued, err = registerCollector(reg, systemQueued); err != nil {
		return nil, err
	}
	if systemRunning, err = registerCollector(reg, systemRunning); err != nil {
		return nil, err
	}
	if systemWorkers, err = registerCollector(reg, systemWorkers); err != nil {
		return nil, err
	}
	if systemExecuted, err = registerCollector(reg, systemExecuted); err != nil {
		return nil, err
	}
	if systemBlocked, err = registerCollector(reg, systemBlocked); err != nil {
		return nil, err
	}
	if systemState, err = registerCollector(reg, systemState); err != nil {
		return nil, err
	}
	if channelInFlight, err = registerCollector(reg, channelInFlight); err != nil {
		return nil, err
	}
	if channelSubmitted, err = registerCollector(reg, channelSubmitted); err != nil {
		return nil, err
	}
	if channelDone, err = registerCollector(reg, channelDone); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:         interval,
		systems:          make(map[string]SystemSnapshotProvider),
		channels:         make(map[string]ChannelSnapshotProvider),
		systemQueued:     systemQueued,
		systemRunning:    systemRunning,
		systemWorkers:    systemWorkers,
		systemExecuted:   systemExecuted,
		systemBlocked:    systemBlocked,
		systemState:      systemState,
		channelInFlight:  channelInFlight,
		channelSubmitted: channelSubmitted,
		channelDone:      channelDone,
	}, nil
}

// AddSystem adds or replaces a system snapshot provider by name.
func (p *SnapshotPoller) AddSystem(name string, provider SystemSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "system")
	p.systemsMu.Lock()
	p.systems[name] = provider
	p.systemsMu.Unlock()
}

// AddChannel adds or replaces a channel snapshot provider by name.
func (p *SnapshotPoller) AddChannel(name string, provider ChannelSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "channel")
	p.channelsMu.Lock()
	p.channels[name] = provider
	p.channelsMu.Unlock()
}

// RemoveChannel stops exporting a channel and drops its series.
func (p *SnapshotPoller) RemoveChannel(name string) {
	if p == nil {
		return
	}
	name = normalizeLabel(name, "channel")
	p.channelsMu.Lock()
	delete(p.channels, name)
	p.channelsMu.Unlock()

	p.channelInFlight.DeleteLabelValues(name)
	p.channelSubmitted.DeleteLabelValues(name)
	p.channelDone.DeleteLabelValues(name)
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx, p.done)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.CollectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.CollectOnce()
		}
	}
}

// CollectOnce copies every registered snapshot into the gauges.
func (p *SnapshotPoller) CollectOnce() {
	p.systemsMu.RLock()
	for name, provider := range p.systems {
		stats := provider.Stats()
		p.systemQueued.WithLabelValues(name, "regular").Set(float64(max(stats.Queued-stats.LightQueued, 0)))
		p.systemQueued.WithLabelValues(name, "light").Set(float64(stats.LightQueued))
		p.systemRunning.WithLabelValues(name).Set(float64(stats.Running))
		p.systemWorkers.WithLabelValues(name).Set(float64(stats.Workers))
		p.systemExecuted.WithLabelValues(name).Set(float64(stats.Executed))
		p.systemBlocked.WithLabelValues(name).Set(boolGauge(stats.Blocked))
		p.systemState.WithLabelValues(name).Set(float64(stats.State))
	}
	p.systemsMu.RUnlock()

	p.channelsMu.RLock()
	for name, provider := range p.channels {
		stats := provider.Stats()
		p.channelInFlight.WithLabelValues(name).Set(float64(stats.InFlight))
		p.channelSubmitted.WithLabelValues(name).Set(float64(stats.Submitted))
		p.channelDone.WithLabelValues(name).Set(boolGauge(stats.State == core.ChannelDone))
	}
	p.channelsMu.RUnlock()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
