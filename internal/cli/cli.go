// Package cli implements the jobsys command line.
//
// Command structure:
//
//	jobsys
//	├── run       drive a frame workload until interrupted or --frames is reached
//	├── bench     measure closure throughput with concurrent producers
//	└── config    print the effective configuration as YAML
//
// Every command reads configs/default.yaml (or --config) and applies the
// --workers, --log-level and --metrics-addr overrides on top.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Swind/go-job-system/core"
	jsprom "github.com/Swind/go-job-system/observability/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type globalFlags struct {
	configFile  string
	workers     int
	logLevel    string
	metricsAddr string
}

// BuildCLI returns the root command.
func BuildCLI() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "jobsys",
		Short: "jobsys: a fork-join job system with triggers and channels",
		Long: `jobsys runs and benchmarks a job scheduler built from:
- bounded lock-free queues per affinity and priority
- count-down triggers releasing dependent jobs
- channels for bursts of closures with backpressure
- an admission barrier for exclusive sections`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configFile, "config", "c", defaultConfigPath, "config file path")
	pf.IntVar(&flags.workers, "workers", -1, "background workers (negative: GOMAXPROCS-1)")
	pf.StringVar(&flags.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.StringVar(&flags.metricsAddr, "metrics-addr", "", "serve /metrics on this address")

	rootCmd.AddCommand(buildRunCommand(flags))
	rootCmd.AddCommand(buildBenchCommand(flags))
	rootCmd.AddCommand(buildConfigCommand(flags))

	return rootCmd
}

// resolveConfig loads the config file and applies flags the user set.
func resolveConfig(cmd *cobra.Command, flags *globalFlags) (*Config, error) {
	cfg, err := loadConfig(flags.configFile)
	if err != nil {
		return nil, err
	}
	fs := cmd.Flags()
	if fs.Changed("workers") {
		cfg.System.Workers = flags.workers
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = flags.logLevel
		if _, err := parseLevel(cfg.Log.Level); err != nil {
			return nil, err
		}
	}
	if fs.Changed("metrics-addr") {
		cfg.Metrics.Addr = flags.metricsAddr
		cfg.Metrics.Enabled = flags.metricsAddr != ""
	}
	return cfg, nil
}

func newSlog(w io.Writer, level string) *slog.Logger {
	lvl, err := parseLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// runtimeEnv is a started system plus its optional metrics plumbing.
type runtimeEnv struct {
	sys      *core.System
	log      *slog.Logger
	registry *prometheus.Registry
	poller   *jsprom.SnapshotPoller
}

func startSystem(cfg *Config, logOut io.Writer) (*runtimeEnv, error) {
	env := &runtimeEnv{log: newSlog(logOut, cfg.Log.Level)}

	var metrics core.Metrics
	if cfg.Metrics.Enabled {
		env.registry = prometheus.NewRegistry()
		env.registry.MustRegister(collectors.NewGoCollector())
		exporter, err := jsprom.NewMetricsExporter("jobsystem", env.registry, jsprom.ExporterOptions{})
		if err != nil {
			return nil, fmt.Errorf("metrics exporter: %w", err)
		}
		metrics = exporter
		env.poller, err = jsprom.NewSnapshotPoller(env.registry, time.Second)
		if err != nil {
			return nil, fmt.Errorf("snapshot poller: %w", err)
		}
	}

	env.sys = core.NewSystem(cfg.systemConfig(core.NewSlogLogger(env.log), metrics))
	if err := env.sys.Init(cfg.System.Workers); err != nil {
		return nil, fmt.Errorf("init system: %w", err)
	}
	if env.poller != nil {
		env.poller.AddSystem(env.sys.Name(), env.sys)
	}
	return env, nil
}

// serve runs fn next to the metrics endpoint, if enabled, and shuts the
// system down afterwards. fn's context is cancelled when the server fails.
func (env *runtimeEnv) serve(ctx context.Context, addr string, fn func(ctx context.Context) error) error {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	if env.registry != nil {
		srv := &http.Server{
			Addr:              addr,
			Handler:           metricsMux(env.registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		env.poller.Start(gctx)
		g.Go(func() error {
			env.log.Info("metrics server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer stop()
		return fn(gctx)
	})

	err := g.Wait()
	if env.poller != nil {
		env.poller.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return errors.Join(err, env.sys.Shutdown(shutdownCtx))
}

func metricsMux(reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}
