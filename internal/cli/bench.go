package cli

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/Swind/go-job-system/core"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type benchOptions struct {
	producers int
	jobs      int
	work      int
	mode      string
}

// benchResult summarizes one bench run.
type benchResult struct {
	Mode      string
	Producers int
	Jobs      int
	Elapsed   time.Duration
	Helped    uint64
	Checksum  uint64
}

func (r benchResult) JobsPerSecond() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Jobs) / r.Elapsed.Seconds()
}

func buildBenchCommand(flags *globalFlags) *cobra.Command {
	opts := benchOptions{}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure job throughput with concurrent producers",
		Long: `Submit bench.jobs small jobs split across bench.producers goroutines and
report throughput. --mode channel submits pooled closures through one channel
per producer; --mode trigger submits regular jobs counted down by a trigger.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, flags)
			if err != nil {
				return err
			}
			fs := cmd.Flags()
			if fs.Changed("producers") {
				cfg.Bench.Producers = opts.producers
			}
			if fs.Changed("jobs") {
				cfg.Bench.Jobs = opts.jobs
			}
			if fs.Changed("work") {
				cfg.Bench.Work = opts.work
			}
			if err := cfg.validate(); err != nil {
				return err
			}

			env, err := startSystem(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			var res benchResult
			err = env.serve(cmd.Context(), cfg.Metrics.Addr, func(ctx context.Context) error {
				var err error
				res, err = runBench(ctx, env.sys, opts.mode, cfg.Bench.Producers, cfg.Bench.Jobs, cfg.Bench.Work)
				return err
			})
			if err != nil {
				return err
			}
			printBench(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.producers, "producers", 4, "concurrent submitting goroutines")
	cmd.Flags().IntVar(&opts.jobs, "jobs", 100000, "total jobs")
	cmd.Flags().IntVar(&opts.work, "work", 64, "loop iterations per job body")
	cmd.Flags().StringVar(&opts.mode, "mode", "channel", "submission path: channel or trigger")

	return cmd
}

// runBench splits jobs across producers and waits for all of them.
func runBench(ctx context.Context, sys *core.System, mode string, producers, jobs, work int) (benchResult, error) {
	if mode != "channel" && mode != "trigger" {
		return benchResult{}, fmt.Errorf("unknown bench mode %q", mode)
	}
	producers = max(producers, 1)
	var checksum atomic.Uint64
	body := func(context.Context) {
		var acc uint64
		for i := 0; i < work; i++ {
			acc = acc*31 + uint64(i)
		}
		checksum.Add(acc%7 + 1)
	}

	helpedBefore := sys.Stats().Helped
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for p := 0; p < producers; p++ {
		p := p
		n := jobs / producers
		if p < jobs%producers {
			n++
		}
		g.Go(func() error {
			if mode == "channel" {
				return benchChannel(gctx, sys, p, n, body)
			}
			return benchTrigger(gctx, sys, p, n, body)
		})
	}
	if err := g.Wait(); err != nil {
		return benchResult{}, err
	}

	return benchResult{
		Mode:      mode,
		Producers: producers,
		Jobs:      jobs,
		Elapsed:   time.Since(start),
		Helped:    sys.Stats().Helped - helpedBefore,
		Checksum:  checksum.Load(),
	}, nil
}

func benchChannel(ctx context.Context, sys *core.System, producer, n int, body core.JobFunc) error {
	ch := core.NewChannel(sys, fmt.Sprintf("bench-%d", producer))
	for i := 0; i < n; i++ {
		if err := ch.Submit(ctx, body); err != nil {
			return err
		}
	}
	return ch.Join(ctx)
}

func benchTrigger(ctx context.Context, sys *core.System, producer, n int, body core.JobFunc) error {
	done := core.NewTrigger(sys, fmt.Sprintf("bench-%d", producer))
	done.PrepareForWork()
	for i := 0; i < n; i++ {
		job := core.NewFuncJobWithCapacity(fmt.Sprintf("bench-%d-%d", producer, i), 1, body)
		job.SetLifetime(core.LifetimeDeleteAfterRun)
		if err := done.RegisterProducer(job); err != nil {
			return err
		}
		if err := sys.Submit(ctx, job); err != nil {
			return err
		}
	}
	return done.ReleaseAndJoin(ctx)
}

func printBench(w io.Writer, r benchResult) {
	fmt.Fprintf(w, "mode:       %s\n", r.Mode)
	fmt.Fprintf(w, "producers:  %d\n", r.Producers)
	fmt.Fprintf(w, "jobs:       %d\n", r.Jobs)
	fmt.Fprintf(w, "elapsed:    %s\n", r.Elapsed.Round(time.Microsecond))
	fmt.Fprintf(w, "jobs/sec:   %.0f\n", r.JobsPerSecond())
	fmt.Fprintf(w, "helped:     %d\n", r.Helped)
}
