package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/Swind/go-job-system/core"
	"github.com/spf13/cobra"
)

type runOptions struct {
	frames    int
	interval  time.Duration
	particles int
}

func buildRunCommand(flags *globalFlags) *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the job system and drive a frame workload",
		Long: `Start the job system and run one frame per interval. Each frame
integrates particles with a parallel-for over a channel and runs the update
jobs behind a reusable trigger. Stops on SIGINT/SIGTERM or after --frames.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, flags)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runFrames(ctx, cfg, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().IntVar(&opts.frames, "frames", 0, "stop after this many frames (0: until interrupted)")
	cmd.Flags().DurationVar(&opts.interval, "interval", 16*time.Millisecond, "time between frame starts")
	cmd.Flags().IntVar(&opts.particles, "particles", 4096, "particles integrated per frame")

	return cmd
}

func runFrames(ctx context.Context, cfg *Config, opts runOptions, out, logOut io.Writer) error {
	env, err := startSystem(cfg, logOut)
	if err != nil {
		return err
	}

	var frames int
	err = env.serve(ctx, cfg.Metrics.Addr, func(ctx context.Context) error {
		graph, err := newFrameGraph(env.sys, opts.particles)
		if err != nil {
			return err
		}
		if env.poller != nil {
			env.poller.AddChannel("integrate", graph.integrate)
		}

		ticker := time.NewTicker(max(opts.interval, time.Millisecond))
		defer ticker.Stop()
		for opts.frames <= 0 || frames < opts.frames {
			if err := graph.step(ctx, opts.interval.Seconds()); err != nil {
				return err
			}
			frames++
			if frames%60 == 0 {
				st := env.sys.Stats()
				env.log.Info("frame stats", "frame", frames, "executed", st.Executed, "helped", st.Helped)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	st := env.sys.Stats()
	fmt.Fprintf(out, "frames: %d\nexecuted: %d\nhelped: %d\nexceptions: %v\n",
		frames, st.Executed, st.Helped, st.ExceptionRaised)
	return nil
}

// frameGraph is the workload behind `run`. Its jobs and trigger are built
// once and resubmitted every frame.
type frameGraph struct {
	sys       *core.System
	updates   []*core.FuncJob
	frameDone *core.Trigger
	integrate *core.Channel
	positions []float64
	velocity  float64
	ticks     [2]int
}

func newFrameGraph(sys *core.System, particles int) (*frameGraph, error) {
	g := &frameGraph{
		sys:       sys,
		frameDone: core.NewTrigger(sys, "frame-done"),
		integrate: core.NewChannel(sys, "integrate"),
		positions: make([]float64, particles),
		velocity:  1,
	}
	g.frameDone.SetResetPolicy(core.ResetKeepCountOnFire)
	g.frameDone.PrepareForWork()

	names := []string{"input", "ai"}
	for i, name := range names {
		i := i
		job := core.NewFuncJob(name, func(context.Context) { g.ticks[i]++ })
		job.SetResetPolicy(core.ResetKeepCountOnFire)
		if name == "input" {
			job.SetAffinity(core.AffinityMainThreadOnly)
		}
		if err := g.frameDone.RegisterProducer(job); err != nil {
			return nil, fmt.Errorf("wire %s: %w", name, err)
		}
		g.updates = append(g.updates, job)
	}
	return g, nil
}

func (g *frameGraph) step(ctx context.Context, dt float64) error {
	v := g.velocity
	err := core.ForEachChunked(ctx, g.integrate, g.positions, 4, 256, func(_ context.Context, chunk []float64) {
		for i := range chunk {
			chunk[i] += v * dt
		}
	})
	if err != nil {
		return fmt.Errorf("integrate: %w", err)
	}

	for _, job := range g.updates {
		if err := g.sys.Submit(ctx, job); err != nil {
			return fmt.Errorf("submit %s: %w", job.Name(), err)
		}
	}
	if err := g.frameDone.ReleaseAndJoin(ctx); err != nil {
		return err
	}
	return g.integrate.Join(ctx)
}
