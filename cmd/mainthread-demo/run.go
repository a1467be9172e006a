package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	mainthread "github.com/MetaphysicsNecrosis/go-mainthread"
	"github.com/MetaphysicsNecrosis/go-mainthread/config"
	"github.com/MetaphysicsNecrosis/go-mainthread/core"
	"github.com/MetaphysicsNecrosis/go-mainthread/dispatch"
	obs "github.com/MetaphysicsNecrosis/go-mainthread/observability/prometheus"
	"github.com/MetaphysicsNecrosis/go-mainthread/observability/tracing"
)

func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run producers against a main thread and report what it executed",

		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "duration",
				Aliases: []string{"d"},
				Value:   5 * time.Second,
				Usage:   "How long producers keep submitting",
			},
			&cli.IntFlag{
				Name:    "producers",
				Aliases: []string{"p"},
				Value:   4,
				Usage:   "Number of producer goroutines",
			},
			&cli.IntFlag{
				Name:  "rate",
				Value: 200,
				Usage: "Tasks per second per producer",
			},
			&cli.DurationFlag{
				Name:  "task-cost",
				Value: 50 * time.Microsecond,
				Usage: "Simulated work per task",
			},
			&cli.DurationFlag{
				Name:  "drain-timeout",
				Value: 2 * time.Second,
				Usage: "How long to keep ticking after producers stop",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve /metrics on this address (overrides MAINTHREAD_METRICS_ADDR; empty disables)",
			},
			&cli.StringFlag{
				Name:    "otel-endpoint",
				EnvVars: []string{"MAINTHREAD_OTEL_ENDPOINT"},
				Usage:   "OTLP/HTTP endpoint for tick spans",
			},
		},

		Action: RunAction,
	}
}

func RunAction(c *cli.Context) error {
	// 1. Resolve configuration
	env, err := config.Load()
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	if c.IsSet("metrics-addr") {
		env.MetricsAddr = c.String("metrics-addr")
	}
	if c.Int("producers") < 1 || c.Int("rate") < 1 {
		return cli.Exit("producers and rate must be positive", 1)
	}
	cfg := env.Config()

	// 2. Wire observability
	reg := prom.NewRegistry()
	exporter, err := obs.NewMetricsExporter("mainthread", reg, obs.ExporterOptions{})
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	cfg.Metrics = exporter

	shutdownTracing, err := tracing.Setup(c.Context, "mainthread-demo", c.String("otel-endpoint"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()
	cfg.TickObserver = tracing.NewTickTracer()

	// 3. Start the main thread
	mt := mainthread.New(mainthread.Options{Config: cfg, TickInterval: env.TickInterval})
	mt.Start(context.Background())

	poller, err := obs.NewSnapshotPoller(reg, time.Second)
	if err != nil {
		mt.Stop()
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	poller.AddScheduler("main", mt.Scheduler())
	poller.AddDelayed("main", mt.Dispatcher())

	heartbeat, err := mt.Dispatcher().ScheduleRepeating("Demo_Heartbeat", mainthread.PriorityLow, 0, time.Second,
		func(ctx context.Context) {
			s := mainthread.GetCurrentScheduler(ctx)
			s.Logger().Info("heartbeat", core.F("health", s.Health().String()), core.F("pending", s.Stats().TotalPending))
		})
	if err != nil {
		mt.Stop()
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}

	// 4. Produce until the duration elapses or the process is interrupted
	ctx, cancel := context.WithTimeout(c.Context, c.Duration("duration"))
	defer cancel()
	poller.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	if env.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: env.MetricsAddr, Handler: mux}

		g.Go(func() error {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), time.Second)
			defer scancel()
			return server.Shutdown(sctx)
		})
		fmt.Fprintf(c.App.Writer, "Prometheus endpoint is up at http://%s/metrics\n", env.MetricsAddr)
	}

	p := producer{mt: mt, cost: c.Duration("task-cost")}
	interval := time.Second / time.Duration(c.Int("rate"))
	for i := range c.Int("producers") {
		g.Go(func() error {
			return p.run(gctx, i, interval)
		})
	}

	groupErr := g.Wait()

	// 5. Drain and report
	heartbeat.Stop()
	poller.Stop()
	drainErr := mt.StopGraceful(c.Duration("drain-timeout"))

	printSummary(c, mt.Stats(), mt.Scheduler().AllModuleStats())
	printHealth(c, mt.SystemHealth(), mt.Scheduler().ProblematicModules())

	if groupErr != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", groupErr), 1)
	}
	if drainErr != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", drainErr), 1)
	}
	return nil
}

type producer struct {
	mt   *mainthread.MainThread
	cost time.Duration
}

// run submits a mix of task kinds until ctx is done.
func (p producer) run(ctx context.Context, id int, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d := p.mt.Dispatcher()
	module := fmt.Sprintf("Producer%d", id)

	for n := 0; ; n++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		switch {
		case n%10 == 0:
			// Background work that may wait behind the other classes
			for range 5 {
				d.ExecuteLowPriority(module+"_Background", p.work)
			}
		case n%7 == 0:
			dispatch.ExecuteWithTimeout(d, module+"_Query", mainthread.PriorityNormal, 50*time.Millisecond,
				func(ctx context.Context) (int, error) {
					p.work(ctx)
					return n, nil
				})
		case n%5 == 0:
			dispatch.ExecuteWithRetry(d, module+"_Flaky", mainthread.PriorityNormal, dispatch.RetryPolicy{
				MaxRetries:   2,
				InitialDelay: 5 * time.Millisecond,
				MaxDelay:     20 * time.Millisecond,
				BackoffRatio: 2,
			}, func(ctx context.Context) (struct{}, error) {
				p.work(ctx)
				if rand.IntN(3) == 0 {
					return struct{}{}, errors.New("transient failure")
				}
				return struct{}{}, nil
			})
		case n%3 == 0:
			d.ExecuteHighPriority(module+"_Input", p.work)
		default:
			d.Execute(module+"_Update", p.work)
		}
	}
}

func (p producer) work(ctx context.Context) {
	if p.cost > 0 {
		time.Sleep(p.cost)
	}
}

func printSummary(c *cli.Context, s core.Stats, modules []core.ModuleStats) {
	w := c.App.Writer
	fmt.Fprintf(w, "\nweights %s, %d ticks, health %s\n", s.Weights, s.Ticks, s.Health)
	fmt.Fprintf(w, "processed %d, failed %d, forced low %d, rejected %d, discarded %d\n",
		s.TotalProcessed, s.TotalFailed, s.TotalForcedLow, s.TotalRejected, s.TotalDiscarded)
	for _, ps := range s.PerPriority {
		fmt.Fprintf(w, "  %-6s processed %-7d avg exec %-10v avg wait %-10v max wait %v\n",
			ps.Priority, ps.Processed, ps.AvgExec(), ps.AvgWait(), ps.MaxWait)
	}
	for _, m := range modules {
		fmt.Fprintf(w, "  module %-10s submitted %-6d completed %-6d failed %d\n",
			m.Module, m.Submitted, m.Completed, m.Failed)
	}
}

func printHealth(c *cli.Context, h core.SystemHealthReport, problems []core.ProblemModule) {
	w := c.App.Writer
	fmt.Fprintf(w, "system health %s (backlog %s, execution %s), failure rate %.2f%%, avg exec %v, %.1f tasks/s over %v\n",
		h.Status, h.Backlog, h.Execution, h.FailureRate*100, h.AvgExec, h.Throughput, h.Uptime.Round(time.Millisecond))
	for _, p := range problems {
		fmt.Fprintf(w, "  problem module %-10s %s (failure rate %.1f%%, avg exec %v, recent failures %d)\n",
			p.Stats.Module, p.Issues, p.Stats.FailureRate()*100, p.Stats.AvgExec(), p.RecentFailures)
	}
}
