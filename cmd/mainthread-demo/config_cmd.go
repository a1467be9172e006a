package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/MetaphysicsNecrosis/go-mainthread/config"
)

func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:   "config",
		Usage:  "Print the scheduler configuration resolved from MAINTHREAD_* variables",
		Action: ConfigAction,
	}
}

func ConfigAction(c *cli.Context) error {
	env, err := config.Load()
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	cfg := env.Config()

	w := c.App.Writer
	fmt.Fprintf(w, "weights:            %s\n", cfg.Weights)
	fmt.Fprintf(w, "tick interval:      %v\n", env.TickInterval)
	fmt.Fprintf(w, "max passes/tick:    %d\n", cfg.MaxPassesPerTick)
	fmt.Fprintf(w, "tick budget:        %v\n", cfg.TickBudget)
	fmt.Fprintf(w, "starvation:         ticks=%d age=%v backlog=%d max-forced=%d\n",
		cfg.Starvation.MaxTicksWithoutLow, cfg.Starvation.MaxTaskAge,
		cfg.Starvation.BacklogCeiling, cfg.Starvation.MaxForcedPerTick)
	fmt.Fprintf(w, "health thresholds:  warning>%d critical>%d\n", cfg.HealthWarningThreshold, cfg.HealthCriticalThreshold)
	fmt.Fprintf(w, "slow task:          %v\n", cfg.SlowTaskThreshold)
	fmt.Fprintf(w, "log level:          %s\n", env.LogLevel)
	fmt.Fprintf(w, "metrics addr:       %s\n", env.MetricsAddr)
	return nil
}
