// Command mainthread-demo drives a main-thread scheduler with concurrent
// producers and exposes its metrics over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "mainthread-demo",
		Usage: "Exercise the weighted round-robin main-thread scheduler",
		Commands: []*cli.Command{
			RunCommand(),
			ConfigCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
