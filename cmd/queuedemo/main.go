// Command queuedemo is a small CLI around the queue package: load
// enqueues a batch of URLs and waits for the batch to drain, watch
// repeats that on a cron schedule, and serve exposes queue metrics
// over HTTP.
//
// Usage:
//
//	queuedemo [--concurrency N] [--mode fifo|lifo] [--json] <command> [flags]
//
// Commands:
//
//	load   Enqueue one batch of URLs and wait for it to drain
//	watch  Re-run load on a cron schedule
//	serve  Expose /metrics and /healthz over HTTP
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/reqqueue/internal/cliutil"
	"github.com/shaiso/reqqueue/internal/telemetry"
	"github.com/shaiso/reqqueue/queue"
)

var version = "dev"

func main() {
	var concurrency int
	var modeFlag string
	var allowDuplicates bool
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "queuedemo",
		Short:         "queuedemo drives the queue package from the command line",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().IntVar(&concurrency, "concurrency", 2, "Maximum concurrent requests")
	rootCmd.PersistentFlags().StringVar(&modeFlag, "mode", "fifo", "Promotion order: fifo or lifo")
	rootCmd.PersistentFlags().BoolVar(&allowDuplicates, "allow-duplicates", false, "Allow duplicate URLs pending at once")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	logger := telemetry.SetupLogger()
	outputFn := func() *cliutil.Output { return cliutil.New(jsonOutput) }
	newQueueFn := func(onDrain func(success bool)) (*queue.Queue, error) {
		mode, err := parseMode(modeFlag)
		if err != nil {
			return nil, err
		}
		return queue.New(queue.Config{
			MaxConcurrent:       concurrency,
			Mode:                mode,
			AllowDuplicates:     allowDuplicates,
			Logger:              logger,
			Name:                "queuedemo",
			AggregateCompletion: onDrain,
		}), nil
	}

	rootCmd.AddCommand(
		newLoadCmd(newQueueFn, outputFn, logger),
		newWatchCmd(newQueueFn, outputFn, logger),
		newServeCmd(logger),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func parseMode(s string) (queue.Mode, error) {
	switch s {
	case "", "fifo":
		return queue.FIFO, nil
	case "lifo":
		return queue.LIFO, nil
	default:
		return queue.FIFO, fmt.Errorf("invalid --mode %q, expected fifo or lifo", s)
	}
}
