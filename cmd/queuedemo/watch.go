package main

import (
	"log/slog"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/shaiso/reqqueue/internal/cliutil"
	"github.com/shaiso/reqqueue/queue"
)

// cronParser mirrors the standard five-field cron expression, with no
// seconds field.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func newWatchCmd(newQueueFn func(onDrain func(success bool)) (*queue.Queue, error), outputFn func() *cliutil.Output, logger *slog.Logger) *cobra.Command {
	var method string
	var expr string
	var every time.Duration

	cmd := &cobra.Command{
		Use:   "watch URL...",
		Short: "Re-run load on a schedule until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// One Queue lives for the whole watch run; each tick clears
			// its success flag rather than rebuilding the Queue, so
			// the promotion order stays continuous across ticks the
			// way a long-lived table view would.
			var drainMu sync.Mutex
			var currentDrain chan bool
			q, err := newQueueFn(func(success bool) {
				drainMu.Lock()
				ch := currentDrain
				drainMu.Unlock()
				if ch != nil {
					ch <- success
				}
			})
			if err != nil {
				return err
			}
			defer q.Close()

			tick := func() {
				drainMu.Lock()
				ch := make(chan bool, 1)
				currentDrain = ch
				drainMu.Unlock()

				q.ClearSuccessFlag()
				logger.Info("watch tick starting", "urls", len(args))
				results, success, err := enqueueAndWait(q, ch, logger, method, args)
				if err != nil {
					logger.Error("watch tick failed", "error", err)
					return
				}
				out := outputFn()
				headers := []string{"URL", "STATUS", "BYTES", "ERROR"}
				rows := make([][]string, len(results))
				for i, r := range results {
					rows[i] = []string{r.URL, strconv.Itoa(r.StatusCode), strconv.Itoa(r.Bytes), r.Err}
				}
				out.Print(headers, rows, results)
				logger.Info("watch tick done", "success", success)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if every > 0 {
				ticker := time.NewTicker(every)
				defer ticker.Stop()
				for {
					select {
					case <-ticker.C:
						tick()
					case <-ctx.Done():
						return nil
					}
				}
			}

			if _, err := cronParser.Parse(expr); err != nil {
				return err
			}
			c := cron.New()
			if _, err := c.AddFunc(expr, tick); err != nil {
				return err
			}
			c.Start()
			defer c.Stop()

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&method, "method", "GET", "HTTP method for every enqueued request")
	cmd.Flags().StringVar(&expr, "cron", "*/5 * * * *", "Five-field cron expression for the repeat interval")
	cmd.Flags().DurationVar(&every, "every", 0, "Fixed repeat interval, e.g. 30s; overrides --cron when set")
	return cmd
}
