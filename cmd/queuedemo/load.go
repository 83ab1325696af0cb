package main

import (
	"bufio"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/shaiso/reqqueue/internal/cliutil"
	"github.com/shaiso/reqqueue/queue"
)

// loadResult is one Operation's outcome, for load and watch to print.
type loadResult struct {
	URL        string
	StatusCode int
	Bytes      int
	Err        string
}

func newLoadCmd(newQueueFn func(onDrain func(success bool)) (*queue.Queue, error), outputFn func() *cliutil.Output, logger *slog.Logger) *cobra.Command {
	var method string
	var file string

	cmd := &cobra.Command{
		Use:   "load [URL...]",
		Short: "Enqueue one batch of URLs and wait for it to drain",
		RunE: func(cmd *cobra.Command, args []string) error {
			urls, err := collectURLs(args, file)
			if err != nil {
				return err
			}
			if len(urls) == 0 {
				return errNoURLs
			}

			results, success, err := runBatch(newQueueFn, logger, method, urls)
			if err != nil {
				return err
			}

			out := outputFn()
			headers := []string{"URL", "STATUS", "BYTES", "ERROR"}
			rows := make([][]string, len(results))
			for i, r := range results {
				rows[i] = []string{r.URL, strconv.Itoa(r.StatusCode), strconv.Itoa(r.Bytes), r.Err}
			}
			out.Print(headers, rows, results)
			if success {
				out.Success("batch succeeded")
			} else {
				out.Error("batch finished with failures")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&method, "method", "GET", "HTTP method for every enqueued request")
	cmd.Flags().StringVar(&file, "file", "", "Read URLs from a file, one per line, instead of (or in addition to) arguments")
	return cmd
}

// errNoURLs is returned when neither positional arguments nor --file
// supplied any URL to enqueue.
var errNoURLs = errors.New("queuedemo: no URLs given (pass arguments or --file)")

// collectURLs merges positional URL arguments with the contents of a
// --file list (one URL per line, blank lines and "#" comments skipped).
func collectURLs(args []string, file string) ([]string, error) {
	urls := append([]string{}, args...)
	if file == "" {
		return urls, nil
	}

	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return urls, nil
}

// runBatch builds a fresh Queue via newQueueFn, enqueues the given URLs
// onto it, waits for the batch to drain, and closes it. Used by the
// one-shot load command, which has no reason to keep a Queue alive
// past a single batch.
func runBatch(newQueueFn func(onDrain func(success bool)) (*queue.Queue, error), logger *slog.Logger, method string, urls []string) ([]loadResult, bool, error) {
	drained := make(chan bool, 1)
	q, err := newQueueFn(func(success bool) { drained <- success })
	if err != nil {
		return nil, false, err
	}
	defer q.Close()

	return enqueueAndWait(q, drained, logger, method, urls)
}

// enqueueAndWait enqueues one Operation per URL onto an existing Queue
// and blocks until drained receives the batch's aggregate completion,
// i.e. until pending drains back to empty. It returns per-URL results
// in enqueue order along with the batch's overall success flag. The
// caller owns q's lifetime and must arrange for drained to receive
// exactly once per call (see watch's per-tick channel swap).
func enqueueAndWait(q *queue.Queue, drained chan bool, logger *slog.Logger, method string, urls []string) ([]loadResult, bool, error) {
	var mu sync.Mutex
	entries := make([]*loadResult, 0, len(urls))
	enqueued := 0

	for _, u := range urls {
		u := u
		r := &loadResult{URL: u}
		mu.Lock()
		entries = append(entries, r)
		mu.Unlock()

		op := queue.NewOperation(queue.Request{Method: method, URL: u}, queue.OperationConfig{
			Logger: logger,
			Completion: func(resp *http.Response, body []byte, err error) {
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					r.Err = err.Error()
					return
				}
				r.StatusCode = resp.StatusCode
				r.Bytes = len(body)
			},
		})
		if err := q.Enqueue(op); err != nil {
			mu.Lock()
			r.Err = err.Error()
			mu.Unlock()
		} else {
			enqueued++
		}
	}

	success := true
	if enqueued > 0 {
		success = <-drained
	}

	mu.Lock()
	defer mu.Unlock()
	results := make([]loadResult, len(entries))
	for i, r := range entries {
		results[i] = *r
	}
	return results, success, nil
}
