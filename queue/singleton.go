package queue

import "sync"

var (
	defaultOnce  sync.Once
	defaultQueue *Queue
)

// Default returns the process-wide shared Queue, lazily constructed
// on first use with default Config. It is never required: callers
// wanting isolation should construct their own Queue with New, but
// it is available the way the source's main_queue singleton was, with
// no hidden global mutable state beyond this one cell.
func Default() *Queue {
	defaultOnce.Do(func() {
		defaultQueue = New(Config{Name: "default"})
	})
	return defaultQueue
}
