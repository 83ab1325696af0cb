package queue

import (
	"context"
	"log/slog"
	"sync"

	"github.com/shaiso/reqqueue/internal/telemetry"
)

// Mode controls which ready Operation is promoted next.
type Mode int

const (
	// FIFO promotes the oldest ready Operation first.
	FIFO Mode = iota
	// LIFO promotes the most recently enqueued ready Operation first.
	LIFO
)

func (m Mode) String() string {
	if m == LIFO {
		return "lifo"
	}
	return "fifo"
}

const defaultMaxConcurrent = 2

// Config configures a Queue at construction time.
type Config struct {
	// MaxConcurrent caps the number of Operations in the running
	// substate at any time. Defaults to 2.
	MaxConcurrent int

	// Mode selects FIFO or LIFO promotion order. Defaults to FIFO.
	Mode Mode

	// AllowDuplicates, when false, drops an enqueue whose Request.URL
	// matches an Operation already pending.
	AllowDuplicates bool

	// Suspended starts the Queue with scheduling paused.
	Suspended bool

	// Transport drives HTTP transfers. Defaults to NewHTTPTransport().
	Transport Transport

	// AggregateCompletion is invoked exactly once each time pending
	// transitions from non-empty to empty, with the batch's
	// accumulated success flag.
	AggregateCompletion func(success bool)

	// Metrics, if non-nil, receives gauge/counter updates as
	// Operations move through the scheduler. Optional.
	Metrics *Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Name identifies this Queue in logs and metrics. Optional.
	Name string
}

// entry pairs an Operation with the queue-private bookkeeping needed
// for scheduling: enqueue order and a cancel func for its driver
// goroutine's context.
type entry struct {
	op      *Operation
	seq     uint64
	runCtx  context.Context
	runStop context.CancelFunc
}

// Queue is a bounded scheduler over a sequence of pending Operations.
// It enforces a concurrency cap, an ordering discipline, duplicate
// suppression, suspension and aggregate batch completion. A Queue
// owns its Operations exclusively from enqueue until they terminate.
type Queue struct {
	mu sync.Mutex

	maxConcurrent   int
	mode            Mode
	allowDuplicates bool
	suspended       bool
	successFlag     bool
	hadPending      bool // has pending ever been non-empty since the last drain

	pending []*entry // ready and running, in enqueue order
	nextSeq uint64
	running int

	transport Transport
	aggregate func(success bool)
	metrics   *Metrics
	logger    *slog.Logger
	name      string

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// New constructs a Queue. The returned Queue's background goroutines
// (one per running Operation) are scoped to a context derived
// internally; call Close to release it once the Queue is no longer
// needed (see Close for what that does to Operations still pending).
func New(cfg Config) *Queue {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}

	transport := cfg.Transport
	if transport == nil {
		transport = NewHTTPTransport()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name != "" {
		logger = telemetry.WithQueue(logger, cfg.Name)
	}

	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		maxConcurrent:   maxConcurrent,
		mode:            cfg.Mode,
		allowDuplicates: cfg.AllowDuplicates,
		suspended:       cfg.Suspended,
		successFlag:     true,
		transport:       transport,
		aggregate:       cfg.AggregateCompletion,
		metrics:         cfg.Metrics,
		logger:          logger,
		name:            cfg.Name,
		baseCtx:         ctx,
		baseCancel:      cancel,
	}
	return q
}

// Close cancels the Queue's internal context, which every running
// Operation's transfer context derives from. A transfer in flight is
// aborted and its Operation finishes with a transport error (or with
// ErrCancelled if it was waiting between retry attempts); an Operation
// promoted after Close fails the same way at once. Close does not
// remove ready Operations from pending; CancelAll does that and
// reports ErrCancelled.
func (q *Queue) Close() { q.baseCancel() }

// Enqueue adds op to the queue and attempts scheduling. If
// AllowDuplicates is false and an Operation with the same Request.URL
// is already pending, op is dropped silently (diagnostic log only).
func (q *Queue) Enqueue(op *Operation) error {
	if op.request.URL == "" {
		return ErrInvalidRequest
	}
	if err := op.markEnqueued(); err != nil {
		return err
	}

	q.mu.Lock()
	if !q.allowDuplicates {
		for _, e := range q.pending {
			if e.op.request.URL == op.request.URL {
				q.mu.Unlock()
				q.logger.Debug("dropping duplicate enqueue", "url", op.request.URL)
				return nil
			}
		}
	}

	q.nextSeq++
	q.pending = append(q.pending, &entry{op: op, seq: q.nextSeq})
	q.hadPending = true
	q.mu.Unlock()

	q.reportPendingMetric()
	q.schedule()
	return nil
}

// EnqueueRequest wraps req in a default Operation and enqueues it.
func (q *Queue) EnqueueRequest(req Request, completion CompletionFunc) error {
	return q.Enqueue(NewOperation(req, OperationConfig{Completion: completion, Logger: q.logger}))
}

// Cancel finds the first pending Operation whose Request.URL equals
// url and cancels it. Other Operations are unaffected.
func (q *Queue) Cancel(url string) {
	q.mu.Lock()
	var target *entry
	for _, e := range q.pending {
		if e.op.request.URL == url {
			target = e
			break
		}
	}
	q.mu.Unlock()

	if target == nil {
		return
	}
	q.cancelEntry(target)
}

// CancelAll cancels every pending Operation. A no-op on an empty
// queue.
func (q *Queue) CancelAll() {
	q.mu.Lock()
	targets := make([]*entry, len(q.pending))
	copy(targets, q.pending)
	q.mu.Unlock()

	for _, e := range targets {
		q.cancelEntry(e)
	}
}

func (q *Queue) cancelEntry(e *entry) {
	applies, synchronous := e.op.cancel()
	if !applies {
		return // already terminal
	}
	if synchronous {
		// Ready -> Cancelled happened synchronously inside op.cancel()
		// because the Operation was never promoted: no driver goroutine
		// exists to retire it. Per the state table this path never
		// invokes completion, only removes the entry from pending.
		q.retire(e, runResult{state: StateCancelled, err: ErrCancelled}, false)
		return
	}
	// Running, or ready-but-parked-in-a-retry-backoff -> a driver
	// goroutine is alive and owns this Operation; it will observe the
	// cancellation itself and call retire() (with completion) once
	// Operation.run returns, instead of re-attempting the transfer.
}

// ClearSuccessFlag resets the success flag to true, starting a new
// logical batch for aggregate completion purposes.
func (q *Queue) ClearSuccessFlag() {
	q.mu.Lock()
	q.successFlag = true
	q.hadPending = len(q.pending) > 0
	q.mu.Unlock()
}

// RequestCount returns the number of Operations currently pending
// (ready or running).
func (q *Queue) RequestCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Requests returns a snapshot of pending Operations: running
// Operations first, then ready Operations (in the order Mode
// dictates). Running Operations are listed in enqueue order; the
// order in which they were started is not tracked, so in LIFO mode
// the two can differ.
func (q *Queue) Requests() []*Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	running := make([]*Operation, 0, len(q.pending))
	ready := make([]*entry, 0, len(q.pending))
	for _, e := range q.pending {
		if e.op.State() == StateRunning {
			running = append(running, e.op)
		} else {
			ready = append(ready, e)
		}
	}

	orderReady(ready, q.mode)
	out := running
	for _, e := range ready {
		out = append(out, e.op)
	}
	return out
}

func orderReady(ready []*entry, mode Mode) {
	if mode == FIFO {
		// pending is already in enqueue order.
		return
	}
	for i, j := 0, len(ready)-1; i < j; i, j = i+1, j-1 {
		ready[i], ready[j] = ready[j], ready[i]
	}
}

// Suspended reports whether scheduling is currently paused.
func (q *Queue) Suspended() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.suspended
}

// SetSuspended pauses or resumes scheduling. Resuming (false) attempts
// to schedule immediately.
func (q *Queue) SetSuspended(suspended bool) {
	q.mu.Lock()
	changed := q.suspended != suspended
	q.suspended = suspended
	q.mu.Unlock()
	if changed && !suspended {
		q.schedule()
	}
}

// Mode returns the current promotion order.
func (q *Queue) Mode() Mode {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.mode
}

// SetMode changes the promotion order for future promotions.
func (q *Queue) SetMode(mode Mode) {
	q.mu.Lock()
	q.mode = mode
	q.mu.Unlock()
}

// MaxConcurrent returns the current concurrency cap.
func (q *Queue) MaxConcurrent() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.maxConcurrent
}

// SetMaxConcurrent changes the concurrency cap. Already-running
// Operations are never preempted; increasing the cap attempts to
// schedule immediately.
func (q *Queue) SetMaxConcurrent(n int) {
	if n <= 0 {
		n = 1
	}
	q.mu.Lock()
	increased := n > q.maxConcurrent
	q.maxConcurrent = n
	q.mu.Unlock()
	if increased {
		q.schedule()
	}
}

// AllowDuplicates reports whether duplicate URLs may be pending
// simultaneously.
func (q *Queue) AllowDuplicates() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.allowDuplicates
}

// SetAllowDuplicates toggles duplicate suppression for future enqueues.
func (q *Queue) SetAllowDuplicates(allow bool) {
	q.mu.Lock()
	q.allowDuplicates = allow
	q.mu.Unlock()
}

// schedule runs the promotion algorithm: while not suspended and
// running_count < max_concurrent, promote the next ready Operation (by
// Mode) and start its driver goroutine.
func (q *Queue) schedule() {
	for {
		e := q.promoteNext()
		if e == nil {
			return
		}
		go q.drive(e)
	}
}

// promoteNext picks and promotes the next ready Operation under the
// lock, or returns nil if none can be promoted right now.
func (q *Queue) promoteNext() *entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.suspended || q.running >= q.maxConcurrent {
		return nil
	}

	idx := q.selectReadyLocked()
	if idx < 0 {
		return nil
	}

	e := q.pending[idx]
	e.runCtx, e.runStop = context.WithCancel(q.baseCtx)
	q.running++
	q.reportRunningMetricLocked()
	return e
}

// selectReadyLocked returns the pending index of the Operation that
// should be promoted next, or -1 if none is ready. Must be called
// with q.mu held.
func (q *Queue) selectReadyLocked() int {
	if q.mode == LIFO {
		for i := len(q.pending) - 1; i >= 0; i-- {
			if q.pending[i].op.State() == StateReady {
				return i
			}
		}
		return -1
	}
	for i, e := range q.pending {
		if e.op.State() == StateReady {
			return i
		}
	}
	return -1
}

// drive runs one Operation's retry loop to completion and retires it.
func (q *Queue) drive(e *entry) {
	result := e.op.run(e.runCtx, q.transport)
	e.runStop()
	q.retire(e, result, true)
}

// retire removes a terminated Operation from pending, updates the
// success flag and metrics, fires the per-Operation completion
// callback (when invokeCompletion is true) and the aggregate
// completion (if the batch just drained), and attempts to promote the
// next ready Operation. Per invariant 4, removal happens, and the lock
// is released, before any callback that could observe requestCount
// fires.
func (q *Queue) retire(e *entry, result runResult, invokeCompletion bool) {
	q.mu.Lock()
	q.running = decrementIfWasRunning(q.running, e)
	q.pending = removeEntry(q.pending, e)

	if result.err != nil && result.state != StateCancelled {
		q.successFlag = false
	}

	drained := len(q.pending) == 0 && q.hadPending
	var aggregateCb func(bool)
	var success bool
	if drained {
		aggregateCb = q.aggregate
		success = q.successFlag
		q.hadPending = false
	}
	q.reportRunningMetricLocked()
	q.reportPendingMetricLocked()
	q.reportCompletionMetricLocked(result)
	q.mu.Unlock()

	if invokeCompletion {
		e.op.invokeCompletion(result)
	}
	if aggregateCb != nil {
		aggregateCb(success)
	}

	q.schedule()
}

func decrementIfWasRunning(running int, e *entry) int {
	if e.runCtx != nil {
		return running - 1
	}
	return running
}

func removeEntry(pending []*entry, target *entry) []*entry {
	out := pending[:0:0]
	for _, e := range pending {
		if e != target {
			out = append(out, e)
		}
	}
	return out
}

func (q *Queue) reportPendingMetric() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reportPendingMetricLocked()
}

func (q *Queue) reportPendingMetricLocked() {
	if q.metrics != nil {
		q.metrics.setPending(q.name, len(q.pending))
	}
}

func (q *Queue) reportRunningMetricLocked() {
	if q.metrics != nil {
		q.metrics.setRunning(q.name, q.running)
	}
}

func (q *Queue) reportCompletionMetricLocked(result runResult) {
	if q.metrics == nil {
		return
	}
	outcome := "success"
	switch {
	case result.state == StateCancelled:
		outcome = "cancelled"
	case result.err != nil:
		outcome = "failure"
	}
	q.metrics.incCompletions(q.name, outcome)
}
