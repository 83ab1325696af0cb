package queue

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/reqqueue/internal/telemetry"
)

// State is the lifecycle state of an Operation.
type State int

const (
	StateReady State = iota
	StateRunning
	StateFinished
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Counters exposes an Operation's live byte counters.
type Counters struct {
	UploadBytesDone    int64
	UploadBytesTotal   int64
	DownloadBytesDone  int64
	DownloadBytesTotal int64
}

// OperationConfig configures an Operation at construction time.
// Callback slots and RetryPolicy are read-only once the Operation has
// been enqueued; mutating them afterward is undefined behavior.
type OperationConfig struct {
	Completion       CompletionFunc
	UploadProgress   ProgressFunc
	DownloadProgress ProgressFunc
	AuthChallenge    AuthChallengeFunc
	Retry            RetryPolicy
	Logger           *slog.Logger
}

// Operation is a single retryable HTTP transfer. It is constructed
// with NewOperation, configured via OperationConfig before enqueue,
// and from that point on is driven exclusively by the owning Queue.
type Operation struct {
	ID      uuid.UUID
	request Request

	completion       CompletionFunc
	uploadProgress   ProgressFunc
	downloadProgress ProgressFunc
	authChallenge    AuthChallengeFunc
	retry            RetryPolicy
	logger           *slog.Logger

	mu              sync.Mutex
	state           State
	attempt         int
	driving         bool // true once run() has started; never cleared
	cancelFunc      context.CancelFunc
	cancelRequested bool
	enqueued        bool // guards against double-enqueue (ErrAlreadyEnqueued)

	cancelCh   chan struct{} // closed by the first successful cancel()
	cancelOnce sync.Once

	uploadDone, uploadTotal     atomic.Int64
	downloadDone, downloadTotal atomic.Int64
}

// NewOperation constructs a ready Operation from a request descriptor.
// Configure cfg before handing the Operation to a Queue.
func NewOperation(req Request, cfg OperationConfig) *Operation {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New()
	logger = telemetry.WithOperationID(logger, id.String())
	req.Header = req.cloneHeader()

	return &Operation{
		ID:               id,
		request:          req,
		completion:       cfg.Completion,
		uploadProgress:   cfg.UploadProgress,
		downloadProgress: cfg.DownloadProgress,
		authChallenge:    cfg.AuthChallenge,
		retry:            cfg.Retry,
		logger:           logger,
		state:            StateReady,
		cancelCh:         make(chan struct{}),
	}
}

// Request returns the Operation's immutable request descriptor.
func (op *Operation) Request() Request { return op.request }

// State returns the Operation's current lifecycle state.
func (op *Operation) State() State {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.state
}

// Attempt returns the number of transfer attempts made so far
// (0 before the first promotion to running).
func (op *Operation) Attempt() int {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.attempt
}

// Counters returns a snapshot of the Operation's live byte counters.
func (op *Operation) Counters() Counters {
	return Counters{
		UploadBytesDone:    op.uploadDone.Load(),
		UploadBytesTotal:   op.uploadTotal.Load(),
		DownloadBytesDone:  op.downloadDone.Load(),
		DownloadBytesTotal: op.downloadTotal.Load(),
	}
}

// markEnqueued transitions the Operation into "owned by a Queue"
// bookkeeping. Returns ErrAlreadyEnqueued if called twice.
func (op *Operation) markEnqueued() error {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.enqueued {
		return ErrAlreadyEnqueued
	}
	op.enqueued = true
	return nil
}

// cancel cancels a ready or running Operation. applies reports whether
// the Operation was ready or running at all (false if already
// terminal). synchronous reports whether cancel itself completed the
// transition to StateCancelled: true only when the Operation was ready
// and had never been promoted (no driver goroutine exists yet, so the
// caller must retire it directly); false when a driver goroutine is
// alive — whether currently running a transfer or parked between retry
// attempts — in which case that goroutine observes cancelRequested (or
// cancelCh, while parked) and transitions the Operation itself once
// Operation.run returns.
func (op *Operation) cancel() (applies, synchronous bool) {
	op.mu.Lock()
	switch op.state {
	case StateReady:
		if !op.driving {
			op.state = StateCancelled
			op.mu.Unlock()
			return true, true
		}
		op.cancelRequested = true
		op.mu.Unlock()
		op.signalCancel()
		return true, false
	case StateRunning:
		op.cancelRequested = true
		cancelFunc := op.cancelFunc
		op.mu.Unlock()
		op.signalCancel()
		if cancelFunc != nil {
			cancelFunc()
		}
		return true, false
	default:
		op.mu.Unlock()
		return false, false
	}
}

// signalCancel wakes a driver goroutine parked in a retry backoff. Safe
// to call more than once or when no goroutine is listening yet.
func (op *Operation) signalCancel() {
	op.cancelOnce.Do(func() { close(op.cancelCh) })
}

// resetCounters zeroes the byte counters ahead of a (re)attempt, per
// invariant 5: progress is monotonic within one attempt but may reset
// to 0 on retry.
func (op *Operation) resetCounters() {
	op.uploadDone.Store(0)
	op.uploadTotal.Store(0)
	op.downloadDone.Store(0)
	op.downloadTotal.Store(0)
}

func (op *Operation) onUpload(done, total int64) {
	op.uploadDone.Store(done)
	op.uploadTotal.Store(total)
	if op.uploadProgress != nil {
		op.uploadProgress(fraction(done, total), done, total)
	}
}

func (op *Operation) onDownload(done, total int64) {
	op.downloadDone.Store(done)
	op.downloadTotal.Store(total)
	if op.downloadProgress != nil {
		op.downloadProgress(fraction(done, total), done, total)
	}
}

func (op *Operation) onAuthChallenge(c AuthChallenge) AuthReply {
	if op.authChallenge == nil {
		return AuthReply{Retry: false}
	}
	return op.authChallenge(c)
}

// runResult is what Operation.run reports back to the Queue driver
// loop. The Queue removes the Operation from pending (and updates
// success_flag/metrics) under its own lock before dispatching
// resp/body/err to the completion callback. Queue.retire is the only
// place a completion callback is actually invoked, so removal from
// pending always happens before any callback that could observe
// requestCount fires, regardless of which path terminated the
// Operation.
type runResult struct {
	state State // StateFinished or StateCancelled
	resp  *http.Response
	body  []byte
	err   error // nil on success
}

// run drives the Operation's retry loop to a terminal state. It is
// invoked by the Queue on its own goroutine once the Operation is
// promoted to running, and must not be called concurrently with
// itself for the same Operation. It never invokes the completion
// callback itself; the caller (Queue.drive) is responsible for that
// once bookkeeping has been updated.
func (op *Operation) run(parent context.Context, transport Transport) runResult {
	op.mu.Lock()
	op.driving = true
	op.mu.Unlock()

	for {
		// Re-checked every iteration: a cancel that arrived while this
		// Operation was parked in the backoff below (state ready, but
		// still driven by this goroutine) only sets cancelRequested and
		// wakes cancelCh — it never rewrites state out from under us —
		// so the transition to cancelled happens here, not by racing a
		// second call into transport.Start.
		if op.wasCancelledDuring() {
			return op.setState(StateCancelled, nil, nil, ErrCancelled)
		}

		op.mu.Lock()
		op.state = StateRunning
		op.attempt++
		attempt := op.attempt
		ctx, cancel := context.WithCancel(parent)
		op.cancelFunc = cancel
		op.mu.Unlock()
		ctx = telemetry.WithLogger(ctx, op.logger)

		op.resetCounters()
		op.logger.Debug("operation attempt starting", "attempt", attempt, "url", op.request.URL)

		resp, body, err := transport.Start(ctx, op.request, operationDelegate{op})
		cancel()

		if op.wasCancelledDuring() {
			return op.setState(StateCancelled, nil, nil, ErrCancelled)
		}

		if err == nil {
			op.logger.Info("operation succeeded", "attempt", attempt)
			return op.setState(StateFinished, resp, body, nil)
		}

		if errors.Is(err, ErrAuthRejected) {
			return op.setState(StateFinished, nil, nil, ErrAuthRejected)
		}

		var terr *TransportError
		if !errors.As(err, &terr) {
			// Unclassified failure: treat as non-retriable.
			return op.setState(StateFinished, nil, nil, err)
		}

		if !op.retry.retriable(terr.Code) {
			op.logger.Warn("operation failed, not retrying", "attempt", attempt, "error", err)
			return op.setState(StateFinished, nil, nil, err)
		}

		if op.retry.attemptsExhausted(attempt) {
			op.logger.Warn("operation failed, retry attempts exhausted", "attempt", attempt, "error", err)
			return op.setState(StateFinished, nil, nil, errors.Join(ErrRetryExhausted, err))
		}

		delay := op.retry.delay()
		op.logger.Debug("operation retrying", "attempt", attempt, "delay", delay)

		op.mu.Lock()
		op.state = StateReady
		op.mu.Unlock()

		select {
		case <-time.After(delay):
		case <-parent.Done():
			return op.setState(StateCancelled, nil, nil, ErrCancelled)
		case <-op.cancelCh:
			return op.setState(StateCancelled, nil, nil, ErrCancelled)
		}
	}
}

func (op *Operation) wasCancelledDuring() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.cancelRequested
}

func (op *Operation) setState(state State, resp *http.Response, body []byte, err error) runResult {
	op.mu.Lock()
	op.state = state
	op.mu.Unlock()
	return runResult{state: state, resp: resp, body: body, err: err}
}

// invokeCompletion calls the configured completion callback, if any.
// Called by the Queue only after the Operation has been removed from
// pending.
func (op *Operation) invokeCompletion(result runResult) {
	if op.completion != nil {
		op.completion(result.resp, result.body, result.err)
	}
}

// operationDelegate adapts an Operation to the Delegate interface
// without exposing Operation's internals to Transport implementations.
type operationDelegate struct{ op *Operation }

func (d operationDelegate) OnUploadProgress(done, total int64)   { d.op.onUpload(done, total) }
func (d operationDelegate) OnDownloadProgress(done, total int64) { d.op.onDownload(done, total) }
func (d operationDelegate) OnAuthChallenge(c AuthChallenge) AuthReply {
	return d.op.onAuthChallenge(c)
}
