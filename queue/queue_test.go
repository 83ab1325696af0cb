package queue

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueue_ConcurrencyCap(t *testing.T) {
	var running int32
	var maxSeen int32
	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&maxSeen)
			if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&running, -1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	q := New(Config{MaxConcurrent: 2, AllowDuplicates: true})
	defer q.Close()

	const n = 5
	for i := 0; i < n; i++ {
		if err := q.EnqueueRequest(Request{URL: server.URL}, nil); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		if atomic.LoadInt32(&running) == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for 2 concurrent requests")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	close(release)

	for q.RequestCount() > 0 {
		time.Sleep(time.Millisecond)
	}

	if got := atomic.LoadInt32(&maxSeen); got > 2 {
		t.Errorf("max concurrent requests = %d, want <= 2", got)
	}
}

func TestQueue_FIFOOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		order = append(order, r.URL.Query().Get("id"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	done := make(chan bool, 1)
	q := New(Config{MaxConcurrent: 1, Mode: FIFO, AggregateCompletion: func(success bool) { done <- success }})
	defer q.Close()

	for _, id := range []string{"a", "b", "c"} {
		if err := q.EnqueueRequest(Request{URL: server.URL + "?id=" + id}, nil); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	<-done

	mu.Lock()
	defer mu.Unlock()
	want := []string{"a", "b", "c"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q (full: %v)", i, order[i], want[i], order)
		}
	}
}

func TestQueue_DuplicateSuppression(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	done := make(chan bool, 1)
	q := New(Config{MaxConcurrent: 1, AggregateCompletion: func(success bool) { done <- success }})
	defer q.Close()

	q.SetSuspended(true)
	if err := q.EnqueueRequest(Request{URL: server.URL}, nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.EnqueueRequest(Request{URL: server.URL}, nil); err != nil {
		t.Fatalf("Enqueue (dup): %v", err)
	}
	if got := q.RequestCount(); got != 1 {
		t.Fatalf("RequestCount() = %d, want 1 (duplicate must be dropped)", got)
	}
	q.SetSuspended(false)
	<-done

	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("server called %d times, want 1", calls)
	}
}

func TestQueue_AllowDuplicates(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	done := make(chan bool, 1)
	q := New(Config{MaxConcurrent: 1, AllowDuplicates: true, AggregateCompletion: func(success bool) { done <- success }})
	defer q.Close()

	for i := 0; i < 2; i++ {
		if err := q.EnqueueRequest(Request{URL: server.URL}, nil); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	<-done

	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("server called %d times, want 2", calls)
	}
}

func TestQueue_SuspendBlocksPromotion(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	q := New(Config{MaxConcurrent: 1, Suspended: true})
	defer q.Close()

	if err := q.EnqueueRequest(Request{URL: server.URL}, nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatal("request fired while queue was suspended")
	}

	q.SetSuspended(false)
	deadline := time.After(time.Second)
	for atomic.LoadInt32(&calls) == 0 {
		select {
		case <-deadline:
			t.Fatal("request never fired after resuming")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestQueue_AggregateCompletion_SuccessFlag(t *testing.T) {
	okServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer okServer.Close()

	results := make(chan bool, 2)
	q := New(Config{MaxConcurrent: 2, AggregateCompletion: func(success bool) { results <- success }})
	defer q.Close()

	if err := q.EnqueueRequest(Request{URL: okServer.URL}, nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if got := <-results; !got {
		t.Error("success flag should be true when all requests succeed")
	}

	// A request to a closed listener produces a transport-level
	// failure, which must clear the success flag for this batch.
	closedServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	closedServer.Close()

	if err := q.EnqueueRequest(Request{URL: closedServer.URL}, nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if got := <-results; got {
		t.Error("success flag should be false after a transport failure")
	}
}

func TestQueue_Cancel_ReadyDoesNotInvokeCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	q := New(Config{MaxConcurrent: 1, Suspended: true})
	defer q.Close()

	var invoked int32
	op := NewOperation(Request{URL: server.URL}, OperationConfig{
		Completion: func(resp *http.Response, body []byte, err error) {
			atomic.AddInt32(&invoked, 1)
		},
	})
	if err := q.Enqueue(op); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	q.Cancel(server.URL)

	if op.State() != StateCancelled {
		t.Fatalf("State() = %v, want StateCancelled", op.State())
	}
	if atomic.LoadInt32(&invoked) != 0 {
		t.Error("completion must not fire when cancelling a ready Operation")
	}
	if got := q.RequestCount(); got != 0 {
		t.Errorf("RequestCount() = %d, want 0 after cancelling the only pending Operation", got)
	}
}

func TestQueue_Requests_OrderReflectsMode(t *testing.T) {
	q := New(Config{MaxConcurrent: 1, Mode: LIFO, Suspended: true})
	defer q.Close()

	for _, u := range []string{"http://a.invalid", "http://b.invalid", "http://c.invalid"} {
		if err := q.EnqueueRequest(Request{URL: u}, nil); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	ops := q.Requests()
	if len(ops) != 3 {
		t.Fatalf("Requests() returned %d operations, want 3", len(ops))
	}
	want := []string{"http://c.invalid", "http://b.invalid", "http://a.invalid"}
	for i, op := range ops {
		if op.Request().URL != want[i] {
			t.Errorf("Requests()[%d].URL = %q, want %q", i, op.Request().URL, want[i])
		}
	}
}
