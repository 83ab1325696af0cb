package queue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/shaiso/reqqueue/internal/telemetry"
)

// Transfer is a handle whose Cancel aborts an in-flight attempt
// cooperatively. Transport.Start does not return one: Start blocks
// until the attempt ends, and an attempt is aborted by cancelling the
// context passed to Start.
type Transfer interface {
	Cancel()
}

// Delegate receives progress and auth-challenge signals while a
// Transport drives one transfer. Terminal outcome is returned directly
// from Start rather than delivered through the Delegate, since Go's
// blocking-call-per-goroutine model makes a synchronous return the
// natural "terminal callback". The goroutine Start runs on is itself
// the asynchronous I/O surface.
type Delegate interface {
	OnUploadProgress(done, total int64)
	OnDownloadProgress(done, total int64)
	OnAuthChallenge(challenge AuthChallenge) AuthReply
}

// Transport is the pluggable HTTP client capability the core consumes.
// Any implementation satisfying this contract may be substituted for
// HTTPTransport; the Operation state machine never depends on
// net/http directly.
type Transport interface {
	// Start drives one transfer to completion (or to a transport-level
	// failure) and returns the response/body pair or an error. A
	// transport-level failure, no response delivered, must be
	// returned as *TransportError so RetryPolicy can classify it.
	Start(ctx context.Context, req Request, delegate Delegate) (*http.Response, []byte, error)
}

// HTTPTransport is the default Transport, backed by *http.Client.
type HTTPTransport struct {
	// Client is the underlying HTTP client. Defaults to
	// http.DefaultClient when nil.
	Client *http.Client
}

// NewHTTPTransport returns an HTTPTransport using http.DefaultClient.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{Client: http.DefaultClient}
}

func (t *HTTPTransport) client() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	return http.DefaultClient
}

// Start implements Transport.
func (t *HTTPTransport) Start(ctx context.Context, req Request, delegate Delegate) (*http.Response, []byte, error) {
	resp, body, err := t.attempt(ctx, req, delegate)
	if err == nil {
		return resp, body, nil
	}

	var challengeErr *authChallengeRetry
	if !errors.As(err, &challengeErr) {
		return nil, nil, err
	}

	// Exactly one retried attempt is allowed per transfer attempt after
	// an accepted auth challenge.
	telemetry.FromContext(ctx).Debug("retrying after auth challenge")
	merged := req
	merged.Header = mergeHeader(req.cloneHeader(), challengeErr.reply.Header)
	resp, body, err = t.attempt(ctx, merged, delegate)
	if err != nil {
		if errors.As(err, &challengeErr) {
			return nil, nil, ErrAuthRejected
		}
		return nil, nil, err
	}
	return resp, body, nil
}

// authChallengeRetry signals that the caller accepted the challenge
// and wants exactly one retried attempt.
type authChallengeRetry struct {
	reply AuthReply
}

func (e *authChallengeRetry) Error() string { return "queue: auth challenge accepted, retrying once" }

func (t *HTTPTransport) attempt(ctx context.Context, req Request, delegate Delegate) (*http.Response, []byte, error) {
	var bodyReader io.Reader
	var uploadTotal int64 = unknownTotal
	if len(req.Body) > 0 {
		uploadTotal = int64(len(req.Body))
		bodyReader = &countingReader{r: bytes.NewReader(req.Body), total: uploadTotal, onProgress: delegate.OnUploadProgress}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method(), req.URL, bodyReader)
	if err != nil {
		return nil, nil, &TransportError{Code: ErrCodeConnectionFailed, Err: fmt.Errorf("build request: %w", err)}
	}
	if req.Header != nil {
		httpReq.Header = req.cloneHeader()
	}
	if bodyReader != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if bodyReader == nil {
		delegate.OnUploadProgress(0, 0)
	}

	resp, err := t.client().Do(httpReq)
	if err != nil {
		return nil, nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusProxyAuthRequired {
		io.Copy(io.Discard, resp.Body)
		reply := delegate.OnAuthChallenge(AuthChallenge{Response: resp})
		if !reply.Retry {
			return nil, nil, ErrAuthRejected
		}
		return nil, nil, &authChallengeRetry{reply: reply}
	}

	downloadTotal := resp.ContentLength
	if downloadTotal < 0 {
		downloadTotal = unknownTotal
	}

	counted := &countingReader{r: resp.Body, total: downloadTotal, onProgress: delegate.OnDownloadProgress}
	body, err := io.ReadAll(counted)
	if err != nil {
		return nil, nil, classifyTransportError(ctx, err)
	}
	if len(body) == 0 {
		delegate.OnDownloadProgress(0, downloadTotal)
	}

	return resp, body, nil
}

// countingReader wraps an io.Reader, reporting cumulative bytes read
// through onProgress after each Read. Progress callbacks for a single
// Operation are only ever invoked from the goroutine driving its
// transfer, so no additional synchronization is required here.
type countingReader struct {
	r          io.Reader
	done       int64
	total      int64
	onProgress ProgressFunc
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		done := atomic.AddInt64(&c.done, int64(n))
		c.onProgress(fraction(done, c.total), done, c.total)
	}
	return n, err
}

func fraction(done, total int64) float64 {
	if total <= 0 {
		return 0
	}
	f := float64(done) / float64(total)
	if f > 1 {
		return 1
	}
	return f
}

func mergeHeader(base, extra http.Header) http.Header {
	if base == nil {
		base = make(http.Header)
	}
	for k, v := range extra {
		base[k] = v
	}
	return base
}

// classifyTransportError maps a low-level net/http error to an
// ErrorCode so RetryPolicy can classify it.
func classifyTransportError(ctx context.Context, err error) error {
	code := ErrCodeConnectionFailed
	if ctx.Err() != nil {
		code = ErrCodeTimeout
	}
	return &TransportError{Code: code, Err: err}
}
