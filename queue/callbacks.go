package queue

import "net/http"

// unknownTotal is the sentinel reported for BytesTotal when the
// transfer's total size is unknown (e.g. chunked transfer encoding).
const unknownTotal = -1

// CompletionFunc is invoked exactly once per Operation, on its
// terminal transition to finished or cancelled, except for an
// Operation cancelled before it was ever promoted to running, for
// which it is not invoked at all. Exactly one of
// (Response, Body) or Err is meaningful: a successful transfer
// populates Response/Body with Err nil; a transport failure,
// exhausted retry, or cancellation populates Err with Response/Body
// nil. Cancellation is signalled via errors.Is(err, ErrCancelled).
type CompletionFunc func(resp *http.Response, body []byte, err error)

// ProgressFunc reports transfer progress. Fraction is in [0,1], or 0
// when Total is unknown. Total is BytesTotalUnknown when the size of
// the transfer isn't known ahead of time (chunked encoding). Done
// never decreases while one request is being sent or received; it
// resets to 0 on retry, and also when HTTPTransport re-sends the
// request after an accepted auth challenge.
type ProgressFunc func(fraction float64, done, total int64)

// AuthChallenge describes a 401/407 response the Transport received
// mid-transfer.
type AuthChallenge struct {
	// Response is the challenge response (its body has already been
	// drained by the Transport; callers act on status/headers only).
	Response *http.Response
}

// AuthReply is the caller's answer to an AuthChallenge, returned
// synchronously from AuthChallengeFunc.
type AuthReply struct {
	// Retry, when true, causes the Transport to re-send the request
	// once with Header merged in. When false, the challenge is
	// treated as rejected (ErrAuthRejected).
	Retry bool

	// Header carries updated credentials to merge into the retried
	// request (e.g. a fresh Authorization header). Ignored when Retry
	// is false.
	Header http.Header
}

// AuthChallengeFunc is invoked synchronously, once per auth challenge
// encountered during a single transfer attempt, and must return before
// the attempt proceeds (running -> running in the Operation state
// machine). At most one re-attempt is honored per transfer attempt: a
// challenge on the retried request itself is treated as rejected
// rather than looping indefinitely.
type AuthChallengeFunc func(challenge AuthChallenge) AuthReply

// BytesTotalUnknown reports the sentinel a ProgressFunc receives as
// Total when the transfer's size is not known ahead of time.
func BytesTotalUnknown() int64 { return unknownTotal }
