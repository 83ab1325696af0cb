package queue

import "time"

// defaultRetryDelay is used when AutoRetry is enabled but RetryDelay
// was left at its zero value.
const defaultRetryDelay = time.Second

// RetryPolicy controls whether and how an Operation retries a
// transport-level failure. A failure is retriable iff AutoRetry is
// true AND its ErrorCode is a member of RetryErrorCodes. HTTP
// responses that arrive successfully are never subject to this
// policy, regardless of status code.
type RetryPolicy struct {
	// AutoRetry enables retry for this Operation.
	AutoRetry bool

	// RetryErrorCodes is the set of transport ErrorCodes that are
	// retriable when AutoRetry is true.
	RetryErrorCodes map[ErrorCode]struct{}

	// RetryDelay is the fixed delay before re-promoting a retried
	// Operation to ready. Defaults to 1s when zero and AutoRetry is
	// true.
	RetryDelay time.Duration

	// MaxAttempts bounds the number of attempts (including the first)
	// this Operation will make before giving up. Zero means
	// unlimited; callers that want a hard ceiling against a runaway
	// retry loop should set this explicitly.
	MaxAttempts int
}

func (p *RetryPolicy) delay() time.Duration {
	if p == nil || p.RetryDelay <= 0 {
		return defaultRetryDelay
	}
	return p.RetryDelay
}

// retriable reports whether the given transport error code should
// trigger a retry under this policy.
func (p *RetryPolicy) retriable(code ErrorCode) bool {
	if p == nil || !p.AutoRetry {
		return false
	}
	if len(p.RetryErrorCodes) == 0 {
		return false
	}
	_, ok := p.RetryErrorCodes[code]
	return ok
}

// attemptsExhausted reports whether attempt (1-indexed, the attempt
// that just ran) has used up the policy's budget.
func (p *RetryPolicy) attemptsExhausted(attempt int) bool {
	if p == nil || p.MaxAttempts <= 0 {
		return false
	}
	return attempt >= p.MaxAttempts
}
