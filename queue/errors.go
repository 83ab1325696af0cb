package queue

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies a transport-level failure for retry purposes.
// Callers populate RetryPolicy.RetryErrorCodes with the codes their
// Transport implementation can produce.
type ErrorCode int

const (
	// ErrCodeUnknown is the zero value; never classified as retriable
	// unless explicitly added to a policy's RetryErrorCodes.
	ErrCodeUnknown ErrorCode = iota

	// ErrCodeConnectionFailed covers DNS failure, connection refused
	// and connection reset.
	ErrCodeConnectionFailed

	// ErrCodeTimeout covers a transfer that exceeded its deadline.
	ErrCodeTimeout

	// ErrCodeTLSFailure covers a failed TLS handshake.
	ErrCodeTLSFailure
)

// Ошибки пакета queue.
var (
	// ErrCancelled — operation отменена вызывающей стороной. Никогда
	// не повторяется и не влияет на success flag.
	ErrCancelled = errors.New("queue: operation cancelled")

	// ErrAuthRejected — обработчик аутентификации отклонил challenge
	// (или challenge возник повторно после единственной разрешённой
	// повторной попытки внутри одной попытки выполнения).
	ErrAuthRejected = errors.New("queue: authentication challenge rejected")

	// ErrRetryExhausted — retry policy исчерпана; возвращается вместе
	// с последней транспортной ошибкой через errors.Join семантику
	// completion callback'а (см. Operation.run).
	ErrRetryExhausted = errors.New("queue: retry attempts exhausted")

	// ErrAlreadyEnqueued — попытка добавить Operation, уже находящуюся
	// в очереди (своей или чужой). Программная ошибка.
	ErrAlreadyEnqueued = errors.New("queue: operation already enqueued")

	// ErrInvalidRequest — у Request отсутствует обязательное поле
	// (например, URL).
	ErrInvalidRequest = errors.New("queue: invalid request")

	// ErrQueueSuspended — только диагностическое значение: очередь
	// приостановлена, promotion не выполняется до снятия suspend.
	ErrQueueSuspended = errors.New("queue: suspended")
)

// TransportError wraps a transport-level failure (no response was
// delivered) with the ErrorCode a RetryPolicy classifies against.
// HTTP responses that arrive successfully, even with a 4xx/5xx status,
// are never wrapped in a TransportError: the queue layer treats those
// as successful transfers and leaves status handling to the
// completion callback.
type TransportError struct {
	Code ErrorCode
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("queue: transport error (code %d): %v", e.Code, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPResponseError is exported for callers who wish to wrap a
// non-2xx HTTP response as an error above this layer. The queue and
// Operation never construct one: a response that arrives at all is a
// successful transfer as far as retry classification is concerned.
type HTTPResponseError struct {
	StatusCode int
	Response   *http.Response
}

func (e *HTTPResponseError) Error() string {
	return fmt.Sprintf("queue: http response error: status %d", e.StatusCode)
}
