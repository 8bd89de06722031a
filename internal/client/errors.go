package client

import (
	"errors"
	"fmt"
	"net/http"
)

// RemoteError is the standardized failure signal from a generation client.
// Transient errors (rate limits, 5xx, transport failures, timeouts) are
// retried by the orchestrator; permanent errors (rejected prompts, content
// policy, other 4xx) fail the enclosing stage immediately.
type RemoteError struct {
	Service   string
	Op        string
	Status    int
	Body      string
	Transient bool
	Err       error
}

func (e *RemoteError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s %s: status %d: %s", e.Service, e.Op, e.Status, e.Body)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s failed", e.Service, e.Op)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// statusError classifies an HTTP error response. Rate limits and server-side
// failures are worth retrying; anything else 4xx is the caller's fault.
func statusError(service, op string, status int, body string) *RemoteError {
	transient := status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout ||
		status >= 500
	return &RemoteError{
		Service:   service,
		Op:        op,
		Status:    status,
		Body:      body,
		Transient: transient,
	}
}

// transportError wraps a network-level failure, always transient.
func transportError(service, op string, err error) *RemoteError {
	return &RemoteError{
		Service:   service,
		Op:        op,
		Transient: true,
		Err:       err,
	}
}

// permanentError marks a failure that retrying will not fix, such as the
// remote service rejecting the prompt outright.
func permanentError(service, op string, err error) *RemoteError {
	return &RemoteError{
		Service: service,
		Op:      op,
		Err:     err,
	}
}

// IsTransient reports whether err is a retriable remote failure.
// Unknown errors are treated as permanent so bugs don't retry forever.
func IsTransient(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Transient
	}
	return false
}
