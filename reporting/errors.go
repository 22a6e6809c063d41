package reporting

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrPhotoUnreadable means the local photo is gone; a later attempt
// cannot succeed either.
var ErrPhotoUnreadable = errors.New("photo unreadable")

// NetworkError is a transport failure: the request may never have
// reached the backend.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// RemoteError is a non-2xx answer from the backend.
type RemoteError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: backend answered %d: %s", e.Op, e.StatusCode, e.Body)
}

// Retryable is false for client errors the backend will keep rejecting
// (validation, auth). Timeouts and throttling are worth another try.
func (e *RemoteError) Retryable() bool {
	switch {
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	}
	return false
}

// IsRetryable reports whether a failed submission should consume retry
// budget and be attempted again later. Unknown errors are retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPhotoUnreadable) {
		return false
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return true
}
