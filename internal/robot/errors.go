package robot

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

var (
	// ErrNetwork reports a transport failure or timeout talking to the robot API.
	ErrNetwork = errors.New("robot api: network error")
	// ErrMalformedResponse reports a 2xx response that could not be understood.
	ErrMalformedResponse = errors.New("robot api: malformed response")
	// ErrThrottled reports that the local token-request budget is exhausted.
	ErrThrottled = errors.New("robot api: token requests throttled")
)

// UpstreamRejectedError reports a non-2xx answer from the robot API.
type UpstreamRejectedError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamRejectedError) Error() string {
	return fmt.Sprintf("robot api: upstream rejected request with status %d", e.StatusCode)
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
