package browser

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotReady is returned by Acquire when the pool has not been started or has
// already been stopped.
var ErrNotReady = errors.New("browser pool is not ready")

// StartError reports a failed pool startup: the sole local launch failed and
// no remote endpoint connected.
type StartError struct {
	Err error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("browser pool failed to start: %v", e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// staleContextFragments are substrings of CDP errors raised when a concurrent
// navigation invalidates the page's execution context mid-operation.
var staleContextFragments = []string{
	"execution context was destroyed",
	"cannot find context with specified id",
	"inspected target navigated or closed",
	"could not find node with given id",
}

// IsStaleContext reports whether the error is a transient navigation-induced
// context invalidation, safe to retry after the page settles.
func IsStaleContext(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range staleContextFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}
