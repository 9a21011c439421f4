package storage

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDirectoryUnsupported is returned by providers that cannot store
// directories.
var ErrDirectoryUnsupported = errors.New("directory uploads not supported by this provider")

// InitError reports a failed primary-provider session setup. It is
// non-fatal to a resolution: the chain advances to the next provider.
type InitError struct {
	Cause error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("provider session initialization failed: %v", e.Cause)
}

func (e *InitError) Unwrap() error { return e.Cause }

// ProviderError reports one failed store attempt against one backend.
// It carries the backend's original error for logging but callers only
// ever match on this wrapper.
type ProviderError struct {
	Provider ProviderKind
	Op       string
	Cause    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider %s failed: %v", e.Provider, e.Op, e.Cause)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// AllProvidersFailedError is the terminal resolution failure: every eligible
// provider in the chain failed, or none were configured/eligible.
type AllProvidersFailedError struct {
	Causes []error
}

func (e *AllProvidersFailedError) Error() string {
	if len(e.Causes) == 0 {
		return "upload failed: no storage providers configured"
	}
	msgs := make([]string, len(e.Causes))
	for i, cause := range e.Causes {
		msgs[i] = cause.Error()
	}
	return fmt.Sprintf("upload failed on all providers: %s", strings.Join(msgs, "; "))
}

// Unwrap exposes the per-provider causes for errors.Is/errors.As matching.
func (e *AllProvidersFailedError) Unwrap() []error { return e.Causes }
