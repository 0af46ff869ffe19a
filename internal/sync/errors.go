package sync

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var (
	// ErrNotLinked is returned for operations that need a linked element
	ErrNotLinked = errors.New("element is not linked to an external item")

	// ErrAlreadyLinked is returned when linking an element that already has a link
	ErrAlreadyLinked = errors.New("element is already linked")

	// ErrNoConflict is returned when resolving an element without a recorded manual conflict
	ErrNoConflict = errors.New("element has no unresolved sync conflict")

	// ErrReservedTag is returned for a user tag a provider would read back as a sync label
	ErrReservedTag = errors.New("tag uses a reserved sync label prefix")
)

// AdapterError is a provider failure carrying the HTTP status when there was one
type AdapterError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *AdapterError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Provider, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// ClassifyError maps an error into the sync error taxonomy
func ClassifyError(err error) SyncErrorType {
	if err == nil {
		return ""
	}

	var adapterErr *AdapterError
	if errors.As(err, &adapterErr) && adapterErr.StatusCode > 0 {
		switch {
		case adapterErr.StatusCode == 401 || (adapterErr.StatusCode == 403 && !isRateLimitMessage(adapterErr.Message)):
			return SyncErrorTypeAuth
		case adapterErr.StatusCode == 429 || adapterErr.StatusCode == 403:
			return SyncErrorTypeRateLimit
		case adapterErr.StatusCode >= 500:
			return SyncErrorTypeServer
		case adapterErr.StatusCode >= 400:
			return SyncErrorTypeClient
		}
	}

	if errors.Is(err, ErrItemNotFound) {
		return SyncErrorTypeClient
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return SyncErrorTypeNetwork
	}

	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return SyncErrorTypeNetwork
	}

	return SyncErrorTypeUnknown
}

func isRateLimitMessage(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "rate limit")
}
