package policyfetcher

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure patterns. Detail-carrying variants
// implement Is so callers can match with errors.Is.
var (
	// ErrInvalidURI is returned when a policy URI cannot be parsed or
	// violates a scheme invariant (missing host, empty filename).
	ErrInvalidURI = errors.New("invalid policy URI")

	// ErrUnsupportedScheme is returned for URI schemes outside
	// file, http, https and registry.
	ErrUnsupportedScheme = errors.New("unsupported URI scheme")

	// ErrStoreIO is returned when the local store cannot be prepared.
	ErrStoreIO = errors.New("store I/O error")

	// ErrFetchFailed is returned when a dispatched fetcher fails.
	ErrFetchFailed = errors.New("fetch failed")
)

// UnsupportedSchemeError reports the scheme that was rejected.
type UnsupportedSchemeError struct {
	Scheme string
}

func (e *UnsupportedSchemeError) Error() string {
	return fmt.Sprintf("unknown scheme: %s", e.Scheme)
}

// Is allows errors.Is(err, ErrUnsupportedScheme).
func (e *UnsupportedSchemeError) Is(target error) bool {
	return target == ErrUnsupportedScheme
}

// StoreIOError reports a failed filesystem operation on the store.
type StoreIOError struct {
	Path string
	Err  error
}

func (e *StoreIOError) Error() string {
	return fmt.Sprintf("store I/O error on %s: %v", e.Path, e.Err)
}

func (e *StoreIOError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is(err, ErrStoreIO).
func (e *StoreIOError) Is(target error) bool {
	return target == ErrStoreIO
}

// FetchError wraps a transport or auth failure from a fetcher. The
// cause is opaque to callers; the URL identifies the failed request.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("cannot fetch policy %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is(err, ErrFetchFailed).
func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}
