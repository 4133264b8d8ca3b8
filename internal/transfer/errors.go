package transfer

import (
	"errors"
	"fmt"
	"strings"
)

// UntrustedURLError is returned when a URL host is not on the allow list.
// It is a validation failure: nothing was fetched and nothing is retried.
type UntrustedURLError struct {
	URL     string   // The rejected URL
	Allowed []string // Domains that would have been accepted
}

func (e *UntrustedURLError) Error() string {
	return fmt.Sprintf("untrusted url %s: only downloads from %s are allowed", e.URL, strings.Join(e.Allowed, ", "))
}

// StatusError represents a non-2xx HTTP response from the model host.
type StatusError struct {
	URL        string // URL that was requested (after redirects)
	StatusCode int    // HTTP status code
	Status     string // Status line as returned by the server
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %s for url %s", e.Status, e.URL)
}

// NetworkError represents connection failures, timeouts and broken streams.
type NetworkError struct {
	Operation string // The operation that failed (e.g., "request", "read_body")
	URL       string // URL being fetched
	Err       error  // Underlying error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s for %s: %v", e.Operation, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// FilesystemError represents failures creating directories or writing,
// removing and renaming model files.
type FilesystemError struct {
	Op   string // mkdir, create, write, remove, rename, stat
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("filesystem error during %s of %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// ErrFileMissing is reported when a stream completed but the partial file is
// gone before it could be committed.
var ErrFileMissing = errors.New("download completed but file missing")

// Kind classifies an error into a bounded label for metrics and logs.
func Kind(err error) string {
	var (
		untrusted *UntrustedURLError
		status    *StatusError
		network   *NetworkError
		fs        *FilesystemError
	)

	switch {
	case err == nil:
		return "none"
	case errors.As(err, &untrusted):
		return "untrusted"
	case errors.As(err, &status):
		return "status"
	case errors.As(err, &network):
		return "network"
	case errors.Is(err, ErrFileMissing):
		return "missing"
	case errors.As(err, &fs):
		return "filesystem"
	default:
		return "unknown"
	}
}
