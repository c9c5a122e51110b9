package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrHTTPStatus         = errors.New("non-success HTTP status") // Matched by every *HTTPError
	ErrCancelled          = errors.New("operation cancelled")     // Run-scoped cancellation observed
	ErrEmptyAlbum         = errors.New("no item links found on album page")
	ErrNoDownloadLink     = errors.New("no download link found on item page")
	ErrUnexpectedContent  = errors.New("downloaded content is not audio")
	ErrEmptyTransfer      = errors.New("transfer produced zero bytes")
	ErrRobotsDisallowed   = errors.New("disallowed by robots.txt")
	ErrTargetLocked       = errors.New("target directory is locked by another run")
	ErrRunInProgress      = errors.New("engine already has an active run")
	ErrParsing            = errors.New("parsing error")    // Wraps HTML / URL parsing errors
	ErrFilesystem         = errors.New("filesystem error") // Wraps os errors
	ErrDatabase           = errors.New("database error")   // Wraps badger errors
	ErrRequestCreation    = errors.New("failed to create HTTP request")
	ErrResponseBodyRead   = errors.New("failed to read response body")
	ErrMarkdownConversion = errors.New("failed to convert HTML to markdown")
	ErrConfigValidation   = errors.New("configuration validation error")
)

// HTTPError reports a response whose status was outside the 2xx range.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for %s", e.StatusCode, e.URL)
}

// Is lets errors.Is(err, ErrHTTPStatus) match any HTTPError.
func (e *HTTPError) Is(target error) bool {
	return target == ErrHTTPStatus
}

// NewHTTPError builds an *HTTPError for the given status and URL.
func NewHTTPError(status int, url string) error {
	return &HTTPError{StatusCode: status, URL: url}
}

// IsCancellation reports whether err stems from run cancellation rather than a genuine failure.
// Deadline errors are not cancellation: a timed-out transfer is a retryable failure.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// WrapErrorf wraps err with a sentinel and a formatted message. Returns nil if err is nil.
func WrapErrorf(sentinel error, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", sentinel, fmt.Sprintf(format, args...), err)
}

// CategorizeError maps an error to a predefined category string for logging and the run ledger.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch code := httpErr.StatusCode; {
		case code == 401, code == 403, code == 404, code == 429:
			return fmt.Sprintf("HTTP_%d", code)
		case code >= 500:
			return "HTTP_5xx"
		case code >= 400:
			return "HTTP_4xx"
		default:
			return "HTTP_OtherStatus"
		}
	}

	switch {
	case errors.Is(err, ErrCancelled):
		return "System_Cancelled"
	case errors.Is(err, ErrEmptyAlbum):
		return "Resolve_EmptyAlbum"
	case errors.Is(err, ErrNoDownloadLink):
		return "Resolve_NoDownloadLink"
	case errors.Is(err, ErrUnexpectedContent):
		return "Content_NotAudio"
	case errors.Is(err, ErrEmptyTransfer):
		return "Content_Empty"
	case errors.Is(err, ErrRobotsDisallowed):
		return "Policy_Robots"
	case errors.Is(err, ErrRunInProgress):
		return "Resource_RunInProgress"
	case errors.Is(err, ErrTargetLocked):
		return "Resource_TargetLocked"
	case errors.Is(err, ErrParsing):
		errMsg := err.Error()
		if strings.Contains(errMsg, "URL") {
			return "Content_ParsingURL"
		}
		if strings.Contains(errMsg, "HTML") {
			return "Content_ParsingHTML"
		}
		return "Content_ParsingOther"
	case errors.Is(err, ErrMarkdownConversion):
		return "Content_Markdown"
	case errors.Is(err, ErrFilesystem):
		if errors.Is(err, os.ErrPermission) {
			return "Filesystem_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "Filesystem_NotExist"
		}
		if errors.Is(err, os.ErrExist) {
			return "Filesystem_Exist"
		}
		return "Filesystem_Other"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	}

	// --- Fallback checks for common underlying error types/strings ---

	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "System_ContextDeadlineExceeded"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network_Timeout"
	}

	lowerErrMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lowerErrMsg, "timeout"):
		return "Network_TimeoutGeneric"
	case strings.Contains(lowerErrMsg, "connection refused"):
		return "Network_ConnectionRefused"
	case strings.Contains(lowerErrMsg, "no such host"):
		return "Network_DNSLookup"
	case strings.Contains(lowerErrMsg, "tls") || strings.Contains(lowerErrMsg, "certificate"):
		return "Network_TLS"
	case strings.Contains(lowerErrMsg, "reset by peer"):
		return "Network_ConnectionReset"
	case strings.Contains(lowerErrMsg, "unexpected eof"):
		return "Network_UnexpectedEOF"
	}

	return "Unknown"
}
