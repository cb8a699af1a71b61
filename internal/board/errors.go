package board

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates a post id with no stored record.
var ErrNotFound = errors.New("post not found")

// FetchError is an HTTP-level fetch failure carrying the status code. The
// retry policy treats 429 and 5xx as transient; other statuses surface
// immediately.
type FetchError struct {
	URL        string
	StatusCode int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
}

// ParseError marks a post page the parser could not make sense of. It is
// fatal for that post only; the crawl logs it and moves on.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "parse post: " + e.Reason
}

// ConfigurationError is fatal at startup. The process must refuse to run
// rather than degrade silently (missing credentials, dimension mismatch).
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration: " + e.Reason
}
