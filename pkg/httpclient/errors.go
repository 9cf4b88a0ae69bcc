package httpclient

import "fmt"

// UpstreamHTTPError is returned by RunInstance for any completed response with status >= 400.
type UpstreamHTTPError struct {
	Method     string
	URL        string
	Status     int
	StatusText string
	Body       any    // parsed JSON or raw text
	Raw        string // raw body
}

func (e *UpstreamHTTPError) Error() string {
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.URL, e.Status, e.StatusText, e.Raw)
}

// Temporary reports whether the upstream signalled a transient condition.
func (e *UpstreamHTTPError) Temporary() bool {
	return e.Status == 429 || e.Status >= 500
}

// ResponseParseError is returned when JSON decoding fails and Config.ThrowOnParseError is set.
type ResponseParseError struct {
	URL    string
	Status int
	Raw    string
	Err    error
}

func (e *ResponseParseError) Error() string {
	return fmt.Sprintf("parse response from %s (status %d): %v", e.URL, e.Status, e.Err)
}

func (e *ResponseParseError) Unwrap() error { return e.Err }
