package alphavantage

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingAPIKey is returned by SearchSymbols when the client was built
// without a credential.
var ErrMissingAPIKey = errors.New("alphavantage: API key is not configured")

// Reserved response fields the upstream uses to report failure inside an
// HTTP 200 body.
const (
	FieldErrorMessage = "Error Message"
	FieldNote         = "Note"
)

// UpstreamError is a business error reported inside an otherwise successful
// response. Error returns the upstream text unchanged.
type UpstreamError struct {
	Field   string
	Message string
}

func (e *UpstreamError) Error() string { return e.Message }

// IsRateLimit reports whether the upstream signalled throttling.
func (e *UpstreamError) IsRateLimit() bool { return e.Field == FieldNote }

// ParseError reports a missing envelope, a missing field or a value that
// could not be converted.
type ParseError struct {
	Op    string
	Field string
	Value string
}

func (e *ParseError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: missing field %q", e.Op, e.Field)
	}
	return fmt.Sprintf("%s: invalid value %q for field %q", e.Op, e.Value, e.Field)
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status code: %d", e.Code)
	}
	return fmt.Sprintf("unexpected status code: %d: %s", e.Code, e.Body)
}

// Describe turns a search failure into text suitable for an inline message.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrMissingAPIKey) {
		return "Search is unavailable because no API key is configured."
	}
	var up *UpstreamError
	if errors.As(err, &up) && up.IsRateLimit() {
		return "The market data rate limit was reached. Please wait a minute and try again."
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "call frequency"), strings.Contains(msg, "requests per"):
		return "The market data rate limit was reached. Please wait a minute and try again."
	case strings.Contains(msg, "api key"), strings.Contains(msg, "apikey"):
		return "Search is unavailable because no API key is configured."
	case strings.Contains(msg, "invalid"):
		return "No matching symbol was found. Check the ticker and try again."
	default:
		return "Search failed. Please try again later."
	}
}
