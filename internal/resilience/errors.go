package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// TransientError marks a failure worth retrying. The OCR and LLM clients
// wrap rate limits and server-side errors in it so the retry policy can
// tell them apart from permanent failures like a malformed invoice.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as retryable, keeping the HTTP status when
// the failure came from an API response.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransient reports whether err is safe to retry: an explicit
// TransientError, a network timeout, a dropped connection, or a DNS
// failure reaching an OCR/LLM endpoint.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// SDK layers sometimes flatten the cause into the message, losing the
	// typed chain. Recognize the few shapes the HTTPS clients produce.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"i/o timeout",
		"tls handshake timeout",
		"no such host",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus reports whether an HTTP status from the Anthropic
// or Mistral APIs indicates a retryable condition.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
