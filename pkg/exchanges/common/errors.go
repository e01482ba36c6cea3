package common

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies exchange failures for retry decisions.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindRejected: the request was understood and refused (bad quantity,
	// insufficient margin). Retrying with different parameters may succeed.
	KindRejected
	// KindTransient: rate limits, server errors, timeouts.
	KindTransient
	// KindAuth: key, signature or permission problems.
	KindAuth
	// KindFatal: anything else the caller should not retry.
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindRejected:
		return "rejected"
	case KindTransient:
		return "transient"
	case KindAuth:
		return "auth"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// APIError is returned for every non-2xx exchange response.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Code    int // exchange error code, e.g. -2019
	Message string
	Kind    ErrorKind
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance %s %s status %d code %d (%s): %s", e.Method, e.Path, e.Status, e.Code, e.Kind, e.Message)
}

// NewAPIError builds an APIError and classifies it.
func NewAPIError(method, path string, status, code int, msg string) *APIError {
	return &APIError{
		Method:  method,
		Path:    path,
		Status:  status,
		Code:    code,
		Message: msg,
		Kind:    Classify(status, code),
	}
}

// Classify maps an HTTP status and exchange code to an ErrorKind.
func Classify(status, code int) ErrorKind {
	switch {
	case code == -2014 || code == -2015 || code == -1022:
		return KindAuth
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests || status == http.StatusTeapot:
		return KindTransient
	case status >= 500:
		return KindTransient
	case status == http.StatusBadRequest:
		return KindRejected
	case status >= 400:
		return KindFatal
	default:
		return KindUnknown
	}
}

// KindOf extracts the classification of any error.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	return KindUnknown
}

// IsRejected reports whether err is a validation-class rejection.
func IsRejected(err error) bool { return KindOf(err) == KindRejected }

// IsTransient reports whether err may succeed on a plain retry.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }
