// Package errors defines the error types returned by the Bluesky client.
package errors

import (
	"fmt"
	"strings"
)

// scoped prefixes msg with what and, when set, the operation it happened in.
func scoped(what, op, msg string) string {
	if op == "" {
		return what + ": " + msg
	}
	return what + " in " + op + ": " + msg
}

// ConfigError indicates a problem with the client configuration or with the
// parameters of a single request.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "invalid config: " + e.Message
	}
	return "invalid config: " + e.Field + ": " + e.Message
}

// AuthError indicates that the server rejected the credentials, or that both
// a token refresh and the fallback login failed. Body holds the raw response
// when the failure came from the server.
type AuthError struct {
	StatusCode int
	Message    string
	Body       string
	Err        error
}

func (e *AuthError) Error() string {
	var b strings.Builder
	b.WriteString("authentication failed")
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, "; server said %q", e.Body)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// StateError indicates an operation was attempted when the session is not
// usable, for example after Logout.
type StateError struct {
	Operation string
	Message   string
}

func (e *StateError) Error() string {
	return scoped("session unusable", e.Operation, e.Message)
}

// RequestError indicates the request never produced an HTTP response.
type RequestError struct {
	Operation string
	URL       string
	Message   string
	Err       error
}

func (e *RequestError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.URL != "" {
		msg = e.URL + ": " + msg
	}
	return scoped("transport failure", e.Operation, msg)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// ParseError indicates a response body, session file or image that could
// not be decoded.
type ParseError struct {
	Operation string
	Message   string
	Err       error
}

func (e *ParseError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg += ": " + e.Err.Error()
		}
	}
	return scoped("decode failed", e.Operation, msg)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// APIError represents a non-2xx response from an XRPC endpoint.
type APIError struct {
	// StatusCode is the HTTP status code
	StatusCode int
	// ErrorCode is the "error" field of the XRPC error envelope (if present)
	ErrorCode string
	// Message is the "message" field of the XRPC error envelope (if present)
	Message string
	// Body is the raw response body, unmodified
	Body string
}

func (e *APIError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("xrpc error (status %d, code %s): %s", e.StatusCode, e.ErrorCode, e.Message)
	}
	if e.Message != "" {
		return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, e.Body)
}

// StoreError indicates the session file could not be read, written or removed.
type StoreError struct {
	// Op is the file operation that failed ("load", "save", "remove")
	Op string
	// Path is the session file path
	Path string
	// Err contains the underlying error
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("session store error during %s of %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// ImageTooLargeError is returned when an image cannot be reduced below the
// upload ceiling without going past the minimum quality floor.
type ImageTooLargeError struct {
	// Path is the source image
	Path string
	// Size is the smallest encoding reached, in bytes
	Size int
	// Limit is the ceiling that had to be met, in bytes
	Limit int
}

func (e *ImageTooLargeError) Error() string {
	return fmt.Sprintf("image %s too large: smallest encoding is %d bytes, limit is %d bytes", e.Path, e.Size, e.Limit)
}

// FacetResolutionError records a mention whose handle could not be resolved
// to a DID. It is logged and the mention is dropped; posting continues.
type FacetResolutionError struct {
	// Handle is the mentioned handle, without the leading '@'
	Handle string
	// Err is the resolution failure
	Err error
}

func (e *FacetResolutionError) Error() string {
	return fmt.Sprintf("could not resolve mention @%s: %v", e.Handle, e.Err)
}

func (e *FacetResolutionError) Unwrap() error {
	return e.Err
}
