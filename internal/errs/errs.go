// Package errs defines the closed error taxonomy shared by every webmirror
// component. Values are explicit results, not exceptions: components return
// *Error instead of panicking or relying on sentinel string matching, the
// same way the bridge package classifies daemon-connection failures by type
// rather than message text.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the closed set of error categories named in the spec's
// error-handling design. It is a sum type over string, not an open-ended
// dictionary of codes.
type Kind string

const (
	// Transport
	KindNetwork    Kind = "network"
	KindTimeout    Kind = "timeout"
	KindHTTPStatus Kind = "http_status"

	// Integrity
	KindCacheCorrupt      Kind = "cache_corrupt"
	KindChecksumMismatch  Kind = "checksum_mismatch"
	KindFileMissing       Kind = "file_missing"

	// Capacity
	KindCacheFull      Kind = "cache_full"
	KindDiskFull       Kind = "disk_full"
	KindTooManySessions Kind = "too_many_sessions"

	// Policy
	KindCircuitOpen Kind = "circuit_open"
	KindRateLimited Kind = "rate_limited"
	KindNotRetryable Kind = "not_retryable"

	// Parse
	KindHTMLParse    Kind = "html_parse"
	KindCSSParse     Kind = "css_parse"
	KindURLMalformed Kind = "url_malformed"

	// Session
	KindSessionNotFound       Kind = "session_not_found"
	KindSessionNotRecoverable Kind = "session_not_recoverable"
	KindSessionExpired        Kind = "session_expired"
	KindSessionTimeout        Kind = "session_timeout"

	// Fatal
	KindCancelled         Kind = "cancelled"
	KindInternalInvariant Kind = "internal_invariant"
)

// Error is the concrete error value every component returns. NetworkKind
// further classifies KindNetwork (reset, refused, dns, unreachable,
// redirects); HTTPCode carries the response code for KindHTTPStatus.
type Error struct {
	Kind       Kind
	NetworkKind string
	HTTPCode   int
	Domain     string
	Msg        string
	Wrapped    error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindHTTPStatus:
		return fmt.Sprintf("%s: http status %d: %s", e.Kind, e.HTTPCode, e.Msg)
	case e.Kind == KindNetwork && e.NetworkKind != "":
		return fmt.Sprintf("%s(%s): %s", e.Kind, e.NetworkKind, e.Msg)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Wrapped }

// New builds an *Error of the given kind with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an *Error of the given kind wrapping an underlying error.
func Wrap(kind Kind, msg string, wrapped error) *Error {
	return &Error{Kind: kind, Msg: msg, Wrapped: wrapped}
}

// Network builds a KindNetwork error with a sub-kind (reset, refused, dns,
// unreachable, redirects).
func Network(subKind, msg string) *Error {
	return &Error{Kind: KindNetwork, NetworkKind: subKind, Msg: msg}
}

// HTTPStatus builds a KindHTTPStatus error carrying the response code.
func HTTPStatus(code int) *Error {
	return &Error{Kind: KindHTTPStatus, HTTPCode: code, Msg: fmt.Sprintf("unexpected status %d", code)}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// AsError extracts the *Error from err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// Retryable reports whether the error kind is one the Retry Manager should
// absorb: transient network codes or a retryable HTTP status, per spec §4.3.
func Retryable(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	switch e.Kind {
	case KindNetwork, KindTimeout:
		return true
	case KindHTTPStatus:
		switch e.HTTPCode {
		case 408, 429, 500, 502, 503, 504, 520, 521, 522, 523, 524:
			return true
		}
	}
	return false
}
